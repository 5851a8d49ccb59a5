package internal

import (
	"github.com/go-git/go-git/v5/plumbing"
)

// Policy holds the reconstruction knobs the design leaves open: the minimum
// score below which a best guess is reported as no match at all.
type Policy struct {
	// MinScore is the fraction of query files that must be found in a
	// candidate's snapshot for it to be reported. Zero accepts any overlap.
	MinScore float64
}

// Match is a successful reconstruction outcome.
type Match struct {
	Commit plumbing.Hash
	// Score is the fraction of query blobs found in the commit's snapshot.
	Score float64
	Hits  int
}

// Reconstruct selects the commit whose snapshot best covers the query
// content set. Ties on score prefer the snapshot with fewer total blobs
// (tighter match), then the more topologically recent commit, then the
// lexicographically smaller hash, making the selection fully deterministic.
//
// An empty query is an input error: there is nothing to match against. A
// query sharing no content with any commit yields ErrNoMatch, which is a
// result, not a failure.
func Reconstruct(idx *Index, query ContentSet, pol Policy) (Match, error) {
	if len(query) == 0 {
		return Match{}, ErrEmptyQuery
	}

	hits := make(map[plumbing.Hash]int)
	for blob := range query {
		for _, commit := range idx.Contents.Lookup(blob) {
			hits[commit]++
		}
	}
	if len(hits) == 0 {
		return Match{}, ErrNoMatch
	}

	var best Match
	haveBest := false
	for commit, n := range hits {
		candidate := Match{
			Commit: commit,
			Score:  float64(n) / float64(len(query)),
			Hits:   n,
		}
		if !haveBest || better(idx, candidate, best) {
			best = candidate
			haveBest = true
		}
	}

	if best.Score < pol.MinScore {
		return Match{}, ErrNoMatch
	}
	return best, nil
}

func better(idx *Index, a, b Match) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	am, bm := idx.Meta[a.Commit], idx.Meta[b.Commit]
	if am.Blobs != bm.Blobs {
		return am.Blobs < bm.Blobs
	}
	if am.Seq != bm.Seq {
		return am.Seq < bm.Seq
	}
	return hashLess(a.Commit, b.Commit)
}
