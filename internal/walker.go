package internal

import (
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ForEachCommit visits every commit reachable from tips exactly once,
// breadth-first from the tips towards the roots, and hands each commit to fn
// together with its visit sequence number. Lower sequence numbers are closer
// to the tips, which the scorer uses as its recency order.
//
// The frontier is explicit and deduplicated by hash before enqueueing, so
// shared ancestors behind diamond merges are expanded once. An unreadable
// commit aborts the walk: an index built over corrupt history cannot be
// trusted.
func ForEachCommit(r *Repository, tips []plumbing.Hash, fn func(c *object.Commit, seq int) error) error {
	frontier := make([]plumbing.Hash, 0, len(tips))
	enqueued := make(map[plumbing.Hash]struct{}, len(tips))

	for _, tip := range tips {
		if _, ok := enqueued[tip]; ok {
			continue
		}
		enqueued[tip] = struct{}{}
		frontier = append(frontier, tip)
	}

	seq := 0
	for len(frontier) > 0 {
		h := frontier[0]
		frontier = frontier[1:]

		commit, err := r.repo.CommitObject(h)
		if err != nil {
			return fmt.Errorf("read commit %s: %w", h, err)
		}

		if err := fn(commit, seq); err != nil {
			return err
		}
		seq++

		for _, parent := range commit.ParentHashes {
			if _, ok := enqueued[parent]; ok {
				continue
			}
			enqueued[parent] = struct{}{}
			frontier = append(frontier, parent)
		}
	}

	return nil
}
