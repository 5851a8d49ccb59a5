package internal

import (
	"context"
	"fmt"
	"io"
	"runtime"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"golang.org/x/sync/errgroup"
)

const buildProgressRate = 250

// CommitMeta carries the per-commit facts the scorer needs: how many
// distinct blobs the snapshot holds (tighter snapshots win ties) and the
// walk sequence number (lower is more topologically recent).
type CommitMeta struct {
	Blobs int
	Seq   int
}

// Index is the finished build artifact: the inverted content index plus
// per-commit metadata, and the starting tips it was built from so a cache
// of it can be checked for staleness.
type Index struct {
	Contents ContentIndex
	Meta     map[plumbing.Hash]CommitMeta

	Tips     []plumbing.Hash
	HeadOnly bool
}

// Commits reports how many commits contributed to the index.
func (x *Index) Commits() int { return len(x.Meta) }

// BuildOptions control one index construction run.
type BuildOptions struct {
	HeadOnly bool
	Compact  bool
	Workers  int
	// Progress receives human-oriented build diagnostics; nil silences them.
	Progress io.Writer
}

func (o BuildOptions) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.NumCPU()
}

func (o BuildOptions) logf(format string, args ...any) {
	if o.Progress != nil {
		fmt.Fprintf(o.Progress, format+"\n", args...)
	}
}

type snapshotJob struct {
	commit plumbing.Hash
	tree   plumbing.Hash
	seq    int
	set    ContentSet
}

// BuildIndex walks every commit reachable from the repository's starting
// tips and populates the inverted index from the flattened snapshots. Tree
// flattening runs on a worker pool; a single collector performs all index
// insertions, so posting lists need no locking, and because insertion is
// commutative and idempotent the result is independent of worker
// interleaving.
func BuildIndex(r *Repository, opts BuildOptions) (*Index, error) {
	tips, fellBack, err := r.tips(opts.HeadOnly)
	if err != nil {
		return nil, err
	}
	if fellBack {
		opts.logf("no branch or remote tips, walking from HEAD")
	}
	return buildFromTips(r, tips, opts)
}

func buildFromTips(r *Repository, tips []plumbing.Hash, opts BuildOptions) (*Index, error) {
	var contents ContentIndex
	if opts.Compact {
		contents = NewCompactIndex()
	} else {
		contents = NewMapIndex()
	}

	idx := &Index{
		Contents: contents,
		Meta:     make(map[plumbing.Hash]CommitMeta),
		Tips:     tips,
		HeadOnly: opts.HeadOnly,
	}

	workers := opts.workers()
	g, ctx := errgroup.WithContext(context.Background())
	jobs := make(chan *snapshotJob, workers)
	results := make(chan *snapshotJob, workers)

	g.Go(func() error {
		defer close(jobs)
		return ForEachCommit(r, tips, func(c *object.Commit, seq int) error {
			job := &snapshotJob{commit: c.Hash, tree: c.TreeHash, seq: seq}
			select {
			case jobs <- job:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	})

	var flatteners errgroup.Group
	for i := 0; i < workers; i++ {
		flatteners.Go(func() error {
			for job := range jobs {
				set, err := FlattenTree(r, job.tree)
				if err != nil {
					return err
				}
				job.set = set
				select {
				case results <- job:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		defer close(results)
		return flatteners.Wait()
	})

	collected := make(chan struct{})
	go func() {
		defer close(collected)
		count := 0
		for job := range results {
			for blob := range job.set {
				contents.Insert(blob, job.commit)
			}
			idx.Meta[job.commit] = CommitMeta{Blobs: len(job.set), Seq: job.seq}
			count++
			if count%buildProgressRate == 0 {
				opts.logf("indexed %d commits, %d blobs so far...", count, contents.Blobs())
			}
		}
	}()

	buildErr := g.Wait()
	<-collected
	if buildErr != nil {
		return nil, buildErr
	}

	if compact, ok := contents.(*CompactIndex); ok {
		compact.Dedup()
		opts.logf("compacted index: %d of %d posting lists shared", compact.SharedLists(), compact.Blobs())
	}

	opts.logf("READY: indexed %d commits, %d blobs, %d postings",
		idx.Commits(), contents.Blobs(), contents.Postings())
	return idx, nil
}
