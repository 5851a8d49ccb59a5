package internal

import (
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
)

// fixture builds throwaway histories in memory for the engine tests.
type fixture struct {
	t    *testing.T
	fs   billy.Filesystem
	git  *git.Repository
	wt   *git.Worktree
	repo *Repository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	fs := memfs.New()
	repo, err := git.Init(memory.NewStorage(), fs)
	if err != nil {
		t.Fatalf("init repo: %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("get worktree: %v", err)
	}

	return &fixture{t: t, fs: fs, git: repo, wt: wt, repo: newRepository(repo)}
}

func (f *fixture) write(path, content string) {
	f.t.Helper()
	if err := util.WriteFile(f.fs, path, []byte(content), 0644); err != nil {
		f.t.Fatalf("write %s: %v", path, err)
	}
	if _, err := f.wt.Add(path); err != nil {
		f.t.Fatalf("stage %s: %v", path, err)
	}
}

func (f *fixture) remove(path string) {
	f.t.Helper()
	if _, err := f.wt.Remove(path); err != nil {
		f.t.Fatalf("remove %s: %v", path, err)
	}
}

func (f *fixture) commit(msg string, parents ...plumbing.Hash) plumbing.Hash {
	f.t.Helper()
	opts := &git.CommitOptions{
		Author: &object.Signature{
			Name:  "fixture",
			Email: "fixture@local",
			When:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		AllowEmptyCommits: true,
	}
	if len(parents) > 0 {
		opts.Parents = parents
	}
	h, err := f.wt.Commit(msg, opts)
	if err != nil {
		f.t.Fatalf("commit %q: %v", msg, err)
	}
	return h
}

func (f *fixture) branch(name string, create bool) {
	f.t.Helper()
	err := f.wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(name),
		Create: create,
	})
	if err != nil {
		f.t.Fatalf("checkout %s: %v", name, err)
	}
}

func (f *fixture) build(opts BuildOptions) *Index {
	f.t.Helper()
	idx, err := BuildIndex(f.repo, opts)
	if err != nil {
		f.t.Fatalf("build index: %v", err)
	}
	return idx
}

func blobHash(content string) plumbing.Hash {
	return plumbing.ComputeHash(plumbing.BlobObject, []byte(content))
}

func containsHash(hs []plumbing.Hash, want plumbing.Hash) bool {
	for _, h := range hs {
		if h == want {
			return true
		}
	}
	return false
}

// historyFixture is the two-commit history the lookup scenarios share:
// c0 introduces one.txt ("one") and keep.txt, c1 replaces one.txt's
// content with "two".
func historyFixture(t *testing.T) (*fixture, plumbing.Hash, plumbing.Hash) {
	t.Helper()
	f := newFixture(t)

	f.write("one.txt", "one")
	f.write("keep.txt", "kept content")
	c0 := f.commit("introduce one")

	f.write("one.txt", "two")
	c1 := f.commit("replace one with two")

	return f, c0, c1
}
