package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/storage/filesystem"
)

// Repository is a read-only handle on the object store being indexed. It
// never mutates repository state.
type Repository struct {
	repo *git.Repository
	path string
}

// OpenRepository opens the repository at path, accepting both working-copy
// layouts (with a .git directory) and bare repositories.
func OpenRepository(path string) (*Repository, error) {
	gitDir := filepath.Join(path, git.GitDirName)
	if _, err := os.Stat(gitDir); err != nil {
		gitDir = path
	}
	if _, err := os.Stat(gitDir); err != nil {
		return nil, fmt.Errorf("repository not found: %s", path)
	}

	fs := osfs.New(gitDir)
	storage := filesystem.NewStorage(fs, cache.NewObjectLRUDefault())

	repo, err := git.Open(storage, nil)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}

	return &Repository{repo: repo, path: path}, nil
}

func newRepository(repo *git.Repository) *Repository {
	return &Repository{repo: repo}
}

// Tips resolves the starting references for a graph walk. With headOnly set
// only the current head counts; otherwise every local branch and remote tip
// does, falling back to the head when the repository has neither.
func (r *Repository) Tips(headOnly bool) ([]plumbing.Hash, error) {
	tips, _, err := r.tips(headOnly)
	return tips, err
}

// tips additionally reports whether a full traversal had to fall back to
// the head for lack of branch or remote tips, so callers can surface it.
func (r *Repository) tips(headOnly bool) ([]plumbing.Hash, bool, error) {
	if headOnly {
		head, err := r.repo.Head()
		if err != nil {
			return nil, false, fmt.Errorf("%w: resolve HEAD: %v", ErrNoStartingRef, err)
		}
		return []plumbing.Hash{head.Hash()}, false, nil
	}

	seen := make(map[plumbing.Hash]struct{})
	refs, err := r.repo.References()
	if err != nil {
		return nil, false, fmt.Errorf("list references: %w", err)
	}
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		if ref.Type() != plumbing.HashReference {
			return nil
		}
		name := ref.Name()
		if name.IsBranch() || name.IsRemote() {
			seen[ref.Hash()] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("iterate references: %w", err)
	}

	fellBack := false
	if len(seen) == 0 {
		head, err := r.repo.Head()
		if err != nil {
			return nil, false, fmt.Errorf("%w: no branch or remote tips and no HEAD", ErrNoStartingRef)
		}
		seen[head.Hash()] = struct{}{}
		fellBack = true
	}

	tips := make([]plumbing.Hash, 0, len(seen))
	for h := range seen {
		tips = append(tips, h)
	}
	sortHashes(tips)
	return tips, fellBack, nil
}

func sortHashes(hs []plumbing.Hash) {
	sort.Slice(hs, func(i, j int) bool {
		return hashLess(hs[i], hs[j])
	})
}

func hashLess(a, b plumbing.Hash) bool {
	for k := 0; k < len(a); k++ {
		if a[k] != b[k] {
			return a[k] < b[k]
		}
	}
	return false
}
