package internal

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
)

// ContentSet holds every file-content blob transitively reachable from one
// tree, keyed by blob hash. The value is one path the blob was seen at,
// kept for diagnostics; matching itself is content-only.
type ContentSet map[plumbing.Hash]string

// FlattenTree expands a tree into the ContentSet of its file entries,
// descending subtrees with an explicit stack. Submodule links are skipped:
// their hash points outside this object store. Symlink entries count as
// files, since git stores them as blobs holding the target path.
func FlattenTree(r *Repository, treeHash plumbing.Hash) (ContentSet, error) {
	type frame struct {
		hash   plumbing.Hash
		prefix string
	}

	out := make(ContentSet)
	seen := make(map[plumbing.Hash]struct{})
	stack := []frame{{hash: treeHash}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if _, ok := seen[f.hash]; ok {
			continue
		}
		seen[f.hash] = struct{}{}

		tree, err := r.repo.TreeObject(f.hash)
		if err != nil {
			return nil, fmt.Errorf("read tree %s: %w", f.hash, err)
		}

		for _, entry := range tree.Entries {
			switch entry.Mode {
			case filemode.Dir:
				stack = append(stack, frame{
					hash:   entry.Hash,
					prefix: path.Join(f.prefix, entry.Name),
				})
			case filemode.Regular, filemode.Executable, filemode.Symlink:
				if _, ok := out[entry.Hash]; !ok {
					out[entry.Hash] = path.Join(f.prefix, entry.Name)
				}
			}
		}
	}

	return out, nil
}

// FlattenDir reads every file under root and hashes it with the object
// store's blob identity, so the result is directly comparable against an
// index built from commit trees. Symlinks hash their target path string,
// matching how git stores them; version-control metadata directories are
// excluded, as is anything matched by an optional ignore file at root
// (see IgnoreFilename).
func FlattenDir(root string) (ContentSet, error) {
	out := make(ContentSet)

	ignore, err := NewIgnoreMatcher(root)
	if err != nil {
		return nil, fmt.Errorf("read ignore file: %w", err)
	}

	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p == root {
				return nil
			}
			if d.Name() == ".git" || ignore.MatchDir(p) {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if rel == IgnoreFilename || ignore.Match(p) {
			return nil
		}

		var data []byte
		switch {
		case d.Type()&fs.ModeSymlink != 0:
			target, err := os.Readlink(p)
			if err != nil {
				return fmt.Errorf("read symlink %s: %w", p, err)
			}
			data = []byte(target)
		case d.Type().IsRegular():
			data, err = os.ReadFile(p)
			if err != nil {
				return fmt.Errorf("read file %s: %w", p, err)
			}
		default:
			return nil
		}

		h := plumbing.ComputeHash(plumbing.BlobObject, data)
		if _, ok := out[h]; !ok {
			out[h] = filepath.ToSlash(rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk query tree: %w", err)
	}

	return out, nil
}
