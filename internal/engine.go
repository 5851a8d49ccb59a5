package internal

import (
	"errors"
	"fmt"
)

// LoadOrBuild implements the cache run policy: a present, readable cache
// built from the current starting refs is used as-is; an absent or stale
// cache forces a rebuild whose result is written back; a corrupt or
// version-incompatible cache aborts the run. With no cache path, or with
// compaction disabled, the index is always built fresh and never persisted
// (only the compact representation has a cache encoding).
func LoadOrBuild(r *Repository, cachePath string, opts BuildOptions) (*Index, error) {
	if cachePath == "" || !opts.Compact {
		if cachePath != "" {
			opts.logf("compaction disabled, ignoring cache %s", cachePath)
		}
		return BuildIndex(r, opts)
	}

	tips, fellBack, err := r.tips(opts.HeadOnly)
	if err != nil {
		return nil, err
	}
	if fellBack {
		opts.logf("no branch or remote tips, walking from HEAD")
	}

	cached, err := LoadCache(cachePath)
	switch {
	case err == nil:
		staleErr := cached.Validate(tips, opts.HeadOnly)
		if staleErr == nil {
			opts.logf("loaded cached index: %d commits, %d blobs", cached.Commits(), cached.Contents.Blobs())
			return cached, nil
		}
		opts.logf("%s: %v, rebuilding", cachePath, staleErr)
	case errors.Is(err, ErrCacheNotFound):
		// First run against this cache path.
	default:
		return nil, err
	}

	idx, err := buildFromTips(r, tips, opts)
	if err != nil {
		return nil, err
	}
	if err := SaveCache(cachePath, idx); err != nil {
		return nil, fmt.Errorf("persist index: %w", err)
	}
	opts.logf("wrote index cache to %s", cachePath)
	return idx, nil
}
