package internal

import "errors"

var (
	// ErrNoMatch is a valid reconstruction outcome, not a failure: no commit
	// shares enough content with the query tree.
	ErrNoMatch = errors.New("no matching commit")

	ErrEmptyQuery    = errors.New("query tree contains no files")
	ErrMalformedID   = errors.New("malformed object id")
	ErrNoStartingRef = errors.New("no starting reference")

	ErrCacheNotFound = errors.New("cache file not found")
	ErrCacheCorrupt  = errors.New("cache file corrupt or incompatible")
	ErrCacheStale    = errors.New("cache built from different starting refs")
)
