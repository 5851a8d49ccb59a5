package internal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
)

func cacheFile(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "index.cache")
}

func TestCacheRoundTrip(t *testing.T) {
	f, c0, c1 := historyFixture(t)
	idx := f.build(BuildOptions{Compact: true})

	path := cacheFile(t)
	if err := SaveCache(path, idx); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadCache(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	for _, content := range []string{"one", "two", "kept content", "never stored"} {
		h := blobHash(content)
		want := fmt.Sprint(idx.Contents.Lookup(h))
		got := fmt.Sprint(loaded.Contents.Lookup(h))
		if got != want {
			t.Errorf("blob %q: loaded lookup %s, original %s", content, got, want)
		}
	}

	if loaded.Commits() != idx.Commits() {
		t.Errorf("loaded %d commits, want %d", loaded.Commits(), idx.Commits())
	}
	for _, h := range []plumbing.Hash{c0, c1} {
		if loaded.Meta[h] != idx.Meta[h] {
			t.Errorf("meta for %s: loaded %v, original %v", h, loaded.Meta[h], idx.Meta[h])
		}
	}
	if !equalTips(loaded.Tips, idx.Tips) {
		t.Errorf("loaded tips %v, want %v", loaded.Tips, idx.Tips)
	}
	if loaded.HeadOnly != idx.HeadOnly {
		t.Errorf("loaded headOnly %v, want %v", loaded.HeadOnly, idx.HeadOnly)
	}
}

func TestCachePreservesSharedLists(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 4; i++ {
		f.write(fmt.Sprintf("file%d.txt", i), fmt.Sprintf("content %d", i))
	}
	f.commit("all files at once")

	idx := f.build(BuildOptions{Compact: true})
	path := cacheFile(t)
	if err := SaveCache(path, idx); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadCache(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	// All four blobs live in exactly the same single commit, so their
	// posting lists dedup to one shared list on both sides of the trip.
	orig := idx.Contents.(*CompactIndex)
	got := loaded.Contents.(*CompactIndex)
	if got.SharedLists() != orig.SharedLists() {
		t.Errorf("shared lists after load = %d, want %d", got.SharedLists(), orig.SharedLists())
	}
}

func TestCacheNotFound(t *testing.T) {
	_, err := LoadCache(filepath.Join(t.TempDir(), "absent.cache"))
	if !errors.Is(err, ErrCacheNotFound) {
		t.Errorf("err = %v, want ErrCacheNotFound", err)
	}
}

func TestCacheCorruptDetected(t *testing.T) {
	f, _, _ := historyFixture(t)
	idx := f.build(BuildOptions{Compact: true})
	path := cacheFile(t)
	if err := SaveCache(path, idx); err != nil {
		t.Fatalf("save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read cache: %v", err)
	}

	corrupt := func(name string, mutate func([]byte) []byte) {
		t.Run(name, func(t *testing.T) {
			mutated := mutate(append([]byte(nil), data...))
			p := filepath.Join(t.TempDir(), "bad.cache")
			if err := os.WriteFile(p, mutated, 0644); err != nil {
				t.Fatalf("write: %v", err)
			}
			if _, err := LoadCache(p); !errors.Is(err, ErrCacheCorrupt) {
				t.Errorf("err = %v, want ErrCacheCorrupt", err)
			}
		})
	}

	corrupt("bad magic", func(b []byte) []byte {
		b[0] = 'X'
		return b
	})
	corrupt("future version", func(b []byte) []byte {
		binary.LittleEndian.PutUint16(b[4:], cacheVersion+1)
		return b
	})
	corrupt("flipped payload byte", func(b []byte) []byte {
		b[len(b)-1] ^= 0xFF
		return b
	})
	corrupt("truncated", func(b []byte) []byte {
		return b[:len(b)/2]
	})
	corrupt("huge tip count", func(b []byte) []byte {
		binary.LittleEndian.PutUint32(b[7:], ^uint32(0))
		return b
	})
	corrupt("oversized payload length", func(b []byte) []byte {
		// The payload length field sits after the magic, version, flags,
		// tip table and checksum. All ones converts to a negative int and
		// must surface as corruption, not an allocation attempt.
		tipCount := int(binary.LittleEndian.Uint32(b[7:]))
		off := 11 + 20*tipCount + 16
		binary.LittleEndian.PutUint64(b[off:], ^uint64(0))
		return b
	})
	corrupt("empty", func(b []byte) []byte {
		return nil
	})
}

func TestCacheValidate(t *testing.T) {
	f, _, _ := historyFixture(t)
	idx := f.build(BuildOptions{Compact: true})

	tips, err := f.repo.Tips(false)
	if err != nil {
		t.Fatalf("tips: %v", err)
	}
	if err := idx.Validate(tips, false); err != nil {
		t.Errorf("validate against own tips: %v", err)
	}
	if err := idx.Validate(tips, true); !errors.Is(err, ErrCacheStale) {
		t.Errorf("policy change: err = %v, want ErrCacheStale", err)
	}

	f.write("more.txt", "more")
	f.commit("advance tip")
	moved, err := f.repo.Tips(false)
	if err != nil {
		t.Fatalf("tips: %v", err)
	}
	if err := idx.Validate(moved, false); !errors.Is(err, ErrCacheStale) {
		t.Errorf("moved tip: err = %v, want ErrCacheStale", err)
	}
}

func TestCacheRejectsUncompacted(t *testing.T) {
	f, _, _ := historyFixture(t)
	idx := f.build(BuildOptions{Compact: false})

	if err := SaveCache(cacheFile(t), idx); err == nil {
		t.Error("saving an uncompacted index succeeded, want error")
	}
}

func equalTips(a, b []plumbing.Hash) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
