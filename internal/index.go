package internal

import (
	"encoding/binary"
	"sort"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/zeebo/xxh3"
)

// ContentIndex is the inverted content → commits index. Insert is
// idempotent; Lookup returns the owning commits sorted by hash, or nil for
// unknown content, and never fails. Both representations below must return
// byte-identical Lookup results; the compact one only changes storage.
type ContentIndex interface {
	Insert(blob, commit plumbing.Hash)
	Lookup(blob plumbing.Hash) []plumbing.Hash
	Blobs() int
	Postings() int
}

// MapIndex is the uncompacted representation: hash-keyed maps all the way
// down. Cheaper to build, larger at rest. Kept as a measurement and
// debugging knob.
type MapIndex struct {
	postings map[plumbing.Hash]map[plumbing.Hash]struct{}
	refs     int
}

func NewMapIndex() *MapIndex {
	return &MapIndex{postings: make(map[plumbing.Hash]map[plumbing.Hash]struct{})}
}

func (x *MapIndex) Insert(blob, commit plumbing.Hash) {
	set, ok := x.postings[blob]
	if !ok {
		set = make(map[plumbing.Hash]struct{})
		x.postings[blob] = set
	}
	if _, ok := set[commit]; !ok {
		set[commit] = struct{}{}
		x.refs++
	}
}

func (x *MapIndex) Lookup(blob plumbing.Hash) []plumbing.Hash {
	set, ok := x.postings[blob]
	if !ok {
		return nil
	}
	out := make([]plumbing.Hash, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	sortHashes(out)
	return out
}

func (x *MapIndex) Blobs() int    { return len(x.postings) }
func (x *MapIndex) Postings() int { return x.refs }

// interner is the single bidirectional table mapping every observed
// ObjectId to a dense integer and back.
type interner struct {
	hashes []plumbing.Hash
	ids    map[plumbing.Hash]uint32
}

func newInterner() *interner {
	return &interner{ids: make(map[plumbing.Hash]uint32)}
}

func (in *interner) intern(h plumbing.Hash) uint32 {
	if id, ok := in.ids[h]; ok {
		return id
	}
	id := uint32(len(in.hashes))
	in.hashes = append(in.hashes, h)
	in.ids[h] = id
	return id
}

func (in *interner) id(h plumbing.Hash) (uint32, bool) {
	id, ok := in.ids[h]
	return id, ok
}

func (in *interner) hash(id uint32) plumbing.Hash {
	return in.hashes[id]
}

// CompactIndex stores posting lists as sorted unique dense-integer
// sequences. After a build, Dedup shares the backing of structurally
// identical lists across blobs, which is where merge-heavy histories win
// big: most blobs live in the same long run of commits.
type CompactIndex struct {
	table    *interner
	postings map[uint32][]uint32
	refs     int
	shared   int
}

func NewCompactIndex() *CompactIndex {
	return &CompactIndex{
		table:    newInterner(),
		postings: make(map[uint32][]uint32),
	}
}

func (x *CompactIndex) Insert(blob, commit plumbing.Hash) {
	b := x.table.intern(blob)
	c := x.table.intern(commit)

	list := x.postings[b]
	i := sort.Search(len(list), func(i int) bool { return list[i] >= c })
	if i < len(list) && list[i] == c {
		return
	}
	list = append(list, 0)
	copy(list[i+1:], list[i:])
	list[i] = c
	x.postings[b] = list
	x.refs++
}

func (x *CompactIndex) Lookup(blob plumbing.Hash) []plumbing.Hash {
	b, ok := x.table.id(blob)
	if !ok {
		return nil
	}
	list, ok := x.postings[b]
	if !ok {
		return nil
	}
	out := make([]plumbing.Hash, len(list))
	for i, id := range list {
		out[i] = x.table.hash(id)
	}
	sortHashes(out)
	return out
}

func (x *CompactIndex) Blobs() int    { return len(x.postings) }
func (x *CompactIndex) Postings() int { return x.refs }

// SharedLists reports how many posting lists point at another list's
// backing after Dedup.
func (x *CompactIndex) SharedLists() int { return x.shared }

// Dedup collapses structurally identical posting lists onto a single
// backing slice. Purely a storage change: Lookup results are unaffected.
func (x *CompactIndex) Dedup() {
	canonical := make(map[xxh3.Uint128][][]uint32)
	x.shared = 0

	blobs := make([]uint32, 0, len(x.postings))
	for b := range x.postings {
		blobs = append(blobs, b)
	}
	sort.Slice(blobs, func(i, j int) bool { return blobs[i] < blobs[j] })

	for _, b := range blobs {
		list := x.postings[b]
		sum := sumList(list)

		found := false
		for _, prior := range canonical[sum] {
			if listsEqual(prior, list) {
				x.postings[b] = prior
				x.shared++
				found = true
				break
			}
		}
		if !found {
			canonical[sum] = append(canonical[sum], list)
		}
	}
}

func sumList(list []uint32) xxh3.Uint128 {
	buf := make([]byte, 4*len(list))
	for i, v := range list {
		binary.LittleEndian.PutUint32(buf[4*i:], v)
	}
	return xxh3.Hash128(buf)
}

func listsEqual(a, b []uint32) bool {
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
