package internal

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/xxh3"
)

// Cache file layout, all little-endian:
//
//	magic "PRVC" | version u16 | flags u8 | tip count u32 | tips 20B each
//	| checksum 16B (xxh3-128 of compressed payload) | payload len u64
//	| zstd payload
//
// The payload serializes the compact representation: the intern table, a
// table of unique posting lists (so lists shared by Dedup stay shared on
// disk and after load), the blob → list bindings, and the commit metadata.
const (
	cacheMagic   = "PRVC"
	cacheVersion = 1

	cacheFlagHeadOnly = 1 << 0
)

// SaveCache writes the index to path. Only the compact representation has
// a cache encoding; an uncompacted index is a build-time debugging knob and
// is never persisted.
func SaveCache(path string, idx *Index) error {
	compact, ok := idx.Contents.(*CompactIndex)
	if !ok {
		return errors.New("only a compacted index can be cached")
	}

	payload, err := encodePayload(compact, idx.Meta)
	if err != nil {
		return err
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return fmt.Errorf("init compressor: %w", err)
	}
	compressed := enc.EncodeAll(payload, nil)
	enc.Close()

	sum := xxh3.Hash128(compressed)

	var buf bytes.Buffer
	buf.WriteString(cacheMagic)
	writeU16(&buf, cacheVersion)
	var flags uint8
	if idx.HeadOnly {
		flags |= cacheFlagHeadOnly
	}
	buf.WriteByte(flags)
	writeU32(&buf, uint32(len(idx.Tips)))
	for _, tip := range idx.Tips {
		buf.Write(tip[:])
	}
	writeU64(&buf, sum.Hi)
	writeU64(&buf, sum.Lo)
	writeU64(&buf, uint64(len(compressed)))
	buf.Write(compressed)

	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	return nil
}

// LoadCache reads an index back from path. It fails with ErrCacheNotFound
// when the file is absent and ErrCacheCorrupt for anything unreadable,
// truncated, checksum-mismatched, or written by a different format version.
// Staleness against the current starting refs is the caller's check, via
// Index.Tips.
func LoadCache(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrCacheNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("read cache: %w", err)
	}

	rd := &reader{data: data}
	if string(rd.bytes(4)) != cacheMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrCacheCorrupt)
	}
	if v := rd.u16(); v != cacheVersion {
		return nil, fmt.Errorf("%w: format version %d, want %d", ErrCacheCorrupt, v, cacheVersion)
	}
	flags := rd.u8()

	tipCount := rd.u32()
	if rd.failed || int(tipCount)*20 > len(data) {
		return nil, fmt.Errorf("%w: bad tip count", ErrCacheCorrupt)
	}
	tips := make([]plumbing.Hash, tipCount)
	for i := range tips {
		copy(tips[i][:], rd.bytes(20))
	}

	var sum xxh3.Uint128
	sum.Hi = rd.u64()
	sum.Lo = rd.u64()
	compressed := rd.bytes(int(rd.u64()))
	if rd.failed {
		return nil, fmt.Errorf("%w: truncated header", ErrCacheCorrupt)
	}
	if xxh3.Hash128(compressed) != sum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCacheCorrupt)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("init decompressor: %w", err)
	}
	defer dec.Close()
	payload, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheCorrupt, err)
	}

	compact, meta, err := decodePayload(payload)
	if err != nil {
		return nil, err
	}

	return &Index{
		Contents: compact,
		Meta:     meta,
		Tips:     tips,
		HeadOnly: flags&cacheFlagHeadOnly != 0,
	}, nil
}

// Validate checks a loaded index against the traversal this run would
// perform. The tip set is recorded at build time precisely so cached
// indexes are never trusted across ref changes: any mismatch is
// ErrCacheStale, which callers treat as "rebuild", not as a failure.
func (x *Index) Validate(tips []plumbing.Hash, headOnly bool) error {
	if x.HeadOnly != headOnly {
		return fmt.Errorf("%w: traversal policy changed", ErrCacheStale)
	}
	if len(x.Tips) != len(tips) {
		return fmt.Errorf("%w: %d tips now, %d at build", ErrCacheStale, len(tips), len(x.Tips))
	}
	for i := range tips {
		if x.Tips[i] != tips[i] {
			return fmt.Errorf("%w: tip %s not in cached set", ErrCacheStale, tips[i])
		}
	}
	return nil
}

func encodePayload(x *CompactIndex, meta map[plumbing.Hash]CommitMeta) ([]byte, error) {
	var buf bytes.Buffer

	writeU32(&buf, uint32(len(x.table.hashes)))
	for _, h := range x.table.hashes {
		buf.Write(h[:])
	}

	blobs := make([]uint32, 0, len(x.postings))
	for b := range x.postings {
		blobs = append(blobs, b)
	}
	sort.Slice(blobs, func(i, j int) bool { return blobs[i] < blobs[j] })

	// Unique posting lists first, then blob → list bindings, so lists kept
	// shared by Dedup stay shared in the file and after load.
	type listRef struct {
		blob uint32
		list uint32
	}
	listIdx := make(map[xxh3.Uint128][]uint32)
	var lists [][]uint32
	refs := make([]listRef, 0, len(blobs))
	for _, b := range blobs {
		list := x.postings[b]
		sum := sumList(list)
		idx := uint32(0)
		found := false
		for _, candidate := range listIdx[sum] {
			if listsEqual(lists[candidate], list) {
				idx = candidate
				found = true
				break
			}
		}
		if !found {
			idx = uint32(len(lists))
			lists = append(lists, list)
			listIdx[sum] = append(listIdx[sum], idx)
		}
		refs = append(refs, listRef{blob: b, list: idx})
	}

	writeU32(&buf, uint32(len(lists)))
	for _, list := range lists {
		writeU32(&buf, uint32(len(list)))
		for _, id := range list {
			writeU32(&buf, id)
		}
	}
	writeU32(&buf, uint32(len(refs)))
	for _, ref := range refs {
		writeU32(&buf, ref.blob)
		writeU32(&buf, ref.list)
	}

	writeU32(&buf, uint32(len(meta)))
	commits := make([]plumbing.Hash, 0, len(meta))
	for c := range meta {
		commits = append(commits, c)
	}
	sortHashes(commits)
	for _, c := range commits {
		id, ok := x.table.id(c)
		if !ok {
			return nil, fmt.Errorf("commit %s missing from intern table", c)
		}
		writeU32(&buf, id)
		writeU32(&buf, uint32(meta[c].Blobs))
		writeU32(&buf, uint32(meta[c].Seq))
	}

	return buf.Bytes(), nil
}

func decodePayload(payload []byte) (*CompactIndex, map[plumbing.Hash]CommitMeta, error) {
	rd := &reader{data: payload}
	x := NewCompactIndex()

	tableLen := rd.u32()
	if rd.failed || int(tableLen)*20 > len(payload) {
		return nil, nil, fmt.Errorf("%w: bad intern table length", ErrCacheCorrupt)
	}
	for i := uint32(0); i < tableLen; i++ {
		var h plumbing.Hash
		copy(h[:], rd.bytes(20))
		if rd.failed {
			return nil, nil, fmt.Errorf("%w: truncated intern table", ErrCacheCorrupt)
		}
		x.table.intern(h)
	}

	listCount := rd.u32()
	if rd.failed || int(listCount) > len(payload) {
		return nil, nil, fmt.Errorf("%w: bad posting list table", ErrCacheCorrupt)
	}
	lists := make([][]uint32, listCount)
	for i := range lists {
		listLen := rd.u32()
		if rd.failed || int(listLen)*4 > len(payload) {
			return nil, nil, fmt.Errorf("%w: bad posting list length", ErrCacheCorrupt)
		}
		list := make([]uint32, listLen)
		for j := range list {
			list[j] = rd.u32()
		}
		lists[i] = list
	}

	refCount := rd.u32()
	for i := uint32(0); i < refCount; i++ {
		blob := rd.u32()
		listID := rd.u32()
		if rd.failed || int(listID) >= len(lists) {
			return nil, nil, fmt.Errorf("%w: bad posting reference", ErrCacheCorrupt)
		}
		list := lists[listID]
		x.postings[blob] = list
		x.refs += len(list)
	}
	x.shared = int(refCount) - len(lists)

	metaCount := rd.u32()
	if rd.failed || int(metaCount)*12 > len(payload) {
		return nil, nil, fmt.Errorf("%w: bad commit metadata count", ErrCacheCorrupt)
	}
	meta := make(map[plumbing.Hash]CommitMeta, metaCount)
	for i := uint32(0); i < metaCount; i++ {
		id := rd.u32()
		blobs := rd.u32()
		seq := rd.u32()
		if rd.failed || int(id) >= len(x.table.hashes) {
			return nil, nil, fmt.Errorf("%w: bad commit metadata", ErrCacheCorrupt)
		}
		meta[x.table.hash(id)] = CommitMeta{Blobs: int(blobs), Seq: int(seq)}
	}
	if rd.failed {
		return nil, nil, fmt.Errorf("%w: truncated payload", ErrCacheCorrupt)
	}

	return x, meta, nil
}

type reader struct {
	data   []byte
	off    int
	failed bool
}

// readerScratch is what bytes hands back once the reader has failed. Its
// size covers the widest fixed-width read (a hash); n itself comes from the
// file, so it must never reach an allocation.
var readerScratch [20]byte

func (r *reader) bytes(n int) []byte {
	if r.failed || n < 0 || n > len(r.data)-r.off {
		r.failed = true
		return readerScratch[:]
	}
	out := r.data[r.off : r.off+n]
	r.off += n
	return out
}

func (r *reader) u8() uint8   { return r.bytes(1)[0] }
func (r *reader) u16() uint16 { return binary.LittleEndian.Uint16(r.bytes(2)) }
func (r *reader) u32() uint32 { return binary.LittleEndian.Uint32(r.bytes(4)) }
func (r *reader) u64() uint64 { return binary.LittleEndian.Uint64(r.bytes(8)) }

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}
