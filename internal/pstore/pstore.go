// Package pstore is Acorn's physical storage layer: it resolves a
// PageAddress to a segment file, opening and caching segment descriptors
// behind a bound on how many may be open at once, and delegates the actual
// page read/write to internal/segment.
package pstore

import (
	"fmt"
	"sync"

	"github.com/mattnlane/acorn/internal/cache"
	"github.com/mattnlane/acorn/internal/segment"
)

// SegmentStore opens the segment file backing one segment number, the
// pstore-specific slice of the host Folder capability.
type SegmentStore interface {
	OpenSegmentFile(segmentNum uint32, create bool) (segment.RandomAccessFile, error)
}

// WalIndex is re-exported from segment for callers that only need pstore.
type WalIndex = segment.WalIndex

// PageAddress identifies a page within its segment's lifetime.
type PageAddress struct {
	SegmentNum uint32
	PageNum    uint16
}

// ReadOp is the input to Read.
type ReadOp struct {
	PageAddress PageAddress
	Buf         []byte
}

// WriteOp is the input to Write.
type WriteOp struct {
	PageAddress PageAddress
	Buf         []byte
	WalIndex    WalIndex
}

// Config bounds the descriptor cache size and the segment file format.
type Config struct {
	MaxNumOpenSegments int
	SegmentConfig      segment.Config
}

// DefaultMaxNumOpenSegments bounds the descriptor cache absent explicit
// configuration.
const DefaultMaxNumOpenSegments = 128

// Storage resolves page reads and writes to the segment file that backs
// them, keeping at most Config.MaxNumOpenSegments segment descriptors open
// at a time.
type Storage struct {
	store SegmentStore
	cfg   Config

	mu    sync.Mutex // guards descriptors + replacer, per spec.md §5
	descs map[uint32]*segment.File
	repl  *cache.Replacer[uint32]
}

// New constructs a Storage backed by store.
func New(store SegmentStore, cfg Config) *Storage {
	if cfg.MaxNumOpenSegments <= 0 {
		cfg.MaxNumOpenSegments = DefaultMaxNumOpenSegments
	}
	return &Storage{
		store: store,
		cfg:   cfg,
		descs: make(map[uint32]*segment.File, cfg.MaxNumOpenSegments),
		repl:  cache.New[uint32](cfg.MaxNumOpenSegments),
	}
}

// CreateSegment initializes a brand-new segment file for segmentNum and
// admits its descriptor into the cache. Segment allocation itself (freelist
// / block allocation) is out of scope; whatever upstream layer decides a
// new segment number is needed calls this before the first Read/Write
// against it.
func (s *Storage) CreateSegment(segmentNum uint32) error {
	raw, err := s.store.OpenSegmentFile(segmentNum, true)
	if err != nil {
		return fmt.Errorf("pstore: create segment %d: %w", segmentNum, err)
	}
	f, err := segment.Create(raw, s.cfg.SegmentConfig)
	if err != nil {
		return fmt.Errorf("pstore: initialize segment %d: %w", segmentNum, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.admitLocked(segmentNum, f)
	return nil
}

// admitLocked asks the replacer for a victim on every admission and, if it
// yields one, closes and drops that descriptor; it then stores f as
// segmentNum's descriptor. Caller must hold s.mu exclusively.
func (s *Storage) admitLocked(segmentNum uint32, f *segment.File) {
	if evicted, ok := s.repl.Reclaim(); ok {
		if old, ok := s.descs[evicted]; ok {
			old.Close()
			delete(s.descs, evicted)
		}
	}
	s.descs[segmentNum] = f
	s.repl.Access(segmentNum)
}

// Read reads the page at op.PageAddress into op.Buf, returning the WalIndex
// it was last written at (ok=false if the page has never been written).
func (s *Storage) Read(op ReadOp) (idx WalIndex, ok bool, err error) {
	return useSegment(s, op.PageAddress.SegmentNum, func(f *segment.File) (WalIndex, bool, error) {
		return f.Read(op.PageAddress.PageNum, op.Buf)
	})
}

// Write persists op.Buf to op.PageAddress, tagging it with op.WalIndex.
func (s *Storage) Write(op WriteOp) error {
	_, _, err := useSegment(s, op.PageAddress.SegmentNum, func(f *segment.File) (WalIndex, bool, error) {
		return WalIndex{}, false, f.Write(op.PageAddress.PageNum, op.Buf, op.WalIndex)
	})
	return err
}

// useSegment resolves segmentNum to an open descriptor, then runs fn against
// it. cache.Replacer isn't concurrency-safe on its own (callers serialize
// access with their own lock), so both the cache-hit Access and the
// open-and-admit path run under the same exclusive lock rather than a
// shared one — a hit still only does a map lookup plus O(1) list surgery,
// not I/O, so holding the lock for it is cheap.
func useSegment[T any](s *Storage, segmentNum uint32, fn func(*segment.File) (T, bool, error)) (T, bool, error) {
	s.mu.Lock()
	if f, ok := s.descs[segmentNum]; ok {
		s.repl.Access(segmentNum)
		s.mu.Unlock()
		return fn(f)
	}

	raw, err := s.store.OpenSegmentFile(segmentNum, false)
	if err != nil {
		s.mu.Unlock()
		var zero T
		return zero, false, fmt.Errorf("pstore: open segment %d: %w", segmentNum, err)
	}
	opened, err := segment.Open(raw, s.cfg.SegmentConfig)
	if err != nil {
		s.mu.Unlock()
		var zero T
		return zero, false, fmt.Errorf("pstore: validate segment %d: %w", segmentNum, err)
	}

	s.admitLocked(segmentNum, opened)
	s.mu.Unlock()

	return fn(opened)
}

// Close closes every currently open segment descriptor.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for num, f := range s.descs {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.descs, num)
	}
	return firstErr
}
