// Package engine is Acorn's recovery and transaction orchestrator: a thin
// coordinator that glues internal/wal's append/replay semantics to a page
// cache. The real document/record store's buffer cache is out of scope, so
// Engine carries a minimal in-memory page table purely so WAL replay and
// ordinary reads/writes have somewhere observable to land.
package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattnlane/acorn/internal/cache"
	"github.com/mattnlane/acorn/internal/pstore"
	"github.com/mattnlane/acorn/internal/segment"
	"github.com/mattnlane/acorn/internal/wal"
	"go.uber.org/zap"
)

// PageAddress identifies a page within its segment's lifetime.
type PageAddress = wal.PageAddress

// WalIndex identifies the WAL item that last produced a page's content.
type WalIndex = wal.WalIndex

// Store is everything Engine needs from the host Folder: the union of
// pstore's and wal's capability seams.
type Store interface {
	pstore.SegmentStore
	wal.GenerationStore
}

// Config bundles the tuning knobs for every layer Engine owns.
type Config struct {
	PageSize             uint16
	BigEndian            bool
	MaxNumOpenSegments   int
	MaxWalGenerationSize int64
	CheckpointPeriod     time.Duration
	CheckpointPoolSize   int
	MaxPageCacheEntries  int
}

func pstoreAddr(addr PageAddress) pstore.PageAddress {
	return pstore.PageAddress{SegmentNum: addr.SegmentNum, PageNum: addr.PageNum}
}

// DefaultMaxPageCacheEntries bounds the in-memory page table Engine uses in
// place of the out-of-scope buffer cache.
const DefaultMaxPageCacheEntries = 256

// Engine is the top-level coordinator: one WAL, one physical store, one
// page table, wired together.
type Engine struct {
	wal    *wal.Wal
	pstore *pstore.Storage
	pages  *pageTable
	logger *zap.Logger

	nextTxnID uint64
}

func configToWalConfig(cfg Config) wal.WalConfig {
	order := wal.LittleEndian
	if cfg.BigEndian {
		order = wal.BigEndian
	}
	return wal.WalConfig{
		FileConfig: wal.Config{
			PageSize:  cfg.PageSize,
			ByteOrder: order,
		},
		MaxGenerationSize:  cfg.MaxWalGenerationSize,
		CheckpointPeriod:   cfg.CheckpointPeriod,
		CheckpointPoolSize: cfg.CheckpointPoolSize,
	}
}

func configToPstoreConfig(cfg Config) pstore.Config {
	order := segment.LittleEndian
	if cfg.BigEndian {
		order = segment.BigEndian
	}
	return pstore.Config{
		MaxNumOpenSegments: cfg.MaxNumOpenSegments,
		SegmentConfig: segment.Config{
			PageSize:  cfg.PageSize,
			ByteOrder: order,
		},
	}
}

// Create initializes a brand-new engine: a fresh WAL (generation 0 plus an
// empty checkpoint) and an empty physical store.
func Create(store Store, cfg Config, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	w, err := wal.Create(store, configToWalConfig(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("engine: create wal: %w", err)
	}
	ps := pstore.New(store, configToPstoreConfig(cfg))
	maxPages := cfg.MaxPageCacheEntries
	if maxPages <= 0 {
		maxPages = DefaultMaxPageCacheEntries
	}
	return &Engine{
		wal:    w,
		pstore: ps,
		pages:  newPageTable(maxPages),
		logger: logger,
	}, nil
}

// Open reopens an existing engine's WAL and physical store without
// running recovery; call Recover separately.
func Open(store Store, cfg Config, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	w, err := wal.Open(store, configToWalConfig(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("engine: open wal: %w", err)
	}
	ps := pstore.New(store, configToPstoreConfig(cfg))
	maxPages := cfg.MaxPageCacheEntries
	if maxPages <= 0 {
		maxPages = DefaultMaxPageCacheEntries
	}
	return &Engine{
		wal:    w,
		pstore: ps,
		pages:  newPageTable(maxPages),
		logger: logger,
	}, nil
}

// Close shuts down the engine's WAL background tasks and physical store
// descriptors.
func (e *Engine) Close() error {
	walErr := e.wal.Close()
	psErr := e.pstore.Close()
	if walErr != nil {
		return walErr
	}
	return psErr
}

// Recover replays the WAL's current generation, applying every redo and
// undo PartialWriteOp to the in-memory page table, then simulates the
// external buffer cache's eventual flush by persisting every recovered
// page to physical storage and telling the WAL CacheDidFlush — so the
// engine is immediately consistent and a second Recover is a no-op.
func (e *Engine) Recover() error {
	err := e.wal.Recover(func(op wal.PartialWriteOp) error {
		e.pages.applyPartialWrite(op)
		return nil
	})
	if err != nil {
		return fmt.Errorf("engine: recover: %w", err)
	}
	return e.FlushDirtyPages()
}

// Begin allocates a fresh transaction id.
func (e *Engine) Begin() uint64 {
	return atomic.AddUint64(&e.nextTxnID, 1)
}

// WriteRequest is a client page mutation within an open transaction.
type WriteRequest struct {
	TransactionID uint64
	PageAddress   PageAddress
	OffsetInPage  uint16
	From          []byte
	To            []byte
}

// Write logs req to the WAL, then applies it to the in-memory page table
// (the "upstream, in-memory page update" step of spec.md §2's data flow).
func (e *Engine) Write(req WriteRequest) (WalIndex, error) {
	idx, err := e.wal.LogWrite(wal.WriteLog{
		TransactionID: req.TransactionID,
		PageAddress:   req.PageAddress,
		OffsetInPage:  req.OffsetInPage,
		From:          req.From,
		To:            req.To,
	})
	if err != nil {
		return WalIndex{}, err
	}
	e.pages.applyPartialWrite(wal.PartialWriteOp{
		Index:        idx,
		PageAddress:  req.PageAddress,
		OffsetInPage: req.OffsetInPage,
		To:           req.To,
	})
	return idx, nil
}

// Commit flushes transactionID's commit record to the WAL.
func (e *Engine) Commit(transactionID uint64) (WalIndex, error) {
	return e.wal.LogCommit(wal.CommitLog{TransactionID: transactionID})
}

// Undo reverts transactionID's writes as far back as wal.Wal.Undo scans,
// applying each compensation to the page table as the WAL emits it.
func (e *Engine) Undo(transactionID uint64) error {
	return e.wal.Undo([]uint64{transactionID}, func(op wal.PartialWriteOp) error {
		e.pages.applyPartialWrite(op)
		return nil
	})
}

// Read returns pageAddr's current content: a page-table hit if the page is
// cached, otherwise a read-through to physical storage.
func (e *Engine) Read(pageAddr PageAddress) ([]byte, error) {
	if buf, ok := e.pages.get(pageAddr); ok {
		return buf, nil
	}

	buf := make([]byte, segment.PAGE_BODY_SIZE)
	idx, ok, err := e.pstore.Read(pstore.ReadOp{PageAddress: pstoreAddr(pageAddr), Buf: buf})
	if err != nil {
		return nil, fmt.Errorf("engine: read %+v: %w", pageAddr, err)
	}
	if !ok {
		return nil, nil
	}
	e.pages.put(pageAddr, buf, idx, false)
	return buf, nil
}

// FlushDirtyPages persists every dirty page table entry to physical
// storage and signals the WAL that dirty_pages may be cleared. This is
// Engine's stand-in for the out-of-scope buffer cache's periodic flush.
func (e *Engine) FlushDirtyPages() error {
	dirty := e.pages.takeDirty()
	for _, entry := range dirty {
		if err := e.pstore.Write(pstore.WriteOp{
			PageAddress: pstoreAddr(entry.addr),
			Buf:         entry.buf,
			WalIndex:    entry.idx,
		}); err != nil {
			return fmt.Errorf("engine: flush page %+v: %w", entry.addr, err)
		}
	}
	e.wal.CacheDidFlush()
	return nil
}

// CreateSegment initializes a new segment file, delegating to pstore.
func (e *Engine) CreateSegment(segmentNum uint32) error {
	return e.pstore.CreateSegment(segmentNum)
}

// Checkpoint runs an explicit WAL checkpoint.
func (e *Engine) Checkpoint() error {
	return e.wal.Checkpoint()
}

// CurrentGeneration returns the WAL generation number currently being
// appended to, so a caller can record an advisory pointer to it.
func (e *Engine) CurrentGeneration() uint64 {
	return e.wal.CurrentGeneration()
}

// pageTableEntry is one cached page: its current content, the WalIndex
// that produced it, and whether it still needs to reach physical storage.
type pageTableEntry struct {
	addr  PageAddress
	buf   []byte
	idx   WalIndex
	dirty bool
}

// pageTable is Engine's in-memory page cache, admission-controlled by the
// same tri-queue replacer internal/pstore uses for segment descriptors —
// the spec's second instantiation of the cache replacer.
type pageTable struct {
	mu      sync.Mutex
	entries map[PageAddress]*pageTableEntry
	repl    *cache.Replacer[PageAddress]
}

func newPageTable(maxEntries int) *pageTable {
	return &pageTable{
		entries: make(map[PageAddress]*pageTableEntry, maxEntries),
		repl:    cache.New[PageAddress](maxEntries),
	}
}

func (pt *pageTable) get(addr PageAddress) ([]byte, bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	e, ok := pt.entries[addr]
	if !ok {
		return nil, false
	}
	pt.repl.Access(addr)
	out := make([]byte, len(e.buf))
	copy(out, e.buf)
	return out, true
}

func (pt *pageTable) put(addr PageAddress, buf []byte, idx WalIndex, dirty bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.admitLocked(addr, buf, idx, dirty)
}

func (pt *pageTable) admitLocked(addr PageAddress, buf []byte, idx WalIndex, dirty bool) {
	if _, exists := pt.entries[addr]; !exists {
		if evicted, ok := pt.repl.Reclaim(); ok {
			delete(pt.entries, evicted)
		}
	}
	stored := make([]byte, len(buf))
	copy(stored, buf)
	pt.entries[addr] = &pageTableEntry{addr: addr, buf: stored, idx: idx, dirty: dirty}
	pt.repl.Access(addr)
}

// applyPartialWrite lands a WAL-originated mutation (ordinary write, redo,
// or undo compensation) into the page table, marking the page dirty.
func (pt *pageTable) applyPartialWrite(op wal.PartialWriteOp) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	e, ok := pt.entries[op.PageAddress]
	if !ok {
		buf := make([]byte, segment.PAGE_BODY_SIZE)
		applyAt(buf, op.OffsetInPage, op.To)
		pt.admitLocked(op.PageAddress, buf, op.Index, true)
		return
	}
	applyAt(e.buf, op.OffsetInPage, op.To)
	e.idx = op.Index
	e.dirty = true
	pt.repl.Access(op.PageAddress)
}

func applyAt(buf []byte, offset uint16, data []byte) {
	end := int(offset) + len(data)
	if end > len(buf) {
		end = len(buf)
	}
	copy(buf[offset:end], data)
}

func (pt *pageTable) takeDirty() []pageTableEntry {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	var out []pageTableEntry
	for _, e := range pt.entries {
		if !e.dirty {
			continue
		}
		out = append(out, pageTableEntry{addr: e.addr, buf: append([]byte(nil), e.buf...), idx: e.idx})
		e.dirty = false
	}
	return out
}
