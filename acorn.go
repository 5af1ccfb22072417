// Package acorn is an embedded, transactional page-store storage engine:
// a write-ahead log backed by fixed-size segment files, with redo/undo
// crash recovery and checkpoint-driven log compaction.
package acorn

import (
	"go.uber.org/zap"

	"github.com/mattnlane/acorn/internal/engine"
)

// PageAddress identifies a page within its segment's lifetime.
type PageAddress = engine.PageAddress

// WalIndex identifies the WAL item that last produced a page's content.
type WalIndex = engine.WalIndex

// Engine is Acorn's top-level handle: one WAL, one physical segment
// store, recovered and ready for reads and transactions.
type Engine struct {
	inner  *engine.Engine
	folder *DiskFolder
}

func toEngineConfig(cfg Config) engine.Config {
	cfg = cfg.Normalize()
	return engine.Config{
		PageSize:             cfg.PageSize,
		BigEndian:            cfg.BigEndian,
		MaxNumOpenSegments:   cfg.MaxNumOpenSegments,
		MaxWalGenerationSize: cfg.MaxWalGenerationSize,
		CheckpointPeriod:     cfg.CheckpointPeriod,
		CheckpointPoolSize:   cfg.CheckpointPoolSize,
		MaxPageCacheEntries:  cfg.MaxPageCacheEntries,
	}
}

// Create initializes a brand-new database under dir.
func Create(dir string, cfg Config, logger *zap.Logger) (*Engine, error) {
	folder, err := NewDiskFolder(dir)
	if err != nil {
		return nil, err
	}
	inner, err := engine.Create(folder, toEngineConfig(cfg), logger)
	if err != nil {
		return nil, newError("create", KindFile, err)
	}
	return &Engine{inner: inner, folder: folder}, nil
}

// Open reopens an existing database under dir and runs crash recovery
// before returning, so every successfully returned *Engine is immediately
// safe to read and write against.
func Open(dir string, cfg Config, logger *zap.Logger) (*Engine, error) {
	folder, err := NewDiskFolder(dir)
	if err != nil {
		return nil, err
	}
	inner, err := engine.Open(folder, toEngineConfig(cfg), logger)
	if err != nil {
		return nil, wrapErr("open", KindFile, err)
	}
	if err := inner.Recover(); err != nil {
		inner.Close()
		return nil, wrapErr("open", KindCorrupted, err)
	}
	return &Engine{inner: inner, folder: folder}, nil
}

// Close shuts down the engine's background checkpoint loop and releases
// every open file descriptor.
func (e *Engine) Close() error {
	return e.inner.Close()
}

// CreateSegment initializes a new segment file for segmentNum. Deciding
// which segment numbers are free is the caller's responsibility (freelist
// management is out of scope); this must be called before the first
// Read/Write against a given segment number.
func (e *Engine) CreateSegment(segmentNum uint32) error {
	if err := e.inner.CreateSegment(segmentNum); err != nil {
		return newError("create segment", KindFile, err)
	}
	return nil
}

// Begin starts a new transaction and returns its id.
func (e *Engine) Begin() uint64 {
	return e.inner.Begin()
}

// WriteRequest is one page mutation within an open transaction.
type WriteRequest struct {
	TransactionID uint64
	PageAddress   PageAddress
	OffsetInPage  uint16
	From          []byte
	To            []byte
}

// Write logs req and applies it to the in-memory page table. The write is
// not guaranteed durable until Commit (and eventually FlushDirtyPages)
// have run.
func (e *Engine) Write(req WriteRequest) (WalIndex, error) {
	idx, err := e.inner.Write(engine.WriteRequest{
		TransactionID: req.TransactionID,
		PageAddress:   req.PageAddress,
		OffsetInPage:  req.OffsetInPage,
		From:          req.From,
		To:            req.To,
	})
	if err != nil {
		return WalIndex{}, wrapErr("write", KindFile, err)
	}
	return idx, nil
}

// Commit durably records transactionID's commit in the WAL.
func (e *Engine) Commit(transactionID uint64) (WalIndex, error) {
	idx, err := e.inner.Commit(transactionID)
	if err != nil {
		return WalIndex{}, wrapErr("commit", KindFile, err)
	}
	return idx, nil
}

// Undo reverts transactionID's writes from its most recent logged item
// onward, writing each write's From bytes back to its page; older writes of
// the transaction are not reverted (see wal.Wal.Undo).
func (e *Engine) Undo(transactionID uint64) error {
	if err := e.inner.Undo(transactionID); err != nil {
		return wrapErr("undo", KindFile, err)
	}
	return nil
}

// Read returns pageAddr's current content, or nil if the page has never
// been written.
func (e *Engine) Read(pageAddr PageAddress) ([]byte, error) {
	buf, err := e.inner.Read(pageAddr)
	if err != nil {
		return nil, wrapErr("read", KindFile, err)
	}
	return buf, nil
}

// FlushDirtyPages persists every dirty page to physical storage and tells
// the WAL it may drop their dirty-page tracking. Acorn has no background
// buffer-cache flusher of its own; callers that care about bounding
// recovery-redo volume should call this periodically.
func (e *Engine) FlushDirtyPages() error {
	if err := e.inner.FlushDirtyPages(); err != nil {
		return wrapErr("flush", KindFile, err)
	}
	return nil
}

// Checkpoint runs an explicit WAL checkpoint: snapshot current State,
// rotate to a new generation, delete any generation no longer needed. On
// success it also records the new generation number in the database's
// advisory CURRENT pointer file.
func (e *Engine) Checkpoint() error {
	if err := e.inner.Checkpoint(); err != nil {
		return wrapErr("checkpoint", KindFile, err)
	}
	if err := e.folder.WriteCheckpointPointer(e.inner.CurrentGeneration()); err != nil {
		return err
	}
	return nil
}

// CheckpointGeneration returns the generation number recorded by the most
// recent Checkpoint's CURRENT pointer write, or ok=false if no checkpoint
// has run yet. It's advisory: callers doing recovery should rely on Open's
// own generation scan, not this pointer.
func (e *Engine) CheckpointGeneration() (genNum uint64, ok bool, err error) {
	genNum, ok, err = e.folder.ReadCheckpointPointer()
	if err != nil {
		return 0, false, wrapErr("checkpoint generation", KindFile, err)
	}
	return genNum, ok, nil
}
