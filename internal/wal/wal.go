// Package wal implements Acorn's write-ahead log: durable append-only
// generations of tagged items, checkpoint rotation, and crash recovery.
//
// Every mutation a client wants durable goes through LogWrite, then
// LogCommit; LogWrite never fsyncs, while LogCommit (like Undo and
// Checkpoint) flushes the current generation. Between
// commits the WAL tracks which pages are dirty and which transactions are
// still open purely in memory (State), and snapshots that bookkeeping into
// a Checkpoint item whenever it rotates to a new generation file. Recover
// replays a single generation's items to rebuild State and to tell the
// caller which page mutations it needs to reapply (redo) or unwind (undo).
package wal

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// GenerationStore is the seam the WAL uses to materialize generation files,
// the wal-specific slice of the host Folder capability (folder.go at the
// module root implements the full Folder interface; testfolder.MemFolder
// stands in for it in tests).
type GenerationStore interface {
	OpenWalFile(genNum uint64, create bool) (BackingFile, error)
	IterWalFiles() ([]uint64, error)
	DeleteWalFile(genNum uint64) error
	ClearWalFiles() error
}

// WalConfig bundles the WAL's tuning knobs alongside the generation file
// format parameters (Config, defined in generation.go).
type WalConfig struct {
	FileConfig        Config
	MaxGenerationSize int64
	CheckpointPeriod  time.Duration
	CheckpointPoolSize int
}

// DefaultCheckpointPoolSize bounds how many checkpoint jobs may run
// concurrently; one is enough in practice since checkpoints themselves
// serialize on the generation lock, but the pool exists so a slow disk
// flush on one checkpoint doesn't stall the periodic timer from queuing
// the next.
const DefaultCheckpointPoolSize = 2

// WriteLog is the input to LogWrite: a page mutation made durable on
// behalf of an in-flight transaction.
type WriteLog struct {
	TransactionID uint64
	PageAddress   PageAddress
	OffsetInPage  uint16
	From          []byte
	To            []byte
}

// CommitLog is the input to LogCommit.
type CommitLog struct {
	TransactionID uint64
}

// PartialWriteOp is what Recover and Undo hand back to the caller for every
// page mutation that must be (re)applied to the runtime page cache.
type PartialWriteOp struct {
	Index        WalIndex
	PageAddress  PageAddress
	OffsetInPage uint16
	To           []byte
}

// PartialWriteHandler applies one PartialWriteOp to the runtime page cache.
type PartialWriteHandler func(PartialWriteOp) error

// ErrWalNotInitialized is returned by any operation that needs a current
// generation before one has been created or opened.
var ErrWalNotInitialized = fmt.Errorf("wal: not initialized")

// Wal is the write-ahead log for one Acorn database. All exported methods
// are safe for concurrent use.
type Wal struct {
	mu    sync.Mutex // the "generation lock": guards generations/current/state
	store GenerationStore
	cfg   WalConfig

	generations []uint64 // ascending generation numbers retained on disk
	current     *generationFile
	state       *state

	logger *zap.Logger

	cancel   context.CancelFunc
	eg       *errgroup.Group
	sem      chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// Create initializes a brand-new WAL: it discards any stale WAL files left
// in store, writes a fresh generation 0, and seeds it with an empty
// Checkpoint item.
func Create(store GenerationStore, cfg WalConfig, logger *zap.Logger) (*Wal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := store.ClearWalFiles(); err != nil {
		return nil, fmt.Errorf("wal: clear stale wal files: %w", err)
	}

	f, err := store.OpenWalFile(0, true)
	if err != nil {
		return nil, fmt.Errorf("wal: create generation 0: %w", err)
	}
	gen, err := createGeneration(f, 0, cfg.FileConfig)
	if err != nil {
		return nil, err
	}

	w := &Wal{
		store:       store,
		cfg:         cfg,
		generations: []uint64{0},
		current:     gen,
		state:       newState(),
		logger:      logger,
	}
	if _, err := w.current.PushItem(Item{Checkpoint: &CheckpointItem{
		DirtyPages:   map[PageAddress]WalIndex{},
		Transactions: map[uint64]TransactionState{},
	}}); err != nil {
		return nil, fmt.Errorf("wal: write initial checkpoint: %w", err)
	}
	logger.Info("wal created", zap.Uint64("gen", 0))

	w.startBackgroundCheckpointing()
	return w, nil
}

// Open reopens an existing WAL, attaching to whichever generation files
// store.IterWalFiles reports. It does not run recovery; call Recover
// separately once the caller is ready to replay PartialWriteOps.
func Open(store GenerationStore, cfg WalConfig, logger *zap.Logger) (*Wal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	genNums, err := store.IterWalFiles()
	if err != nil {
		return nil, fmt.Errorf("wal: list generations: %w", err)
	}
	if len(genNums) == 0 {
		return nil, ErrWalNotInitialized
	}
	sort.Slice(genNums, func(i, j int) bool { return genNums[i] < genNums[j] })

	currentGenNum := genNums[len(genNums)-1]
	var current *generationFile
	for _, genNum := range genNums {
		f, err := store.OpenWalFile(genNum, false)
		if err != nil {
			return nil, fmt.Errorf("wal: open generation %d: %w", genNum, err)
		}
		gen, err := openGeneration(f, genNum, cfg.FileConfig)
		if err != nil {
			return nil, fmt.Errorf("wal: validate generation %d: %w", genNum, err)
		}
		if genNum == currentGenNum {
			end, err := gen.validatedEnd()
			if err != nil {
				return nil, fmt.Errorf("wal: scan current generation %d: %w", genNum, err)
			}
			if end != gen.Size() {
				logger.Warn("truncating torn tail of current generation",
					zap.Uint64("gen", genNum), zap.Int64("from", gen.Size()), zap.Int64("to", end))
				if err := gen.TruncateTo(end); err != nil {
					return nil, fmt.Errorf("wal: truncate torn tail of generation %d: %w", genNum, err)
				}
			}
			current = gen
		} else {
			gen.Close()
		}
	}

	w := &Wal{
		store:       store,
		cfg:         cfg,
		generations: genNums,
		current:     current,
		state:       newState(),
		logger:      logger,
	}
	w.startBackgroundCheckpointing()
	return w, nil
}

// Close stops background checkpointing and closes the current generation.
func (w *Wal) Close() error {
	w.stopOnce.Do(func() {
		if w.cancel != nil {
			w.cancel()
		}
		if w.eg != nil {
			w.eg.Wait()
		}
	})
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current != nil {
		return w.current.Close()
	}
	return nil
}

// CurrentGeneration returns the generation number the WAL is currently
// appending to.
func (w *Wal) CurrentGeneration() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current.genNum
}

// LogWrite constructs a Write item for log, appends it to the current
// generation, and folds it into State. It does not flush.
func (w *Wal) LogWrite(log WriteLog) (WalIndex, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	txn := w.transactionDataLocked(log.TransactionID)
	item := Item{Write: &WriteItem{
		Txn:          txn,
		PageAddress:  log.PageAddress,
		OffsetInPage: log.OffsetInPage,
		From:         log.From,
		To:           log.To,
	}}
	return w.pushItemLocked(item)
}

// LogCommit appends a Commit item for log, folds it into State, and
// flushes the current generation to disk.
func (w *Wal) LogCommit(log CommitLog) (WalIndex, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	txn := w.transactionDataLocked(log.TransactionID)
	idx, err := w.pushItemLocked(Item{Commit: &CommitItem{Txn: txn}})
	if err != nil {
		return WalIndex{}, err
	}
	if err := w.current.Flush(); err != nil {
		return WalIndex{}, fmt.Errorf("wal: flush on commit: %w", err)
	}
	return idx, nil
}

// CacheDidFlush tells the WAL that the upstream page cache has persisted
// every page it had marked dirty, so State.dirtyPages can be cleared.
func (w *Wal) CacheDidFlush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state.cacheDidFlush()
}

func (w *Wal) transactionDataLocked(transactionID uint64) TransactionData {
	ts, ok := w.state.transactions[transactionID]
	return TransactionData{
		TransactionID:          transactionID,
		PrevTransactionItem:    ts.LastIndex,
		HasPrevTransactionItem: ok,
	}
}

// pushItemLocked appends item to the current generation, updates State, and
// kicks off an opportunistic checkpoint if the generation just crossed its
// size threshold. Caller must hold w.mu.
//
// State is updated only after a successful append: spec.md §9 flags the
// alternative (update-state-then-append) as leaving State inconsistent on a
// failed write, so this package always appends first.
func (w *Wal) pushItemLocked(item Item) (WalIndex, error) {
	if w.current == nil {
		return WalIndex{}, ErrWalNotInitialized
	}
	idx, err := w.current.PushItem(item)
	if err != nil {
		return WalIndex{}, fmt.Errorf("wal: append item: %w", err)
	}
	w.state.handleItem(idx, item)

	if w.current.Size() >= w.cfg.MaxGenerationSize {
		w.submitCheckpoint()
	}
	return idx, nil
}

// Undo walks the generations newest to oldest and emits a compensation
// PartialWriteOp for each non-compensation write by the given transactions,
// stopping at the lowest LastIndex among them; a victim's writes older than
// that index are not compensated. It then commits each victim transaction
// so a subsequent recovery does not undo it again. See spec.md §4.D.4.
func (w *Wal) Undo(transactionIDs []uint64, handle PartialWriteHandler) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.undoAllLocked(transactionIDs, handle)
}

func (w *Wal) undoAllLocked(transactionIDs []uint64, handle PartialWriteHandler) error {
	if len(transactionIDs) == 0 {
		return nil
	}
	if w.current != nil {
		if err := w.current.Flush(); err != nil {
			return fmt.Errorf("wal: flush before undo: %w", err)
		}
	}

	victims := make(map[uint64]bool, len(transactionIDs))
	lowest := WalIndex{Generation: math.MaxUint64, Offset: math.MaxUint64}
	haveLowest := false
	for _, tid := range transactionIDs {
		victims[tid] = true
		if ts, ok := w.state.transactions[tid]; ok {
			if !haveLowest || ts.LastIndex.Less(lowest) {
				lowest = ts.LastIndex
				haveLowest = true
			}
		}
	}
	if !haveLowest {
		return nil
	}

	type compensation struct {
		txnID        uint64
		pageAddress  PageAddress
		offsetInPage uint16
		to           []byte
	}
	var compensations []compensation

	for i := len(w.generations) - 1; i >= 0; i-- {
		genNum := w.generations[i]
		gen, closeAfter, err := w.openForReadLocked(genNum)
		if err != nil {
			return err
		}

		stop := false
		err = gen.iterReverse(func(d decodedItem) error {
			if d.Index.Less(lowest) {
				stop = true
				return errStopIteration
			}
			if d.Item.Write == nil || !victims[d.Item.Write.Txn.TransactionID] {
				return nil
			}
			if d.Item.Write.IsCompensation() {
				return nil
			}
			compensations = append(compensations, compensation{
				txnID:        d.Item.Write.Txn.TransactionID,
				pageAddress:  d.Item.Write.PageAddress,
				offsetInPage: d.Item.Write.OffsetInPage,
				to:           d.Item.Write.From,
			})
			return nil
		})
		if closeAfter {
			gen.Close()
		}
		if err != nil && err != errStopIteration {
			return err
		}
		if stop {
			break
		}
	}

	for _, c := range compensations {
		txn := w.transactionDataLocked(c.txnID)
		item := Item{Write: &WriteItem{
			Txn:          txn,
			PageAddress:  c.pageAddress,
			OffsetInPage: c.offsetInPage,
			From:         nil,
			To:           c.to,
		}}
		idx, err := w.pushItemLocked(item)
		if err != nil {
			return err
		}
		if handle != nil {
			if err := handle(PartialWriteOp{
				Index:        idx,
				PageAddress:  c.pageAddress,
				OffsetInPage: c.offsetInPage,
				To:           c.to,
			}); err != nil {
				return err
			}
		}
	}

	for _, tid := range transactionIDs {
		txn := w.transactionDataLocked(tid)
		if _, err := w.pushItemLocked(Item{Commit: &CommitItem{Txn: txn}}); err != nil {
			return err
		}
	}
	if w.current != nil {
		return w.current.Flush()
	}
	return nil
}

// errStopIteration unwinds an iterReverse/iterForward visit callback
// without treating the early stop as a real error.
var errStopIteration = fmt.Errorf("wal: stop iteration")

// openForReadLocked returns the generation file for genNum, reusing
// w.current when it matches. Caller must hold w.mu and must call Close
// only when closeAfter is true.
func (w *Wal) openForReadLocked(genNum uint64) (gen *generationFile, closeAfter bool, err error) {
	if w.current != nil && w.current.genNum == genNum {
		return w.current, false, nil
	}
	f, err := w.store.OpenWalFile(genNum, false)
	if err != nil {
		return nil, false, fmt.Errorf("wal: reopen generation %d: %w", genNum, err)
	}
	gen, err = openGeneration(f, genNum, w.cfg.FileConfig)
	if err != nil {
		return nil, false, fmt.Errorf("wal: validate generation %d: %w", genNum, err)
	}
	return gen, true, nil
}

// Recover replays the current generation to rebuild State, then emits a
// redo PartialWriteOp for every write not yet known-durable, then undoes
// every transaction still open afterward. See spec.md §4.D.5.
func (w *Wal) Recover(handle PartialWriteHandler) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.current == nil {
		return ErrWalNotInitialized
	}

	if err := w.seedStateFromCheckpointLocked(); err != nil {
		return err
	}
	if err := w.replayStateLocked(); err != nil {
		return err
	}
	redoCount, err := w.redoLocked(handle)
	if err != nil {
		return err
	}

	openTxns := w.state.openTransactionIDs()
	w.logger.Info("wal recovery",
		zap.Uint64("gen", w.current.genNum),
		zap.Int("redo_count", redoCount),
		zap.Int("undo_txn_count", len(openTxns)))

	return w.undoAllLocked(openTxns, handle)
}

// seedStateFromCheckpointLocked scans the current generation forward for
// the first Checkpoint item and seeds State from it, leaving State empty
// if none is found.
func (w *Wal) seedStateFromCheckpointLocked() error {
	var seeded *CheckpointItem
	err := w.current.iterForward(func(d decodedItem) error {
		if d.Item.Checkpoint != nil {
			seeded = d.Item.Checkpoint
			return errStopIteration
		}
		return nil
	})
	if err != nil && err != errStopIteration {
		return fmt.Errorf("wal: seed state: %w", err)
	}
	if seeded != nil {
		w.state = newStateFrom(seeded.DirtyPages, seeded.Transactions)
	} else {
		w.state = newState()
	}
	return nil
}

// replayStateLocked re-scans the current generation forward, folding every
// item into State so it reflects all activity after the seed checkpoint.
func (w *Wal) replayStateLocked() error {
	return w.current.iterForward(func(d decodedItem) error {
		w.state.handleItem(d.Index, d.Item)
		return nil
	})
}

// redoLocked scans the current generation forward once more, emitting a
// PartialWriteOp for every Write whose index is at or after the
// first-seen dirty index of its page, per State.dirtyPages.
func (w *Wal) redoLocked(handle PartialWriteHandler) (int, error) {
	count := 0
	err := w.current.iterForward(func(d decodedItem) error {
		if d.Item.Write == nil {
			return nil
		}
		firstDirty, ok := w.state.dirtyPages[d.Item.Write.PageAddress]
		if !ok || d.Index.Less(firstDirty) {
			return nil
		}
		count++
		if handle == nil {
			return nil
		}
		return handle(PartialWriteOp{
			Index:        d.Index,
			PageAddress:  d.Item.Write.PageAddress,
			OffsetInPage: d.Item.Write.OffsetInPage,
			To:           d.Item.Write.To,
		})
	})
	return count, err
}

// Checkpoint synchronously snapshots State, rotates to a new current
// generation carrying that snapshot as its first item, and deletes any
// generation now older than first_needed_generation.
func (w *Wal) Checkpoint() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.checkpointLocked()
}

func (w *Wal) checkpointLocked() error {
	if w.current == nil {
		return ErrWalNotInitialized
	}
	if err := w.current.Flush(); err != nil {
		return fmt.Errorf("wal: flush before checkpoint: %w", err)
	}

	nextGenNum := w.current.genNum + 1
	f, err := w.store.OpenWalFile(nextGenNum, true)
	if err != nil {
		return fmt.Errorf("wal: create generation %d: %w", nextGenNum, err)
	}
	nextGen, err := createGeneration(f, nextGenNum, w.cfg.FileConfig)
	if err != nil {
		return err
	}

	snapshot := w.state.snapshot()
	if _, err := nextGen.PushItem(Item{Checkpoint: &snapshot}); err != nil {
		return fmt.Errorf("wal: write checkpoint item: %w", err)
	}

	prevGen := w.current
	w.current = nextGen
	w.generations = append(w.generations, nextGenNum)
	if err := prevGen.Close(); err != nil {
		w.logger.Warn("closing rotated-away generation", zap.Error(err))
	}

	w.logger.Info("wal checkpoint", zap.Uint64("new_gen", nextGenNum))
	return w.cleanupGenerationsLocked()
}

// cleanupGenerationsLocked deletes every retained generation older than
// first_needed_generation, always keeping the current generation.
func (w *Wal) cleanupGenerationsLocked() error {
	firstNeeded := w.state.firstNeededGeneration()
	keep := w.generations[:0:0]
	for _, genNum := range w.generations {
		if genNum >= firstNeeded || genNum == w.current.genNum {
			keep = append(keep, genNum)
			continue
		}
		if err := w.store.DeleteWalFile(genNum); err != nil {
			return fmt.Errorf("wal: delete generation %d: %w", genNum, err)
		}
		w.logger.Info("wal generation deleted", zap.Uint64("gen", genNum))
	}
	w.generations = keep
	return nil
}

// startBackgroundCheckpointing launches the periodic checkpoint loop and
// initializes the bounded worker pool opportunistic checkpoints submit
// into. The pool is a small errgroup bounded by a buffered semaphore
// channel, a generalization of the teacher's "limited pool of
// readers/writers" TODO in wal.go.
func (w *Wal) startBackgroundCheckpointing() {
	poolSize := w.cfg.CheckpointPoolSize
	if poolSize <= 0 {
		poolSize = DefaultCheckpointPoolSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	eg, ctx := errgroup.WithContext(ctx)
	w.cancel = cancel
	w.eg = eg
	w.sem = make(chan struct{}, poolSize)
	w.done = make(chan struct{})

	if w.cfg.CheckpointPeriod > 0 {
		eg.Go(func() error {
			ticker := time.NewTicker(w.cfg.CheckpointPeriod)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					w.checkpointOk()
				}
			}
		})
	}
}

// submitCheckpoint runs an opportunistic checkpoint on the bounded pool,
// dropping the request rather than blocking the caller if the pool is
// already saturated — the next append past the size threshold will try
// again.
func (w *Wal) submitCheckpoint() {
	select {
	case w.sem <- struct{}{}:
	default:
		return
	}
	w.eg.Go(func() error {
		defer func() { <-w.sem }()
		w.checkpointOk()
		return nil
	})
}

// checkpointOk runs a checkpoint and logs, rather than propagates, any
// failure — spec.md §7 requires the periodic/opportunistic loop to keep
// running after a failed checkpoint.
func (w *Wal) checkpointOk() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkpointLocked(); err != nil {
		w.logger.Warn("background checkpoint failed", zap.Error(err))
	}
}
