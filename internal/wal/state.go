package wal

import "math"

// state is the authoritative in-memory record the WAL keeps alongside the
// generation files: which pages might be stale on disk, and which
// transactions are still open. It is read and mutated only while holding
// Wal.mu, the generation lock (see wal.go); every method here assumes the
// caller already holds it.
type state struct {
	dirtyPages   map[PageAddress]WalIndex
	transactions map[uint64]TransactionState
}

func newState() *state {
	return &state{
		dirtyPages:   make(map[PageAddress]WalIndex),
		transactions: make(map[uint64]TransactionState),
	}
}

func newStateFrom(dirtyPages map[PageAddress]WalIndex, transactions map[uint64]TransactionState) *state {
	if dirtyPages == nil {
		dirtyPages = make(map[PageAddress]WalIndex)
	}
	if transactions == nil {
		transactions = make(map[uint64]TransactionState)
	}
	return &state{dirtyPages: dirtyPages, transactions: transactions}
}

func (s *state) trackTransaction(index WalIndex, transactionID uint64) {
	ts, ok := s.transactions[transactionID]
	if !ok {
		s.transactions[transactionID] = TransactionState{FirstGen: index.Generation, LastIndex: index}
		return
	}
	ts.LastIndex = index
	s.transactions[transactionID] = ts
}

func (s *state) completeTransaction(transactionID uint64) {
	delete(s.transactions, transactionID)
}

func (s *state) trackWrite(index WalIndex, w *WriteItem) {
	s.trackTransaction(index, w.Txn.TransactionID)
	if _, ok := s.dirtyPages[w.PageAddress]; !ok {
		s.dirtyPages[w.PageAddress] = index
	}
}

func (s *state) cacheDidFlush() {
	s.dirtyPages = make(map[PageAddress]WalIndex)
}

// firstNeededGeneration is the oldest generation that must be retained
// because some open transaction's activity still spans it. Returns
// math.MaxUint64 when no transaction is open, meaning every generation
// older than the current one may be deleted.
func (s *state) firstNeededGeneration() uint64 {
	first := uint64(math.MaxUint64)
	for _, ts := range s.transactions {
		if ts.FirstGen < first {
			first = ts.FirstGen
		}
	}
	return first
}

// handleItem folds one WAL item into state, used both while tracking live
// appends and while replaying a generation during recovery.
func (s *state) handleItem(index WalIndex, item Item) {
	switch {
	case item.Write != nil:
		s.trackWrite(index, item.Write)
	case item.Commit != nil:
		s.completeTransaction(item.Commit.Txn.TransactionID)
	case item.Checkpoint != nil:
		// A checkpoint item is a snapshot, not an update; it carries no
		// incremental state change of its own.
	}
}

func (s *state) snapshot() CheckpointItem {
	dirty := make(map[PageAddress]WalIndex, len(s.dirtyPages))
	for k, v := range s.dirtyPages {
		dirty[k] = v
	}
	txns := make(map[uint64]TransactionState, len(s.transactions))
	for k, v := range s.transactions {
		txns[k] = v
	}
	return CheckpointItem{DirtyPages: dirty, Transactions: txns}
}

func (s *state) openTransactionIDs() []uint64 {
	ids := make([]uint64, 0, len(s.transactions))
	for tid := range s.transactions {
		ids = append(ids, tid)
	}
	return ids
}
