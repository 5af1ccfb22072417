package wal

import (
	"encoding/binary"
	"fmt"

	"github.com/mattnlane/acorn/internal/segment"
)

// WalIndex is re-exported from segment so callers of this package don't
// need to import both.
type WalIndex = segment.WalIndex

// PageAddress identifies a page within a segment's lifetime.
type PageAddress struct {
	SegmentNum uint32
	PageNum    uint16
}

// Less reports whether addr sorts before other under the lexicographic
// (SegmentNum, PageNum) order.
func (addr PageAddress) Less(other PageAddress) bool {
	if addr.SegmentNum != other.SegmentNum {
		return addr.SegmentNum < other.SegmentNum
	}
	return addr.PageNum < other.PageNum
}

func (addr PageAddress) encode(buf []byte) []byte {
	var tmp [6]byte
	binary.LittleEndian.PutUint32(tmp[0:4], addr.SegmentNum)
	binary.LittleEndian.PutUint16(tmp[4:6], addr.PageNum)
	return append(buf, tmp[:]...)
}

func decodePageAddress(buf []byte) (PageAddress, []byte, error) {
	if len(buf) < 6 {
		return PageAddress{}, nil, errShortBuf
	}
	return PageAddress{
		SegmentNum: binary.LittleEndian.Uint32(buf[0:4]),
		PageNum:    binary.LittleEndian.Uint16(buf[4:6]),
	}, buf[6:], nil
}

func encodeWalIndex(idx WalIndex, buf []byte) []byte {
	var tmp [16]byte
	binary.LittleEndian.PutUint64(tmp[0:8], idx.Generation)
	binary.LittleEndian.PutUint64(tmp[8:16], idx.Offset)
	return append(buf, tmp[:]...)
}

func decodeWalIndex(buf []byte) (WalIndex, []byte, error) {
	if len(buf) < 16 {
		return WalIndex{}, nil, errShortBuf
	}
	return WalIndex{
		Generation: binary.LittleEndian.Uint64(buf[0:8]),
		Offset:     binary.LittleEndian.Uint64(buf[8:16]),
	}, buf[16:], nil
}

var errShortBuf = fmt.Errorf("wal: item payload too short")

// TransactionData accompanies every Write and Commit item. PrevTransactionItem
// chains back to this transaction's previous item, when it has one; undo's
// reverse scan does not follow this chain.
type TransactionData struct {
	TransactionID          uint64
	PrevTransactionItem    WalIndex
	HasPrevTransactionItem bool
}

func (td TransactionData) encode(buf []byte) []byte {
	var tmp [9]byte
	binary.LittleEndian.PutUint64(tmp[0:8], td.TransactionID)
	if td.HasPrevTransactionItem {
		tmp[8] = 1
	}
	buf = append(buf, tmp[:]...)
	if td.HasPrevTransactionItem {
		buf = encodeWalIndex(td.PrevTransactionItem, buf)
	}
	return buf
}

func decodeTransactionData(buf []byte) (TransactionData, []byte, error) {
	if len(buf) < 9 {
		return TransactionData{}, nil, errShortBuf
	}
	td := TransactionData{TransactionID: binary.LittleEndian.Uint64(buf[0:8])}
	rest := buf[9:]
	if buf[8] != 0 {
		td.HasPrevTransactionItem = true
		idx, r, err := decodeWalIndex(rest)
		if err != nil {
			return TransactionData{}, nil, err
		}
		td.PrevTransactionItem = idx
		rest = r
	}
	return td, rest, nil
}

// TransactionState is the in-memory (and checkpointed) record of an open
// transaction's earliest and most recent WAL activity.
type TransactionState struct {
	FirstGen  uint64
	LastIndex WalIndex
}

// itemTag identifies which of the three WAL item variants follows in a frame.
type itemTag uint8

const (
	tagWrite itemTag = iota
	tagCommit
	tagCheckpoint
)

// WriteItem is a payload mutation. From is nil exactly when this item is a
// compensation record emitted during undo.
type WriteItem struct {
	Txn          TransactionData
	PageAddress  PageAddress
	OffsetInPage uint16
	From         []byte // nil => compensation record
	To           []byte
}

// IsCompensation reports whether this write is a compensation record
// emitted during undo rather than an original client mutation.
func (w WriteItem) IsCompensation() bool {
	return w.From == nil
}

func (w WriteItem) encode() []byte {
	buf := make([]byte, 0, 64+len(w.From)+len(w.To))
	buf = append(buf, byte(tagWrite))
	buf = w.Txn.encode(buf)
	buf = w.PageAddress.encode(buf)
	var offBuf [2]byte
	binary.LittleEndian.PutUint16(offBuf[:], w.OffsetInPage)
	buf = append(buf, offBuf[:]...)

	var lenBuf [4]byte
	if w.From != nil {
		buf = append(buf, 1)
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(w.From)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, w.From...)
	} else {
		buf = append(buf, 0)
	}

	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(w.To)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, w.To...)
	return buf
}

// CommitItem terminates a transaction.
type CommitItem struct {
	Txn TransactionData
}

func (c CommitItem) encode() []byte {
	buf := make([]byte, 0, 32)
	buf = append(buf, byte(tagCommit))
	return c.Txn.encode(buf)
}

// CheckpointItem snapshots in-memory State at generation rollover.
type CheckpointItem struct {
	DirtyPages   map[PageAddress]WalIndex
	Transactions map[uint64]TransactionState
}

func (c CheckpointItem) encode() []byte {
	buf := make([]byte, 0, 8+len(c.DirtyPages)*22+len(c.Transactions)*24)
	buf = append(buf, byte(tagCheckpoint))

	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(c.DirtyPages)))
	buf = append(buf, countBuf[:]...)
	for addr, idx := range c.DirtyPages {
		buf = addr.encode(buf)
		buf = encodeWalIndex(idx, buf)
	}

	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(c.Transactions)))
	buf = append(buf, countBuf[:]...)
	for tid, ts := range c.Transactions {
		var tidBuf [8]byte
		binary.LittleEndian.PutUint64(tidBuf[:], tid)
		buf = append(buf, tidBuf[:]...)
		var genBuf [8]byte
		binary.LittleEndian.PutUint64(genBuf[:], ts.FirstGen)
		buf = append(buf, genBuf[:]...)
		buf = encodeWalIndex(ts.LastIndex, buf)
	}
	return buf
}

// Item is the tagged union of the three WAL item variants. Exactly one of
// Write, Commit, Checkpoint is non-nil.
type Item struct {
	Write      *WriteItem
	Commit     *CommitItem
	Checkpoint *CheckpointItem
}

func (it Item) encode() ([]byte, error) {
	switch {
	case it.Write != nil:
		return it.Write.encode(), nil
	case it.Commit != nil:
		return it.Commit.encode(), nil
	case it.Checkpoint != nil:
		return it.Checkpoint.encode(), nil
	default:
		return nil, fmt.Errorf("wal: empty item")
	}
}

func decodeItem(buf []byte) (Item, error) {
	if len(buf) < 1 {
		return Item{}, errShortBuf
	}
	tag := itemTag(buf[0])
	rest := buf[1:]

	switch tag {
	case tagWrite:
		txn, rest, err := decodeTransactionData(rest)
		if err != nil {
			return Item{}, err
		}
		addr, rest, err := decodePageAddress(rest)
		if err != nil {
			return Item{}, err
		}
		if len(rest) < 2 {
			return Item{}, errShortBuf
		}
		offset := binary.LittleEndian.Uint16(rest[0:2])
		rest = rest[2:]

		if len(rest) < 1 {
			return Item{}, errShortBuf
		}
		hasFrom := rest[0] != 0
		rest = rest[1:]

		var from []byte
		if hasFrom {
			if len(rest) < 4 {
				return Item{}, errShortBuf
			}
			n := binary.LittleEndian.Uint32(rest[0:4])
			rest = rest[4:]
			if uint32(len(rest)) < n {
				return Item{}, errShortBuf
			}
			from = append([]byte(nil), rest[:n]...)
			rest = rest[n:]
		}

		if len(rest) < 4 {
			return Item{}, errShortBuf
		}
		toLen := binary.LittleEndian.Uint32(rest[0:4])
		rest = rest[4:]
		if uint32(len(rest)) < toLen {
			return Item{}, errShortBuf
		}
		to := append([]byte(nil), rest[:toLen]...)

		return Item{Write: &WriteItem{
			Txn:          txn,
			PageAddress:  addr,
			OffsetInPage: offset,
			From:         from,
			To:           to,
		}}, nil

	case tagCommit:
		txn, _, err := decodeTransactionData(rest)
		if err != nil {
			return Item{}, err
		}
		return Item{Commit: &CommitItem{Txn: txn}}, nil

	case tagCheckpoint:
		if len(rest) < 4 {
			return Item{}, errShortBuf
		}
		nDirty := binary.LittleEndian.Uint32(rest[0:4])
		rest = rest[4:]
		dirty := make(map[PageAddress]WalIndex, nDirty)
		for i := uint32(0); i < nDirty; i++ {
			addr, r, err := decodePageAddress(rest)
			if err != nil {
				return Item{}, err
			}
			idx, r, err := decodeWalIndex(r)
			if err != nil {
				return Item{}, err
			}
			dirty[addr] = idx
			rest = r
		}

		if len(rest) < 4 {
			return Item{}, errShortBuf
		}
		nTxn := binary.LittleEndian.Uint32(rest[0:4])
		rest = rest[4:]
		txns := make(map[uint64]TransactionState, nTxn)
		for i := uint32(0); i < nTxn; i++ {
			if len(rest) < 16 {
				return Item{}, errShortBuf
			}
			tid := binary.LittleEndian.Uint64(rest[0:8])
			firstGen := binary.LittleEndian.Uint64(rest[8:16])
			rest = rest[16:]
			idx, r, err := decodeWalIndex(rest)
			if err != nil {
				return Item{}, err
			}
			txns[tid] = TransactionState{FirstGen: firstGen, LastIndex: idx}
			rest = r
		}

		return Item{Checkpoint: &CheckpointItem{DirtyPages: dirty, Transactions: txns}}, nil

	default:
		return Item{}, fmt.Errorf("wal: unknown item tag %d", tag)
	}
}
