package wal

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestWriteItemRoundTrip(t *testing.T) {
	w := WriteItem{
		Txn: TransactionData{
			TransactionID:          7,
			PrevTransactionItem:    WalIndex{Generation: 2, Offset: 30},
			HasPrevTransactionItem: true,
		},
		PageAddress:  PageAddress{SegmentNum: 25, PageNum: 69},
		OffsetInPage: 100,
		From:         []byte{0, 0, 0, 0},
		To:           []byte{1, 2, 3, 4},
	}

	encoded := Item{Write: &w}
	payload, err := encoded.encode()
	require.NoError(t, err)

	decoded, err := decodeItem(payload)
	require.NoError(t, err)
	require.NotNil(t, decoded.Write)
	if diff := cmp.Diff(w, *decoded.Write); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestCompensationWriteHasNoFrom(t *testing.T) {
	w := WriteItem{
		Txn:          TransactionData{TransactionID: 1},
		PageAddress:  PageAddress{SegmentNum: 100, PageNum: 200},
		OffsetInPage: 25,
		From:         nil,
		To:           []byte{2, 2, 2, 2},
	}
	require.True(t, w.IsCompensation())

	payload, err := Item{Write: &w}.encode()
	require.NoError(t, err)
	decoded, err := decodeItem(payload)
	require.NoError(t, err)
	require.True(t, decoded.Write.IsCompensation())
	require.Equal(t, w.To, decoded.Write.To)
}

func TestCommitItemRoundTrip(t *testing.T) {
	c := CommitItem{Txn: TransactionData{TransactionID: 42}}
	payload, err := Item{Commit: &c}.encode()
	require.NoError(t, err)
	decoded, err := decodeItem(payload)
	require.NoError(t, err)
	require.Equal(t, c, *decoded.Commit)
}

func TestCheckpointItemRoundTrip(t *testing.T) {
	c := CheckpointItem{
		DirtyPages: map[PageAddress]WalIndex{
			{SegmentNum: 1, PageNum: 1}: {Generation: 1, Offset: 16},
		},
		Transactions: map[uint64]TransactionState{
			5: {FirstGen: 1, LastIndex: WalIndex{Generation: 2, Offset: 40}},
		},
	}
	payload, err := Item{Checkpoint: &c}.encode()
	require.NoError(t, err)
	decoded, err := decodeItem(payload)
	require.NoError(t, err)
	if diff := cmp.Diff(c, *decoded.Checkpoint); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestEmptyCheckpointRoundTrip(t *testing.T) {
	c := CheckpointItem{
		DirtyPages:   map[PageAddress]WalIndex{},
		Transactions: map[uint64]TransactionState{},
	}
	payload, err := Item{Checkpoint: &c}.encode()
	require.NoError(t, err)
	decoded, err := decodeItem(payload)
	require.NoError(t, err)
	require.Empty(t, decoded.Checkpoint.DirtyPages)
	require.Empty(t, decoded.Checkpoint.Transactions)
}
