package wal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{PageSize: 4096, ByteOrder: nativeByteOrder()}
}

func TestCreateThenOpenGeneration(t *testing.T) {
	f := newMemBackingFile()
	g, err := createGeneration(f, 1, testConfig())
	require.NoError(t, err)
	require.Equal(t, int64(genHeaderSize), g.Size())

	g2, err := openGeneration(f, 1, testConfig())
	require.NoError(t, err)
	require.Equal(t, g.Size(), g2.Size())
}

func TestOpenGenerationRejectsBadMagic(t *testing.T) {
	f := newMemBackingFile()
	_, err := f.WriteAt([]byte("XXXX"), 0)
	require.NoError(t, err)
	_, err = openGeneration(f, 1, testConfig())
	require.ErrorIs(t, err, ErrNotAWalFile)
}

func TestOpenGenerationRejectsPageSizeMismatch(t *testing.T) {
	f := newMemBackingFile()
	_, err := createGeneration(f, 1, testConfig())
	require.NoError(t, err)

	other := testConfig()
	other.PageSize = 8192
	_, err = openGeneration(f, 1, other)
	require.ErrorIs(t, err, ErrPageSizeMismatch)
}

func TestOpenGenerationRejectsByteOrderMismatch(t *testing.T) {
	f := newMemBackingFile()
	cfg := Config{PageSize: 4096, ByteOrder: LittleEndian}
	_, err := createGeneration(f, 1, cfg)
	require.NoError(t, err)

	other := cfg
	other.ByteOrder = BigEndian
	_, err = openGeneration(f, 1, other)
	require.ErrorIs(t, err, ErrByteOrderMismatch)
}

func TestPushItemThenIterForward(t *testing.T) {
	f := newMemBackingFile()
	g, err := createGeneration(f, 3, testConfig())
	require.NoError(t, err)

	items := []Item{
		{Commit: &CommitItem{Txn: TransactionData{TransactionID: 1}}},
		{Commit: &CommitItem{Txn: TransactionData{TransactionID: 2}}},
		{Commit: &CommitItem{Txn: TransactionData{TransactionID: 3}}},
	}
	var indices []WalIndex
	for _, item := range items {
		idx, err := g.PushItem(item)
		require.NoError(t, err)
		indices = append(indices, idx)
	}

	var got []decodedItem
	err = g.iterForward(func(d decodedItem) error {
		got = append(got, d)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, d := range got {
		require.Equal(t, indices[i], d.Index)
		require.Equal(t, items[i].Commit.Txn.TransactionID, d.Item.Commit.Txn.TransactionID)
	}
}

func TestIterReverseWalksNewestFirst(t *testing.T) {
	f := newMemBackingFile()
	g, err := createGeneration(f, 1, testConfig())
	require.NoError(t, err)

	for id := uint64(1); id <= 4; id++ {
		_, err := g.PushItem(Item{Commit: &CommitItem{Txn: TransactionData{TransactionID: id}}})
		require.NoError(t, err)
	}

	var gotIDs []uint64
	err = g.iterReverse(func(d decodedItem) error {
		gotIDs = append(gotIDs, d.Item.Commit.Txn.TransactionID)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []uint64{4, 3, 2, 1}, gotIDs)
}

func TestValidatedEndAndTruncateTornTail(t *testing.T) {
	f := newMemBackingFile()
	g, err := createGeneration(f, 1, testConfig())
	require.NoError(t, err)

	_, err = g.PushItem(Item{Commit: &CommitItem{Txn: TransactionData{TransactionID: 1}}})
	require.NoError(t, err)
	goodEnd := g.Size()

	_, err = g.PushItem(Item{Commit: &CommitItem{Txn: TransactionData{TransactionID: 2}}})
	require.NoError(t, err)
	fullEnd := g.Size()

	// simulate a torn write: chop off the tail of the second frame's trailer.
	require.NoError(t, f.Truncate(fullEnd-4))

	reopened, err := openGeneration(f, 1, testConfig())
	require.NoError(t, err)
	end, err := reopened.validatedEnd()
	require.NoError(t, err)
	require.Equal(t, goodEnd, end)

	require.NoError(t, reopened.TruncateTo(end))
	require.Equal(t, goodEnd, reopened.Size())

	var gotIDs []uint64
	err = reopened.iterForward(func(d decodedItem) error {
		gotIDs = append(gotIDs, d.Item.Commit.Txn.TransactionID)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []uint64{1}, gotIDs)
}

func TestIterForwardSurfacesChecksumErrorOnOlderGeneration(t *testing.T) {
	f := newMemBackingFile()
	g, err := createGeneration(f, 1, testConfig())
	require.NoError(t, err)
	_, err = g.PushItem(Item{Commit: &CommitItem{Txn: TransactionData{TransactionID: 1}}})
	require.NoError(t, err)

	// flip a payload bit to simulate corruption rather than a torn write.
	corruptOffset := int64(genHeaderSize + 8 + 4)
	var b [1]byte
	_, err = f.ReadAt(b[:], corruptOffset)
	require.NoError(t, err)
	b[0] ^= 0xFF
	_, err = f.WriteAt(b[:], corruptOffset)
	require.NoError(t, err)

	reopened, err := openGeneration(f, 1, testConfig())
	require.NoError(t, err)
	err = reopened.iterForward(func(decodedItem) error { return nil })
	require.Error(t, err)
}
