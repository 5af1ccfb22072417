package acorn

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func pageBuf(b byte, n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

func TestCreateWriteCommitReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	logger := zaptest.NewLogger(t)

	e, err := Create(dir, Config{}, logger)
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.CreateSegment(1))
	addr := PageAddress{SegmentNum: 1, PageNum: 1}

	txn := e.Begin()
	_, err = e.Write(WriteRequest{TransactionID: txn, PageAddress: addr, OffsetInPage: 0, To: pageBuf(7, 16)})
	require.NoError(t, err)
	_, err = e.Commit(txn)
	require.NoError(t, err)

	buf, err := e.Read(addr)
	require.NoError(t, err)
	require.Equal(t, pageBuf(7, 16), buf[:16])
}

func TestReopenRunsRecovery(t *testing.T) {
	dir := t.TempDir()
	logger := zaptest.NewLogger(t)

	e, err := Create(dir, Config{}, logger)
	require.NoError(t, err)

	require.NoError(t, e.CreateSegment(1))
	addr := PageAddress{SegmentNum: 1, PageNum: 1}

	txn := e.Begin()
	_, err = e.Write(WriteRequest{TransactionID: txn, PageAddress: addr, OffsetInPage: 0, To: pageBuf(3, 16)})
	require.NoError(t, err)
	_, err = e.Commit(txn)
	require.NoError(t, err)
	require.NoError(t, e.Close())

	e2, err := Open(dir, Config{}, logger)
	require.NoError(t, err)
	defer e2.Close()

	buf, err := e2.Read(addr)
	require.NoError(t, err)
	require.Equal(t, pageBuf(3, 16), buf[:16])
}

func TestUndoRevertsUncommittedTransaction(t *testing.T) {
	dir := t.TempDir()
	logger := zaptest.NewLogger(t)

	e, err := Create(dir, Config{}, logger)
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.CreateSegment(1))
	addr := PageAddress{SegmentNum: 1, PageNum: 1}

	txn := e.Begin()
	_, err = e.Write(WriteRequest{
		TransactionID: txn,
		PageAddress:   addr,
		OffsetInPage:  0,
		From:          pageBuf(0, 16),
		To:            pageBuf(9, 16),
	})
	require.NoError(t, err)

	require.NoError(t, e.Undo(txn))

	buf, err := e.Read(addr)
	require.NoError(t, err)
	require.Equal(t, pageBuf(0, 16), buf[:16])
}
