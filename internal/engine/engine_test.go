package engine

import (
	"testing"

	"github.com/mattnlane/acorn/internal/segment"
	"github.com/mattnlane/acorn/internal/testfolder"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testEngineConfig() Config {
	return Config{
		PageSize:             4096,
		MaxNumOpenSegments:   8,
		MaxWalGenerationSize: 1 << 30,
	}
}

func pageOf(b byte) []byte {
	buf := make([]byte, segment.PAGE_BODY_SIZE)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

// TestRecoverRedoesCommittedAndUndoesOpenAcrossGenerations mirrors the
// original open_and_recover_wal fixture in spirit: one transaction's write
// lands in an older, already-checkpointed generation and is never
// committed (must be undone); another transaction's write lands in the
// current generation, is committed, but never reaches physical storage
// before the simulated crash (must be redone).
func TestRecoverRedoesCommittedAndUndoesOpenAcrossGenerations(t *testing.T) {
	folder := testfolder.NewMemFolder()
	cfg := testEngineConfig()

	e, err := Create(folder, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	const revertedSegment = uint32(100)
	const revertedPage = uint16(200)
	const redoneSegment = uint32(25)
	const redonePage = uint16(69)

	require.NoError(t, e.CreateSegment(revertedSegment))
	require.NoError(t, e.CreateSegment(redoneSegment))

	revertedAddr := PageAddress{SegmentNum: revertedSegment, PageNum: revertedPage}
	redoneAddr := PageAddress{SegmentNum: redoneSegment, PageNum: redonePage}

	from := []byte{2, 2, 2, 2}
	to := []byte{1, 2, 3, 4}

	txn1 := e.Begin()
	_, err = e.Write(WriteRequest{
		TransactionID: txn1,
		PageAddress:   revertedAddr,
		OffsetInPage:  25,
		From:          from,
		To:            to,
	})
	require.NoError(t, err)
	// txn1 is never committed.

	// Rotates the WAL to a new current generation, carrying txn1's open
	// state and the reverted page's dirty entry forward in the checkpoint.
	require.NoError(t, e.Checkpoint())

	txn2 := e.Begin()
	_, err = e.Write(WriteRequest{
		TransactionID: txn2,
		PageAddress:   redoneAddr,
		OffsetInPage:  100,
		From:          []byte{0, 0, 0, 0},
		To:            to,
	})
	require.NoError(t, err)
	_, err = e.Commit(txn2)
	require.NoError(t, err)

	// Simulate a crash: close without ever flushing the committed write to
	// physical storage.
	require.NoError(t, e.Close())

	e2, err := Open(folder, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer e2.Close()

	require.NoError(t, e2.Recover())

	redonePageBuf, err := e2.Read(redoneAddr)
	require.NoError(t, err)
	want := pageOf(0)
	copy(want[100:], to)
	require.Equal(t, want, redonePageBuf)

	revertedPageBuf, err := e2.Read(revertedAddr)
	require.NoError(t, err)
	wantReverted := pageOf(0)
	copy(wantReverted[25:], from)
	require.Equal(t, wantReverted, revertedPageBuf)
}

func TestReadMissingPageReturnsNil(t *testing.T) {
	folder := testfolder.NewMemFolder()
	e, err := Create(folder, testEngineConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.CreateSegment(1))
	buf, err := e.Read(PageAddress{SegmentNum: 1, PageNum: 1})
	require.NoError(t, err)
	require.Nil(t, buf)
}

func TestWriteThenFlushPersistsToPstore(t *testing.T) {
	folder := testfolder.NewMemFolder()
	e, err := Create(folder, testEngineConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer e.Close()

	require.NoError(t, e.CreateSegment(1))
	addr := PageAddress{SegmentNum: 1, PageNum: 1}

	txn := e.Begin()
	_, err = e.Write(WriteRequest{TransactionID: txn, PageAddress: addr, OffsetInPage: 0, To: pageOf(9)[:8]})
	require.NoError(t, err)
	_, err = e.Commit(txn)
	require.NoError(t, err)

	require.NoError(t, e.FlushDirtyPages())

	// Force a page-table miss by opening a second engine over the same
	// physical store.
	e2, err := Open(folder, testEngineConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer e2.Close()

	buf, err := e2.Read(addr)
	require.NoError(t, err)
	want := pageOf(0)
	copy(want, pageOf(9)[:8])
	require.Equal(t, want, buf)
}
