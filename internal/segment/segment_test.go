package segment

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{PageSize: 4096, ByteOrder: LittleEndian}
}

func TestReadNeverWrittenPage(t *testing.T) {
	f, err := Create(NewMemFile(), testConfig())
	require.NoError(t, err)

	buf := make([]byte, PAGE_BODY_SIZE)
	idx, ok, err := f.Read(1, buf)
	require.NoError(t, err)
	require.False(t, ok)
	require.Zero(t, idx)
}

func TestWriteThenRead(t *testing.T) {
	f, err := Create(NewMemFile(), testConfig())
	require.NoError(t, err)

	body := make([]byte, PAGE_BODY_SIZE)
	for i := range body {
		body[i] = byte(i)
	}
	wantIdx := WalIndex{Generation: 3, Offset: 10}
	require.NoError(t, f.Write(1, body, wantIdx))

	got := make([]byte, PAGE_BODY_SIZE)
	gotIdx, ok, err := f.Read(1, got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, wantIdx, gotIdx)
	require.Equal(t, body, got)
}

func TestWriteIsIdempotent(t *testing.T) {
	f, err := Create(NewMemFile(), testConfig())
	require.NoError(t, err)

	body := []byte("hello world, this is page data")
	body = append(body, make([]byte, PAGE_BODY_SIZE-len(body))...)
	idx := WalIndex{Generation: 1, Offset: 5}

	require.NoError(t, f.Write(7, body, idx))
	require.NoError(t, f.Write(7, body, idx))

	got := make([]byte, PAGE_BODY_SIZE)
	gotIdx, ok, err := f.Read(7, got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, idx, gotIdx)
	require.Equal(t, body, got)
}

func TestPageZeroReserved(t *testing.T) {
	f, err := Create(NewMemFile(), testConfig())
	require.NoError(t, err)

	_, _, err = f.Read(0, make([]byte, PAGE_BODY_SIZE))
	require.Error(t, err)

	err = f.Write(0, make([]byte, PAGE_BODY_SIZE), WalIndex{Generation: 1, Offset: 1})
	require.Error(t, err)
}

func TestOpenValidatesHeader(t *testing.T) {
	mem := NewMemFile()
	_, err := Create(mem, testConfig())
	require.NoError(t, err)

	// Correct config: opens fine.
	_, err = Open(mem, testConfig())
	require.NoError(t, err)

	// Page size mismatch.
	_, err = Open(mem, Config{PageSize: 8192, ByteOrder: LittleEndian})
	require.ErrorIs(t, err, ErrPageSizeMismatch)

	// Byte order mismatch.
	_, err = Open(mem, Config{PageSize: 4096, ByteOrder: BigEndian})
	require.ErrorIs(t, err, ErrByteOrderMismatch)

	// Bad magic.
	badMagic := NewMemFile()
	_, _ = badMagic.WriteAt([]byte{'X', 'X', 'X', 'X', 0, 0x10, 0}, 0)
	_, err = Open(badMagic, testConfig())
	require.ErrorIs(t, err, ErrBadMagic)

	// Corrupted byte-order tag.
	corrupted := NewMemFile()
	_, _ = corrupted.WriteAt([]byte{'A', 'C', 'N', 'S', 0, 0x10, 7}, 0)
	_, err = Open(corrupted, Config{PageSize: 4096})
	require.ErrorIs(t, err, ErrCorrupted)
}

func TestMultiplePagesIndependent(t *testing.T) {
	f, err := Create(NewMemFile(), testConfig())
	require.NoError(t, err)

	body1 := make([]byte, PAGE_BODY_SIZE)
	body1[0] = 1
	body2 := make([]byte, PAGE_BODY_SIZE)
	body2[0] = 2

	require.NoError(t, f.Write(1, body1, WalIndex{Generation: 1, Offset: 1}))
	require.NoError(t, f.Write(2, body2, WalIndex{Generation: 1, Offset: 2}))

	buf := make([]byte, PAGE_BODY_SIZE)
	idx, ok, err := f.Read(1, buf)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), idx.Offset)
	require.Equal(t, byte(1), buf[0])

	idx, ok, err = f.Read(2, buf)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(2), idx.Offset)
	require.Equal(t, byte(2), buf[0])
}
