package pstore

import (
	"fmt"
	"testing"

	"github.com/mattnlane/acorn/internal/segment"
	"github.com/stretchr/testify/require"
)

type fakeSegmentStore struct {
	files map[uint32]*segment.MemFile
}

func newFakeSegmentStore() *fakeSegmentStore {
	return &fakeSegmentStore{files: make(map[uint32]*segment.MemFile)}
}

func (s *fakeSegmentStore) OpenSegmentFile(segmentNum uint32, create bool) (segment.RandomAccessFile, error) {
	if create {
		f := segment.NewMemFile()
		s.files[segmentNum] = f
		return f, nil
	}
	f, ok := s.files[segmentNum]
	if !ok {
		return nil, fmt.Errorf("pstore test: segment %d does not exist", segmentNum)
	}
	return f, nil
}

func testPstoreConfig(maxOpen int) Config {
	return Config{
		MaxNumOpenSegments: maxOpen,
		SegmentConfig:      segment.Config{PageSize: segment.PAGE_BODY_SIZE},
	}
}

func pageBuf(b byte) []byte {
	buf := make([]byte, segment.PAGE_BODY_SIZE)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

func TestCreateThenWriteThenRead(t *testing.T) {
	store := newFakeSegmentStore()
	s := New(store, testPstoreConfig(4))
	defer s.Close()

	require.NoError(t, s.CreateSegment(1))

	addr := PageAddress{SegmentNum: 1, PageNum: 5}
	wantIdx := WalIndex{Generation: 1, Offset: 64}
	require.NoError(t, s.Write(WriteOp{PageAddress: addr, Buf: pageBuf(7), WalIndex: wantIdx}))

	buf := make([]byte, segment.PAGE_BODY_SIZE)
	gotIdx, ok, err := s.Read(ReadOp{PageAddress: addr, Buf: buf})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, wantIdx, gotIdx)
	require.Equal(t, pageBuf(7), buf)
}

func TestReadUnknownSegmentErrors(t *testing.T) {
	store := newFakeSegmentStore()
	s := New(store, testPstoreConfig(4))
	defer s.Close()

	buf := make([]byte, segment.PAGE_BODY_SIZE)
	_, _, err := s.Read(ReadOp{PageAddress: PageAddress{SegmentNum: 99, PageNum: 1}, Buf: buf})
	require.Error(t, err)
}

func TestDescriptorCacheEvictsUnderPressure(t *testing.T) {
	store := newFakeSegmentStore()
	const maxOpen = 8
	s := New(store, testPstoreConfig(maxOpen))
	defer s.Close()

	for num := uint32(1); num <= 20; num++ {
		require.NoError(t, s.CreateSegment(num))
	}

	require.Len(t, store.files, 20, "every segment is still created on disk")
	require.LessOrEqual(t, len(s.descs), maxOpen, "descriptor cache stays bounded")
	require.NotEmpty(t, s.descs)

	// The most recently created segment's descriptor must still be cached.
	_, stillOpen := s.descs[20]
	require.True(t, stillOpen)
}

func TestWriteIsIdempotentThroughCache(t *testing.T) {
	store := newFakeSegmentStore()
	s := New(store, testPstoreConfig(4))
	defer s.Close()

	require.NoError(t, s.CreateSegment(1))
	addr := PageAddress{SegmentNum: 1, PageNum: 1}
	idx := WalIndex{Generation: 1, Offset: 1}

	require.NoError(t, s.Write(WriteOp{PageAddress: addr, Buf: pageBuf(3), WalIndex: idx}))
	require.NoError(t, s.Write(WriteOp{PageAddress: addr, Buf: pageBuf(3), WalIndex: idx}))

	buf := make([]byte, segment.PAGE_BODY_SIZE)
	gotIdx, ok, err := s.Read(ReadOp{PageAddress: addr, Buf: buf})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, idx, gotIdx)
}
