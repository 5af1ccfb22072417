// Package testfolder provides an in-memory stand-in for the on-disk Folder
// capability, used by internal/engine's tests — the same role the original
// implementation's MockDatabaseFolderApi played, implemented here as a
// small hand-written fake rather than a generated mock, since the teacher's
// own test style favors concrete fakes over a mocking framework.
package testfolder

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/mattnlane/acorn/internal/segment"
	"github.com/mattnlane/acorn/internal/wal"
)

// MemFolder is a Folder backed entirely by in-memory buffers.
type MemFolder struct {
	mu       sync.Mutex
	segments map[uint32]*segment.MemFile
	walFiles map[uint64]*memWalFile
}

// NewMemFolder returns an empty in-memory folder.
func NewMemFolder() *MemFolder {
	return &MemFolder{
		segments: make(map[uint32]*segment.MemFile),
		walFiles: make(map[uint64]*memWalFile),
	}
}

// OpenSegmentFile implements pstore.SegmentStore.
func (m *MemFolder) OpenSegmentFile(segmentNum uint32, create bool) (segment.RandomAccessFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if create {
		f := segment.NewMemFile()
		m.segments[segmentNum] = f
		return f, nil
	}
	f, ok := m.segments[segmentNum]
	if !ok {
		return nil, fmt.Errorf("testfolder: segment %d does not exist", segmentNum)
	}
	return f, nil
}

// memWalFile adapts a growable in-memory buffer to wal.BackingFile,
// independent of wal's own unexported memBackingFile so testfolder has no
// access to internal/wal's unexported types.
type memWalFile struct {
	buf []byte
}

func (f *memWalFile) grow(size int64) {
	if int64(len(f.buf)) >= size {
		return
	}
	grown := make([]byte, size)
	copy(grown, f.buf)
	f.buf = grown
}

func (f *memWalFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(f.buf)) {
		return 0, io.EOF
	}
	n := copy(p, f.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *memWalFile) WriteAt(p []byte, off int64) (int, error) {
	f.grow(off + int64(len(p)))
	return copy(f.buf[off:], p), nil
}

func (f *memWalFile) Truncate(size int64) error {
	if size <= int64(len(f.buf)) {
		f.buf = f.buf[:size]
		return nil
	}
	f.grow(size)
	return nil
}

func (f *memWalFile) Sync() error  { return nil }
func (f *memWalFile) Close() error { return nil }
func (f *memWalFile) Size() (int64, error) {
	return int64(len(f.buf)), nil
}

// OpenWalFile implements wal.GenerationStore.
func (m *MemFolder) OpenWalFile(genNum uint64, create bool) (wal.BackingFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if create {
		f := &memWalFile{}
		m.walFiles[genNum] = f
		return f, nil
	}
	f, ok := m.walFiles[genNum]
	if !ok {
		return nil, fmt.Errorf("testfolder: wal generation %d does not exist", genNum)
	}
	return f, nil
}

// IterWalFiles implements wal.GenerationStore.
func (m *MemFolder) IterWalFiles() ([]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	nums := make([]uint64, 0, len(m.walFiles))
	for n := range m.walFiles {
		nums = append(nums, n)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] < nums[j] })
	return nums, nil
}

// DeleteWalFile implements wal.GenerationStore.
func (m *MemFolder) DeleteWalFile(genNum uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.walFiles, genNum)
	return nil
}

// ClearWalFiles implements wal.GenerationStore.
func (m *MemFolder) ClearWalFiles() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.walFiles = make(map[uint64]*memWalFile)
	return nil
}
