package wal

import (
	"io"
)

// BackingFile is the positioned read/write/sync capability a generation
// file needs from whatever is storing its bytes. DiskFolder's WAL adapter
// (built on internal/diskio) satisfies it for real files; memBackingFile is
// the in-memory stand-in used by this package's tests.
type BackingFile interface {
	io.Closer
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Truncate(size int64) error
	Sync() error
	Size() (int64, error)
}

// memBackingFile is a growable in-memory BackingFile, used by tests in
// place of a real file.
type memBackingFile struct {
	buf []byte
}

func newMemBackingFile() *memBackingFile {
	return &memBackingFile{}
}

func (m *memBackingFile) grow(size int64) {
	if int64(len(m.buf)) >= size {
		return
	}
	grown := make([]byte, size)
	copy(grown, m.buf)
	m.buf = grown
}

func (m *memBackingFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *memBackingFile) WriteAt(p []byte, off int64) (int, error) {
	m.grow(off + int64(len(p)))
	return copy(m.buf[off:], p), nil
}

func (m *memBackingFile) Truncate(size int64) error {
	if size <= int64(len(m.buf)) {
		m.buf = m.buf[:size]
		return nil
	}
	m.grow(size)
	return nil
}

func (m *memBackingFile) Sync() error { return nil }
func (m *memBackingFile) Close() error { return nil }
func (m *memBackingFile) Size() (int64, error) {
	return int64(len(m.buf)), nil
}
