package segment

// MemFile is an in-memory RandomAccessFile, the same role the original
// implementation's `impl StorageFile for Vec<u8>` played in its unit
// tests: a growable byte slice addressed like a file.
type MemFile struct {
	buf []byte
}

// NewMemFile returns an empty in-memory file.
func NewMemFile() *MemFile {
	return &MemFile{}
}

func (m *MemFile) grow(size int64) {
	if int64(len(m.buf)) >= size {
		return
	}
	grown := make([]byte, size)
	copy(grown, m.buf)
	m.buf = grown
}

// ReadAt implements RandomAccessFile.
func (m *MemFile) ReadAt(buf []byte, offset int64) (int, error) {
	if offset >= int64(len(m.buf)) {
		return 0, nil
	}
	n := copy(buf, m.buf[offset:])
	if n < len(buf) {
		return n, nil
	}
	return n, nil
}

// WriteAt implements RandomAccessFile.
func (m *MemFile) WriteAt(buf []byte, offset int64) (int, error) {
	m.grow(offset + int64(len(buf)))
	n := copy(m.buf[offset:], buf)
	return n, nil
}

// Truncate implements RandomAccessFile.
func (m *MemFile) Truncate(size int64) error {
	if size < int64(len(m.buf)) {
		m.buf = m.buf[:size]
		return nil
	}
	m.grow(size)
	return nil
}

// Close implements RandomAccessFile.
func (m *MemFile) Close() error {
	return nil
}
