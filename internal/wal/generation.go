package wal

import (
	"encoding/binary"
	"fmt"
	"io"
)

// magic identifies a WAL generation file header, per spec.md §4.D.1.
var magic = [4]byte{'A', 'C', 'N', 'L'}

// genHeaderSize is padded out to an 8-byte boundary; logStart always equals
// this constant. It's kept as an explicit header field (rather than just
// assumed) so a reader validates it the way spec.md §4.D.1 requires.
const genHeaderSize = 16

// Config describes the fixed, whole-database parameters every generation
// file's header is validated against.
type Config struct {
	PageSize  uint16
	ByteOrder byteOrder
}

type byteOrder uint8

const (
	LittleEndian byteOrder = 0
	BigEndian    byteOrder = 1
)

func (b byteOrder) impl() binary.ByteOrder {
	if b == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func nativeByteOrder() byteOrder {
	var x uint16 = 1
	var buf [2]byte
	binary.NativeEndian.PutUint16(buf[:], x)
	if buf[0] == 1 {
		return LittleEndian
	}
	return BigEndian
}

// generationFile is one WAL generation: a header followed by a sequence of
// framed Items. It performs no locking of its own; wal.go serialises
// concurrent append/read access per the generation-file-lock discipline in
// spec.md §5.
type generationFile struct {
	genNum    uint64
	f         BackingFile
	byteOrder binary.ByteOrder
	size      int64 // current logical end of file; next append lands here
}

// createGeneration initializes a brand-new generation file and writes its header.
func createGeneration(f BackingFile, genNum uint64, cfg Config) (*generationFile, error) {
	order := cfg.ByteOrder
	if order == 0 {
		order = nativeByteOrder()
	}
	var hdr [genHeaderSize]byte
	copy(hdr[0:4], magic[:])
	binary.LittleEndian.PutUint16(hdr[4:6], genHeaderSize)
	binary.LittleEndian.PutUint16(hdr[6:8], cfg.PageSize)
	hdr[8] = byte(order)
	if _, err := f.WriteAt(hdr[:], 0); err != nil {
		return nil, fmt.Errorf("wal: write generation header: %w", err)
	}
	return &generationFile{genNum: genNum, f: f, byteOrder: order.impl(), size: genHeaderSize}, nil
}

// ErrNotAWalFile is returned by openGeneration when a file's magic doesn't match.
var ErrNotAWalFile = fmt.Errorf("wal: not a wal file")

// ErrPageSizeMismatch is returned when a generation's recorded page size
// doesn't match the configured engine page size.
var ErrPageSizeMismatch = fmt.Errorf("wal: page size mismatch")

// ErrByteOrderMismatch is returned when a generation's recorded byte order
// is valid but doesn't match the running engine's.
var ErrByteOrderMismatch = fmt.Errorf("wal: byte order mismatch")

// ErrCorrupted is returned when a generation's header carries an
// unrecognised byte-order tag or an unexpected log-start value. A frame that
// fails validation while a generation is being iterated is reported as a
// wrapped framing error, not as ErrCorrupted.
var ErrCorrupted = fmt.Errorf("wal: corrupted")

// openGeneration validates an existing generation file's header against cfg
// and wraps it, with size initialised to the file's current extent (which
// may include an as-yet-unvalidated torn tail; callers validate and
// truncate separately via validatedEnd/truncateTo).
func openGeneration(f BackingFile, genNum uint64, cfg Config) (*generationFile, error) {
	var hdr [genHeaderSize]byte
	if _, err := f.ReadAt(hdr[:], 0); err != nil && err != io.EOF {
		return nil, fmt.Errorf("wal: read generation header: %w", err)
	}
	if string(hdr[0:4]) != string(magic[:]) {
		return nil, ErrNotAWalFile
	}
	logStart := binary.LittleEndian.Uint16(hdr[4:6])
	if logStart != genHeaderSize {
		return nil, ErrCorrupted
	}
	pageSize := binary.LittleEndian.Uint16(hdr[6:8])
	if pageSize != cfg.PageSize {
		return nil, ErrPageSizeMismatch
	}
	switch byteOrder(hdr[8]) {
	case LittleEndian, BigEndian:
	default:
		return nil, ErrCorrupted
	}
	order := byteOrder(hdr[8])
	if cfg.ByteOrder != 0 && order != cfg.ByteOrder {
		return nil, ErrByteOrderMismatch
	}

	size, err := f.Size()
	if err != nil {
		return nil, err
	}
	return &generationFile{genNum: genNum, f: f, byteOrder: order.impl(), size: size}, nil
}

// NextOffset reports the offset the next pushed item will be assigned.
func (g *generationFile) NextOffset() uint64 {
	return uint64(g.size)
}

// PushItem appends item and returns the WalIndex it was assigned.
func (g *generationFile) PushItem(item Item) (WalIndex, error) {
	payload, err := item.encode()
	if err != nil {
		return WalIndex{}, err
	}

	offset := g.size
	w := &writerAt{f: g.f, off: offset}
	framer := newItemFramer(w)
	if _, err := framer.frame(payload); err != nil {
		return WalIndex{}, fmt.Errorf("wal: append item: %w", err)
	}
	g.size = offset + int64(framer.nBytes)

	return WalIndex{Generation: g.genNum, Offset: uint64(offset)}, nil
}

// Size reports the generation's current byte length.
func (g *generationFile) Size() int64 {
	return g.size
}

// Flush durably persists every item appended so far.
func (g *generationFile) Flush() error {
	return g.f.Sync()
}

// Close closes the backing file.
func (g *generationFile) Close() error {
	return g.f.Close()
}

// TruncateTo discards any bytes at or beyond offset, used to drop a torn
// tail discovered while validating the current generation at recovery.
func (g *generationFile) TruncateTo(offset int64) error {
	if err := g.f.Truncate(offset); err != nil {
		return err
	}
	g.size = offset
	return nil
}

// writerAt adapts a BackingFile plus a moving offset to io.Writer, the
// shape itemFramer wants, without forcing generationFile to keep a
// separate buffered writer around between appends.
type writerAt struct {
	f   BackingFile
	off int64
}

func (w *writerAt) Write(p []byte) (int, error) {
	n, err := w.f.WriteAt(p, w.off)
	w.off += int64(n)
	return n, err
}

// readerAt adapts a BackingFile plus a moving offset to io.Reader.
type readerAt struct {
	f   BackingFile
	off int64
}

func (r *readerAt) Read(p []byte) (int, error) {
	n, err := r.f.ReadAt(p, r.off)
	r.off += int64(n)
	return n, err
}

// decodedItem pairs one item with the WalIndex it was read from.
type decodedItem struct {
	Index WalIndex
	Item  Item
}

// iterForward walks the generation from its header to its current end,
// calling visit for every well-formed item. It stops cleanly at a clean
// EOF. A torn tail (errPartialFrame) or checksum failure (errChecksum) is
// returned to the caller rather than swallowed here — spec.md §9 makes
// tolerating a torn *current*-generation tail the caller's decision, not
// this package's.
func (g *generationFile) iterForward(visit func(decodedItem) error) error {
	r := &readerAt{f: g.f, off: genHeaderSize}
	d := newItemDeframer(r)
	for {
		offset := r.off
		data, _, err := d.deframe()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("wal: generation %d at offset %d: %w", g.genNum, offset, err)
		}
		item, err := decodeItem(data)
		if err != nil {
			return fmt.Errorf("wal: generation %d at offset %d: %w", g.genNum, offset, err)
		}
		if err := visit(decodedItem{Index: WalIndex{Generation: g.genNum, Offset: uint64(offset)}, Item: item}); err != nil {
			return err
		}
	}
}

// validatedEnd forward-scans the generation and returns the byte offset
// immediately after the last well-formed item — i.e. where a torn tail (if
// any) begins. Used only when opening the current (newest) generation.
func (g *generationFile) validatedEnd() (int64, error) {
	end := int64(genHeaderSize)
	r := &readerAt{f: g.f, off: genHeaderSize}
	d := newItemDeframer(r)
	for {
		_, _, err := d.deframe()
		if err != nil {
			break
		}
		end = r.off
	}
	return end, nil
}

// iterReverse walks the generation from its current end back to its
// header, calling visit for every well-formed item, newest first. It
// relies on each frame's trailing duplicate length field (frame.go) to find
// the start of the preceding frame without a separate index.
func (g *generationFile) iterReverse(visit func(decodedItem) error) error {
	pos := g.size
	for pos > genHeaderSize {
		var trailer [8]byte
		if _, err := g.f.ReadAt(trailer[:], pos-8); err != nil {
			return fmt.Errorf("wal: generation %d reverse scan at %d: %w", g.genNum, pos, err)
		}
		frameLen := trailerFrameLen(trailer)
		frameStart := pos - int64(frameLen)
		if frameStart < genHeaderSize {
			return fmt.Errorf("wal: generation %d: reverse frame length %d overruns header", g.genNum, frameLen)
		}

		r := &readerAt{f: g.f, off: frameStart}
		d := newItemDeframer(r)
		data, _, err := d.deframe()
		if err != nil {
			return fmt.Errorf("wal: generation %d reverse scan at %d: %w", g.genNum, frameStart, err)
		}
		item, err := decodeItem(data)
		if err != nil {
			return fmt.Errorf("wal: generation %d reverse scan at %d: %w", g.genNum, frameStart, err)
		}
		if err := visit(decodedItem{Index: WalIndex{Generation: g.genNum, Offset: uint64(frameStart)}, Item: item}); err != nil {
			return err
		}
		pos = frameStart
	}
	return nil
}
