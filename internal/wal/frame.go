package wal

import (
	"encoding/binary"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
)

// crcTable is the Castagnoli CRC-32 table, the same polynomial the segment
// framing format uses: good error-detection properties and widely
// available hardware acceleration.
var crcTable = crc32.MakeTable(crc32.Castagnoli)

// errPartialFrame means fewer bytes were available than the frame's header
// promised — either a torn write at the tail of the current generation, or
// genuine corruption.
type errPartialFrame struct {
	n   int
	msg string
}

func (err errPartialFrame) Error() string {
	return fmt.Sprintf("wal: read frame partially (%d bytes): %s", err.n, err.msg)
}

// errChecksum means a frame's CRC did not match its payload.
type errChecksum struct {
	want, got uint32
}

func (err errChecksum) Error() string {
	return fmt.Sprintf("wal: checksum mismatch: want %d, got %d", err.want, err.got)
}

// itemFramer writes length-prefixed, checksummed frames to w, with each
// payload zero-padded to a multiple of 8 bytes. Each frame holds one
// encoded WAL item. Unlike a plain append-only log,
// every frame also carries a trailing copy of its length field so
// generationFile.iterReverse can walk a generation backwards without a
// separate index — undo (spec.md §4.D.4) needs to scan newest-to-oldest.
type itemFramer struct {
	w           io.Writer
	crc         hash.Hash32
	lenFieldBuf [8]byte
	checksumBuf [4]byte
	padBuf      [8]byte
	nBytes      int
}

func newItemFramer(w io.Writer) *itemFramer {
	return &itemFramer{w: w, crc: crc32.New(crcTable)}
}

// frame writes one frame. Layout:
//
//  1. 8 bytes: data length in the low 4 bytes; when padding is present,
//     the top byte holds the high bit plus the pad length.
//  2. 4 bytes: CRC-32C of the payload.
//  3. len(data) bytes: payload.
//  4. padLen bytes: zero padding so payload plus padding is a multiple of
//     8 bytes.
//  5. 8 bytes: a copy of the length field (the trailer).
func (f *itemFramer) frame(data []byte) (int, error) {
	lenField, padLen := encodeFrameSize(uint32(len(data)))
	binary.LittleEndian.PutUint64(f.lenFieldBuf[:], lenField)

	f.crc.Reset()
	f.crc.Write(data)
	checksum := f.crc.Sum32()
	binary.LittleEndian.PutUint32(f.checksumBuf[:], checksum)

	nn := 0
	n, err := f.w.Write(f.lenFieldBuf[:])
	nn += n
	f.nBytes += n
	if err != nil {
		return nn, err
	}
	if n != len(f.lenFieldBuf) {
		return nn, fmt.Errorf("wal: torn write of length field")
	}

	n, err = f.w.Write(f.checksumBuf[:])
	nn += n
	f.nBytes += n
	if err != nil {
		return nn, err
	}
	if n != len(f.checksumBuf) {
		return nn, fmt.Errorf("wal: torn write of checksum")
	}

	n, err = f.w.Write(data)
	nn += n
	f.nBytes += n
	if err != nil {
		return nn, err
	}
	if n != len(data) {
		return nn, fmt.Errorf("wal: torn write of payload")
	}

	if padLen != 0 {
		n, err = f.w.Write(f.padBuf[:padLen])
		nn += n
		f.nBytes += n
		if err != nil {
			return nn, err
		}
		if n != int(padLen) {
			return nn, fmt.Errorf("wal: torn write of padding")
		}
	}

	// Trailer: a duplicate of the length field, so a reverse scan can
	// recover this frame's start offset without a forward index.
	n, err = f.w.Write(f.lenFieldBuf[:])
	nn += n
	f.nBytes += n
	if err != nil {
		return nn, err
	}
	if n != len(f.lenFieldBuf) {
		return nn, fmt.Errorf("wal: torn write of trailer")
	}

	return nn, nil
}

// frameOverhead is the number of non-payload bytes in a frame: the leading
// length field, the checksum, and the trailing duplicate length field.
// Padding is additional and varies with payload length.
const frameOverhead = 8 + 4 + 8

func encodeFrameSize(nBytes uint32) (lenField uint64, padLen uint8) {
	lenField = uint64(nBytes)
	padLen = uint8(8 - (nBytes % 8))
	if padLen == 8 {
		padLen = 0
	}
	if padLen != 0 {
		lenField |= uint64(0x80|padLen) << 56
	}
	return
}

func decodeFrameSize(buf [8]byte) (nBytes uint32, padLen uint8) {
	lenField := binary.LittleEndian.Uint64(buf[:])
	nBytes = uint32(lenField)
	if lenField&(1<<63) != 0 {
		padLen = uint8((lenField ^ (1 << 63)) >> 56)
	}
	return
}

// itemDeframer reads frames written by itemFramer back out of r.
type itemDeframer struct {
	r           io.Reader
	crc         hash.Hash32
	lenFieldBuf [8]byte
	checksumBuf [4]byte
	padBuf      [8]byte
	nBytes      int
}

func newItemDeframer(r io.Reader) *itemDeframer {
	return &itemDeframer{r: r, crc: crc32.New(crcTable)}
}

// deframe reads and validates one frame, returning its payload and the
// total number of bytes consumed (including header/checksum/padding).
//
// io.EOF means no more frames follow (a clean end of generation file, or
// an all-zero length field).
// errPartialFrame means the tail is torn — the current generation's last
// item was never fully durable. errChecksum means the bytes are there but
// don't match their checksum — also treated as a torn/in-flight tail by
// callers reading the *current* generation (see internal/wal's recovery
// ordering notes), but as real corruption for any older generation.
func (d *itemDeframer) deframe() ([]byte, int, error) {
	nn := 0
	n, err := io.ReadFull(d.r, d.lenFieldBuf[:])
	nn += n
	d.nBytes += n
	if err == io.EOF {
		return nil, nn, io.EOF
	}
	if err != nil {
		return nil, nn, errPartialFrame{n: nn, msg: "length field is torn"}
	}
	if d.lenFieldBuf == ([8]byte{}) {
		// No WAL item has an empty payload, so an all-zero length field is
		// zero-filled (e.g. preallocated) space past the last frame.
		return nil, nn, io.EOF
	}

	dataLen, padLen := decodeFrameSize(d.lenFieldBuf)

	n, err = io.ReadFull(d.r, d.checksumBuf[:])
	nn += n
	d.nBytes += n
	if err != nil {
		return nil, nn, errPartialFrame{n: nn, msg: "checksum is torn"}
	}
	checksum := binary.LittleEndian.Uint32(d.checksumBuf[:])

	data := make([]byte, dataLen)
	n, err = io.ReadFull(d.r, data)
	nn += n
	d.nBytes += n
	if err != nil {
		return nil, nn, errPartialFrame{n: nn, msg: "payload is torn"}
	}

	d.crc.Reset()
	d.crc.Write(data)
	actual := d.crc.Sum32()
	if actual != checksum {
		return data, nn, errChecksum{want: checksum, got: actual}
	}

	if padLen > 0 {
		n, err = io.ReadFull(d.r, d.padBuf[:padLen])
		nn += n
		d.nBytes += n
		if err != nil {
			return nil, nn, errPartialFrame{n: nn, msg: "padding is torn"}
		}
	}

	var trailerBuf [8]byte
	n, err = io.ReadFull(d.r, trailerBuf[:])
	nn += n
	d.nBytes += n
	if err != nil {
		return nil, nn, errPartialFrame{n: nn, msg: "trailer is torn"}
	}

	if actual == checksum && trailerBuf != d.lenFieldBuf {
		return data, nn, errPartialFrame{n: nn, msg: "trailer does not match header"}
	}

	return data, nn, nil
}

// trailerFrameLen decodes a frame's 8-byte trailer, returning the total
// on-disk length of the frame it closes
// (including the leading length field, checksum, payload, padding, and the
// trailer itself). Used by generationFile.iterReverse to walk a generation
// file backwards one frame at a time.
func trailerFrameLen(trailer [8]byte) int {
	dataLen, padLen := decodeFrameSize(trailer)
	return frameOverhead + int(dataLen) + int(padLen)
}
