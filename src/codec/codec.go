// Package codec implements the bounded binary encoding shared by every value
// exchanged during a bootstrap session.
//
// Integers are either fixed-width big-endian or minimal unsigned varints.
// Variable-length fields carry a uvarint length prefix that the Reader checks
// against an explicit bound before allocating anything.
package codec

import (
	"encoding/binary"

	"github.com/multiformats/go-varint"

	"github.com/mosaicnetworks/bootsync/src/common"
)

// MaxUvarint is the largest value that can be carried by a uvarint.
const MaxUvarint = varint.MaxValueUvarint63

// Writer appends encoded values to an internal buffer. The first encoding
// failure is kept and every subsequent write is a no-op.
type Writer struct {
	buf []byte
	err error
}

// NewWriter ...
func NewWriter() *Writer {
	return &Writer{}
}

// Bytes returns the encoded buffer.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return len(w.buf)
}

// Err returns the first encoding error, if any.
func (w *Writer) Err() error {
	return w.err
}

// WriteUint8 ...
func (w *Writer) WriteUint8(v uint8) {
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, v)
}

// WriteBool ...
func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteUint8(1)
	} else {
		w.WriteUint8(0)
	}
}

// WriteUint32 writes v as 4 big-endian bytes.
func (w *Writer) WriteUint32(v uint32) {
	if w.err != nil {
		return
	}
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

// WriteUint64 writes v as 8 big-endian bytes.
func (w *Writer) WriteUint64(v uint64) {
	if w.err != nil {
		return
	}
	w.buf = binary.BigEndian.AppendUint64(w.buf, v)
}

// WriteInt64 ...
func (w *Writer) WriteInt64(v int64) {
	w.WriteUint64(uint64(v))
}

// WriteUvarint writes v as a minimal uvarint. Values above MaxUvarint are
// rejected.
func (w *Writer) WriteUvarint(v uint64) {
	if w.err != nil {
		return
	}
	if v > MaxUvarint {
		w.err = common.NewBootstrapErr(common.DecodeError, "uvarint %d out of range", v)
		return
	}
	w.buf = append(w.buf, varint.ToUvarint(v)...)
}

// WriteFixed appends b without a length prefix.
func (w *Writer) WriteFixed(b []byte) {
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, b...)
}

// WriteBytes writes a uvarint length followed by b.
func (w *Writer) WriteBytes(b []byte) {
	w.WriteUvarint(uint64(len(b)))
	w.WriteFixed(b)
}

// WriteString ...
func (w *Writer) WriteString(s string) {
	w.WriteBytes([]byte(s))
}

// WriteLen writes the length prefix of a collection.
func (w *Writer) WriteLen(n int) {
	w.WriteUvarint(uint64(n))
}

// Reader decodes values from a byte slice. It never reads past the end of the
// slice it was given and tracks the exact number of bytes consumed.
type Reader struct {
	buf []byte
	off int
}

// NewReader ...
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Offset returns the number of bytes consumed so far.
func (r *Reader) Offset() int {
	return r.off
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || n > r.Remaining() {
		return nil, common.NewBootstrapErr(common.DecodeError,
			"need %d bytes at offset %d, %d left", n, r.off, r.Remaining())
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

// Uint8 ...
func (r *Reader) Uint8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Bool accepts only 0 and 1.
func (r *Reader) Bool() (bool, error) {
	v, err := r.Uint8()
	if err != nil {
		return false, err
	}
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, common.NewBootstrapErr(common.DecodeError, "invalid bool byte %d", v)
	}
}

// Uint32 ...
func (r *Reader) Uint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// Uint64 ...
func (r *Reader) Uint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// Int64 ...
func (r *Reader) Int64() (int64, error) {
	v, err := r.Uint64()
	return int64(v), err
}

// Uvarint reads a minimal uvarint and checks min <= v <= max.
func (r *Reader) Uvarint(min, max uint64) (uint64, error) {
	v, n, err := varint.FromUvarint(r.buf[r.off:])
	if err != nil {
		return 0, common.WrapBootstrapErr(common.DecodeError, err, "uvarint at offset %d", r.off)
	}
	if v < min || v > max {
		return 0, common.NewBootstrapErr(common.DecodeError,
			"uvarint %d at offset %d outside [%d, %d]", v, r.off, min, max)
	}
	r.off += n
	return v, nil
}

// Len reads a collection length prefix no greater than max.
func (r *Reader) Len(max int) (int, error) {
	n, err := r.Uvarint(0, uint64(max))
	return int(n), err
}

// Fixed reads exactly n bytes and returns a copy, or nil when n is 0.
func (r *Reader) Fixed(n int) ([]byte, error) {
	b, err := r.take(n)
	if err != nil || n == 0 {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// FixedInto fills dst.
func (r *Reader) FixedInto(dst []byte) error {
	b, err := r.take(len(dst))
	if err != nil {
		return err
	}
	copy(dst, b)
	return nil
}

// Bytes reads a length-prefixed byte string of at most max bytes. The bound
// is checked before anything is allocated.
func (r *Reader) Bytes(max int) ([]byte, error) {
	n, err := r.Len(max)
	if err != nil {
		return nil, err
	}
	return r.Fixed(n)
}

// String ...
func (r *Reader) String(max int) (string, error) {
	b, err := r.Bytes(max)
	return string(b), err
}

// Done fails if any byte is left unread.
func (r *Reader) Done() error {
	if r.Remaining() != 0 {
		return common.NewBootstrapErr(common.DecodeError, "%d trailing bytes", r.Remaining())
	}
	return nil
}
