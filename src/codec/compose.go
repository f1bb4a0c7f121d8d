package codec

import "github.com/mosaicnetworks/bootsync/src/common"

// Encoder is implemented by values that know how to write themselves.
type Encoder interface {
	Encode(w *Writer)
}

// Serialize encodes v into a fresh buffer.
func Serialize(v Encoder) ([]byte, error) {
	w := NewWriter()
	v.Encode(w)
	if w.Err() != nil {
		return nil, w.Err()
	}
	return w.Bytes(), nil
}

// Deserialize decodes a single value from the start of data and returns the
// number of bytes it occupied. Bytes past that offset are left untouched so
// callers can keep decoding from there.
func Deserialize[T any](data []byte, decode func(*Reader) (T, error)) (T, int, error) {
	r := NewReader(data)
	v, err := decode(r)
	if err != nil {
		var zero T
		return zero, 0, err
	}
	return v, r.Offset(), nil
}

// WriteList writes a length prefix followed by every item.
func WriteList[T any](w *Writer, items []T, encode func(*Writer, T)) {
	w.WriteLen(len(items))
	for _, it := range items {
		encode(w, it)
	}
}

// WriteItems writes a length prefix followed by every item, each encoding
// itself.
func WriteItems[T Encoder](w *Writer, items []T) {
	w.WriteLen(len(items))
	for _, it := range items {
		it.Encode(w)
	}
}

// ReadList decodes a list of at most max items. Capacity is only reserved for
// as many items as could possibly fit in the remaining bytes.
func ReadList[T any](r *Reader, max int, decode func(*Reader) (T, error)) ([]T, error) {
	n, err := r.Len(max)
	if err != nil {
		return nil, err
	}
	if n > r.Remaining() {
		return nil, common.NewBootstrapErr(common.DecodeError,
			"list of %d items cannot fit in %d bytes", n, r.Remaining())
	}
	if n == 0 {
		return nil, nil
	}
	items := make([]T, 0, n)
	for i := 0; i < n; i++ {
		it, err := decode(r)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, nil
}

// WriteOption writes a presence flag and, when v is not nil, the value.
func WriteOption[T any](w *Writer, v *T, encode func(*Writer, T)) {
	if v == nil {
		w.WriteBool(false)
		return
	}
	w.WriteBool(true)
	encode(w, *v)
}

// ReadOption is the counterpart of WriteOption.
func ReadOption[T any](r *Reader, decode func(*Reader) (T, error)) (*T, error) {
	present, err := r.Bool()
	if err != nil || !present {
		return nil, err
	}
	v, err := decode(r)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
