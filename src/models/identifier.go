package models

import (
	"bytes"
	"fmt"

	"lukechampine.com/blake3"

	"github.com/mosaicnetworks/bootsync/src/codec"
	"github.com/mosaicnetworks/bootsync/src/common"
)

// IdentifierSize is the width of content identifiers and addresses.
const IdentifierSize = 32

// Identifier is the BLAKE3 digest of the canonical encoding of an object.
type Identifier [IdentifierSize]byte

// NewIdentifier hashes data.
func NewIdentifier(data []byte) Identifier {
	return blake3.Sum256(data)
}

// String ...
func (id Identifier) String() string {
	return common.EncodeToString(id[:])
}

// Compare orders identifiers bytewise.
func (id Identifier) Compare(o Identifier) int {
	return bytes.Compare(id[:], o[:])
}

// IsZero ...
func (id Identifier) IsZero() bool {
	return id == Identifier{}
}

// Xor returns id ^ o.
func (id Identifier) Xor(o Identifier) Identifier {
	var res Identifier
	for i := range id {
		res[i] = id[i] ^ o[i]
	}
	return res
}

// Encode ...
func (id Identifier) Encode(w *codec.Writer) {
	w.WriteFixed(id[:])
}

// DecodeIdentifier ...
func DecodeIdentifier(r *codec.Reader) (Identifier, error) {
	var id Identifier
	err := r.FixedInto(id[:])
	return id, err
}

// Address identifies an account.
type Address [IdentifierSize]byte

// AddressFromHex parses the 0X prefixed form returned by String.
func AddressFromHex(s string) (Address, error) {
	var a Address
	b, err := common.DecodeFromString(s)
	if err != nil {
		return a, err
	}
	if len(b) != IdentifierSize {
		return a, fmt.Errorf("address should be %d bytes, not %d", IdentifierSize, len(b))
	}
	copy(a[:], b)
	return a, nil
}

// String ...
func (a Address) String() string {
	return common.EncodeToString(a[:])
}

// Compare orders addresses bytewise.
func (a Address) Compare(o Address) int {
	return bytes.Compare(a[:], o[:])
}

// Encode ...
func (a Address) Encode(w *codec.Writer) {
	w.WriteFixed(a[:])
}

// DecodeAddress ...
func DecodeAddress(r *codec.Reader) (Address, error) {
	var a Address
	err := r.FixedInto(a[:])
	return a, err
}

// Amount is a quantity of coins in raw units.
type Amount uint64

// Encode ...
func (a Amount) Encode(w *codec.Writer) {
	w.WriteUvarint(uint64(a))
}

// DecodeAmount ...
func DecodeAmount(r *codec.Reader) (Amount, error) {
	v, err := r.Uvarint(0, codec.MaxUvarint)
	return Amount(v), err
}

func hashOf(v codec.Encoder) Identifier {
	w := codec.NewWriter()
	v.Encode(w)
	return NewIdentifier(w.Bytes())
}
