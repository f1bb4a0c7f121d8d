package models

import "encoding/binary"

// AddressFromUint64 derives a deterministic address, mostly for tests and
// tools.
func AddressFromUint64(n uint64) Address {
	var a Address
	binary.BigEndian.PutUint64(a[IdentifierSize-8:], n)
	return a
}

// IdentifierFromString hashes s.
func IdentifierFromString(s string) Identifier {
	return NewIdentifier([]byte(s))
}
