package state

import "errors"

// ErrKeyNotFound is returned by KV.Get for missing keys.
var ErrKeyNotFound = errors.New("key not found")

// Op is a single write of a KV batch. A Delete op ignores Value.
type Op struct {
	Key    []byte
	Value  []byte
	Delete bool
}

// KV is the ordered key-value store behind a FinalState. Implementations
// must be safe for concurrent use; Ascend must observe a consistent snapshot
// and must not hold up Write while fn runs.
type KV interface {
	// Get returns the value of key, or ErrKeyNotFound.
	Get(key []byte) ([]byte, error)
	// Ascend calls fn, in key order, for every key with the given prefix that
	// is strictly greater than after (all of them when after is nil), until
	// fn returns false.
	Ascend(prefix, after []byte, fn func(key, value []byte) bool) error
	// Write applies ops atomically.
	Write(ops []Op) error
	// Close releases the store.
	Close() error
}
