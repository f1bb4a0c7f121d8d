package models

import "github.com/mosaicnetworks/bootsync/src/codec"

// ExecKey orders executed operations by expiration slot, then id.
type ExecKey struct {
	Expiration Slot
	ID         Identifier
}

// Compare ...
func (k ExecKey) Compare(o ExecKey) int {
	if c := k.Expiration.Compare(o.Expiration); c != 0 {
		return c
	}
	return k.ID.Compare(o.ID)
}

// Encode ...
func (k ExecKey) Encode(w *codec.Writer) {
	k.Expiration.Encode(w)
	k.ID.Encode(w)
}

// DecodeExecKey ...
func DecodeExecKey(r *codec.Reader, lim Limits) (ExecKey, error) {
	var k ExecKey
	var err error
	if k.Expiration, err = DecodeSlot(r, lim); err != nil {
		return k, err
	}
	k.ID, err = DecodeIdentifier(r)
	return k, err
}

// ExecutedOp records that an operation was executed, so that it is not
// executed again before it expires.
type ExecutedOp struct {
	Key     ExecKey
	Success bool
}

// Encode ...
func (op ExecutedOp) Encode(w *codec.Writer) {
	op.Key.Encode(w)
	w.WriteBool(op.Success)
}

// DecodeExecutedOp ...
func DecodeExecutedOp(r *codec.Reader, lim Limits) (ExecutedOp, error) {
	var op ExecutedOp
	var err error
	if op.Key, err = DecodeExecKey(r, lim); err != nil {
		return op, err
	}
	op.Success, err = r.Bool()
	return op, err
}
