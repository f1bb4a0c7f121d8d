package models

import (
	"github.com/mosaicnetworks/bootsync/src/codec"
	"github.com/mosaicnetworks/bootsync/src/common"
)

// StateChanges are the absolute changes a finalized slot made to the final
// state. Applying the same changes twice yields the same state.
type StateChanges struct {
	LedgerSets    []LedgerItem
	LedgerDeletes []Address
	AsyncSets     []AsyncMessage
	AsyncDeletes  []AsyncMessageID
	CycleSets     []CycleInfo
	CycleDeletes  []uint64
	CreditSets    []SlotCredits
	CreditDeletes []Slot
	OpSets        []ExecutedOp
	OpDeletes     []ExecKey

	DenunciationSets    []DenunciationIndex
	DenunciationDeletes []DenunciationIndex
}

// Empty ...
func (c StateChanges) Empty() bool {
	return len(c.LedgerSets)+len(c.LedgerDeletes)+
		len(c.AsyncSets)+len(c.AsyncDeletes)+
		len(c.CycleSets)+len(c.CycleDeletes)+
		len(c.CreditSets)+len(c.CreditDeletes)+
		len(c.OpSets)+len(c.OpDeletes)+
		len(c.DenunciationSets)+len(c.DenunciationDeletes) == 0
}

// Encode ...
func (c StateChanges) Encode(w *codec.Writer) {
	codec.WriteItems(w, c.LedgerSets)
	codec.WriteItems(w, c.LedgerDeletes)
	codec.WriteItems(w, c.AsyncSets)
	codec.WriteItems(w, c.AsyncDeletes)
	codec.WriteItems(w, c.CycleSets)
	codec.WriteList(w, c.CycleDeletes, func(w *codec.Writer, cycle uint64) { w.WriteUint64(cycle) })
	codec.WriteItems(w, c.CreditSets)
	codec.WriteItems(w, c.CreditDeletes)
	codec.WriteItems(w, c.OpSets)
	codec.WriteItems(w, c.OpDeletes)
	codec.WriteItems(w, c.DenunciationSets)
	codec.WriteItems(w, c.DenunciationDeletes)
}

// WithLimits binds lim to a limited decoder so it fits codec.ReadList.
func WithLimits[T any](lim Limits, decode func(*codec.Reader, Limits) (T, error)) func(*codec.Reader) (T, error) {
	return func(r *codec.Reader) (T, error) {
		return decode(r, lim)
	}
}

// DecodeStateChanges ...
func DecodeStateChanges(r *codec.Reader, lim Limits) (StateChanges, error) {
	var c StateChanges
	var err error
	maxLen := lim.MaxListLength
	if c.LedgerSets, err = codec.ReadList(r, maxLen, WithLimits(lim, DecodeLedgerItem)); err != nil {
		return c, err
	}
	if c.LedgerDeletes, err = codec.ReadList(r, maxLen, DecodeAddress); err != nil {
		return c, err
	}
	if c.AsyncSets, err = codec.ReadList(r, maxLen, WithLimits(lim, DecodeAsyncMessage)); err != nil {
		return c, err
	}
	if c.AsyncDeletes, err = codec.ReadList(r, maxLen, WithLimits(lim, DecodeAsyncMessageID)); err != nil {
		return c, err
	}
	if c.CycleSets, err = codec.ReadList(r, maxLen, WithLimits(lim, DecodeCycleInfo)); err != nil {
		return c, err
	}
	if c.CycleDeletes, err = codec.ReadList(r, maxLen, func(r *codec.Reader) (uint64, error) { return r.Uint64() }); err != nil {
		return c, err
	}
	if c.CreditSets, err = codec.ReadList(r, maxLen, WithLimits(lim, DecodeSlotCredits)); err != nil {
		return c, err
	}
	if c.CreditDeletes, err = codec.ReadList(r, maxLen, WithLimits(lim, DecodeSlot)); err != nil {
		return c, err
	}
	if c.OpSets, err = codec.ReadList(r, maxLen, WithLimits(lim, DecodeExecutedOp)); err != nil {
		return c, err
	}
	if c.OpDeletes, err = codec.ReadList(r, maxLen, WithLimits(lim, DecodeExecKey)); err != nil {
		return c, err
	}
	if c.DenunciationSets, err = codec.ReadList(r, maxLen, WithLimits(lim, DecodeDenunciationIndex)); err != nil {
		return c, err
	}
	c.DenunciationDeletes, err = codec.ReadList(r, maxLen, WithLimits(lim, DecodeDenunciationIndex))
	return c, err
}

// Verify checks the identifiers carried by the changes.
func (c StateChanges) Verify() error {
	for _, m := range c.AsyncSets {
		if err := m.Verify(); err != nil {
			return err
		}
	}
	return nil
}

// SlotChanges are the changes finalized at Slot.
type SlotChanges struct {
	Slot    Slot
	Changes StateChanges
}

// Encode ...
func (sc SlotChanges) Encode(w *codec.Writer) {
	sc.Slot.Encode(w)
	sc.Changes.Encode(w)
}

// DecodeSlotChanges ...
func DecodeSlotChanges(r *codec.Reader, lim Limits) (SlotChanges, error) {
	var sc SlotChanges
	var err error
	if sc.Slot, err = DecodeSlot(r, lim); err != nil {
		return sc, err
	}
	sc.Changes, err = DecodeStateChanges(r, lim)
	return sc, err
}

// StateDelta carries every change finalized after FromSlot, up to and
// including EndSlot, together with the fingerprint of the final state at
// EndSlot.
type StateDelta struct {
	FromSlot    Slot
	EndSlot     Slot
	Slots       []SlotChanges
	Fingerprint Identifier
}

// Encode ...
func (d StateDelta) Encode(w *codec.Writer) {
	d.FromSlot.Encode(w)
	d.EndSlot.Encode(w)
	codec.WriteItems(w, d.Slots)
	d.Fingerprint.Encode(w)
}

// DecodeStateDelta checks that the slots are strictly increasing and lie in
// (FromSlot, EndSlot].
func DecodeStateDelta(r *codec.Reader, lim Limits) (StateDelta, error) {
	var d StateDelta
	var err error
	if d.FromSlot, err = DecodeSlot(r, lim); err != nil {
		return d, err
	}
	if d.EndSlot, err = DecodeSlot(r, lim); err != nil {
		return d, err
	}
	if d.EndSlot.Before(d.FromSlot) {
		return d, common.NewBootstrapErr(common.DecodeError, "delta ends at %s before %s", d.EndSlot, d.FromSlot)
	}
	if d.Slots, err = codec.ReadList(r, lim.MaxChangedSlots, WithLimits(lim, DecodeSlotChanges)); err != nil {
		return d, err
	}
	prev := d.FromSlot
	for _, sc := range d.Slots {
		if !prev.Before(sc.Slot) || d.EndSlot.Before(sc.Slot) {
			return d, common.NewBootstrapErr(common.DecodeError,
				"delta slot %s out of order in (%s, %s]", sc.Slot, d.FromSlot, d.EndSlot)
		}
		prev = sc.Slot
	}
	d.Fingerprint, err = DecodeIdentifier(r)
	return d, err
}
