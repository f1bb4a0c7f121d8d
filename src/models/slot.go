package models

import (
	"fmt"

	"github.com/mosaicnetworks/bootsync/src/codec"
	"github.com/mosaicnetworks/bootsync/src/common"
)

// Slot is a (period, thread) pair. Slots are ordered by period, then thread.
type Slot struct {
	Period uint64
	Thread uint8
}

// Compare ...
func (s Slot) Compare(o Slot) int {
	switch {
	case s.Period < o.Period:
		return -1
	case s.Period > o.Period:
		return 1
	case s.Thread < o.Thread:
		return -1
	case s.Thread > o.Thread:
		return 1
	default:
		return 0
	}
}

// Before ...
func (s Slot) Before(o Slot) bool {
	return s.Compare(o) < 0
}

// Next returns the slot immediately following s.
func (s Slot) Next(threadCount uint8) Slot {
	if s.Thread+1 >= threadCount {
		return Slot{Period: s.Period + 1, Thread: 0}
	}
	return Slot{Period: s.Period, Thread: s.Thread + 1}
}

// MinSlot ...
func MinSlot(a, b Slot) Slot {
	if b.Before(a) {
		return b
	}
	return a
}

// String ...
func (s Slot) String() string {
	return fmt.Sprintf("(%d, %d)", s.Period, s.Thread)
}

// Encode writes the period and thread fixed-width so that the encoding sorts
// like the slot.
func (s Slot) Encode(w *codec.Writer) {
	w.WriteUint64(s.Period)
	w.WriteUint8(s.Thread)
}

// DecodeSlot ...
func DecodeSlot(r *codec.Reader, lim Limits) (Slot, error) {
	var s Slot
	var err error
	if s.Period, err = r.Uint64(); err != nil {
		return s, err
	}
	if s.Thread, err = r.Uint8(); err != nil {
		return s, err
	}
	if s.Thread >= lim.ThreadCount {
		return s, common.NewBootstrapErr(common.DecodeError,
			"thread %d out of range, thread count is %d", s.Thread, lim.ThreadCount)
	}
	return s, nil
}
