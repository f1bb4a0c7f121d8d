package models

import (
	"github.com/mosaicnetworks/bootsync/src/codec"
	"github.com/mosaicnetworks/bootsync/src/common"
)

// RollCount is the number of rolls owned by an address.
type RollCount struct {
	Address Address
	Rolls   uint64
}

// ProductionStats counts the blocks an address produced and missed.
type ProductionStats struct {
	Address Address
	Ok      uint64
	Nok     uint64
}

// CycleInfo is the PoS accounting of one cycle. Both lists are sorted by
// address.
type CycleInfo struct {
	Cycle           uint64
	Complete        bool
	RollCounts      []RollCount
	ProductionStats []ProductionStats
}

// Encode ...
func (c CycleInfo) Encode(w *codec.Writer) {
	w.WriteUint64(c.Cycle)
	w.WriteBool(c.Complete)
	codec.WriteList(w, c.RollCounts, func(w *codec.Writer, rc RollCount) {
		rc.Address.Encode(w)
		w.WriteUvarint(rc.Rolls)
	})
	codec.WriteList(w, c.ProductionStats, func(w *codec.Writer, ps ProductionStats) {
		ps.Address.Encode(w)
		w.WriteUvarint(ps.Ok)
		w.WriteUvarint(ps.Nok)
	})
}

// DecodeCycleInfo ...
func DecodeCycleInfo(r *codec.Reader, lim Limits) (CycleInfo, error) {
	var c CycleInfo
	var err error
	if c.Cycle, err = r.Uint64(); err != nil {
		return c, err
	}
	if c.Complete, err = r.Bool(); err != nil {
		return c, err
	}
	c.RollCounts, err = codec.ReadList(r, lim.MaxListLength, func(r *codec.Reader) (RollCount, error) {
		var rc RollCount
		var err error
		if rc.Address, err = DecodeAddress(r); err != nil {
			return rc, err
		}
		rc.Rolls, err = r.Uvarint(0, codec.MaxUvarint)
		return rc, err
	})
	if err != nil {
		return c, err
	}
	for i := 1; i < len(c.RollCounts); i++ {
		if c.RollCounts[i-1].Address.Compare(c.RollCounts[i].Address) >= 0 {
			return c, common.NewBootstrapErr(common.DecodeError, "cycle %d: roll counts not sorted", c.Cycle)
		}
	}
	c.ProductionStats, err = codec.ReadList(r, lim.MaxListLength, func(r *codec.Reader) (ProductionStats, error) {
		var ps ProductionStats
		var err error
		if ps.Address, err = DecodeAddress(r); err != nil {
			return ps, err
		}
		if ps.Ok, err = r.Uvarint(0, codec.MaxUvarint); err != nil {
			return ps, err
		}
		ps.Nok, err = r.Uvarint(0, codec.MaxUvarint)
		return ps, err
	})
	if err != nil {
		return c, err
	}
	for i := 1; i < len(c.ProductionStats); i++ {
		if c.ProductionStats[i-1].Address.Compare(c.ProductionStats[i].Address) >= 0 {
			return c, common.NewBootstrapErr(common.DecodeError, "cycle %d: production stats not sorted", c.Cycle)
		}
	}
	return c, nil
}

// Credit is an amount owed to an address.
type Credit struct {
	Address Address
	Amount  Amount
}

// SlotCredits are the deferred credits released at Slot, sorted by address.
type SlotCredits struct {
	Slot    Slot
	Credits []Credit
}

// Encode ...
func (sc SlotCredits) Encode(w *codec.Writer) {
	sc.Slot.Encode(w)
	codec.WriteList(w, sc.Credits, func(w *codec.Writer, c Credit) {
		c.Address.Encode(w)
		c.Amount.Encode(w)
	})
}

// DecodeSlotCredits ...
func DecodeSlotCredits(r *codec.Reader, lim Limits) (SlotCredits, error) {
	var sc SlotCredits
	var err error
	if sc.Slot, err = DecodeSlot(r, lim); err != nil {
		return sc, err
	}
	sc.Credits, err = codec.ReadList(r, lim.MaxListLength, func(r *codec.Reader) (Credit, error) {
		var c Credit
		var err error
		if c.Address, err = DecodeAddress(r); err != nil {
			return c, err
		}
		c.Amount, err = DecodeAmount(r)
		return c, err
	})
	if err != nil {
		return sc, err
	}
	for i := 1; i < len(sc.Credits); i++ {
		if sc.Credits[i-1].Address.Compare(sc.Credits[i].Address) >= 0 {
			return sc, common.NewBootstrapErr(common.DecodeError, "credits at %s not sorted", sc.Slot)
		}
	}
	return sc, nil
}
