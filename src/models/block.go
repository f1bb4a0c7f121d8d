package models

import (
	"github.com/mosaicnetworks/bootsync/src/codec"
	"github.com/mosaicnetworks/bootsync/src/common"
)

// BlockHeader is the part of a block that its identifier is computed from.
type BlockHeader struct {
	Slot           Slot
	Parents        []Identifier
	Creator        Address
	OperationsHash Identifier
}

// Encode ...
func (h BlockHeader) Encode(w *codec.Writer) {
	h.Slot.Encode(w)
	codec.WriteItems(w, h.Parents)
	h.Creator.Encode(w)
	h.OperationsHash.Encode(w)
}

// DecodeBlockHeader ...
func DecodeBlockHeader(r *codec.Reader, lim Limits) (BlockHeader, error) {
	var h BlockHeader
	var err error
	if h.Slot, err = DecodeSlot(r, lim); err != nil {
		return h, err
	}
	if h.Parents, err = codec.ReadList(r, int(lim.ThreadCount), DecodeIdentifier); err != nil {
		return h, err
	}
	if h.Creator, err = DecodeAddress(r); err != nil {
		return h, err
	}
	h.OperationsHash, err = DecodeIdentifier(r)
	return h, err
}

// ID computes the block identifier.
func (h BlockHeader) ID() Identifier {
	return hashOf(h)
}

// BlockKey orders the graph export by slot, then block id.
type BlockKey struct {
	Slot Slot
	ID   Identifier
}

// Compare ...
func (k BlockKey) Compare(o BlockKey) int {
	if c := k.Slot.Compare(o.Slot); c != 0 {
		return c
	}
	return k.ID.Compare(o.ID)
}

// Encode ...
func (k BlockKey) Encode(w *codec.Writer) {
	k.Slot.Encode(w)
	k.ID.Encode(w)
}

// DecodeBlockKey ...
func DecodeBlockKey(r *codec.Reader, lim Limits) (BlockKey, error) {
	var k BlockKey
	var err error
	if k.Slot, err = DecodeSlot(r, lim); err != nil {
		return k, err
	}
	k.ID, err = DecodeIdentifier(r)
	return k, err
}

// ExportedBlock is a block of the consensus graph as exported for bootstrap.
type ExportedBlock struct {
	ID      Identifier
	Header  BlockHeader
	IsFinal bool
}

// NewExportedBlock computes the id of the header.
func NewExportedBlock(h BlockHeader, final bool) ExportedBlock {
	return ExportedBlock{ID: h.ID(), Header: h, IsFinal: final}
}

// Key ...
func (b ExportedBlock) Key() BlockKey {
	return BlockKey{Slot: b.Header.Slot, ID: b.ID}
}

// Verify recomputes the block id from the header.
func (b ExportedBlock) Verify() error {
	if id := b.Header.ID(); id != b.ID {
		return common.NewBootstrapErr(common.IntegrityMismatch,
			"block at %s: id %s, computed %s", b.Header.Slot, b.ID, id)
	}
	return nil
}

// Encode ...
func (b ExportedBlock) Encode(w *codec.Writer) {
	b.ID.Encode(w)
	b.Header.Encode(w)
	w.WriteBool(b.IsFinal)
}

// DecodeExportedBlock ...
func DecodeExportedBlock(r *codec.Reader, lim Limits) (ExportedBlock, error) {
	var b ExportedBlock
	var err error
	if b.ID, err = DecodeIdentifier(r); err != nil {
		return b, err
	}
	if b.Header, err = DecodeBlockHeader(r, lim); err != nil {
		return b, err
	}
	b.IsFinal, err = r.Bool()
	return b, err
}

// BestParent is the best block of a thread.
type BestParent struct {
	ID     Identifier
	Period uint64
}

// Clique is a maximal set of compatible blocks.
type Clique struct {
	Blocks        []Identifier
	Fitness       uint64
	IsBlockclique bool
}

// GraphMeta is the fork-choice state that accompanies the exported blocks.
type GraphMeta struct {
	BestParents        []BestParent
	LatestFinalPeriods []uint64
	MaxCliques         []Clique
}

// Encode ...
func (m GraphMeta) Encode(w *codec.Writer) {
	codec.WriteList(w, m.BestParents, func(w *codec.Writer, bp BestParent) {
		bp.ID.Encode(w)
		w.WriteUint64(bp.Period)
	})
	codec.WriteList(w, m.LatestFinalPeriods, func(w *codec.Writer, p uint64) { w.WriteUint64(p) })
	codec.WriteList(w, m.MaxCliques, func(w *codec.Writer, c Clique) {
		codec.WriteItems(w, c.Blocks)
		w.WriteUint64(c.Fitness)
		w.WriteBool(c.IsBlockclique)
	})
}

// DecodeGraphMeta ...
func DecodeGraphMeta(r *codec.Reader, lim Limits) (GraphMeta, error) {
	var m GraphMeta
	var err error
	m.BestParents, err = codec.ReadList(r, int(lim.ThreadCount), func(r *codec.Reader) (BestParent, error) {
		var bp BestParent
		var err error
		if bp.ID, err = DecodeIdentifier(r); err != nil {
			return bp, err
		}
		bp.Period, err = r.Uint64()
		return bp, err
	})
	if err != nil {
		return m, err
	}
	m.LatestFinalPeriods, err = codec.ReadList(r, int(lim.ThreadCount), func(r *codec.Reader) (uint64, error) {
		return r.Uint64()
	})
	if err != nil {
		return m, err
	}
	m.MaxCliques, err = codec.ReadList(r, lim.MaxListLength, func(r *codec.Reader) (Clique, error) {
		var c Clique
		var err error
		if c.Blocks, err = codec.ReadList(r, lim.MaxListLength, DecodeIdentifier); err != nil {
			return c, err
		}
		if c.Fitness, err = r.Uint64(); err != nil {
			return c, err
		}
		c.IsBlockclique, err = r.Bool()
		return c, err
	})
	return m, err
}
