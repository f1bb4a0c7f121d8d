package models

import (
	"github.com/mosaicnetworks/bootsync/src/codec"
	"github.com/mosaicnetworks/bootsync/src/common"
)

// DenunciationKind is the kind of misbehaviour a denunciation proves.
type DenunciationKind uint8

const (
	// BlockHeaderDenunciation denounces two block headers produced for the
	// same slot.
	BlockHeaderDenunciation DenunciationKind = iota
	// EndorsementDenunciation denounces two endorsements with the same slot
	// and index.
	EndorsementDenunciation
)

// DenunciationIndex identifies a denounced misbehaviour. Executed
// denunciations are recorded under their index so that the same
// misbehaviour is not punished twice. Index is always zero for block header
// denunciations.
type DenunciationIndex struct {
	Slot  Slot
	Kind  DenunciationKind
	Index uint32
}

// Compare orders denunciations by slot, then kind, then index.
func (d DenunciationIndex) Compare(o DenunciationIndex) int {
	if c := d.Slot.Compare(o.Slot); c != 0 {
		return c
	}
	switch {
	case d.Kind < o.Kind:
		return -1
	case d.Kind > o.Kind:
		return 1
	case d.Index < o.Index:
		return -1
	case d.Index > o.Index:
		return 1
	default:
		return 0
	}
}

// Encode ...
func (d DenunciationIndex) Encode(w *codec.Writer) {
	d.Slot.Encode(w)
	w.WriteUint8(uint8(d.Kind))
	w.WriteUint32(d.Index)
}

// DecodeDenunciationIndex ...
func DecodeDenunciationIndex(r *codec.Reader, lim Limits) (DenunciationIndex, error) {
	var d DenunciationIndex
	var err error
	if d.Slot, err = DecodeSlot(r, lim); err != nil {
		return d, err
	}
	kind, err := r.Uint8()
	if err != nil {
		return d, err
	}
	d.Kind = DenunciationKind(kind)
	if d.Kind > EndorsementDenunciation {
		return d, common.NewBootstrapErr(common.DecodeError, "invalid denunciation kind %d", kind)
	}
	if d.Index, err = r.Uint32(); err != nil {
		return d, err
	}
	if d.Kind == BlockHeaderDenunciation && d.Index != 0 {
		return d, common.NewBootstrapErr(common.DecodeError,
			"block header denunciation at %s with index %d", d.Slot, d.Index)
	}
	return d, nil
}
