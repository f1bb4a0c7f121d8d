package models

import (
	"github.com/mosaicnetworks/bootsync/src/codec"
	"github.com/mosaicnetworks/bootsync/src/common"
)

// AsyncMessageID orders the async pool: highest priority first, then oldest
// emission slot, then lowest emission index.
type AsyncMessageID struct {
	Priority      uint64
	EmissionSlot  Slot
	EmissionIndex uint64
}

// Compare ...
func (id AsyncMessageID) Compare(o AsyncMessageID) int {
	switch {
	case id.Priority > o.Priority:
		return -1
	case id.Priority < o.Priority:
		return 1
	}
	if c := id.EmissionSlot.Compare(o.EmissionSlot); c != 0 {
		return c
	}
	switch {
	case id.EmissionIndex < o.EmissionIndex:
		return -1
	case id.EmissionIndex > o.EmissionIndex:
		return 1
	}
	return 0
}

// Encode ...
func (id AsyncMessageID) Encode(w *codec.Writer) {
	w.WriteUint64(id.Priority)
	id.EmissionSlot.Encode(w)
	w.WriteUint64(id.EmissionIndex)
}

// DecodeAsyncMessageID ...
func DecodeAsyncMessageID(r *codec.Reader, lim Limits) (AsyncMessageID, error) {
	var id AsyncMessageID
	var err error
	if id.Priority, err = r.Uint64(); err != nil {
		return id, err
	}
	if id.EmissionSlot, err = DecodeSlot(r, lim); err != nil {
		return id, err
	}
	id.EmissionIndex, err = r.Uint64()
	return id, err
}

// AsyncMessage is a deferred call waiting in the async pool. Hash is the
// content identifier of every other field.
type AsyncMessage struct {
	EmissionSlot  Slot
	EmissionIndex uint64
	Sender        Address
	Destination   Address
	Handler       string
	MaxGas        uint64
	Fee           Amount
	Coins         Amount
	ValidityStart Slot
	ValidityEnd   Slot
	Data          []byte
	Hash          Identifier
}

// ID returns the pool key of the message. The fee is the priority.
func (m AsyncMessage) ID() AsyncMessageID {
	return AsyncMessageID{
		Priority:      uint64(m.Fee),
		EmissionSlot:  m.EmissionSlot,
		EmissionIndex: m.EmissionIndex,
	}
}

type asyncContent AsyncMessage

func (c asyncContent) Encode(w *codec.Writer) {
	c.EmissionSlot.Encode(w)
	w.WriteUint64(c.EmissionIndex)
	c.Sender.Encode(w)
	c.Destination.Encode(w)
	w.WriteString(c.Handler)
	w.WriteUint64(c.MaxGas)
	c.Fee.Encode(w)
	c.Coins.Encode(w)
	c.ValidityStart.Encode(w)
	c.ValidityEnd.Encode(w)
	w.WriteBytes(c.Data)
}

// ComputeHash hashes the content of the message, excluding Hash itself.
func (m AsyncMessage) ComputeHash() Identifier {
	return hashOf(asyncContent(m))
}

// Seal sets Hash from the content.
func (m *AsyncMessage) Seal() {
	m.Hash = m.ComputeHash()
}

// Verify checks the asserted hash against the content.
func (m AsyncMessage) Verify() error {
	if h := m.ComputeHash(); h != m.Hash {
		return common.NewBootstrapErr(common.IntegrityMismatch,
			"async message %d@%s: hash %s, computed %s", m.EmissionIndex, m.EmissionSlot, m.Hash, h)
	}
	return nil
}

// Encode ...
func (m AsyncMessage) Encode(w *codec.Writer) {
	asyncContent(m).Encode(w)
	m.Hash.Encode(w)
}

// DecodeAsyncMessage decodes a message without checking its hash.
func DecodeAsyncMessage(r *codec.Reader, lim Limits) (AsyncMessage, error) {
	var m AsyncMessage
	var err error
	if m.EmissionSlot, err = DecodeSlot(r, lim); err != nil {
		return m, err
	}
	if m.EmissionIndex, err = r.Uint64(); err != nil {
		return m, err
	}
	if m.Sender, err = DecodeAddress(r); err != nil {
		return m, err
	}
	if m.Destination, err = DecodeAddress(r); err != nil {
		return m, err
	}
	if m.Handler, err = r.String(lim.MaxHandlerLength); err != nil {
		return m, err
	}
	if m.MaxGas, err = r.Uint64(); err != nil {
		return m, err
	}
	if m.Fee, err = DecodeAmount(r); err != nil {
		return m, err
	}
	if m.Coins, err = DecodeAmount(r); err != nil {
		return m, err
	}
	if m.ValidityStart, err = DecodeSlot(r, lim); err != nil {
		return m, err
	}
	if m.ValidityEnd, err = DecodeSlot(r, lim); err != nil {
		return m, err
	}
	if m.Data, err = r.Bytes(lim.MaxAsyncDataLength); err != nil {
		return m, err
	}
	m.Hash, err = DecodeIdentifier(r)
	return m, err
}
