package state

import (
	"encoding/binary"
	"fmt"

	"github.com/mosaicnetworks/bootsync/src/models"
)

// Key layout. Every key starts with a one byte prefix naming its sub-state,
// followed by a fixed-width big-endian encoding that sorts like the typed key.
const (
	ledgerPrefix  byte = 'L'
	asyncPrefix   byte = 'A'
	cyclePrefix   byte = 'P'
	creditsPrefix byte = 'C'
	execPrefix    byte = 'E'
	denunPrefix   byte = 'D'
	metaPrefix    byte = 'M'
)

var (
	metaKey  = []byte{metaPrefix}
	prefixes = []byte{ledgerPrefix, asyncPrefix, cyclePrefix, creditsPrefix, execPrefix, denunPrefix}
)

func appendSlot(b []byte, s models.Slot) []byte {
	b = binary.BigEndian.AppendUint64(b, s.Period)
	return append(b, s.Thread)
}

func readSlot(b []byte) models.Slot {
	return models.Slot{Period: binary.BigEndian.Uint64(b), Thread: b[8]}
}

func checkKey(k []byte, prefix byte, size int) error {
	if len(k) != size+1 || k[0] != prefix {
		return fmt.Errorf("malformed key %X for prefix %c", k, prefix)
	}
	return nil
}

func ledgerKey(a models.Address) []byte {
	return append([]byte{ledgerPrefix}, a[:]...)
}

func parseLedgerKey(k []byte) (models.Address, error) {
	var a models.Address
	if err := checkKey(k, ledgerPrefix, len(a)); err != nil {
		return a, err
	}
	copy(a[:], k[1:])
	return a, nil
}

// The priority is inverted so that higher priorities sort first.
func asyncKey(id models.AsyncMessageID) []byte {
	b := []byte{asyncPrefix}
	b = binary.BigEndian.AppendUint64(b, ^id.Priority)
	b = appendSlot(b, id.EmissionSlot)
	return binary.BigEndian.AppendUint64(b, id.EmissionIndex)
}

func parseAsyncKey(k []byte) (models.AsyncMessageID, error) {
	var id models.AsyncMessageID
	if err := checkKey(k, asyncPrefix, 8+9+8); err != nil {
		return id, err
	}
	id.Priority = ^binary.BigEndian.Uint64(k[1:])
	id.EmissionSlot = readSlot(k[9:])
	id.EmissionIndex = binary.BigEndian.Uint64(k[18:])
	return id, nil
}

func cycleKey(c uint64) []byte {
	return binary.BigEndian.AppendUint64([]byte{cyclePrefix}, c)
}

func parseCycleKey(k []byte) (uint64, error) {
	if err := checkKey(k, cyclePrefix, 8); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(k[1:]), nil
}

func creditsKey(s models.Slot) []byte {
	return appendSlot([]byte{creditsPrefix}, s)
}

func parseCreditsKey(k []byte) (models.Slot, error) {
	if err := checkKey(k, creditsPrefix, 9); err != nil {
		return models.Slot{}, err
	}
	return readSlot(k[1:]), nil
}

func execKey(ek models.ExecKey) []byte {
	b := appendSlot([]byte{execPrefix}, ek.Expiration)
	return append(b, ek.ID[:]...)
}

func parseExecKey(k []byte) (models.ExecKey, error) {
	var ek models.ExecKey
	if err := checkKey(k, execPrefix, 9+models.IdentifierSize); err != nil {
		return ek, err
	}
	ek.Expiration = readSlot(k[1:])
	copy(ek.ID[:], k[10:])
	return ek, nil
}

func denunciationKey(d models.DenunciationIndex) []byte {
	b := appendSlot([]byte{denunPrefix}, d.Slot)
	b = append(b, byte(d.Kind))
	return binary.BigEndian.AppendUint32(b, d.Index)
}

func parseDenunciationKey(k []byte) (models.DenunciationIndex, error) {
	var d models.DenunciationIndex
	if err := checkKey(k, denunPrefix, 9+1+4); err != nil {
		return d, err
	}
	d.Slot = readSlot(k[1:])
	d.Kind = models.DenunciationKind(k[10])
	d.Index = binary.BigEndian.Uint32(k[11:])
	return d, nil
}
