package messages

import (
	"reflect"
	"testing"

	"github.com/mosaicnetworks/bootsync/src/common"
	"github.com/mosaicnetworks/bootsync/src/cursor"
	"github.com/mosaicnetworks/bootsync/src/models"
	"github.com/mosaicnetworks/bootsync/src/peers"
)

func TestRegistryIsInjective(t *testing.T) {
	seen := map[uint8]Kind{}
	for _, k := range Kinds() {
		tag := k.Tag()
		if other, ok := seen[tag]; ok {
			t.Fatalf("%s and %s share tag 0x%02X", k, other, tag)
		}
		seen[tag] = k

		back, err := KindOf(tag)
		if err != nil {
			t.Fatalf("err: %v", err)
		}
		if back != k {
			t.Fatalf("KindOf(%s.Tag()) = %s", k, back)
		}
	}
}

func TestUnknownTag(t *testing.T) {
	for tag := 0; tag < 256; tag++ {
		if _, known := func() (Kind, bool) {
			for _, k := range Kinds() {
				if k.Tag() == uint8(tag) {
					return k, true
				}
			}
			return 0, false
		}(); known {
			continue
		}
		if _, err := Decode(uint8(tag), nil, models.DefaultLimits()); !common.Is(err, common.UnknownMessageType) {
			t.Fatalf("tag 0x%02X: expected UnknownMessageType, got %v", tag, err)
		}
	}
}

func sampleMessages() []Message {
	slot := models.Slot{Period: 7, Thread: 2}
	block := models.NewExportedBlock(models.BlockHeader{
		Slot:    slot,
		Parents: []models.Identifier{models.IdentifierFromString("parent")},
		Creator: models.AddressFromUint64(3),
	}, true)
	msg := models.AsyncMessage{
		EmissionSlot: slot,
		Sender:       models.AddressFromUint64(1),
		Destination:  models.AddressFromUint64(2),
		Handler:      "f",
		Fee:          3,
		Data:         []byte{1, 2, 3},
	}
	msg.Seal()

	return []Message{
		&ClientHello{
			Version: ProtocolVersion,
			Nonce:   [NonceSize]byte{1, 2, 3},
			Cursors: Cursors{
				Graph:       cursor.Done[models.BlockKey](),
				Ledger:      cursor.InProgressAt(models.AddressFromUint64(12)),
				AsyncPool:   cursor.InProgressAt(msg.ID()),
				Cycles:      cursor.InProgressAt(uint64(4)),
				Credits:     cursor.Start[models.Slot](),
				ExecutedOps: cursor.InProgressAt(models.ExecKey{Expiration: slot, ID: models.IdentifierFromString("op")}),
				Denunciations: cursor.InProgressAt(models.DenunciationIndex{
					Slot: slot, Kind: models.EndorsementDenunciation, Index: 3}),
			},
			ResumeSlot: &slot,
		},
		&ServerHello{
			Version:   ProtocolVersion,
			Time:      1234567890,
			FinalSlot: slot,
			PubKey:    []byte{4, 5, 6},
			Signature: "abc|def",
			Peers:     []peers.Peer{{NetAddr: "127.0.0.1:1234", PubKeyHex: "0X04", Moniker: "alice"}},
		},
		&GraphBatch{
			Cutoff:   slot,
			Blocks:   []models.ExportedBlock{block},
			Finished: true,
			Meta:     &models.GraphMeta{BestParents: []models.BestParent{{ID: block.ID, Period: 7}}},
		},
		&GraphBatch{Cutoff: slot, Blocks: []models.ExportedBlock{block}},
		&LedgerBatch{
			Cutoff:   slot,
			Items:    []models.LedgerItem{{Address: models.AddressFromUint64(1), Entry: models.LedgerEntry{Balance: 10}}},
			Finished: false,
		},
		&AsyncPoolBatch{Cutoff: slot, Messages: []models.AsyncMessage{msg}, Finished: true},
		&CycleBatch{Cutoff: slot, Cycles: []models.CycleInfo{{Cycle: 1, Complete: true}}, Finished: true},
		&CreditsBatch{Cutoff: slot, Finished: true},
		&ExecutedOpsBatch{Cutoff: slot, Ops: []models.ExecutedOp{{Key: models.ExecKey{Expiration: slot}, Success: true}}, Finished: true},
		&ExecutedDenunciationsBatch{
			Cutoff:        slot,
			Denunciations: []models.DenunciationIndex{{Slot: slot}, {Slot: slot, Kind: models.EndorsementDenunciation, Index: 1}},
			Finished:      true,
		},
		&StateDelta{Delta: models.StateDelta{FromSlot: slot, EndSlot: slot, Fingerprint: models.IdentifierFromString("fp")}},
		&Done{},
		&Ack{Tag: LedgerBatchKind.Tag()},
		&Error{Code: common.ProtocolViolation, Message: "out of order"},
	}
}

func TestMessageRoundTrip(t *testing.T) {
	msgs := sampleMessages()

	kinds := map[Kind]bool{}
	for _, m := range msgs {
		kinds[m.Kind()] = true
	}
	if len(kinds) != len(Kinds()) {
		t.Fatalf("samples cover %d kinds out of %d", len(kinds), len(Kinds()))
	}

	for _, m := range msgs {
		tag, payload, err := Encode(m)
		if err != nil {
			t.Fatalf("%s: err: %v", m.Kind(), err)
		}
		res, err := Decode(tag, payload, models.DefaultLimits())
		if err != nil {
			t.Fatalf("%s: err: %v", m.Kind(), err)
		}
		if !reflect.DeepEqual(res, m) {
			t.Fatalf("%s: decoded %#v, expected %#v", m.Kind(), res, m)
		}
	}
}

func TestTrailingBytesRejected(t *testing.T) {
	tag, payload, err := Encode(&Ack{Tag: 1})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	payload = append(payload, 0)
	if _, err := Decode(tag, payload, models.DefaultLimits()); !common.Is(err, common.DecodeError) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
}

func TestBatchListBound(t *testing.T) {
	items := make([]models.LedgerItem, 5)
	for i := range items {
		items[i].Address = models.AddressFromUint64(uint64(i))
	}
	tag, payload, err := Encode(&LedgerBatch{Items: items})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	lim := models.DefaultLimits()
	lim.MaxListLength = 4
	if _, err := Decode(tag, payload, lim); !common.Is(err, common.DecodeError) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
}

func TestGraphMetaOnlyWithLastBatch(t *testing.T) {
	tag, payload, err := Encode(&GraphBatch{Meta: &models.GraphMeta{}})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if _, err := Decode(tag, payload, models.DefaultLimits()); !common.Is(err, common.DecodeError) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
}
