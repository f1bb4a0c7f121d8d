package state

import (
	"errors"
	"io/ioutil"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/mosaicnetworks/bootsync/src/common"
	"github.com/mosaicnetworks/bootsync/src/cursor"
	"github.com/mosaicnetworks/bootsync/src/models"
)

func ledgerItem(n uint64, balance models.Amount) models.LedgerItem {
	return models.LedgerItem{
		Address: models.AddressFromUint64(n),
		Entry:   models.LedgerEntry{Balance: balance},
	}
}

func asyncMessage(fee models.Amount, period uint64, index uint64) models.AsyncMessage {
	m := models.AsyncMessage{
		EmissionSlot:  models.Slot{Period: period},
		EmissionIndex: index,
		Fee:           fee,
		Handler:       "h",
	}
	m.Seal()
	return m
}

func newInmemState(t *testing.T, history int) *FinalState {
	s, err := NewFinalState(NewInmemKV(), models.DefaultLimits(), history, common.NewTestEntry(t, "state"))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	return s
}

func readAll[K, T any](t *testing.T, p cursor.Provider[K, T], lim cursor.Limits) []T {
	var res []T
	c := cursor.Start[K]()
	for i := 0; !c.IsFinished(); i++ {
		if i > 1000 {
			t.Fatalf("pagination does not terminate")
		}
		items, next, err := p.ReadBatch(c, lim)
		if err != nil {
			t.Fatalf("err: %v", err)
		}
		res = append(res, items...)
		c = next
	}
	return res
}

func checkFingerprint(t *testing.T, s *FinalState) {
	fp, err := s.ComputeFingerprint()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if fp != s.Fingerprint() {
		t.Fatalf("incremental fingerprint %s != full scan %s", s.Fingerprint(), fp)
	}
}

func TestFinalizeAndProviders(t *testing.T) {
	s := newInmemState(t, 10)

	err := s.Finalize(models.Slot{Period: 1}, models.StateChanges{
		LedgerSets: []models.LedgerItem{ledgerItem(3, 30), ledgerItem(1, 10), ledgerItem(2, 20)},
		AsyncSets: []models.AsyncMessage{
			asyncMessage(1, 1, 0),
			asyncMessage(5, 2, 0),
			asyncMessage(5, 1, 1),
			asyncMessage(5, 1, 0),
		},
		CycleSets:   []models.CycleInfo{{Cycle: 2}, {Cycle: 1, Complete: true}},
		CreditSets:  []models.SlotCredits{{Slot: models.Slot{Period: 4}, Credits: []models.Credit{{Address: models.AddressFromUint64(1), Amount: 1}}}},
		OpSets:      []models.ExecutedOp{{Key: models.ExecKey{Expiration: models.Slot{Period: 9}}, Success: true}},
		CycleDeletes: []uint64{7},
		DenunciationSets: []models.DenunciationIndex{
			{Slot: models.Slot{Period: 1}, Kind: models.EndorsementDenunciation, Index: 3},
			{Slot: models.Slot{Period: 1}},
		},
	})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	checkFingerprint(t, s)

	lim := cursor.Limits{MaxItems: 2, MaxBytes: 1 << 20}

	ledger := readAll(t, s.Ledger(), lim)
	if len(ledger) != 3 {
		t.Fatalf("ledger has %d entries", len(ledger))
	}
	for i, it := range ledger {
		if it.Address != models.AddressFromUint64(uint64(i+1)) {
			t.Fatalf("ledger[%d] is %s", i, it.Address)
		}
	}

	pool := readAll(t, s.AsyncPool(), lim)
	expected := []models.AsyncMessageID{
		asyncMessage(5, 1, 0).ID(),
		asyncMessage(5, 1, 1).ID(),
		asyncMessage(5, 2, 0).ID(),
		asyncMessage(1, 1, 0).ID(),
	}
	if len(pool) != len(expected) {
		t.Fatalf("async pool has %d messages", len(pool))
	}
	for i, m := range pool {
		if m.ID() != expected[i] {
			t.Fatalf("pool[%d] is %+v, expected %+v", i, m.ID(), expected[i])
		}
		if err := m.Verify(); err != nil {
			t.Fatalf("err: %v", err)
		}
	}

	cycles := readAll(t, s.Cycles(), lim)
	if len(cycles) != 2 || cycles[0].Cycle != 1 || !cycles[0].Complete || cycles[1].Cycle != 2 {
		t.Fatalf("cycles %+v", cycles)
	}

	if credits := readAll(t, s.Credits(), lim); len(credits) != 1 {
		t.Fatalf("credits %+v", credits)
	}
	if ops := readAll(t, s.ExecutedOps(), lim); len(ops) != 1 || !ops[0].Success {
		t.Fatalf("executed ops %+v", ops)
	}

	denunciations := readAll(t, s.ExecutedDenunciations(), lim)
	expectedDenunciations := []models.DenunciationIndex{
		{Slot: models.Slot{Period: 1}},
		{Slot: models.Slot{Period: 1}, Kind: models.EndorsementDenunciation, Index: 3},
	}
	if !reflect.DeepEqual(denunciations, expectedDenunciations) {
		t.Fatalf("executed denunciations %+v", denunciations)
	}

	if err := s.Finalize(models.Slot{Period: 2}, models.StateChanges{
		DenunciationDeletes: []models.DenunciationIndex{{Slot: models.Slot{Period: 1}}},
	}); err != nil {
		t.Fatalf("err: %v", err)
	}
	checkFingerprint(t, s)
	if d := readAll(t, s.ExecutedDenunciations(), lim); len(d) != 1 || d[0].Kind != models.EndorsementDenunciation {
		t.Fatalf("executed denunciations after delete %+v", d)
	}
}

func TestFinalizeOrder(t *testing.T) {
	s := newInmemState(t, 10)
	if err := s.Finalize(models.Slot{Period: 2}, models.StateChanges{}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if err := s.Finalize(models.Slot{Period: 1}, models.StateChanges{}); err == nil {
		t.Fatalf("finalizing an older slot should fail")
	}
	if err := s.Finalize(models.Slot{Period: 2}, models.StateChanges{}); err == nil {
		t.Fatalf("finalizing the same slot twice should fail")
	}
}

func TestFingerprintTracksOverwritesAndDeletes(t *testing.T) {
	s := newInmemState(t, 10)

	slot := models.Slot{Period: 1}
	steps := []models.StateChanges{
		{LedgerSets: []models.LedgerItem{ledgerItem(1, 10), ledgerItem(2, 20)}},
		{LedgerSets: []models.LedgerItem{ledgerItem(1, 11)}, LedgerDeletes: []models.Address{models.AddressFromUint64(2)}},
		// set then delete the same key within a slot
		{LedgerSets: []models.LedgerItem{ledgerItem(3, 30)}, LedgerDeletes: []models.Address{models.AddressFromUint64(3)}},
		// delete of a missing key
		{LedgerDeletes: []models.Address{models.AddressFromUint64(42)}},
	}
	for _, c := range steps {
		if err := s.Finalize(slot, c); err != nil {
			t.Fatalf("err: %v", err)
		}
		checkFingerprint(t, s)
		slot = slot.Next(32)
	}

	e, ok, err := s.LedgerEntry(models.AddressFromUint64(1))
	if err != nil || !ok || e.Balance != 11 {
		t.Fatalf("entry %+v %v %v", e, ok, err)
	}
	if _, ok, _ := s.LedgerEntry(models.AddressFromUint64(2)); ok {
		t.Fatalf("deleted entry still present")
	}
}

func TestChangesSince(t *testing.T) {
	s := newInmemState(t, 3)

	slots := []models.Slot{{Period: 1}, {Period: 2}, {Period: 3}, {Period: 4}, {Period: 5}}
	for i, slot := range slots {
		c := models.StateChanges{LedgerSets: []models.LedgerItem{ledgerItem(uint64(i), models.Amount(i))}}
		if err := s.Finalize(slot, c); err != nil {
			t.Fatalf("err: %v", err)
		}
	}

	d, err := s.ChangesSince(models.Slot{Period: 3})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if d.FromSlot != (models.Slot{Period: 3}) || d.EndSlot != (models.Slot{Period: 5}) {
		t.Fatalf("delta bounds %s %s", d.FromSlot, d.EndSlot)
	}
	if len(d.Slots) != 2 || d.Slots[0].Slot != slots[3] || d.Slots[1].Slot != slots[4] {
		t.Fatalf("delta slots %+v", d.Slots)
	}
	if d.Fingerprint != s.Fingerprint() {
		t.Fatalf("delta fingerprint mismatch")
	}

	// history holds slots 3, 4 and 5, so changes after 2 are still known
	if _, err := s.ChangesSince(models.Slot{Period: 2}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if _, err := s.ChangesSince(models.Slot{Period: 1}); !errors.Is(err, ErrHistoryPruned) {
		t.Fatalf("expected ErrHistoryPruned, got %v", err)
	}

	d, err = s.ChangesSince(models.Slot{Period: 5})
	if err != nil || len(d.Slots) != 0 {
		t.Fatalf("empty delta expected: %+v %v", d, err)
	}
	if _, err := s.ChangesSince(models.Slot{Period: 6}); err == nil {
		t.Fatalf("a cutoff in the future should fail")
	}
}

func TestLoadAndApplyDelta(t *testing.T) {
	server := newInmemState(t, 10)
	if err := server.Finalize(models.Slot{Period: 1}, models.StateChanges{
		LedgerSets: []models.LedgerItem{ledgerItem(1, 10), ledgerItem(2, 20)},
	}); err != nil {
		t.Fatalf("err: %v", err)
	}
	cutoff := server.FinalSlot()

	// the client copies the ledger while the server keeps finalizing
	lim := cursor.Limits{MaxItems: 1, MaxBytes: 1 << 20}
	first, c, err := server.Ledger().ReadBatch(cursor.Start[models.Address](), lim)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if err := server.Finalize(models.Slot{Period: 2}, models.StateChanges{
		LedgerSets:    []models.LedgerItem{ledgerItem(0, 5)},
		LedgerDeletes: []models.Address{models.AddressFromUint64(2)},
	}); err != nil {
		t.Fatalf("err: %v", err)
	}
	second, _, err := server.Ledger().ReadBatch(c, lim)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	client := newInmemState(t, 10)
	for _, batch := range [][]models.LedgerItem{first, second} {
		if err := client.Load(models.StateChanges{LedgerSets: batch}); err != nil {
			t.Fatalf("err: %v", err)
		}
	}
	if client.FinalSlot() != (models.Slot{}) {
		t.Fatalf("Load should not move the final slot")
	}

	delta, err := server.ChangesSince(cutoff)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if err := client.ApplyDelta(delta); err != nil {
		t.Fatalf("err: %v", err)
	}

	if client.Fingerprint() != server.Fingerprint() {
		t.Fatalf("client fingerprint %s != server %s", client.Fingerprint(), server.Fingerprint())
	}
	if client.FinalSlot() != server.FinalSlot() {
		t.Fatalf("client slot %s != server %s", client.FinalSlot(), server.FinalSlot())
	}
	checkFingerprint(t, client)

	// the bootstrapped state can serve the same changes in turn
	d, err := client.ChangesSince(cutoff)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !reflect.DeepEqual(d, delta) {
		t.Fatalf("bootstrapped history differs: %+v != %+v", d, delta)
	}

	// replaying an overlapping delta is harmless
	if err := client.ApplyDelta(delta); err != nil {
		t.Fatalf("err: %v", err)
	}
	if client.Fingerprint() != server.Fingerprint() {
		t.Fatalf("replayed delta changed the fingerprint")
	}
	d, err = client.ChangesSince(cutoff)
	if err != nil || !reflect.DeepEqual(d, delta) {
		t.Fatalf("replayed delta duplicated history: %+v %v", d, err)
	}
}

func TestBadgerFinalState(t *testing.T) {
	os.Mkdir("test_data", os.ModeDir|0777)
	dir, err := ioutil.TempDir("test_data", "badger")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer os.RemoveAll(dir)

	logger := common.NewTestEntry(t, "state")

	kv, err := NewBadgerKV(dir, logger)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	s, err := NewFinalState(kv, models.DefaultLimits(), 10, logger)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	if err := s.Finalize(models.Slot{Period: 1, Thread: 3}, models.StateChanges{
		LedgerSets: []models.LedgerItem{ledgerItem(2, 20), ledgerItem(1, 10)},
		AsyncSets:  []models.AsyncMessage{asyncMessage(3, 1, 0)},
	}); err != nil {
		t.Fatalf("err: %v", err)
	}
	checkFingerprint(t, s)

	ledger := readAll(t, s.Ledger(), cursor.Limits{MaxItems: 1, MaxBytes: 1 << 20})
	if len(ledger) != 2 || ledger[0].Address != models.AddressFromUint64(1) {
		t.Fatalf("ledger %+v", ledger)
	}

	slot, fp := s.FinalSlot(), s.Fingerprint()
	if err := s.Close(); err != nil {
		t.Fatalf("err: %v", err)
	}

	kv, err = NewBadgerKV(dir, logger)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	reloaded, err := NewFinalState(kv, models.DefaultLimits(), 10, logger)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer reloaded.Close()

	if reloaded.FinalSlot() != slot || reloaded.Fingerprint() != fp {
		t.Fatalf("reloaded %s %s, expected %s %s", reloaded.FinalSlot(), reloaded.Fingerprint(), slot, fp)
	}
	if _, err := reloaded.ChangesSince(models.Slot{}); !errors.Is(err, ErrHistoryPruned) {
		t.Fatalf("history is not persisted, expected ErrHistoryPruned, got %v", err)
	}
}

func TestInmemKVAscend(t *testing.T) {
	kv := NewInmemKV()
	kv.Write([]Op{
		{Key: []byte("a1"), Value: []byte("x")},
		{Key: []byte("b2"), Value: []byte("x")},
		{Key: []byte("b1"), Value: []byte("x")},
		{Key: []byte("b3"), Value: []byte("x")},
		{Key: []byte("c1"), Value: []byte("x")},
	})
	kv.Write([]Op{{Key: []byte("b2"), Delete: true}})

	var keys []string
	kv.Ascend([]byte("b"), []byte("b2"), func(k, v []byte) bool {
		keys = append(keys, string(k))
		return true
	})
	if !reflect.DeepEqual(keys, []string{"b3"}) {
		t.Fatalf("keys after deleted b2: %v", keys)
	}

	keys = nil
	kv.Ascend([]byte("b"), nil, func(k, v []byte) bool {
		keys = append(keys, string(k))
		return true
	})
	if !reflect.DeepEqual(keys, []string{"b1", "b3"}) {
		t.Fatalf("keys with prefix b: %v", keys)
	}

	if _, err := kv.Get([]byte("b2")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
	if kv.Len() != 4 {
		t.Fatalf("Len %d", kv.Len())
	}
}

func TestInmemKVAscendDoesNotBlockWrite(t *testing.T) {
	kv := NewInmemKV()
	kv.Write([]Op{
		{Key: []byte("a1"), Value: []byte("x")},
		{Key: []byte("a2"), Value: []byte("x")},
	})

	written := make(chan struct{})
	var keys []string
	kv.Ascend([]byte("a"), nil, func(k, v []byte) bool {
		if len(keys) == 0 {
			go func() {
				kv.Write([]Op{
					{Key: []byte("a3"), Value: []byte("y")},
					{Key: []byte("a2"), Delete: true},
				})
				close(written)
			}()
			select {
			case <-written:
			case <-time.After(2 * time.Second):
				t.Fatalf("Write blocked by a running Ascend")
			}
		}
		keys = append(keys, string(k))
		return true
	})

	// the running iteration keeps the view it started with
	if !reflect.DeepEqual(keys, []string{"a1", "a2"}) {
		t.Fatalf("keys %v", keys)
	}
	if _, err := kv.Get([]byte("a3")); err != nil {
		t.Fatalf("err: %v", err)
	}
	if kv.Len() != 2 {
		t.Fatalf("Len %d", kv.Len())
	}
}

func TestFinalizeDuringProviderRead(t *testing.T) {
	s := newInmemState(t, 10)
	if err := s.Finalize(models.Slot{Period: 1}, models.StateChanges{
		LedgerSets: []models.LedgerItem{ledgerItem(1, 10), ledgerItem(2, 20), ledgerItem(3, 30)},
	}); err != nil {
		t.Fatalf("err: %v", err)
	}

	done := make(chan error)
	var n int
	s.kv.Ascend([]byte{ledgerPrefix}, nil, func(k, v []byte) bool {
		if n == 0 {
			go func() {
				done <- s.Finalize(models.Slot{Period: 2}, models.StateChanges{
					LedgerSets: []models.LedgerItem{ledgerItem(4, 40)},
				})
			}()
			select {
			case err := <-done:
				if err != nil {
					t.Fatalf("err: %v", err)
				}
			case <-time.After(2 * time.Second):
				t.Fatalf("Finalize blocked by a running ledger read")
			}
		}
		n++
		return true
	})
	if n != 3 {
		t.Fatalf("read %d ledger entries", n)
	}
	if l := readAll(t, s.Ledger(), cursor.Limits{MaxItems: 10, MaxBytes: 1 << 20}); len(l) != 4 {
		t.Fatalf("ledger has %d entries after Finalize", len(l))
	}
	checkFingerprint(t, s)
}

func TestKeysSortLikeTypes(t *testing.T) {
	ids := []models.AsyncMessageID{
		{Priority: 9, EmissionSlot: models.Slot{Period: 1}},
		{Priority: 9, EmissionSlot: models.Slot{Period: 1}, EmissionIndex: 1},
		{Priority: 9, EmissionSlot: models.Slot{Period: 2}},
		{Priority: 0, EmissionSlot: models.Slot{Period: 0}},
	}
	for i := 1; i < len(ids); i++ {
		a, b := asyncKey(ids[i-1]), asyncKey(ids[i])
		if string(a) >= string(b) {
			t.Fatalf("key of %+v does not sort before key of %+v", ids[i-1], ids[i])
		}
		back, err := parseAsyncKey(b)
		if err != nil || back != ids[i] {
			t.Fatalf("parseAsyncKey => %+v %v", back, err)
		}
	}

	ek := models.ExecKey{Expiration: models.Slot{Period: 3, Thread: 4}, ID: models.IdentifierFromString("x")}
	if back, err := parseExecKey(execKey(ek)); err != nil || back != ek {
		t.Fatalf("parseExecKey => %+v %v", back, err)
	}
	d := models.DenunciationIndex{Slot: models.Slot{Period: 3, Thread: 4}, Kind: models.EndorsementDenunciation, Index: 7}
	if back, err := parseDenunciationKey(denunciationKey(d)); err != nil || back != d {
		t.Fatalf("parseDenunciationKey => %+v %v", back, err)
	}
	if _, err := parseLedgerKey(execKey(ek)); err == nil {
		t.Fatalf("parsing a key with the wrong prefix should fail")
	}
}
