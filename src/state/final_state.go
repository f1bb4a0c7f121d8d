package state

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/ugorji/go/codec"

	bcodec "github.com/mosaicnetworks/bootsync/src/codec"
	"github.com/mosaicnetworks/bootsync/src/models"
)

// ErrHistoryPruned is returned by ChangesSince when the changes following the
// requested slot are no longer kept.
var ErrHistoryPruned = errors.New("changes history pruned")

// FinalState is the final state of the ledger: the ledger itself, the async
// pool, the PoS accounting, the executed operations and the executed
// denunciations. It is mutated one
// finalized slot at a time by Finalize, keeps a bounded history of the
// changes of recent slots, and maintains a fingerprint of its content.
//
// The fingerprint is the XOR of BLAKE3(key || value) over every entry, so it
// is independent of the order in which entries were written.
type FinalState struct {
	kv            KV
	lim           models.Limits
	historyLength int
	logger        *logrus.Entry

	// l serializes writers and guards the fields below. Readers of the KV do
	// not take it.
	l            sync.RWMutex
	slot         models.Slot
	fingerprint  models.Identifier
	history      []models.SlotChanges
	historyFloor models.Slot
}

// metaRecord is persisted with every write so that a node restarts from the
// last finalized slot.
type metaRecord struct {
	Period      uint64
	Thread      uint8
	Fingerprint []byte
}

// NewFinalState loads the final state held in kv, which may be empty.
func NewFinalState(kv KV, lim models.Limits, historyLength int, logger *logrus.Entry) (*FinalState, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}

	s := &FinalState{
		kv:            kv,
		lim:           lim,
		historyLength: historyLength,
		logger:        logger,
	}

	raw, err := kv.Get(metaKey)
	switch {
	case errors.Is(err, ErrKeyNotFound):
		return s, nil
	case err != nil:
		return nil, err
	}

	meta := new(metaRecord)
	if err := unmarshalMeta(raw, meta); err != nil {
		return nil, fmt.Errorf("final state metadata: %v", err)
	}
	s.slot = models.Slot{Period: meta.Period, Thread: meta.Thread}
	copy(s.fingerprint[:], meta.Fingerprint)
	s.historyFloor = s.slot

	s.logger.WithFields(logrus.Fields{
		"slot":        s.slot,
		"fingerprint": s.fingerprint,
	}).Debug("Loaded final state")

	return s, nil
}

func marshalMeta(m *metaRecord) ([]byte, error) {
	var b bytes.Buffer
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(&b, jh)
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func unmarshalMeta(data []byte, m *metaRecord) error {
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(bytes.NewReader(data), jh)
	return dec.Decode(m)
}

// FinalSlot returns the last finalized slot.
func (s *FinalState) FinalSlot() models.Slot {
	s.l.RLock()
	defer s.l.RUnlock()
	return s.slot
}

// Fingerprint returns the fingerprint of the current content.
func (s *FinalState) Fingerprint() models.Identifier {
	s.l.RLock()
	defer s.l.RUnlock()
	return s.fingerprint
}

// Limits returns the limits values are decoded with.
func (s *FinalState) Limits() models.Limits {
	return s.lim
}

// Finalize applies the changes of a newly finalized slot, which must follow
// the current one.
func (s *FinalState) Finalize(slot models.Slot, changes models.StateChanges) error {
	s.l.Lock()
	defer s.l.Unlock()

	if !s.slot.Before(slot) {
		return fmt.Errorf("cannot finalize %s after %s", slot, s.slot)
	}

	if err := s.write(changes, &slot); err != nil {
		return err
	}

	s.slot = slot
	s.history = append(s.history, models.SlotChanges{Slot: slot, Changes: changes})
	if len(s.history) > s.historyLength {
		drop := len(s.history) - s.historyLength
		s.historyFloor = s.history[drop-1].Slot
		s.history = append([]models.SlotChanges(nil), s.history[drop:]...)
	}

	s.logger.WithFields(logrus.Fields{
		"slot":        slot,
		"ledger_sets": len(changes.LedgerSets),
		"async_sets":  len(changes.AsyncSets),
	}).Debug("Finalized slot")

	return nil
}

// Load writes bulk items, as received during bootstrap, without moving the
// final slot or recording history.
func (s *FinalState) Load(changes models.StateChanges) error {
	s.l.Lock()
	defer s.l.Unlock()
	return s.write(changes, nil)
}

// ApplyDelta applies the changes of a StateDelta, slot by slot, and moves the
// final slot to its end. The applied slots become the history of the state.
// Changes are absolute, so a delta that overlaps one applied before replays
// to the same content.
func (s *FinalState) ApplyDelta(d models.StateDelta) error {
	s.l.Lock()
	defer s.l.Unlock()

	keep := 0
	for keep < len(s.history) && !d.FromSlot.Before(s.history[keep].Slot) {
		keep++
	}
	s.history = s.history[:keep]

	for _, sc := range d.Slots {
		slot := sc.Slot
		if err := s.write(sc.Changes, &slot); err != nil {
			return err
		}
		s.history = append(s.history, sc)
	}
	if len(s.history) > s.historyLength {
		drop := len(s.history) - s.historyLength
		s.historyFloor = s.history[drop-1].Slot
		s.history = append([]models.SlotChanges(nil), s.history[drop:]...)
	} else if keep == 0 {
		s.historyFloor = d.FromSlot
	}
	s.slot = d.EndSlot

	return s.writeMeta()
}

// ChangesSince returns every change finalized after cutoff, along with the
// current final slot and fingerprint.
func (s *FinalState) ChangesSince(cutoff models.Slot) (models.StateDelta, error) {
	s.l.RLock()
	defer s.l.RUnlock()

	if cutoff.Before(s.historyFloor) {
		return models.StateDelta{}, fmt.Errorf("changes since %s: %w, oldest available is %s",
			cutoff, ErrHistoryPruned, s.historyFloor)
	}
	if s.slot.Before(cutoff) {
		return models.StateDelta{}, fmt.Errorf("changes since %s requested, final slot is %s", cutoff, s.slot)
	}

	delta := models.StateDelta{
		FromSlot:    cutoff,
		EndSlot:     s.slot,
		Fingerprint: s.fingerprint,
	}
	for _, sc := range s.history {
		if cutoff.Before(sc.Slot) {
			delta.Slots = append(delta.Slots, sc)
		}
	}
	return delta, nil
}

// LedgerEntry returns the entry of addr.
func (s *FinalState) LedgerEntry(addr models.Address) (models.LedgerEntry, bool, error) {
	v, err := s.kv.Get(ledgerKey(addr))
	if errors.Is(err, ErrKeyNotFound) {
		return models.LedgerEntry{}, false, nil
	}
	if err != nil {
		return models.LedgerEntry{}, false, err
	}
	e, err := decodeValue(v, s.lim, models.DecodeLedgerEntry)
	return e, err == nil, err
}

// ComputeFingerprint recomputes the fingerprint from a full scan.
func (s *FinalState) ComputeFingerprint() (models.Identifier, error) {
	var fp models.Identifier
	for _, p := range prefixes {
		err := s.kv.Ascend([]byte{p}, nil, func(k, v []byte) bool {
			fp = fp.Xor(entryHash(k, v))
			return true
		})
		if err != nil {
			return fp, err
		}
	}
	return fp, nil
}

// Close closes the underlying KV.
func (s *FinalState) Close() error {
	return s.kv.Close()
}

func entryHash(k, v []byte) models.Identifier {
	b := make([]byte, 0, len(k)+len(v))
	b = append(b, k...)
	b = append(b, v...)
	return models.NewIdentifier(b)
}

// write translates changes into KV ops, updates the fingerprint and writes
// everything, metadata included when slot is not nil, in one batch.
// Callers hold the write lock.
func (s *FinalState) write(changes models.StateChanges, slot *models.Slot) error {
	ops, err := changeOps(changes)
	if err != nil {
		return err
	}

	type value struct {
		v       []byte
		present bool
	}

	fp := s.fingerprint
	pending := make(map[string]value)
	for _, op := range ops {
		old, ok := pending[string(op.Key)]
		if !ok {
			v, err := s.kv.Get(op.Key)
			switch {
			case err == nil:
				old = value{v, true}
			case !errors.Is(err, ErrKeyNotFound):
				return err
			}
		}
		if old.present {
			fp = fp.Xor(entryHash(op.Key, old.v))
		}
		if op.Delete {
			pending[string(op.Key)] = value{}
			continue
		}
		fp = fp.Xor(entryHash(op.Key, op.Value))
		pending[string(op.Key)] = value{op.Value, true}
	}

	if slot != nil {
		mop, err := metaOp(*slot, fp)
		if err != nil {
			return err
		}
		ops = append(ops, mop)
	}

	if err := s.kv.Write(ops); err != nil {
		return err
	}
	s.fingerprint = fp
	return nil
}

func (s *FinalState) writeMeta() error {
	op, err := metaOp(s.slot, s.fingerprint)
	if err != nil {
		return err
	}
	return s.kv.Write([]Op{op})
}

func metaOp(slot models.Slot, fp models.Identifier) (Op, error) {
	raw, err := marshalMeta(&metaRecord{
		Period:      slot.Period,
		Thread:      slot.Thread,
		Fingerprint: fp[:],
	})
	if err != nil {
		return Op{}, err
	}
	return Op{Key: metaKey, Value: raw}, nil
}

func set(key []byte, v bcodec.Encoder) (Op, error) {
	value, err := bcodec.Serialize(v)
	if err != nil {
		return Op{}, err
	}
	return Op{Key: key, Value: value}, nil
}

func del(key []byte) Op {
	return Op{Key: key, Delete: true}
}

func changeOps(c models.StateChanges) ([]Op, error) {
	ops := []Op{}
	add := func(op Op, err error) error {
		if err != nil {
			return err
		}
		ops = append(ops, op)
		return nil
	}

	for _, it := range c.LedgerSets {
		if err := add(set(ledgerKey(it.Address), it.Entry)); err != nil {
			return nil, err
		}
	}
	for _, a := range c.LedgerDeletes {
		ops = append(ops, del(ledgerKey(a)))
	}
	for _, m := range c.AsyncSets {
		if err := add(set(asyncKey(m.ID()), m)); err != nil {
			return nil, err
		}
	}
	for _, id := range c.AsyncDeletes {
		ops = append(ops, del(asyncKey(id)))
	}
	for _, ci := range c.CycleSets {
		if err := add(set(cycleKey(ci.Cycle), ci)); err != nil {
			return nil, err
		}
	}
	for _, cycle := range c.CycleDeletes {
		ops = append(ops, del(cycleKey(cycle)))
	}
	for _, sc := range c.CreditSets {
		if err := add(set(creditsKey(sc.Slot), sc)); err != nil {
			return nil, err
		}
	}
	for _, slot := range c.CreditDeletes {
		ops = append(ops, del(creditsKey(slot)))
	}
	for _, op := range c.OpSets {
		ops = append(ops, Op{Key: execKey(op.Key), Value: []byte{boolByte(op.Success)}})
	}
	for _, k := range c.OpDeletes {
		ops = append(ops, del(execKey(k)))
	}
	for _, d := range c.DenunciationSets {
		ops = append(ops, Op{Key: denunciationKey(d), Value: []byte{}})
	}
	for _, d := range c.DenunciationDeletes {
		ops = append(ops, del(denunciationKey(d)))
	}
	return ops, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
