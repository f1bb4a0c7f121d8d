package state

import (
	"github.com/mosaicnetworks/bootsync/src/codec"
	"github.com/mosaicnetworks/bootsync/src/cursor"
	"github.com/mosaicnetworks/bootsync/src/models"
)

// kvProvider pages through the keys of one prefix of a KV. It implements both
// cursor.Source and cursor.Provider.
type kvProvider[K, T any] struct {
	kv     KV
	prefix byte
	keyOf  func(K) []byte
	parse  func(key, value []byte) (K, T, error)
}

func (p *kvProvider[K, T]) Ascend(after *K, fn func(K, T, int) bool) error {
	var afterKey []byte
	if after != nil {
		afterKey = p.keyOf(*after)
	}

	var parseErr error
	err := p.kv.Ascend([]byte{p.prefix}, afterKey, func(k, v []byte) bool {
		key, item, err := p.parse(k, v)
		if err != nil {
			parseErr = err
			return false
		}
		return fn(key, item, len(k)+len(v))
	})
	if err != nil {
		return err
	}
	return parseErr
}

func (p *kvProvider[K, T]) ReadBatch(c cursor.Cursor[K], lim cursor.Limits) ([]T, cursor.Cursor[K], error) {
	return cursor.Next[K, T](c, p, lim)
}

func decodeValue[T any](value []byte, lim models.Limits, decode func(*codec.Reader, models.Limits) (T, error)) (T, error) {
	r := codec.NewReader(value)
	v, err := decode(r, lim)
	if err != nil {
		return v, err
	}
	return v, r.Done()
}

// Ledger returns the provider of the ledger stream.
func (s *FinalState) Ledger() cursor.Provider[models.Address, models.LedgerItem] {
	return &kvProvider[models.Address, models.LedgerItem]{
		kv:     s.kv,
		prefix: ledgerPrefix,
		keyOf:  ledgerKey,
		parse: func(k, v []byte) (models.Address, models.LedgerItem, error) {
			addr, err := parseLedgerKey(k)
			if err != nil {
				return addr, models.LedgerItem{}, err
			}
			entry, err := decodeValue(v, s.lim, models.DecodeLedgerEntry)
			return addr, models.LedgerItem{Address: addr, Entry: entry}, err
		},
	}
}

// AsyncPool returns the provider of the async pool stream.
func (s *FinalState) AsyncPool() cursor.Provider[models.AsyncMessageID, models.AsyncMessage] {
	return &kvProvider[models.AsyncMessageID, models.AsyncMessage]{
		kv:     s.kv,
		prefix: asyncPrefix,
		keyOf:  asyncKey,
		parse: func(k, v []byte) (models.AsyncMessageID, models.AsyncMessage, error) {
			id, err := parseAsyncKey(k)
			if err != nil {
				return id, models.AsyncMessage{}, err
			}
			msg, err := decodeValue(v, s.lim, models.DecodeAsyncMessage)
			return id, msg, err
		},
	}
}

// Cycles returns the provider of the PoS cycle stream.
func (s *FinalState) Cycles() cursor.Provider[uint64, models.CycleInfo] {
	return &kvProvider[uint64, models.CycleInfo]{
		kv:     s.kv,
		prefix: cyclePrefix,
		keyOf:  cycleKey,
		parse: func(k, v []byte) (uint64, models.CycleInfo, error) {
			c, err := parseCycleKey(k)
			if err != nil {
				return c, models.CycleInfo{}, err
			}
			info, err := decodeValue(v, s.lim, models.DecodeCycleInfo)
			return c, info, err
		},
	}
}

// Credits returns the provider of the PoS deferred credits stream.
func (s *FinalState) Credits() cursor.Provider[models.Slot, models.SlotCredits] {
	return &kvProvider[models.Slot, models.SlotCredits]{
		kv:     s.kv,
		prefix: creditsPrefix,
		keyOf:  creditsKey,
		parse: func(k, v []byte) (models.Slot, models.SlotCredits, error) {
			slot, err := parseCreditsKey(k)
			if err != nil {
				return slot, models.SlotCredits{}, err
			}
			sc, err := decodeValue(v, s.lim, models.DecodeSlotCredits)
			return slot, sc, err
		},
	}
}

// ExecutedOps returns the provider of the executed operations stream.
func (s *FinalState) ExecutedOps() cursor.Provider[models.ExecKey, models.ExecutedOp] {
	return &kvProvider[models.ExecKey, models.ExecutedOp]{
		kv:     s.kv,
		prefix: execPrefix,
		keyOf:  execKey,
		parse: func(k, v []byte) (models.ExecKey, models.ExecutedOp, error) {
			ek, err := parseExecKey(k)
			if err != nil {
				return ek, models.ExecutedOp{}, err
			}
			success, err := codec.NewReader(v).Bool()
			return ek, models.ExecutedOp{Key: ek, Success: success}, err
		},
	}
}

// ExecutedDenunciations returns the provider of the executed denunciations
// stream. Records carry no value besides their key.
func (s *FinalState) ExecutedDenunciations() cursor.Provider[models.DenunciationIndex, models.DenunciationIndex] {
	return &kvProvider[models.DenunciationIndex, models.DenunciationIndex]{
		kv:     s.kv,
		prefix: denunPrefix,
		keyOf:  denunciationKey,
		parse: func(k, v []byte) (models.DenunciationIndex, models.DenunciationIndex, error) {
			d, err := parseDenunciationKey(k)
			return d, d, err
		},
	}
}
