package graph

import (
	"bytes"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/btree"
	"github.com/ugorji/go/codec"

	bcodec "github.com/mosaicnetworks/bootsync/src/codec"
	"github.com/mosaicnetworks/bootsync/src/cursor"
	"github.com/mosaicnetworks/bootsync/src/models"
)

const btreeDegree = 16

func blockLess(a, b models.ExportedBlock) bool {
	return a.Key().Compare(b.Key()) < 0
}

// pivot is a placeholder block sorting exactly at k.
func pivot(k models.BlockKey) models.ExportedBlock {
	return models.ExportedBlock{ID: k.ID, Header: models.BlockHeader{Slot: k.Slot}}
}

// Store is an in-memory consensus graph export. Blocks are kept sorted by
// (slot, id). Readers iterate over an immutable copy of the tree published
// after every write, so a slow reader never holds up AddBlock or Prune.
type Store struct {
	l    sync.Mutex
	tree *btree.BTreeG[models.ExportedBlock]
	ids  map[models.Identifier]models.BlockKey
	meta models.GraphMeta

	snap atomic.Pointer[btree.BTreeG[models.ExportedBlock]]
}

// NewStore ...
func NewStore() *Store {
	s := &Store{
		tree: btree.NewG(btreeDegree, blockLess),
		ids:  make(map[models.Identifier]models.BlockKey),
	}
	s.snap.Store(s.tree.Clone())
	return s
}

// AddBlock inserts or replaces a block.
func (s *Store) AddBlock(b models.ExportedBlock) {
	s.l.Lock()
	defer s.l.Unlock()
	s.add(b)
	s.publish()
}

func (s *Store) add(b models.ExportedBlock) {
	s.tree.ReplaceOrInsert(b)
	s.ids[b.ID] = b.Key()
}

// publish must be called with the lock held.
func (s *Store) publish() {
	s.snap.Store(s.tree.Clone())
}

// SetMeta replaces the fork-choice metadata.
func (s *Store) SetMeta(m models.GraphMeta) {
	s.l.Lock()
	defer s.l.Unlock()
	s.meta = m
}

// Meta returns the current fork-choice metadata.
func (s *Store) Meta() models.GraphMeta {
	s.l.Lock()
	defer s.l.Unlock()
	return s.meta
}

// GetBlock ...
func (s *Store) GetBlock(id models.Identifier) (models.ExportedBlock, bool) {
	s.l.Lock()
	defer s.l.Unlock()
	k, ok := s.ids[id]
	if !ok {
		return models.ExportedBlock{}, false
	}
	return s.tree.Get(pivot(k))
}

// Len returns the number of blocks.
func (s *Store) Len() int {
	return s.snap.Load().Len()
}

// Blocks returns every block in (slot, id) order.
func (s *Store) Blocks() []models.ExportedBlock {
	t := s.snap.Load()
	res := make([]models.ExportedBlock, 0, t.Len())
	t.Ascend(func(b models.ExportedBlock) bool {
		res = append(res, b)
		return true
	})
	return res
}

// Prune removes the blocks of slots strictly before slot. It returns the
// number of blocks removed.
func (s *Store) Prune(slot models.Slot) int {
	s.l.Lock()
	defer s.l.Unlock()

	var old []models.ExportedBlock
	s.tree.AscendLessThan(pivot(models.BlockKey{Slot: slot}), func(b models.ExportedBlock) bool {
		old = append(old, b)
		return true
	})
	for _, b := range old {
		s.tree.Delete(b)
		delete(s.ids, b.ID)
	}
	if len(old) > 0 {
		s.publish()
	}
	return len(old)
}

// Ascend implements cursor.Source. It walks the snapshot current when the
// call starts; blocks added meanwhile are not visited.
func (s *Store) Ascend(after *models.BlockKey, fn func(models.BlockKey, models.ExportedBlock, int) bool) error {
	var err error
	visit := func(b models.ExportedBlock) bool {
		k := b.Key()
		if after != nil && k == *after {
			return true
		}
		raw, serr := bcodec.Serialize(b)
		if serr != nil {
			err = serr
			return false
		}
		return fn(k, b, len(raw))
	}

	t := s.snap.Load()
	if after == nil {
		t.Ascend(visit)
	} else {
		t.AscendGreaterOrEqual(pivot(*after), visit)
	}
	return err
}

// ReadBatch implements cursor.Provider.
func (s *Store) ReadBatch(c cursor.Cursor[models.BlockKey], lim cursor.Limits) ([]models.ExportedBlock, cursor.Cursor[models.BlockKey], error) {
	return cursor.Next[models.BlockKey, models.ExportedBlock](c, s, lim)
}

// snapshot is the JSON form of the store. Headers are kept in their wire
// encoding.
type snapshot struct {
	Blocks []snapshotBlock
	Meta   []byte
}

type snapshotBlock struct {
	Header  []byte
	IsFinal bool
}

// Marshal returns a canonical JSON snapshot of the store.
func (s *Store) Marshal() ([]byte, error) {
	s.l.Lock()
	t, m := s.snap.Load(), s.meta
	s.l.Unlock()

	snap := snapshot{Blocks: make([]snapshotBlock, 0, t.Len())}
	var err error
	t.Ascend(func(b models.ExportedBlock) bool {
		var h []byte
		if h, err = bcodec.Serialize(b.Header); err != nil {
			return false
		}
		snap.Blocks = append(snap.Blocks, snapshotBlock{Header: h, IsFinal: b.IsFinal})
		return true
	})
	if err != nil {
		return nil, err
	}
	meta, err := bcodec.Serialize(m)
	if err != nil {
		return nil, err
	}
	snap.Meta = meta

	var buf bytes.Buffer
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	if err := codec.NewEncoder(&buf, jh).Encode(snap); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal replaces the content of the store with a snapshot produced by
// Marshal. Block ids are recomputed from the headers.
func (s *Store) Unmarshal(data []byte, lim models.Limits) error {
	var snap snapshot
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	if err := codec.NewDecoder(bytes.NewReader(data), jh).Decode(&snap); err != nil {
		return err
	}

	fresh := NewStore()
	for i, sb := range snap.Blocks {
		h, _, err := bcodec.Deserialize(sb.Header, models.WithLimits(lim, models.DecodeBlockHeader))
		if err != nil {
			return fmt.Errorf("graph snapshot block %d: %w", i, err)
		}
		fresh.add(models.NewExportedBlock(h, sb.IsFinal))
	}
	meta, _, err := bcodec.Deserialize(snap.Meta, models.WithLimits(lim, models.DecodeGraphMeta))
	if err != nil {
		return fmt.Errorf("graph snapshot metadata: %w", err)
	}

	s.l.Lock()
	defer s.l.Unlock()
	s.tree = fresh.tree
	s.ids = fresh.ids
	s.meta = meta
	s.publish()
	return nil
}
