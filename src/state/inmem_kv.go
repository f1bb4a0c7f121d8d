package state

import (
	"bytes"
	"sync"
	"sync/atomic"

	"github.com/google/btree"
)

const btreeDegree = 32

type kvItem struct {
	key   string
	value []byte
}

func kvLess(a, b kvItem) bool {
	return a.key < b.key
}

// InmemKV is a KV held in memory. Writers update a private btree and publish
// a clone of it after every batch. Readers iterate the published clone
// without locking, so a slow reader never holds up Write.
type InmemKV struct {
	mu   sync.Mutex
	tree *btree.BTreeG[kvItem]
	snap atomic.Pointer[btree.BTreeG[kvItem]]
}

// NewInmemKV ...
func NewInmemKV() *InmemKV {
	kv := &InmemKV{
		tree: btree.NewG(btreeDegree, kvLess),
	}
	kv.snap.Store(kv.tree.Clone())
	return kv
}

// Get implements KV.
func (kv *InmemKV) Get(key []byte) ([]byte, error) {
	it, ok := kv.snap.Load().Get(kvItem{key: string(key)})
	if !ok {
		return nil, ErrKeyNotFound
	}
	return it.value, nil
}

// Ascend implements KV. The iteration runs over the snapshot published by the
// last Write; later writes are not observed.
func (kv *InmemKV) Ascend(prefix, after []byte, fn func(key, value []byte) bool) error {
	start := string(prefix)
	if after != nil && bytes.Compare(after, prefix) > 0 {
		start = string(after)
	}

	kv.snap.Load().AscendGreaterOrEqual(kvItem{key: start}, func(it kvItem) bool {
		k := []byte(it.key)
		if !bytes.HasPrefix(k, prefix) {
			return false
		}
		if after != nil && it.key == string(after) {
			return true
		}
		return fn(k, it.value)
	})
	return nil
}

// Write implements KV. Values are copied, and the batch becomes visible to
// readers as a whole.
func (kv *InmemKV) Write(ops []Op) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	for _, op := range ops {
		if op.Delete {
			kv.tree.Delete(kvItem{key: string(op.Key)})
			continue
		}
		kv.tree.ReplaceOrInsert(kvItem{
			key:   string(op.Key),
			value: append([]byte(nil), op.Value...),
		})
	}

	kv.snap.Store(kv.tree.Clone())
	return nil
}

// Len returns the number of keys.
func (kv *InmemKV) Len() int {
	return kv.snap.Load().Len()
}

// Close implements KV.
func (kv *InmemKV) Close() error {
	return nil
}
