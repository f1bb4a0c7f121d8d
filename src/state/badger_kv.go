package state

import (
	"bytes"
	"os"

	"github.com/dgraph-io/badger"
	"github.com/sirupsen/logrus"
)

// BadgerKV is a KV persisted in a badger database. Reads run in their own
// read-only transaction, so they see a consistent snapshot without blocking
// writers.
type BadgerKV struct {
	db   *badger.DB
	path string
}

// NewBadgerKV opens, or creates, the database in path.
func NewBadgerKV(path string, logger *logrus.Entry) (*BadgerKV, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(path).
		WithSyncWrites(false).
		WithTruncate(true)
	if logger != nil {
		opts = opts.WithLogger(logger.WithField("component", "badger"))
	}

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &BadgerKV{
		db:   handle,
		path: path,
	}, nil
}

// Get implements KV.
func (kv *BadgerKV) Get(key []byte) ([]byte, error) {
	var value []byte
	err := kv.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if isDBKeyNotFound(err) {
		return nil, ErrKeyNotFound
	}
	return value, err
}

// Ascend implements KV.
func (kv *BadgerKV) Ascend(prefix, after []byte, fn func(key, value []byte) bool) error {
	return kv.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		seek := prefix
		if after != nil && bytes.Compare(after, prefix) > 0 {
			seek = after
		}

		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			k := item.KeyCopy(nil)
			if after != nil && bytes.Equal(k, after) {
				continue
			}
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if !fn(k, v) {
				break
			}
		}
		return nil
	})
}

// Write implements KV in a single transaction.
func (kv *BadgerKV) Write(ops []Op) error {
	tx := kv.db.NewTransaction(true)
	defer tx.Discard()

	for _, op := range ops {
		if op.Delete {
			if err := tx.Delete(op.Key); err != nil {
				return err
			}
			continue
		}
		if err := tx.Set(op.Key, op.Value); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Path returns the directory of the database.
func (kv *BadgerKV) Path() string {
	return kv.path
}

// Close implements KV.
func (kv *BadgerKV) Close() error {
	return kv.db.Close()
}

func isDBKeyNotFound(err error) bool {
	return err == badger.ErrKeyNotFound
}
