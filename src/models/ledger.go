package models

import (
	"bytes"

	"github.com/mosaicnetworks/bootsync/src/codec"
	"github.com/mosaicnetworks/bootsync/src/common"
)

// DatastoreEntry is one key/value pair of an account's datastore.
type DatastoreEntry struct {
	Key   []byte
	Value []byte
}

// LedgerEntry is the state of one account. Datastore entries are kept sorted
// by key, without duplicates.
type LedgerEntry struct {
	Balance   Amount
	Bytecode  []byte
	Datastore []DatastoreEntry
}

// Encode ...
func (e LedgerEntry) Encode(w *codec.Writer) {
	e.Balance.Encode(w)
	w.WriteBytes(e.Bytecode)
	codec.WriteList(w, e.Datastore, func(w *codec.Writer, d DatastoreEntry) {
		w.WriteBytes(d.Key)
		w.WriteBytes(d.Value)
	})
}

// DecodeLedgerEntry ...
func DecodeLedgerEntry(r *codec.Reader, lim Limits) (LedgerEntry, error) {
	var e LedgerEntry
	var err error
	if e.Balance, err = DecodeAmount(r); err != nil {
		return e, err
	}
	if e.Bytecode, err = r.Bytes(lim.MaxBytecodeLength); err != nil {
		return e, err
	}
	e.Datastore, err = codec.ReadList(r, lim.MaxDatastoreEntries, func(r *codec.Reader) (DatastoreEntry, error) {
		var d DatastoreEntry
		var err error
		if d.Key, err = r.Bytes(lim.MaxDatastoreKeyLength); err != nil {
			return d, err
		}
		d.Value, err = r.Bytes(lim.MaxDatastoreValueLength)
		return d, err
	})
	if err != nil {
		return e, err
	}
	for i := 1; i < len(e.Datastore); i++ {
		if bytes.Compare(e.Datastore[i-1].Key, e.Datastore[i].Key) >= 0 {
			return e, common.NewBootstrapErr(common.DecodeError, "datastore keys not strictly increasing")
		}
	}
	return e, nil
}

// LedgerItem is an account and its entry, the unit of the ledger stream.
type LedgerItem struct {
	Address Address
	Entry   LedgerEntry
}

// Encode ...
func (it LedgerItem) Encode(w *codec.Writer) {
	it.Address.Encode(w)
	it.Entry.Encode(w)
}

// DecodeLedgerItem ...
func DecodeLedgerItem(r *codec.Reader, lim Limits) (LedgerItem, error) {
	var it LedgerItem
	var err error
	if it.Address, err = DecodeAddress(r); err != nil {
		return it, err
	}
	it.Entry, err = DecodeLedgerEntry(r, lim)
	return it, err
}
