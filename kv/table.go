package kv

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/vechain/dposcore/config"
)

// Table is a key-prefixed view over a Store.
type Table struct {
	store  Store
	prefix []byte
}

func NewTable(store Store, prefix string) *Table {
	return &Table{store: store, prefix: []byte(prefix)}
}

func (t *Table) key(k []byte) []byte {
	full := make([]byte, 0, len(t.prefix)+len(k))
	full = append(full, t.prefix...)
	return append(full, k...)
}

func (t *Table) Get(k []byte) ([]byte, error) {
	return t.store.Get(t.key(k))
}

func (t *Table) Has(k []byte) (bool, error) {
	return t.store.Has(t.key(k))
}

func (t *Table) Put(k, v []byte) error {
	return t.store.Put(t.key(k), v)
}

func (t *Table) Delete(k []byte) error {
	return t.store.Delete(t.key(k))
}

// GetRLP decodes the record at k into v. It returns ErrNotFound untouched so
// callers can test for absence.
func (t *Table) GetRLP(k []byte, v any) error {
	data, err := t.Get(k)
	if err != nil {
		if IsNotFound(err) {
			return err
		}
		return fmt.Errorf(config.ErrFailedToReadRecord, string(t.prefix), err)
	}
	if err := rlp.DecodeBytes(data, v); err != nil {
		return fmt.Errorf(config.ErrFailedToDecode, string(t.prefix), err)
	}
	return nil
}

// PutRLP encodes v and stores it at k.
func (t *Table) PutRLP(k []byte, v any) error {
	data, err := rlp.EncodeToBytes(v)
	if err != nil {
		return fmt.Errorf(config.ErrFailedToEncode, string(t.prefix), err)
	}
	if err := t.Put(k, data); err != nil {
		return fmt.Errorf(config.ErrFailedToWriteRecord, string(t.prefix), err)
	}
	return nil
}
