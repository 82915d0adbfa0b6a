package kv

import (
	"sort"

	"github.com/syndtr/goleveldb/leveldb"
)

type stagedValue struct {
	value   []byte
	deleted bool
}

// Stage buffers the writes of one operation on top of a Database. Reads see
// the buffered writes first. Nothing reaches the base until Commit, which
// applies every buffered write in a single batch.
type Stage struct {
	base    Database
	pending map[string]stagedValue
}

func NewStage(base Database) *Stage {
	return &Stage{base: base, pending: make(map[string]stagedValue)}
}

func (s *Stage) Get(key []byte) ([]byte, error) {
	if v, ok := s.pending[string(key)]; ok {
		if v.deleted {
			return nil, ErrNotFound
		}
		return append([]byte(nil), v.value...), nil
	}
	return s.base.Get(key)
}

func (s *Stage) Has(key []byte) (bool, error) {
	if v, ok := s.pending[string(key)]; ok {
		return !v.deleted, nil
	}
	return s.base.Has(key)
}

func (s *Stage) Put(key, value []byte) error {
	s.pending[string(key)] = stagedValue{value: append([]byte(nil), value...)}
	return nil
}

func (s *Stage) Delete(key []byte) error {
	s.pending[string(key)] = stagedValue{deleted: true}
	return nil
}

// Dirty reports whether any write is buffered.
func (s *Stage) Dirty() bool {
	return len(s.pending) > 0
}

// Commit writes the buffered changes atomically and resets the stage.
func (s *Stage) Commit() error {
	if len(s.pending) == 0 {
		return nil
	}
	keys := make([]string, 0, len(s.pending))
	for k := range s.pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	batch := new(leveldb.Batch)
	for _, k := range keys {
		v := s.pending[k]
		if v.deleted {
			batch.Delete([]byte(k))
		} else {
			batch.Put([]byte(k), v.value)
		}
	}
	if err := s.base.Write(batch); err != nil {
		return err
	}
	s.pending = make(map[string]stagedValue)
	return nil
}

// Discard drops every buffered change.
func (s *Stage) Discard() {
	s.pending = make(map[string]stagedValue)
}
