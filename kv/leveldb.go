// Package kv is the persistence substrate of the consensus core: a LevelDB
// backed store, a staged overlay that commits one operation atomically, and
// key-prefixed tables that give each component its own namespace.
package kv

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

var ErrNotFound = errors.New("kv: not found")

// IsNotFound reports whether err means the key is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

type Getter interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
}

type Putter interface {
	Put(key, value []byte) error
	Delete(key []byte) error
}

type Store interface {
	Getter
	Putter
}

// Database is a Store that can apply a batch atomically.
type Database interface {
	Store
	Write(batch *leveldb.Batch) error
}

type LevelDB struct {
	db        *leveldb.DB
	batchLock sync.Mutex
	path      string
}

// Open opens (or creates) a LevelDB database at path.
func Open(path string) (*LevelDB, error) {
	options := &opt.Options{
		BlockCacheCapacity:  32 * opt.MiB,
		WriteBuffer:         16 * opt.MiB,
		CompactionTableSize: 2 * opt.MiB,
	}
	db, err := leveldb.OpenFile(path, options)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb at %s: %w", path, err)
	}
	slog.Info("leveldb opened", "path", path)
	return &LevelDB{db: db, path: path}, nil
}

// OpenMem opens a database held in memory. Used by tests and dry runs.
func OpenMem() (*LevelDB, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory leveldb: %w", err)
	}
	return &LevelDB{db: db}, nil
}

func (l *LevelDB) Get(key []byte) ([]byte, error) {
	val, err := l.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return val, err
}

func (l *LevelDB) Has(key []byte) (bool, error) {
	return l.db.Has(key, nil)
}

func (l *LevelDB) Put(key, value []byte) error {
	return l.db.Put(key, value, nil)
}

func (l *LevelDB) Delete(key []byte) error {
	return l.db.Delete(key, nil)
}

func (l *LevelDB) Write(batch *leveldb.Batch) error {
	l.batchLock.Lock()
	defer l.batchLock.Unlock()
	return l.db.Write(batch, &opt.WriteOptions{Sync: l.path != ""})
}

func (l *LevelDB) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}
