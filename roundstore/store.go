// Package roundstore persists rounds and terms by number and guards the
// append-only history: numbers grow by one and sealed records never change.
package roundstore

import (
	"encoding/binary"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"github.com/vechain/dposcore/config"
	"github.com/vechain/dposcore/errs"
	"github.com/vechain/dposcore/kv"
	"github.com/vechain/dposcore/types"
)

var (
	latestRoundKey = []byte("latest-round")
	latestTermKey  = []byte("latest-term")
)

// Cache holds sealed rounds across operations. It must be purged whenever a
// stage that may have populated it is discarded.
type Cache = lru.Cache[uint64, *types.Round]

func NewCache(size int) (*Cache, error) {
	c, err := lru.New[uint64, *types.Round](size)
	if err != nil {
		return nil, fmt.Errorf(config.ErrFailedToCreateCache, err)
	}
	return c, nil
}

type Store struct {
	rounds *kv.Table
	terms  *kv.Table
	meta   *kv.Table
	cache  *Cache
}

// New returns a store reading and writing through s. cache may be nil.
func New(s kv.Store, cache *Cache) *Store {
	return &Store{
		rounds: kv.NewTable(s, "round/"),
		terms:  kv.NewTable(s, "term/"),
		meta:   kv.NewTable(s, "roundstore/"),
		cache:  cache,
	}
}

func numberKey(n uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], n)
	return k[:]
}

func (s *Store) latest(key []byte) (uint64, bool, error) {
	var n uint64
	if err := s.meta.GetRLP(key, &n); err != nil {
		if kv.IsNotFound(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return n, true, nil
}

// Initialized reports whether any round was ever written.
func (s *Store) Initialized() (bool, error) {
	_, ok, err := s.latest(latestRoundKey)
	return ok, err
}

func (s *Store) LatestRoundNumber() (uint64, error) {
	n, ok, err := s.latest(latestRoundKey)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errs.ErrNotInitialized
	}
	return n, nil
}

func (s *Store) LatestTermNumber() (uint64, error) {
	n, ok, err := s.latest(latestTermKey)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errs.ErrNotInitialized
	}
	return n, nil
}

// GetRound returns a copy of round n.
func (s *Store) GetRound(n uint64) (*types.Round, error) {
	if s.cache != nil {
		if r, ok := s.cache.Get(n); ok {
			return r.Copy(), nil
		}
	}
	var r types.Round
	if err := s.rounds.GetRLP(numberKey(n), &r); err != nil {
		if kv.IsNotFound(err) {
			return nil, errors.Wrapf(errs.ErrUnknownRound, "round %d", n)
		}
		return nil, err
	}
	if r.Sealed() && s.cache != nil {
		s.cache.Add(n, r.Copy())
	}
	return &r, nil
}

func (s *Store) GetTerm(n uint64) (*types.Term, error) {
	var t types.Term
	if err := s.terms.GetRLP(numberKey(n), &t); err != nil {
		if kv.IsNotFound(err) {
			return nil, errors.Wrapf(errs.ErrUnknownTerm, "term %d", n)
		}
		return nil, err
	}
	return &t, nil
}

func (s *Store) CurrentRound() (*types.Round, error) {
	n, err := s.LatestRoundNumber()
	if err != nil {
		return nil, err
	}
	return s.GetRound(n)
}

func (s *Store) CurrentTerm() (*types.Term, error) {
	n, err := s.LatestTermNumber()
	if err != nil {
		return nil, err
	}
	return s.GetTerm(n)
}

// checkWrite applies the append-only rule to a write of record n.
// sealed loads the stored record's seal flag when n is the latest number.
func checkWrite(kind string, n, latest uint64, exists bool, sealed func() (bool, error)) error {
	if !exists {
		return nil
	}
	switch {
	case n == latest+1:
		return nil
	case n == latest:
		isSealed, err := sealed()
		if err != nil {
			return err
		}
		if isSealed {
			return errors.Wrapf(errs.ErrImmutableRecordViolation, "%s %d is sealed", kind, n)
		}
		return nil
	case n < latest:
		return errors.Wrapf(errs.ErrImmutableRecordViolation, "%s %d precedes latest %d", kind, n, latest)
	default:
		return errors.Wrapf(errs.ErrNonMonotonicRecord, "%s %d after latest %d", kind, n, latest)
	}
}

// PutRound stores r as the latest round.
func (s *Store) PutRound(r *types.Round) error {
	latest, exists, err := s.latest(latestRoundKey)
	if err != nil {
		return err
	}
	err = checkWrite("round", r.Number, latest, exists, func() (bool, error) {
		prev, err := s.GetRound(latest)
		if err != nil {
			return false, err
		}
		return prev.Sealed(), nil
	})
	if err != nil {
		return err
	}
	if err := s.rounds.PutRLP(numberKey(r.Number), r); err != nil {
		return err
	}
	if err := s.meta.PutRLP(latestRoundKey, r.Number); err != nil {
		return err
	}
	if r.Sealed() && s.cache != nil {
		s.cache.Add(r.Number, r.Copy())
	}
	return nil
}

// PutTerm stores t as the latest term.
func (s *Store) PutTerm(t *types.Term) error {
	latest, exists, err := s.latest(latestTermKey)
	if err != nil {
		return err
	}
	err = checkWrite("term", t.Number, latest, exists, func() (bool, error) {
		prev, err := s.GetTerm(latest)
		if err != nil {
			return false, err
		}
		return prev.Sealed(), nil
	})
	if err != nil {
		return err
	}
	if err := s.terms.PutRLP(numberKey(t.Number), t); err != nil {
		return err
	}
	return s.meta.PutRLP(latestTermKey, t.Number)
}
