package roundstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vechain/thor/v2/thor"

	"github.com/vechain/dposcore/errs"
	"github.com/vechain/dposcore/kv"
	"github.com/vechain/dposcore/types"
)

var miner = thor.MustParseAddress("0x1234567890123456789012345678901234567890")

func newStore(t *testing.T) (*Store, *kv.LevelDB, *Cache) {
	db, err := kv.OpenMem()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	cache, err := NewCache(8)
	require.NoError(t, err)
	return New(db, cache), db, cache
}

func round(n uint64, sealed bool) *types.Round {
	r := &types.Round{
		Number: n,
		Term:   1,
		Start:  100 * n,
		Slots:  []types.MinerSlot{{Miner: miner, ExpectedTime: 100 * n}},
	}
	if sealed {
		r.Status = types.StatusSealed
		r.Slots[0].State = types.SlotMissed
	}
	return r
}

func TestEmptyStore(t *testing.T) {
	s, _, _ := newStore(t)

	ok, err := s.Initialized()
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.LatestRoundNumber()
	assert.ErrorIs(t, err, errs.ErrNotInitialized)
	_, err = s.CurrentTerm()
	assert.ErrorIs(t, err, errs.ErrNotInitialized)

	_, err = s.GetRound(1)
	assert.ErrorIs(t, err, errs.ErrUnknownRound)
	_, err = s.GetTerm(0)
	assert.ErrorIs(t, err, errs.ErrUnknownTerm)
}

func TestPutRoundMonotonic(t *testing.T) {
	s, _, _ := newStore(t)

	require.NoError(t, s.PutRound(round(1, false)))
	// unsealed latest may be rewritten
	require.NoError(t, s.PutRound(round(1, true)))
	require.NoError(t, s.PutRound(round(2, false)))

	err := s.PutRound(round(4, false))
	assert.ErrorIs(t, err, errs.ErrNonMonotonicRecord)

	err = s.PutRound(round(1, true))
	assert.ErrorIs(t, err, errs.ErrImmutableRecordViolation)
	assert.True(t, errs.IsSafety(err))

	latest, err := s.LatestRoundNumber()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), latest)

	cur, err := s.CurrentRound()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), cur.Number)
	assert.False(t, cur.Sealed())
}

func TestSealedRoundIsImmutable(t *testing.T) {
	s, _, _ := newStore(t)

	require.NoError(t, s.PutRound(round(5, true)))
	err := s.PutRound(round(5, false))
	assert.ErrorIs(t, err, errs.ErrImmutableRecordViolation)
}

func TestPutTermMonotonic(t *testing.T) {
	s, _, _ := newStore(t)

	term := &types.Term{Number: 0, Miners: []thor.Address{miner}, FirstRound: 1}
	require.NoError(t, s.PutTerm(term))

	term.LastRound = 3
	term.Status = types.StatusSealed
	require.NoError(t, s.PutTerm(term))

	err := s.PutTerm(term)
	assert.ErrorIs(t, err, errs.ErrImmutableRecordViolation)

	next := &types.Term{Number: 1, Miners: []thor.Address{miner}, FirstRound: 4}
	require.NoError(t, s.PutTerm(next))

	cur, err := s.CurrentTerm()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cur.Number)
	assert.True(t, cur.HasMiner(miner))
}

func TestSealedRoundsAreCached(t *testing.T) {
	s, db, cache := newStore(t)

	require.NoError(t, s.PutRound(round(1, true)))
	assert.True(t, cache.Contains(uint64(1)))

	// cached copy is independent of the caller's copy
	r, err := s.GetRound(1)
	require.NoError(t, err)
	r.Slots[0].State = types.SlotRevealed

	again, err := s.GetRound(1)
	require.NoError(t, err)
	assert.Equal(t, types.SlotMissed, again.Slots[0].State)

	// a fresh store over the same database reloads from disk
	cache.Purge()
	fresh := New(db, nil)
	loaded, err := fresh.GetRound(1)
	require.NoError(t, err)
	assert.True(t, loaded.Sealed())
}

func TestStagedWritesInvisibleUntilCommit(t *testing.T) {
	db, err := kv.OpenMem()
	require.NoError(t, err)
	defer db.Close()

	stage := kv.NewStage(db)
	require.NoError(t, New(stage, nil).PutRound(round(1, false)))

	ok, err := New(db, nil).Initialized()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, stage.Commit())
	ok, err = New(db, nil).Initialized()
	require.NoError(t, err)
	assert.True(t, ok)
}
