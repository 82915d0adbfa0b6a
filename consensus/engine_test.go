package consensus

import (
	"crypto/ecdsa"
	"math"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vechain/thor/v2/thor"

	"github.com/vechain/dposcore/config"
	"github.com/vechain/dposcore/errs"
	"github.com/vechain/dposcore/kv"
	"github.com/vechain/dposcore/scheduler"
	"github.com/vechain/dposcore/types"
)

const (
	genesisTime = uint64(1000)
	day         = uint64(config.SecondsPerDay)
)

type testChain struct {
	t      *testing.T
	engine *Engine
	db     *kv.LevelDB
	keys   []*ecdsa.PrivateKey
	miners []thor.Address
	height uint64
	events []types.Event
}

func newTestChain(t *testing.T, mutate ...func(p *config.Params)) *testChain {
	db, err := kv.OpenMem()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	p := config.DefaultParams()
	p.MaxMiners = 3
	p.SlotInterval = 10
	p.RoundsPerTerm = 100
	for _, m := range mutate {
		m(&p)
	}
	engine, err := New(db, p)
	require.NoError(t, err)

	c := &testChain{t: t, engine: engine, db: db}
	for i := 0; i < 3; i++ {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		c.keys = append(c.keys, key)
		c.miners = append(c.miners, addressOf(key))
	}
	engine.Subscribe(ObserverFunc(func(ev types.Event) {
		c.events = append(c.events, ev)
	}))
	return c
}

func addressOf(key *ecdsa.PrivateKey) thor.Address {
	return thor.Address(crypto.PubkeyToAddress(key.PublicKey))
}

func (c *testChain) exec(caller thor.Address, ts uint64, cmd Command) (*Receipt, error) {
	c.height++
	return c.engine.Execute(Call{Caller: caller, Height: c.height, Timestamp: ts, Command: cmd})
}

func (c *testChain) mustExec(caller thor.Address, ts uint64, cmd Command) *Receipt {
	r, err := c.exec(caller, ts, cmd)
	require.NoError(c.t, err)
	return r
}

func (c *testChain) genesis(allocs ...Allocation) {
	c.mustExec(c.miners[0], genesisTime, &InitialTerm{Miners: c.miners, Term: 1, Allocations: allocs})
}

func (c *testChain) keyOf(addr thor.Address) *ecdsa.PrivateKey {
	for i, m := range c.miners {
		if m == addr {
			return c.keys[i]
		}
	}
	c.t.Fatalf("no key for %s", addr)
	return nil
}

func (c *testChain) round(n uint64) *types.Round {
	r, err := c.engine.GetRoundInfo(n)
	require.NoError(c.t, err)
	return r
}

// pack commits the out value of in for the slot of round n, signed by the
// slot's miner, at the slot's expected time.
func (c *testChain) pack(n uint64, slot int, in thor.Bytes32) (*Receipt, error) {
	r := c.round(n)
	ms := r.Slots[slot]
	out := thor.Blake2b(in.Bytes())
	sig, err := SignSlot(r, uint64(slot), out, c.keyOf(ms.Miner))
	require.NoError(c.t, err)
	return c.exec(ms.Miner, ms.ExpectedTime, &PackageOutValue{Round: n, Slot: uint64(slot), OutValue: out, Signature: sig})
}

func (c *testChain) reveal(n uint64, slot int, in thor.Bytes32, ts uint64) (*Receipt, error) {
	r := c.round(n)
	return c.exec(r.Slots[slot].Miner, ts, &BroadcastInValue{Round: n, Slot: uint64(slot), InValue: in})
}

func (c *testChain) eventKinds() []types.EventKind {
	kinds := make([]types.EventKind, len(c.events))
	for i, ev := range c.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

func TestInitialTermOnlyOnce(t *testing.T) {
	c := newTestChain(t)

	receipt := c.mustExec(c.miners[0], genesisTime, &InitialTerm{Miners: c.miners, Term: 1})
	term, ok := receipt.Result.(*types.Term)
	require.True(t, ok)
	assert.Equal(t, uint64(1), term.Number)
	assert.Equal(t, []types.EventKind{types.EventTermStarted}, c.eventKinds())

	_, err := c.exec(c.miners[1], genesisTime+1, &InitialTerm{Miners: c.miners, Term: 1})
	assert.ErrorIs(t, err, errs.ErrAlreadyInitialized)

	n, err := c.engine.CurrentRoundNumber()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestInitialTermFailuresPersistNothing(t *testing.T) {
	c := newTestChain(t)
	outsider := thor.MustParseAddress("0x00000000000000000000000000000000000000ff")

	_, err := c.exec(outsider, genesisTime, &InitialTerm{Miners: c.miners, Term: 1})
	assert.ErrorIs(t, err, errs.ErrNotMiner)

	_, err = c.exec(c.miners[0], genesisTime, &InitialTerm{Miners: append(c.miners, c.miners[0]), Term: 1})
	assert.ErrorIs(t, err, errs.ErrInvalidGenesis)
	assert.Equal(t, errs.Configuration, errs.KindOf(err))

	_, err = c.engine.CurrentRoundNumber()
	assert.ErrorIs(t, err, errs.ErrNotInitialized)

	_, err = c.exec(c.miners[0], genesisTime, &AnnounceElection{})
	assert.ErrorIs(t, err, errs.ErrNotInitialized)
}

func TestPackageAndBroadcast(t *testing.T) {
	c := newTestChain(t)
	c.genesis()

	in := thor.Blake2b([]byte("x"))
	_, err := c.pack(1, 0, in)
	require.NoError(t, err)
	_, err = c.reveal(1, 0, in, genesisTime+1)
	require.NoError(t, err)

	slot := c.round(1).Slots[0]
	assert.Equal(t, types.SlotRevealed, slot.State)
	assert.Equal(t, thor.Blake2b(in.Bytes()), slot.OutValue)

	// another miner broadcasting on that slot
	other := c.round(1).Slots[1].Miner
	_, err = c.exec(other, genesisTime+2, &BroadcastInValue{Round: 1, Slot: 0, InValue: in})
	assert.ErrorIs(t, err, errs.ErrNotYourSlot)
}

func TestPackageRequiresCallerSignature(t *testing.T) {
	c := newTestChain(t)
	c.genesis()

	r := c.round(1)
	owner := r.Slots[0].Miner
	other := r.Slots[1].Miner
	out := thor.Blake2b([]byte("out"))

	sig, err := SignSlot(r, 0, out, c.keyOf(other))
	require.NoError(t, err)
	_, err = c.exec(owner, genesisTime, &PackageOutValue{Round: 1, Slot: 0, OutValue: out, Signature: sig})
	assert.ErrorIs(t, err, errs.ErrBadSignature)
	assert.Equal(t, errs.Validation, errs.KindOf(err))

	_, err = c.exec(owner, genesisTime, &PackageOutValue{Round: 1, Slot: 0, OutValue: out, Signature: []byte{1, 2}})
	assert.ErrorIs(t, err, errs.ErrBadSignature)

	// a valid signature on someone else's slot
	_, err = c.exec(other, genesisTime, &PackageOutValue{Round: 1, Slot: 0, OutValue: out, Signature: sig})
	assert.ErrorIs(t, err, errs.ErrNotYourSlot)

	_, err = c.exec(owner, genesisTime, &PackageOutValue{Round: 9, Slot: 0, OutValue: out, Signature: sig})
	assert.ErrorIs(t, err, errs.ErrUnknownRound)
}

func TestSafetyViolationIsReportedAndDiscarded(t *testing.T) {
	c := newTestChain(t)
	c.genesis()

	in := thor.Blake2b([]byte("x"))
	_, err := c.pack(1, 0, in)
	require.NoError(t, err)
	c.events = nil

	// a mismatching reveal late enough to also expire slot 1
	_, err = c.reveal(1, 0, thor.Blake2b([]byte("y")), genesisTime+25)
	require.ErrorIs(t, err, errs.ErrCommitRevealMismatch)

	assert.Equal(t, []types.EventKind{types.EventSafetyViolation}, c.eventKinds())
	assert.Error(t, c.events[0].Err)

	r := c.round(1)
	assert.Equal(t, types.SlotCommitted, r.Slots[0].State)
	assert.Equal(t, types.SlotPending, r.Slots[1].State, "advance of the failed call was discarded")

	_, err = c.reveal(1, 0, in, genesisTime+26)
	require.NoError(t, err)
	assert.Equal(t, types.SlotRevealed, c.round(1).Slots[0].State)
}

func TestVoteLifecycle(t *testing.T) {
	c := newTestChain(t)
	voter := thor.MustParseAddress("0x00000000000000000000000000000000000000aa")
	candidate := thor.MustParseAddress("0x00000000000000000000000000000000000000cc")
	c.genesis(Allocation{Address: voter, Amount: 100})

	c.mustExec(candidate, genesisTime+1, &AnnounceElection{})
	ok, err := c.engine.IsCandidate(candidate)
	require.NoError(t, err)
	assert.True(t, ok)

	issued := genesisTime + 2
	receipt := c.mustExec(voter, issued, &Vote{Candidate: candidate, Amount: 100, LockDays: 30})
	ticket := receipt.Result.(*types.Ticket)

	tickets, err := c.engine.GetTicketsInfo(voter)
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.Equal(t, ticket.ID, tickets[0].ID)
	assert.Equal(t, uint64(100), tickets[0].Amount)

	tickets, err = c.engine.GetTicketsInfo(candidate)
	require.NoError(t, err)
	assert.Len(t, tickets, 1)

	balance, err := c.engine.GetBalance(voter)
	require.NoError(t, err)
	assert.Zero(t, balance)

	_, err = c.exec(voter, issued+10*day, &WithdrawVote{TicketID: ticket.ID})
	assert.ErrorIs(t, err, errs.ErrNotMatured)

	c.mustExec(voter, issued+31*day, &WithdrawVote{TicketID: ticket.ID})
	balance, err = c.engine.GetBalance(voter)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), balance)
}

func TestMissingRevealSealsAtDeadline(t *testing.T) {
	c := newTestChain(t)
	c.genesis()

	in0 := thor.Blake2b([]byte("0"))
	in1 := thor.Blake2b([]byte("1"))
	_, err := c.pack(1, 0, in0)
	require.NoError(t, err)
	_, err = c.reveal(1, 0, in0, genesisTime+1)
	require.NoError(t, err)
	_, err = c.pack(1, 1, in1)
	require.NoError(t, err)
	_, err = c.reveal(1, 1, in1, genesisTime+11)
	require.NoError(t, err)
	// the third miner stays silent
	c.events = nil

	deadline := genesisTime + 40
	outsider := thor.MustParseAddress("0x00000000000000000000000000000000000000ee")
	c.mustExec(outsider, deadline, &AnnounceElection{})
	assert.Contains(t, c.eventKinds(), types.EventRoundSealed)

	sealed := c.round(1)
	assert.True(t, sealed.Sealed())
	assert.Equal(t, types.SlotMissed, sealed.Slots[2].State)

	term, err := c.engine.GetTermInfo(1)
	require.NoError(t, err)
	seed := scheduler.AggregateSeed(sealed, config.MissingRevealZero)
	next := c.round(2)
	assert.Equal(t, seed, next.Seed)
	assert.Equal(t, scheduler.ShuffleMiners(term.Miners, seed, 2), next.Miners())
}

func TestFailedCallLeavesNoTrace(t *testing.T) {
	c := newTestChain(t)
	c.genesis()
	c.events = nil

	_, err := c.exec(c.miners[0], genesisTime+1000, &Vote{Candidate: c.miners[1], Amount: 0, LockDays: 1})
	assert.ErrorIs(t, err, errs.ErrInvalidAmount)
	assert.Empty(t, c.events)

	n, err := c.engine.CurrentRoundNumber()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
	assert.False(t, c.round(1).Sealed())
}

func TestNextTerm(t *testing.T) {
	c := newTestChain(t)
	c.genesis()
	outsider := thor.MustParseAddress("0x00000000000000000000000000000000000000ee")

	c.mustExec(c.miners[1], genesisTime+1, &AnnounceElection{})
	c.mustExec(outsider, genesisTime+2, &AnnounceElection{})

	// equal weight, earlier announcement ranks first
	victors, err := c.engine.GetCurrentVictories(3)
	require.NoError(t, err)
	assert.Equal(t, []thor.Address{c.miners[1], outsider}, victors)

	_, err = c.exec(outsider, genesisTime+3, &NextTerm{Miners: victors})
	assert.ErrorIs(t, err, errs.ErrNotMiner)

	_, err = c.exec(c.miners[0], genesisTime+3, &NextTerm{Miners: []thor.Address{c.miners[1]}})
	assert.ErrorIs(t, err, errs.ErrVictorMismatch)

	receipt := c.mustExec(c.miners[0], genesisTime+3, &NextTerm{Miners: []thor.Address{outsider, c.miners[1]}})
	term := receipt.Result.(*types.Term)
	assert.Equal(t, uint64(2), term.Number)
	assert.Equal(t, victors, term.Miners)

	n, err := c.engine.CurrentTermNumber()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
	assert.True(t, c.round(1).Sealed())

	// an active miner cannot quit mid-term
	_, err = c.exec(outsider, genesisTime+4, &QuitElection{})
	assert.ErrorIs(t, err, errs.ErrCannotQuitActiveMiner)
}

func TestDividendsEndToEnd(t *testing.T) {
	c := newTestChain(t, func(p *config.Params) { p.BlockReward = 10 })
	voter := thor.MustParseAddress("0x00000000000000000000000000000000000000aa")
	c.genesis(Allocation{Address: voter, Amount: 1000})
	m := c.miners[0]

	c.mustExec(m, genesisTime+1, &AnnounceElection{})
	c.mustExec(voter, genesisTime+2, &Vote{Candidate: m, Amount: 100, LockDays: 1})
	c.mustExec(m, genesisTime+3, &NextTerm{Miners: []thor.Address{m}})

	in := thor.Blake2b([]byte("reward"))
	_, err := c.pack(2, 0, in)
	require.NoError(t, err)
	_, err = c.reveal(2, 0, in, genesisTime+4)
	require.NoError(t, err)

	pool, err := c.engine.GetDividendPool(2)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), pool.Balance)

	_, err = c.exec(voter, genesisTime+5, &DistributeDividends{Term: 2})
	assert.ErrorIs(t, err, errs.ErrTermNotEnded)

	c.mustExec(m, genesisTime+5, &NextTerm{Miners: []thor.Address{m}})
	c.events = nil

	receipt := c.mustExec(voter, genesisTime+6, &DistributeDividends{Term: 2})
	pool = receipt.Result.(*types.DividendPool)
	assert.True(t, pool.IsFinalized())
	assert.Equal(t, uint64(10), pool.Distributed)
	assert.Equal(t, []types.EventKind{types.EventDividendsDistributed}, c.eventKinds())

	receipt = c.mustExec(voter, genesisTime+7, &ClaimDividends{})
	assert.Equal(t, uint64(10), receipt.Result)

	balance, err := c.engine.GetBalance(voter)
	require.NoError(t, err)
	assert.Equal(t, uint64(910), balance)

	// second distribution changes nothing
	c.mustExec(voter, genesisTime+8, &DistributeDividends{Term: 2})
	_, err = c.exec(voter, genesisTime+9, &ClaimDividends{})
	assert.ErrorIs(t, err, errs.ErrNoDividends)
}

func TestQueriesDoNotMutate(t *testing.T) {
	c := newTestChain(t)
	c.genesis()

	_, err := c.engine.GetRoundInfo(5)
	assert.ErrorIs(t, err, errs.ErrUnknownRound)
	_, err = c.engine.GetTermInfo(7)
	assert.ErrorIs(t, err, errs.ErrUnknownTerm)
	_, err = c.engine.GetCurrentVictories(3)
	require.NoError(t, err)
	_, err = c.engine.GetTicketsInfo(c.miners[0])
	require.NoError(t, err)

	before, err := c.db.Get([]byte("roundstore/latest-round"))
	require.NoError(t, err)
	_, err = c.engine.GetRoundInfo(1)
	require.NoError(t, err)
	after, err := c.db.Get([]byte("roundstore/latest-round"))
	require.NoError(t, err)
	assert.Equal(t, before, after)

	_, err = c.db.Get([]byte("ticket/"))
	assert.True(t, kv.IsNotFound(err))
}

func TestUnknownCommandAndZeroCaller(t *testing.T) {
	c := newTestChain(t)

	_, err := c.engine.Execute(Call{Caller: c.miners[0], Timestamp: genesisTime})
	assert.ErrorIs(t, err, errs.ErrUnknownCommand)

	_, err = c.engine.Execute(Call{Timestamp: genesisTime, Command: &AnnounceElection{}})
	assert.ErrorIs(t, err, errs.ErrZeroIdentity)
}

func TestOutOfRangeInputsAreRejected(t *testing.T) {
	db, err := kv.OpenMem()
	require.NoError(t, err)
	defer db.Close()
	p := config.DefaultParams()
	p.SlotInterval = math.MaxUint64
	_, err = New(db, p)
	assert.ErrorIs(t, err, errs.ErrInvalidParams)

	c := newTestChain(t)
	_, err = c.exec(c.miners[0], genesisTime, &InitialTerm{Miners: c.miners, Term: math.MaxUint64})
	assert.ErrorIs(t, err, errs.ErrInvalidGenesis)
	_, err = c.engine.CurrentTermNumber()
	assert.ErrorIs(t, err, errs.ErrNotInitialized)

	_, err = c.exec(c.miners[0], config.MaxTimestamp+1, &InitialTerm{Miners: c.miners, Term: 1})
	assert.ErrorIs(t, err, errs.ErrInvalidTimestamp)

	c.genesis()
	_, err = c.exec(c.miners[0], math.MaxUint64, &AnnounceElection{})
	assert.ErrorIs(t, err, errs.ErrInvalidTimestamp)
	n, err := c.engine.CurrentRoundNumber()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestDistributeDividendsForUnknownTerm(t *testing.T) {
	c := newTestChain(t)
	c.genesis()
	c.events = nil

	_, err := c.exec(c.miners[0], genesisTime+1, &DistributeDividends{Term: 0})
	assert.ErrorIs(t, err, errs.ErrUnknownTerm)
	assert.Empty(t, c.events)

	pool, err := c.engine.GetDividendPool(0)
	require.NoError(t, err)
	assert.False(t, pool.IsFinalized())
}
