package stats

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vechain/thor/v2/thor"

	"github.com/vechain/dposcore/config"
	"github.com/vechain/dposcore/errs"
	"github.com/vechain/dposcore/types"
)

var (
	minerA = thor.MustParseAddress("0x0100000000000000000000000000000000000000")
	minerB = thor.MustParseAddress("0x0200000000000000000000000000000000000000")
)

type memSink struct {
	mu     sync.Mutex
	points []*write.Point
	err    error
}

func (s *memSink) WritePoints(_ context.Context, points []*write.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.points = append(s.points, points...)
	return nil
}

func (s *memSink) byMeasurement(name string) []*write.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*write.Point
	for _, p := range s.points {
		if p.Name() == name {
			out = append(out, p)
		}
	}
	return out
}

func field(p *write.Point, key string) any {
	for _, f := range p.FieldList() {
		if f.Key == key {
			return f.Value
		}
	}
	return nil
}

func tag(p *write.Point, key string) string {
	for _, t := range p.TagList() {
		if t.Key == key {
			return t.Value
		}
	}
	return ""
}

func sealedRound() *types.Round {
	return &types.Round{
		Number:   4,
		Term:     2,
		Start:    1000,
		SealedAt: 1025,
		Status:   types.StatusSealed,
		Slots: []types.MinerSlot{
			{Miner: minerA, Order: 0, ExpectedTime: 1000, State: types.SlotRevealed},
			{Miner: minerB, Order: 1, ExpectedTime: 1010, State: types.SlotMissed},
		},
	}
}

func TestRoundStats(t *testing.T) {
	w := NewWriter(map[string]string{"chain": "test"})
	points := w.RoundStats(&types.Event{Kind: types.EventRoundSealed, Height: 9, Round: sealedRound()})
	require.Len(t, points, 1)

	p := points[0]
	assert.Equal(t, config.RoundStatsMeasurement, p.Name())
	assert.Equal(t, "test", tag(p, "chain"))
	assert.Equal(t, "2", tag(p, config.TermNumberField))
	assert.EqualValues(t, 4, field(p, config.RoundNumberField))
	assert.EqualValues(t, 1, field(p, config.ProducedField))
	assert.EqualValues(t, 1, field(p, config.MissedField))
	assert.EqualValues(t, 25, field(p, "duration"))
	assert.Equal(t, int64(1025), p.Time().Unix())

	assert.Nil(t, w.RoundStats(&types.Event{Kind: types.EventTermStarted}))
}

func TestMinerSlots(t *testing.T) {
	w := NewWriter(nil)
	points := w.MinerSlots(&types.Event{Kind: types.EventRoundSealed, Round: sealedRound()})
	require.Len(t, points, 2)

	assert.Equal(t, minerA.String(), tag(points[0], "miner"))
	assert.Equal(t, types.SlotRevealed.String(), tag(points[0], "state"))
	assert.EqualValues(t, 1, field(points[0], config.ProducedField))
	assert.EqualValues(t, 0, field(points[1], config.ProducedField))
	assert.EqualValues(t, 1010, field(points[1], "expected_time"))
}

func TestTermAndDividendPoints(t *testing.T) {
	w := NewWriter(nil)

	term := &types.Term{Number: 3, Miners: []thor.Address{minerA, minerB}, FirstRound: 7, Start: 2000}
	points := w.TermChange(&types.Event{Kind: types.EventTermStarted, Term: term})
	require.Len(t, points, 1)
	assert.EqualValues(t, 2, field(points[0], "miner_count"))
	assert.Equal(t, minerB.String(), field(points[0], "miner_1"))

	pool := &types.DividendPool{
		Term:        3,
		Balance:     100,
		Distributed: 99,
		Records: []types.DividendRecord{
			{Voter: minerA, Candidate: minerB, Weight: big.NewInt(1), Amount: 33},
			{Voter: minerB, Candidate: minerB, Weight: big.NewInt(2), Amount: 66},
		},
	}
	points = w.Dividends(&types.Event{Kind: types.EventDividendsDistributed, Timestamp: 3000, Pool: pool})
	require.Len(t, points, 3)
	assert.EqualValues(t, 1, field(points[0], "remainder"))
	assert.Equal(t, minerB.String(), tag(points[2], "voter"))
	assert.EqualValues(t, 66, field(points[2], "amount"))
}

func TestSafetyViolationPoint(t *testing.T) {
	w := NewWriter(nil)
	points := w.SafetyViolation(&types.Event{
		Kind:   types.EventSafetyViolation,
		Caller: minerA,
		Err:    errs.ErrCommitRevealMismatch,
	})
	require.Len(t, points, 1)
	assert.Equal(t, "CommitRevealMismatch", tag(points[0], "code"))
	assert.Equal(t, minerA.String(), tag(points[0], "caller"))
}

func TestObserverWritesThroughPool(t *testing.T) {
	sink := &memSink{}
	pool := NewWorkerPool(2, 4, sink)
	obs := NewObserver(pool, NewWriter(nil).Handlers())

	obs.Observe(types.Event{Kind: types.EventRoundSealed, Height: 1, Round: sealedRound()})
	obs.Observe(types.Event{Kind: types.EventTermStarted, Height: 1, Term: &types.Term{Number: 2, Miners: []thor.Address{minerA}}})
	pool.Shutdown()

	assert.Len(t, sink.byMeasurement(config.RoundStatsMeasurement), 1)
	assert.Len(t, sink.byMeasurement(config.MinerSlotsMeasurement), 2)
	assert.Len(t, sink.byMeasurement(config.TermChangeMeasurement), 1)
	assert.Empty(t, sink.byMeasurement(config.DividendsMeasurement))
}

func TestWorkerPoolSurvivesFailures(t *testing.T) {
	sink := &memSink{err: errors.New("unreachable")}
	pool := NewWorkerPool(1, 1, sink)

	boom := Task{EventType: "boom", Event: &types.Event{}, Handler: func(*types.Event) []*write.Point {
		panic("handler bug")
	}}
	failing := Task{EventType: "rounds", Event: &types.Event{Kind: types.EventRoundSealed, Round: sealedRound()}, Handler: NewWriter(nil).RoundStats}
	require.NoError(t, pool.SubmitBatch([]Task{boom, failing}))
	pool.Shutdown()

	err := pool.SubmitBatch([]Task{failing})
	require.Error(t, err)
	assert.Equal(t, config.ErrWorkerPoolShutdown, err.Error())
}
