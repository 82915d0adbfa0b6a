// Package consensus is the surface external callers reach through the
// execution substrate. Every mutating call runs as one atomic unit against a
// staged view of the store: time is advanced, the command applied and time
// advanced again, then everything is committed in a single batch or dropped.
package consensus

import (
	"log/slog"
	"sync"

	"github.com/pkg/errors"

	"github.com/vechain/dposcore/config"
	"github.com/vechain/dposcore/election"
	"github.com/vechain/dposcore/errs"
	"github.com/vechain/dposcore/kv"
	"github.com/vechain/dposcore/roundstore"
	"github.com/vechain/dposcore/scheduler"
	"github.com/vechain/dposcore/types"
)

// Receipt describes a committed call.
type Receipt struct {
	Command   string        `json:"command"`
	Caller    string        `json:"caller"`
	Height    uint64        `json:"height"`
	Timestamp uint64        `json:"timestamp"`
	Result    any           `json:"result,omitempty"`
	Events    []types.Event `json:"-"`
}

type Engine struct {
	mu        sync.Mutex
	db        kv.Database
	params    config.Params
	cache     *roundstore.Cache
	observers []Observer
}

func New(db kv.Database, params config.Params) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	cache, err := roundstore.NewCache(params.RoundCacheSize)
	if err != nil {
		return nil, err
	}
	return &Engine{db: db, params: params, cache: cache}, nil
}

func (e *Engine) Params() config.Params {
	return e.params
}

// Subscribe registers an observer for committed events.
func (e *Engine) Subscribe(o Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, o)
}

// state binds the components to one stage.
type state struct {
	rounds *roundstore.Store
	ledger *election.Ledger
	sched  *scheduler.Scheduler
}

func (e *Engine) bind(s kv.Store) *state {
	rounds := roundstore.New(s, e.cache)
	ledger := election.New(s, &e.params)
	return &state{
		rounds: rounds,
		ledger: ledger,
		sched:  scheduler.New(&e.params, rounds, ledger),
	}
}

// Execute applies call atomically. On any error nothing is persisted.
func (e *Engine) Execute(call Call) (*Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	stage := kv.NewStage(e.db)
	receipt, err := e.execute(e.bind(stage), call)
	if err != nil {
		e.discard(stage)
		if errs.IsSafety(err) {
			slog.Warn("safety violation, mutation discarded",
				"command", commandName(call.Command),
				"caller", call.Caller,
				"height", call.Height,
				"error", err)
			e.notify([]types.Event{{
				Kind:      types.EventSafetyViolation,
				Height:    call.Height,
				Timestamp: call.Timestamp,
				Caller:    call.Caller,
				Err:       err,
			}})
		}
		return nil, err
	}
	if err := stage.Commit(); err != nil {
		e.cache.Purge()
		return nil, errors.Wrap(err, "commit stage")
	}
	e.notify(receipt.Events)
	return receipt, nil
}

// ExecuteSigned authenticates the caller from the envelope and executes.
func (e *Engine) ExecuteSigned(sc *SignedCall) (*Receipt, error) {
	call, err := sc.Recover()
	if err != nil {
		return nil, err
	}
	return e.Execute(call)
}

func (e *Engine) discard(stage *kv.Stage) {
	// the cache may hold rounds sealed by the dropped writes
	if stage.Dirty() {
		e.cache.Purge()
	}
	stage.Discard()
}

func (e *Engine) notify(events []types.Event) {
	for _, ev := range events {
		for _, o := range e.observers {
			o.Observe(ev)
		}
	}
}

func commandName(c Command) string {
	if c == nil {
		return "<nil>"
	}
	return c.Name()
}

func (e *Engine) execute(st *state, call Call) (*Receipt, error) {
	if call.Command == nil {
		return nil, errors.Wrap(errs.ErrUnknownCommand, "nil command")
	}
	if call.Caller.IsZero() {
		return nil, errs.ErrZeroIdentity
	}
	if call.Timestamp > config.MaxTimestamp {
		return nil, errors.Wrapf(errs.ErrInvalidTimestamp, "%d", call.Timestamp)
	}

	before, err := st.sched.Advance(call.Timestamp)
	if err != nil {
		return nil, err
	}
	result, applied, err := e.apply(st, call)
	if err != nil {
		return nil, err
	}
	after, err := st.sched.Advance(call.Timestamp)
	if err != nil {
		return nil, err
	}

	events := make([]types.Event, 0, len(before)+len(applied)+len(after))
	events = append(events, before...)
	events = append(events, applied...)
	events = append(events, after...)
	for i := range events {
		events[i].Height = call.Height
		events[i].Timestamp = call.Timestamp
		events[i].Caller = call.Caller
	}
	return &Receipt{
		Command:   call.Command.Name(),
		Caller:    call.Caller.String(),
		Height:    call.Height,
		Timestamp: call.Timestamp,
		Result:    result,
		Events:    events,
	}, nil
}
