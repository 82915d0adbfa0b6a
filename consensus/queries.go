package consensus

import (
	"github.com/vechain/thor/v2/thor"

	"github.com/vechain/dposcore/kv"
	"github.com/vechain/dposcore/types"
)

// view runs fn against a stage that is always discarded, so nothing a query
// does can reach the store.
func (e *Engine) view(fn func(st *state) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	stage := kv.NewStage(e.db)
	defer e.discard(stage)
	return fn(e.bind(stage))
}

func (e *Engine) GetRoundInfo(number uint64) (r *types.Round, err error) {
	err = e.view(func(st *state) error {
		r, err = st.rounds.GetRound(number)
		return err
	})
	return
}

func (e *Engine) GetTermInfo(number uint64) (t *types.Term, err error) {
	err = e.view(func(st *state) error {
		t, err = st.rounds.GetTerm(number)
		return err
	})
	return
}

func (e *Engine) CurrentRoundNumber() (n uint64, err error) {
	err = e.view(func(st *state) error {
		n, err = st.rounds.LatestRoundNumber()
		return err
	})
	return
}

func (e *Engine) CurrentTermNumber() (n uint64, err error) {
	err = e.view(func(st *state) error {
		n, err = st.rounds.LatestTermNumber()
		return err
	})
	return
}

func (e *Engine) IsCandidate(addr thor.Address) (ok bool, err error) {
	err = e.view(func(st *state) error {
		ok, err = st.ledger.IsCandidate(addr)
		return err
	})
	return
}

// GetTicketsInfo returns the tickets addr cast or received.
func (e *Engine) GetTicketsInfo(addr thor.Address) (tickets []*types.Ticket, err error) {
	err = e.view(func(st *state) error {
		tickets, err = st.ledger.TicketsOf(addr)
		return err
	})
	return
}

// GetCurrentVictories returns the k candidates that would win an election
// held now.
func (e *Engine) GetCurrentVictories(k int) (victors []thor.Address, err error) {
	err = e.view(func(st *state) error {
		victors, err = st.ledger.ComputeVictors(k)
		return err
	})
	return
}

func (e *Engine) GetBalance(addr thor.Address) (balance uint64, err error) {
	err = e.view(func(st *state) error {
		balance, err = st.ledger.Balance(addr)
		return err
	})
	return
}

func (e *Engine) GetDividends(addr thor.Address) (amount uint64, err error) {
	err = e.view(func(st *state) error {
		amount, err = st.ledger.Dividends(addr)
		return err
	})
	return
}

func (e *Engine) GetDividendPool(term uint64) (pool *types.DividendPool, err error) {
	err = e.view(func(st *state) error {
		pool, err = st.ledger.Pool(term)
		return err
	})
	return
}
