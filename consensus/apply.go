package consensus

import (
	"github.com/pkg/errors"
	"github.com/vechain/thor/v2/thor"

	"github.com/vechain/dposcore/errs"
	"github.com/vechain/dposcore/types"
)

// apply runs the command against st. It returns the command's result and the
// events it produced.
func (e *Engine) apply(st *state, call Call) (any, []types.Event, error) {
	var term *types.Term
	if _, genesis := call.Command.(*InitialTerm); !genesis {
		var err error
		if term, err = st.rounds.CurrentTerm(); err != nil {
			return nil, nil, err
		}
	}
	now := call.Timestamp

	switch cmd := call.Command.(type) {
	case *InitialTerm:
		return e.initialTerm(st, call, cmd)

	case *NextTerm:
		return e.nextTerm(st, call, term, cmd)

	case *PackageOutValue:
		r, err := st.rounds.GetRound(cmd.Round)
		if err != nil {
			return nil, nil, err
		}
		signer, err := recoverAddress(SlotSigningHash(r, cmd.Slot, cmd.OutValue), cmd.Signature)
		if err != nil {
			return nil, nil, err
		}
		if signer != call.Caller {
			return nil, nil, errors.Wrapf(errs.ErrBadSignature, "signed by %s, called by %s", signer, call.Caller)
		}
		if err := st.sched.Commit(cmd.Round, cmd.Slot, call.Caller, cmd.OutValue, cmd.Signature, now); err != nil {
			return nil, nil, err
		}
		return nil, nil, nil

	case *BroadcastInValue:
		if err := st.sched.Reveal(cmd.Round, cmd.Slot, call.Caller, cmd.InValue); err != nil {
			return nil, nil, err
		}
		return nil, nil, nil

	case *AnnounceElection:
		c, err := st.ledger.AnnounceCandidacy(call.Caller, term.Number, now)
		return c, nil, err

	case *QuitElection:
		return nil, nil, st.ledger.QuitCandidacy(call.Caller, term.Miners)

	case *Vote:
		t, err := st.ledger.CastVote(call.Caller, cmd.Candidate, cmd.Amount, cmd.LockDays, term.Number, now)
		return t, nil, err

	case *WithdrawVote:
		t, err := st.ledger.WithdrawVote(call.Caller, cmd.TicketID, now)
		return t, nil, err

	case *DistributeDividends:
		if _, err := st.rounds.GetTerm(cmd.Term); err != nil {
			return nil, nil, err
		}
		pool, distributed, err := st.ledger.DistributeDividends(cmd.Term, term.Number)
		if err != nil {
			return nil, nil, err
		}
		if !distributed {
			return pool, nil, nil
		}
		return pool, []types.Event{{Kind: types.EventDividendsDistributed, Pool: pool}}, nil

	case *ClaimDividends:
		amount, err := st.ledger.ClaimDividends(call.Caller)
		return amount, nil, err

	default:
		return nil, nil, errors.Wrapf(errs.ErrUnknownCommand, "%T", call.Command)
	}
}

func (e *Engine) initialTerm(st *state, call Call, cmd *InitialTerm) (any, []types.Event, error) {
	events, err := st.sched.InitialTerm(cmd.Miners, cmd.Term, call.Timestamp)
	if err != nil {
		return nil, nil, err
	}
	if !containsAddress(cmd.Miners, call.Caller) {
		return nil, nil, errors.Wrapf(errs.ErrNotMiner, "%s is not a genesis miner", call.Caller)
	}
	for _, a := range cmd.Allocations {
		if err := st.ledger.Credit(a.Address, a.Amount); err != nil {
			return nil, nil, err
		}
	}
	term, err := st.rounds.CurrentTerm()
	if err != nil {
		return nil, nil, err
	}
	return term, events, nil
}

func (e *Engine) nextTerm(st *state, call Call, term *types.Term, cmd *NextTerm) (any, []types.Event, error) {
	if !term.HasMiner(call.Caller) {
		return nil, nil, errors.Wrapf(errs.ErrNotMiner, "%s", call.Caller)
	}
	victors, err := st.ledger.ComputeVictors(e.params.MaxMiners)
	if err != nil {
		return nil, nil, err
	}
	if len(victors) == 0 {
		victors = term.Miners
	}
	if !sameSet(cmd.Miners, victors) {
		return nil, nil, errors.Wrapf(errs.ErrVictorMismatch, "got %d miners, computed %d victors", len(cmd.Miners), len(victors))
	}
	events, err := st.sched.NextTerm(victors, call.Timestamp)
	if err != nil {
		return nil, nil, err
	}
	next, err := st.rounds.CurrentTerm()
	if err != nil {
		return nil, nil, err
	}
	return next, events, nil
}

func containsAddress(list []thor.Address, addr thor.Address) bool {
	for _, a := range list {
		if a == addr {
			return true
		}
	}
	return false
}

func sameSet(a, b []thor.Address) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[thor.Address]bool, len(a))
	for _, x := range a {
		set[x] = true
	}
	if len(set) != len(a) {
		return false
	}
	for _, y := range b {
		if !set[y] {
			return false
		}
	}
	return true
}
