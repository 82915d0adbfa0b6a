// Package scheduler runs the commit-reveal state machine of rounds and the
// rotation of terms. It reads and writes through a round store and the
// election ledger, both bound to the caller's stage, and derives everything
// from the canonical timestamp passed in.
package scheduler

import (
	"log/slog"
	"math"

	"github.com/pkg/errors"
	"github.com/vechain/thor/v2/thor"

	"github.com/vechain/dposcore/config"
	"github.com/vechain/dposcore/election"
	"github.com/vechain/dposcore/errs"
	"github.com/vechain/dposcore/roundstore"
	"github.com/vechain/dposcore/types"
)

type Scheduler struct {
	params *config.Params
	rounds *roundstore.Store
	ledger *election.Ledger
}

func New(params *config.Params, rounds *roundstore.Store, ledger *election.Ledger) *Scheduler {
	return &Scheduler{params: params, rounds: rounds, ledger: ledger}
}

// ValidateMiners checks a miner set for a term.
func ValidateMiners(miners []thor.Address, limit int) error {
	if len(miners) == 0 {
		return errors.New("miner set is empty")
	}
	if len(miners) > limit {
		return errors.Errorf("%d miners exceed the maximum of %d", len(miners), limit)
	}
	seen := make(map[thor.Address]bool, len(miners))
	for _, m := range miners {
		if m.IsZero() {
			return errors.New("miner set contains the zero address")
		}
		if seen[m] {
			return errors.Errorf("miner %s appears twice", m)
		}
		seen[m] = true
	}
	return nil
}

// InitialTerm bootstraps term number termNumber and round 1. It only succeeds
// on an empty store.
func (s *Scheduler) InitialTerm(miners []thor.Address, termNumber, now uint64) ([]types.Event, error) {
	ok, err := s.rounds.Initialized()
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, errs.ErrAlreadyInitialized
	}
	if err := ValidateMiners(miners, s.params.MaxMiners); err != nil {
		return nil, errors.Wrap(errs.ErrInvalidGenesis, err.Error())
	}
	if termNumber == math.MaxUint64 {
		return nil, errors.Wrap(errs.ErrInvalidGenesis, "term number leaves no room for a successor")
	}

	term := &types.Term{
		Number:     termNumber,
		Miners:     append([]thor.Address(nil), miners...),
		FirstRound: 1,
		Start:      now,
	}
	if _, err := s.ledger.Rotate(term.Number, term.Miners, nil); err != nil {
		return nil, err
	}
	if err := s.rounds.PutTerm(term); err != nil {
		return nil, err
	}
	round := NewRound(1, term.Number, now, thor.Bytes32{}, InitialOrder(miners), s.params.SlotInterval)
	if err := s.rounds.PutRound(round); err != nil {
		return nil, err
	}
	slog.Info("consensus initialized", "term", term.Number, "miners", len(miners), "start", now)
	return []types.Event{{Kind: types.EventTermStarted, Term: term, Round: round}}, nil
}

// openRound returns the latest round when it is the one addressed by number.
func (s *Scheduler) openRound(number uint64) (*types.Round, error) {
	r, err := s.rounds.CurrentRound()
	if err != nil {
		return nil, err
	}
	switch {
	case number > r.Number:
		return nil, errors.Wrapf(errs.ErrUnknownRound, "round %d, latest %d", number, r.Number)
	case number < r.Number || r.Sealed():
		return nil, errors.Wrapf(errs.ErrRoundSealed, "round %d", number)
	}
	return r, nil
}

func slotOf(r *types.Round, slot uint64, miner thor.Address) (*types.MinerSlot, error) {
	if slot >= uint64(len(r.Slots)) || r.Slots[slot].Miner != miner {
		return nil, errors.Wrapf(errs.ErrNotYourSlot, "round %d slot %d", r.Number, slot)
	}
	return &r.Slots[slot], nil
}

// Window returns the commit window [open, close) of a slot.
func (s *Scheduler) Window(ms *types.MinerSlot) (opens, closes uint64) {
	return ms.ExpectedTime, config.AddSeconds(ms.ExpectedTime, s.params.SlotInterval)
}

// Commit stores the out value of miner's slot while its window is open.
func (s *Scheduler) Commit(roundNumber, slot uint64, miner thor.Address, out thor.Bytes32, sig []byte, now uint64) error {
	r, err := s.openRound(roundNumber)
	if err != nil {
		return err
	}
	ms, err := slotOf(r, slot, miner)
	if err != nil {
		return err
	}
	switch ms.State {
	case types.SlotCommitted, types.SlotRevealed:
		return errors.Wrapf(errs.ErrDuplicateCommit, "round %d slot %d", r.Number, slot)
	case types.SlotMissed:
		return errors.Wrapf(errs.ErrWindowExpired, "round %d slot %d", r.Number, slot)
	}
	opens, closes := s.Window(ms)
	if now < opens {
		return errors.Wrapf(errs.ErrWindowNotOpen, "slot %d opens at %d", slot, opens)
	}
	if now >= closes {
		return errors.Wrapf(errs.ErrWindowExpired, "slot %d closed at %d", slot, closes)
	}

	ms.OutValue = out
	ms.Signature = append([]byte(nil), sig...)
	ms.State = types.SlotCommitted
	slog.Debug("out value committed", "round", r.Number, "slot", slot, "miner", miner)
	return s.rounds.PutRound(r)
}

// Reveal stores the in value of a committed slot when it hashes to the out
// value. A mismatch leaves the slot committed; it is missed at seal.
func (s *Scheduler) Reveal(roundNumber, slot uint64, miner thor.Address, in thor.Bytes32) error {
	r, err := s.openRound(roundNumber)
	if err != nil {
		return err
	}
	ms, err := slotOf(r, slot, miner)
	if err != nil {
		return err
	}
	switch ms.State {
	case types.SlotPending, types.SlotMissed:
		return errors.Wrapf(errs.ErrNotCommitted, "round %d slot %d", r.Number, slot)
	case types.SlotRevealed:
		return errors.Wrapf(errs.ErrAlreadyRevealed, "round %d slot %d", r.Number, slot)
	}
	if thor.Blake2b(in.Bytes()) != ms.OutValue {
		return errors.Wrapf(errs.ErrCommitRevealMismatch, "round %d slot %d miner %s", r.Number, slot, miner)
	}

	ms.InValue = in
	ms.State = types.SlotRevealed
	if s.params.BlockReward > 0 {
		if err := s.ledger.AccrueDividend(r.Term, s.params.BlockReward); err != nil {
			return err
		}
	}
	slog.Debug("in value revealed", "round", r.Number, "slot", slot, "miner", miner)
	return s.rounds.PutRound(r)
}

// Expire marks pending slots whose window has closed as missed and reports
// whether any slot changed.
func (s *Scheduler) Expire(r *types.Round, now uint64) bool {
	changed := false
	for i := range r.Slots {
		ms := &r.Slots[i]
		if ms.State != types.SlotPending {
			continue
		}
		if _, closes := s.Window(ms); now >= closes {
			ms.State = types.SlotMissed
			changed = true
		}
	}
	return changed
}

func seal(r *types.Round, at uint64) {
	for i := range r.Slots {
		if !r.Slots[i].State.Terminal() {
			r.Slots[i].State = types.SlotMissed
		}
	}
	r.Status = types.StatusSealed
	r.SealedAt = at
}

// nextStart is when the round after r begins: once r sealed and its last slot
// elapsed. A start that is already past its own deadline snaps to now so an
// idle chain catches up in one step.
func (s *Scheduler) nextStart(r *types.Round, slots int, now uint64) uint64 {
	start := config.AddSeconds(r.Start, uint64(len(r.Slots))*s.params.SlotInterval)
	if r.SealedAt > start {
		start = r.SealedAt
	}
	if now >= s.params.RoundDeadline(start, slots) {
		start = now
	}
	return start
}

// Advance applies every transition that the passage of time to now implies:
// slot expiry, round sealing, round and term rotation. Afterwards the latest
// round is open. It is a no-op before InitialTerm.
func (s *Scheduler) Advance(now uint64) ([]types.Event, error) {
	ok, err := s.rounds.Initialized()
	if err != nil || !ok {
		return nil, err
	}

	var events []types.Event
	for {
		r, err := s.rounds.CurrentRound()
		if err != nil {
			return nil, err
		}
		changed := s.Expire(r, now)
		deadline := s.params.RoundDeadline(r.Start, len(r.Slots))
		if !r.Complete() && now < deadline {
			if changed {
				return events, s.rounds.PutRound(r)
			}
			return events, nil
		}

		sealedEvents, err := s.sealAndRotate(r, min(now, deadline), now)
		if err != nil {
			return nil, err
		}
		events = append(events, sealedEvents...)
	}
}

// sealAndRotate seals r and opens its successor, starting a new term when the
// current one has run its rounds.
func (s *Scheduler) sealAndRotate(r *types.Round, sealedAt, now uint64) ([]types.Event, error) {
	seal(r, sealedAt)
	if err := s.rounds.PutRound(r); err != nil {
		return nil, err
	}
	events := []types.Event{{Kind: types.EventRoundSealed, Round: r}}
	slog.Debug("round sealed", "round", r.Number, "produced", r.Produced(), "slots", len(r.Slots))

	term, err := s.rounds.GetTerm(r.Term)
	if err != nil {
		return nil, err
	}
	if r.Number-term.FirstRound+1 >= s.params.RoundsPerTerm {
		victors, err := s.ledger.ComputeVictors(s.params.MaxMiners)
		if err != nil {
			return nil, err
		}
		if len(victors) == 0 {
			victors = term.Miners
		}
		termEvents, err := s.startTerm(term, r, victors, s.nextStart(r, len(victors), now))
		if err != nil {
			return nil, err
		}
		return append(events, termEvents...), nil
	}

	seed := AggregateSeed(r, s.params.MissingReveal)
	order := ShuffleMiners(term.Miners, seed, r.Number+1)
	next := NewRound(r.Number+1, term.Number, s.nextStart(r, len(order), now), seed, order, s.params.SlotInterval)
	if err := s.rounds.PutRound(next); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Scheduler) startTerm(prev *types.Term, last *types.Round, miners []thor.Address, start uint64) ([]types.Event, error) {
	prev.LastRound = last.Number
	prev.Status = types.StatusSealed
	if err := s.rounds.PutTerm(prev); err != nil {
		return nil, err
	}

	term := &types.Term{
		Number:     prev.Number + 1,
		Miners:     append([]thor.Address(nil), miners...),
		FirstRound: last.Number + 1,
		Start:      start,
	}
	if _, err := s.ledger.Rotate(term.Number, term.Miners, prev.Miners); err != nil {
		return nil, err
	}
	if err := s.rounds.PutTerm(term); err != nil {
		return nil, err
	}
	round := NewRound(term.FirstRound, term.Number, start, thor.Bytes32{}, InitialOrder(miners), s.params.SlotInterval)
	if err := s.rounds.PutRound(round); err != nil {
		return nil, err
	}
	slog.Info("term started", "term", term.Number, "miners", len(miners), "first_round", term.FirstRound, "start", start)
	return []types.Event{{Kind: types.EventTermStarted, Term: term, Round: round}}, nil
}

// NextTerm seals the current round and term early and starts a term with
// miners at now. The caller has checked miners against the computed victors.
func (s *Scheduler) NextTerm(miners []thor.Address, now uint64) ([]types.Event, error) {
	if err := ValidateMiners(miners, s.params.MaxMiners); err != nil {
		return nil, errors.Wrap(errs.ErrInvalidMinerSet, err.Error())
	}
	r, err := s.rounds.CurrentRound()
	if err != nil {
		return nil, err
	}
	term, err := s.rounds.GetTerm(r.Term)
	if err != nil {
		return nil, err
	}
	seal(r, now)
	if err := s.rounds.PutRound(r); err != nil {
		return nil, err
	}
	events := []types.Event{{Kind: types.EventRoundSealed, Round: r}}
	termEvents, err := s.startTerm(term, r, miners, now)
	if err != nil {
		return nil, err
	}
	return append(events, termEvents...), nil
}
