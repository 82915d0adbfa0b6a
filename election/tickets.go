package election

import (
	"log/slog"
	"math/big"
	"sort"

	"github.com/pkg/errors"
	"github.com/vechain/thor/v2/thor"

	"github.com/vechain/dposcore/config"
	"github.com/vechain/dposcore/errs"
	"github.com/vechain/dposcore/kv"
	"github.com/vechain/dposcore/types"
)

func (l *Ledger) Ticket(id string) (*types.Ticket, error) {
	var t types.Ticket
	if err := l.tickets.GetRLP([]byte(id), &t); err != nil {
		if kv.IsNotFound(err) {
			return nil, errors.Wrapf(errs.ErrUnknownTicket, "%s", id)
		}
		return nil, err
	}
	return &t, nil
}

func (l *Ledger) appendTicketID(t *kv.Table, addr thor.Address, id string) error {
	ids, err := getList[string](t, addr.Bytes())
	if err != nil {
		return err
	}
	return t.PutRLP(addr.Bytes(), append(ids, id))
}

func (l *Ledger) loadTickets(t *kv.Table, addr thor.Address) ([]*types.Ticket, error) {
	ids, err := getList[string](t, addr.Bytes())
	if err != nil {
		return nil, err
	}
	tickets := make([]*types.Ticket, 0, len(ids))
	for _, id := range ids {
		tk, err := l.Ticket(id)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, tk)
	}
	return tickets, nil
}

// TicketsOf returns the tickets addr cast or received, withdrawn ones
// included, in issue order.
func (l *Ledger) TicketsOf(addr thor.Address) ([]*types.Ticket, error) {
	cast, err := l.loadTickets(l.voterTickets, addr)
	if err != nil {
		return nil, err
	}
	received, err := l.loadTickets(l.candTickets, addr)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(cast))
	all := make([]*types.Ticket, 0, len(cast)+len(received))
	for _, t := range append(cast, received...) {
		if seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		all = append(all, t)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Nonce < all[j].Nonce })
	return all, nil
}

// CastVote locks amount of the voter's balance on candidate for lockDays.
func (l *Ledger) CastVote(voter, candidate thor.Address, amount, lockDays, term, now uint64) (*types.Ticket, error) {
	if amount == 0 {
		return nil, errs.ErrInvalidAmount
	}
	if lockDays < l.params.MinLockDays || lockDays > l.params.MaxLockDays {
		return nil, errors.Wrapf(errs.ErrInvalidLockPeriod, "%d not in [%d, %d]", lockDays, l.params.MinLockDays, l.params.MaxLockDays)
	}
	c, err := l.Candidate(candidate)
	if err != nil {
		return nil, err
	}
	if c == nil || !c.Eligible() {
		return nil, errors.Wrapf(errs.ErrUnknownCandidate, "%s", candidate)
	}
	if err := l.debit(voter, amount); err != nil {
		return nil, err
	}

	nonce, err := l.nextTicketNonce()
	if err != nil {
		return nil, err
	}
	t := &types.Ticket{
		ID:         TicketID(voter, candidate, nonce),
		Nonce:      nonce,
		Voter:      voter,
		Candidate:  candidate,
		Amount:     amount,
		LockDays:   lockDays,
		IssuedTerm: term,
		IssuedAt:   now,
		Weight:     Weight(amount, lockDays, l.params.WeightDivisor),
	}
	if err := l.tickets.PutRLP([]byte(t.ID), t); err != nil {
		return nil, err
	}
	if err := l.appendTicketID(l.voterTickets, voter, t.ID); err != nil {
		return nil, err
	}
	if err := l.appendTicketID(l.candTickets, candidate, t.ID); err != nil {
		return nil, err
	}

	c.Weight = new(big.Int).Add(c.Weight, t.Weight)
	if err := l.putCandidate(c); err != nil {
		return nil, err
	}
	slog.Debug("vote cast", "voter", voter, "candidate", candidate, "amount", amount, "lock_days", lockDays, "ticket", t.ID)
	return t, nil
}

// WithdrawVote returns the principal of a matured ticket to its voter and
// removes the ticket's weight from the candidate.
func (l *Ledger) WithdrawVote(voter thor.Address, id string, now uint64) (*types.Ticket, error) {
	t, err := l.Ticket(id)
	if err != nil {
		return nil, err
	}
	if t.Voter != voter {
		return nil, errors.Wrapf(errs.ErrNotTicketOwner, "%s", id)
	}
	if t.IsWithdrawn() {
		return nil, errors.Wrapf(errs.ErrAlreadyWithdrawn, "%s", id)
	}
	if maturity := t.MaturesAt(config.SecondsPerDay); now < maturity {
		return nil, errors.Wrapf(errs.ErrNotMatured, "ticket %s matures at %d", id, maturity)
	}

	c, err := l.Candidate(t.Candidate)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errors.Errorf("ticket %s references missing candidate %s", id, t.Candidate)
	}
	c.Weight = new(big.Int).Sub(c.Weight, t.Weight)
	if c.Weight.Sign() < 0 {
		return nil, errors.Errorf("candidate %s weight underflow", t.Candidate)
	}
	if err := l.putCandidate(c); err != nil {
		return nil, err
	}

	t.Withdrawn = 1
	t.WithdrawnAt = now
	if err := l.tickets.PutRLP([]byte(t.ID), t); err != nil {
		return nil, err
	}
	if err := l.Credit(voter, t.Amount); err != nil {
		return nil, err
	}
	slog.Debug("vote withdrawn", "voter", voter, "ticket", id, "amount", t.Amount)
	return t, nil
}
