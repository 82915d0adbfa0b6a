package election

import (
	"bytes"
	"log/slog"
	"math/big"
	"sort"

	"github.com/pkg/errors"
	"github.com/vechain/thor/v2/thor"

	"github.com/vechain/dposcore/errs"
	"github.com/vechain/dposcore/kv"
	"github.com/vechain/dposcore/types"
)

// Candidate returns the record of addr, or nil when addr never announced.
func (l *Ledger) Candidate(addr thor.Address) (*types.Candidate, error) {
	var c types.Candidate
	if err := l.candidates.GetRLP(addr.Bytes(), &c); err != nil {
		if kv.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (l *Ledger) putCandidate(c *types.Candidate) error {
	return l.candidates.PutRLP(c.Address.Bytes(), c)
}

// IsCandidate reports whether addr is Announced or ActiveMiner.
func (l *Ledger) IsCandidate(addr thor.Address) (bool, error) {
	c, err := l.Candidate(addr)
	if err != nil {
		return false, err
	}
	return c != nil && c.Eligible(), nil
}

// Candidates returns every candidate ever announced, including quit ones, in
// announcement order.
func (l *Ledger) Candidates() ([]*types.Candidate, error) {
	addrs, err := getList[thor.Address](l.meta, candidateListKey)
	if err != nil {
		return nil, err
	}
	list := make([]*types.Candidate, 0, len(addrs))
	for _, addr := range addrs {
		c, err := l.Candidate(addr)
		if err != nil {
			return nil, err
		}
		if c == nil {
			return nil, errors.Errorf("candidate %s listed but missing", addr)
		}
		list = append(list, c)
	}
	return list, nil
}

// AnnounceCandidacy registers addr as a candidate. A quit candidate may
// announce again; it keeps its weight and gets a fresh announce time.
func (l *Ledger) AnnounceCandidacy(addr thor.Address, term, now uint64) (*types.Candidate, error) {
	if addr.IsZero() {
		return nil, errs.ErrZeroIdentity
	}
	c, err := l.Candidate(addr)
	if err != nil {
		return nil, err
	}
	switch {
	case c == nil:
		c = &types.Candidate{Address: addr, Weight: new(big.Int)}
		addrs, err := getList[thor.Address](l.meta, candidateListKey)
		if err != nil {
			return nil, err
		}
		if err := l.meta.PutRLP(candidateListKey, append(addrs, addr)); err != nil {
			return nil, err
		}
	case c.Eligible():
		return nil, errors.Wrapf(errs.ErrAlreadyCandidate, "%s", addr)
	}

	c.Status = types.CandidateAnnounced
	c.AnnouncedAt = now
	c.AnnouncedTerm = term
	if err := l.putCandidate(c); err != nil {
		return nil, err
	}
	slog.Debug("candidate announced", "address", addr, "term", term)
	return c, nil
}

// QuitCandidacy withdraws addr from future elections. Members of the current
// miner set must wait for the term boundary.
func (l *Ledger) QuitCandidacy(addr thor.Address, miners []thor.Address) error {
	c, err := l.Candidate(addr)
	if err != nil {
		return err
	}
	if c == nil || !c.Eligible() {
		return errors.Wrapf(errs.ErrNotCandidate, "%s", addr)
	}
	for _, m := range miners {
		if m == addr {
			return errors.Wrapf(errs.ErrCannotQuitActiveMiner, "%s", addr)
		}
	}
	c.Status = types.CandidateQuit
	slog.Debug("candidate quit", "address", addr)
	return l.putCandidate(c)
}

// ComputeVictors returns up to k eligible candidates ranked by weight
// descending, then announce time ascending, then address bytes ascending.
// Zero-weight candidates are ranked too.
func (l *Ledger) ComputeVictors(k int) ([]thor.Address, error) {
	if k <= 0 {
		return []thor.Address{}, nil
	}
	all, err := l.Candidates()
	if err != nil {
		return nil, err
	}
	eligible := make([]*types.Candidate, 0, len(all))
	for _, c := range all {
		if c.Eligible() {
			eligible = append(eligible, c)
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		return rankBefore(eligible[i], eligible[j])
	})
	if len(eligible) > k {
		eligible = eligible[:k]
	}
	victors := make([]thor.Address, len(eligible))
	for i, c := range eligible {
		victors[i] = c.Address
	}
	return victors, nil
}

func rankBefore(a, b *types.Candidate) bool {
	if cmp := a.Weight.Cmp(b.Weight); cmp != 0 {
		return cmp > 0
	}
	if a.AnnouncedAt != b.AnnouncedAt {
		return a.AnnouncedAt < b.AnnouncedAt
	}
	return bytes.Compare(a.Address.Bytes(), b.Address.Bytes()) < 0
}

// Rotate applies a term boundary: victors become ActiveMiner, members of the
// previous miner set that were not re-elected fall back to Announced, and the
// weights backing the victors are frozen for the term's dividends.
func (l *Ledger) Rotate(term uint64, victors, previous []thor.Address) (*types.VoteSnapshot, error) {
	elected := make(map[thor.Address]bool, len(victors))
	for _, v := range victors {
		elected[v] = true
	}
	for _, addr := range previous {
		if elected[addr] {
			continue
		}
		c, err := l.Candidate(addr)
		if err != nil {
			return nil, err
		}
		if c != nil && c.Status == types.CandidateActiveMiner {
			c.Status = types.CandidateAnnounced
			if err := l.putCandidate(c); err != nil {
				return nil, err
			}
		}
	}
	for _, addr := range victors {
		c, err := l.Candidate(addr)
		if err != nil {
			return nil, err
		}
		// genesis miners need not be candidates
		if c == nil || !c.Eligible() {
			continue
		}
		if c.Status != types.CandidateActiveMiner {
			c.Status = types.CandidateActiveMiner
			if err := l.putCandidate(c); err != nil {
				return nil, err
			}
		}
	}
	return l.takeSnapshot(term, victors)
}
