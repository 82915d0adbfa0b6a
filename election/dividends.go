package election

import (
	"bytes"
	"log/slog"
	"math"
	"math/big"
	"sort"

	"github.com/pkg/errors"
	"github.com/vechain/thor/v2/thor"

	"github.com/vechain/dposcore/errs"
	"github.com/vechain/dposcore/kv"
	"github.com/vechain/dposcore/types"
)

// Pool returns the dividend pool of term. A term nothing was accrued to has
// an empty pool.
func (l *Ledger) Pool(term uint64) (*types.DividendPool, error) {
	var p types.DividendPool
	if err := l.pools.GetRLP(termKey(term), &p); err != nil {
		if kv.IsNotFound(err) {
			return &types.DividendPool{Term: term}, nil
		}
		return nil, err
	}
	return &p, nil
}

// Snapshot returns the vote snapshot taken when term's victors were computed.
func (l *Ledger) Snapshot(term uint64) (*types.VoteSnapshot, error) {
	var s types.VoteSnapshot
	if err := l.snapshots.GetRLP(termKey(term), &s); err != nil {
		if kv.IsNotFound(err) {
			return &types.VoteSnapshot{Term: term, TotalWeight: new(big.Int)}, nil
		}
		return nil, err
	}
	return &s, nil
}

func (l *Ledger) takeSnapshot(term uint64, victors []thor.Address) (*types.VoteSnapshot, error) {
	snap := &types.VoteSnapshot{Term: term, TotalWeight: new(big.Int)}
	for _, victor := range victors {
		tickets, err := l.loadTickets(l.candTickets, victor)
		if err != nil {
			return nil, err
		}
		byVoter := make(map[thor.Address]*big.Int)
		for _, t := range tickets {
			if t.IsWithdrawn() {
				continue
			}
			w, ok := byVoter[t.Voter]
			if !ok {
				w = new(big.Int)
				byVoter[t.Voter] = w
			}
			w.Add(w, t.Weight)
		}
		voters := make([]thor.Address, 0, len(byVoter))
		for v := range byVoter {
			voters = append(voters, v)
		}
		sort.Slice(voters, func(i, j int) bool {
			return bytes.Compare(voters[i].Bytes(), voters[j].Bytes()) < 0
		})
		for _, v := range voters {
			snap.Entries = append(snap.Entries, types.SnapshotEntry{Voter: v, Candidate: victor, Weight: byVoter[v]})
			snap.TotalWeight.Add(snap.TotalWeight, byVoter[v])
		}
	}
	if err := l.snapshots.PutRLP(termKey(term), snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// AccrueDividend adds amount to the pool of term.
func (l *Ledger) AccrueDividend(term, amount uint64) error {
	p, err := l.Pool(term)
	if err != nil {
		return err
	}
	if p.IsFinalized() {
		return errors.Wrapf(errs.ErrDividendsFinalized, "term %d", term)
	}
	if p.Balance > math.MaxUint64-amount {
		return errors.Errorf("dividend pool overflow for term %d", term)
	}
	p.Balance += amount
	return l.pools.PutRLP(termKey(term), p)
}

// DistributeDividends splits the pool of an ended term between the voters of
// its snapshot, proportionally to weight and rounded down. The remainder stays
// in the pool. Once finalized, further calls return the pool unchanged.
func (l *Ledger) DistributeDividends(term, currentTerm uint64) (pool *types.DividendPool, distributed bool, err error) {
	if term >= currentTerm {
		return nil, false, errors.Wrapf(errs.ErrTermNotEnded, "term %d, current %d", term, currentTerm)
	}
	p, err := l.Pool(term)
	if err != nil {
		return nil, false, err
	}
	if p.IsFinalized() {
		return p, false, nil
	}
	snap, err := l.Snapshot(term)
	if err != nil {
		return nil, false, err
	}

	balance := new(big.Int).SetUint64(p.Balance)
	if snap.TotalWeight.Sign() > 0 {
		for _, e := range snap.Entries {
			share := new(big.Int).Mul(balance, e.Weight)
			share.Div(share, snap.TotalWeight)
			amount := share.Uint64()

			p.Records = append(p.Records, types.DividendRecord{
				Voter:     e.Voter,
				Candidate: e.Candidate,
				Weight:    e.Weight,
				Amount:    amount,
			})
			p.Distributed += amount
			if amount == 0 {
				continue
			}
			claimable, err := l.Dividends(e.Voter)
			if err != nil {
				return nil, false, err
			}
			if claimable > math.MaxUint64-amount {
				return nil, false, errors.Errorf("dividends overflow for %s", e.Voter)
			}
			if err := l.dividends.PutRLP(e.Voter.Bytes(), claimable+amount); err != nil {
				return nil, false, err
			}
		}
	}
	if p.Distributed > p.Balance {
		return nil, false, errors.Errorf("term %d distributed %d above balance %d", term, p.Distributed, p.Balance)
	}
	p.Finalized = 1
	if err := l.pools.PutRLP(termKey(term), p); err != nil {
		return nil, false, err
	}
	slog.Info("dividends distributed", "term", term, "balance", p.Balance, "distributed", p.Distributed, "records", len(p.Records))
	return p, true, nil
}
