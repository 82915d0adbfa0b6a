// Package audit re-verifies stored history: every commitment, signature,
// seed and miner order is recomputed from the records that precede it.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/vechain/thor/v2/thor"
	"golang.org/x/sync/errgroup"

	"github.com/vechain/dposcore/config"
	"github.com/vechain/dposcore/consensus"
	"github.com/vechain/dposcore/errs"
	"github.com/vechain/dposcore/kv"
	"github.com/vechain/dposcore/roundstore"
	"github.com/vechain/dposcore/scheduler"
	"github.com/vechain/dposcore/types"
)

// NoSlot marks a finding about a whole round or term.
const NoSlot = -1

type Finding struct {
	Term   uint64 `json:"term"`
	Round  uint64 `json:"round"`
	Slot   int    `json:"slot"`
	Reason string `json:"reason"`
}

func (f Finding) String() string {
	if f.Slot == NoSlot {
		return fmt.Sprintf("term %d round %d: %s", f.Term, f.Round, f.Reason)
	}
	return fmt.Sprintf("term %d round %d slot %d: %s", f.Term, f.Round, f.Slot, f.Reason)
}

type Report struct {
	Terms    int       `json:"terms"`
	Rounds   int       `json:"rounds"`
	Revealed int       `json:"revealed"`
	Missed   int       `json:"missed"`
	Findings []Finding `json:"findings"`
}

func (r *Report) OK() bool {
	return len(r.Findings) == 0
}

type Auditor struct {
	store   *roundstore.Store
	params  *config.Params
	workers int
}

// New returns an auditor reading from s. s must be safe for concurrent reads.
func New(s kv.Store, params *config.Params, workers int) *Auditor {
	if workers <= 0 {
		workers = config.DefaultAuditWorkers
	}
	return &Auditor{store: roundstore.New(s, nil), params: params, workers: workers}
}

type collector struct {
	mu       sync.Mutex
	findings []Finding
	revealed int
	missed   int
}

func (c *collector) add(term, round uint64, slot int, format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.findings = append(c.findings, Finding{Term: term, Round: round, Slot: slot, Reason: fmt.Sprintf(format, args...)})
}

func (c *collector) count(revealed, missed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revealed += revealed
	c.missed += missed
}

// Run checks every stored term and round. Findings describe inconsistent
// records; the error is reserved for storage failures and cancellation.
func (a *Auditor) Run(ctx context.Context) (*Report, error) {
	ok, err := a.store.Initialized()
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Report{}, nil
	}

	terms, err := a.loadTerms()
	if err != nil {
		return nil, err
	}
	latestRound, err := a.store.LatestRoundNumber()
	if err != nil {
		return nil, err
	}

	c := &collector{}
	a.checkTerms(terms, latestRound, c)

	first := terms[0].FirstRound
	byNumber := make(map[uint64]*types.Term, len(terms))
	for _, t := range terms {
		byNumber[t.Number] = t
	}

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(a.workers)
	for n := first; n <= latestRound; n++ {
		if ctx.Err() != nil {
			break
		}
		group.Go(func() error {
			return a.checkRound(n, n == latestRound, byNumber, c)
		})
	}
	if err := group.Wait(); err != nil {
		return nil, errors.Wrap(err, "audit rounds")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(c.findings, func(i, j int) bool {
		fi, fj := c.findings[i], c.findings[j]
		if fi.Round != fj.Round {
			return fi.Round < fj.Round
		}
		return fi.Slot < fj.Slot
	})
	report := &Report{
		Terms:    len(terms),
		Rounds:   int(latestRound - first + 1),
		Revealed: c.revealed,
		Missed:   c.missed,
		Findings: c.findings,
	}
	slog.Info("audit finished",
		"terms", report.Terms,
		"rounds", report.Rounds,
		"revealed", report.Revealed,
		"missed", report.Missed,
		"findings", len(report.Findings))
	return report, nil
}

// loadTerms walks back from the latest term, oldest first in the result.
func (a *Auditor) loadTerms() ([]*types.Term, error) {
	latest, err := a.store.LatestTermNumber()
	if err != nil {
		return nil, err
	}
	var terms []*types.Term
	for n := latest; ; n-- {
		t, err := a.store.GetTerm(n)
		if errors.Is(err, errs.ErrUnknownTerm) {
			break
		}
		if err != nil {
			return nil, err
		}
		terms = append(terms, t)
		if n == 0 {
			break
		}
	}
	slices.Reverse(terms)
	return terms, nil
}

func (a *Auditor) checkTerms(terms []*types.Term, latestRound uint64, c *collector) {
	for i, t := range terms {
		last := i == len(terms)-1
		if last == t.Sealed() {
			c.add(t.Number, t.FirstRound, NoSlot, "term sealed=%v but latest=%v", t.Sealed(), last)
		}
		if err := scheduler.ValidateMiners(t.Miners, a.params.MaxMiners); err != nil {
			c.add(t.Number, t.FirstRound, NoSlot, "miner set: %v", err)
		}
		if t.Sealed() && t.LastRound < t.FirstRound {
			c.add(t.Number, t.FirstRound, NoSlot, "last round %d before first round", t.LastRound)
		}
		if last && t.FirstRound > latestRound {
			c.add(t.Number, t.FirstRound, NoSlot, "first round beyond latest round %d", latestRound)
		}
		if i == 0 {
			continue
		}
		prev := terms[i-1]
		if prev.LastRound+1 != t.FirstRound {
			c.add(t.Number, t.FirstRound, NoSlot, "does not follow term %d ending at round %d", prev.Number, prev.LastRound)
		}
		if t.Start < prev.Start {
			c.add(t.Number, t.FirstRound, NoSlot, "starts at %d before term %d", t.Start, prev.Number)
		}
	}
}

func (a *Auditor) checkRound(n uint64, latest bool, terms map[uint64]*types.Term, c *collector) error {
	r, err := a.store.GetRound(n)
	if err != nil {
		return err
	}
	if r.Number != n {
		c.add(r.Term, n, NoSlot, "stored under %d but numbered %d", n, r.Number)
	}
	if latest == r.Sealed() {
		c.add(r.Term, n, NoSlot, "round sealed=%v but latest=%v", r.Sealed(), latest)
	}

	term, ok := terms[r.Term]
	if !ok {
		c.add(r.Term, n, NoSlot, "unknown term")
		return nil
	}
	if n < term.FirstRound || (term.Sealed() && n > term.LastRound) {
		c.add(r.Term, n, NoSlot, "outside term rounds [%d, %d]", term.FirstRound, term.LastRound)
	}

	var expected []thor.Address
	if n == term.FirstRound {
		if !r.Seed.IsZero() {
			c.add(r.Term, n, NoSlot, "first round of term has seed %s", r.Seed)
		}
		expected = scheduler.InitialOrder(term.Miners)
	} else {
		prev, err := a.store.GetRound(n - 1)
		if err != nil {
			return err
		}
		seed := scheduler.AggregateSeed(prev, a.params.MissingReveal)
		if r.Seed != seed {
			c.add(r.Term, n, NoSlot, "seed %s, expected %s", r.Seed, seed)
		}
		if r.Start < prev.SealedAt {
			c.add(r.Term, n, NoSlot, "starts at %d before previous round sealed at %d", r.Start, prev.SealedAt)
		}
		expected = scheduler.ShuffleMiners(term.Miners, seed, n)
	}
	if !slices.Equal(r.Miners(), expected) {
		c.add(r.Term, n, NoSlot, "miner order does not match the term and seed")
	}

	revealed, missed := 0, 0
	for i := range r.Slots {
		ms := &r.Slots[i]
		if ms.Order != uint64(i) {
			c.add(r.Term, n, i, "order %d", ms.Order)
		}
		if want := r.Start + uint64(i)*a.params.SlotInterval; ms.ExpectedTime != want {
			c.add(r.Term, n, i, "expected time %d, want %d", ms.ExpectedTime, want)
		}
		if r.Sealed() && !ms.State.Terminal() {
			c.add(r.Term, n, i, "slot %s in sealed round", ms.State)
		}
		switch ms.State {
		case types.SlotRevealed:
			revealed++
			if thor.Blake2b(ms.InValue.Bytes()) != ms.OutValue {
				c.add(r.Term, n, i, "in value does not hash to out value")
			}
		case types.SlotMissed:
			missed++
		}
		if len(ms.Signature) == 0 {
			if ms.State == types.SlotCommitted || ms.State == types.SlotRevealed {
				c.add(r.Term, n, i, "%s without signature", ms.State)
			}
			continue
		}
		hash := consensus.SlotSigningHash(r, uint64(i), ms.OutValue)
		signer, err := consensus.RecoverSigner(hash, ms.Signature)
		if err != nil || signer != ms.Miner {
			c.add(r.Term, n, i, "out value not signed by %s", ms.Miner)
		}
	}
	c.count(revealed, missed)
	return nil
}
