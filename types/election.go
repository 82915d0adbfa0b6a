package types

import (
	"math"
	"math/big"

	"github.com/vechain/thor/v2/thor"
)

type CandidateStatus uint8

const (
	CandidateAnnounced CandidateStatus = iota + 1
	CandidateActiveMiner
	CandidateQuit
)

func (s CandidateStatus) String() string {
	switch s {
	case CandidateAnnounced:
		return "Announced"
	case CandidateActiveMiner:
		return "ActiveMiner"
	case CandidateQuit:
		return "Quit"
	default:
		return "Unknown"
	}
}

// Candidate is never deleted; a quit candidate keeps its record for audit.
type Candidate struct {
	Address       thor.Address    `json:"address"`
	Status        CandidateStatus `json:"status"`
	Weight        *big.Int        `json:"weight"`        // sum of live ticket weights
	AnnouncedAt   uint64          `json:"announcedAt"`   // unix seconds
	AnnouncedTerm uint64          `json:"announcedTerm"` // term current at announcement
}

// Eligible reports whether the candidate takes part in victor computation.
func (c *Candidate) Eligible() bool {
	return c.Status == CandidateAnnounced || c.Status == CandidateActiveMiner
}

// Ticket is a locked vote. Principal and weight never change after issue.
type Ticket struct {
	ID          string       `json:"id"`
	Nonce       uint64       `json:"nonce"` // issue order across the ledger
	Voter       thor.Address `json:"voter"`
	Candidate   thor.Address `json:"candidate"`
	Amount      uint64       `json:"amount"`
	LockDays    uint64       `json:"lockDays"`
	IssuedTerm  uint64       `json:"issuedTerm"`
	IssuedAt    uint64       `json:"issuedAt"`
	Weight      *big.Int     `json:"weight"`
	Withdrawn   uint8        `json:"withdrawn"` // 1 once the principal was returned
	WithdrawnAt uint64       `json:"withdrawnAt"`
}

func (t *Ticket) IsWithdrawn() bool {
	return t.Withdrawn != 0
}

// MaturesAt is the first timestamp at which the ticket can be withdrawn. A
// lock that runs past the largest timestamp never matures.
func (t *Ticket) MaturesAt(secondsPerDay uint64) uint64 {
	if secondsPerDay != 0 && t.LockDays > math.MaxUint64/secondsPerDay {
		return math.MaxUint64
	}
	lock := t.LockDays * secondsPerDay
	if t.IssuedAt > math.MaxUint64-lock {
		return math.MaxUint64
	}
	return t.IssuedAt + lock
}

// DividendRecord is the share paid to one voter for backing one victor.
type DividendRecord struct {
	Voter     thor.Address `json:"voter"`
	Candidate thor.Address `json:"candidate"`
	Weight    *big.Int     `json:"weight"`
	Amount    uint64       `json:"amount"`
}

type DividendPool struct {
	Term        uint64           `json:"term"`
	Balance     uint64           `json:"balance"`
	Distributed uint64           `json:"distributed"`
	Finalized   uint8            `json:"finalized"`
	Records     []DividendRecord `json:"records"`
}

func (p *DividendPool) IsFinalized() bool {
	return p.Finalized != 0
}

// SnapshotEntry aggregates the live ticket weight a voter placed on a victor.
type SnapshotEntry struct {
	Voter     thor.Address `json:"voter"`
	Candidate thor.Address `json:"candidate"`
	Weight    *big.Int     `json:"weight"`
}

// VoteSnapshot freezes the weights behind a term's victors at the moment they
// were computed. Dividends of the term are split according to it.
type VoteSnapshot struct {
	Term        uint64          `json:"term"`
	Entries     []SnapshotEntry `json:"entries"`
	TotalWeight *big.Int        `json:"totalWeight"`
}
