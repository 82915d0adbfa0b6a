package types

import (
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/vechain/thor/v2/thor"
)

type SlotState uint8

const (
	SlotPending SlotState = iota
	SlotCommitted
	SlotRevealed
	SlotMissed
)

func (s SlotState) String() string {
	switch s {
	case SlotPending:
		return "Pending"
	case SlotCommitted:
		return "Committed"
	case SlotRevealed:
		return "Revealed"
	case SlotMissed:
		return "Missed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the slot can no longer change.
func (s SlotState) Terminal() bool {
	return s == SlotRevealed || s == SlotMissed
}

type RecordStatus uint8

const (
	StatusOpen RecordStatus = iota
	StatusSealed
)

func (s RecordStatus) String() string {
	if s == StatusSealed {
		return "Sealed"
	}
	return "Open"
}

// MinerSlot is one scheduled production of a round.
type MinerSlot struct {
	Miner        thor.Address `json:"miner"`
	Order        uint64       `json:"order"`
	ExpectedTime uint64       `json:"expectedTime"`
	State        SlotState    `json:"state"`
	OutValue     thor.Bytes32 `json:"outValue"`
	InValue      thor.Bytes32 `json:"inValue"`
	Signature    []byte       `json:"signature"`
}

func (s *MinerSlot) Produced() bool {
	return s.State == SlotRevealed
}

type Round struct {
	Number   uint64       `json:"number"`
	Term     uint64       `json:"term"`
	Start    uint64       `json:"start"`
	Seed     thor.Bytes32 `json:"seed"` // zero for the first round of a term
	Slots    []MinerSlot  `json:"slots"`
	Status   RecordStatus `json:"status"`
	SealedAt uint64       `json:"sealedAt"`
}

func (r *Round) Sealed() bool {
	return r.Status == StatusSealed
}

// Complete reports whether every slot either produced or missed.
func (r *Round) Complete() bool {
	for i := range r.Slots {
		if !r.Slots[i].State.Terminal() {
			return false
		}
	}
	return true
}

// Miners returns the miners in slot order.
func (r *Round) Miners() []thor.Address {
	miners := make([]thor.Address, len(r.Slots))
	for i := range r.Slots {
		miners[i] = r.Slots[i].Miner
	}
	return miners
}

// SlotOf returns the slot index of miner, or -1.
func (r *Round) SlotOf(miner thor.Address) int {
	for i := range r.Slots {
		if r.Slots[i].Miner == miner {
			return i
		}
	}
	return -1
}

// Produced counts revealed slots.
func (r *Round) Produced() int {
	n := 0
	for i := range r.Slots {
		if r.Slots[i].Produced() {
			n++
		}
	}
	return n
}

// SigningHash is the hash of the round's canonical byte form: the schedule
// without any commit-reveal progress.
func (r *Round) SigningHash() (hash thor.Bytes32) {
	times := make([]uint64, len(r.Slots))
	for i := range r.Slots {
		times[i] = r.Slots[i].ExpectedTime
	}
	data, err := rlp.EncodeToBytes([]any{
		r.Number,
		r.Term,
		r.Start,
		r.Seed,
		r.Miners(),
		times,
	})
	if err != nil {
		// only fails on unsupported types
		panic(err)
	}
	return thor.Blake2b(data)
}

// Copy returns a deep copy so cached rounds cannot be modified by callers.
func (r *Round) Copy() *Round {
	cpy := *r
	cpy.Slots = make([]MinerSlot, len(r.Slots))
	for i, s := range r.Slots {
		if s.Signature != nil {
			s.Signature = append([]byte(nil), s.Signature...)
		}
		cpy.Slots[i] = s
	}
	return &cpy
}

type Term struct {
	Number     uint64         `json:"number"`
	Miners     []thor.Address `json:"miners"` // ranking order
	FirstRound uint64         `json:"firstRound"`
	LastRound  uint64         `json:"lastRound"` // zero while the term is open
	Start      uint64         `json:"start"`
	Status     RecordStatus   `json:"status"`
}

func (t *Term) Sealed() bool {
	return t.Status == StatusSealed
}

func (t *Term) HasMiner(addr thor.Address) bool {
	for _, m := range t.Miners {
		if m == addr {
			return true
		}
	}
	return false
}
