package scheduler

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/vechain/thor/v2/thor"

	"github.com/vechain/dposcore/config"
	"github.com/vechain/dposcore/types"
)

// InitialOrder orders miners by identity bytes. Used for the first round of a
// term, when no in values exist for the new miner set.
func InitialOrder(miners []thor.Address) []thor.Address {
	ordered := append([]thor.Address(nil), miners...)
	sort.Slice(ordered, func(i, j int) bool {
		return bytes.Compare(ordered[i].Bytes(), ordered[j].Bytes()) < 0
	})
	return ordered
}

// ShuffleMiners orders miners by Blake2b(seed, round number, miner), the same
// way thor shuffles proposers per block.
func ShuffleMiners(miners []thor.Address, seed thor.Bytes32, roundNumber uint64) []thor.Address {
	var num [8]byte
	binary.BigEndian.PutUint64(num[:], roundNumber)

	list := make([]struct {
		addr thor.Address
		hash thor.Bytes32
	}, 0, len(miners))

	for _, m := range miners {
		list = append(list, struct {
			addr thor.Address
			hash thor.Bytes32
		}{
			m,
			thor.Blake2b(seed.Bytes(), num[:], m.Bytes()),
		})
	}

	sort.Slice(list, func(i, j int) bool {
		return bytes.Compare(list[i].hash.Bytes(), list[j].hash.Bytes()) < 0
	})

	shuffled := make([]thor.Address, 0, len(list))
	for _, item := range list {
		shuffled = append(shuffled, item.addr)
	}
	return shuffled
}

// Substitute returns the in value used for a slot that did not reveal.
func Substitute(policy config.MissingReveal, roundSeed thor.Bytes32, miner thor.Address) thor.Bytes32 {
	if policy == config.MissingRevealDerived {
		return thor.Blake2b(roundSeed.Bytes(), miner.Bytes())
	}
	return thor.Bytes32{}
}

// AggregateSeed hashes the in values of a sealed round in miner identity
// order. Slots that did not reveal contribute their substitute, so no miner
// can stall the schedule by withholding.
func AggregateSeed(r *types.Round, policy config.MissingReveal) thor.Bytes32 {
	slots := append([]types.MinerSlot(nil), r.Slots...)
	sort.Slice(slots, func(i, j int) bool {
		return bytes.Compare(slots[i].Miner.Bytes(), slots[j].Miner.Bytes()) < 0
	})

	values := make([][]byte, 0, len(slots))
	for _, s := range slots {
		in := s.InValue
		if !s.Produced() {
			in = Substitute(policy, r.Seed, s.Miner)
		}
		values = append(values, in.Bytes())
	}
	return thor.Blake2b(values...)
}

// NewRound lays out an open round whose slot i expects production at
// start + i*interval.
func NewRound(number, term, start uint64, seed thor.Bytes32, order []thor.Address, interval uint64) *types.Round {
	r := &types.Round{
		Number: number,
		Term:   term,
		Start:  start,
		Seed:   seed,
		Slots:  make([]types.MinerSlot, len(order)),
		Status: types.StatusOpen,
	}
	for i, m := range order {
		r.Slots[i] = types.MinerSlot{
			Miner:        m,
			Order:        uint64(i),
			ExpectedTime: config.AddSeconds(start, uint64(i)*interval),
			State:        types.SlotPending,
		}
	}
	return r
}
