// Package genesis describes how a chain starts: its parameters, the first
// term's miners and the initial balances.
package genesis

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/vechain/thor/v2/thor"

	"github.com/vechain/dposcore/config"
	"github.com/vechain/dposcore/consensus"
	"github.com/vechain/dposcore/errs"
	"github.com/vechain/dposcore/scheduler"
)

type Genesis struct {
	Params      config.Params          `json:"params"`
	Term        uint64                 `json:"term"`
	Timestamp   uint64                 `json:"timestamp"`
	Miners      []thor.Address         `json:"miners"`
	Allocations []consensus.Allocation `json:"allocations"`
}

// New returns a genesis with default params and term 1.
func New() *Genesis {
	return &Genesis{Params: config.DefaultParams(), Term: 1}
}

// LoadJSON reads a genesis file. Params missing from the file keep their
// defaults.
func LoadJSON(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf(config.ErrFailedToReadRecord, "genesis", err)
	}
	g := New()
	if err := json.Unmarshal(data, g); err != nil {
		return nil, fmt.Errorf(config.ErrFailedToDecode, "genesis", err)
	}
	return g, nil
}

func (g *Genesis) Validate() error {
	if err := g.Params.Validate(); err != nil {
		return err
	}
	if err := scheduler.ValidateMiners(g.Miners, g.Params.MaxMiners); err != nil {
		return errors.Wrap(errs.ErrInvalidGenesis, err.Error())
	}
	seen := make(map[thor.Address]bool, len(g.Allocations))
	for _, a := range g.Allocations {
		if a.Address.IsZero() || a.Amount == 0 {
			return errors.Wrapf(errs.ErrInvalidGenesis, "allocation %s of %d", a.Address, a.Amount)
		}
		if seen[a.Address] {
			return errors.Wrapf(errs.ErrInvalidGenesis, "duplicate allocation for %s", a.Address)
		}
		seen[a.Address] = true
	}
	return nil
}

// Command is the InitialTerm call that applies this genesis. It must be sent
// by one of the miners.
func (g *Genesis) Command() *consensus.InitialTerm {
	return &consensus.InitialTerm{
		Miners:      append([]thor.Address(nil), g.Miners...),
		Term:        g.Term,
		Allocations: append([]consensus.Allocation(nil), g.Allocations...),
	}
}
