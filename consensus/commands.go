package consensus

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/vechain/thor/v2/thor"

	"github.com/vechain/dposcore/errs"
)

// Command is one of the operations of the consensus surface. The set is
// closed; Engine dispatches it with a single type switch.
type Command interface {
	Name() string
	isCommand()
}

// Allocation credits a genesis balance.
type Allocation struct {
	Address thor.Address `json:"address"`
	Amount  uint64       `json:"amount"`
}

type InitialTerm struct {
	Miners      []thor.Address `json:"miners"`
	Term        uint64         `json:"term"`
	Allocations []Allocation   `json:"allocations"`
}

type NextTerm struct {
	Miners []thor.Address `json:"miners"`
}

type PackageOutValue struct {
	Round     uint64        `json:"round"`
	Slot      uint64        `json:"slot"`
	OutValue  thor.Bytes32  `json:"outValue"`
	Signature hexutil.Bytes `json:"signature"`
}

type BroadcastInValue struct {
	Round   uint64       `json:"round"`
	Slot    uint64       `json:"slot"`
	InValue thor.Bytes32 `json:"inValue"`
}

type AnnounceElection struct{}

type QuitElection struct{}

type Vote struct {
	Candidate thor.Address `json:"candidate"`
	Amount    uint64       `json:"amount"`
	LockDays  uint64       `json:"lockDays"`
}

type WithdrawVote struct {
	TicketID string `json:"ticketId"`
}

type DistributeDividends struct {
	Term uint64 `json:"term"`
}

type ClaimDividends struct{}

func (*InitialTerm) Name() string         { return "InitialTerm" }
func (*NextTerm) Name() string            { return "NextTerm" }
func (*PackageOutValue) Name() string     { return "PackageOutValue" }
func (*BroadcastInValue) Name() string    { return "BroadcastInValue" }
func (*AnnounceElection) Name() string    { return "AnnounceElection" }
func (*QuitElection) Name() string        { return "QuitElection" }
func (*Vote) Name() string                { return "Vote" }
func (*WithdrawVote) Name() string        { return "WithdrawVote" }
func (*DistributeDividends) Name() string { return "DistributeDividends" }
func (*ClaimDividends) Name() string      { return "ClaimDividends" }

func (*InitialTerm) isCommand()         {}
func (*NextTerm) isCommand()            {}
func (*PackageOutValue) isCommand()     {}
func (*BroadcastInValue) isCommand()    {}
func (*AnnounceElection) isCommand()    {}
func (*QuitElection) isCommand()        {}
func (*Vote) isCommand()                {}
func (*WithdrawVote) isCommand()        {}
func (*DistributeDividends) isCommand() {}
func (*ClaimDividends) isCommand()      {}

// NewCommand returns an empty command for an operation name.
func NewCommand(name string) (Command, error) {
	switch name {
	case "InitialTerm":
		return &InitialTerm{}, nil
	case "NextTerm":
		return &NextTerm{}, nil
	case "PackageOutValue":
		return &PackageOutValue{}, nil
	case "BroadcastInValue":
		return &BroadcastInValue{}, nil
	case "AnnounceElection":
		return &AnnounceElection{}, nil
	case "QuitElection":
		return &QuitElection{}, nil
	case "Vote":
		return &Vote{}, nil
	case "WithdrawVote":
		return &WithdrawVote{}, nil
	case "DistributeDividends":
		return &DistributeDividends{}, nil
	case "ClaimDividends":
		return &ClaimDividends{}, nil
	}
	return nil, errors.Wrapf(errs.ErrUnknownCommand, "%q", name)
}

// DecodeCommand builds the command name from its JSON parameters.
func DecodeCommand(name string, params json.RawMessage) (Command, error) {
	cmd, err := NewCommand(name)
	if err != nil {
		return nil, err
	}
	if len(params) == 0 || string(params) == "null" {
		return cmd, nil
	}
	if err := json.Unmarshal(params, cmd); err != nil {
		return nil, errors.Wrapf(errs.ErrUnknownCommand, "%s params: %v", name, err)
	}
	return cmd, nil
}
