// Package errs defines the typed failures reported by the consensus core.
//
// Every failure belongs to one Kind. Callers attach context with
// github.com/pkg/errors and match codes with errors.Is, which sees through
// the wrapping.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for the substrate's typed-failure channel.
type Kind uint8

const (
	// Internal covers storage and encoding failures; they are not protocol outcomes.
	Internal Kind = iota
	// Validation is a malformed parameter, rejected before any state is read.
	Validation
	// Precondition is a state-dependent rule violation.
	Precondition
	// Safety is a consensus-safety violation. The offending mutation is discarded and the
	// chain keeps going.
	Safety
	// Configuration is an invalid genesis or parameter set.
	Configuration
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "ValidationError"
	case Precondition:
		return "PreconditionError"
	case Safety:
		return "SafetyViolation"
	case Configuration:
		return "ConfigurationError"
	default:
		return "InternalError"
	}
}

// Error is a coded failure.
type Error struct {
	Kind Kind
	Code string
	msg  string
}

func New(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, msg: msg}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.msg)
}

// Is matches on code so that errors rebuilt from the wire compare equal.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// KindOf returns the kind of the first coded error in err's chain, Internal otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// CodeOf returns the code of the first coded error in err's chain.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsSafety reports whether err is a consensus-safety violation.
func IsSafety(err error) bool {
	return err != nil && KindOf(err) == Safety
}

// Validation errors
var (
	ErrInvalidAmount     = New(Validation, "InvalidAmount", "amount must be positive")
	ErrInvalidLockPeriod = New(Validation, "InvalidLockPeriod", "lock days outside configured bounds")
	ErrInvalidMinerSet   = New(Validation, "InvalidMinerSet", "miner set is empty, too large or has duplicates")
	ErrBadSignature      = New(Validation, "BadSignature", "signature does not recover to the caller")
	ErrVictorMismatch    = New(Validation, "VictorMismatch", "miner set differs from the computed victors")
	ErrUnknownCommand    = New(Validation, "UnknownCommand", "unknown command")
	ErrZeroIdentity      = New(Validation, "ZeroIdentity", "identity must not be zero")
	ErrInvalidTimestamp  = New(Validation, "InvalidTimestamp", "timestamp is beyond the supported range")
)

// Precondition errors
var (
	ErrAlreadyCandidate      = New(Precondition, "AlreadyCandidate", "identity is already a candidate")
	ErrNotCandidate          = New(Precondition, "NotCandidate", "identity is not a candidate")
	ErrCannotQuitActiveMiner = New(Precondition, "CannotQuitActiveMiner", "active miners can only quit after the term boundary")
	ErrUnknownCandidate      = New(Precondition, "UnknownCandidate", "candidate does not exist or has quit")
	ErrInsufficientBalance   = New(Precondition, "InsufficientBalance", "balance is lower than the amount")
	ErrUnknownTicket         = New(Precondition, "UnknownTicket", "ticket does not exist")
	ErrNotTicketOwner        = New(Precondition, "NotTicketOwner", "ticket belongs to another voter")
	ErrAlreadyWithdrawn      = New(Precondition, "AlreadyWithdrawn", "ticket was already withdrawn")
	ErrNotMatured            = New(Precondition, "NotMatured", "ticket lock period has not elapsed")
	ErrNoDividends           = New(Precondition, "NoDividends", "no dividends to claim")
	ErrTermNotEnded          = New(Precondition, "TermNotEnded", "term has not ended yet")
	ErrDividendsFinalized    = New(Precondition, "DividendsFinalized", "dividend pool already distributed")
	ErrNotYourSlot           = New(Precondition, "NotYourSlot", "slot is scheduled for another miner")
	ErrWindowExpired         = New(Precondition, "WindowExpired", "production window has expired")
	ErrWindowNotOpen         = New(Precondition, "WindowNotOpen", "production window has not opened")
	ErrDuplicateCommit       = New(Precondition, "DuplicateCommit", "slot already has an out value")
	ErrNotCommitted          = New(Precondition, "NotCommitted", "slot has no out value to reveal")
	ErrAlreadyRevealed       = New(Precondition, "AlreadyRevealed", "slot already has an in value")
	ErrRoundSealed           = New(Precondition, "RoundSealed", "round is sealed")
	ErrUnknownRound          = New(Precondition, "UnknownRound", "round does not exist")
	ErrUnknownTerm           = New(Precondition, "UnknownTerm", "term does not exist")
	ErrNotMiner              = New(Precondition, "NotMiner", "caller is not in the current miner set")
	ErrAlreadyInitialized    = New(Precondition, "AlreadyInitialized", "consensus is already initialized")
	ErrNotInitialized        = New(Precondition, "NotInitialized", "consensus is not initialized")
	ErrNonMonotonicRecord    = New(Precondition, "NonMonotonicRecord", "record number must follow the latest one")
)

// Safety violations
var (
	ErrCommitRevealMismatch     = New(Safety, "CommitRevealMismatch", "hash of in value does not match out value")
	ErrImmutableRecordViolation = New(Safety, "ImmutableRecordViolation", "sealed record cannot be rewritten")
)

// Configuration errors
var (
	ErrInvalidParams  = New(Configuration, "InvalidParams", "invalid consensus parameters")
	ErrInvalidGenesis = New(Configuration, "InvalidGenesis", "invalid genesis miner set")
)
