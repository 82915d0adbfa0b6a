package types

import "github.com/vechain/thor/v2/thor"

type EventKind uint8

const (
	EventRoundSealed EventKind = iota + 1
	EventTermStarted
	EventDividendsDistributed
	EventSafetyViolation
)

func (k EventKind) String() string {
	switch k {
	case EventRoundSealed:
		return "round_sealed"
	case EventTermStarted:
		return "term_started"
	case EventDividendsDistributed:
		return "dividends_distributed"
	case EventSafetyViolation:
		return "safety_violation"
	default:
		return "unknown"
	}
}

// Event is emitted after an operation was committed, or, for safety
// violations, after the offending mutation was discarded.
type Event struct {
	Kind      EventKind
	Height    uint64
	Timestamp uint64
	Caller    thor.Address
	Round     *Round        // EventRoundSealed
	Term      *Term         // EventTermStarted
	Pool      *DividendPool // EventDividendsDistributed
	Err       error         // EventSafetyViolation
}
