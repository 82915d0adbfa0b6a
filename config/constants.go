package config

import (
	"time"

	"github.com/vechain/thor/v2/thor"
)

// Protocol constants
const (
	// Miner set
	DefaultMaxMiners     = 17
	DefaultRoundsPerTerm = 1000

	// Upper bounds that keep timestamp arithmetic far from overflow
	MaxSlotInterval     = SecondsPerDay
	MaxRoundDurationCap = 30 * SecondsPerDay
	MaxLockDaysCap      = 100 * 365
	MaxTimestamp        = 1 << 62

	// Tickets
	SecondsPerDay        = 86400
	DefaultMinLockDays   = 1
	DefaultMaxLockDays   = 1080
	DefaultWeightDivisor = 365

	// Dividends accrued to the current term's pool for each revealed slot
	DefaultBlockReward = 0

	// Round/term store
	DefaultRoundCacheSize = 256

	// Audit
	DefaultAuditWorkers = 8
)

// BlockIntervalSeconds is the thor block interval, used as the slot interval
// when a genesis does not configure one.
var BlockIntervalSeconds = thor.BlockInterval()

// Binary defaults
const (
	DefaultDataDir      = "./data"
	DefaultInfluxDB     = "http://localhost:8086"
	DefaultInfluxToken  = "admin-token"
	DefaultInfluxOrg    = "vechain"
	DefaultInfluxBucket = "dpos"

	DefaultTimeout    = 10 * time.Second
	DefaultRetryDelay = 500 * time.Millisecond

	// Concurrency constants
	DefaultWorkerPoolSize = 4
	DefaultTaskQueueSize  = 100
)

// Error messages
const (
	ErrGenesisRequired     = "--genesis or GENESIS is required"
	ErrFailedToOpenStore   = "failed to open store: %w"
	ErrFailedToEncode      = "failed to encode %s: %w"
	ErrFailedToDecode      = "failed to decode %s: %w"
	ErrFailedToReadRecord  = "failed to read %s: %w"
	ErrFailedToWriteRecord = "failed to write %s: %w"
	ErrFailedToCreateCache = "failed to create LRU cache: %w"

	// Worker pool error messages
	ErrWorkerPoolShutdown = "worker pool is shutdown"
)

// Measurement names for InfluxDB
const (
	RoundStatsMeasurement  = "round_stats"
	MinerSlotsMeasurement  = "miner_slots"
	TermChangeMeasurement  = "term_changes"
	DividendsMeasurement   = "dividends"
	SafetyEventMeasurement = "safety_violations"
)

// Field names for InfluxDB
const (
	RoundNumberField = "round_number"
	TermNumberField  = "term_number"
	ProducedField    = "produced"
	MissedField      = "missed"
)
