package reservation

import "time"

// DefaultReservedBy identifies the terminal when the caller does not.
const DefaultReservedBy = "pos-terminal"

// ConflictType tags why a reserve did not produce a lease.
type ConflictType string

const (
	ConflictNone              ConflictType = ""
	ConflictAlreadySold       ConflictType = "already_sold"
	ConflictReservedElsewhere ConflictType = "reserved_elsewhere"
	ConflictAPIError          ConflictType = "api_error"
)

// Result is the outcome of Reserve. Exactly one of the success fields or the
// failure fields is meaningful, selected by Success.
type Result struct {
	Success       bool
	ReservationID string
	ExpiresAt     time.Time
	RemainingTime time.Duration

	ErrorMessage string
	Conflict     ConflictType
}

// Status is a point-in-time view of an item's lock in the store.
type Status struct {
	IsReserved    bool
	ReservedBy    string
	ExpiresAt     time.Time // zero when unknown
	RemainingTime time.Duration
}

// RetryOptions bounds ReserveWithRetry. Only api_error outcomes are retried.
type RetryOptions struct {
	MaxRetries int           // 0 => default 3
	MinRetry   time.Duration // default 50ms
	MaxRetry   time.Duration // default 1s
	JitterFrac float64       // default 0.2; negative disables jitter
}
