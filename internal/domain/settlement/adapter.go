// Package settlement defines the boundary contract to the external value
// transfer layer. The escrow engine never assumes a specific ledger
// technology; any implementation of Adapter (a distributed ledger client, a
// bank transfer API, a test double) is acceptable.
package settlement

import (
	"context"
	"time"
)

// Status reports the outcome of a transfer as known to the adapter.
// StatusUnknown means the outcome could not be determined (e.g. a timeout
// after submission); it is not a failure and must be resolved through
// QueryStatus before the operation is retried.
type Status string

const (
	StatusConfirmed Status = "CONFIRMED"
	StatusFailed    Status = "FAILED"
	StatusUnknown   Status = "UNKNOWN"
)

// TransferRequest describes one atomic value transfer between accounts.
// The idempotency key makes retries after an unknown outcome safe: the
// adapter must not execute the same key twice.
type TransferRequest struct {
	From           string
	To             string
	Amount         int64 // In minor units (tinybars)
	IdempotencyKey string
}

// Settlement is the adapter's confirmation of a finalized transfer
type Settlement struct {
	SettlementRef string // External ledger transaction id
	Status        Status
	SettledAt     time.Time
}

// Adapter executes transfers on the external ledger. Transfer is the only
// operation in the system expected to suspend for meaningful latency;
// callers issue it with a bounded timeout.
type Adapter interface {
	Transfer(ctx context.Context, req TransferRequest) (*Settlement, error)
	QueryStatus(ctx context.Context, idempotencyKey string) (Status, error)
}
