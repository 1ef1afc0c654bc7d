package settlement

// ErrSettlementFailed indicates the adapter confirmed the transfer failed.
// Safe to surface to the caller as a retryable failure; no funds moved.
type ErrSettlementFailed struct {
	IdempotencyKey string
	Reason         string
}

func (e ErrSettlementFailed) Error() string {
	msg := "settlement failed"
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Is implements the errors.Is interface for ErrSettlementFailed
func (e ErrSettlementFailed) Is(target error) bool {
	t, ok := target.(ErrSettlementFailed)
	if !ok {
		return false
	}
	if t.IdempotencyKey == "" {
		return true
	}
	return e.IdempotencyKey == t.IdempotencyKey
}

// ErrSettlementUnknown indicates the adapter could not determine the
// transfer outcome. The transfer may have happened; callers must reconcile
// via QueryStatus before any retry, and must never report this to a user as
// a plain failure.
type ErrSettlementUnknown struct {
	IdempotencyKey string
}

func (e ErrSettlementUnknown) Error() string {
	return "settlement outcome unknown, reconciliation required: " + e.IdempotencyKey
}

// Is implements the errors.Is interface for ErrSettlementUnknown
func (e ErrSettlementUnknown) Is(target error) bool {
	t, ok := target.(ErrSettlementUnknown)
	if !ok {
		return false
	}
	if t.IdempotencyKey == "" {
		return true
	}
	return e.IdempotencyKey == t.IdempotencyKey
}

// ErrLogWrite indicates the transaction log append failed after a confirmed
// settlement. The operation is in-doubt: money moved but history did not
// record it, so the project is frozen for reconciliation.
type ErrLogWrite struct {
	IdempotencyKey string
}

func (e ErrLogWrite) Error() string {
	return "transaction log write failed, operation in doubt: " + e.IdempotencyKey
}

// Is implements the errors.Is interface for ErrLogWrite
func (e ErrLogWrite) Is(target error) bool {
	t, ok := target.(ErrLogWrite)
	if !ok {
		return false
	}
	if t.IdempotencyKey == "" {
		return true
	}
	return e.IdempotencyKey == t.IdempotencyKey
}
