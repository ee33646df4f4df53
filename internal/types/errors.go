package types

import "fmt"

// ValidationError marks malformed or missing caller input. Never
// retried; maps to HTTP 400.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed on %q: %s", e.Field, e.Reason)
}

// NotFoundError marks an absent referenced entity (zero rows
// affected). Maps to HTTP 404.
type NotFoundError struct {
	Entity string
	ID     any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.Entity, e.ID)
}

// ReconciliationError marks a ledger invariant violation, e.g. closing
// a trade that is not in the open set. It usually indicates a lost
// update between concurrent close attempts and is surfaced for
// operator attention rather than swallowed.
type ReconciliationError struct {
	TradeID int64
	Reason  string
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("ledger reconciliation failed for trade %d: %s", e.TradeID, e.Reason)
}

// InvalidStateError marks a lifecycle operation attempted from the
// wrong backtest state.
type InvalidStateError struct {
	Op    string
	State string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s not allowed while backtest is %s", e.Op, e.State)
}

// StorageError wraps a backing-store failure. Internal detail stays in
// Err; external callers only see a generic message. The core never
// retries storage failures itself.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
