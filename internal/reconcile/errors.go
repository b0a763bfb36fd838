package reconcile

import "errors"

var (
	// ErrEventAlreadyProcessed signals an idempotent replay. Callers resolve
	// it as success; it must never surface as a failure.
	ErrEventAlreadyProcessed = errors.New("event_already_processed")

	// ErrBusy means another worker holds the per-customer reconcile lock.
	// The delivery can be retried.
	ErrBusy = errors.New("customer_reconcile_in_progress")

	ErrUnknownEvent = errors.New("event_not_in_ledger")
)
