package errors

import (
	"errors"
)

// Sentinel errors for the pipeline error taxonomy. Validation-class errors are
// terminal and never retried; upstream errors propagate to the caller after the
// run log records them.
var (
	// ErrInvalidInput - malformed caller input (bad event payload, bad flag value)
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidStatus - recommendation status outside {new, acknowledged, done, dismissed}
	ErrInvalidStatus = errors.New("invalid status")

	// ErrCorruptedState - persisted signal state failed structural validation
	ErrCorruptedState = errors.New("corrupted state")

	// ErrMalformedWindow - similarity window outside {7, 14, 30}
	ErrMalformedWindow = errors.New("malformed window")

	// ErrNotFound - resource not found
	ErrNotFound = errors.New("not found")

	// ErrUpstream - upstream I/O failure (store, draft provider); retry cadence owned by the scheduler
	ErrUpstream = errors.New("upstream failure")

	// ErrDraftBudget - per-run draft call budget exhausted
	ErrDraftBudget = errors.New("draft budget exhausted")

	// ErrInternal - internal error
	ErrInternal = errors.New("internal error")
)
