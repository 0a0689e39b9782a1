package exception

import "errors"

// Portfolio state and persistence errors.
var (
	// ErrNotFound is returned when no stored portfolio exists for an id.
	// Expected at first start; the caller creates an empty portfolio.
	ErrNotFound = errors.New("portfolio not found")

	// ErrInconsistentFill is returned when a fill references a
	// trade/venue/instrument combination with no matching open order.
	// Recoverable; escalated to reconciliation.
	ErrInconsistentFill = errors.New("fill does not match any open order")

	// ErrWriteConflict is returned when a save did not replace exactly
	// one record. Retryable.
	ErrWriteConflict = errors.New("portfolio write conflict")

	// ErrVenueUnavailable is returned when a venue query times out or
	// fails during reconciliation.
	ErrVenueUnavailable = errors.New("venue unavailable")
)

// General errors
var (
	ErrNilInstance      = errors.New("nil instance")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrEventQueueFull   = errors.New("event queue full")
	ErrEventQueueClosed = errors.New("event queue closed")
)
