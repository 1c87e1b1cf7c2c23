package types

import "errors"

// Domain error taxonomy. Services wrap these with context via fmt.Errorf and
// %w; pkg/response maps them to HTTP status codes with errors.Is.
var (
	// ErrValidation covers bad input: non-positive quantity, negative price
	// or fee, unknown side, unknown matching strategy. Never persisted.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientLots is returned when a sell exceeds the total open
	// quantity for the account and instrument. The whole operation aborts;
	// no partial closure is committed.
	ErrInsufficientLots = errors.New("insufficient open lots")

	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden indicates the caller does not own the account.
	ErrForbidden = errors.New("account access denied")

	// ErrAccountInactive indicates a mutation against a deactivated account.
	ErrAccountInactive = errors.New("account is deactivated")

	// ErrNoPrice indicates no price exists at or before the valuation date,
	// so valuation cannot proceed even in degraded (stale) mode.
	ErrNoPrice = errors.New("no price available")
)
