package exchange

import "errors"

var (
	// ErrResolutionConflict is an integration bug: an exchange was resolved or
	// applied a second time.
	ErrResolutionConflict = errors.New("exchange: resolution conflict")
	// ErrStaleExchangeWrite means the owning connection closed before the
	// result could be applied. Nothing was written; the exchange is discarded.
	ErrStaleExchangeWrite = errors.New("exchange: stale exchange write")
	ErrNotResolved        = errors.New("exchange: not resolved")
	ErrInvalidKey         = errors.New("exchange: invalid key")
	ErrNoRoute            = errors.New("exchange: no route for result")
	ErrClosed             = errors.New("exchange: coordinator closed")
)
