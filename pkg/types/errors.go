package types

import "errors"

// Sentinel errors shared across packages. Callers match with errors.Is.
var (
	// ErrMarketNotFound indicates discovery could not locate a market
	// for the requested slug or asset.
	ErrMarketNotFound = errors.New("market not found")

	// ErrNoBookData indicates the feed has not yet produced a valid
	// order book for a token.
	ErrNoBookData = errors.New("no order book data")

	// ErrStorageUnavailable indicates the write guard is open and the
	// store is not accepting writes.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidTickSize indicates a tick size ≤ 0 reached price math.
	ErrInvalidTickSize = errors.New("invalid tick size")

	// ErrInvalidPrice indicates a decimal price string could not be
	// converted to integer points.
	ErrInvalidPrice = errors.New("invalid price")
)
