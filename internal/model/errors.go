package model

import "errors"

// Error taxonomy surfaced at the engine boundary. Callers distinguish kinds
// with errors.Is; the API layer maps each kind to exactly one HTTP status and
// human-readable message.
var (
	// ErrInvalidOrder covers malformed input: price outside (0,1), quantity
	// <= 0, or an unknown side/outcome.
	ErrInvalidOrder = errors.New("invalid order")

	// ErrMarketClosed is returned when submitting to a closed or resolved
	// market.
	ErrMarketClosed = errors.New("market closed")

	// ErrMarketFrozen is returned when submitting to an admin-frozen market.
	ErrMarketFrozen = errors.New("market frozen")

	// ErrInsufficientLiquidity is returned when an AMM trade would drive a
	// reserve negative.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")

	// ErrMarketNotFound is returned for an unknown market identifier.
	ErrMarketNotFound = errors.New("market not found")

	// ErrOrderNotFound is returned for an unknown order identifier.
	ErrOrderNotFound = errors.New("order not found")

	// ErrForbidden is returned when a user acts on an order they do not own.
	ErrForbidden = errors.New("forbidden")

	// ErrAlreadyTerminal is returned when cancelling an order that is already
	// filled or cancelled, or resolving an already-resolved market.
	ErrAlreadyTerminal = errors.New("already terminal")

	// ErrInvalidTransition is returned for an illegal market lifecycle edge.
	ErrInvalidTransition = errors.New("invalid market transition")
)
