package market

import "errors"

var (
	// ErrDuplicatePool is returned when registering a pool whose address is already known.
	ErrDuplicatePool = errors.New("duplicate pool")
	// ErrUnknownToken is returned when a pool references a token that was never registered.
	ErrUnknownToken = errors.New("unknown token")
	// ErrUnknownPool is returned when looking up or removing an unregistered pool.
	ErrUnknownPool = errors.New("unknown pool")
	// ErrTokenConflict is returned when a token address is re-registered with different metadata.
	ErrTokenConflict = errors.New("token already registered with different metadata")
	// ErrTokenMismatch is returned by quoting when a token is not part of the pool.
	ErrTokenMismatch = errors.New("token mismatch")
	// ErrInvalidAmount is returned by quoting when the input amount is nil or not positive.
	ErrInvalidAmount = errors.New("amount must be non-nil and positive")
	// ErrInsufficientLiquidity is returned by quoting when the pool cannot fill the input.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
)
