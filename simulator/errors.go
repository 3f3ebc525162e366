package simulator

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrRevert matches any SimError of KindRevert.
	ErrRevert = errors.New("execution reverted")
	// ErrInsufficientLiquidity matches any SimError of KindInsufficientLiquidity.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	// ErrTimeout matches any SimError of KindTimeout.
	ErrTimeout = errors.New("simulation timed out")
)

// Kind classifies a failed simulation.
type Kind uint8

const (
	KindRevert Kind = iota + 1
	KindInsufficientLiquidity
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindRevert:
		return "revert"
	case KindInsufficientLiquidity:
		return "insufficient_liquidity"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindRevert:
		return ErrRevert
	case KindInsufficientLiquidity:
		return ErrInsufficientLiquidity
	case KindTimeout:
		return ErrTimeout
	default:
		return nil
	}
}

// SimError is the failure of one hop of a path.
type SimError struct {
	Kind   Kind
	Hop    int
	Pool   common.Address
	Reason string
	Err    error
}

func (e *SimError) Error() string {
	msg := fmt.Sprintf("hop %d (%s): %s", e.Hop, e.Pool.Hex(), e.Kind)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the underlying cause to errors.Is.
func (e *SimError) Unwrap() []error {
	out := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		out = append(out, s)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// KindOf returns the kind of err, or 0 when err is not a simulation failure.
func KindOf(err error) Kind {
	var se *SimError
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}
