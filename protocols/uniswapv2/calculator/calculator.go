package calculator

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
)

var (
	// basisPointDivisor is a constant representing 100% in basis points (10000).
	basisPointDivisor = big.NewInt(10000)

	// ErrInvalidAmount is returned when an input/output amount is negative.
	ErrInvalidAmount = errors.New("amount must be non-negative")
	// ErrNilAmount is returned when a nil pointer is passed for an amount.
	ErrNilAmount = errors.New("nil pointer passed as amount")
	// ErrInvalidState is returned for internal calculation errors, like division by zero.
	ErrInvalidState = errors.New("invalid internal state")
	// ErrInsufficientLiquidity is returned when a reserve is empty or a requested output exceeds it.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity for swap")
)

// Calculator holds reusable big.Int objects to avoid memory allocations during calculations.
// Instances are not safe for concurrent use and are handed out by calculatorPool.
type Calculator struct {
	feeMultiplier   *big.Int
	amountInWithFee *big.Int
	numerator       *big.Int
	denominator     *big.Int
}

var calculatorPool = sync.Pool{
	New: func() any {
		return &Calculator{
			feeMultiplier:   new(big.Int),
			amountInWithFee: new(big.Int),
			numerator:       new(big.Int),
			denominator:     new(big.Int),
		}
	},
}

// GetAmountOut returns the output of swapping amountIn against the given reserves:
//
//	amountOut = reserveOut * amountIn * (10000 - fee) / (reserveIn * 10000 + amountIn * (10000 - fee))
func GetAmountOut(amountIn, reserveIn, reserveOut *big.Int, feeBps uint16) (*big.Int, error) {
	calc := calculatorPool.Get().(*Calculator)
	defer calculatorPool.Put(calc)
	return calc.getAmountOut(amountIn, reserveIn, reserveOut, feeBps)
}

// GetAmountIn returns the input required to receive exactly amountOut.
func GetAmountIn(amountOut, reserveIn, reserveOut *big.Int, feeBps uint16) (*big.Int, error) {
	calc := calculatorPool.Get().(*Calculator)
	defer calculatorPool.Put(calc)
	return calc.getAmountIn(amountOut, reserveIn, reserveOut, feeBps)
}

func (c *Calculator) getAmountOut(amountIn, reserveIn, reserveOut *big.Int, feeBps uint16) (*big.Int, error) {
	if amountIn == nil || reserveIn == nil || reserveOut == nil {
		return nil, ErrNilAmount
	}
	if amountIn.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return nil, fmt.Errorf("%w: empty reserves", ErrInsufficientLiquidity)
	}

	c.feeMultiplier.SetUint64(uint64(feeBps))
	c.feeMultiplier.Sub(basisPointDivisor, c.feeMultiplier)
	c.amountInWithFee.Mul(amountIn, c.feeMultiplier)
	c.numerator.Mul(reserveOut, c.amountInWithFee)
	c.denominator.Mul(reserveIn, basisPointDivisor)
	c.denominator.Add(c.denominator, c.amountInWithFee)

	if c.denominator.Sign() == 0 {
		return nil, fmt.Errorf("%w: pool denominator is zero", ErrInvalidState)
	}
	return new(big.Int).Div(c.numerator, c.denominator), nil
}

func (c *Calculator) getAmountIn(amountOut, reserveIn, reserveOut *big.Int, feeBps uint16) (*big.Int, error) {
	if amountOut == nil || reserveIn == nil || reserveOut == nil {
		return nil, ErrNilAmount
	}
	if amountOut.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 || amountOut.Cmp(reserveOut) >= 0 {
		return nil, fmt.Errorf("%w: requested amountOut (%s) is >= reserveOut (%s)", ErrInsufficientLiquidity, amountOut, reserveOut)
	}

	// amountIn = reserveIn * amountOut * 10000 / ((reserveOut - amountOut) * (10000 - fee)) + 1
	c.numerator.Mul(reserveIn, amountOut)
	c.numerator.Mul(c.numerator, basisPointDivisor)
	c.feeMultiplier.SetUint64(uint64(feeBps))
	c.feeMultiplier.Sub(basisPointDivisor, c.feeMultiplier)
	c.denominator.Sub(reserveOut, amountOut)
	c.denominator.Mul(c.denominator, c.feeMultiplier)

	if c.denominator.Sign() == 0 {
		return nil, fmt.Errorf("%w: pool denominator is zero", ErrInvalidState)
	}
	amountIn := new(big.Int).Div(c.numerator, c.denominator)
	return amountIn.Add(amountIn, big.NewInt(1)), nil
}
