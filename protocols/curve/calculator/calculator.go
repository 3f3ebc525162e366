// Package calculator implements the StableSwap invariant used by Curve pools.
// All balances passed in are already scaled to 18 decimals.
package calculator

import (
	"errors"
	"fmt"
	"math/big"
)

// FeeDenominator is the unit of Curve's fee parameter (1e10 = 100%).
var FeeDenominator = big.NewInt(10_000_000_000)

const maxIterations = 255

var (
	ErrInvalidIndex    = errors.New("invalid coin index")
	ErrNoConvergence   = errors.New("invariant did not converge")
	ErrInvalidAmount   = errors.New("amount must be positive")
	ErrEmptyPool       = errors.New("pool has no liquidity")
	ErrOutputExhausted = errors.New("output exceeds balance")
)

func absDiffLE1(a, b *big.Int) bool {
	d := new(big.Int).Sub(a, b)
	return d.CmpAbs(big.NewInt(1)) <= 0
}

// GetD solves the invariant for D given scaled balances xp and amplification
// amp. Every balance must be positive.
func GetD(xp []*big.Int, amp *big.Int) (*big.Int, error) {
	n := big.NewInt(int64(len(xp)))
	s := new(big.Int)
	for _, x := range xp {
		if x.Sign() <= 0 {
			return nil, ErrEmptyPool
		}
		s.Add(s, x)
	}

	ann := new(big.Int).Mul(amp, n)
	d := new(big.Int).Set(s)
	for it := 0; it < maxIterations; it++ {
		dp := new(big.Int).Set(d)
		for _, x := range xp {
			dp.Mul(dp, d)
			dp.Quo(dp, new(big.Int).Mul(x, n))
		}
		prev := d

		// D = (Ann*S + D_P*N) * D / ((Ann-1)*D + (N+1)*D_P)
		num := new(big.Int).Mul(ann, s)
		num.Add(num, new(big.Int).Mul(dp, n))
		num.Mul(num, prev)
		den := new(big.Int).Sub(ann, big.NewInt(1))
		den.Mul(den, prev)
		den.Add(den, new(big.Int).Mul(new(big.Int).Add(n, big.NewInt(1)), dp))
		if den.Sign() == 0 {
			return nil, fmt.Errorf("%w: D", ErrNoConvergence)
		}
		d = num.Quo(num, den)

		if absDiffLE1(d, prev) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: D", ErrNoConvergence)
}

// GetY returns the new balance of coin j when coin i's balance becomes x, keeping D fixed.
func GetY(i, j int, x *big.Int, xp []*big.Int, amp *big.Int) (*big.Int, error) {
	nCoins := len(xp)
	if i == j || i < 0 || j < 0 || i >= nCoins || j >= nCoins {
		return nil, ErrInvalidIndex
	}
	d, err := GetD(xp, amp)
	if err != nil {
		return nil, err
	}
	n := big.NewInt(int64(nCoins))
	ann := new(big.Int).Mul(amp, n)

	c := new(big.Int).Set(d)
	s := new(big.Int)
	for k := 0; k < nCoins; k++ {
		var xk *big.Int
		switch k {
		case i:
			xk = x
		case j:
			continue
		default:
			xk = xp[k]
		}
		if xk.Sign() <= 0 {
			return nil, ErrEmptyPool
		}
		s.Add(s, xk)
		c.Mul(c, d)
		c.Quo(c, new(big.Int).Mul(xk, n))
	}
	c.Mul(c, d)
	c.Quo(c, new(big.Int).Mul(ann, n))
	b := new(big.Int).Add(s, new(big.Int).Quo(d, ann))

	y := new(big.Int).Set(d)
	for it := 0; it < maxIterations; it++ {
		prev := y
		// y = (y*y + c) / (2*y + b - D)
		num := new(big.Int).Mul(prev, prev)
		num.Add(num, c)
		den := new(big.Int).Lsh(prev, 1)
		den.Add(den, b)
		den.Sub(den, d)
		if den.Sign() <= 0 {
			return nil, fmt.Errorf("%w: y", ErrNoConvergence)
		}
		y = num.Quo(num, den)
		if absDiffLE1(y, prev) {
			return y, nil
		}
	}
	return nil, fmt.Errorf("%w: y", ErrNoConvergence)
}

// GetDy returns the output of swapping dx of coin i for coin j, after the
// fee. Balances and dx are raw token amounts; precisions holds each coin's
// multiplier to 18 decimals.
func GetDy(i, j int, dx *big.Int, balances, precisions []*big.Int, amp, fee *big.Int) (*big.Int, error) {
	if dx == nil || dx.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if len(balances) != len(precisions) || i < 0 || j < 0 || i >= len(balances) || j >= len(balances) {
		return nil, ErrInvalidIndex
	}
	xp := make([]*big.Int, len(balances))
	for k := range balances {
		xp[k] = new(big.Int).Mul(balances[k], precisions[k])
	}

	x := new(big.Int).Mul(dx, precisions[i])
	x.Add(x, xp[i])
	y, err := GetY(i, j, x, xp, amp)
	if err != nil {
		return nil, err
	}

	dy := new(big.Int).Sub(xp[j], y)
	dy.Sub(dy, big.NewInt(1))
	if dy.Sign() <= 0 {
		return nil, ErrOutputExhausted
	}
	feeAmount := new(big.Int).Mul(dy, fee)
	feeAmount.Quo(feeAmount, FeeDenominator)
	dy.Sub(dy, feeAmount)
	return dy.Quo(dy, precisions[j]), nil
}

// Precision returns the multiplier that scales a token with the given decimals to 18.
func Precision(decimals uint8) *big.Int {
	if decimals >= 18 {
		return big.NewInt(1)
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(18-decimals)), nil)
}
