package calculator

import (
	"errors"
	"math/big"
)

var (
	ErrZeroSqrtPrice    = errors.New("sqrt price must be positive")
	ErrZeroLiquidity    = errors.New("liquidity must be positive")
	ErrPriceUnderflow   = errors.New("sqrt price underflow")
	ErrLiquidityOverrun = errors.New("liquidity delta out of range")

	q96        = new(big.Int).Lsh(big.NewInt(1), 96)
	two256     = new(big.Int).Lsh(big.NewInt(1), 256)
	maxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
)

func mulDiv(a, b, d *big.Int) *big.Int {
	r := new(big.Int).Mul(a, b)
	return r.Quo(r, d)
}

func mulDivRoundingUp(a, b, d *big.Int) *big.Int {
	r := new(big.Int).Mul(a, b)
	q, m := new(big.Int).QuoRem(r, d, new(big.Int))
	if m.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

func divRoundingUp(a, d *big.Int) *big.Int {
	q, m := new(big.Int).QuoRem(a, d, new(big.Int))
	if m.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

func ordered(a, b *big.Int) (*big.Int, *big.Int) {
	if a.Cmp(b) > 0 {
		return b, a
	}
	return a, b
}

// Amount0Delta is the token0 amount between two sqrt prices for the given liquidity.
func Amount0Delta(sqrtA, sqrtB, liquidity *big.Int, roundUp bool) (*big.Int, error) {
	sqrtA, sqrtB = ordered(sqrtA, sqrtB)
	if sqrtA.Sign() <= 0 {
		return nil, ErrZeroSqrtPrice
	}
	numerator1 := new(big.Int).Lsh(liquidity, 96)
	numerator2 := new(big.Int).Sub(sqrtB, sqrtA)
	if roundUp {
		return divRoundingUp(mulDivRoundingUp(numerator1, numerator2, sqrtB), sqrtA), nil
	}
	r := mulDiv(numerator1, numerator2, sqrtB)
	return r.Quo(r, sqrtA), nil
}

// Amount1Delta is the token1 amount between two sqrt prices for the given liquidity.
func Amount1Delta(sqrtA, sqrtB, liquidity *big.Int, roundUp bool) *big.Int {
	sqrtA, sqrtB = ordered(sqrtA, sqrtB)
	diff := new(big.Int).Sub(sqrtB, sqrtA)
	if roundUp {
		return mulDivRoundingUp(liquidity, diff, q96)
	}
	return mulDiv(liquidity, diff, q96)
}

// nextFromAmount0 moves the price by a token0 amount, rounding up. The
// 256-bit overflow branch of the on-chain code is reproduced so results agree
// to the wei.
func nextFromAmount0(sqrtP, liquidity, amount *big.Int, add bool) (*big.Int, error) {
	if amount.Sign() == 0 {
		return new(big.Int).Set(sqrtP), nil
	}
	numerator1 := new(big.Int).Lsh(liquidity, 96)
	product := new(big.Int).Mul(amount, sqrtP)

	if add {
		if product.Cmp(two256) < 0 {
			denominator := new(big.Int).Add(numerator1, product)
			if denominator.Cmp(two256) < 0 {
				return mulDivRoundingUp(numerator1, sqrtP, denominator), nil
			}
		}
		d := new(big.Int).Quo(numerator1, sqrtP)
		return divRoundingUp(numerator1, d.Add(d, amount)), nil
	}

	if product.Cmp(two256) >= 0 || numerator1.Cmp(product) <= 0 {
		return nil, ErrPriceUnderflow
	}
	return mulDivRoundingUp(numerator1, sqrtP, new(big.Int).Sub(numerator1, product)), nil
}

// nextFromAmount1 moves the price by a token1 amount, rounding down.
func nextFromAmount1(sqrtP, liquidity, amount *big.Int, add bool) (*big.Int, error) {
	shifted := new(big.Int).Lsh(amount, 96)
	if add {
		q := shifted.Quo(shifted, liquidity)
		return q.Add(q, sqrtP), nil
	}
	q := divRoundingUp(shifted, liquidity)
	if sqrtP.Cmp(q) <= 0 {
		return nil, ErrPriceUnderflow
	}
	return q.Sub(sqrtP, q), nil
}

// NextSqrtPriceFromInput returns the price after adding amountIn of the input token.
func NextSqrtPriceFromInput(sqrtP, liquidity, amountIn *big.Int, zeroForOne bool) (*big.Int, error) {
	if sqrtP.Sign() <= 0 {
		return nil, ErrZeroSqrtPrice
	}
	if liquidity.Sign() <= 0 {
		return nil, ErrZeroLiquidity
	}
	if zeroForOne {
		return nextFromAmount0(sqrtP, liquidity, amountIn, true)
	}
	return nextFromAmount1(sqrtP, liquidity, amountIn, true)
}

// NextSqrtPriceFromOutput returns the price after removing amountOut of the output token.
func NextSqrtPriceFromOutput(sqrtP, liquidity, amountOut *big.Int, zeroForOne bool) (*big.Int, error) {
	if sqrtP.Sign() <= 0 {
		return nil, ErrZeroSqrtPrice
	}
	if liquidity.Sign() <= 0 {
		return nil, ErrZeroLiquidity
	}
	if zeroForOne {
		return nextFromAmount1(sqrtP, liquidity, amountOut, false)
	}
	return nextFromAmount0(sqrtP, liquidity, amountOut, false)
}

// AddDelta applies a signed liquidity delta, failing outside the uint128 range.
func AddDelta(liquidity, delta *big.Int) (*big.Int, error) {
	r := new(big.Int).Add(liquidity, delta)
	if r.Sign() < 0 || r.Cmp(maxUint128) > 0 {
		return nil, ErrLiquidityOverrun
	}
	return r, nil
}
