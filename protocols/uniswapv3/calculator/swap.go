package calculator

import (
	"errors"
	"fmt"
	"math/big"
)

// FeeDenominator is the unit of the pool fee, which is expressed in pips.
const FeeDenominator = 1_000_000

// DefaultMaxSteps bounds the number of bitmap words a single swap may walk.
const DefaultMaxSteps = 512

var (
	ErrInvalidAmount  = errors.New("amount must be non-zero")
	ErrInvalidLimit   = errors.New("sqrt price limit on the wrong side of the current price")
	ErrStepLimit      = errors.New("swap exceeded step limit")
	ErrInvalidSpacing = errors.New("tick spacing must be positive")
)

// TickSource exposes the initialized-tick structure of a pool.
type TickSource interface {
	// NextInitializedTick returns the next initialized tick within the bitmap
	// word containing tick, searching at-or-below when lte is set and above
	// otherwise. When no tick is initialized in that word it returns the
	// word boundary and false.
	NextInitializedTick(tick, tickSpacing int32, lte bool) (int32, bool, error)
	// LiquidityNet returns the net liquidity change when crossing tick left to right.
	LiquidityNet(tick int32) (*big.Int, error)
}

// SwapState is the pool state a swap starts from and ends in.
type SwapState struct {
	SqrtPriceX96 *big.Int
	Tick         int32
	Liquidity    *big.Int
}

// SwapResult describes a completed swap. Amounts are unsigned: AmountIn is
// what the pool receives including fees and AmountOut is what it pays out.
type SwapResult struct {
	AmountIn     *big.Int
	AmountOut    *big.Int
	FeeAmount    *big.Int
	TicksCrossed int
	End          SwapState
}

// Step is the result of one ComputeSwapStep call.
type Step struct {
	SqrtPriceNext *big.Int
	AmountIn      *big.Int
	AmountOut     *big.Int
	FeeAmount     *big.Int
}

// ComputeSwapStep swaps within a single price range, moving from current
// toward target. amountRemaining is positive for exact input and negative
// for exact output.
func ComputeSwapStep(current, target, liquidity, amountRemaining *big.Int, feePips uint32) (Step, error) {
	zeroForOne := current.Cmp(target) >= 0
	exactIn := amountRemaining.Sign() >= 0
	fee := big.NewInt(int64(feePips))
	feeComplement := big.NewInt(FeeDenominator - int64(feePips))
	denom := big.NewInt(FeeDenominator)

	var (
		next      *big.Int
		amountIn  *big.Int
		amountOut *big.Int
		err       error
	)

	if exactIn {
		lessFee := mulDiv(amountRemaining, feeComplement, denom)
		if zeroForOne {
			amountIn, err = Amount0Delta(target, current, liquidity, true)
			if err != nil {
				return Step{}, err
			}
		} else {
			amountIn = Amount1Delta(current, target, liquidity, true)
		}
		if lessFee.Cmp(amountIn) >= 0 {
			next = target
		} else if next, err = NextSqrtPriceFromInput(current, liquidity, lessFee, zeroForOne); err != nil {
			return Step{}, err
		}
	} else {
		want := new(big.Int).Neg(amountRemaining)
		if zeroForOne {
			amountOut = Amount1Delta(target, current, liquidity, false)
		} else {
			amountOut, err = Amount0Delta(current, target, liquidity, false)
			if err != nil {
				return Step{}, err
			}
		}
		if want.Cmp(amountOut) >= 0 {
			next = target
		} else if next, err = NextSqrtPriceFromOutput(current, liquidity, want, zeroForOne); err != nil {
			return Step{}, err
		}
	}

	reached := target.Cmp(next) == 0
	if zeroForOne {
		if !(reached && exactIn) {
			if amountIn, err = Amount0Delta(next, current, liquidity, true); err != nil {
				return Step{}, err
			}
		}
		if !(reached && !exactIn) {
			amountOut = Amount1Delta(next, current, liquidity, false)
		}
	} else {
		if !(reached && exactIn) {
			amountIn = Amount1Delta(current, next, liquidity, true)
		}
		if !(reached && !exactIn) {
			if amountOut, err = Amount0Delta(current, next, liquidity, false); err != nil {
				return Step{}, err
			}
		}
	}

	if !exactIn {
		if want := new(big.Int).Neg(amountRemaining); amountOut.Cmp(want) > 0 {
			amountOut = want
		}
	}

	var feeAmount *big.Int
	if exactIn && next.Cmp(target) != 0 {
		feeAmount = new(big.Int).Sub(amountRemaining, amountIn)
	} else {
		feeAmount = mulDivRoundingUp(amountIn, fee, feeComplement)
	}

	return Step{SqrtPriceNext: next, AmountIn: amountIn, AmountOut: amountOut, FeeAmount: feeAmount}, nil
}

// Swap runs the full swap loop. amountSpecified is positive for exact input
// and negative for exact output. A nil sqrtPriceLimit means no limit. The
// loop stops early when the price reaches the limit, so a result may fill
// less than requested. When maxSteps runs out the partial fill is returned
// alongside ErrStepLimit.
func Swap(ticks TickSource, start SwapState, feePips uint32, tickSpacing int32, zeroForOne bool, amountSpecified, sqrtPriceLimit *big.Int, maxSteps int) (SwapResult, error) {
	if amountSpecified == nil || amountSpecified.Sign() == 0 {
		return SwapResult{}, ErrInvalidAmount
	}
	if tickSpacing <= 0 {
		return SwapResult{}, ErrInvalidSpacing
	}
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}

	limit := sqrtPriceLimit
	if limit == nil {
		if zeroForOne {
			limit = new(big.Int).Add(MinSqrtRatio, big.NewInt(1))
		} else {
			limit = new(big.Int).Sub(MaxSqrtRatio, big.NewInt(1))
		}
	}
	if zeroForOne {
		if limit.Cmp(start.SqrtPriceX96) >= 0 || limit.Cmp(MinSqrtRatio) <= 0 {
			return SwapResult{}, ErrInvalidLimit
		}
	} else if limit.Cmp(start.SqrtPriceX96) <= 0 || limit.Cmp(MaxSqrtRatio) >= 0 {
		return SwapResult{}, ErrInvalidLimit
	}

	exactIn := amountSpecified.Sign() > 0
	remaining := new(big.Int).Set(amountSpecified)
	calculated := new(big.Int)
	feeTotal := new(big.Int)
	sqrtPrice := new(big.Int).Set(start.SqrtPriceX96)
	tick := start.Tick
	liquidity := new(big.Int).Set(start.Liquidity)
	crossed := 0

	result := func() SwapResult {
		res := SwapResult{
			FeeAmount:    new(big.Int).Set(feeTotal),
			TicksCrossed: crossed,
			End:          SwapState{SqrtPriceX96: new(big.Int).Set(sqrtPrice), Tick: tick, Liquidity: new(big.Int).Set(liquidity)},
		}
		if exactIn {
			res.AmountIn = new(big.Int).Sub(amountSpecified, remaining)
			res.AmountOut = new(big.Int).Neg(calculated)
		} else {
			res.AmountIn = new(big.Int).Set(calculated)
			res.AmountOut = new(big.Int).Neg(new(big.Int).Sub(amountSpecified, remaining))
		}
		return res
	}

	for steps := 0; remaining.Sign() != 0 && sqrtPrice.Cmp(limit) != 0; steps++ {
		if steps >= maxSteps {
			return result(), fmt.Errorf("%w: %d", ErrStepLimit, maxSteps)
		}

		priceStart := new(big.Int).Set(sqrtPrice)
		tickNext, initialized, err := ticks.NextInitializedTick(tick, tickSpacing, zeroForOne)
		if err != nil {
			return SwapResult{}, err
		}
		if tickNext < MinTick {
			tickNext = MinTick
		} else if tickNext > MaxTick {
			tickNext = MaxTick
		}
		priceNext, err := GetSqrtRatioAtTick(tickNext)
		if err != nil {
			return SwapResult{}, err
		}

		target := priceNext
		if (zeroForOne && priceNext.Cmp(limit) < 0) || (!zeroForOne && priceNext.Cmp(limit) > 0) {
			target = limit
		}

		step, err := ComputeSwapStep(sqrtPrice, target, liquidity, remaining, feePips)
		if err != nil {
			return SwapResult{}, err
		}
		sqrtPrice = step.SqrtPriceNext
		feeTotal.Add(feeTotal, step.FeeAmount)

		if exactIn {
			remaining.Sub(remaining, step.AmountIn)
			remaining.Sub(remaining, step.FeeAmount)
			calculated.Sub(calculated, step.AmountOut)
		} else {
			remaining.Add(remaining, step.AmountOut)
			calculated.Add(calculated, step.AmountIn)
			calculated.Add(calculated, step.FeeAmount)
		}

		if sqrtPrice.Cmp(priceNext) == 0 {
			if initialized {
				net, err := ticks.LiquidityNet(tickNext)
				if err != nil {
					return SwapResult{}, err
				}
				if zeroForOne {
					net = new(big.Int).Neg(net)
				}
				if liquidity, err = AddDelta(liquidity, net); err != nil {
					return SwapResult{}, err
				}
				crossed++
			}
			if zeroForOne {
				tick = tickNext - 1
			} else {
				tick = tickNext
			}
		} else if sqrtPrice.Cmp(priceStart) != 0 {
			if tick, err = GetTickAtSqrtRatio(sqrtPrice); err != nil {
				return SwapResult{}, err
			}
		}
	}

	return result(), nil
}
