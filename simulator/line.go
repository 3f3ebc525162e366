package simulator

import (
	"math/big"

	"github.com/defistate/defistate-arb/market"
)

// SwapLine is a path bound to an input amount. The simulator fills
// AmountOut, HopAmounts, GasUsed and Err exactly once.
type SwapLine struct {
	Path      market.SwapPath
	AmountIn  *big.Int
	AmountOut *big.Int
	// HopAmounts[i] is the output of hop i.
	HopAmounts []*big.Int
	GasUsed    uint64
	Err        error
}

// HopIn returns the input amount of hop i.
func (l SwapLine) HopIn(i int) *big.Int {
	if i == 0 {
		return l.AmountIn
	}
	return l.HopAmounts[i-1]
}

func NewSwapLine(path market.SwapPath, amountIn *big.Int) SwapLine {
	var in *big.Int
	if amountIn != nil {
		in = new(big.Int).Set(amountIn)
	}
	return SwapLine{Path: path, AmountIn: in}
}

// Ok reports whether the line simulated successfully.
func (l SwapLine) Ok() bool { return l.Err == nil && l.AmountOut != nil }

// Profit is AmountOut - AmountIn for a successful cyclic path, nil otherwise.
func (l SwapLine) Profit() *big.Int {
	if !l.Ok() || l.Path.Len() == 0 || l.Path.Start().Address != l.Path.End().Address {
		return nil
	}
	return new(big.Int).Sub(l.AmountOut, l.AmountIn)
}

// Profitable reports whether Profit exceeds minProfit. A nil minProfit means zero.
func (l SwapLine) Profitable(minProfit *big.Int) bool {
	p := l.Profit()
	if p == nil {
		return false
	}
	if minProfit == nil {
		return p.Sign() > 0
	}
	return p.Cmp(minProfit) > 0
}

// BestLine returns the most profitable line above minProfit. Ties go to the
// lower gas, then to the earlier line.
func BestLine(lines []SwapLine, minProfit *big.Int) (SwapLine, bool) {
	var (
		best  SwapLine
		found bool
	)
	for _, l := range lines {
		if !l.Profitable(minProfit) {
			continue
		}
		if !found {
			best, found = l, true
			continue
		}
		switch c := l.Profit().Cmp(best.Profit()); {
		case c > 0, c == 0 && l.GasUsed < best.GasUsed:
			best = l
		}
	}
	return best, found
}
