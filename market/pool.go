package market

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/defistate/defistate-arb/state"
	"github.com/ethereum/go-ethereum/common"
)

// Variant tags the pricing curve a pool implements. The set is closed.
type Variant uint8

const (
	ConstantProduct Variant = iota + 1
	ConcentratedLiquidity
	StableSwap
)

func (v Variant) String() string {
	switch v {
	case ConstantProduct:
		return "constant-product"
	case ConcentratedLiquidity:
		return "concentrated-liquidity"
	case StableSwap:
		return "stable-swap"
	default:
		return fmt.Sprintf("variant(%d)", uint8(v))
	}
}

// ParseVariant maps the configuration names of each variant to its tag.
func ParseVariant(s string) (Variant, error) {
	switch s {
	case "constant-product", "uniswapv2":
		return ConstantProduct, nil
	case "concentrated-liquidity", "uniswapv3":
		return ConcentratedLiquidity, nil
	case "stable-swap", "curve":
		return StableSwap, nil
	}
	return 0, fmt.Errorf("unknown pool variant %q", s)
}

// SwapDirection is an ordered (in, out) token pair a pool can swap.
type SwapDirection struct {
	TokenIn  common.Address
	TokenOut common.Address
}

// Pool is the capability every pricing-curve variant shares.
type Pool interface {
	Address() common.Address
	Variant() Variant
	Tokens() []common.Address
	// SwapDirections returns every ordered pair the pool can swap, in a stable order.
	SwapDirections() []SwapDirection
	// Quote returns the exact output for amountIn of tokenIn, reading pool state from st.
	Quote(ctx context.Context, st state.Reader, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error)
	// GasEstimate is the typical gas cost of one swap through the pool.
	GasEstimate() uint64
	// WatchedSlots lists the storage slots whose change means the pool's price moved.
	WatchedSlots() []common.Hash
}

// GasQuoter is implemented by variants whose gas cost depends on the swap,
// such as concentrated-liquidity pools that pay per tick crossed.
type GasQuoter interface {
	QuoteWithGas(ctx context.Context, st state.Reader, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, uint64, error)
}

// DirectionsOf builds every ordered pair over tokens, in token order.
func DirectionsOf(tokens []common.Address) []SwapDirection {
	out := make([]SwapDirection, 0, len(tokens)*(len(tokens)-1))
	for _, in := range tokens {
		for _, o := range tokens {
			if in != o {
				out = append(out, SwapDirection{TokenIn: in, TokenOut: o})
			}
		}
	}
	return out
}

// ComparePools orders pools by address.
func ComparePools(a, b Pool) int {
	return bytes.Compare(a.Address().Bytes(), b.Address().Bytes())
}

// SortPools sorts pools in place by address.
func SortPools(pools []Pool) {
	sort.Slice(pools, func(i, j int) bool {
		return ComparePools(pools[i], pools[j]) < 0
	})
}

// IndexOf returns the position of token in tokens, or -1.
func IndexOf(tokens []common.Address, token common.Address) int {
	for i, t := range tokens {
		if t == token {
			return i
		}
	}
	return -1
}
