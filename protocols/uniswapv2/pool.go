// Package uniswapv2 implements the constant-product pool variant on top of the state overlay.
package uniswapv2

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/defistate/defistate-arb/market"
	"github.com/defistate/defistate-arb/protocols/uniswapv2/calculator"
	"github.com/defistate/defistate-arb/state"
	"github.com/ethereum/go-ethereum/common"
)

const (
	// DefaultFeeBps is the 0.3% fee of canonical UniswapV2 pairs.
	DefaultFeeBps uint16 = 30
	// SwapGas is the typical cost of a pair swap including the token transfer out.
	SwapGas uint64 = 75_000
)

// ReservesSlot is the pair storage slot packing reserve0 (uint112), reserve1 (uint112)
// and blockTimestampLast (uint32), lowest bits first.
var ReservesSlot = state.SlotIndex(8)

// Pool is a UniswapV2-style pair. Its reserves live in the overlay, never in the struct.
type Pool struct {
	address common.Address
	token0  common.Address
	token1  common.Address
	feeBps  uint16
}

// Compile-time interface check.
var _ market.Pool = (*Pool)(nil)

// NewPool creates a pair. token0 and token1 must be in pair order (token0 < token1).
func NewPool(address, token0, token1 common.Address, feeBps uint16) *Pool {
	return &Pool{address: address, token0: token0, token1: token1, feeBps: feeBps}
}

func (p *Pool) Address() common.Address { return p.address }

func (p *Pool) Variant() market.Variant { return market.ConstantProduct }

func (p *Pool) Tokens() []common.Address { return []common.Address{p.token0, p.token1} }

func (p *Pool) Token0() common.Address { return p.token0 }

func (p *Pool) Token1() common.Address { return p.token1 }

func (p *Pool) FeeBps() uint16 { return p.feeBps }

func (p *Pool) GasEstimate() uint64 { return SwapGas }

func (p *Pool) WatchedSlots() []common.Hash { return []common.Hash{ReservesSlot} }

func (p *Pool) SwapDirections() []market.SwapDirection {
	return []market.SwapDirection{
		{TokenIn: p.token0, TokenOut: p.token1},
		{TokenIn: p.token1, TokenOut: p.token0},
	}
}

// Reserves reads the current reserves from st.
func (p *Pool) Reserves(ctx context.Context, st state.Reader) (reserve0, reserve1 *big.Int, err error) {
	word, err := st.Storage(ctx, p.address, ReservesSlot)
	if err != nil {
		return nil, nil, err
	}
	return state.Field(word, 0, 112), state.Field(word, 112, 112), nil
}

// Quote prices amountIn of tokenIn against the reserves held in st.
func (p *Pool) Quote(ctx context.Context, st state.Reader, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, market.ErrInvalidAmount
	}
	zeroForOne, err := p.ZeroForOne(tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}
	reserve0, reserve1, err := p.Reserves(ctx, st)
	if err != nil {
		return nil, err
	}
	reserveIn, reserveOut := reserve1, reserve0
	if zeroForOne {
		reserveIn, reserveOut = reserve0, reserve1
	}
	out, err := calculator.GetAmountOut(amountIn, reserveIn, reserveOut, p.feeBps)
	if errors.Is(err, calculator.ErrInsufficientLiquidity) {
		return nil, fmt.Errorf("%w: pool %s: %w", market.ErrInsufficientLiquidity, p.address.Hex(), err)
	}
	return out, err
}

// ZeroForOne reports the swap direction, failing when the pair does not hold both tokens.
func (p *Pool) ZeroForOne(tokenIn, tokenOut common.Address) (bool, error) {
	switch {
	case tokenIn == p.token0 && tokenOut == p.token1:
		return true, nil
	case tokenIn == p.token1 && tokenOut == p.token0:
		return false, nil
	}
	return false, fmt.Errorf("%w: pool %s does not swap %s -> %s", market.ErrTokenMismatch, p.address.Hex(), tokenIn.Hex(), tokenOut.Hex())
}

// ReservesWord packs reserves into the storage word layout of ReservesSlot.
func ReservesWord(reserve0, reserve1 *big.Int, timestamp uint32) common.Hash {
	w := state.SetField(common.Hash{}, 0, 112, reserve0)
	w = state.SetField(w, 112, 112, reserve1)
	return state.SetField(w, 224, 32, new(big.Int).SetUint64(uint64(timestamp)))
}
