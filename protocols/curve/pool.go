// Package curve implements the stable-swap pool variant. Coin balances are
// read from pool storage; the amplification coefficient and fee are static
// pool parameters.
package curve

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/defistate/defistate-arb/market"
	"github.com/defistate/defistate-arb/protocols/curve/calculator"
	"github.com/defistate/defistate-arb/state"
	"github.com/ethereum/go-ethereum/common"
)

// SwapGas is the typical cost of exchange() on a plain pool.
const SwapGas uint64 = 130_000

// Coin is one pool constituent.
type Coin struct {
	Address  common.Address
	Decimals uint8
}

type Pool struct {
	address      common.Address
	coins        []Coin
	tokens       []common.Address
	precisions   []*big.Int
	amp          *big.Int
	fee          *big.Int
	balancesSlot uint64
}

var _ market.Pool = (*Pool)(nil)

// NewPool creates a pool whose balances array starts at storage slot
// balancesSlot. For the classic Vyper pools this directly follows the coins
// array, so it equals the number of coins.
func NewPool(address common.Address, coins []Coin, amp, fee *big.Int, balancesSlot uint64) (*Pool, error) {
	if len(coins) < 2 {
		return nil, fmt.Errorf("pool %s: need at least two coins, got %d", address.Hex(), len(coins))
	}
	if amp == nil || amp.Sign() <= 0 || fee == nil || fee.Sign() < 0 || fee.Cmp(calculator.FeeDenominator) >= 0 {
		return nil, fmt.Errorf("pool %s: invalid amp %v or fee %v", address.Hex(), amp, fee)
	}
	p := &Pool{
		address:      address,
		coins:        append([]Coin(nil), coins...),
		amp:          new(big.Int).Set(amp),
		fee:          new(big.Int).Set(fee),
		balancesSlot: balancesSlot,
	}
	for _, c := range coins {
		p.tokens = append(p.tokens, c.Address)
		p.precisions = append(p.precisions, calculator.Precision(c.Decimals))
	}
	return p, nil
}

func (p *Pool) Address() common.Address { return p.address }

func (p *Pool) Variant() market.Variant { return market.StableSwap }

func (p *Pool) Tokens() []common.Address { return append([]common.Address(nil), p.tokens...) }

func (p *Pool) GasEstimate() uint64 { return SwapGas }

func (p *Pool) SwapDirections() []market.SwapDirection { return market.DirectionsOf(p.tokens) }

func (p *Pool) WatchedSlots() []common.Hash {
	out := make([]common.Hash, len(p.coins))
	for i := range p.coins {
		out[i] = p.BalanceSlot(i)
	}
	return out
}

// BalanceSlot is the storage key of balances[i].
func (p *Pool) BalanceSlot(i int) common.Hash {
	return state.SlotIndex(p.balancesSlot + uint64(i))
}

// Indices returns the coin indices of a swap, as passed to exchange(i, j, dx, minDy).
func (p *Pool) Indices(tokenIn, tokenOut common.Address) (int, int, error) {
	i, j := market.IndexOf(p.tokens, tokenIn), market.IndexOf(p.tokens, tokenOut)
	if i < 0 || j < 0 || i == j {
		return 0, 0, fmt.Errorf("%w: pool %s does not swap %s -> %s", market.ErrTokenMismatch, p.address.Hex(), tokenIn.Hex(), tokenOut.Hex())
	}
	return i, j, nil
}

// Balances reads every coin balance from st.
func (p *Pool) Balances(ctx context.Context, st state.Reader) ([]*big.Int, error) {
	out := make([]*big.Int, len(p.coins))
	for i := range p.coins {
		w, err := st.Storage(ctx, p.address, p.BalanceSlot(i))
		if err != nil {
			return nil, err
		}
		out[i] = new(big.Int).SetBytes(w.Bytes())
	}
	return out, nil
}

func (p *Pool) Quote(ctx context.Context, st state.Reader, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, market.ErrInvalidAmount
	}
	i, j, err := p.Indices(tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}
	balances, err := p.Balances(ctx, st)
	if err != nil {
		return nil, err
	}
	out, err := calculator.GetDy(i, j, amountIn, balances, p.precisions, p.amp, p.fee)
	if errors.Is(err, calculator.ErrEmptyPool) || errors.Is(err, calculator.ErrOutputExhausted) {
		return nil, fmt.Errorf("%w: pool %s: %w", market.ErrInsufficientLiquidity, p.address.Hex(), err)
	}
	return out, err
}

// SetBalances writes raw coin balances into o.
func (p *Pool) SetBalances(o *state.Overlay, balances []*big.Int) {
	for i, b := range balances {
		o.SetStorage(p.address, p.BalanceSlot(i), common.BigToHash(b))
	}
}
