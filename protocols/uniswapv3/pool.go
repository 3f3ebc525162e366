// Package uniswapv3 implements the concentrated-liquidity pool variant. Pool
// state is read from the state overlay using the UniswapV3Pool storage layout,
// so simulated writes to slot0, liquidity or ticks are priced immediately.
package uniswapv3

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/defistate/defistate-arb/market"
	"github.com/defistate/defistate-arb/protocols/uniswapv3/calculator"
	"github.com/defistate/defistate-arb/state"
	"github.com/ethereum/go-ethereum/common"
)

const (
	// SwapGas is the cost of a swap that stays within one initialized range.
	SwapGas uint64 = 110_000
	// TickCrossGas is the extra cost of each initialized tick crossed.
	TickCrossGas uint64 = 25_000
)

// Storage slots of UniswapV3Pool.
var (
	Slot0Slot      = state.SlotIndex(0)
	LiquiditySlot  = state.SlotIndex(4)
	TicksSlot      = state.SlotIndex(5)
	TickBitmapSlot = state.SlotIndex(6)
)

// FeeTickSpacing maps the factory's enabled fee tiers (in pips) to their tick spacing.
var FeeTickSpacing = map[uint32]int32{
	100:   1,
	500:   10,
	3000:  60,
	10000: 200,
}

type Pool struct {
	address     common.Address
	token0      common.Address
	token1      common.Address
	fee         uint32
	tickSpacing int32
	maxSteps    int
}

var (
	_ market.Pool      = (*Pool)(nil)
	_ market.GasQuoter = (*Pool)(nil)
)

// NewPool creates a pool. A zero tickSpacing is derived from the fee tier.
func NewPool(address, token0, token1 common.Address, fee uint32, tickSpacing int32) (*Pool, error) {
	if tickSpacing == 0 {
		s, ok := FeeTickSpacing[fee]
		if !ok {
			return nil, fmt.Errorf("pool %s: no tick spacing for fee %d", address.Hex(), fee)
		}
		tickSpacing = s
	}
	if tickSpacing < 0 || fee >= calculator.FeeDenominator {
		return nil, fmt.Errorf("pool %s: invalid fee %d or tick spacing %d", address.Hex(), fee, tickSpacing)
	}
	return &Pool{
		address:     address,
		token0:      token0,
		token1:      token1,
		fee:         fee,
		tickSpacing: tickSpacing,
		maxSteps:    calculator.DefaultMaxSteps,
	}, nil
}

func (p *Pool) Address() common.Address { return p.address }

func (p *Pool) Variant() market.Variant { return market.ConcentratedLiquidity }

func (p *Pool) Tokens() []common.Address { return []common.Address{p.token0, p.token1} }

func (p *Pool) Fee() uint32 { return p.fee }

func (p *Pool) TickSpacing() int32 { return p.tickSpacing }

func (p *Pool) GasEstimate() uint64 { return SwapGas }

func (p *Pool) WatchedSlots() []common.Hash { return []common.Hash{Slot0Slot, LiquiditySlot} }

func (p *Pool) SwapDirections() []market.SwapDirection {
	return []market.SwapDirection{
		{TokenIn: p.token0, TokenOut: p.token1},
		{TokenIn: p.token1, TokenOut: p.token0},
	}
}

// State reads slot0 and the active liquidity.
func (p *Pool) State(ctx context.Context, st state.Reader) (calculator.SwapState, error) {
	slot0, err := st.Storage(ctx, p.address, Slot0Slot)
	if err != nil {
		return calculator.SwapState{}, err
	}
	liq, err := st.Storage(ctx, p.address, LiquiditySlot)
	if err != nil {
		return calculator.SwapState{}, err
	}
	return calculator.SwapState{
		SqrtPriceX96: state.Field(slot0, 0, 160),
		Tick:         int32(state.SignedField(slot0, 160, 24).Int64()),
		Liquidity:    state.Field(liq, 0, 128),
	}, nil
}

func (p *Pool) Quote(ctx context.Context, st state.Reader, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	out, _, err := p.QuoteWithGas(ctx, st, tokenIn, tokenOut, amountIn)
	return out, err
}

// QuoteWithGas runs the full swap loop and charges TickCrossGas per crossed tick.
func (p *Pool) QuoteWithGas(ctx context.Context, st state.Reader, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, uint64, error) {
	res, err := p.Swap(ctx, st, tokenIn, tokenOut, amountIn)
	if err != nil {
		return nil, 0, err
	}
	if res.AmountIn.Cmp(amountIn) != 0 {
		return nil, 0, fmt.Errorf("%w: pool %s filled %s of %s", market.ErrInsufficientLiquidity, p.address.Hex(), res.AmountIn, amountIn)
	}
	return res.AmountOut, SwapGas + uint64(res.TicksCrossed)*TickCrossGas, nil
}

// Swap simulates an exact-input swap and returns the full result, including the end state.
func (p *Pool) Swap(ctx context.Context, st state.Reader, tokenIn, tokenOut common.Address, amountIn *big.Int) (calculator.SwapResult, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return calculator.SwapResult{}, market.ErrInvalidAmount
	}
	zeroForOne, err := p.ZeroForOne(tokenIn, tokenOut)
	if err != nil {
		return calculator.SwapResult{}, err
	}

	start, err := p.State(ctx, st)
	if err != nil {
		return calculator.SwapResult{}, err
	}
	if start.SqrtPriceX96.Sign() == 0 {
		return calculator.SwapResult{}, fmt.Errorf("%w: pool %s is not initialized", market.ErrInsufficientLiquidity, p.address.Hex())
	}
	ticks := &storageTicks{ctx: ctx, st: st, pool: p.address}
	res, err := calculator.Swap(ticks, start, p.fee, p.tickSpacing, zeroForOne, amountIn, nil, p.maxSteps)
	if errors.Is(err, calculator.ErrStepLimit) && res.AmountIn != nil && res.AmountIn.Sign() == 0 {
		// walked the bitmap without meeting any liquidity
		return calculator.SwapResult{}, fmt.Errorf("%w: pool %s has no liquidity within %d steps", market.ErrInsufficientLiquidity, p.address.Hex(), p.maxSteps)
	}
	if err != nil {
		return calculator.SwapResult{}, err
	}
	return res, nil
}

// ZeroForOne reports the swap direction, failing when the pool does not hold both tokens.
func (p *Pool) ZeroForOne(tokenIn, tokenOut common.Address) (bool, error) {
	switch {
	case tokenIn == p.token0 && tokenOut == p.token1:
		return true, nil
	case tokenIn == p.token1 && tokenOut == p.token0:
		return false, nil
	}
	return false, fmt.Errorf("%w: pool %s does not swap %s -> %s", market.ErrTokenMismatch, p.address.Hex(), tokenIn.Hex(), tokenOut.Hex())
}

// storageTicks walks the tick bitmap and ticks mappings in pool storage.
type storageTicks struct {
	ctx  context.Context
	st   state.Reader
	pool common.Address
}

func (s *storageTicks) NextInitializedTick(tick, spacing int32, lte bool) (int32, bool, error) {
	pos := calculator.WordFor(tick, spacing, lte)
	word, err := s.st.Storage(s.ctx, s.pool, BitmapSlot(pos))
	if err != nil {
		return 0, false, err
	}
	next, ok := calculator.NextInWord(new(big.Int).SetBytes(word.Bytes()), tick, spacing, lte)
	return next, ok, nil
}

func (s *storageTicks) LiquidityNet(tick int32) (*big.Int, error) {
	word, err := s.st.Storage(s.ctx, s.pool, TickSlot(tick))
	if err != nil {
		return nil, err
	}
	return state.SignedField(word, 128, 128), nil
}

// TickSlot is the first storage word of ticks[tick]: liquidityGross (uint128) then liquidityNet (int128).
func TickSlot(tick int32) common.Hash {
	return state.MappingSlot(state.IntKey(int64(tick)), TicksSlot)
}

// BitmapSlot is the storage key of tickBitmap[wordPos].
func BitmapSlot(wordPos int16) common.Hash {
	return state.MappingSlot(state.IntKey(int64(wordPos)), TickBitmapSlot)
}

// Slot0Word packs sqrtPriceX96 and tick into the slot0 layout, leaving the
// oracle fields zero and the reentrancy lock open.
func Slot0Word(sqrtPriceX96 *big.Int, tick int32) common.Hash {
	w := state.SetField(common.Hash{}, 0, 160, sqrtPriceX96)
	w = state.SetField(w, 160, 24, big.NewInt(int64(tick)))
	return state.SetField(w, 240, 8, big.NewInt(1))
}

// TickWord packs the first word of a tick's Info struct.
func TickWord(liquidityGross, liquidityNet *big.Int) common.Hash {
	w := state.SetField(common.Hash{}, 0, 128, liquidityGross)
	return state.SetField(w, 128, 128, liquidityNet)
}

// Write stores a pool state and its initialized ticks into o. Ticks maps
// each initialized tick to its liquidityNet.
func (p *Pool) Write(o *state.Overlay, st calculator.SwapState, ticks calculator.TickMap) {
	o.SetStorage(p.address, Slot0Slot, Slot0Word(st.SqrtPriceX96, st.Tick))
	o.SetStorage(p.address, LiquiditySlot, common.BigToHash(st.Liquidity))

	words := make(map[int16]*big.Int)
	for tick, net := range ticks {
		pos, bit := calculator.Position(calculator.Compress(tick, p.tickSpacing))
		w, ok := words[pos]
		if !ok {
			w = new(big.Int)
			words[pos] = w
		}
		w.SetBit(w, int(bit), 1)
		o.SetStorage(p.address, TickSlot(tick), TickWord(new(big.Int).Abs(net), net))
	}
	for pos, w := range words {
		o.SetStorage(p.address, BitmapSlot(pos), common.BigToHash(w))
	}
}
