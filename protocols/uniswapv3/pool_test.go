package uniswapv3

import (
	"context"
	"math/big"
	"testing"

	"github.com/defistate/defistate-arb/market"
	"github.com/defistate/defistate-arb/protocols/uniswapv3/calculator"
	"github.com/defistate/defistate-arb/state"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	poolAddr = common.HexToAddress("0x8ad599c3A0ff1De082011EFDDc58f1908eb6e6D8")
	usdc     = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	weth     = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
)

func e20(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(20), nil))
}

func seeded(t *testing.T) (*Pool, *state.Overlay) {
	t.Helper()
	p, err := NewPool(poolAddr, usdc, weth, 3000, 0)
	require.NoError(t, err)

	o := state.New(state.NewBase(nil, nil))
	p.Write(o, calculator.SwapState{
		SqrtPriceX96: new(big.Int).Lsh(big.NewInt(1), 96),
		Tick:         0,
		Liquidity:    e20(15),
	}, calculator.TickMap{
		-600: new(big.Int).Neg(e20(-10)),
		600:  e20(-10),
		-120: e20(5),
		120:  new(big.Int).Neg(e20(5)),
	})
	return p, o
}

func TestNewPool(t *testing.T) {
	p, err := NewPool(poolAddr, usdc, weth, 500, 0)
	require.NoError(t, err)
	assert.Equal(t, int32(10), p.TickSpacing())
	assert.Equal(t, market.ConcentratedLiquidity, p.Variant())

	_, err = NewPool(poolAddr, usdc, weth, 1234, 0)
	assert.Error(t, err)

	p, err = NewPool(poolAddr, usdc, weth, 1234, 7)
	require.NoError(t, err)
	assert.Equal(t, int32(7), p.TickSpacing())
}

func TestPool_State(t *testing.T) {
	p, o := seeded(t)
	o.SetStorage(poolAddr, Slot0Slot, Slot0Word(big.NewInt(4295128740), -887272))

	st, err := p.State(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, "4295128740", st.SqrtPriceX96.String())
	assert.Equal(t, int32(-887272), st.Tick)
	assert.Equal(t, e20(15).String(), st.Liquidity.String())
}

func TestPool_QuoteWithGas(t *testing.T) {
	p, o := seeded(t)
	ctx := context.Background()
	twenty := new(big.Int).Mul(big.NewInt(20), big.NewInt(1e18))

	out, gas, err := p.QuoteWithGas(ctx, o, usdc, weth, twenty)
	require.NoError(t, err)
	assert.Equal(t, "19640111211818621445", out.String())
	assert.Equal(t, SwapGas+TickCrossGas, gas)

	out, err = p.Quote(ctx, o, usdc, weth, big.NewInt(1e18))
	require.NoError(t, err)
	assert.Equal(t, "996337767497203525", out.String())

	out, err = p.Quote(ctx, o, weth, usdc, twenty)
	require.NoError(t, err)
	assert.Equal(t, "19640111211818621445", out.String())
}

func TestPool_QuoteMatchesInMemoryTicks(t *testing.T) {
	p, o := seeded(t)
	ticks := calculator.TickMap{-600: e20(10), 600: e20(-10), -120: e20(5), 120: e20(-5)}
	start, err := p.State(context.Background(), o)
	require.NoError(t, err)

	amount := new(big.Int).Mul(big.NewInt(7), big.NewInt(1e18))
	want, err := calculator.Swap(ticks, start, 3000, 60, true, amount, nil, 0)
	require.NoError(t, err)

	got, err := p.Swap(context.Background(), o, usdc, weth, amount)
	require.NoError(t, err)
	assert.Equal(t, want.AmountOut.String(), got.AmountOut.String())
	assert.Equal(t, want.End.Tick, got.End.Tick)
}

func TestPool_QuoteErrors(t *testing.T) {
	p, o := seeded(t)
	ctx := context.Background()

	// more than every range can absorb
	huge := new(big.Int).Mul(big.NewInt(100_000), big.NewInt(1e18))
	_, err := p.Quote(ctx, o, usdc, weth, huge)
	assert.ErrorIs(t, err, market.ErrInsufficientLiquidity)

	_, err = p.Quote(ctx, o, usdc, common.HexToAddress("0x01"), big.NewInt(1))
	assert.ErrorIs(t, err, market.ErrTokenMismatch)

	_, err = p.Quote(ctx, o, usdc, weth, big.NewInt(-1))
	assert.ErrorIs(t, err, market.ErrInvalidAmount)

	empty := state.New(state.NewBase(nil, nil))
	_, err = p.Quote(ctx, empty, usdc, weth, big.NewInt(1))
	assert.ErrorIs(t, err, market.ErrInsufficientLiquidity)
}

func TestPool_QuoteWithoutLiquidity(t *testing.T) {
	// fee tier 100 has tick spacing 1, so the walk to either price bound
	// needs far more bitmap words than the step limit allows
	p, err := NewPool(poolAddr, usdc, weth, 100, 0)
	require.NoError(t, err)
	require.Equal(t, int32(1), p.TickSpacing())

	o := state.New(state.NewBase(nil, nil))
	p.Write(o, calculator.SwapState{
		SqrtPriceX96: new(big.Int).Lsh(big.NewInt(1), 96),
		Tick:         0,
		Liquidity:    new(big.Int),
	}, nil)

	tests := []struct {
		name     string
		tokenIn  common.Address
		tokenOut common.Address
	}{
		{name: "zero for one", tokenIn: usdc, tokenOut: weth},
		{name: "one for zero", tokenIn: weth, tokenOut: usdc},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.Quote(context.Background(), o, tc.tokenIn, tc.tokenOut, big.NewInt(1e18))
			assert.ErrorIs(t, err, market.ErrInsufficientLiquidity)
			assert.NotErrorIs(t, err, calculator.ErrStepLimit)
		})
	}
}

func TestPool_SnapshotRevertChangesQuote(t *testing.T) {
	p, o := seeded(t)
	ctx := context.Background()
	amount := big.NewInt(1e17)

	before, err := p.Quote(ctx, o, usdc, weth, amount)
	require.NoError(t, err)

	h := o.Snapshot()
	o.SetStorage(poolAddr, LiquiditySlot, common.BigToHash(e20(1)))
	thinner, err := p.Quote(ctx, o, usdc, weth, amount)
	require.NoError(t, err)
	assert.True(t, thinner.Cmp(before) < 0)

	require.NoError(t, o.Revert(h))
	after, err := p.Quote(ctx, o, usdc, weth, amount)
	require.NoError(t, err)
	assert.Equal(t, before.String(), after.String())
}

func TestSlotLayout(t *testing.T) {
	w := Slot0Word(big.NewInt(12345), -60)
	assert.Equal(t, int64(12345), state.Field(w, 0, 160).Int64())
	assert.Equal(t, int64(-60), state.SignedField(w, 160, 24).Int64())

	tw := TickWord(big.NewInt(7), big.NewInt(-7))
	assert.Equal(t, int64(7), state.Field(tw, 0, 128).Int64())
	assert.Equal(t, int64(-7), state.SignedField(tw, 128, 128).Int64())

	assert.NotEqual(t, TickSlot(-1), TickSlot(1))
	assert.NotEqual(t, BitmapSlot(0), TickSlot(0))
}
