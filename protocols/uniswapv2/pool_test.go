package uniswapv2

import (
	"context"
	"math/big"
	"testing"

	"github.com/defistate/defistate-arb/market"
	"github.com/defistate/defistate-arb/protocols/uniswapv2/calculator"
	"github.com/defistate/defistate-arb/state"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	pairAddr = common.HexToAddress("0x0d4a11d5EEaaC28EC3F61d100daF4d40471f1852")
	weth     = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	usdt     = common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7")
)

func overlayWithReserves(r0, r1 *big.Int) *state.Overlay {
	o := state.New(state.NewBase(nil, nil))
	o.SetStorage(pairAddr, ReservesSlot, ReservesWord(r0, r1, 1700000000))
	return o
}

func TestPool_Quote(t *testing.T) {
	p := NewPool(pairAddr, weth, usdt, DefaultFeeBps)
	r0 := new(big.Int).Mul(big.NewInt(1000), big.NewInt(1e18))
	r1 := big.NewInt(2_000_000_000_000) // 2M USDT
	o := overlayWithReserves(r0, r1)

	amountIn := big.NewInt(1e18)
	out, err := p.Quote(context.Background(), o, weth, usdt, amountIn)
	require.NoError(t, err)

	expected, err := calculator.GetAmountOut(amountIn, r0, r1, DefaultFeeBps)
	require.NoError(t, err)
	assert.Equal(t, 0, expected.Cmp(out))

	back, err := p.Quote(context.Background(), o, usdt, weth, out)
	require.NoError(t, err)
	assert.True(t, back.Cmp(amountIn) < 0, "round trip must lose the fee")
}

func TestPool_QuoteErrors(t *testing.T) {
	p := NewPool(pairAddr, weth, usdt, DefaultFeeBps)
	o := overlayWithReserves(big.NewInt(0), big.NewInt(0))

	_, err := p.Quote(context.Background(), o, weth, usdt, big.NewInt(1))
	assert.ErrorIs(t, err, calculator.ErrInsufficientLiquidity)
	assert.ErrorIs(t, err, market.ErrInsufficientLiquidity)

	_, err = p.Quote(context.Background(), o, weth, common.HexToAddress("0x01"), big.NewInt(1))
	assert.ErrorIs(t, err, market.ErrTokenMismatch)

	_, err = p.Quote(context.Background(), o, weth, usdt, big.NewInt(0))
	assert.ErrorIs(t, err, market.ErrInvalidAmount)
}

func TestReservesWordLayout(t *testing.T) {
	w := ReservesWord(big.NewInt(5), big.NewInt(7), 9)
	p := NewPool(pairAddr, weth, usdt, DefaultFeeBps)
	o := state.New(state.NewBase(nil, nil))
	o.SetStorage(pairAddr, ReservesSlot, w)

	r0, r1, err := p.Reserves(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, int64(5), r0.Int64())
	assert.Equal(t, int64(7), r1.Int64())
	assert.Equal(t, int64(9), state.Field(w, 224, 32).Int64())
}

func TestPool_Directions(t *testing.T) {
	p := NewPool(pairAddr, weth, usdt, DefaultFeeBps)
	assert.Equal(t, []market.SwapDirection{
		{TokenIn: weth, TokenOut: usdt},
		{TokenIn: usdt, TokenOut: weth},
	}, p.SwapDirections())
	assert.Equal(t, market.ConstantProduct, p.Variant())
	assert.Equal(t, []common.Hash{ReservesSlot}, p.WatchedSlots())
}
