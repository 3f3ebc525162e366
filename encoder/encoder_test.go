package encoder

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/defistate/defistate-arb/engine"
	"github.com/defistate/defistate-arb/market"
	"github.com/defistate/defistate-arb/protocols/curve"
	"github.com/defistate/defistate-arb/protocols/uniswapv2"
	"github.com/defistate/defistate-arb/protocols/uniswapv3"
	"github.com/defistate/defistate-arb/simulator"
	"github.com/defistate/defistate-arb/state"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	weth = market.Token{Address: common.HexToAddress("0x0000000000000000000000000000000000000001"), Symbol: "WETH", Decimals: 18}
	usdc = market.Token{Address: common.HexToAddress("0x0000000000000000000000000000000000000002"), Symbol: "USDC", Decimals: 18}
	dai  = market.Token{Address: common.HexToAddress("0x0000000000000000000000000000000000000003"), Symbol: "DAI", Decimals: 18}

	pool1 = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	pool2 = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	pool3 = common.HexToAddress("0x00000000000000000000000000000000000000a3")

	aggregator = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	owner      = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

// decoded is a call with its method resolved against every known ABI.
type decoded struct {
	target common.Address
	method string
	args   []any
}

func decode(t *testing.T, c Call) decoded {
	t.Helper()
	for _, a := range []abi.ABI{AggregatorABI, ERC20ABI, PairABI, CLPoolABI, StablePoolABI} {
		m, err := a.MethodById(c.Data[:4])
		if err != nil {
			continue
		}
		args, err := m.Inputs.Unpack(c.Data[4:])
		require.NoError(t, err)
		return decoded{target: c.Target, method: m.Name, args: args}
	}
	t.Fatalf("unknown selector %x", c.Data[:4])
	return decoded{}
}

func simulatedTriangle(t *testing.T) simulator.SwapLine {
	t.Helper()
	o := state.New(state.NewBase(nil, nil))
	p1 := uniswapv2.NewPool(pool1, weth.Address, usdc.Address, uniswapv2.DefaultFeeBps)
	p2 := uniswapv2.NewPool(pool2, usdc.Address, dai.Address, uniswapv2.DefaultFeeBps)
	p3 := uniswapv2.NewPool(pool3, dai.Address, weth.Address, uniswapv2.DefaultFeeBps)
	o.SetStorage(pool1, uniswapv2.ReservesSlot, uniswapv2.ReservesWord(ether(100), ether(200_000), 0))
	o.SetStorage(pool2, uniswapv2.ReservesSlot, uniswapv2.ReservesWord(ether(1_000_000), ether(1_100_000), 0))
	o.SetStorage(pool3, uniswapv2.ReservesSlot, uniswapv2.ReservesWord(ether(2_000_000), ether(1000), 0))

	path := market.SwapPath{Hops: []market.Hop{
		{Pool: p1, TokenIn: weth, TokenOut: usdc},
		{Pool: p2, TokenIn: usdc, TokenOut: dai},
		{Pool: p3, TokenIn: dai, TokenOut: weth},
	}}
	sim, err := simulator.New(&simulator.Config{
		Executor: simulator.NativeExecutor{},
		Registry: prometheus.NewRegistry(),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	lines := sim.Evaluate(context.Background(), o, engine.Env{}, []market.SwapPath{path}, ether(1))
	require.NoError(t, lines[0].Err)
	return lines[0]
}

func TestMakeCalls_ConstantProductChain(t *testing.T) {
	line := simulatedTriangle(t)
	calls, err := New(aggregator, owner).MakeCalls(line)
	require.NoError(t, err)
	require.Len(t, calls, 6)

	got := make([]decoded, len(calls))
	for i, c := range calls {
		got[i] = decode(t, c)
	}

	assert.Equal(t, "transferFrom", got[0].method)
	assert.Equal(t, weth.Address, got[0].target)
	assert.Equal(t, []any{owner, aggregator, ether(1)}, got[0].args)

	assert.Equal(t, "transfer", got[1].method)
	assert.Equal(t, []any{pool1, ether(1)}, got[1].args)

	// WETH is token0 of pool1, so the output is amount1Out, sent straight to pool2
	assert.Equal(t, "swap", got[2].method)
	assert.Equal(t, pool1, got[2].target)
	assert.Equal(t, "0", got[2].args[0].(*big.Int).String())
	assert.Equal(t, "1974316068794122597700", got[2].args[1].(*big.Int).String())
	assert.Equal(t, pool2, got[2].args[2])

	assert.Equal(t, pool3, got[3].args[2])
	assert.Equal(t, "2160978776888351113394", got[3].args[1].(*big.Int).String())

	// DAI is token0 of pool3, so WETH comes out as amount1Out to the aggregator
	assert.Equal(t, "1076088705958313884", got[4].args[1].(*big.Int).String())
	assert.Equal(t, aggregator, got[4].args[2])

	assert.Equal(t, "sweep", got[5].method)
	assert.Equal(t, aggregator, got[5].target)
	assert.Equal(t, []any{weth.Address, owner}, got[5].args)
}

func TestMakeCalls_MixedVariants(t *testing.T) {
	clPool, err := uniswapv3.NewPool(pool1, weth.Address, usdc.Address, 3000, 0)
	require.NoError(t, err)
	stable, err := curve.NewPool(pool2, []curve.Coin{{Address: usdc.Address, Decimals: 18}, {Address: dai.Address, Decimals: 18}}, big.NewInt(100), big.NewInt(4_000_000), 2)
	require.NoError(t, err)
	pair := uniswapv2.NewPool(pool3, dai.Address, weth.Address, uniswapv2.DefaultFeeBps)

	line := simulator.NewSwapLine(market.SwapPath{Hops: []market.Hop{
		{Pool: clPool, TokenIn: weth, TokenOut: usdc},
		{Pool: stable, TokenIn: usdc, TokenOut: dai},
		{Pool: pair, TokenIn: dai, TokenOut: weth},
	}}, ether(1))
	line.HopAmounts = []*big.Int{ether(2000), ether(1999), big.NewInt(1_010_000_000_000_000_000)}
	line.AmountOut = line.HopAmounts[2]

	calls, err := New(aggregator, owner).MakeCalls(line)
	require.NoError(t, err)

	var methods []string
	for _, c := range calls {
		methods = append(methods, decode(t, c).method)
	}
	assert.Equal(t, []string{"transferFrom", "swap", "approve", "exchange", "transfer", "swap", "sweep"}, methods)

	clSwap := decode(t, calls[1])
	assert.Equal(t, aggregator, clSwap.args[0])
	assert.Equal(t, true, clSwap.args[1])
	assert.Equal(t, ether(1).String(), clSwap.args[2].(*big.Int).String())
	assert.Equal(t, weth.Address.Bytes(), clSwap.args[4])

	exchange := decode(t, calls[3])
	assert.Equal(t, "0", exchange.args[0].(*big.Int).String())
	assert.Equal(t, "1", exchange.args[1].(*big.Int).String())
	assert.Equal(t, ether(1999).String(), exchange.args[3].(*big.Int).String())

	forward := decode(t, calls[4])
	assert.Equal(t, dai.Address, forward.target)
	assert.Equal(t, []any{pool3, ether(1999)}, forward.args)
}

type oddPool struct{ market.Pool }

func (oddPool) Variant() market.Variant { return market.Variant(99) }
func (oddPool) Address() common.Address { return pool1 }

func TestMakeCalls_Errors(t *testing.T) {
	enc := New(aggregator, owner)

	_, err := enc.MakeCalls(simulator.NewSwapLine(market.SwapPath{}, ether(1)))
	assert.ErrorIs(t, err, ErrNotSimulated)

	line := simulator.NewSwapLine(market.SwapPath{Hops: []market.Hop{{Pool: oddPool{}, TokenIn: weth, TokenOut: weth}}}, ether(1))
	line.HopAmounts = []*big.Int{ether(2)}
	line.AmountOut = ether(2)
	_, err = enc.MakeCalls(line)
	assert.ErrorIs(t, err, ErrUnsupportedVariant)
	var ee *EncodingError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 0, ee.Hop)
	assert.Equal(t, pool1, ee.Pool)

	_, _, err = enc.EncodeCalls(nil)
	assert.ErrorIs(t, err, ErrEmptyCalls)
	ee = nil
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, -1, ee.Hop)
	assert.Equal(t, "encode calls: no calls to encode", ee.Error())
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	line := simulatedTriangle(t)
	enc := New(aggregator, owner)
	calls, err := enc.MakeCalls(line)
	require.NoError(t, err)

	target, payload, err := enc.EncodeCalls(calls)
	require.NoError(t, err)
	assert.Equal(t, aggregator, target)
	assert.Equal(t, AggregatorABI.Methods["aggregate"].ID, payload[:4])

	back, err := DecodeCalls(payload)
	require.NoError(t, err)
	require.Len(t, back, len(calls))
	for i := range calls {
		assert.Equal(t, calls[i].Target, back[i].Target)
		assert.Equal(t, 0, calls[i].Value.Cmp(back[i].Value))
		assert.Equal(t, calls[i].Data, back[i].Data)
	}

	_, err = DecodeCalls([]byte{1, 2, 3, 4, 5})
	assert.ErrorIs(t, err, ErrBadPayload)
}
