package grapher

import (
	"io"
	"log/slog"
	"testing"

	"github.com/defistate/defistate-arb/config"
	"github.com/defistate/defistate-arb/market"
	"github.com/defistate/defistate-arb/protocols/uniswapv2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	weth = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
	usdc = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	usdt = "0xdAC17F958D2ee523a2206206994597C13D831ec7"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func marketConfig() config.MarketConfig {
	return config.MarketConfig{
		BaseToken: weth,
		MaxHops:   3,
		Tokens: []config.TokenConfig{
			{Address: weth, Symbol: "WETH", Decimals: 18},
			{Address: usdc, Symbol: "USDC", Decimals: 6},
			{Address: usdt, Symbol: "USDT", Decimals: 6},
		},
		Pools: []config.PoolConfig{
			// tokens listed out of pair order on purpose
			{Address: "0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc", Variant: "uniswapv2", Tokens: []string{weth, usdc}},
			{Address: "0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640", Variant: "uniswapv3", Tokens: []string{usdc, weth}, Fee: 500},
			{Address: "0xbEbc44782C7dB0a1A60Cb6fe97d0b483032FF1C7", Variant: "curve", Tokens: []string{usdc, usdt}, Amp: 2000, Fee: 1_000_000},
		},
	}
}

func TestGrapher_Graph(t *testing.T) {
	g, err := NewGrapher(discardLogger())
	require.NoError(t, err)

	graph, err := g.Graph(marketConfig())
	require.NoError(t, err)

	assert.Equal(t, common.HexToAddress(weth), graph.Base().Address)
	assert.True(t, graph.Base().IsBase)
	assert.Len(t, graph.Pools(), 3)
	assert.Len(t, graph.PoolsForToken(common.HexToAddress(weth)), 2)
	assert.Len(t, graph.PoolsForToken(common.HexToAddress(usdc)), 3)

	p, ok := graph.Pool(common.HexToAddress("0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc"))
	require.True(t, ok)
	v2 := p.(*uniswapv2.Pool)
	assert.Equal(t, common.HexToAddress(usdc), v2.Token0(), "tokens are put in pair order")
	assert.Equal(t, uniswapv2.DefaultFeeBps, v2.FeeBps())

	cl, ok := graph.Pool(common.HexToAddress("0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640"))
	require.True(t, ok)
	assert.Equal(t, market.ConcentratedLiquidity, cl.Variant())
}

func TestGrapher_Errors(t *testing.T) {
	g, err := NewGrapher(discardLogger())
	require.NoError(t, err)

	testCases := []struct {
		name   string
		mutate func(c *config.MarketConfig)
		target error
	}{
		{
			name:   "base token missing",
			mutate: func(c *config.MarketConfig) { c.BaseToken = "0x0000000000000000000000000000000000000001" },
			target: market.ErrUnknownToken,
		},
		{
			name:   "pool token missing",
			mutate: func(c *config.MarketConfig) { c.Pools[0].Tokens[1] = "0x0000000000000000000000000000000000000002" },
			target: market.ErrUnknownToken,
		},
		{
			name:   "duplicate pool",
			mutate: func(c *config.MarketConfig) { c.Pools = append(c.Pools, c.Pools[0]) },
			target: market.ErrDuplicatePool,
		},
		{
			name:   "bad variant",
			mutate: func(c *config.MarketConfig) { c.Pools[0].Variant = "balancer" },
		},
		{
			name:   "v3 fee without spacing",
			mutate: func(c *config.MarketConfig) { c.Pools[1].Fee = 1234 },
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := marketConfig()
			tc.mutate(&cfg)
			_, err := g.Graph(cfg)
			require.Error(t, err)
			if tc.target != nil {
				assert.ErrorIs(t, err, tc.target)
			}
		})
	}
}

func TestNewGrapher_NilLogger(t *testing.T) {
	_, err := NewGrapher(nil)
	assert.Error(t, err)
}
