// Package grapher builds the market graph from the configured token and pool lists.
package grapher

import (
	"fmt"
	"math/big"

	"github.com/defistate/defistate-arb/chains"
	"github.com/defistate/defistate-arb/config"
	"github.com/defistate/defistate-arb/market"
	"github.com/defistate/defistate-arb/protocols/curve"
	"github.com/defistate/defistate-arb/protocols/uniswapv2"
	"github.com/defistate/defistate-arb/protocols/uniswapv3"
	"github.com/ethereum/go-ethereum/common"
)

// Grapher is the factory for Graph objects.
type Grapher struct {
	logger chains.Logger
}

func NewGrapher(logger chains.Logger) (*Grapher, error) {
	if logger == nil {
		return nil, fmt.Errorf("config: Logger cannot be nil")
	}
	return &Grapher{logger: logger}, nil
}

// Graph registers every configured token, then every pool. Pools whose
// constructor rejects their parameters fail the whole build.
func (g *Grapher) Graph(cfg config.MarketConfig) (*market.Graph, error) {
	baseAddr := common.HexToAddress(cfg.BaseToken)

	tokens := make(map[common.Address]market.Token, len(cfg.Tokens))
	ordered := make([]market.Token, 0, len(cfg.Tokens))
	for _, tc := range cfg.Tokens {
		t := market.Token{
			Address:  common.HexToAddress(tc.Address),
			Symbol:   tc.Symbol,
			Decimals: tc.Decimals,
			IsBase:   common.HexToAddress(tc.Address) == baseAddr,
		}
		tokens[t.Address] = t
		ordered = append(ordered, t)
	}
	base, ok := tokens[baseAddr]
	if !ok {
		return nil, fmt.Errorf("grapher: base token %s is not configured: %w", baseAddr.Hex(), market.ErrUnknownToken)
	}

	graph := market.NewGraph(base)
	if err := graph.RegisterTokens(ordered); err != nil {
		return nil, fmt.Errorf("grapher: %w", err)
	}

	pools := make([]market.Pool, 0, len(cfg.Pools))
	for i, pc := range cfg.Pools {
		p, err := buildPool(pc, tokens)
		if err != nil {
			return nil, fmt.Errorf("grapher: pools[%d]: %w", i, err)
		}
		pools = append(pools, p)
	}
	if err := graph.RegisterPools(pools); err != nil {
		return nil, fmt.Errorf("grapher: %w", err)
	}

	g.logger.Info("Market graph built", "base", base.Symbol, "tokens", len(ordered), "pools", len(pools))
	return graph, nil
}

func buildPool(pc config.PoolConfig, tokens map[common.Address]market.Token) (market.Pool, error) {
	variant, err := market.ParseVariant(pc.Variant)
	if err != nil {
		return nil, err
	}
	addr := common.HexToAddress(pc.Address)
	poolTokens := make([]common.Address, len(pc.Tokens))
	for i, t := range pc.Tokens {
		poolTokens[i] = common.HexToAddress(t)
		if _, ok := tokens[poolTokens[i]]; !ok {
			return nil, fmt.Errorf("%w: %s", market.ErrUnknownToken, t)
		}
	}

	switch variant {
	case market.ConstantProduct:
		if len(poolTokens) != 2 {
			return nil, fmt.Errorf("pool %s: constant-product pools have two tokens", addr.Hex())
		}
		fee := pc.FeeBps
		if fee == 0 {
			fee = uniswapv2.DefaultFeeBps
		}
		t0, t1 := sortPair(poolTokens[0], poolTokens[1])
		return uniswapv2.NewPool(addr, t0, t1, fee), nil

	case market.ConcentratedLiquidity:
		if len(poolTokens) != 2 {
			return nil, fmt.Errorf("pool %s: concentrated-liquidity pools have two tokens", addr.Hex())
		}
		t0, t1 := sortPair(poolTokens[0], poolTokens[1])
		p, err := uniswapv3.NewPool(addr, t0, t1, uint32(pc.Fee), pc.TickSpacing)
		if err != nil {
			return nil, err
		}
		return p, nil

	case market.StableSwap:
		coins := make([]curve.Coin, len(poolTokens))
		for i, t := range poolTokens {
			coins[i] = curve.Coin{Address: t, Decimals: tokens[t].Decimals}
		}
		p, err := curve.NewPool(addr, coins, new(big.Int).SetUint64(pc.Amp), new(big.Int).SetUint64(pc.Fee), pc.BalancesSlot)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, fmt.Errorf("pool %s: unsupported variant %s", addr.Hex(), variant)
}

// sortPair returns a and b in pair order.
func sortPair(a, b common.Address) (common.Address, common.Address) {
	if b.Cmp(a) < 0 {
		return b, a
	}
	return a, b
}
