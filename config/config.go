// Package config loads the daemon and benchmark configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the top-level configuration.
type Config struct {
	LogLevel  string          `toml:"log_level"`
	ChainID   int64           `toml:"chain_id"`
	Node      NodeConfig      `toml:"node"`
	Market    MarketConfig    `toml:"market"`
	Simulator SimulatorConfig `toml:"simulator"`
	Executor  ExecutorConfig  `toml:"executor"`
	Relay     RelayConfig     `toml:"relay"`
	Redis     RedisConfig     `toml:"redis"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Anvil     AnvilConfig     `toml:"anvil"`
}

// NodeConfig points at the chain node.
type NodeConfig struct {
	RPCURL string `toml:"rpc_url"`
	// WSURL is used for head and mempool subscriptions. Empty reuses RPCURL.
	WSURL string `toml:"ws_url"`
}

// TokenConfig registers one token.
type TokenConfig struct {
	Address  string `toml:"address"`
	Symbol   string `toml:"symbol"`
	Decimals uint8  `toml:"decimals"`
}

// PoolConfig registers one pool. Fields not used by the variant are ignored.
type PoolConfig struct {
	Address string   `toml:"address"`
	Variant string   `toml:"variant"`
	Tokens  []string `toml:"tokens"`
	// FeeBps is the constant-product fee in basis points.
	FeeBps uint16 `toml:"fee_bps"`
	// Fee is the concentrated-liquidity fee in pips, or the stable-swap fee in 1e-10 units.
	Fee         uint64 `toml:"fee"`
	TickSpacing int32  `toml:"tick_spacing"`
	Amp         uint64 `toml:"amp"`
	// BalancesSlot is the storage slot of the stable-swap balances array.
	BalancesSlot uint64 `toml:"balances_slot"`
}

// MarketConfig describes the tokens and pools the graph starts with.
type MarketConfig struct {
	BaseToken string        `toml:"base_token"`
	MaxHops   int           `toml:"max_hops"`
	Tokens    []TokenConfig `toml:"tokens"`
	Pools     []PoolConfig  `toml:"pools"`
	// BenchPool seeds the gas benchmark.
	BenchPool string `toml:"bench_pool"`
}

// SimulatorConfig bounds path simulation.
type SimulatorConfig struct {
	Timeout     duration `toml:"timeout"`
	Concurrency int      `toml:"concurrency"`
	// Executor is "native" or "helper".
	Executor      string `toml:"executor"`
	HelperAddress string `toml:"helper_address"`
	// HelperCode is the hex runtime code injected at HelperAddress when set.
	HelperCode string `toml:"helper_code"`
	// AmountIn is the base-token amount every path is priced with, in whole units.
	AmountIn string `toml:"amount_in"`
	// MinProfit is the smallest base-token profit worth a bundle, in whole units.
	MinProfit string `toml:"min_profit"`
	// SolveRounds enables amount optimisation when positive.
	SolveRounds int `toml:"solve_rounds"`
}

// ExecutorConfig describes the on-chain side of a bundle.
type ExecutorConfig struct {
	SignerKey       string  `toml:"signer_key"`
	Aggregator      string  `toml:"aggregator"`
	Owner           string  `toml:"owner"`
	PriorityFeeGwei float64 `toml:"priority_fee_gwei"`
	GasLimit        uint64  `toml:"gas_limit"`
}

// RelayConfig selects the builders bundles are raced to.
type RelayConfig struct {
	Timeout duration `toml:"timeout"`
	// Endpoints restricts the mainnet builder list by name. Empty uses all of them.
	Endpoints []string `toml:"endpoints"`
	// SimulationURL, when set, runs eth_callBundle there before broadcasting.
	SimulationURL string `toml:"simulation_url"`
}

// RedisConfig enables the bus mirror when Addr is set.
type RedisConfig struct {
	Addr          string   `toml:"addr"`
	Password      string   `toml:"password"`
	DB            int      `toml:"db"`
	TLSEnabled    bool     `toml:"tls_enabled"`
	ChannelPrefix string   `toml:"channel_prefix"`
	Topics        []string `toml:"topics"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `toml:"addr"`
}

// AnvilConfig enables replay of composed bundles on a fork node.
type AnvilConfig struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`
}

// duration wraps time.Duration so TOML strings like "200ms" decode.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the configuration every file is merged on top of.
func Defaults() Config {
	return Config{
		LogLevel: "info",
		ChainID:  1,
		Market: MarketConfig{
			MaxHops: 3,
		},
		Simulator: SimulatorConfig{
			Timeout:     duration{200 * time.Millisecond},
			Concurrency: 16,
			Executor:    "native",
			AmountIn:    "1",
			MinProfit:   "0",
		},
		Executor: ExecutorConfig{
			PriorityFeeGwei: 1,
			GasLimit:        1_000_000,
		},
		Relay: RelayConfig{
			Timeout: duration{2 * time.Second},
		},
		Redis: RedisConfig{
			ChannelPrefix: "arb:",
			Topics:        []string{"compose", "health", "results"},
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
	}
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

var validExecutors = map[string]bool{"native": true, "helper": true}

var validVariants = map[string]bool{
	"constant-product": true, "uniswapv2": true,
	"concentrated-liquidity": true, "uniswapv3": true,
	"stable-swap": true, "curve": true,
}

var validTopics = map[string]bool{"market": true, "mempool": true, "compose": true, "health": true, "results": true}

// Validate reports every problem found, not just the first.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if c.ChainID <= 0 {
		errs = append(errs, "chain_id must be positive")
	}
	if c.Node.RPCURL == "" {
		errs = append(errs, "node: rpc_url must not be empty")
	}

	// Market
	if !common.IsHexAddress(c.Market.BaseToken) {
		errs = append(errs, fmt.Sprintf("market: base_token %q is not an address", c.Market.BaseToken))
	}
	if c.Market.MaxHops < 1 {
		errs = append(errs, "market: max_hops must be >= 1")
	}
	tokens := make(map[common.Address]bool, len(c.Market.Tokens))
	for i, t := range c.Market.Tokens {
		if !common.IsHexAddress(t.Address) {
			errs = append(errs, fmt.Sprintf("market: tokens[%d]: address %q is invalid", i, t.Address))
			continue
		}
		if t.Symbol == "" {
			errs = append(errs, fmt.Sprintf("market: tokens[%d]: symbol must not be empty", i))
		}
		tokens[common.HexToAddress(t.Address)] = true
	}
	if common.IsHexAddress(c.Market.BaseToken) && !tokens[common.HexToAddress(c.Market.BaseToken)] {
		errs = append(errs, "market: base_token must be listed in tokens")
	}
	for i, p := range c.Market.Pools {
		if !common.IsHexAddress(p.Address) {
			errs = append(errs, fmt.Sprintf("market: pools[%d]: address %q is invalid", i, p.Address))
		}
		if !validVariants[p.Variant] {
			errs = append(errs, fmt.Sprintf("market: pools[%d]: unknown variant %q", i, p.Variant))
		}
		if len(p.Tokens) < 2 {
			errs = append(errs, fmt.Sprintf("market: pools[%d]: needs at least two tokens", i))
		}
		for _, t := range p.Tokens {
			if !common.IsHexAddress(t) || !tokens[common.HexToAddress(t)] {
				errs = append(errs, fmt.Sprintf("market: pools[%d]: token %s is not registered", i, t))
			}
		}
	}
	if c.Market.BenchPool != "" && !common.IsHexAddress(c.Market.BenchPool) {
		errs = append(errs, fmt.Sprintf("market: bench_pool %q is not an address", c.Market.BenchPool))
	}

	// Simulator
	if c.Simulator.Timeout.Duration <= 0 {
		errs = append(errs, "simulator: timeout must be > 0")
	}
	if c.Simulator.Concurrency < 1 {
		errs = append(errs, "simulator: concurrency must be >= 1")
	}
	if !validExecutors[c.Simulator.Executor] {
		errs = append(errs, fmt.Sprintf("simulator: unknown executor %q (valid: native, helper)", c.Simulator.Executor))
	}
	if c.Simulator.Executor == "helper" && !common.IsHexAddress(c.Simulator.HelperAddress) {
		errs = append(errs, "simulator: helper_address is required for the helper executor")
	}
	if c.Simulator.SolveRounds < 0 {
		errs = append(errs, "simulator: solve_rounds must be >= 0")
	}

	// Executor
	if c.Executor.Aggregator != "" && !common.IsHexAddress(c.Executor.Aggregator) {
		errs = append(errs, fmt.Sprintf("executor: aggregator %q is not an address", c.Executor.Aggregator))
	}
	if c.Executor.Owner != "" && !common.IsHexAddress(c.Executor.Owner) {
		errs = append(errs, fmt.Sprintf("executor: owner %q is not an address", c.Executor.Owner))
	}
	if c.Executor.PriorityFeeGwei < 0 {
		errs = append(errs, "executor: priority_fee_gwei must be >= 0")
	}

	// Relay
	if c.Relay.Timeout.Duration <= 0 {
		errs = append(errs, "relay: timeout must be > 0")
	}

	// Redis
	for _, t := range c.Redis.Topics {
		if !validTopics[t] {
			errs = append(errs, fmt.Sprintf("redis: unknown topic %q", t))
		}
	}

	if c.Anvil.Enabled && c.Anvil.URL == "" {
		errs = append(errs, "anvil: url is required when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// SimTimeout is the per-path execution budget.
func (c *Config) SimTimeout() time.Duration { return c.Simulator.Timeout.Duration }

// BroadcastTimeout bounds one broadcast.
func (c *Config) BroadcastTimeout() time.Duration { return c.Relay.Timeout.Duration }

// WSURL returns the subscription endpoint.
func (c *Config) WSURL() string {
	if c.Node.WSURL != "" {
		return c.Node.WSURL
	}
	return c.Node.RPCURL
}
