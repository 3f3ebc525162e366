package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads the TOML file at path over Defaults, then applies ARB_*
// environment overrides, reading a .env file first when one exists. The
// result is not validated; call Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// A missing .env file is not an error.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.LogLevel, "ARB_LOG_LEVEL")
	setInt64(&cfg.ChainID, "ARB_CHAIN_ID")

	setStr(&cfg.Node.RPCURL, "ARB_RPC_URL")
	setStr(&cfg.Node.WSURL, "ARB_WS_URL")

	setStr(&cfg.Market.BaseToken, "ARB_BASE_TOKEN")
	setInt(&cfg.Market.MaxHops, "ARB_MAX_HOPS")
	setStr(&cfg.Market.BenchPool, "ARB_BENCH_POOL")

	setDuration(&cfg.Simulator.Timeout, "ARB_SIM_TIMEOUT")
	setInt(&cfg.Simulator.Concurrency, "ARB_SIM_CONCURRENCY")
	setStr(&cfg.Simulator.Executor, "ARB_SIM_EXECUTOR")
	setStr(&cfg.Simulator.AmountIn, "ARB_AMOUNT_IN")
	setStr(&cfg.Simulator.MinProfit, "ARB_MIN_PROFIT")

	setStr(&cfg.Executor.SignerKey, "ARB_SIGNER_KEY")
	setStr(&cfg.Executor.Aggregator, "ARB_AGGREGATOR")
	setStr(&cfg.Executor.Owner, "ARB_OWNER")

	setDuration(&cfg.Relay.Timeout, "ARB_BROADCAST_TIMEOUT")
	setStr(&cfg.Relay.SimulationURL, "ARB_SIMULATION_URL")

	setStr(&cfg.Redis.Addr, "ARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARB_REDIS_DB")

	setStr(&cfg.Metrics.Addr, "ARB_METRICS_ADDR")

	setBool(&cfg.Anvil.Enabled, "ARB_ANVIL_ENABLED")
	setStr(&cfg.Anvil.URL, "ARB_ANVIL_URL")
}

// Each setter only touches dst when the variable is set and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
