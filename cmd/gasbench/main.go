package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/defistate/defistate-arb/benchmark"
	"github.com/defistate/defistate-arb/chains/ethereum"
	"github.com/defistate/defistate-arb/chains/ethereum/grapher"
	"github.com/defistate/defistate-arb/config"
	"github.com/defistate/defistate-arb/encoder"
	"github.com/defistate/defistate-arb/engine"
	"github.com/defistate/defistate-arb/simulator"
	"github.com/defistate/defistate-arb/state"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
)

type mode int

const (
	modeSave mode = iota
	modeAnvil
	modeCompare
)

// defaultOperator sends the estimated calls when no owner is configured.
var defaultOperator = common.BytesToAddress(bytes.Repeat([]byte{0x12}, common.AddressLength))

func main() {
	configPath := flag.String("config", "config.toml", "Path to the configuration file.")
	file := flag.String("file", "", "Benchmark artifact to write or compare against, or the Solidity fixture in -anvil mode.")
	save := flag.Bool("save", false, "Save the measured gas to -file.")
	anvil := flag.Bool("anvil", false, "Write a Foundry replay test for the measured calldata to -file.")
	compare := flag.Bool("compare", false, "Compare the measured gas against the artifact in -file.")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	m, err := parseMode(*save, *anvil, *compare)
	if err != nil {
		logger.Error("Invalid flags", "error", err)
		flag.Usage()
		os.Exit(2)
	}
	if *file == "" {
		logger.Error("Invalid flags", "error", "-file is required")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("Failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}
	if cfg.Market.BenchPool == "" {
		logger.Error("Invalid configuration", "error", "market: bench_pool is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, m, *file, logger); err != nil {
		logger.Error("Benchmark failed", "error", err)
		os.Exit(1)
	}
}

func parseMode(save, anvil, compare bool) (mode, error) {
	n := 0
	m := modeSave
	if save {
		n++
	}
	if anvil {
		n++
		m = modeAnvil
	}
	if compare {
		n++
		m = modeCompare
	}
	if n != 1 {
		return 0, errors.New("exactly one of -save, -anvil or -compare is required")
	}
	return m, nil
}

func run(ctx context.Context, cfg *config.Config, m mode, file string, logger *slog.Logger) error {
	registry := prometheus.NewRegistry()

	node, err := ethereum.Dial(ctx, cfg.Node.RPCURL, logger.With("component", "node"), registry)
	if err != nil {
		return err
	}
	defer node.Close()

	gr, err := grapher.NewGrapher(logger.With("component", "grapher"))
	if err != nil {
		return err
	}
	graph, err := gr.Graph(cfg.Market)
	if err != nil {
		return err
	}

	operator := defaultOperator
	if cfg.Executor.Owner != "" {
		operator = common.HexToAddress(cfg.Executor.Owner)
	}
	aggregator := common.HexToAddress(cfg.Executor.Aggregator)

	sim, err := simulator.New(&simulator.Config{
		Executor:    simulator.NativeExecutor{},
		Timeout:     cfg.SimTimeout(),
		Concurrency: cfg.Simulator.Concurrency,
		Registry:    registry,
		Logger:      logger.With("component", "simulator"),
	})
	if err != nil {
		return err
	}
	runner, err := benchmark.NewRunner(&benchmark.RunnerConfig{
		Graph:     graph,
		Pool:      common.HexToAddress(cfg.Market.BenchPool),
		MaxHops:   cfg.Market.MaxHops,
		Simulator: sim,
		Encoder:   encoder.New(aggregator, operator),
		Estimator: node,
		From:      operator,
		Logger:    logger.With("component", "benchmark"),
	})
	if err != nil {
		return err
	}

	header, err := node.HeaderByNumber(ctx, nil)
	if err != nil {
		return fmt.Errorf("latest header: %w", err)
	}
	logger.Info("Benchmarking at block", "block", header.Number, "pool", cfg.Market.BenchPool)

	overlay := state.New(state.NewBase(node, header.Number))
	env := engine.NextEnv(big.NewInt(cfg.ChainID), engine.SummaryFromHeader(header, time.Now().UnixNano()), operator)

	ms, err := runner.Measure(ctx, overlay, env)
	if err != nil {
		return err
	}
	current := benchmark.FromMeasurements(ms)

	switch m {
	case modeSave:
		if err := benchmark.Save(file, current); err != nil {
			return err
		}
		logger.Info("Benchmark saved", "file", file, "paths", len(current))
	case modeAnvil:
		f, err := os.Create(file)
		if err != nil {
			return err
		}
		if err := benchmark.WriteFixture(f, aggregator, benchmark.Fixture(ms)); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		logger.Info("Replay fixture written", "file", file, "paths", len(ms))
	case modeCompare:
		stored, err := benchmark.Load(file)
		if err != nil {
			return err
		}
		return benchmark.Render(os.Stdout, benchmark.Compare(current, stored))
	}
	return nil
}
