package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/defistate/defistate-arb/bus"
	"github.com/defistate/defistate-arb/bus/redismirror"
	"github.com/defistate/defistate-arb/chains/ethereum"
	"github.com/defistate/defistate-arb/chains/ethereum/grapher"
	"github.com/defistate/defistate-arb/config"
	"github.com/defistate/defistate-arb/differ"
	"github.com/defistate/defistate-arb/encoder"
	"github.com/defistate/defistate-arb/patcher"
	"github.com/defistate/defistate-arb/pathfinder"
	"github.com/defistate/defistate-arb/pipeline"
	"github.com/defistate/defistate-arb/relay"
	"github.com/defistate/defistate-arb/signer"
	"github.com/defistate/defistate-arb/simulator"
	"github.com/defistate/defistate-arb/streams/jsonrpc/client"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

const (
	DefaultHeadBufferSize = 16
	shutdownGrace         = 5 * time.Second
)

func main() {
	configPath := flag.String("config", "config.toml", "Path to the configuration file.")
	flag.Parse()

	// create the log handler
	bootLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLogger.Error("Failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		bootLogger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	rootLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))

	// Create a context that cancels when the OS sends an interrupt (Ctrl+C) or termination signal.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, rootLogger); err != nil {
		rootLogger.Error("Daemon stopped with error", "error", err)
		os.Exit(1)
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if cfg.Executor.SignerKey == "" {
		return errors.New("executor: signer_key is required")
	}
	chainID := big.NewInt(cfg.ChainID)
	s, err := signer.New(cfg.Executor.SignerKey, chainID)
	if err != nil {
		return err
	}

	node, err := ethereum.Dial(ctx, cfg.Node.RPCURL, logger.With("component", "node"),
		prometheus.WrapRegistererWith(prometheus.Labels{"node": "main"}, registry))
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
	base := graph.Base()
	amountIn, err := base.ParseUnits(cfg.Simulator.AmountIn)
	if err != nil {
		return fmt.Errorf("simulator: amount_in: %w", err)
	}
	minProfit, err := base.ParseUnits(cfg.Simulator.MinProfit)
	if err != nil {
		return fmt.Errorf("simulator: min_profit: %w", err)
	}

	var executor simulator.Executor = simulator.NativeExecutor{}
	if cfg.Simulator.Executor == "helper" {
		executor = &simulator.HelperExecutor{
			Caller: node.Geth(),
			Helper: common.HexToAddress(cfg.Simulator.HelperAddress),
			Code:   common.FromHex(cfg.Simulator.HelperCode),
		}
	}
	sim, err := simulator.New(&simulator.Config{
		Executor:    executor,
		Timeout:     cfg.SimTimeout(),
		Concurrency: cfg.Simulator.Concurrency,
		Registry:    registry,
		Logger:      logger.With("component", "simulator"),
	})
	if err != nil {
		return err
	}

	owner := s.Address()
	if cfg.Executor.Owner != "" {
		owner = common.HexToAddress(cfg.Executor.Owner)
	}
	composer, err := pipeline.NewComposer(&pipeline.ComposerConfig{
		Encoder:     encoder.New(common.HexToAddress(cfg.Executor.Aggregator), owner),
		Signer:      s,
		Nonces:      node,
		PriorityFee: decimal.NewFromFloat(cfg.Executor.PriorityFeeGwei).Shift(9).BigInt(),
		GasLimit:    cfg.Executor.GasLimit,
	})
	if err != nil {
		return err
	}

	endpoints, err := relay.SelectEndpoints(relay.MainnetEndpoints, cfg.Relay.Endpoints)
	if err != nil {
		return err
	}
	relays, err := relay.NewRelays(endpoints, s, nil)
	if err != nil {
		return err
	}
	broadcaster, err := relay.NewBroadcaster(&relay.BroadcasterConfig{
		Relays:   relays,
		Timeout:  cfg.BroadcastTimeout(),
		Registry: registry,
		Logger:   logger.With("component", "broadcaster"),
	})
	if err != nil {
		return err
	}
	var bundleSim pipeline.BundleSimulator
	if cfg.Relay.SimulationURL != "" {
		fr, err := relay.NewFlashbotsRelay(&relay.FlashbotsConfig{Name: "simulation", URL: cfg.Relay.SimulationURL, Signer: s})
		if err != nil {
			return err
		}
		bundleSim = fr
	}

	stateDiffer, err := differ.NewStateDiffer(&differ.StateDifferConfig{
		Source:   node,
		Registry: registry,
		Logger:   logger.With("component", "differ"),
	})
	if err != nil {
		return err
	}
	statePatcher, err := patcher.NewStatePatcher(&patcher.StatePatcherConfig{
		Source: node,
		Logger: logger.With("component", "patcher"),
	})
	if err != nil {
		return err
	}

	stream, err := client.NewClient(ctx, client.Config{
		URL:        cfg.WSURL(),
		Logger:     logger.With("component", "jsonrpc-client"),
		BufferSize: DefaultHeadBufferSize,
		Pending:    true,
	})
	if err != nil {
		return err
	}

	b := bus.New()
	defer b.Close()
	sup := bus.NewSupervisor(logger.With("component", "supervisor"), b.Health)

	marketWorker, err := pipeline.NewMarketWorker(&pipeline.MarketWorkerConfig{
		Heads:   stream.Heads(),
		Graph:   graph,
		Differ:  stateDiffer,
		Patcher: statePatcher,
		Topic:   b.Market,
		Logger:  logger.With("component", "market"),
	})
	if err != nil {
		return err
	}
	searcher, err := pipeline.NewSearcher(&pipeline.SearcherConfig{
		Market:      b.Market,
		Compose:     b.Compose,
		Mempool:     b.Mempool,
		Finder:      pathfinder.New(graph, cfg.Market.MaxHops),
		Sim:         sim,
		Composer:    composer,
		ChainID:     chainID,
		From:        owner,
		AmountIn:    amountIn,
		MinProfit:   minProfit,
		SolveRounds: cfg.Simulator.SolveRounds,
		Logger:      logger.With("component", "searcher"),
	})
	if err != nil {
		return err
	}
	broadcastWorker, err := pipeline.NewBroadcastWorker(&pipeline.BroadcastWorkerConfig{
		Compose:     b.Compose,
		Results:     b.Results,
		Broadcaster: broadcaster,
		Simulator:   bundleSim,
		Logger:      logger.With("component", "broadcast"),
	})
	if err != nil {
		return err
	}
	mempoolWorker, err := pipeline.NewMempoolWorker(&pipeline.MempoolWorkerConfig{
		Pending: stream.Pending(),
		Txs:     node,
		Graph:   graph,
		Topic:   b.Mempool,
		Logger:  logger.With("component", "mempool"),
	})
	if err != nil {
		return err
	}

	sup.Go("market", marketWorker)
	sup.Go("searcher", searcher)
	sup.Go("broadcast", broadcastWorker)
	sup.Go("mempool", mempoolWorker)
	sup.Go("stream", bus.WorkerFunc(func(ctx context.Context) error {
		select {
		case err, ok := <-stream.Err():
			if ok {
				return err
			}
			return nil
		case <-ctx.Done():
			return nil
		}
	}))
	sup.Go("results", resultsLogger(b.Results, logger.With("component", "results")))
	sup.Go("metrics", metricsServer(cfg.Metrics.Addr, registry, logger.With("component", "metrics")))

	if cfg.Anvil.Enabled {
		fork, err := ethereum.Dial(ctx, cfg.Anvil.URL, logger.With("component", "anvil"),
			prometheus.WrapRegistererWith(prometheus.Labels{"node": "anvil"}, registry))
		if err != nil {
			return err
		}
		defer fork.Close()
		anvilWorker, err := pipeline.NewAnvilWorker(&pipeline.AnvilWorkerConfig{
			Compose: b.Compose,
			Node:    fork,
			Logger:  logger.With("component", "anvil"),
		})
		if err != nil {
			return err
		}
		sup.Go("anvil", anvilWorker)
	}

	if cfg.Redis.Addr != "" {
		rdb, err := redismirror.Dial(ctx, redismirror.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return err
		}
		defer rdb.Close()
		mirrorLogger := logger.With("component", "redismirror")
		for _, topic := range cfg.Redis.Topics {
			var w bus.Worker
			switch topic {
			case "market":
				w = redismirror.New(b.Market, rdb, cfg.Redis.ChannelPrefix, mirrorLogger)
			case "mempool":
				w = redismirror.New(b.Mempool, rdb, cfg.Redis.ChannelPrefix, mirrorLogger)
			case "compose":
				w = redismirror.New(b.Compose, rdb, cfg.Redis.ChannelPrefix, mirrorLogger)
			case "health":
				w = redismirror.New(b.Health, rdb, cfg.Redis.ChannelPrefix, mirrorLogger)
			case "results":
				w = redismirror.New(b.Results, rdb, cfg.Redis.ChannelPrefix, mirrorLogger)
			}
			sup.Go("redismirror-"+topic, w)
		}
	}

	logger.Info("Daemon started",
		"chain_id", cfg.ChainID,
		"pools", len(graph.Pools()),
		"relays", len(relays),
		"max_hops", cfg.Market.MaxHops,
	)

	failed := 0
	for _, r := range sup.Run(ctx) {
		if r.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d workers failed", failed)
	}
	return nil
}

func resultsLogger(topic *bus.Topic[bus.BundleResult], logger *slog.Logger) bus.Worker {
	sub := topic.Subscribe("results-log", 64)
	return bus.WorkerFunc(func(ctx context.Context) error {
		defer sub.Unsubscribe()
		for {
			res, err := sub.Recv(ctx)
			if err != nil {
				return nil
			}
			logger.Info("Bundle result",
				"bundle", res.BundleID,
				"target_block", res.TargetBlock,
				"path", res.PathID,
				"success", res.Success,
				"outcomes", res.Outcomes,
				"elapsed_ms", res.Elapsed.Milliseconds(),
			)
		}
	})
}

func metricsServer(addr string, registry *prometheus.Registry, logger *slog.Logger) bus.Worker {
	return bus.WorkerFunc(func(ctx context.Context) error {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		errCh := make(chan error, 1)
		go func() {
			logger.Info("Serving metrics", "addr", addr)
			errCh <- srv.ListenAndServe()
		}()
		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		}
	})
}
