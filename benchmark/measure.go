package benchmark

import (
	"context"
	"errors"
	"fmt"

	"github.com/defistate/defistate-arb/encoder"
	"github.com/defistate/defistate-arb/engine"
	"github.com/defistate/defistate-arb/market"
	"github.com/defistate/defistate-arb/pathfinder"
	"github.com/defistate/defistate-arb/simulator"
	"github.com/defistate/defistate-arb/state"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// GasEstimator prices a call against live chain state.
type GasEstimator interface {
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
}

type RunnerConfig struct {
	Graph *market.Graph
	// Pool seeds the path search; every path through it that starts at the base token is measured.
	Pool      common.Address
	MaxHops   int
	Simulator *simulator.Simulator
	Encoder   *encoder.Encoder
	Estimator GasEstimator
	// From is the operator the estimated calls are sent from.
	From   common.Address
	Logger Logger
}

func (c *RunnerConfig) validate() error {
	if c.Graph == nil {
		return errors.New("config: Graph cannot be nil")
	}
	if c.Simulator == nil {
		return errors.New("config: Simulator cannot be nil")
	}
	if c.Encoder == nil {
		return errors.New("config: Encoder cannot be nil")
	}
	if c.Estimator == nil {
		return errors.New("config: Estimator cannot be nil")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	return nil
}

// Runner measures the gas of every path through one pool.
type Runner struct {
	graph     *market.Graph
	pool      market.Pool
	finder    *pathfinder.Finder
	sim       *simulator.Simulator
	enc       *encoder.Encoder
	estimator GasEstimator
	from      common.Address
	logger    Logger
}

func NewRunner(cfg *RunnerConfig) (*Runner, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	pool, ok := cfg.Graph.Pool(cfg.Pool)
	if !ok {
		return nil, fmt.Errorf("benchmark: pool %s: %w", cfg.Pool.Hex(), market.ErrUnknownPool)
	}
	return &Runner{
		graph:     cfg.Graph,
		pool:      pool,
		finder:    pathfinder.New(cfg.Graph, cfg.MaxHops),
		sim:       cfg.Simulator,
		enc:       cfg.Encoder,
		estimator: cfg.Estimator,
		from:      cfg.From,
		logger:    cfg.Logger,
	}, nil
}

// Measure prices each path with one whole base token, encodes it and asks
// the estimator for its gas. Paths that fail to simulate or encode are
// skipped. A failed estimate is recorded as zero gas so the path still
// shows up in the artifact.
func (r *Runner) Measure(ctx context.Context, o *state.Overlay, env engine.Env) ([]Measurement, error) {
	seeds := map[common.Address][]market.SwapDirection{r.pool.Address(): r.pool.SwapDirections()}
	paths := r.finder.BuildSwapPaths(seeds)
	if len(paths) == 0 {
		return nil, fmt.Errorf("benchmark: no paths through %s", r.pool.Address().Hex())
	}

	base := r.graph.Base()
	amountIn := base.Unit()
	lines := r.sim.Evaluate(ctx, o, env, paths, amountIn)

	out := make([]Measurement, 0, len(lines))
	for _, line := range lines {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := line.Path.ID()
		if !line.Ok() {
			r.logger.Warn("Path simulation failed", "path", id, "error", line.Err)
			continue
		}
		r.logger.Info("Path simulated",
			"path", id,
			"gas", line.GasUsed,
			"amountIn", base.FormatUnits(line.AmountIn),
			"amountOut", base.FormatUnits(line.AmountOut),
		)

		to, payload, err := r.enc.Encode(line)
		if err != nil {
			r.logger.Warn("Path encoding failed", "path", id, "error", err)
			continue
		}
		gas, err := r.estimator.EstimateGas(ctx, ethereum.CallMsg{From: r.from, To: &to, Data: payload})
		if err != nil {
			r.logger.Error("Gas estimation failed", "path", id, "error", err)
			gas = 0
		}
		out = append(out, Measurement{Path: line.Path, Gas: gas, Calldata: payload})
	}
	return out, nil
}

// Fixture converts measurements into replay cases keyed by their artifact ids.
func Fixture(ms []Measurement) []FixtureCase {
	ids := IDs(ms)
	cases := make([]FixtureCase, len(ms))
	for i, m := range ms {
		cases[i] = FixtureCase{PathID: ids[i], Calldata: m.Calldata}
	}
	return cases
}
