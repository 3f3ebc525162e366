// Package simulator prices swap paths against a branch of the state overlay.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/defistate/defistate-arb/engine"
	"github.com/defistate/defistate-arb/market"
	"github.com/defistate/defistate-arb/state"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultTimeout     = 200 * time.Millisecond
	DefaultConcurrency = 16
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type Config struct {
	Executor Executor
	// Timeout is the execution budget of one path. Zero uses DefaultTimeout.
	Timeout time.Duration
	// Concurrency bounds the paths simulated at once. Zero uses DefaultConcurrency.
	Concurrency int
	Registry    prometheus.Registerer
	Logger      Logger
}

func (c *Config) validate() error {
	if c.Executor == nil {
		return errors.New("config: Executor cannot be nil")
	}
	if c.Registry == nil {
		return errors.New("config: Registry cannot be nil")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	if c.Timeout < 0 || c.Concurrency < 0 {
		return errors.New("config: Timeout and Concurrency must not be negative")
	}
	return nil
}

type Simulator struct {
	executor    Executor
	timeout     time.Duration
	concurrency int
	metrics     *Metrics
	logger      Logger
}

func New(cfg *Config) (*Simulator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	s := &Simulator{
		executor:    cfg.Executor,
		timeout:     cfg.Timeout,
		concurrency: cfg.Concurrency,
		metrics:     NewMetrics(cfg.Registry),
		logger:      cfg.Logger,
	}
	if s.timeout == 0 {
		s.timeout = DefaultTimeout
	}
	if s.concurrency == 0 {
		s.concurrency = DefaultConcurrency
	}
	return s, nil
}

// CalculateWithInAmount runs path on a clone of o, threading each hop's
// output into the next. The caller's overlay is never written.
func (s *Simulator) CalculateWithInAmount(ctx context.Context, o *state.Overlay, env engine.Env, path market.SwapPath, amountIn *big.Int) (*big.Int, uint64, error) {
	amounts, gas, err := s.simulate(ctx, o, env, path, amountIn)
	if err != nil {
		return nil, 0, err
	}
	return amounts[len(amounts)-1], gas, nil
}

// simulate returns the output of every hop in order.
func (s *Simulator) simulate(ctx context.Context, o *state.Overlay, env engine.Env, path market.SwapPath, amountIn *big.Int) ([]*big.Int, uint64, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, 0, market.ErrInvalidAmount
	}
	if path.Len() == 0 {
		return nil, 0, errors.New("empty swap path")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	branch := o.Clone()
	amounts := make([]*big.Int, 0, path.Len())
	amount := amountIn
	var gas uint64
	for i, hop := range path.Hops {
		out, used, err := s.executor.Execute(ctx, branch, env, hop, amount)
		if err != nil {
			return nil, 0, classify(ctx, i, hop, err)
		}
		if out == nil || out.Sign() <= 0 {
			return nil, 0, &SimError{Kind: KindInsufficientLiquidity, Hop: i, Pool: hop.Pool.Address(), Reason: "zero output"}
		}
		if ctx.Err() != nil {
			return nil, 0, classify(ctx, i, hop, ctx.Err())
		}
		amounts = append(amounts, out)
		amount = out
		gas += used
	}
	return amounts, gas, nil
}

func classify(ctx context.Context, i int, hop market.Hop, err error) error {
	var se *SimError
	if errors.As(err, &se) {
		cp := *se
		cp.Hop = i
		cp.Pool = hop.Pool.Address()
		return &cp
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &SimError{Kind: KindTimeout, Hop: i, Pool: hop.Pool.Address(), Err: err}
	case errors.Is(err, market.ErrInsufficientLiquidity):
		return &SimError{Kind: KindInsufficientLiquidity, Hop: i, Pool: hop.Pool.Address(), Err: err}
	}
	return fmt.Errorf("hop %d (%s): %w", i, hop.Pool.Address().Hex(), err)
}

// Evaluate simulates every path concurrently and returns one line per path,
// in input order. A failing path is recorded on its line and never stops
// the others.
func (s *Simulator) Evaluate(ctx context.Context, o *state.Overlay, env engine.Env, paths []market.SwapPath, amountIn *big.Int) []SwapLine {
	lines := make([]SwapLine, len(paths))
	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)
	for i, p := range paths {
		lines[i] = NewSwapLine(p, amountIn)
		g.Go(func() error {
			s.fill(ctx, o, env, &lines[i])
			return nil
		})
	}
	_ = g.Wait()
	return lines
}

func (s *Simulator) fill(ctx context.Context, o *state.Overlay, env engine.Env, line *SwapLine) {
	s.metrics.inFlight.Inc()
	defer s.metrics.inFlight.Dec()

	start := time.Now()
	amounts, gas, err := s.simulate(ctx, o, env, line.Path, line.AmountIn)
	if err == nil {
		line.HopAmounts = amounts
		line.AmountOut = amounts[len(amounts)-1]
		line.GasUsed = gas
	}
	line.Err = err

	label := outcome(err)
	s.metrics.pathDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	s.metrics.pathOutcomes.WithLabelValues(label).Inc()
	if err != nil {
		s.logger.Debug("Path simulation failed", "path", line.Path.ID(), "error", err)
	}
}

// Solve searches [lo, hi] for the input amount that maximizes profit on a
// cyclic path, using a ternary search over integer amounts. It returns the
// best line seen; the line carries the error of the last failure when no
// amount simulated successfully.
func (s *Simulator) Solve(ctx context.Context, o *state.Overlay, env engine.Env, path market.SwapPath, lo, hi *big.Int, rounds int) SwapLine {
	best := NewSwapLine(path, lo)
	if path.Len() == 0 || path.Start().Address != path.End().Address {
		best.Err = errors.New("solve needs a cyclic path")
		return best
	}
	eval := func(amount *big.Int) *big.Int {
		line := NewSwapLine(path, amount)
		s.fill(ctx, o, env, &line)
		if line.Err != nil {
			if best.AmountOut == nil {
				best.Err = line.Err
			}
			return nil
		}
		if best.AmountOut == nil || line.Profit().Cmp(best.Profit()) > 0 {
			best = line
		}
		return line.Profit()
	}

	a, b := new(big.Int).Set(lo), new(big.Int).Set(hi)
	three := big.NewInt(3)
	for r := 0; r < rounds && new(big.Int).Sub(b, a).Cmp(three) > 0; r++ {
		third := new(big.Int).Sub(b, a)
		third.Quo(third, three)
		m1 := new(big.Int).Add(a, third)
		m2 := new(big.Int).Sub(b, third)
		p1, p2 := eval(m1), eval(m2)
		switch {
		case p1 == nil && p2 == nil:
			b = m1
		case p2 == nil || (p1 != nil && p1.Cmp(p2) >= 0):
			b = m2
		default:
			a = m1
		}
	}
	eval(a)
	return best
}
