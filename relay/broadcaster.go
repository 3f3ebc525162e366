package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/defistate/defistate-arb/engine"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultTimeout         = 2 * time.Second
	DefaultDispatchTimeout = 10 * time.Second
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type BroadcasterConfig struct {
	Relays []Relay
	// Timeout bounds how long Broadcast waits for answers. Zero uses DefaultTimeout.
	Timeout time.Duration
	// DispatchTimeout bounds a single detached dispatch. Zero uses DefaultDispatchTimeout.
	DispatchTimeout time.Duration
	Registry        prometheus.Registerer
	Logger          Logger
}

func (c *BroadcasterConfig) validate() error {
	if len(c.Relays) == 0 {
		return errors.New("config: Relays cannot be empty")
	}
	seen := make(map[string]bool, len(c.Relays))
	for _, r := range c.Relays {
		if r == nil {
			return errors.New("config: Relays cannot contain nil")
		}
		if seen[r.Name()] {
			return fmt.Errorf("config: duplicate relay name %q", r.Name())
		}
		seen[r.Name()] = true
	}
	if c.Registry == nil {
		return errors.New("config: Registry cannot be nil")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	if c.Timeout < 0 || c.DispatchTimeout < 0 {
		return errors.New("config: timeouts must not be negative")
	}
	return nil
}

// Broadcaster sends each bundle to every relay at once.
type Broadcaster struct {
	relays          []Relay
	timeout         time.Duration
	dispatchTimeout time.Duration
	metrics         *Metrics
	logger          Logger
}

func NewBroadcaster(cfg *BroadcasterConfig) (*Broadcaster, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	b := &Broadcaster{
		relays:          append([]Relay(nil), cfg.Relays...),
		timeout:         cfg.Timeout,
		dispatchTimeout: cfg.DispatchTimeout,
		metrics:         NewMetrics(cfg.Registry),
		logger:          cfg.Logger,
	}
	if b.timeout == 0 {
		b.timeout = DefaultTimeout
	}
	if b.dispatchTimeout == 0 {
		b.dispatchTimeout = DefaultDispatchTimeout
	}
	return b, nil
}

// Relays returns the relay names in dispatch order.
func (b *Broadcaster) Relays() []string {
	out := make([]string, len(b.relays))
	for i, r := range b.relays {
		out[i] = r.Name()
	}
	return out
}

type indexedResult struct {
	idx int
	res Result
}

// Broadcast dispatches bundle to every relay concurrently and returns once all
// have answered, the broadcast timeout fires or ctx ends. Dispatches still in
// flight at that point keep running detached from ctx and are reported as TimedOut.
func (b *Broadcaster) Broadcast(ctx context.Context, bundle *engine.Bundle) Report {
	start := time.Now()
	report := Report{
		BundleID:    bundle.ID,
		TargetBlock: bundle.TargetBlock,
		Results:     make([]Result, len(b.relays)),
	}
	for i, r := range b.relays {
		report.Results[i] = Result{Relay: r.Name(), Outcome: TimedOut, Err: context.DeadlineExceeded}
	}

	// Buffered so a dispatch finishing after Broadcast returned never blocks.
	results := make(chan indexedResult, len(b.relays))
	detached := context.WithoutCancel(ctx)
	for i, r := range b.relays {
		go b.dispatch(detached, i, r, bundle, results)
	}

	wait, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	pending := len(b.relays)
	for pending > 0 {
		select {
		case ir := <-results:
			report.Results[ir.idx] = ir.res
			pending--
		case <-wait.Done():
			pending = 0
		}
	}
	report.Elapsed = time.Since(start)

	b.metrics.observeBroadcast(report)
	b.logger.Info("Bundle broadcast",
		"bundle", bundle.ID.String(),
		"target_block", bundle.TargetBlock,
		"accepted", report.Count(Accepted),
		"rejected", report.Count(Rejected),
		"failed", report.Count(Failed),
		"timed_out", report.Count(TimedOut),
		"elapsed", report.Elapsed,
	)
	return report
}

func (b *Broadcaster) dispatch(ctx context.Context, idx int, r Relay, bundle *engine.Bundle, out chan<- indexedResult) {
	ctx, cancel := context.WithTimeout(ctx, b.dispatchTimeout)
	defer cancel()

	start := time.Now()
	ack, err := r.SendBundle(ctx, bundle)
	res := Result{
		Relay:   r.Name(),
		Outcome: Classify(err),
		Ack:     ack,
		Err:     err,
		Elapsed: time.Since(start),
	}
	b.metrics.observeDispatch(res)
	if err != nil {
		b.logger.Debug("Relay dispatch failed", "relay", res.Relay, "outcome", res.Outcome.String(), "error", err)
	}
	out <- indexedResult{idx: idx, res: res}
}
