package pipeline

import (
	"context"
	"errors"

	"github.com/defistate/defistate-arb/bus"
	"github.com/defistate/defistate-arb/engine"
	"github.com/defistate/defistate-arb/relay"
)

// Broadcaster races a bundle to every relay.
type Broadcaster interface {
	Broadcast(ctx context.Context, bundle *engine.Bundle) relay.Report
}

// BundleSimulator dry-runs a bundle before it is broadcast.
type BundleSimulator interface {
	SimulateBundle(ctx context.Context, bundle *engine.Bundle) (relay.Simulation, error)
}

type BroadcastWorkerConfig struct {
	Compose     *bus.Topic[bus.ComposeEvent]
	Results     *bus.Topic[bus.BundleResult]
	Broadcaster Broadcaster
	// Simulator is optional. A bundle it reports as reverting is dropped.
	Simulator BundleSimulator
	Logger    Logger
}

func (c *BroadcastWorkerConfig) validate() error {
	if c.Compose == nil || c.Results == nil {
		return errors.New("config: Compose and Results topics cannot be nil")
	}
	if c.Broadcaster == nil {
		return errors.New("config: Broadcaster cannot be nil")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	return nil
}

// BroadcastWorker sends every composed bundle to the relays and publishes
// the per-relay outcomes.
type BroadcastWorker struct {
	cfg BroadcastWorkerConfig
	sub *bus.Subscription[bus.ComposeEvent]
}

func NewBroadcastWorker(cfg *BroadcastWorkerConfig) (*BroadcastWorker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &BroadcastWorker{cfg: *cfg, sub: cfg.Compose.Subscribe("broadcaster", 16)}, nil
}

func (w *BroadcastWorker) Run(ctx context.Context) error {
	defer w.sub.Unsubscribe()
	for {
		ev, err := w.sub.Recv(ctx)
		if err != nil {
			if errors.Is(err, bus.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		// a broadcast already started finishes even during shutdown
		w.Handle(context.WithoutCancel(ctx), ev)
	}
}

// Handle simulates (when configured) and broadcasts one bundle. It reports
// whether the bundle was broadcast.
func (w *BroadcastWorker) Handle(ctx context.Context, ev bus.ComposeEvent) bool {
	logger := w.cfg.Logger
	if w.cfg.Simulator != nil {
		sim, err := w.cfg.Simulator.SimulateBundle(ctx, ev.Bundle)
		if err != nil {
			logger.Warn("Bundle simulation failed, dropping bundle", "bundle", ev.Bundle.ID, "path", ev.PathID, "error", err)
			return false
		}
		if sim.Reverted() {
			logger.Warn("Bundle reverts in simulation, dropping bundle", "bundle", ev.Bundle.ID, "path", ev.PathID)
			return false
		}
		logger.Debug("Bundle simulated", "bundle", ev.Bundle.ID, "coinbase_diff", sim.CoinbaseDiff, "gas", sim.TotalGasUsed)
	}

	report := w.cfg.Broadcaster.Broadcast(ctx, ev.Bundle)
	w.cfg.Results.Publish(bus.BundleResult{
		BundleID:    report.BundleID,
		TargetBlock: report.TargetBlock,
		PathID:      ev.PathID,
		Success:     report.Success(),
		Outcomes:    report.Outcomes(),
		Elapsed:     report.Elapsed,
	})
	return true
}
