// Package pipeline holds the bus workers that connect the chain feed to the
// relays: market refresh, search, broadcast, mempool watch and fork replay.
package pipeline

import (
	"context"
	"errors"

	"github.com/defistate/defistate-arb/bus"
	"github.com/defistate/defistate-arb/differ"
	"github.com/defistate/defistate-arb/engine"
	"github.com/defistate/defistate-arb/market"
	"github.com/defistate/defistate-arb/patcher"
	"github.com/defistate/defistate-arb/state"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MarketWorkerConfig wires the block refresh cycle.
type MarketWorkerConfig struct {
	Heads   <-chan engine.BlockSummary
	Graph   *market.Graph
	Differ  *differ.StateDiffer
	Patcher *patcher.StatePatcher
	Topic   *bus.Topic[bus.MarketUpdate]
	Logger  Logger
}

func (c *MarketWorkerConfig) validate() error {
	switch {
	case c.Heads == nil:
		return errors.New("config: Heads cannot be nil")
	case c.Graph == nil:
		return errors.New("config: Graph cannot be nil")
	case c.Differ == nil:
		return errors.New("config: Differ cannot be nil")
	case c.Patcher == nil:
		return errors.New("config: Patcher cannot be nil")
	case c.Topic == nil:
		return errors.New("config: Topic cannot be nil")
	case c.Logger == nil:
		return errors.New("config: Logger cannot be nil")
	}
	return nil
}

// MarketWorker turns each new head into a fresh overlay and announces the
// pools whose watched state moved.
type MarketWorker struct {
	heads   <-chan engine.BlockSummary
	graph   *market.Graph
	differ  *differ.StateDiffer
	patcher *patcher.StatePatcher
	topic   *bus.Topic[bus.MarketUpdate]
	logger  Logger

	prevSnap *differ.Snapshot
	prevBase *state.Base
}

func NewMarketWorker(cfg *MarketWorkerConfig) (*MarketWorker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &MarketWorker{
		heads:   cfg.Heads,
		graph:   cfg.Graph,
		differ:  cfg.Differ,
		patcher: cfg.Patcher,
		topic:   cfg.Topic,
		logger:  cfg.Logger,
	}, nil
}

func (w *MarketWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case head, ok := <-w.heads:
			if !ok {
				w.logger.Info("Head feed closed")
				return nil
			}
			if _, err := w.Refresh(ctx, head); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				w.logger.Error("Market refresh failed", "block", head.Number, "error", err)
			}
		}
	}
}

// Refresh builds the overlay for head and publishes a MarketUpdate when any
// watched pool changed. It reports whether an update was published.
func (w *MarketWorker) Refresh(ctx context.Context, head engine.BlockSummary) (bool, error) {
	if w.prevSnap != nil && head.Number.Cmp(w.prevSnap.Block) <= 0 {
		w.logger.Warn("Head does not advance, rebuilding from scratch", "block", head.Number, "previous", w.prevSnap.Block)
		w.prevSnap, w.prevBase = nil, nil
	}

	snap, err := w.differ.Fetch(ctx, w.graph.Pools(), head.Number)
	if err != nil {
		return false, err
	}
	diff, err := w.differ.Diff(w.prevSnap, snap)
	if err != nil {
		return false, err
	}
	overlay, err := w.patcher.Patch(w.prevBase, diff, snap)
	if err != nil {
		return false, err
	}
	w.prevSnap, w.prevBase = snap, overlay.Base()

	if diff.Empty() {
		w.logger.Debug("No watched pool changed", "block", head.Number)
		return false, nil
	}
	seeds := differ.Seeds(w.graph, diff)
	n := w.topic.Publish(bus.MarketUpdate{Block: head, Seeds: seeds, Overlay: overlay})
	w.logger.Info("Market updated", "block", head.Number, "changed_pools", len(seeds), "subscribers", n)
	return true, nil
}
