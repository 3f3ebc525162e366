// Package differ detects which pools' watched storage changed between two blocks.
package differ

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/defistate/defistate-arb/market"
	"github.com/defistate/defistate-arb/state"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds the slot reads in flight during Fetch.
const DefaultConcurrency = 32

// --- Config and Main Struct ---

// StateDifferConfig holds the differ's dependencies.
type StateDifferConfig struct {
	Source state.Source
	// Concurrency bounds concurrent slot reads. Zero uses DefaultConcurrency.
	Concurrency int
	Registry    prometheus.Registerer
	Logger      Logger
}

// validate checks if the configuration is valid, ensuring required dependencies are present.
func (c *StateDifferConfig) validate() error {
	if c.Source == nil {
		return errors.New("config: Source cannot be nil")
	}
	if c.Registry == nil {
		return errors.New("config: Registry cannot be nil")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	if c.Concurrency < 0 {
		return errors.New("config: Concurrency must not be negative")
	}
	return nil
}

// StateDiffer reads pool snapshots and compares them.
type StateDiffer struct {
	source      state.Source
	concurrency int
	metrics     *Metrics
	logger      Logger
}

// NewStateDiffer constructs a new differ from a configuration, returning an error if the config is invalid.
func NewStateDiffer(cfg *StateDifferConfig) (*StateDiffer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	d := &StateDiffer{
		source:      cfg.Source,
		concurrency: cfg.Concurrency,
		metrics:     NewMetrics(cfg.Registry),
		logger:      cfg.Logger,
	}
	if d.concurrency == 0 {
		d.concurrency = DefaultConcurrency
	}
	return d, nil
}

// Fetch reads every watched slot of pools at block.
func (d *StateDiffer) Fetch(ctx context.Context, pools []market.Pool, block *big.Int) (*Snapshot, error) {
	timer := prometheus.NewTimer(d.metrics.fetchDuration)
	defer timer.ObserveDuration()

	snap := &Snapshot{
		Block: new(big.Int).Set(block),
		Pools: make(map[common.Address]PoolSlots, len(pools)),
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for _, p := range pools {
		slots := make(PoolSlots, len(p.WatchedSlots()))
		snap.Pools[p.Address()] = slots
		for _, slot := range p.WatchedSlots() {
			addr := p.Address()
			g.Go(func() error {
				v, err := d.source.StorageAt(gctx, addr, slot, block)
				if err != nil {
					return fmt.Errorf("differ: read %s slot %s at %s: %w", addr.Hex(), slot.Hex(), block, err)
				}
				mu.Lock()
				slots[slot] = v
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		d.metrics.fetchErrors.Inc()
		return nil, err
	}
	return snap, nil
}

// Diff compares two snapshots. A nil old snapshot reports every pool in
// next as added. Pools missing from next are ignored.
func (d *StateDiffer) Diff(old, next *Snapshot) (*StateDiff, error) {
	timer := prometheus.NewTimer(d.metrics.diffDuration)
	defer timer.ObserveDuration()

	if next == nil || next.Block == nil {
		return nil, errors.New("differ: next snapshot is nil")
	}
	diff := &StateDiff{
		Timestamp: uint64(time.Now().UnixNano()),
		ToBlock:   next.Block.Uint64(),
	}
	if old != nil {
		if old.Block.Cmp(next.Block) >= 0 {
			return nil, fmt.Errorf("differ: snapshot for block %s does not follow %s", next.Block, old.Block)
		}
		diff.FromBlock = old.Block.Uint64()
	}

	for addr, slots := range next.Pools {
		var prev PoolSlots
		if old != nil {
			prev = old.Pools[addr]
		}
		if prev == nil {
			diff.Pools = append(diff.Pools, PoolDiff{Pool: addr, Slots: copySlots(slots), Added: true})
			continue
		}
		changed := make(PoolSlots)
		for slot, v := range slots {
			if pv, ok := prev[slot]; !ok || pv != v {
				changed[slot] = v
			}
		}
		if len(changed) > 0 {
			diff.Pools = append(diff.Pools, PoolDiff{Pool: addr, Slots: changed})
		}
	}
	sortPoolDiffs(diff.Pools)

	d.metrics.changedPools.Observe(float64(len(diff.Pools)))
	d.logger.Debug("Diff computed", "from", diff.FromBlock, "to", diff.ToBlock, "changed", len(diff.Pools))
	return diff, nil
}

// Seeds turns the changed pools of diff into path-search seeds. Pools the
// graph no longer holds are skipped.
func Seeds(g *market.Graph, diff *StateDiff) map[common.Address][]market.SwapDirection {
	seeds := make(map[common.Address][]market.SwapDirection, len(diff.Pools))
	for _, p := range diff.Pools {
		pool, ok := g.Pool(p.Pool)
		if !ok {
			continue
		}
		seeds[p.Pool] = pool.SwapDirections()
	}
	return seeds
}

func copySlots(s PoolSlots) PoolSlots {
	out := make(PoolSlots, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
