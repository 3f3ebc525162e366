// Package patcher builds each block's state overlay from the watched pool
// state the differ already read.
package patcher

import (
	"errors"
	"fmt"

	"github.com/defistate/defistate-arb/differ"
	"github.com/defistate/defistate-arb/state"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// --- Config and Main Struct ---

type StatePatcherConfig struct {
	// Source backs every key the snapshot does not cover.
	Source state.Source
	Logger Logger
}

func (c *StatePatcherConfig) validate() error {
	if c.Source == nil {
		return errors.New("config: Source cannot be nil")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	return nil
}

// StatePatcher turns a snapshot and its diff into the overlay for the new block.
type StatePatcher struct {
	source state.Source
	logger Logger
}

// NewStatePatcher constructs a new patcher from a configuration.
func NewStatePatcher(cfg *StatePatcherConfig) (*StatePatcher, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &StatePatcher{source: cfg.Source, logger: cfg.Logger}, nil
}

// --- Implementation ---

// Patch creates a fresh overlay pinned at next.Block. Every watched slot in
// next is primed into the new base. prev is the base of the previous block
// and may be nil for the first block.
func (p *StatePatcher) Patch(prev *state.Base, diff *differ.StateDiff, next *differ.Snapshot) (*state.Overlay, error) {
	// 1. Integrity checks
	if next == nil || next.Block == nil {
		return nil, errors.New("patcher: next snapshot is nil")
	}
	if diff == nil {
		return nil, errors.New("patcher: diff is nil")
	}
	if next.Block.Uint64() != diff.ToBlock {
		return nil, fmt.Errorf("patcher: mismatch toBlock (snapshot=%d, diff=%d)", next.Block.Uint64(), diff.ToBlock)
	}
	if prev != nil {
		if b := prev.Block(); b != nil && b.Uint64() != diff.FromBlock {
			return nil, fmt.Errorf("patcher: mismatch fromBlock (base=%d, diff=%d)", b.Uint64(), diff.FromBlock)
		}
	}

	// 2. Prime the new base
	base := state.NewBase(p.source, next.Block)
	for addr, slots := range next.Pools {
		base.PrimeStorage(addr, slots)
	}

	p.logger.Debug("Overlay patched",
		"block", diff.ToBlock,
		"primed_pools", len(next.Pools),
		"changed_pools", len(diff.Pools),
	)
	return state.New(base), nil
}
