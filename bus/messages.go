package bus

import (
	"math/big"
	"time"

	"github.com/defistate/defistate-arb/engine"
	"github.com/defistate/defistate-arb/market"
	"github.com/defistate/defistate-arb/state"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
)

// MarketUpdate announces a new block whose overlay is ready for searching.
type MarketUpdate struct {
	Block engine.BlockSummary `json:"block"`
	// Seeds holds the swap directions of every pool whose watched state changed.
	Seeds map[common.Address][]market.SwapDirection `json:"seeds"`
	// Overlay is pinned to Block and must only be read through clones.
	Overlay *state.Overlay `json:"-"`
}

// ChangedPools returns the seed pool addresses.
func (u MarketUpdate) ChangedPools() []common.Address {
	out := make([]common.Address, 0, len(u.Seeds))
	for addr := range u.Seeds {
		out = append(out, addr)
	}
	return out
}

// MempoolTx is a pending transaction that touches registered pools.
type MempoolTx struct {
	Hash       common.Hash        `json:"hash"`
	Tx         *types.Transaction `json:"-"`
	Pools      []common.Address   `json:"pools"`
	ReceivedAt time.Time          `json:"receivedAt"`
}

// ComposeEvent carries a signed bundle built from a profitable line.
type ComposeEvent struct {
	Block    engine.BlockSummary `json:"block"`
	PathID   string              `json:"pathId"`
	PathKey  string              `json:"pathKey"`
	AmountIn *big.Int            `json:"amountIn"`
	Profit   *big.Int            `json:"profit"`
	GasUsed  uint64              `json:"gasUsed"`
	Bundle   *engine.Bundle      `json:"bundle"`
}

// HealthStatus is the lifecycle state a HealthEvent reports.
type HealthStatus string

const (
	HealthStarted  HealthStatus = "started"
	HealthStopped  HealthStatus = "stopped"
	HealthDegraded HealthStatus = "degraded"
)

// HealthEvent reports a worker lifecycle change.
type HealthEvent struct {
	Worker string       `json:"worker"`
	Status HealthStatus `json:"status"`
	Err    string       `json:"err,omitempty"`
	At     time.Time    `json:"at"`
}

// BundleResult summarises one broadcast of a bundle.
type BundleResult struct {
	BundleID    uuid.UUID         `json:"bundleId"`
	TargetBlock uint64            `json:"targetBlock"`
	PathID      string            `json:"pathId"`
	Success     bool              `json:"success"`
	Outcomes    map[string]string `json:"outcomes"`
	Elapsed     time.Duration     `json:"elapsed"`
}

// Bus groups the topics the pipeline workers share.
type Bus struct {
	Market  *Topic[MarketUpdate]
	Mempool *Topic[MempoolTx]
	Compose *Topic[ComposeEvent]
	Health  *Topic[HealthEvent]
	Results *Topic[BundleResult]
}

func New() *Bus {
	return &Bus{
		Market:  NewTopic[MarketUpdate]("market"),
		Mempool: NewTopic[MempoolTx]("mempool"),
		Compose: NewTopic[ComposeEvent]("compose"),
		Health:  NewTopic[HealthEvent]("health"),
		Results: NewTopic[BundleResult]("results"),
	}
}

// Close closes every topic, waking all blocked receivers.
func (b *Bus) Close() {
	b.Market.Close()
	b.Mempool.Close()
	b.Compose.Close()
	b.Health.Close()
	b.Results.Close()
}
