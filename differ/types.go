package differ

import (
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// PoolSlots maps watched storage slots of one pool to their values.
type PoolSlots map[common.Hash]common.Hash

// Snapshot is the watched state of a pool set read at one block.
type Snapshot struct {
	Block *big.Int
	Pools map[common.Address]PoolSlots
}

// PoolDiff holds the new values of the slots of one pool that changed.
type PoolDiff struct {
	Pool  common.Address `json:"pool"`
	Slots PoolSlots      `json:"slots"`
	// Added is set when the pool was absent from the older snapshot.
	Added bool `json:"added,omitempty"`
}

// StateDiff summarises watched-state changes FromBlock to ToBlock.
type StateDiff struct {
	Timestamp uint64     `json:"timestamp"`
	FromBlock uint64     `json:"fromBlock"`
	ToBlock   uint64     `json:"toBlock"`
	Pools     []PoolDiff `json:"pools"`
}

// Changed returns the addresses of every changed pool, in address order.
func (d *StateDiff) Changed() []common.Address {
	out := make([]common.Address, len(d.Pools))
	for i, p := range d.Pools {
		out[i] = p.Pool
	}
	return out
}

// Empty reports whether no watched slot moved.
func (d *StateDiff) Empty() bool { return len(d.Pools) == 0 }

func sortPoolDiffs(diffs []PoolDiff) {
	sort.Slice(diffs, func(i, j int) bool {
		return diffs[i].Pool.Cmp(diffs[j].Pool) < 0
	})
}
