package patcher

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/defistate/defistate-arb/differ"
	"github.com/defistate/defistate-arb/state"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------------
// --- Mocks ---
// --------------------------------------------------------------------------------

// countingSource answers every storage read with a fixed word and counts reads.
type countingSource struct {
	reads int
	value common.Hash
	block *big.Int
}

func (s *countingSource) StorageAt(_ context.Context, _ common.Address, _ common.Hash, block *big.Int) (common.Hash, error) {
	s.reads++
	s.block = block
	return s.value, nil
}

func (s *countingSource) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return new(big.Int), nil
}

func (s *countingSource) NonceAt(context.Context, common.Address, *big.Int) (uint64, error) {
	return 0, nil
}

func (s *countingSource) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return nil, nil
}

// --------------------------------------------------------------------------------
// --- Helpers ---
// --------------------------------------------------------------------------------

var (
	poolAddr = common.HexToAddress("0x01")
	slot0    = common.HexToHash("0x00")
	slot8    = common.HexToHash("0x08")
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newPatcher(t *testing.T, src state.Source) *StatePatcher {
	t.Helper()
	p, err := NewStatePatcher(&StatePatcherConfig{Source: src, Logger: discardLogger()})
	require.NoError(t, err)
	return p
}

func snapshot(block int64, value common.Hash) *differ.Snapshot {
	return &differ.Snapshot{
		Block: big.NewInt(block),
		Pools: map[common.Address]differ.PoolSlots{
			poolAddr: {slot8: value},
		},
	}
}

// --------------------------------------------------------------------------------
// --- Tests ---
// --------------------------------------------------------------------------------

func TestNewStatePatcher_Validation(t *testing.T) {
	_, err := NewStatePatcher(&StatePatcherConfig{Logger: discardLogger()})
	assert.Error(t, err)
	_, err = NewStatePatcher(&StatePatcherConfig{Source: &countingSource{}})
	assert.Error(t, err)
}

func TestStatePatcher_PrimesWatchedSlots(t *testing.T) {
	src := &countingSource{value: common.HexToHash("0xff")}
	p := newPatcher(t, src)
	ctx := context.Background()

	prev := state.NewBase(src, big.NewInt(10))
	next := snapshot(11, common.HexToHash("0x1234"))
	diff := &differ.StateDiff{FromBlock: 10, ToBlock: 11, Pools: []differ.PoolDiff{{Pool: poolAddr}}}

	overlay, err := p.Patch(prev, diff, next)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(11), overlay.Base().Block())

	got, err := overlay.Storage(ctx, poolAddr, slot8)
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0x1234"), got)
	assert.Zero(t, src.reads, "primed slots never reach the source")

	got, err = overlay.Storage(ctx, poolAddr, slot0)
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0xff"), got)
	assert.Equal(t, 1, src.reads)
	assert.Equal(t, big.NewInt(11), src.block, "unprimed reads are pinned at the new block")
}

func TestStatePatcher_FirstBlock(t *testing.T) {
	p := newPatcher(t, &countingSource{})
	overlay, err := p.Patch(nil, &differ.StateDiff{ToBlock: 1}, snapshot(1, common.HexToHash("0x01")))
	require.NoError(t, err)
	assert.NotNil(t, overlay)
}

func TestStatePatcher_IntegrityErrors(t *testing.T) {
	src := &countingSource{}
	p := newPatcher(t, src)

	testCases := []struct {
		name    string
		prev    *state.Base
		diff    *differ.StateDiff
		next    *differ.Snapshot
		wantErr string
	}{
		{
			name:    "nil snapshot",
			diff:    &differ.StateDiff{ToBlock: 2},
			wantErr: "next snapshot is nil",
		},
		{
			name:    "nil diff",
			next:    snapshot(2, common.Hash{}),
			wantErr: "diff is nil",
		},
		{
			name:    "snapshot and diff disagree",
			diff:    &differ.StateDiff{FromBlock: 1, ToBlock: 3},
			next:    snapshot(2, common.Hash{}),
			wantErr: "mismatch toBlock",
		},
		{
			name:    "base is not the diff origin",
			prev:    state.NewBase(src, big.NewInt(5)),
			diff:    &differ.StateDiff{FromBlock: 1, ToBlock: 2},
			next:    snapshot(2, common.Hash{}),
			wantErr: "mismatch fromBlock",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.Patch(tc.prev, tc.diff, tc.next)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
