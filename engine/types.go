package engine

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
)

// BlockSummary contains only the essential block information the pipeline needs.
type BlockSummary struct {
	Number     *big.Int       `json:"number"`
	Hash       common.Hash    `json:"hash"`
	ParentHash common.Hash    `json:"parentHash"`
	Timestamp  uint64         `json:"timestamp"`
	ReceivedAt int64          `json:"receivedAt"` // Unix nanoseconds when the header reached this process.
	GasUsed    uint64         `json:"gasUsed"`
	GasLimit   uint64         `json:"gasLimit"`
	BaseFee    *big.Int       `json:"baseFee,omitempty"`
	Coinbase   common.Address `json:"coinbase"`
}

// SummaryFromHeader builds a BlockSummary from a full header.
func SummaryFromHeader(h *types.Header, receivedAt int64) BlockSummary {
	return BlockSummary{
		Number:     new(big.Int).Set(h.Number),
		Hash:       h.Hash(),
		ParentHash: h.ParentHash,
		Timestamp:  h.Time,
		ReceivedAt: receivedAt,
		GasUsed:    h.GasUsed,
		GasLimit:   h.GasLimit,
		BaseFee:    h.BaseFee,
		Coinbase:   h.Coinbase,
	}
}

// Env is the execution environment a simulation runs under. Simulations always
// target the block after the one the overlay was pinned to.
type Env struct {
	ChainID     *big.Int
	BlockNumber *big.Int
	Timestamp   uint64
	BaseFee     *big.Int
	GasLimit    uint64
	Coinbase    common.Address
	// From is the account the simulated calls originate from.
	From common.Address
}

// NextEnv derives the environment for the block following b.
func NextEnv(chainID *big.Int, b BlockSummary, from common.Address) Env {
	env := Env{
		ChainID:     chainID,
		BlockNumber: new(big.Int).Add(b.Number, common.Big1),
		Timestamp:   b.Timestamp + 12,
		GasLimit:    b.GasLimit,
		Coinbase:    b.Coinbase,
		From:        from,
	}
	if b.BaseFee != nil {
		env.BaseFee = new(big.Int).Set(b.BaseFee)
	}
	return env
}

// Bundle is an ordered group of signed transactions targeting one block.
// It is immutable once built and shared read-only by every relay dispatch.
type Bundle struct {
	ID                uuid.UUID        `json:"id"`
	TargetBlock       uint64           `json:"targetBlock"`
	Txs               [][]byte         `json:"txs"`
	RevertingTxHashes []common.Hash    `json:"revertingTxHashes,omitempty"`
	AccessList        types.AccessList `json:"accessList,omitempty"`
}

// NewBundle copies txs so later mutation by the caller cannot leak into the bundle.
func NewBundle(targetBlock uint64, txs [][]byte, accessList types.AccessList) *Bundle {
	cp := make([][]byte, len(txs))
	for i, tx := range txs {
		cp[i] = append([]byte(nil), tx...)
	}
	return &Bundle{
		ID:          uuid.New(),
		TargetBlock: targetBlock,
		Txs:         cp,
		AccessList:  accessList,
	}
}
