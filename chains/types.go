package chains

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const (
	Mainnet uint64 = 1
	Base    uint64 = 8453
	Anvil   uint64 = 31337
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// StateReader is the read half of a remote chain node, always addressed at an explicit block.
type StateReader interface {
	StorageAt(ctx context.Context, account common.Address, slot common.Hash, block *big.Int) (common.Hash, error)
	BalanceAt(ctx context.Context, account common.Address, block *big.Int) (*big.Int, error)
	NonceAt(ctx context.Context, account common.Address, block *big.Int) (uint64, error)
	CodeAt(ctx context.Context, account common.Address, block *big.Int) ([]byte, error)
}

// Node is everything the pipeline consumes from a chain node.
type Node interface {
	StateReader

	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, isPending bool, err error)
}

// ForkNode adds the test-node controls exposed by anvil and hardhat forks.
type ForkNode interface {
	Node

	Snapshot(ctx context.Context) (string, error)
	Revert(ctx context.Context, id string) (bool, error)
	Mine(ctx context.Context) error
	SetAutomine(ctx context.Context, enabled bool) error
}
