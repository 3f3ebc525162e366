package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/defistate/defistate-arb/bus"
	"github.com/defistate/defistate-arb/encoder"
	"github.com/defistate/defistate-arb/engine"
	"github.com/defistate/defistate-arb/market"
	"github.com/defistate/defistate-arb/signer"
	"github.com/defistate/defistate-arb/simulator"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// gasHeadroom is added to the simulated gas when no fixed limit is configured.
const gasHeadroom = 100_000

// NonceReader returns an account nonce at a block.
type NonceReader interface {
	NonceAt(ctx context.Context, account common.Address, block *big.Int) (uint64, error)
}

type ComposerConfig struct {
	Encoder *encoder.Encoder
	Signer  *signer.Signer
	Nonces  NonceReader
	// PriorityFee is the tip per gas in wei. Nil means zero.
	PriorityFee *big.Int
	// GasLimit is used as is when positive.
	GasLimit uint64
}

func (c *ComposerConfig) validate() error {
	if c.Encoder == nil {
		return errors.New("config: Encoder cannot be nil")
	}
	if c.Signer == nil {
		return errors.New("config: Signer cannot be nil")
	}
	if c.Nonces == nil {
		return errors.New("config: Nonces cannot be nil")
	}
	return nil
}

// Composer turns a profitable line into a signed single-transaction bundle
// for the block after the one it was priced on.
type Composer struct {
	encoder     *encoder.Encoder
	signer      *signer.Signer
	nonces      NonceReader
	priorityFee *big.Int
	gasLimit    uint64
}

func NewComposer(cfg *ComposerConfig) (*Composer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	tip := new(big.Int)
	if cfg.PriorityFee != nil {
		tip.Set(cfg.PriorityFee)
	}
	return &Composer{
		encoder:     cfg.Encoder,
		signer:      cfg.Signer,
		nonces:      cfg.Nonces,
		priorityFee: tip,
		gasLimit:    cfg.GasLimit,
	}, nil
}

// Compose encodes line, signs it with the next nonce and wraps it in a bundle.
func (c *Composer) Compose(ctx context.Context, block engine.BlockSummary, line simulator.SwapLine) (bus.ComposeEvent, error) {
	target, data, err := c.encoder.Encode(line)
	if err != nil {
		return bus.ComposeEvent{}, fmt.Errorf("compose: %w", err)
	}
	nonce, err := c.nonces.NonceAt(ctx, c.signer.Address(), block.Number)
	if err != nil {
		return bus.ComposeEvent{}, fmt.Errorf("compose: nonce: %w", err)
	}

	baseFee := block.BaseFee
	if baseFee == nil {
		baseFee = new(big.Int)
	}
	tipCap, feeCap := signer.FeeCaps(baseFee, c.priorityFee)
	gas := c.gasLimit
	if gas == 0 {
		gas = line.GasUsed + gasHeadroom
	}

	tx, raw, err := c.signer.SignCall(signer.TxParams{
		Nonce:      nonce,
		To:         target,
		Data:       data,
		Gas:        gas,
		GasTipCap:  tipCap,
		GasFeeCap:  feeCap,
		AccessList: accessList(line.Path),
	})
	if err != nil {
		return bus.ComposeEvent{}, fmt.Errorf("compose: %w", err)
	}

	return bus.ComposeEvent{
		Block:    block,
		PathID:   line.Path.ID(),
		PathKey:  line.Path.Key(),
		AmountIn: new(big.Int).Set(line.AmountIn),
		Profit:   line.Profit(),
		GasUsed:  line.GasUsed,
		Bundle:   engine.NewBundle(block.Number.Uint64()+1, [][]byte{raw}, tx.AccessList()),
	}, nil
}

// accessList warms the watched slots of every pool on path, one tuple per pool.
func accessList(path market.SwapPath) types.AccessList {
	list := make(types.AccessList, 0, len(path.Hops))
	seen := make(map[common.Address]bool, len(path.Hops))
	for _, h := range path.Hops {
		addr := h.Pool.Address()
		if seen[addr] {
			continue
		}
		seen[addr] = true
		list = append(list, types.AccessTuple{Address: addr, StorageKeys: h.Pool.WatchedSlots()})
	}
	return list
}
