package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/defistate/defistate-arb/bus"
	"github.com/defistate/defistate-arb/chains"
	"github.com/defistate/defistate-arb/engine"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type AnvilWorkerConfig struct {
	Compose *bus.Topic[bus.ComposeEvent]
	Node    chains.ForkNode
	Logger  Logger
}

func (c *AnvilWorkerConfig) validate() error {
	if c.Compose == nil {
		return errors.New("config: Compose cannot be nil")
	}
	if c.Node == nil {
		return errors.New("config: Node cannot be nil")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	return nil
}

// AnvilWorker replays every composed bundle on a fork node in one mined
// block, logs how each transaction fared, then rolls the fork back.
type AnvilWorker struct {
	node   chains.ForkNode
	logger Logger
	sub    *bus.Subscription[bus.ComposeEvent]
}

func NewAnvilWorker(cfg *AnvilWorkerConfig) (*AnvilWorker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &AnvilWorker{
		node:   cfg.Node,
		logger: cfg.Logger,
		sub:    cfg.Compose.Subscribe("anvil", 16),
	}, nil
}

func (w *AnvilWorker) Run(ctx context.Context) error {
	defer w.sub.Unsubscribe()
	for {
		ev, err := w.sub.Recv(ctx)
		if err != nil {
			if errors.Is(err, bus.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		receipts, err := Replay(context.WithoutCancel(ctx), w.node, ev.Bundle)
		if err != nil {
			w.logger.Error("Fork replay failed", "bundle", ev.Bundle.ID, "path", ev.PathID, "error", err)
			continue
		}
		for i, r := range receipts {
			w.logger.Info("Fork replay receipt",
				"bundle", ev.Bundle.ID,
				"path", ev.PathID,
				"tx", i,
				"hash", r.TxHash,
				"status", r.Status,
				"gas_used", r.GasUsed,
				"block", r.BlockNumber,
			)
		}
	}
}

// Replay snapshots the fork, sends every bundle transaction with automine
// off, mines them into one block and collects the receipts. The fork is
// reverted and automine restored before returning.
func Replay(ctx context.Context, node chains.ForkNode, bundle *engine.Bundle) (receipts []*types.Receipt, err error) {
	id, err := node.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("replay: snapshot: %w", err)
	}
	defer func() {
		ok, rerr := node.Revert(ctx, id)
		if rerr == nil && !ok {
			rerr = fmt.Errorf("snapshot %s not found", id)
		}
		if rerr != nil && err == nil {
			err = fmt.Errorf("replay: revert: %w", rerr)
		}
	}()

	if err := node.SetAutomine(ctx, false); err != nil {
		return nil, fmt.Errorf("replay: disable automine: %w", err)
	}
	defer func() {
		if aerr := node.SetAutomine(ctx, true); aerr != nil && err == nil {
			err = fmt.Errorf("replay: enable automine: %w", aerr)
		}
	}()

	hashes := make([]common.Hash, 0, len(bundle.Txs))
	for i, raw := range bundle.Txs {
		h, err := node.SendRawTransaction(ctx, raw)
		if err != nil {
			return nil, fmt.Errorf("replay: send tx %d: %w", i, err)
		}
		hashes = append(hashes, h)
	}
	if err := node.Mine(ctx); err != nil {
		return nil, fmt.Errorf("replay: mine: %w", err)
	}

	receipts = make([]*types.Receipt, 0, len(hashes))
	for _, h := range hashes {
		r, err := node.TransactionReceipt(ctx, h)
		if err != nil {
			return nil, fmt.Errorf("replay: receipt %s: %w", h.Hex(), err)
		}
		receipts = append(receipts, r)
	}
	return receipts, nil
}
