package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/defistate/defistate-arb/bus"
	"github.com/defistate/defistate-arb/market"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"
)

// DefaultMempoolConcurrency bounds concurrent transaction lookups.
const DefaultMempoolConcurrency = 8

// TxReader looks up a transaction by hash.
type TxReader interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, isPending bool, err error)
}

type MempoolWorkerConfig struct {
	Pending <-chan common.Hash
	Txs     TxReader
	Graph   *market.Graph
	Topic   *bus.Topic[bus.MempoolTx]
	// Concurrency bounds lookups in flight. Zero uses DefaultMempoolConcurrency.
	Concurrency int
	Logger      Logger
}

func (c *MempoolWorkerConfig) validate() error {
	switch {
	case c.Pending == nil:
		return errors.New("config: Pending cannot be nil")
	case c.Txs == nil:
		return errors.New("config: Txs cannot be nil")
	case c.Graph == nil:
		return errors.New("config: Graph cannot be nil")
	case c.Topic == nil:
		return errors.New("config: Topic cannot be nil")
	case c.Logger == nil:
		return errors.New("config: Logger cannot be nil")
	case c.Concurrency < 0:
		return errors.New("config: Concurrency must not be negative")
	}
	return nil
}

// MempoolWorker republishes pending transactions that touch registered pools.
type MempoolWorker struct {
	cfg MempoolWorkerConfig
}

func NewMempoolWorker(cfg *MempoolWorkerConfig) (*MempoolWorker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	w := &MempoolWorker{cfg: *cfg}
	if w.cfg.Concurrency == 0 {
		w.cfg.Concurrency = DefaultMempoolConcurrency
	}
	return w, nil
}

func (w *MempoolWorker) Run(ctx context.Context) error {
	g := new(errgroup.Group)
	g.SetLimit(w.cfg.Concurrency)
	defer g.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case hash, ok := <-w.cfg.Pending:
			if !ok {
				return nil
			}
			g.Go(func() error {
				w.handle(ctx, hash)
				return nil
			})
		}
	}
}

func (w *MempoolWorker) handle(ctx context.Context, hash common.Hash) {
	receivedAt := time.Now()
	tx, pending, err := w.cfg.Txs.TransactionByHash(ctx, hash)
	if err != nil {
		w.cfg.Logger.Debug("Pending transaction lookup failed", "hash", hash, "error", err)
		return
	}
	if !pending {
		return
	}
	pools := TouchedPools(w.cfg.Graph, tx)
	if len(pools) == 0 {
		return
	}
	w.cfg.Topic.Publish(bus.MempoolTx{Hash: hash, Tx: tx, Pools: pools, ReceivedAt: receivedAt})
	w.cfg.Logger.Debug("Pending transaction touches pools", "hash", hash, "pools", len(pools))
}

// TouchedPools returns the registered pools tx addresses directly, lists in
// its access list, or passes as an ABI word in its calldata, in first-seen order.
func TouchedPools(g *market.Graph, tx *types.Transaction) []common.Address {
	var out []common.Address
	seen := make(map[common.Address]bool)
	add := func(addr common.Address) {
		if seen[addr] {
			return
		}
		seen[addr] = true
		if _, ok := g.Pool(addr); ok {
			out = append(out, addr)
		}
	}

	if to := tx.To(); to != nil {
		add(*to)
	}
	for _, tuple := range tx.AccessList() {
		add(tuple.Address)
	}
	data := tx.Data()
	if len(data) > 4 {
		args := data[4:]
		for i := 0; i+32 <= len(args); i += 32 {
			word := args[i : i+32]
			if isAddressWord(word) {
				add(common.BytesToAddress(word[12:]))
			}
		}
	}
	return out
}

// isAddressWord reports whether the top 12 bytes of an ABI word are zero.
func isAddressWord(word []byte) bool {
	for _, b := range word[:12] {
		if b != 0 {
			return false
		}
	}
	return true
}
