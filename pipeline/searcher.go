package pipeline

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/defistate/defistate-arb/bus"
	"github.com/defistate/defistate-arb/engine"
	"github.com/defistate/defistate-arb/pathfinder"
	"github.com/defistate/defistate-arb/simulator"
	"github.com/defistate/defistate-arb/market"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
)

// SearcherConfig wires path search, pricing and bundle composition.
type SearcherConfig struct {
	Market  *bus.Topic[bus.MarketUpdate]
	Compose *bus.Topic[bus.ComposeEvent]
	// Mempool is optional. Pending transactions re-seed the pools they touch
	// on the latest market update.
	Mempool  *bus.Topic[bus.MempoolTx]
	Finder   *pathfinder.Finder
	Sim      *simulator.Simulator
	Composer *Composer
	ChainID  *big.Int
	// From is the account simulated calls originate from.
	From      common.Address
	AmountIn  *big.Int
	MinProfit *big.Int
	// SolveRounds enables input-amount optimisation of the best line.
	SolveRounds int
	Logger      Logger
}

func (c *SearcherConfig) validate() error {
	switch {
	case c.Market == nil || c.Compose == nil:
		return errors.New("config: Market and Compose topics cannot be nil")
	case c.Finder == nil:
		return errors.New("config: Finder cannot be nil")
	case c.Sim == nil:
		return errors.New("config: Sim cannot be nil")
	case c.Composer == nil:
		return errors.New("config: Composer cannot be nil")
	case c.ChainID == nil:
		return errors.New("config: ChainID cannot be nil")
	case c.AmountIn == nil || c.AmountIn.Sign() <= 0:
		return errors.New("config: AmountIn must be positive")
	case c.Logger == nil:
		return errors.New("config: Logger cannot be nil")
	}
	return nil
}

// Searcher prices every path a market update opens and composes a bundle
// for the most profitable one.
type Searcher struct {
	cfg     SearcherConfig
	sub     *bus.Subscription[bus.MarketUpdate]
	pending *bus.Subscription[bus.MempoolTx]

	mu     sync.Mutex
	latest *bus.MarketUpdate
	// reseeded holds the pools already searched for latest, by seed or by mempool.
	reseeded map[common.Address]bool
}

// NewSearcher subscribes to market updates immediately so no update
// published after construction is missed.
func NewSearcher(cfg *SearcherConfig) (*Searcher, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	s := &Searcher{
		cfg: *cfg,
		// only the newest block is worth searching
		sub: cfg.Market.Subscribe("searcher", 1),
	}
	if cfg.Mempool != nil {
		s.pending = cfg.Mempool.Subscribe("searcher", DefaultMempoolBuffer)
	}
	return s, nil
}

// DefaultMempoolBuffer bounds the pending transactions queued for re-seeding.
const DefaultMempoolBuffer = 256

func (s *Searcher) Run(ctx context.Context) error {
	defer s.sub.Unsubscribe()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// pending transactions are only searched while blocks keep coming
		defer cancel()
		for {
			upd, err := s.sub.Recv(ctx)
			if err != nil {
				return recvDone(ctx, err)
			}
			s.observe(upd)
			if ev, ok := s.Search(ctx, upd); ok {
				s.cfg.Compose.Publish(ev)
			}
		}
	})
	if s.pending != nil {
		defer s.pending.Unsubscribe()
		g.Go(func() error {
			for {
				ptx, err := s.pending.Recv(ctx)
				if err != nil {
					return recvDone(ctx, err)
				}
				upd, ok := s.Reseed(ptx)
				if !ok {
					continue
				}
				if ev, ok := s.Search(ctx, upd); ok {
					s.cfg.Compose.Publish(ev)
				}
			}
		})
	}
	return g.Wait()
}

func recvDone(ctx context.Context, err error) error {
	if errors.Is(err, bus.ErrClosed) || ctx.Err() != nil {
		return nil
	}
	return err
}

// observe records upd as the state pending transactions are searched against.
func (s *Searcher) observe(upd bus.MarketUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = &upd
	s.reseeded = make(map[common.Address]bool, len(upd.Seeds))
	for addr := range upd.Seeds {
		s.reseeded[addr] = true
	}
}

// Reseed builds an update on the latest observed block seeded with the pools
// ptx touches that have not been searched on that block yet. It reports false
// when no block has been observed or nothing is left to search.
func (s *Searcher) Reseed(ptx bus.MempoolTx) (bus.MarketUpdate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return bus.MarketUpdate{}, false
	}
	seeds := make(map[common.Address][]market.SwapDirection)
	for _, addr := range ptx.Pools {
		if s.reseeded[addr] {
			continue
		}
		pool, ok := s.cfg.Finder.Graph.Pool(addr)
		if !ok {
			continue
		}
		s.reseeded[addr] = true
		seeds[addr] = pool.SwapDirections()
	}
	if len(seeds) == 0 {
		return bus.MarketUpdate{}, false
	}
	s.cfg.Logger.Debug("Re-seeding pools from pending transaction",
		"block", s.latest.Block.Number,
		"hash", ptx.Hash,
		"pools", len(seeds),
	)
	return bus.MarketUpdate{Block: s.latest.Block, Seeds: seeds, Overlay: s.latest.Overlay}, true
}

// Search runs one cycle for upd and returns the composed bundle, if any.
func (s *Searcher) Search(ctx context.Context, upd bus.MarketUpdate) (bus.ComposeEvent, bool) {
	logger := s.cfg.Logger
	paths := s.cfg.Finder.BuildSwapPaths(upd.Seeds)
	if len(paths) == 0 {
		logger.Debug("No paths opened", "block", upd.Block.Number)
		return bus.ComposeEvent{}, false
	}

	env := engine.NextEnv(s.cfg.ChainID, upd.Block, s.cfg.From)
	lines := s.cfg.Sim.Evaluate(ctx, upd.Overlay, env, paths, s.cfg.AmountIn)
	best, ok := simulator.BestLine(lines, s.cfg.MinProfit)
	if !ok {
		logger.Debug("No profitable path", "block", upd.Block.Number, "paths", len(paths))
		return bus.ComposeEvent{}, false
	}

	if s.cfg.SolveRounds > 0 {
		lo := new(big.Int).Quo(s.cfg.AmountIn, big.NewInt(100))
		if lo.Sign() == 0 {
			lo.SetInt64(1)
		}
		hi := new(big.Int).Mul(s.cfg.AmountIn, big.NewInt(10))
		solved := s.cfg.Sim.Solve(ctx, upd.Overlay, env, best.Path, lo, hi, s.cfg.SolveRounds)
		if solved.Profitable(s.cfg.MinProfit) && solved.Profit().Cmp(best.Profit()) > 0 {
			best = solved
		}
	}

	ev, err := s.cfg.Composer.Compose(ctx, upd.Block, best)
	if err != nil {
		logger.Error("Failed to compose bundle", "block", upd.Block.Number, "path", best.Path.ID(), "error", err)
		return bus.ComposeEvent{}, false
	}
	logger.Info("Bundle composed",
		"block", upd.Block.Number,
		"path", ev.PathID,
		"amount_in", best.Path.Start().FormatUnits(ev.AmountIn),
		"profit", best.Path.Start().FormatUnits(ev.Profit),
		"gas", ev.GasUsed,
		"bundle", ev.Bundle.ID,
	)
	return ev, true
}
