package state

import (
	"context"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// Source is the remote chain state the base layer falls back to.
type Source interface {
	StorageAt(ctx context.Context, account common.Address, slot common.Hash, block *big.Int) (common.Hash, error)
	BalanceAt(ctx context.Context, account common.Address, block *big.Int) (*big.Int, error)
	NonceAt(ctx context.Context, account common.Address, block *big.Int) (uint64, error)
	CodeAt(ctx context.Context, account common.Address, block *big.Int) ([]byte, error)
}

// DefaultFetchTimeout bounds a remote read shared by coalesced callers.
const DefaultFetchTimeout = 10 * time.Second

// Base is the bottom layer of every overlay: a memoizing view of a remote source pinned at one block.
// It is safe for concurrent use and is shared by all clones of an overlay.
// A nil source makes every unknown key read as zero, which is how offline fixtures are built.
type Base struct {
	source Source
	block  *big.Int
	cache  *gocache.Cache
	group  singleflight.Group

	// fetchTimeout bounds one shared remote read.
	fetchTimeout time.Duration

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewBase creates a base layer reading source at block. A nil block means latest.
func NewBase(source Source, block *big.Int) *Base {
	var pinned *big.Int
	if block != nil {
		pinned = new(big.Int).Set(block)
	}
	return &Base{
		source: source,
		block:  pinned,
		cache:  gocache.New(gocache.NoExpiration, 0),

		fetchTimeout: DefaultFetchTimeout,
	}
}

// Block returns the block number the base is pinned to, or nil for latest.
func (b *Base) Block() *big.Int {
	if b.block == nil {
		return nil
	}
	return new(big.Int).Set(b.block)
}

// Stats returns cache hit and miss counts.
func (b *Base) Stats() (hits, misses uint64) {
	return b.hits.Load(), b.misses.Load()
}

func storageKey(addr common.Address, slot common.Hash) string {
	return "s" + string(addr.Bytes()) + string(slot.Bytes())
}

func balanceKey(addr common.Address) string { return "b" + string(addr.Bytes()) }
func nonceKey(addr common.Address) string { return "n" + string(addr.Bytes()) }
func codeKey(addr common.Address) string { return "c" + string(addr.Bytes()) }

// load returns the cached value for key or runs fetch once across concurrent
// callers. The shared fetch is detached from any single caller and bounded by
// fetchTimeout; each caller stops waiting when its own ctx is done.
func (b *Base) load(ctx context.Context, key string, fetch func(ctx context.Context) (any, error)) (any, error) {
	if v, ok := b.cache.Get(key); ok {
		b.hits.Add(1)
		return v, nil
	}
	ch := b.group.DoChan(key, func() (any, error) {
		if v, ok := b.cache.Get(key); ok {
			return v, nil
		}
		b.misses.Add(1)
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.fetchTimeout)
		defer cancel()
		v, err := fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		b.cache.Set(key, v, gocache.NoExpiration)
		return v, nil
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Storage returns the value of slot in addr's storage.
func (b *Base) Storage(ctx context.Context, addr common.Address, slot common.Hash) (common.Hash, error) {
	v, err := b.load(ctx, storageKey(addr, slot), func(ctx context.Context) (any, error) {
		if b.source == nil {
			return common.Hash{}, nil
		}
		return b.source.StorageAt(ctx, addr, slot, b.block)
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: storage %s[%s]: %w", ErrRemoteFetch, addr.Hex(), slot.Hex(), err)
	}
	return v.(common.Hash), nil
}

// Balance returns addr's balance in wei.
func (b *Base) Balance(ctx context.Context, addr common.Address) (*uint256.Int, error) {
	v, err := b.load(ctx, balanceKey(addr), func(ctx context.Context) (any, error) {
		if b.source == nil {
			return new(uint256.Int), nil
		}
		bal, err := b.source.BalanceAt(ctx, addr, b.block)
		if err != nil {
			return nil, err
		}
		out, overflow := uint256.FromBig(bal)
		if overflow {
			return nil, fmt.Errorf("balance of %s overflows 256 bits", addr.Hex())
		}
		return out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: balance %s: %w", ErrRemoteFetch, addr.Hex(), err)
	}
	return new(uint256.Int).Set(v.(*uint256.Int)), nil
}

// Nonce returns addr's nonce.
func (b *Base) Nonce(ctx context.Context, addr common.Address) (uint64, error) {
	v, err := b.load(ctx, nonceKey(addr), func(ctx context.Context) (any, error) {
		if b.source == nil {
			return uint64(0), nil
		}
		return b.source.NonceAt(ctx, addr, b.block)
	})
	if err != nil {
		return 0, fmt.Errorf("%w: nonce %s: %w", ErrRemoteFetch, addr.Hex(), err)
	}
	return v.(uint64), nil
}

// Code returns addr's deployed bytecode.
func (b *Base) Code(ctx context.Context, addr common.Address) ([]byte, error) {
	v, err := b.load(ctx, codeKey(addr), func(ctx context.Context) (any, error) {
		if b.source == nil {
			return []byte(nil), nil
		}
		return b.source.CodeAt(ctx, addr, b.block)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: code %s: %w", ErrRemoteFetch, addr.Hex(), err)
	}
	return v.([]byte), nil
}

// PrimeStorage seeds the cache with values already known for this block,
// so the first read of those slots costs no round-trip.
func (b *Base) PrimeStorage(addr common.Address, slots map[common.Hash]common.Hash) {
	for slot, value := range slots {
		b.cache.Set(storageKey(addr, slot), value, gocache.NoExpiration)
	}
}

// PrimeBalance seeds the cached balance of addr.
func (b *Base) PrimeBalance(addr common.Address, balance *uint256.Int) {
	b.cache.Set(balanceKey(addr), new(uint256.Int).Set(balance), gocache.NoExpiration)
}
