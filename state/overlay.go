// Package state implements the copy-on-write state overlay every simulation runs on.
//
// An Overlay is an arena of layers on top of a shared, memoizing Base. Writes always land in the
// newest layer. Snapshot pushes a layer and Revert truncates the arena back to it. Clone hands out
// an independent branch that shares every existing layer until one side writes.
package state

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Reader is the read-only view pool variants and executors quote against.
type Reader interface {
	Storage(ctx context.Context, addr common.Address, slot common.Hash) (common.Hash, error)
	Balance(ctx context.Context, addr common.Address) (*uint256.Int, error)
	Nonce(ctx context.Context, addr common.Address) (uint64, error)
	Code(ctx context.Context, addr common.Address) ([]byte, error)
}

// Handle identifies a snapshot. It is only meaningful to the overlay that issued it.
type Handle struct {
	depth int
	gen   uint64
	owner uint64
}

// Depth returns the layer count the handle reverts to.
func (h Handle) Depth() int { return h.depth }

// Override is an explicit injection of account state that never existed on chain,
// used to deploy local-only helper contracts into a simulation.
type Override struct {
	Balance *uint256.Int
	Nonce   *uint64
	Code    []byte
	Storage map[common.Hash]common.Hash
}

// AccountOverride is the flattened diff of one account across every layer.
type AccountOverride struct {
	Balance   *big.Int
	Nonce     *uint64
	Code      []byte
	StateDiff map[common.Hash]common.Hash
}

type layer struct {
	shared   atomic.Bool
	storage  map[common.Address]map[common.Hash]common.Hash
	balances map[common.Address]*uint256.Int
	nonces   map[common.Address]uint64
	codes    map[common.Address][]byte
}

func newLayer() *layer {
	return &layer{
		storage:  make(map[common.Address]map[common.Hash]common.Hash),
		balances: make(map[common.Address]*uint256.Int),
		nonces:   make(map[common.Address]uint64),
		codes:    make(map[common.Address][]byte),
	}
}

// copy returns a private deep copy of l.
func (l *layer) copy() *layer {
	c := newLayer()
	for addr, slots := range l.storage {
		m := make(map[common.Hash]common.Hash, len(slots))
		for k, v := range slots {
			m[k] = v
		}
		c.storage[addr] = m
	}
	for addr, bal := range l.balances {
		c.balances[addr] = new(uint256.Int).Set(bal)
	}
	for addr, n := range l.nonces {
		c.nonces[addr] = n
	}
	for addr, code := range l.codes {
		c.codes[addr] = code
	}
	return c
}

type mark struct {
	depth int
	gen   uint64
}

var overlayIDs atomic.Uint64

// Overlay is a layered, copy-on-write view of chain state.
// All methods are safe for concurrent use; reads never hold the lock while fetching remotely.
type Overlay struct {
	mu      sync.RWMutex
	id      uint64
	base    *Base
	layers  []*layer
	marks   []mark
	nextGen uint64
}

// New creates an overlay on top of base with a single empty override layer.
func New(base *Base) *Overlay {
	return &Overlay{
		id:     overlayIDs.Add(1),
		base:   base,
		layers: []*layer{newLayer()},
	}
}

// Base returns the shared base layer.
func (o *Overlay) Base() *Base {
	return o.base
}

// Depth returns the current number of layers.
func (o *Overlay) Depth() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.layers)
}

// writable returns the newest layer, copying it first if it is shared with a clone.
// Must be called with o.mu held for writing.
func (o *Overlay) writable() *layer {
	top := o.layers[len(o.layers)-1]
	if top.shared.Load() {
		top = top.copy()
		o.layers[len(o.layers)-1] = top
	}
	return top
}

// Storage reads a storage slot, newest layer first, then the base.
func (o *Overlay) Storage(ctx context.Context, addr common.Address, slot common.Hash) (common.Hash, error) {
	o.mu.RLock()
	for i := len(o.layers) - 1; i >= 0; i-- {
		if v, ok := o.layers[i].storage[addr][slot]; ok {
			o.mu.RUnlock()
			return v, nil
		}
	}
	o.mu.RUnlock()
	return o.base.Storage(ctx, addr, slot)
}

// Balance reads an account balance.
func (o *Overlay) Balance(ctx context.Context, addr common.Address) (*uint256.Int, error) {
	o.mu.RLock()
	for i := len(o.layers) - 1; i >= 0; i-- {
		if v, ok := o.layers[i].balances[addr]; ok {
			out := new(uint256.Int).Set(v)
			o.mu.RUnlock()
			return out, nil
		}
	}
	o.mu.RUnlock()
	return o.base.Balance(ctx, addr)
}

// Nonce reads an account nonce.
func (o *Overlay) Nonce(ctx context.Context, addr common.Address) (uint64, error) {
	o.mu.RLock()
	for i := len(o.layers) - 1; i >= 0; i-- {
		if v, ok := o.layers[i].nonces[addr]; ok {
			o.mu.RUnlock()
			return v, nil
		}
	}
	o.mu.RUnlock()
	return o.base.Nonce(ctx, addr)
}

// Code reads an account's bytecode.
func (o *Overlay) Code(ctx context.Context, addr common.Address) ([]byte, error) {
	o.mu.RLock()
	for i := len(o.layers) - 1; i >= 0; i-- {
		if v, ok := o.layers[i].codes[addr]; ok {
			o.mu.RUnlock()
			return v, nil
		}
	}
	o.mu.RUnlock()
	return o.base.Code(ctx, addr)
}

// SetStorage writes a storage slot into the newest layer.
func (o *Overlay) SetStorage(addr common.Address, slot, value common.Hash) {
	o.mu.Lock()
	defer o.mu.Unlock()
	l := o.writable()
	slots, ok := l.storage[addr]
	if !ok {
		slots = make(map[common.Hash]common.Hash)
		l.storage[addr] = slots
	}
	slots[slot] = value
}

// SetBalance writes an account balance into the newest layer.
func (o *Overlay) SetBalance(addr common.Address, balance *uint256.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.writable().balances[addr] = new(uint256.Int).Set(balance)
}

// SetNonce writes an account nonce into the newest layer.
func (o *Overlay) SetNonce(addr common.Address, nonce uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.writable().nonces[addr] = nonce
}

// SetCode writes account bytecode into the newest layer.
func (o *Overlay) SetCode(addr common.Address, code []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.writable().codes[addr] = append([]byte(nil), code...)
}

// Inject applies ov to addr in the newest layer in a single critical section.
func (o *Overlay) Inject(addr common.Address, ov Override) {
	o.mu.Lock()
	defer o.mu.Unlock()
	l := o.writable()
	if ov.Balance != nil {
		l.balances[addr] = new(uint256.Int).Set(ov.Balance)
	}
	if ov.Nonce != nil {
		l.nonces[addr] = *ov.Nonce
	}
	if ov.Code != nil {
		l.codes[addr] = append([]byte(nil), ov.Code...)
	}
	if len(ov.Storage) > 0 {
		slots, ok := l.storage[addr]
		if !ok {
			slots = make(map[common.Hash]common.Hash, len(ov.Storage))
			l.storage[addr] = slots
		}
		for k, v := range ov.Storage {
			slots[k] = v
		}
	}
}

// Snapshot pushes a fresh layer and returns a handle that reverts to the state before it.
func (o *Overlay) Snapshot() Handle {
	o.mu.Lock()
	defer o.mu.Unlock()
	h := Handle{depth: len(o.layers), gen: o.nextGen, owner: o.id}
	o.nextGen++
	o.marks = append(o.marks, mark{depth: h.depth, gen: h.gen})
	o.layers = append(o.layers, newLayer())
	return h
}

// Revert discards every write made since h was taken, together with any snapshot taken after h.
// A handle consumed by an earlier revert yields ErrStaleSnapshot; a handle this overlay never
// issued yields ErrInvalidSnapshot.
func (o *Overlay) Revert(h Handle) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if h.owner != o.id || h.gen >= o.nextGen {
		return ErrInvalidSnapshot
	}
	for i := len(o.marks) - 1; i >= 0; i-- {
		if o.marks[i].gen != h.gen {
			continue
		}
		for j := h.depth; j < len(o.layers); j++ {
			o.layers[j] = nil
		}
		o.layers = o.layers[:h.depth]
		o.marks = o.marks[:i]
		return nil
	}
	return ErrStaleSnapshot
}

// Clone returns an independent branch. Existing layers are shared read-only and the first write on
// either side copies the newest layer. Snapshot handles do not carry over to the clone.
func (o *Overlay) Clone() *Overlay {
	o.mu.RLock()
	defer o.mu.RUnlock()
	layers := make([]*layer, len(o.layers))
	for i, l := range o.layers {
		l.shared.Store(true)
		layers[i] = l
	}
	return &Overlay{
		id:     overlayIDs.Add(1),
		base:   o.base,
		layers: layers,
	}
}

// Overrides flattens every layer into one diff per account, newest write winning.
func (o *Overlay) Overrides() map[common.Address]AccountOverride {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[common.Address]AccountOverride)
	get := func(addr common.Address) AccountOverride {
		return out[addr]
	}
	for _, l := range o.layers {
		for addr, slots := range l.storage {
			acc := get(addr)
			if acc.StateDiff == nil {
				acc.StateDiff = make(map[common.Hash]common.Hash, len(slots))
			}
			for k, v := range slots {
				acc.StateDiff[k] = v
			}
			out[addr] = acc
		}
		for addr, bal := range l.balances {
			acc := get(addr)
			acc.Balance = bal.ToBig()
			out[addr] = acc
		}
		for addr, n := range l.nonces {
			acc := get(addr)
			nonce := n
			acc.Nonce = &nonce
			out[addr] = acc
		}
		for addr, code := range l.codes {
			acc := get(addr)
			acc.Code = code
			out[addr] = acc
		}
	}
	return out
}
