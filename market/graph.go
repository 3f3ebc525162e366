// Package market holds the registry of tokens and liquidity pools the searcher prices over.
package market

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
)

// View is an immutable snapshot of the graph. Path searches read it without taking any lock.
type View struct {
	Base      Token
	Tokens    map[common.Address]Token
	Pools     map[common.Address]Pool
	Adjacency map[common.Address][]Pool // token -> pools touching it, sorted by address
}

// PoolsForToken returns the pools touching token, sorted by address.
func (v *View) PoolsForToken(token common.Address) []Pool {
	return v.Adjacency[token]
}

// Graph is a concurrency-safe token/pool registry. Writes take an exclusive lock for the duration
// of the mutation only and republish the cached View atomically.
type Graph struct {
	mu        sync.RWMutex
	base      Token
	tokens    map[common.Address]Token
	pools     map[common.Address]Pool
	adjacency map[common.Address][]Pool

	cachedView atomic.Pointer[View]
}

// NewGraph creates a graph whose base asset is base. The base token is registered immediately.
func NewGraph(base Token) *Graph {
	base.IsBase = true
	g := &Graph{
		base:      base,
		tokens:    map[common.Address]Token{base.Address: base},
		pools:     make(map[common.Address]Pool),
		adjacency: make(map[common.Address][]Pool),
	}
	g.updateCachedView()
	return g
}

// updateCachedView MUST be called with g.mu held for writing.
func (g *Graph) updateCachedView() {
	v := &View{
		Base:      g.base,
		Tokens:    make(map[common.Address]Token, len(g.tokens)),
		Pools:     make(map[common.Address]Pool, len(g.pools)),
		Adjacency: make(map[common.Address][]Pool, len(g.adjacency)),
	}
	for k, t := range g.tokens {
		v.Tokens[k] = t
	}
	for k, p := range g.pools {
		v.Pools[k] = p
	}
	for k, ps := range g.adjacency {
		cp := make([]Pool, len(ps))
		copy(cp, ps)
		v.Adjacency[k] = cp
	}
	g.cachedView.Store(v)
}

// View returns the current immutable snapshot.
func (g *Graph) View() *View {
	return g.cachedView.Load()
}

// Base returns the base asset.
func (g *Graph) Base() Token {
	return g.base
}

// RegisterToken adds t. Registering an identical token twice is a no-op.
func (g *Graph) RegisterToken(t Token) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.addToken(t); err != nil {
		return err
	}
	g.updateCachedView()
	return nil
}

// RegisterTokens adds many tokens and republishes the view once.
func (g *Graph) RegisterTokens(tokens []Token) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, t := range tokens {
		if err := g.addToken(t); err != nil {
			return err
		}
	}
	g.updateCachedView()
	return nil
}

func (g *Graph) addToken(t Token) error {
	if t.Address == g.base.Address {
		t.IsBase = true
	}
	if existing, ok := g.tokens[t.Address]; ok {
		if existing != t {
			return fmt.Errorf("%w: %s", ErrTokenConflict, t.Address.Hex())
		}
		return nil
	}
	g.tokens[t.Address] = t
	return nil
}

// RegisterPool adds p and links it to each of its tokens.
func (g *Graph) RegisterPool(p Pool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkPool(p); err != nil {
		return err
	}
	g.addPool(p)
	g.updateCachedView()
	return nil
}

// RegisterPools adds every pool or none of them.
func (g *Graph) RegisterPools(pools []Pool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	seen := make(map[common.Address]struct{}, len(pools))
	for _, p := range pools {
		if err := g.checkPool(p); err != nil {
			return err
		}
		if _, dup := seen[p.Address()]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicatePool, p.Address().Hex())
		}
		seen[p.Address()] = struct{}{}
	}
	for _, p := range pools {
		g.addPool(p)
	}
	g.updateCachedView()
	return nil
}

func (g *Graph) checkPool(p Pool) error {
	if _, exists := g.pools[p.Address()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicatePool, p.Address().Hex())
	}
	for _, t := range p.Tokens() {
		if _, ok := g.tokens[t]; !ok {
			return fmt.Errorf("%w: %s in pool %s", ErrUnknownToken, t.Hex(), p.Address().Hex())
		}
	}
	return nil
}

// addPool inserts p keeping every adjacency list sorted by address.
func (g *Graph) addPool(p Pool) {
	g.pools[p.Address()] = p
	for _, t := range p.Tokens() {
		list := g.adjacency[t]
		i := 0
		for i < len(list) && ComparePools(list[i], p) < 0 {
			i++
		}
		list = append(list, nil)
		copy(list[i+1:], list[i:])
		list[i] = p
		g.adjacency[t] = list
	}
}

// DeregisterPool removes the pool at addr.
func (g *Graph) DeregisterPool(addr common.Address) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.pools[addr]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPool, addr.Hex())
	}
	delete(g.pools, addr)
	for _, t := range p.Tokens() {
		list := g.adjacency[t]
		kept := list[:0]
		for _, q := range list {
			if q.Address() != addr {
				kept = append(kept, q)
			}
		}
		if len(kept) == 0 {
			delete(g.adjacency, t)
		} else {
			g.adjacency[t] = kept
		}
	}
	g.updateCachedView()
	return nil
}

// PoolsForToken returns the pools touching token, sorted by address.
func (g *Graph) PoolsForToken(token common.Address) []Pool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	list := g.adjacency[token]
	out := make([]Pool, len(list))
	copy(out, list)
	return out
}

// Pool looks up a pool by address.
func (g *Graph) Pool(addr common.Address) (Pool, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.pools[addr]
	return p, ok
}

// Token looks up a token by address.
func (g *Graph) Token(addr common.Address) (Token, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.tokens[addr]
	return t, ok
}

// Pools returns every registered pool sorted by address.
func (g *Graph) Pools() []Pool {
	g.mu.RLock()
	out := make([]Pool, 0, len(g.pools))
	for _, p := range g.pools {
		out = append(out, p)
	}
	g.mu.RUnlock()
	SortPools(out)
	return out
}
