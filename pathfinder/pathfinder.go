// Package pathfinder enumerates the swap paths a set of changed pools opens up.
package pathfinder

import (
	"bytes"
	"sort"

	"github.com/defistate/defistate-arb/bitset"
	"github.com/defistate/defistate-arb/market"
	"github.com/ethereum/go-ethereum/common"
)

// DefaultMaxHops is used when Finder.MaxHops is not set.
const DefaultMaxHops = 3

// Finder searches the market graph for paths from Start to End. Start and End
// default to the graph's base token, which makes every result a cycle.
type Finder struct {
	Graph   *market.Graph
	Start   common.Address
	End     common.Address
	MaxHops int
}

// New returns a finder for base-token cycles of at most maxHops hops.
func New(g *market.Graph, maxHops int) *Finder {
	base := g.Base().Address
	return &Finder{Graph: g, Start: base, End: base, MaxHops: maxHops}
}

// search holds the per-call state. Tokens and pools are numbered densely so
// visited sets are bitsets.
type search struct {
	f        *Finder
	view     *market.View
	maxHops  int
	tokenIdx map[common.Address]int
	poolIdx  map[common.Address]int
	visited  bitset.BitSet
	used     bitset.BitSet
	hops     []market.Hop
	seen     map[string]struct{}
	out      []market.SwapPath
}

func sortedAddresses[V any](m map[common.Address]V) []common.Address {
	out := make([]common.Address, 0, len(m))
	for a := range m {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

func (f *Finder) newSearch() *search {
	v := f.Graph.View()
	maxHops := f.MaxHops
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	s := &search{
		f:        f,
		view:     v,
		maxHops:  maxHops,
		tokenIdx: make(map[common.Address]int, len(v.Tokens)),
		poolIdx:  make(map[common.Address]int, len(v.Pools)),
		seen:     make(map[string]struct{}),
	}
	for i, a := range sortedAddresses(v.Tokens) {
		s.tokenIdx[a] = i
	}
	for i, a := range sortedAddresses(v.Pools) {
		s.poolIdx[a] = i
	}
	s.visited = bitset.New(len(s.tokenIdx))
	s.used = bitset.New(len(s.poolIdx))
	return s
}

// BuildSwapPaths returns every path that starts with a hop through one of
// the seed pools in one of the given directions. Seeds are visited in pool
// address order and directions in the order given; the result is the same
// for the same graph and seeds.
func (f *Finder) BuildSwapPaths(seeds map[common.Address][]market.SwapDirection) []market.SwapPath {
	s := f.newSearch()
	startIdx, ok := s.tokenIdx[f.Start]
	if !ok {
		return nil
	}
	for _, addr := range sortedAddresses(seeds) {
		pool, ok := s.view.Pools[addr]
		if !ok {
			continue
		}
		for _, dir := range seeds[addr] {
			if dir.TokenIn != f.Start || market.IndexOf(pool.Tokens(), dir.TokenOut) < 0 {
				continue
			}
			s.visited.Clear()
			s.used.Clear()
			s.visited.Set(startIdx)
			s.hops = s.hops[:0]
			s.step(pool, dir.TokenIn, dir.TokenOut)
		}
	}
	return s.out
}

// step appends a hop and either closes the path or extends it.
func (s *search) step(pool market.Pool, in, out common.Address) {
	outIdx, ok := s.tokenIdx[out]
	if !ok {
		return
	}
	s.hops = append(s.hops, market.Hop{Pool: pool, TokenIn: s.view.Tokens[in], TokenOut: s.view.Tokens[out]})
	defer func() { s.hops = s.hops[:len(s.hops)-1] }()

	if out == s.f.End {
		s.emit()
		return
	}
	if len(s.hops) >= s.maxHops || s.visited.IsSet(outIdx) {
		return
	}

	pi := s.poolIdx[pool.Address()]
	s.used.Set(pi)
	s.visited.Set(outIdx)
	defer func() {
		s.used.Unset(pi)
		s.visited.Unset(outIdx)
	}()

	for _, next := range s.view.PoolsForToken(out) {
		if s.used.IsSet(s.poolIdx[next.Address()]) {
			continue
		}
		for _, dir := range next.SwapDirections() {
			if dir.TokenIn != out {
				continue
			}
			if dir.TokenOut != s.f.End {
				if idx, ok := s.tokenIdx[dir.TokenOut]; !ok || s.visited.IsSet(idx) {
					continue
				}
			}
			s.step(next, out, dir.TokenOut)
		}
	}
}

func (s *search) emit() {
	p := market.SwapPath{Hops: append([]market.Hop(nil), s.hops...)}
	key := p.Key()
	if _, dup := s.seen[key]; dup {
		return
	}
	s.seen[key] = struct{}{}
	s.out = append(s.out, p)
}
