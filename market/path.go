package market

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Hop is one swap through a single pool.
type Hop struct {
	Pool     Pool
	TokenIn  Token
	TokenOut Token
}

// SwapPath is an ordered sequence of hops where each hop's output token is the next hop's input.
type SwapPath struct {
	Hops []Hop
}

// Len returns the number of hops.
func (p SwapPath) Len() int { return len(p.Hops) }

// Start returns the token the path is entered with.
func (p SwapPath) Start() Token { return p.Hops[0].TokenIn }

// End returns the token the path exits with.
func (p SwapPath) End() Token { return p.Hops[len(p.Hops)-1].TokenOut }

// ID renders the token route, e.g. "WETH>USDC>WETH". Distinct paths can share an ID when they
// route through different pools; use Key for identity.
func (p SwapPath) ID() string {
	if len(p.Hops) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(p.Hops[0].TokenIn.Symbol)
	for _, h := range p.Hops {
		b.WriteByte('>')
		b.WriteString(h.TokenOut.Symbol)
	}
	return b.String()
}

// Key renders the pool route and uniquely identifies the path.
func (p SwapPath) Key() string {
	parts := make([]string, 0, len(p.Hops)+1)
	if len(p.Hops) > 0 {
		parts = append(parts, p.Hops[0].TokenIn.Address.Hex())
	}
	for _, h := range p.Hops {
		parts = append(parts, h.Pool.Address().Hex()+":"+h.TokenOut.Address.Hex())
	}
	return strings.Join(parts, ">")
}

// Pools returns the pool addresses in hop order.
func (p SwapPath) Pools() []common.Address {
	out := make([]common.Address, len(p.Hops))
	for i, h := range p.Hops {
		out[i] = h.Pool.Address()
	}
	return out
}

// Contains reports whether the path routes through pool.
func (p SwapPath) Contains(pool common.Address) bool {
	for _, h := range p.Hops {
		if h.Pool.Address() == pool {
			return true
		}
	}
	return false
}
