// Package bitset is a dense, word-backed set of small non-negative integers.
// The path finder uses it to mark pools already used on the current DFS branch.
package bitset

import "math/bits"

// BitSet holds one bit per index. The zero value is an empty set that grows on Set.
type BitSet []uint64

// New returns a set sized to hold indices in [0, n).
func New(n int) BitSet {
	return make(BitSet, (n+63)/64)
}

// IsSet reports whether i is a member. Indices beyond the current capacity are never set.
func (b BitSet) IsSet(i int) bool {
	w := i >> 6
	if i < 0 || w >= len(b) {
		return false
	}
	return b[w]&(1<<(uint(i)&63)) != 0
}

// Set adds i, growing the set when needed.
func (b *BitSet) Set(i int) {
	w := i >> 6
	if w >= len(*b) {
		grown := make(BitSet, w+1)
		copy(grown, *b)
		*b = grown
	}
	(*b)[w] |= 1 << (uint(i) & 63)
}

// Unset removes i. Removing an absent index is a no-op.
func (b BitSet) Unset(i int) {
	w := i >> 6
	if i < 0 || w >= len(b) {
		return
	}
	b[w] &^= 1 << (uint(i) & 63)
}

// Clear removes every member but keeps the capacity.
func (b BitSet) Clear() {
	for i := range b {
		b[i] = 0
	}
}

// Count returns the number of members.
func (b BitSet) Count() int {
	n := 0
	for _, w := range b {
		n += bits.OnesCount64(w)
	}
	return n
}

// Clone returns an independent copy.
func (b BitSet) Clone() BitSet {
	out := make(BitSet, len(b))
	copy(out, b)
	return out
}
