package calculator

import (
	"math/big"
)

// Compress divides tick by spacing, rounding toward negative infinity.
func Compress(tick, spacing int32) int32 {
	c := tick / spacing
	if tick < 0 && tick%spacing != 0 {
		c--
	}
	return c
}

// Position splits a compressed tick into its bitmap word and bit index.
func Position(compressed int32) (int16, uint) {
	return int16(compressed >> 8), uint(compressed & 0xff)
}

// WordFor returns the bitmap word NextInWord needs for this search.
func WordFor(tick, spacing int32, lte bool) int16 {
	c := Compress(tick, spacing)
	if !lte {
		c++
	}
	w, _ := Position(c)
	return w
}

// NextInWord finds the next initialized tick within word, which must be the
// bitmap word returned by WordFor for the same arguments.
func NextInWord(word *big.Int, tick, spacing int32, lte bool) (int32, bool) {
	c := Compress(tick, spacing)
	if lte {
		_, bit := Position(c)
		mask := new(big.Int).Lsh(big.NewInt(1), bit+1)
		mask.Sub(mask, big.NewInt(1))
		masked := mask.And(mask, word)
		if masked.Sign() != 0 {
			msb := int32(masked.BitLen() - 1)
			return (c - (int32(bit) - msb)) * spacing, true
		}
		return (c - int32(bit)) * spacing, false
	}

	_, bit := Position(c + 1)
	masked := new(big.Int).Rsh(word, bit)
	if masked.Sign() != 0 {
		lsb := int32(masked.TrailingZeroBits())
		return (c + 1 + lsb) * spacing, true
	}
	return (c + 1 + (255 - int32(bit))) * spacing, false
}

// TickMap is an in-memory TickSource keyed by initialized tick.
type TickMap map[int32]*big.Int

func (m TickMap) word(pos int16, spacing int32) *big.Int {
	w := new(big.Int)
	for t := range m {
		if t%spacing != 0 {
			continue
		}
		wp, bit := Position(Compress(t, spacing))
		if wp == pos {
			w.SetBit(w, int(bit), 1)
		}
	}
	return w
}

func (m TickMap) NextInitializedTick(tick, spacing int32, lte bool) (int32, bool, error) {
	next, ok := NextInWord(m.word(WordFor(tick, spacing, lte), spacing), tick, spacing, lte)
	return next, ok, nil
}

func (m TickMap) LiquidityNet(tick int32) (*big.Int, error) {
	if n, ok := m[tick]; ok {
		return n, nil
	}
	return new(big.Int), nil
}
