package state

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var tt256 = new(big.Int).Lsh(common.Big1, 256)

// SlotIndex returns the storage key of a fixed state variable at position i.
func SlotIndex(i uint64) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(i))
}

// MappingSlot returns the storage key of mapping[key] for a mapping declared at slot.
func MappingSlot(key common.Hash, slot common.Hash) common.Hash {
	return crypto.Keccak256Hash(key.Bytes(), slot.Bytes())
}

// AddressKey left-pads an address into a mapping key.
func AddressKey(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

// IntKey encodes a signed integer as a sign-extended 256-bit mapping key, matching abi.encode(intN).
func IntKey(v int64) common.Hash {
	return WordFromBig(big.NewInt(v))
}

// WordFromBig encodes v as a 256-bit two's complement word.
func WordFromBig(v *big.Int) common.Hash {
	if v.Sign() >= 0 {
		return common.BigToHash(v)
	}
	return common.BigToHash(new(big.Int).Add(tt256, v))
}

func mask(bits uint) *big.Int {
	return new(big.Int).Sub(new(big.Int).Lsh(common.Big1, bits), common.Big1)
}

// Field extracts an unsigned packed field of width bits starting at bit offset (0 = least significant).
func Field(word common.Hash, offset, bits uint) *big.Int {
	v := new(big.Int).SetBytes(word.Bytes())
	v.Rsh(v, offset)
	return v.And(v, mask(bits))
}

// SignedField extracts a two's complement packed field, as used for int24 ticks and int128 liquidity nets.
func SignedField(word common.Hash, offset, bits uint) *big.Int {
	v := Field(word, offset, bits)
	if v.Bit(int(bits)-1) == 1 {
		v.Sub(v, new(big.Int).Lsh(common.Big1, bits))
	}
	return v
}

// SetField returns word with the packed field at offset replaced by v. Negative values are stored
// in two's complement of the field width.
func SetField(word common.Hash, offset, bits uint, v *big.Int) common.Hash {
	m := mask(bits)
	field := new(big.Int).Set(v)
	if field.Sign() < 0 {
		field.Add(field, new(big.Int).Lsh(common.Big1, bits))
	}
	field.And(field, m)

	w := new(big.Int).SetBytes(word.Bytes())
	w.AndNot(w, new(big.Int).Lsh(m, offset))
	w.Or(w, field.Lsh(field, offset))
	return common.BigToHash(w)
}
