package market

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Token is an ERC-20 registered in the graph. It is immutable once registered.
type Token struct {
	Address  common.Address `json:"address" toml:"address"`
	Symbol   string         `json:"symbol" toml:"symbol"`
	Decimals uint8          `json:"decimals" toml:"decimals"`
	IsBase   bool           `json:"isBase" toml:"base"`
}

// Unit returns one whole token in base units, i.e. 10^decimals.
func (t Token) Unit() *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(t.Decimals)), nil)
}

// ParseUnits converts a human amount such as "1.5" into base units, truncating extra precision.
func (t Token) ParseUnits(amount string) (*big.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, err
	}
	return d.Shift(int32(t.Decimals)).BigInt(), nil
}

// FormatUnits renders base units as a decimal string. Display only; never compare on it.
func (t Token) FormatUnits(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(t.Decimals)).String()
}
