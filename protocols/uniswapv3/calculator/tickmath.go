package calculator

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

const (
	// MinTick is the lowest tick whose sqrt price is representable.
	MinTick int32 = -887272
	// MaxTick is the highest tick whose sqrt price is representable.
	MaxTick int32 = 887272
)

var (
	// MinSqrtRatio is GetSqrtRatioAtTick(MinTick).
	MinSqrtRatio = big.NewInt(4295128739)
	// MaxSqrtRatio is GetSqrtRatioAtTick(MaxTick).
	MaxSqrtRatio, _ = new(big.Int).SetString("1461446703485210103287273052203988822378723970342", 10)

	ErrTickOutOfBounds      = errors.New("tick out of bounds")
	ErrSqrtPriceOutOfBounds = errors.New("sqrt price out of bounds")

	maxUint256 = new(uint256.Int).SetAllOne()
	q32Mask    = uint256.NewInt(0xffffffff)

	// tickFactors[i] is sqrt(1.0001^-(2^i)) as a Q128.128, i = 0..19.
	tickFactors = [20]*uint256.Int{
		uint256.MustFromHex("0xfffcb933bd6fad37aa2d162d1a594001"),
		uint256.MustFromHex("0xfff97272373d413259a46990580e213a"),
		uint256.MustFromHex("0xfff2e50f5f656932ef12357cf3c7fdcc"),
		uint256.MustFromHex("0xffe5caca7e10e4e61c3624eaa0941cd0"),
		uint256.MustFromHex("0xffcb9843d60f6159c9db58835c926644"),
		uint256.MustFromHex("0xff973b41fa98c081472e6896dfb254c0"),
		uint256.MustFromHex("0xff2ea16466c96a3843ec78b326b52861"),
		uint256.MustFromHex("0xfe5dee046a99a2a811c461f1969c3053"),
		uint256.MustFromHex("0xfcbe86c7900a88aedcffc83b479aa3a4"),
		uint256.MustFromHex("0xf987a7253ac413176f2b074cf7815e54"),
		uint256.MustFromHex("0xf3392b0822b70005940c7a398e4b70f3"),
		uint256.MustFromHex("0xe7159475a2c29b7443b29c7fa6e889d9"),
		uint256.MustFromHex("0xd097f3bdfd2022b8845ad8f792aa5825"),
		uint256.MustFromHex("0xa9f746462d870fdf8a65dc1f90e061e5"),
		uint256.MustFromHex("0x70d869a156d2a1b890bb3df62baf32f7"),
		uint256.MustFromHex("0x31be135f97d08fd981231505542fcfa6"),
		uint256.MustFromHex("0x9aa508b5b7a84e1c677de54f3e99bc9"),
		uint256.MustFromHex("0x5d6af8dedb81196699c329225ee604"),
		uint256.MustFromHex("0x2216e584f5fa1ea926041bedfe98"),
		uint256.MustFromHex("0x48a170391f7dc42444e8fa2"),
	}

	// q128 is 1.0 as a Q128.128.
	q128 = new(uint256.Int).Lsh(uint256.NewInt(1), 128)
)

// GetSqrtRatioAtTick returns sqrt(1.0001^tick) as a Q64.96, rounded up exactly like TickMath.sol.
func GetSqrtRatioAtTick(tick int32) (*big.Int, error) {
	if tick < MinTick || tick > MaxTick {
		return nil, ErrTickOutOfBounds
	}
	absTick := uint32(tick)
	if tick < 0 {
		absTick = uint32(-tick)
	}

	ratio := new(uint256.Int).Set(q128)
	if absTick&1 != 0 {
		ratio.Set(tickFactors[0])
	}
	for i := 1; i < len(tickFactors); i++ {
		if absTick&(1<<uint(i)) != 0 {
			ratio.Mul(ratio, tickFactors[i])
			ratio.Rsh(ratio, 128)
		}
	}
	if tick > 0 {
		ratio.Div(maxUint256, ratio)
	}

	roundUp := !new(uint256.Int).And(ratio, q32Mask).IsZero()
	ratio.Rsh(ratio, 32)
	if roundUp {
		ratio.AddUint64(ratio, 1)
	}
	return ratio.ToBig(), nil
}

// GetTickAtSqrtRatio returns the greatest tick whose sqrt ratio is <= sqrtPriceX96.
func GetTickAtSqrtRatio(sqrtPriceX96 *big.Int) (int32, error) {
	if sqrtPriceX96.Cmp(MinSqrtRatio) < 0 || sqrtPriceX96.Cmp(MaxSqrtRatio) >= 0 {
		return 0, ErrSqrtPriceOutOfBounds
	}
	lo, hi := MinTick, MaxTick
	tick := MinTick
	for lo <= hi {
		mid := lo + (hi-lo)/2
		r, err := GetSqrtRatioAtTick(mid)
		if err != nil {
			return 0, err
		}
		if r.Cmp(sqrtPriceX96) <= 0 {
			tick = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return tick, nil
}
