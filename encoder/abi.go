package encoder

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const aggregatorABIJSON = `[
	{"type":"function","name":"aggregate","stateMutability":"payable","inputs":[{"name":"calls","type":"tuple[]","components":[{"name":"target","type":"address"},{"name":"value","type":"uint256"},{"name":"data","type":"bytes"}]}],"outputs":[]},
	{"type":"function","name":"sweep","stateMutability":"nonpayable","inputs":[{"name":"token","type":"address"},{"name":"to","type":"address"}],"outputs":[]}
]`

const erc20ABIJSON = `[
	{"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"transferFrom","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

const pairABIJSON = `[{"type":"function","name":"swap","stateMutability":"nonpayable","inputs":[{"name":"amount0Out","type":"uint256"},{"name":"amount1Out","type":"uint256"},{"name":"to","type":"address"},{"name":"data","type":"bytes"}],"outputs":[]}]`

const clPoolABIJSON = `[{"type":"function","name":"swap","stateMutability":"nonpayable","inputs":[{"name":"recipient","type":"address"},{"name":"zeroForOne","type":"bool"},{"name":"amountSpecified","type":"int256"},{"name":"sqrtPriceLimitX96","type":"uint160"},{"name":"data","type":"bytes"}],"outputs":[{"name":"amount0","type":"int256"},{"name":"amount1","type":"int256"}]}]`

const stablePoolABIJSON = `[{"type":"function","name":"exchange","stateMutability":"nonpayable","inputs":[{"name":"i","type":"int128"},{"name":"j","type":"int128"},{"name":"dx","type":"uint256"},{"name":"min_dy","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]}]`

var (
	AggregatorABI = mustParse(aggregatorABIJSON)
	ERC20ABI      = mustParse(erc20ABIJSON)
	PairABI       = mustParse(pairABIJSON)
	CLPoolABI     = mustParse(clPoolABIJSON)
	StablePoolABI = mustParse(stablePoolABIJSON)
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}
