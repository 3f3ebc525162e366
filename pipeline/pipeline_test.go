package pipeline

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"

	"github.com/defistate/defistate-arb/market"
	"github.com/defistate/defistate-arb/protocols/uniswapv2"
	"github.com/defistate/defistate-arb/state"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

// well-known anvil/hardhat account #0
const testKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var (
	weth = market.Token{Address: common.HexToAddress("0x0000000000000000000000000000000000000001"), Symbol: "WETH", Decimals: 18}
	usdc = market.Token{Address: common.HexToAddress("0x0000000000000000000000000000000000000002"), Symbol: "USDC", Decimals: 18}
	dai  = market.Token{Address: common.HexToAddress("0x0000000000000000000000000000000000000003"), Symbol: "DAI", Decimals: 18}

	poolWethUsdc = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	poolUsdcDai  = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	poolDaiWeth  = common.HexToAddress("0x00000000000000000000000000000000000000a3")

	aggregator = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	owner      = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// reserves of the profitable triangle: 1 WETH = 2000 USDC, 1 USDC = 1.1 DAI, 1 WETH = 2000 DAI.
var triangleReserves = map[common.Address][2]*big.Int{
	poolWethUsdc: {ether(100), ether(200_000)},
	poolUsdcDai:  {ether(1_000_000), ether(1_100_000)},
	poolDaiWeth:  {ether(2_000_000), ether(1000)},
}

// triangleGraph registers the three pools of the triangle.
func triangleGraph(t *testing.T) *market.Graph {
	t.Helper()
	g := market.NewGraph(weth)
	require.NoError(t, g.RegisterTokens([]market.Token{usdc, dai}))
	require.NoError(t, g.RegisterPools([]market.Pool{
		uniswapv2.NewPool(poolWethUsdc, weth.Address, usdc.Address, uniswapv2.DefaultFeeBps),
		uniswapv2.NewPool(poolUsdcDai, usdc.Address, dai.Address, uniswapv2.DefaultFeeBps),
		uniswapv2.NewPool(poolDaiWeth, dai.Address, weth.Address, uniswapv2.DefaultFeeBps),
	}))
	return g
}

// triangleOverlay is an offline overlay holding reserves.
func triangleOverlay(reserves map[common.Address][2]*big.Int) *state.Overlay {
	o := state.New(state.NewBase(nil, nil))
	for addr, r := range reserves {
		o.SetStorage(addr, uniswapv2.ReservesSlot, uniswapv2.ReservesWord(r[0], r[1], 0))
	}
	return o
}

// blockSource serves storage per block.
type blockSource struct {
	mu      sync.Mutex
	storage map[uint64]map[common.Address]map[common.Hash]common.Hash
}

func newBlockSource() *blockSource {
	return &blockSource{storage: make(map[uint64]map[common.Address]map[common.Hash]common.Hash)}
}

func (s *blockSource) setReserves(block uint64, reserves map[common.Address][2]*big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := make(map[common.Address]map[common.Hash]common.Hash, len(reserves))
	for addr, r := range reserves {
		m[addr] = map[common.Hash]common.Hash{uniswapv2.ReservesSlot: uniswapv2.ReservesWord(r[0], r[1], 0)}
	}
	s.storage[block] = m
}

func (s *blockSource) StorageAt(_ context.Context, addr common.Address, slot common.Hash, block *big.Int) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storage[block.Uint64()][addr][slot], nil
}

func (s *blockSource) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	return new(big.Int), nil
}

func (s *blockSource) NonceAt(context.Context, common.Address, *big.Int) (uint64, error) {
	return 7, nil
}

func (s *blockSource) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return nil, nil
}
