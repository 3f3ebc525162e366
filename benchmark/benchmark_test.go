package benchmark

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/defistate/defistate-arb/market"
	"github.com/defistate/defistate-arb/state"
	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPool struct{ addr common.Address }

func (p stubPool) Address() common.Address { return p.addr }
func (p stubPool) Variant() market.Variant { return market.ConstantProduct }
func (p stubPool) Tokens() []common.Address { return nil }
func (p stubPool) SwapDirections() []market.SwapDirection { return nil }
func (p stubPool) GasEstimate() uint64 { return 0 }
func (p stubPool) WatchedSlots() []common.Hash { return nil }
func (p stubPool) Quote(context.Context, state.Reader, common.Address, common.Address, *big.Int) (*big.Int, error) {
	return nil, nil
}

var (
	weth = market.Token{Address: common.HexToAddress("0x01"), Symbol: "WETH", Decimals: 18, IsBase: true}
	usdc = market.Token{Address: common.HexToAddress("0x02"), Symbol: "USDC", Decimals: 6}
)

func roundTrip(pools ...string) market.SwapPath {
	return market.SwapPath{Hops: []market.Hop{
		{Pool: stubPool{common.HexToAddress(pools[0])}, TokenIn: weth, TokenOut: usdc},
		{Pool: stubPool{common.HexToAddress(pools[1])}, TokenIn: usdc, TokenOut: weth},
	}}
}

func TestEntry_JSON(t *testing.T) {
	data, err := json.Marshal(Entry{PathID: "WETH>USDC>WETH", Gas: 120000})
	require.NoError(t, err)
	assert.JSONEq(t, `["WETH>USDC>WETH",120000]`, string(data))

	var e Entry
	require.NoError(t, json.Unmarshal(data, &e))
	assert.Equal(t, Entry{PathID: "WETH>USDC>WETH", Gas: 120000}, e)

	assert.Error(t, json.Unmarshal([]byte(`["only-id"]`), &e))
	assert.Error(t, json.Unmarshal([]byte(`{"id":"x"}`), &e))
	assert.Error(t, json.Unmarshal([]byte(`[1, 2]`), &e))
}

func TestIDs_DisambiguateSharedRoutes(t *testing.T) {
	ms := []Measurement{
		{Path: roundTrip("0x20", "0x10"), Gas: 2},
		{Path: roundTrip("0x10", "0x20"), Gas: 1},
		{Path: market.SwapPath{Hops: []market.Hop{{Pool: stubPool{common.HexToAddress("0x30")}, TokenIn: weth, TokenOut: usdc}}}, Gas: 3},
	}

	ids := IDs(ms)
	// 0x10... sorts before 0x20... in the pool route, so it keeps the plain id.
	assert.Equal(t, []string{"WETH>USDC>WETH#2", "WETH>USDC>WETH", "WETH>USDC"}, ids)

	a := FromMeasurements(ms)
	assert.Equal(t, Artifact{
		{PathID: "WETH>USDC", Gas: 3},
		{PathID: "WETH>USDC>WETH", Gas: 1},
		{PathID: "WETH>USDC>WETH#2", Gas: 2},
	}, a)
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.json")
	a := Artifact{{PathID: "b", Gas: 2}, {PathID: "a", Gas: 1}}

	require.NoError(t, Save(path, a))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Less(t, strings.Index(string(raw), `"a"`), strings.Index(string(raw), `"b"`), "file is ordered by path id")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Artifact{{PathID: "a", Gas: 1}, {PathID: "b", Gas: 2}}, loaded)
	assert.Equal(t, Artifact{{PathID: "b", Gas: 2}, {PathID: "a", Gas: 1}}, a, "Save does not reorder its argument")

	empty := filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, Save(empty, nil))
	raw, err = os.ReadFile(empty)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(raw))

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCompare(t *testing.T) {
	stored := Artifact{{PathID: "WETH>USDC>WETH", Gas: 120000}, {PathID: "WETH>DAI>WETH", Gas: 90000}, {PathID: "gone", Gas: 1}}
	current := Artifact{{PathID: "WETH>USDC>WETH", Gas: 95000}, {PathID: "WETH>DAI>WETH", Gas: 90500}, {PathID: "WETH>WBTC>WETH", Gas: 140000}}

	deltas := Compare(current, stored)
	require.Len(t, deltas, 3)

	assert.Equal(t, "WETH>DAI>WETH", deltas[0].PathID)
	assert.Equal(t, int64(500), deltas[0].Change())

	assert.Equal(t, "WETH>USDC>WETH", deltas[1].PathID)
	assert.Equal(t, int64(-25000), deltas[1].Change())
	assert.False(t, deltas[1].NoData)

	assert.Equal(t, "WETH>WBTC>WETH", deltas[2].PathID)
	assert.True(t, deltas[2].NoData)
}

func TestRender(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = prev }()

	var buf bytes.Buffer
	err := Render(&buf, []Delta{
		{PathID: "A", Gas: 95000, Stored: 120000},
		{PathID: "B", Gas: 100, Stored: 40},
		{PathID: "C", Gas: 7, Stored: 7},
		{PathID: "D", Gas: 140000, NoData: true},
	})
	require.NoError(t, err)
	assert.Equal(t, strings.Join([]string{
		"-25000 : A 95000 - 120000",
		"+60 : B 100 - 40",
		"0 : C 7 - 7",
		"NO_DATA : D 140000",
		"",
	}, "\n"), buf.String())
}

func TestRender_Colors(t *testing.T) {
	prev := color.NoColor
	color.NoColor = false
	defer func() { color.NoColor = prev }()

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, []Delta{{PathID: "A", Gas: 2, Stored: 1}, {PathID: "B", Gas: 1, Stored: 2}}))
	lines := strings.Split(buf.String(), "\n")
	assert.Contains(t, lines[0], "\x1b[31m+1")
	assert.Contains(t, lines[1], "\x1b[32m-1")
}

func TestWriteFixture(t *testing.T) {
	agg := common.HexToAddress("0x7878787878787878787878787878787878787878")
	var buf bytes.Buffer
	err := WriteFixture(&buf, agg, []FixtureCase{
		{PathID: "WETH>USDC>WETH", Calldata: []byte{0xab, 0xcd}},
		{PathID: "WETH>DAI>WETH", Calldata: []byte{0x01}},
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "address constant AGGREGATOR = "+agg.Hex()+";")
	assert.Contains(t, out, "function test_000_WETH_DAI_WETH() public {\n        replay(hex\"01\");")
	assert.Contains(t, out, "function test_001_WETH_USDC_WETH() public {\n        replay(hex\"abcd\");")
	assert.Less(t, strings.Index(out, "// WETH>DAI>WETH"), strings.Index(out, "// WETH>USDC>WETH"))
	assert.True(t, strings.HasSuffix(out, "}\n"))
}
