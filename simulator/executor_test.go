package simulator

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/defistate/defistate-arb/engine"
	"github.com/defistate/defistate-arb/protocols/uniswapv2"
	"github.com/defistate/defistate-arb/state"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	msg       ethereum.CallMsg
	overrides map[common.Address]gethclient.OverrideAccount
	ret       []byte
	err       error
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int, overrides *map[common.Address]gethclient.OverrideAccount) ([]byte, error) {
	f.msg = msg
	f.overrides = *overrides
	return f.ret, f.err
}

// rpcDataError mimics the error geth's rpc client returns for a reverted call.
type rpcDataError struct {
	data string
}

func (e rpcDataError) Error() string { return "execution reverted" }
func (e rpcDataError) ErrorData() interface{} { return e.data }

func revertData(t *testing.T, reason string) string {
	t.Helper()
	stringT, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	packed, err := abi.Arguments{{Type: stringT}}.Pack(reason)
	require.NoError(t, err)
	return hexutil.Encode(append([]byte{0x08, 0xc3, 0x79, 0xa0}, packed...))
}

var helperAddr = common.HexToAddress("0x00000000000000000000000000000000000000ff")

func TestHelperExecutor_Quote(t *testing.T) {
	f := newTriangle(t, false)
	ret, err := helperABI.Methods["quote"].Outputs.Pack(big.NewInt(1974), big.NewInt(91_234))
	require.NoError(t, err)

	caller := &fakeCaller{ret: ret}
	exec := &HelperExecutor{Caller: caller, Helper: helperAddr, Code: []byte{0x60, 0x00}}
	s := newSimulator(t, exec, 0)

	env := engine.Env{From: common.HexToAddress("0xbeef"), GasLimit: 30_000_000}
	out, gas, err := s.CalculateWithInAmount(context.Background(), f.overlay, env, f.paths[0], ether(1))
	require.NoError(t, err)
	assert.Equal(t, int64(1974), out.Int64())
	assert.Equal(t, uint64(3*91_234), gas)

	require.NotNil(t, caller.msg.To)
	assert.Equal(t, helperAddr, *caller.msg.To)
	assert.Equal(t, env.From, caller.msg.From)
	assert.Equal(t, helperABI.Methods["quote"].ID, caller.msg.Data[:4])

	// the overlay's pool writes and the injected helper both travel as overrides
	assert.Equal(t, []byte{0x60, 0x00}, caller.overrides[helperAddr].Code)
	pool := caller.overrides[poolWethUsdc]
	assert.Equal(t, uniswapv2.ReservesWord(ether(100), ether(200_000), 0), pool.StateDiff[uniswapv2.ReservesSlot])

	_, injected := f.overlay.Overrides()[helperAddr]
	assert.False(t, injected, "injection must stay on the simulation branch")
}

func TestHelperExecutor_Revert(t *testing.T) {
	f := newTriangle(t, false)
	caller := &fakeCaller{err: rpcDataError{data: revertData(t, "UniswapV2: INSUFFICIENT_OUTPUT_AMOUNT")}}
	s := newSimulator(t, &HelperExecutor{Caller: caller, Helper: helperAddr}, 0)

	_, _, err := s.CalculateWithInAmount(context.Background(), f.overlay, engine.Env{}, f.paths[0], ether(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRevert)

	var se *SimError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "UniswapV2: INSUFFICIENT_OUTPUT_AMOUNT", se.Reason)
	assert.Equal(t, poolWethUsdc, se.Pool)
}

func TestHelperExecutor_TransportError(t *testing.T) {
	f := newTriangle(t, false)
	caller := &fakeCaller{err: errors.New("connection refused")}
	s := newSimulator(t, &HelperExecutor{Caller: caller, Helper: helperAddr}, 0)

	_, _, err := s.CalculateWithInAmount(context.Background(), f.overlay, engine.Env{}, f.paths[0], ether(1))
	require.Error(t, err)
	assert.Zero(t, KindOf(err))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestGethOverrides(t *testing.T) {
	nonce := uint64(7)
	out := GethOverrides(map[common.Address]state.AccountOverride{
		helperAddr: {Nonce: &nonce, Balance: big.NewInt(10)},
	})
	assert.Equal(t, uint64(7), out[helperAddr].Nonce)
	assert.Equal(t, int64(10), out[helperAddr].Balance.Int64())
}
