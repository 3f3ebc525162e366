package ethereum

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test Setup: Mock Node ---

type mockEth struct {
	mu     sync.Mutex
	blocks []string
	sent   [][]byte
}

func (m *mockEth) record(block string) {
	m.mu.Lock()
	m.blocks = append(m.blocks, block)
	m.mu.Unlock()
}

func (m *mockEth) GetStorageAt(addr common.Address, slot common.Hash, block string) (hexutil.Bytes, error) {
	m.record(block)
	return common.BigToHash(big.NewInt(0x2a)).Bytes(), nil
}

func (m *mockEth) GetBalance(addr common.Address, block string) (*hexutil.Big, error) {
	m.record(block)
	return (*hexutil.Big)(big.NewInt(1e18)), nil
}

func (m *mockEth) GetTransactionCount(addr common.Address, block string) (hexutil.Uint64, error) {
	m.record(block)
	return 7, nil
}

func (m *mockEth) GetCode(addr common.Address, block string) (hexutil.Bytes, error) {
	m.record(block)
	return hexutil.Bytes{0x60, 0x00}, nil
}

func (m *mockEth) EstimateGas(args map[string]any, block *string) (hexutil.Uint64, error) {
	return 123456, nil
}

func (m *mockEth) SendRawTransaction(raw hexutil.Bytes) (common.Hash, error) {
	m.mu.Lock()
	m.sent = append(m.sent, raw)
	m.mu.Unlock()
	return crypto.Keccak256Hash(raw), nil
}

type mockEVM struct {
	mu        sync.Mutex
	snapshots int
	automine  bool
	mined     int
}

func (m *mockEVM) Snapshot() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots++
	return hexutil.EncodeUint64(uint64(m.snapshots)), nil
}

func (m *mockEVM) Revert(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, err := hexutil.DecodeUint64(id)
	if err != nil {
		return false, err
	}
	if n == 0 || int(n) > m.snapshots {
		return false, errors.New("unknown snapshot")
	}
	m.snapshots = int(n) - 1
	return true, nil
}

func (m *mockEVM) Mine() error {
	m.mu.Lock()
	m.mined++
	m.mu.Unlock()
	return nil
}

func (m *mockEVM) SetAutomine(enabled bool) error {
	m.mu.Lock()
	m.automine = enabled
	m.mu.Unlock()
	return nil
}

type mockAnvil struct {
	code map[common.Address][]byte
}

func (m *mockAnvil) SetCode(addr common.Address, code hexutil.Bytes) error {
	m.code[addr] = code
	return nil
}

func newTestClient(t *testing.T) (*Client, *mockEth, *mockEVM, *mockAnvil) {
	t.Helper()
	eth, evm, anvil := &mockEth{}, &mockEVM{}, &mockAnvil{code: map[common.Address][]byte{}}

	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("eth", eth))
	require.NoError(t, server.RegisterName("evm", evm))
	require.NoError(t, server.RegisterName("anvil", anvil))
	t.Cleanup(server.Stop)

	rc := rpc.DialInProc(server)
	c, err := NewClient(rc, slog.New(slog.NewTextHandler(io.Discard, nil)), prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c, eth, evm, anvil
}

func TestClient_StateReads(t *testing.T) {
	c, eth, _, _ := newTestClient(t)
	ctx := context.Background()
	addr := common.HexToAddress("0x01")
	block := big.NewInt(100)

	word, err := c.StorageAt(ctx, addr, common.Hash{}, block)
	require.NoError(t, err)
	assert.Equal(t, common.BigToHash(big.NewInt(0x2a)), word)

	bal, err := c.BalanceAt(ctx, addr, block)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1e18), bal)

	nonce, err := c.NonceAt(ctx, addr, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), nonce)

	code, err := c.CodeAt(ctx, addr, block)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x60, 0x00}, code)

	assert.Equal(t, []string{"0x64", "0x64", "latest", "0x64"}, eth.blocks)
}

func TestClient_Transactions(t *testing.T) {
	c, eth, _, _ := newTestClient(t)
	ctx := context.Background()

	to := common.HexToAddress("0x02")
	gas, err := c.EstimateGas(ctx, ethereum.CallMsg{To: &to, Data: []byte{0x01}})
	require.NoError(t, err)
	assert.Equal(t, uint64(123456), gas)

	raw := []byte{0x02, 0xf8, 0x01}
	hash, err := c.SendRawTransaction(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, crypto.Keccak256Hash(raw), hash)
	require.Len(t, eth.sent, 1)
	assert.Equal(t, raw, eth.sent[0])
}

func TestClient_ForkHelpers(t *testing.T) {
	c, _, evm, anvil := newTestClient(t)
	ctx := context.Background()

	id, err := c.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0x1", id)

	require.NoError(t, c.SetAutomine(ctx, false))
	require.NoError(t, c.Mine(ctx))
	assert.False(t, evm.automine)
	assert.Equal(t, 1, evm.mined)

	ok, err := c.Revert(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = c.Revert(ctx, id)
	assert.Error(t, err, "a snapshot can only be reverted to once")

	helper := common.HexToAddress("0x99")
	require.NoError(t, c.SetCode(ctx, helper, []byte{0xfe}))
	assert.Equal(t, []byte{0xfe}, anvil.code[helper])

	assert.Equal(t, float64(1), testutil.ToFloat64(c.metrics.requestErrors.WithLabelValues("evm_revert")))
	assert.Equal(t, float64(0), testutil.ToFloat64(c.metrics.requestErrors.WithLabelValues("evm_snapshot")))
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(nil, slog.Default(), prometheus.NewRegistry())
	assert.Error(t, err)

	server := rpc.NewServer()
	defer server.Stop()
	rc := rpc.DialInProc(server)
	defer rc.Close()

	_, err = NewClient(rc, nil, prometheus.NewRegistry())
	assert.Error(t, err)
	_, err = NewClient(rc, slog.Default(), nil)
	assert.Error(t, err)
}
