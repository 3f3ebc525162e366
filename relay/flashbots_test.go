package relay

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/defistate/defistate-arb/engine"
	"github.com/defistate/defistate-arb/signer"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// well-known anvil/hardhat account #0
const testKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

type capturedRequest struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

func newRelayServer(t *testing.T, status int, response string, got *capturedRequest, header *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		if got != nil {
			require.NoError(t, json.Unmarshal(body, got))
		}
		if header != nil {
			*header = r.Header.Get(SignatureHeader)
			if *header != "" {
				_, err := signer.RecoverRelaySigner(*header, body)
				require.NoError(t, err, "signature must cover the exact body")
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestRelay(t *testing.T, url string, signed bool) *FlashbotsRelay {
	t.Helper()
	cfg := &FlashbotsConfig{Name: "test", URL: url}
	if signed {
		s, err := signer.New(testKey, big.NewInt(1))
		require.NoError(t, err)
		cfg.Signer = s
	}
	r, err := NewFlashbotsRelay(cfg)
	require.NoError(t, err)
	return r
}

func TestFlashbotsRelay_SendBundle(t *testing.T) {
	var (
		got    capturedRequest
		header string
	)
	hash := "0x1111111111111111111111111111111111111111111111111111111111111111"
	srv := newRelayServer(t, http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":{"bundleHash":"`+hash+`"}}`, &got, &header)
	r := newTestRelay(t, srv.URL, true)

	bundle := engine.NewBundle(0x1234, [][]byte{{0xde, 0xad}, {0xbe, 0xef}}, nil)
	ack, err := r.SendBundle(context.Background(), bundle)
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash(hash), ack.BundleHash)

	assert.Equal(t, "eth_sendBundle", got.Method)
	require.Len(t, got.Params, 1)
	var params map[string]any
	require.NoError(t, json.Unmarshal(got.Params[0], &params))
	assert.Equal(t, []any{"0xdead", "0xbeef"}, params["txs"])
	assert.Equal(t, "0x1234", params["blockNumber"])
	assert.Equal(t, bundle.ID.String(), params["replacementUuid"])
	assert.NotContains(t, params, "revertingTxHashes")

	assert.Contains(t, header, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266:")
}

func TestFlashbotsRelay_UnsignedHasNoHeader(t *testing.T) {
	header := "unset"
	srv := newRelayServer(t, http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":{"bundleHash":"0x0000000000000000000000000000000000000000000000000000000000000000"}}`, nil, &header)
	r := newTestRelay(t, srv.URL, false)

	_, err := r.SendBundle(context.Background(), testBundle())
	require.NoError(t, err)
	assert.Empty(t, header)
}

func TestFlashbotsRelay_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		response string
		kind     error
		code     int
	}{
		{"rpc error", http.StatusOK, `{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"bundle already included"}}`, ErrRelayRejected, -32000},
		{"invalid params", http.StatusBadRequest, `{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"missing blockNumber"}}`, ErrMissingParams, -32602},
		{"plain 403", http.StatusForbidden, `forbidden`, ErrRelayRejected, http.StatusForbidden},
		{"bad gateway", http.StatusBadGateway, `<html>502</html>`, ErrTransport, http.StatusBadGateway},
		{"empty 500", http.StatusInternalServerError, `{}`, ErrTransport, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newRelayServer(t, tt.status, tt.response, nil, nil)
			r := newTestRelay(t, srv.URL, false)

			_, err := r.SendBundle(context.Background(), testBundle())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)

			var re *RelayError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, "test", re.Relay)
			assert.Equal(t, tt.code, re.Code)
		})
	}
}

func TestFlashbotsRelay_MissingParamsNeverDial(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()
	r := newTestRelay(t, srv.URL, false)

	for _, b := range []*engine.Bundle{nil, engine.NewBundle(1, nil, nil), engine.NewBundle(0, [][]byte{{1}}, nil)} {
		_, err := r.SendBundle(context.Background(), b)
		assert.ErrorIs(t, err, ErrMissingParams)
	}
	assert.Zero(t, calls.Load())
}

func TestFlashbotsRelay_TransportTimeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)
	r := newTestRelay(t, srv.URL, false)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := r.SendBundle(ctx, testBundle())
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, TimedOut, Classify(err))
}

func TestFlashbotsRelay_SimulateBundle(t *testing.T) {
	var got capturedRequest
	resp := `{"jsonrpc":"2.0","id":1,"result":{
		"bundleHash":"0x2222222222222222222222222222222222222222222222222222222222222222",
		"coinbaseDiff":"1234567890123456789",
		"totalGasUsed":185000,
		"stateBlockNumber":99,
		"results":[
			{"txHash":"0x3333333333333333333333333333333333333333333333333333333333333333","gasUsed":185000,"revert":"UniswapV2: K"}
		]}}`
	srv := newRelayServer(t, http.StatusOK, resp, &got, nil)
	r := newTestRelay(t, srv.URL, true)

	pair := common.HexToAddress("0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc")
	reserves := common.BigToHash(big.NewInt(8))
	bundle := engine.NewBundle(100, [][]byte{{0x02, 0x01}}, types.AccessList{
		{Address: pair, StorageKeys: []common.Hash{reserves}},
	})
	sim, err := r.SimulateBundle(context.Background(), bundle)
	require.NoError(t, err)

	assert.Equal(t, "eth_callBundle", got.Method)
	var params struct {
		BlockNumber      string           `json:"blockNumber"`
		StateBlockNumber string           `json:"stateBlockNumber"`
		AccessList       types.AccessList `json:"accessList"`
	}
	require.NoError(t, json.Unmarshal(got.Params[0], &params))
	assert.Equal(t, "0x64", params.BlockNumber)
	assert.Equal(t, "0x63", params.StateBlockNumber)
	require.Len(t, params.AccessList, 1)
	assert.Equal(t, pair, params.AccessList[0].Address)
	assert.Equal(t, []common.Hash{reserves}, params.AccessList[0].StorageKeys)

	want, _ := new(big.Int).SetString("1234567890123456789", 10)
	assert.Equal(t, 0, want.Cmp(sim.CoinbaseDiff))
	assert.Equal(t, uint64(185000), sim.TotalGasUsed)
	assert.Equal(t, uint64(99), sim.StateBlock)
	require.Len(t, sim.Results, 1)
	assert.Equal(t, "UniswapV2: K", sim.Results[0].Revert)
	assert.True(t, sim.Reverted())
}

func TestNewRelays(t *testing.T) {
	_, err := NewRelays(MainnetEndpoints, nil, nil)
	assert.ErrorContains(t, err, "requires a signer")

	s, err := signer.New(testKey, big.NewInt(1))
	require.NoError(t, err)
	relays, err := DefaultRelays(s)
	require.NoError(t, err)
	require.Len(t, relays, len(MainnetEndpoints))
	assert.Equal(t, "flashbots", relays[0].Name())

	names := make(map[string]bool)
	for _, r := range relays {
		assert.False(t, names[r.Name()], "duplicate relay %s", r.Name())
		names[r.Name()] = true
	}
}

func TestSelectEndpoints(t *testing.T) {
	all, err := SelectEndpoints(MainnetEndpoints, nil)
	require.NoError(t, err)
	assert.Len(t, all, len(MainnetEndpoints))

	picked, err := SelectEndpoints(MainnetEndpoints, []string{"titan", "flashbots"})
	require.NoError(t, err)
	require.Len(t, picked, 2)
	assert.Equal(t, "flashbots", picked[0].Name, "registration order is kept")
	assert.Equal(t, "titan", picked[1].Name)

	_, err = SelectEndpoints(MainnetEndpoints, []string{"nope"})
	assert.ErrorContains(t, err, "unknown endpoint")
}
