package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync/atomic"

	"github.com/defistate/defistate-arb/engine"
	"github.com/defistate/defistate-arb/signer"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// SignatureHeader carries the searcher's signature over the request body.
const SignatureHeader = "X-Flashbots-Signature"

// maxResponseBytes caps how much of a relay response is read.
const maxResponseBytes = 1 << 20

type FlashbotsConfig struct {
	Name string
	URL  string
	// Signer signs request bodies. Nil sends unsigned requests, which some builders accept.
	Signer     *signer.Signer
	HTTPClient *http.Client
}

func (c *FlashbotsConfig) validate() error {
	if c.Name == "" {
		return errors.New("config: Name cannot be empty")
	}
	if c.URL == "" {
		return errors.New("config: URL cannot be empty")
	}
	return nil
}

// FlashbotsRelay speaks the eth_sendBundle / eth_callBundle JSON-RPC dialect
// shared by most block builders.
type FlashbotsRelay struct {
	name   string
	url    string
	signer *signer.Signer
	client *http.Client
	nextID atomic.Uint64
}

func NewFlashbotsRelay(cfg *FlashbotsConfig) (*FlashbotsRelay, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: DefaultDispatchTimeout}
	}
	return &FlashbotsRelay{
		name:   cfg.Name,
		url:    cfg.URL,
		signer: cfg.Signer,
		client: client,
	}, nil
}

func (r *FlashbotsRelay) Name() string { return r.name }

func (r *FlashbotsRelay) URL() string { return r.url }

type sendBundleParams struct {
	Txs               []hexutil.Bytes `json:"txs"`
	BlockNumber       hexutil.Uint64  `json:"blockNumber"`
	RevertingTxHashes []common.Hash   `json:"revertingTxHashes,omitempty"`
	ReplacementUUID   string          `json:"replacementUuid,omitempty"`
}

type callBundleParams struct {
	Txs              []hexutil.Bytes  `json:"txs"`
	BlockNumber      hexutil.Uint64   `json:"blockNumber"`
	StateBlockNumber hexutil.Uint64   `json:"stateBlockNumber"`
	Timestamp        uint64           `json:"timestamp,omitempty"`
	AccessList       types.AccessList `json:"accessList,omitempty"`
}

// SendBundle submits bundle for its target block. The bundle id is sent as the
// replacement uuid so a later bundle with the same id supersedes it.
func (r *FlashbotsRelay) SendBundle(ctx context.Context, bundle *engine.Bundle) (Ack, error) {
	if err := r.checkBundle(bundle); err != nil {
		return Ack{}, err
	}
	params := sendBundleParams{
		Txs:               rawTxs(bundle),
		BlockNumber:       hexutil.Uint64(bundle.TargetBlock),
		RevertingTxHashes: bundle.RevertingTxHashes,
		ReplacementUUID:   bundle.ID.String(),
	}
	var result struct {
		BundleHash common.Hash `json:"bundleHash"`
	}
	if err := r.call(ctx, "eth_sendBundle", params, &result); err != nil {
		return Ack{}, err
	}
	return Ack{BundleHash: result.BundleHash}, nil
}

// TxSimulation is the per-transaction part of an eth_callBundle answer.
type TxSimulation struct {
	TxHash  common.Hash `json:"txHash"`
	GasUsed uint64      `json:"gasUsed"`
	Error   string      `json:"error,omitempty"`
	Revert  string      `json:"revert,omitempty"`
}

// Simulation is the decoded eth_callBundle answer.
type Simulation struct {
	BundleHash   common.Hash    `json:"bundleHash"`
	CoinbaseDiff *big.Int       `json:"-"`
	TotalGasUsed uint64         `json:"totalGasUsed"`
	StateBlock   uint64         `json:"stateBlockNumber"`
	Results      []TxSimulation `json:"results"`
}

// Reverted reports whether any transaction in the simulated bundle failed.
func (s Simulation) Reverted() bool {
	for _, tx := range s.Results {
		if tx.Error != "" || tx.Revert != "" {
			return true
		}
	}
	return false
}

// SimulateBundle runs bundle with eth_callBundle on top of the state of the
// block before its target. The bundle's access list is sent as a prefetch hint.
func (r *FlashbotsRelay) SimulateBundle(ctx context.Context, bundle *engine.Bundle) (Simulation, error) {
	if err := r.checkBundle(bundle); err != nil {
		return Simulation{}, err
	}
	params := callBundleParams{
		Txs:              rawTxs(bundle),
		BlockNumber:      hexutil.Uint64(bundle.TargetBlock),
		StateBlockNumber: hexutil.Uint64(bundle.TargetBlock - 1),
		AccessList:       bundle.AccessList,
	}
	var raw struct {
		BundleHash       common.Hash    `json:"bundleHash"`
		CoinbaseDiff     string         `json:"coinbaseDiff"`
		TotalGasUsed     uint64         `json:"totalGasUsed"`
		StateBlockNumber uint64         `json:"stateBlockNumber"`
		Results          []TxSimulation `json:"results"`
	}
	if err := r.call(ctx, "eth_callBundle", params, &raw); err != nil {
		return Simulation{}, err
	}
	sim := Simulation{
		BundleHash:   raw.BundleHash,
		CoinbaseDiff: new(big.Int),
		TotalGasUsed: raw.TotalGasUsed,
		StateBlock:   raw.StateBlockNumber,
		Results:      raw.Results,
	}
	if raw.CoinbaseDiff != "" {
		if _, ok := sim.CoinbaseDiff.SetString(raw.CoinbaseDiff, 10); !ok {
			return Simulation{}, r.fail(ErrTransport, 0, "bad coinbaseDiff "+raw.CoinbaseDiff, nil)
		}
	}
	return sim, nil
}

func (r *FlashbotsRelay) checkBundle(bundle *engine.Bundle) error {
	switch {
	case bundle == nil:
		return r.fail(ErrMissingParams, 0, "nil bundle", nil)
	case len(bundle.Txs) == 0:
		return r.fail(ErrMissingParams, 0, "bundle has no transactions", nil)
	case bundle.TargetBlock == 0:
		return r.fail(ErrMissingParams, 0, "bundle has no target block", nil)
	}
	return nil
}

func rawTxs(bundle *engine.Bundle) []hexutil.Bytes {
	out := make([]hexutil.Bytes, len(bundle.Txs))
	for i, tx := range bundle.Txs {
		out[i] = tx
	}
	return out
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// invalidParamsCode is the JSON-RPC code for malformed parameters.
const invalidParamsCode = -32602

func (r *FlashbotsRelay) call(ctx context.Context, method string, params any, result any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      r.nextID.Add(1),
		Method:  method,
		Params:  []any{params},
	})
	if err != nil {
		return r.fail(ErrTransport, 0, "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return r.fail(ErrTransport, 0, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.signer != nil {
		sig, err := r.signer.SignRelayPayload(body)
		if err != nil {
			return r.fail(ErrTransport, 0, "sign request", err)
		}
		req.Header.Set(SignatureHeader, sig)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return r.fail(ErrTransport, 0, "", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return r.fail(ErrTransport, resp.StatusCode, "read response", err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		kind := ErrTransport
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			kind = ErrRelayRejected
		}
		return r.fail(kind, resp.StatusCode, truncate(string(data)), nil)
	}
	if rpcResp.Error != nil {
		kind := ErrRelayRejected
		if rpcResp.Error.Code == invalidParamsCode {
			kind = ErrMissingParams
		}
		return r.fail(kind, rpcResp.Error.Code, rpcResp.Error.Message, nil)
	}
	if resp.StatusCode != http.StatusOK {
		return r.fail(ErrTransport, resp.StatusCode, http.StatusText(resp.StatusCode), nil)
	}
	if result != nil && len(rpcResp.Result) > 0 {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return r.fail(ErrTransport, 0, "decode "+method+" result", err)
		}
	}
	return nil
}

func (r *FlashbotsRelay) fail(kind error, code int, msg string, err error) error {
	return &RelayError{Relay: r.name, Kind: kind, Code: code, Message: msg, Err: err}
}

func truncate(s string) string {
	const limit = 256
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

// Endpoint names a builder and whether it expects signed requests.
type Endpoint struct {
	Name   string
	URL    string
	Signed bool
}

// MainnetEndpoints are the Ethereum mainnet builders bundles are raced to.
var MainnetEndpoints = []Endpoint{
	{Name: "flashbots", URL: "https://relay.flashbots.net", Signed: true},
	{Name: "titan", URL: "https://rpc.titanbuilder.xyz", Signed: true},
	{Name: "f1b", URL: "https://rpc.f1b.io", Signed: true},
	{Name: "eden", URL: "https://api.edennetwork.io/v1/bundle", Signed: true},
	{Name: "eth-builder", URL: "https://eth-builder.com"},
	{Name: "beaverbuild", URL: "https://rpc.beaverbuild.org/"},
	{Name: "securerpc", URL: "https://api.securerpc.com/v1"},
	{Name: "rsync", URL: "https://rsync-builder.xyz"},
	{Name: "buildai", URL: "https://BuildAI.net"},
	{Name: "payload", URL: "https://rpc.payload.de"},
	{Name: "loki", URL: "https://rpc.lokibuilder.xyz", Signed: true},
	{Name: "ibuilder", URL: "https://rpc.ibuilder.xyz", Signed: true},
	{Name: "jetbuilder", URL: "https://rpc.jetbldr.xyz", Signed: true},
	{Name: "penguinbuild", URL: "https://rpc.penguinbuild.org", Signed: true},
	{Name: "gambit", URL: "https://builder.gmbit.co/rpc", Signed: true},
}

// SelectEndpoints returns the endpoints named in names, in the order of all.
// An empty names selects every endpoint.
func SelectEndpoints(all []Endpoint, names []string) ([]Endpoint, error) {
	if len(names) == 0 {
		return append([]Endpoint(nil), all...), nil
	}
	known := make(map[string]bool, len(all))
	for _, ep := range all {
		known[ep.Name] = true
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		if !known[n] {
			return nil, fmt.Errorf("relay: unknown endpoint %q", n)
		}
		want[n] = true
	}
	var out []Endpoint
	for _, ep := range all {
		if want[ep.Name] {
			out = append(out, ep)
		}
	}
	return out, nil
}

// NewRelays builds a FlashbotsRelay per endpoint sharing one HTTP client.
// Signed endpoints get s; the others are sent unsigned.
func NewRelays(endpoints []Endpoint, s *signer.Signer, client *http.Client) ([]Relay, error) {
	if client == nil {
		client = &http.Client{Timeout: DefaultDispatchTimeout}
	}
	out := make([]Relay, 0, len(endpoints))
	for _, ep := range endpoints {
		cfg := &FlashbotsConfig{Name: ep.Name, URL: ep.URL, HTTPClient: client}
		if ep.Signed {
			if s == nil {
				return nil, fmt.Errorf("relay %s requires a signer", ep.Name)
			}
			cfg.Signer = s
		}
		r, err := NewFlashbotsRelay(cfg)
		if err != nil {
			return nil, fmt.Errorf("relay %s: %w", ep.Name, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// DefaultRelays returns the mainnet builder set.
func DefaultRelays(s *signer.Signer) ([]Relay, error) {
	return NewRelays(MainnetEndpoints, s, &http.Client{Timeout: DefaultDispatchTimeout})
}
