// Package ethereum implements chains.ForkNode over a standard JSON-RPC endpoint.
package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/defistate/defistate-arb/chains"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultRequestTimeout bounds every call that arrives without a deadline.
const DefaultRequestTimeout = 10 * time.Second

// Client is a chain node reached over JSON-RPC. The fork helpers only work
// against anvil or hardhat style nodes.
type Client struct {
	rpc     *rpc.Client
	eth     *ethclient.Client
	geth    *gethclient.Client
	logger  chains.Logger
	metrics *metrics
	timeout time.Duration
}

var _ chains.ForkNode = (*Client)(nil)

// Option configures the Client.
// The interface method is unexported to prevent external modification after Dial.
type Option interface {
	apply(*Client)
}

type funcOption func(*Client)

func (f funcOption) apply(c *Client) {
	f(c)
}

func newOption(f func(*Client)) Option {
	return funcOption(f)
}

// WithRequestTimeout overrides DefaultRequestTimeout.
func WithRequestTimeout(d time.Duration) Option {
	return newOption(func(c *Client) {
		c.timeout = d
	})
}

// Dial connects to url, which may be http(s), ws(s) or an IPC path.
func Dial(
	ctx context.Context,
	url string,
	logger chains.Logger,
	prometheusRegistry prometheus.Registerer,
	opts ...Option,
) (*Client, error) {
	rc, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial node: %w", err)
	}
	c, err := NewClient(rc, logger, prometheusRegistry, opts...)
	if err != nil {
		rc.Close()
		return nil, err
	}
	c.logger.Info("Node client connected", "url", url)
	return c, nil
}

// NewClient wraps an existing rpc client.
func NewClient(rc *rpc.Client, logger chains.Logger, prometheusRegistry prometheus.Registerer, opts ...Option) (*Client, error) {
	if rc == nil {
		return nil, errors.New("config: rpc client cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("config: Logger cannot be nil")
	}
	if prometheusRegistry == nil {
		return nil, errors.New("config: Registry cannot be nil")
	}
	c := &Client{
		rpc:     rc,
		eth:     ethclient.NewClient(rc),
		geth:    gethclient.New(rc),
		logger:  logger,
		metrics: newMetrics(prometheusRegistry),
		timeout: DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt.apply(c)
	}
	return c, nil
}

// RPC exposes the raw rpc client for subscriptions.
func (c *Client) RPC() *rpc.Client { return c.rpc }

// Geth exposes the geth-specific client used for calls with state overrides.
func (c *Client) Geth() *gethclient.Client { return c.geth }

func (c *Client) Close() { c.rpc.Close() }

// observe bounds ctx and records the call's latency and outcome.
func (c *Client) observe(ctx context.Context, method string) (context.Context, func(error)) {
	start := time.Now()
	cancel := func() {}
	if _, ok := ctx.Deadline(); !ok {
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
	}
	return ctx, func(err error) {
		cancel()
		c.metrics.observe(method, time.Since(start), err)
	}
}

func (c *Client) StorageAt(ctx context.Context, account common.Address, slot common.Hash, block *big.Int) (common.Hash, error) {
	ctx, done := c.observe(ctx, "eth_getStorageAt")
	raw, err := c.eth.StorageAt(ctx, account, slot, block)
	done(err)
	if err != nil {
		return common.Hash{}, fmt.Errorf("storage %s/%s: %w", account.Hex(), slot.Hex(), err)
	}
	return common.BytesToHash(raw), nil
}

func (c *Client) BalanceAt(ctx context.Context, account common.Address, block *big.Int) (*big.Int, error) {
	ctx, done := c.observe(ctx, "eth_getBalance")
	bal, err := c.eth.BalanceAt(ctx, account, block)
	done(err)
	if err != nil {
		return nil, fmt.Errorf("balance %s: %w", account.Hex(), err)
	}
	return bal, nil
}

func (c *Client) NonceAt(ctx context.Context, account common.Address, block *big.Int) (uint64, error) {
	ctx, done := c.observe(ctx, "eth_getTransactionCount")
	nonce, err := c.eth.NonceAt(ctx, account, block)
	done(err)
	if err != nil {
		return 0, fmt.Errorf("nonce %s: %w", account.Hex(), err)
	}
	return nonce, nil
}

func (c *Client) CodeAt(ctx context.Context, account common.Address, block *big.Int) ([]byte, error) {
	ctx, done := c.observe(ctx, "eth_getCode")
	code, err := c.eth.CodeAt(ctx, account, block)
	done(err)
	if err != nil {
		return nil, fmt.Errorf("code %s: %w", account.Hex(), err)
	}
	return code, nil
}

func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	ctx, done := c.observe(ctx, "eth_getBlockByNumber")
	h, err := c.eth.HeaderByNumber(ctx, number)
	done(err)
	return h, err
}

func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	ctx, done := c.observe(ctx, "eth_estimateGas")
	gas, err := c.eth.EstimateGas(ctx, msg)
	done(err)
	return gas, err
}

func (c *Client) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	ctx, done := c.observe(ctx, "eth_sendRawTransaction")
	var hash common.Hash
	err := c.rpc.CallContext(ctx, &hash, "eth_sendRawTransaction", hexutil.Bytes(raw))
	done(err)
	return hash, err
}

func (c *Client) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, done := c.observe(ctx, "eth_getTransactionReceipt")
	r, err := c.eth.TransactionReceipt(ctx, hash)
	done(err)
	return r, err
}

// TransactionByHash looks up a transaction, reporting whether it is still pending.
func (c *Client) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	ctx, done := c.observe(ctx, "eth_getTransactionByHash")
	tx, pending, err := c.eth.TransactionByHash(ctx, hash)
	done(err)
	return tx, pending, err
}

// Snapshot records the fork's state and returns the id Revert takes.
func (c *Client) Snapshot(ctx context.Context) (string, error) {
	ctx, done := c.observe(ctx, "evm_snapshot")
	var id hexutil.Big
	err := c.rpc.CallContext(ctx, &id, "evm_snapshot")
	done(err)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Revert restores the fork to a snapshot. Each snapshot can be reverted to once.
func (c *Client) Revert(ctx context.Context, id string) (bool, error) {
	ctx, done := c.observe(ctx, "evm_revert")
	var ok bool
	err := c.rpc.CallContext(ctx, &ok, "evm_revert", id)
	done(err)
	return ok, err
}

// Mine seals one block with the pending transactions.
func (c *Client) Mine(ctx context.Context) error {
	ctx, done := c.observe(ctx, "evm_mine")
	err := c.rpc.CallContext(ctx, nil, "evm_mine")
	done(err)
	return err
}

func (c *Client) SetAutomine(ctx context.Context, enabled bool) error {
	ctx, done := c.observe(ctx, "evm_setAutomine")
	err := c.rpc.CallContext(ctx, nil, "evm_setAutomine", enabled)
	done(err)
	return err
}

// SetCode replaces an account's code on the fork.
func (c *Client) SetCode(ctx context.Context, account common.Address, code []byte) error {
	ctx, done := c.observe(ctx, "anvil_setCode")
	err := c.rpc.CallContext(ctx, nil, "anvil_setCode", account, hexutil.Bytes(code))
	done(err)
	return err
}

// SetStorageAt writes one storage slot on the fork.
func (c *Client) SetStorageAt(ctx context.Context, account common.Address, slot, value common.Hash) error {
	ctx, done := c.observe(ctx, "anvil_setStorageAt")
	err := c.rpc.CallContext(ctx, nil, "anvil_setStorageAt", account, slot, value)
	done(err)
	return err
}

// ImpersonateAccount lets the fork accept unsigned transactions from account.
func (c *Client) ImpersonateAccount(ctx context.Context, account common.Address) error {
	ctx, done := c.observe(ctx, "anvil_impersonateAccount")
	err := c.rpc.CallContext(ctx, nil, "anvil_impersonateAccount", account)
	done(err)
	return err
}
