// Package client follows a node's head and pending-transaction subscriptions,
// reconnecting with backoff when the connection drops.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/defistate/defistate-arb/engine"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
)

// Constants for reconnection logic
const (
	initialReconnectDelay = 1 * time.Second
	maxReconnectDelay     = 30 * time.Second

	// RpcNamespace is the namespace the node exposes subscriptions under.
	RpcNamespace           = "eth"
	NewHeadsSubscription   = "newHeads"
	PendingTxsSubscription = "newPendingTransactions"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds the configuration for the client.
type Config struct {
	URL        string
	Logger     Logger
	BufferSize uint
	// Pending also subscribes to pending transaction hashes.
	Pending bool
	// ReconnectDelay is the first backoff step. Zero uses one second.
	ReconnectDelay time.Duration
}

// validate checks if the configuration is valid.
func (c *Config) validate() error {
	if c.URL == "" {
		return errors.New("config: URL is required")
	}
	if c.BufferSize < 1 {
		return errors.New("config: BufferSize must be greater than 0")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	if c.ReconnectDelay < 0 {
		return errors.New("config: ReconnectDelay must not be negative")
	}
	return nil
}

// -----------------------------------------------------------------------------
// HeadProcessor
// -----------------------------------------------------------------------------

// HeadProcessor turns raw head notifications into block summaries, dropping
// duplicates and flagging gaps and reorgs. It is decoupled from the networking layer.
type HeadProcessor struct {
	last   *engine.BlockSummary
	headCh chan engine.BlockSummary
	logger Logger
}

// NewHeadProcessor creates a pure logic processor without networking.
func NewHeadProcessor(logger Logger, bufferSize uint) *HeadProcessor {
	return &HeadProcessor{
		logger: logger,
		headCh: make(chan engine.BlockSummary, bufferSize),
	}
}

// Heads returns a read-only channel of new heads. When the consumer falls
// behind, the oldest buffered head is discarded.
func (hp *HeadProcessor) Heads() <-chan engine.BlockSummary {
	return hp.headCh
}

// ProcessMessage decodes one newHeads notification and publishes it.
func (hp *HeadProcessor) ProcessMessage(rawData json.RawMessage) error {
	receivedAt := time.Now()
	var h wireHeader
	if err := json.Unmarshal(rawData, &h); err != nil {
		return fmt.Errorf("failed to unmarshal head: %w", err)
	}
	if h.Number == nil {
		return errors.New("head has no number")
	}
	head := h.summary(receivedAt.UnixNano())

	if hp.last != nil {
		n, last := head.Number.Uint64(), hp.last.Number.Uint64()
		switch {
		case n == last && head.Hash == hp.last.Hash:
			hp.logger.Debug("Duplicate head ignored", "block", n)
			return nil
		case n <= last:
			hp.logger.Warn("Chain reorganised", "block", n, "previous_head", last, "hash", head.Hash)
		case n > last+1:
			hp.logger.Warn("Missed heads", "from", last+1, "to", n-1)
		case head.ParentHash != hp.last.Hash:
			hp.logger.Warn("Head does not extend previous head", "block", n, "parent", head.ParentHash, "previous_hash", hp.last.Hash)
		}
	}

	hp.last = &head
	hp.publish(head)
	hp.logger.Debug("Head processed",
		"block", head.Number,
		"latency_total_ms", receivedAt.Sub(time.Unix(int64(head.Timestamp), 0)).Milliseconds(),
	)
	return nil
}

func (hp *HeadProcessor) publish(head engine.BlockSummary) {
	for {
		select {
		case hp.headCh <- head:
			return
		default:
		}
		select {
		case dropped := <-hp.headCh:
			hp.logger.Warn("Head buffer full, discarding oldest head", "block", dropped.Number)
		default:
		}
	}
}

// -----------------------------------------------------------------------------
// Client (Networking Wrapper)
// -----------------------------------------------------------------------------

// Client manages the connection and uses HeadProcessor for logic.
type Client struct {
	processor      *HeadProcessor
	pendingCh      chan common.Hash
	errCh          chan error
	logger         Logger
	pending        bool
	reconnectDelay time.Duration
}

// NewClient creates a new client with networking enabled.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	client := &Client{
		processor:      NewHeadProcessor(cfg.Logger, cfg.BufferSize),
		pendingCh:      make(chan common.Hash, 1024),
		errCh:          make(chan error, 1),
		logger:         cfg.Logger,
		pending:        cfg.Pending,
		reconnectDelay: cfg.ReconnectDelay,
	}
	if client.reconnectDelay == 0 {
		client.reconnectDelay = initialReconnectDelay
	}

	go client.run(ctx, cfg.URL)
	return client, nil
}

// Heads delegates to the processor's head channel.
func (c *Client) Heads() <-chan engine.BlockSummary {
	return c.processor.Heads()
}

// Pending returns pending transaction hashes. Hashes that arrive while the
// buffer is full are dropped.
func (c *Client) Pending() <-chan common.Hash {
	return c.pendingCh
}

// Err returns a read-only channel for receiving fatal (unrecoverable) errors.
// It is closed when the client stops.
func (c *Client) Err() <-chan error {
	return c.errCh
}

// run handles the networking lifecycle and feeds data to the processor.
func (c *Client) run(ctx context.Context, url string) {
	defer close(c.errCh)
	reconnectDelay := c.reconnectDelay

	for {
		if ctx.Err() != nil {
			c.logger.Info("Client context canceled, shutting down.")
			return
		}

		c.logger.Info("Attempting to connect to RPC server", "url", url)
		rpcClient, err := rpc.DialContext(ctx, url)
		if err != nil {
			c.logger.Error("Failed to connect to RPC server, will retry...", "error", err, "delay", reconnectDelay)
			if !sleep(ctx, reconnectDelay) {
				return
			}
			reconnectDelay = min(reconnectDelay*2, maxReconnectDelay)
			continue
		}

		c.logger.Info("Successfully connected to RPC server.")
		reconnectDelay = c.reconnectDelay

		err = c.subscribeAndProcess(ctx, rpcClient)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				c.logger.Info("Context canceled, shutting down.")
				return
			}
			c.logger.Error("Subscription failed, will reconnect...", "error", err, "delay", reconnectDelay)
			if !sleep(ctx, reconnectDelay) {
				return
			}
			reconnectDelay = min(reconnectDelay*2, maxReconnectDelay)
		}
	}
}

func (c *Client) subscribeAndProcess(ctx context.Context, rpcClient *rpc.Client) error {
	defer rpcClient.Close()

	rawCh := make(chan json.RawMessage)
	sub, err := rpcClient.Subscribe(ctx, RpcNamespace, rawCh, NewHeadsSubscription)
	if err != nil {
		return fmt.Errorf("failed to subscribe to heads: %w", err)
	}
	defer sub.Unsubscribe()

	var (
		txCh  chan common.Hash
		txErr <-chan error
	)
	if c.pending {
		txCh = make(chan common.Hash)
		txSub, err := rpcClient.Subscribe(ctx, RpcNamespace, txCh, PendingTxsSubscription)
		if err != nil {
			return fmt.Errorf("failed to subscribe to pending transactions: %w", err)
		}
		defer txSub.Unsubscribe()
		txErr = txSub.Err()
	}

	c.logger.Info("Successfully subscribed. Waiting for data...", "pending", c.pending)
	for {
		select {
		case rawData := <-rawCh:
			if err := c.processor.ProcessMessage(rawData); err != nil {
				c.logger.Error("Error processing message", "error", err)
			}
		case hash := <-txCh:
			select {
			case c.pendingCh <- hash:
			default:
				c.logger.Debug("Pending buffer full, dropping transaction", "hash", hash)
			}
		case err := <-sub.Err():
			return err
		case err := <-txErr:
			return err
		case <-ctx.Done():
			c.logger.Info("Context cancelled, stopping subscription.")
			return ctx.Err()
		}
	}
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
