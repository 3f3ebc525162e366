// Package redismirror republishes bus topics as JSON on Redis pub/sub channels
// so dashboards outside the process can follow the pipeline.
package redismirror

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/defistate/defistate-arb/bus"
	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every mirrored channel.
const DefaultPrefix = "arb:"

// Publisher is the subset of *redis.Client the mirror writes through.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	TLSEnabled bool
}

// Dial connects to Redis and pings it before returning the client.
func Dial(ctx context.Context, cfg ClientConfig) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return rdb, nil
}

// Mirror forwards one topic to one Redis channel.
type Mirror[T any] struct {
	sub     *bus.Subscription[T]
	pub     Publisher
	channel string
	logger  bus.Logger
}

// New subscribes to topic and mirrors it to prefix+topic name.
func New[T any](topic *bus.Topic[T], pub Publisher, prefix string, logger bus.Logger) *Mirror[T] {
	return &Mirror[T]{
		sub:     topic.Subscribe("redismirror", 256),
		pub:     pub,
		channel: prefix + topic.Name(),
		logger:  logger,
	}
}

// Channel returns the Redis channel messages are published on.
func (m *Mirror[T]) Channel() string { return m.channel }

// Run forwards messages until ctx is cancelled or the topic closes. Publish
// failures are logged and skipped.
func (m *Mirror[T]) Run(ctx context.Context) error {
	defer m.sub.Unsubscribe()
	for {
		msg, err := m.sub.Recv(ctx)
		if err != nil {
			if errors.Is(err, bus.ErrClosed) {
				return nil
			}
			return err
		}
		if err := m.forward(ctx, msg); err != nil {
			m.logger.Warn("Mirror publish failed", "channel", m.channel, "error", err)
		}
	}
}

func (m *Mirror[T]) forward(ctx context.Context, msg T) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("redis: encode %s: %w", m.channel, err)
	}
	if err := m.pub.Publish(ctx, m.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", m.channel, err)
	}
	return nil
}
