package redismirror

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/defistate/defistate-arb/bus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	channel string
	payload []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	got  []published
	fail error
	seen chan struct{}
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx, "publish", channel, message)
	f.mu.Lock()
	if f.fail != nil {
		cmd.SetErr(f.fail)
	} else {
		f.got = append(f.got, published{channel: channel, payload: message.([]byte)})
		cmd.SetVal(1)
	}
	f.mu.Unlock()
	f.seen <- struct{}{}
	return cmd
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMirror_ForwardsJSON(t *testing.T) {
	topic := bus.NewTopic[bus.HealthEvent]("health")
	pub := &fakePublisher{seen: make(chan struct{}, 4)}
	m := New(topic, pub, DefaultPrefix, discardLogger())
	assert.Equal(t, "arb:health", m.Channel())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- m.Run(ctx) }()

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	topic.Publish(bus.HealthEvent{Worker: "searcher", Status: bus.HealthStarted, At: at})

	select {
	case <-pub.seen:
	case <-time.After(time.Second):
		t.Fatal("message was not mirrored")
	}

	pub.mu.Lock()
	require.Len(t, pub.got, 1)
	assert.Equal(t, "arb:health", pub.got[0].channel)
	var ev bus.HealthEvent
	require.NoError(t, json.Unmarshal(pub.got[0].payload, &ev))
	pub.mu.Unlock()
	assert.Equal(t, "searcher", ev.Worker)
	assert.Equal(t, bus.HealthStarted, ev.Status)
	assert.True(t, at.Equal(ev.At))

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
	assert.Zero(t, topic.Subscribers(), "the mirror unsubscribes on exit")
}

func TestMirror_PublishErrorsAreSkipped(t *testing.T) {
	topic := bus.NewTopic[bus.BundleResult]("results")
	pub := &fakePublisher{fail: errors.New("connection refused"), seen: make(chan struct{}, 4)}
	m := New(topic, pub, "test:", discardLogger())

	errc := make(chan error, 1)
	go func() { errc <- m.Run(context.Background()) }()

	topic.Publish(bus.BundleResult{TargetBlock: 1})
	topic.Publish(bus.BundleResult{TargetBlock: 2})
	for i := 0; i < 2; i++ {
		select {
		case <-pub.seen:
		case <-time.After(time.Second):
			t.Fatal("mirror stopped after a publish error")
		}
	}

	topic.Close()
	assert.NoError(t, <-errc, "a closed topic ends the mirror cleanly")
	assert.Empty(t, pub.got)
}
