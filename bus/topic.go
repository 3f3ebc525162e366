// Package bus is the typed publish/subscribe fabric the pipeline workers talk over.
//
// Publishing never blocks: each subscription owns a bounded buffer and a slow
// subscriber loses its oldest messages rather than stalling the publisher.
package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Recv after the subscription or its topic is closed.
var ErrClosed = errors.New("bus: subscription closed")

// Topic broadcasts every published message to all current subscribers.
type Topic[T any] struct {
	name      string
	mu        sync.RWMutex
	subs      map[uint64]*Subscription[T]
	nextID    uint64
	closed    bool
	published atomic.Uint64
}

func NewTopic[T any](name string) *Topic[T] {
	return &Topic[T]{name: name, subs: make(map[uint64]*Subscription[T])}
}

func (t *Topic[T]) Name() string { return t.name }

// Published returns the number of messages published so far.
func (t *Topic[T]) Published() uint64 { return t.published.Load() }

// Subscribe registers a subscriber with room for buffer pending messages (at least one).
func (t *Topic[T]) Subscribe(name string, buffer int) *Subscription[T] {
	if buffer < 1 {
		buffer = 1
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	s := &Subscription[T]{
		name:  name,
		topic: t,
		id:    t.nextID,
		ch:    make(chan T, buffer),
		done:  make(chan struct{}),
	}
	t.nextID++
	if t.closed {
		s.close()
		return s
	}
	t.subs[s.id] = s
	return s
}

// Publish delivers msg to every subscriber and returns how many received it.
func (t *Topic[T]) Publish(msg T) int {
	t.published.Add(1)
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, s := range t.subs {
		s.deliver(msg)
	}
	return len(t.subs)
}

// Subscribers returns the current subscriber count.
func (t *Topic[T]) Subscribers() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// Close ends every subscription. Later subscriptions are born closed.
func (t *Topic[T]) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for id, s := range t.subs {
		s.close()
		delete(t.subs, id)
	}
}

// Subscription is one subscriber's FIFO view of a topic.
type Subscription[T any] struct {
	name      string
	topic     *Topic[T]
	id        uint64
	ch        chan T
	sendMu    sync.Mutex
	lagged    atomic.Uint64
	done      chan struct{}
	closeOnce sync.Once
}

func (s *Subscription[T]) Name() string { return s.name }

// Lagged returns how many messages were dropped because the buffer was full.
func (s *Subscription[T]) Lagged() uint64 { return s.lagged.Load() }

// deliver enqueues msg, evicting the oldest pending message when full.
func (s *Subscription[T]) deliver(msg T) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	for {
		select {
		case s.ch <- msg:
			return
		default:
		}
		select {
		case <-s.ch:
			s.lagged.Add(1)
		default:
		}
	}
}

// Recv waits for the next message. It returns ctx.Err() when ctx ends first
// and ErrClosed once the subscription is closed.
func (s *Subscription[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	select {
	case msg := <-s.ch:
		return msg, nil
	default:
	}
	select {
	case msg := <-s.ch:
		return msg, nil
	case <-s.done:
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Unsubscribe detaches from the topic and closes the subscription.
func (s *Subscription[T]) Unsubscribe() {
	s.topic.mu.Lock()
	delete(s.topic.subs, s.id)
	s.topic.mu.Unlock()
	s.close()
}

func (s *Subscription[T]) close() {
	s.closeOnce.Do(func() { close(s.done) })
}
