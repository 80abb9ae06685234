package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
)

// DefaultQueueSize is the per-subscriber buffer. A subscriber whose
// buffer is full loses the event; it is never allowed to block a
// publisher.
const DefaultQueueSize = 64

// Bus fans orchestrator events out to subscribers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int64]*Subscription
	nextID      int64
	queueSize   int
	dropped     atomic.Int64
	onDrop      func(Event)
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithQueueSize overrides the per-subscriber buffer size.
func WithQueueSize(n int) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

// WithDropHandler installs a callback invoked for every event dropped
// on a full subscriber queue. Used to feed the drop metric.
func WithDropHandler(fn func(Event)) BusOption {
	return func(b *Bus) {
		b.onDrop = fn
	}
}

// NewBus creates an event bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		subscribers: make(map[int64]*Subscription),
		queueSize:   DefaultQueueSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscription is one subscriber's view of the bus.
type Subscription struct {
	bus  *Bus
	id   int64
	ch   chan Event
	once sync.Once
	done chan struct{}
}

// Subscribe registers a subscriber. The subscription is removed when
// ctx is cancelled or Close is called, whichever comes first.
func (b *Bus) Subscribe(ctx context.Context) *Subscription {
	b.mu.Lock()
	b.nextID++
	sub := &Subscription{
		bus:  b,
		id:   b.nextID,
		ch:   make(chan Event, b.queueSize),
		done: make(chan struct{}),
	}
	b.subscribers[sub.id] = sub
	b.mu.Unlock()

	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				sub.Close()
			case <-sub.done:
			}
		}()
	}
	return sub
}

// Publish delivers the event to every subscriber whose queue has room.
// Never blocks.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		select {
		case sub.ch <- ev:
		default:
			b.dropped.Add(1)
			if b.onDrop != nil {
				b.onDrop(ev)
			}
		}
	}
}

// Dropped returns the total number of events lost to full queues.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Next blocks until an event arrives or the subscription ends. The
// second return value is false once the subscription is closed and its
// buffer drained.
func (s *Subscription) Next(ctx context.Context) (Event, bool) {
	select {
	case ev, ok := <-s.ch:
		return ev, ok
	case <-s.done:
		// Drain anything buffered before reporting the end.
		select {
		case ev, ok := <-s.ch:
			return ev, ok
		default:
			return Event{}, false
		}
	case <-ctx.Done():
		return Event{}, false
	}
}

// Events exposes the raw receive channel for select-based consumers.
// The channel is never closed; use Done to detect shutdown.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close removes the subscription from the bus. Idempotent.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subscribers, s.id)
		s.bus.mu.Unlock()
		close(s.done)
	})
}
