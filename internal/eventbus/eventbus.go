// Package eventbus fans dispatch events (triggers, offer replies, run stages)
// out to in-process subscribers.
package eventbus

import (
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 32

// Event is any value published on the bus.
type Event interface{}

// EventBus is what producers and consumers of dispatch events depend on.
type EventBus interface {
	Publish(Event)
	Subscribe() <-chan Event
	Unsubscribe(<-chan Event)
	Close()
}

type subscriber struct {
	ch     chan Event
	accept func(Event) bool
}

// Bus delivers without blocking the publisher. An event that does not fit
// in a subscriber's queue is dropped for that subscriber and counted.
type Bus struct {
	mu      sync.RWMutex
	subs    []subscriber
	buffer  int
	closed  bool
	dropped atomic.Uint64
}

// Option tunes a Bus.
type Option func(*Bus)

// WithBuffer sets the per-subscriber queue length.
func WithBuffer(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.buffer = n
		}
	}
}

func New(opts ...Option) *Bus {
	b := &Bus{buffer: DefaultBuffer}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		if s.accept != nil && !s.accept(e) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *Bus) Subscribe() <-chan Event { return b.SubscribeFunc(nil) }

// SubscribeFunc registers a subscriber that only receives events accepted
// by fn. A nil fn accepts everything.
func (b *Bus) SubscribeFunc(fn func(Event) bool) <-chan Event {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, subscriber{ch: ch, accept: fn})
	return ch
}

// SubscribeWhere subscribes to bus with fn as filter when the bus supports
// it, and to every event otherwise.
func SubscribeWhere(bus EventBus, fn func(Event) bool) <-chan Event {
	if fb, ok := bus.(interface {
		SubscribeFunc(func(Event) bool) <-chan Event
	}); ok {
		return fb.SubscribeFunc(fn)
	}
	return bus.Subscribe()
}

// Unsubscribe closes the channel of sub. Unknown channels are ignored.
func (b *Bus) Unsubscribe(sub <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.ch != sub {
			continue
		}
		b.subs = append(b.subs[:i], b.subs[i+1:]...)
		close(s.ch)
		return
	}
}

// Dropped reports how many deliveries were lost to full queues.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Close closes every subscriber channel. Publishing afterwards is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subs {
		close(s.ch)
	}
	b.subs = nil
}
