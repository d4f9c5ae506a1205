// Package pubsub is a small topic bus. Publishing never blocks: every
// subscription has its own buffer and a full buffer loses the message for
// that subscription only.
package pubsub

import (
	"sync"
)

const DefaultBuffer = 64

type PubSub[T any] struct {
	mu     sync.Mutex
	subs   map[string][]chan T
	buffer int
	closed bool
	// Dropped counts messages lost because a subscriber buffer was full.
	Dropped uint64
}

func NewPubSub[T any](buffer int) *PubSub[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &PubSub[T]{
		subs:   make(map[string][]chan T),
		buffer: buffer,
	}
}

// Subscribe returns a channel that receives every message on topic until
// Unsubscribe or Close.
func (ps *PubSub[T]) Subscribe(topic string) <-chan T {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ch := make(chan T, ps.buffer)
	if ps.closed {
		close(ch)
		return ch
	}
	ps.subs[topic] = append(ps.subs[topic], ch)
	return ch
}

func (ps *PubSub[T]) Unsubscribe(topic string, sub <-chan T) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	chans := ps.subs[topic]
	for i, ch := range chans {
		if ch == sub {
			ps.subs[topic] = append(chans[:i:i], chans[i+1:]...)
			close(ch)
			return
		}
	}
}

func (ps *PubSub[T]) Publish(topic string, data T) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	for _, ch := range ps.subs[topic] {
		select {
		case ch <- data:
		default:
			ps.Dropped++
		}
	}
}

// Close closes every subscription channel. Later publishes are no-ops.
func (ps *PubSub[T]) Close() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.closed {
		return
	}
	ps.closed = true
	for topic, chans := range ps.subs {
		for _, ch := range chans {
			close(ch)
		}
		delete(ps.subs, topic)
	}
}
