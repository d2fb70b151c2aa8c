// Package eventbus is the process-wide progress fan-out. Each subscriber
// owns an independent unbounded queue so a slow consumer never blocks the
// publisher; the bus mutex only guards the subscriber set.
package eventbus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/audexhq/audex/internal/core/domain"
)

type Bus struct {
	mu   sync.Mutex
	subs map[*Subscriber]struct{}
}

func New() *Bus {
	return &Bus{subs: make(map[*Subscriber]struct{})}
}

// Subscribe registers a new listener. It only receives messages published
// after this call returns; there is no replay.
func (b *Bus) Subscribe() *Subscriber {
	sub := &Subscriber{notify: make(chan struct{}, 1), done: make(chan struct{})}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

func (b *Bus) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
	sub.close()
}

// Publish serializes the message once and enqueues it to every current
// subscriber. Enqueueing happens outside the bus lock.
func (b *Bus) Publish(msg domain.ProgressMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}

	b.mu.Lock()
	snapshot := make([]*Subscriber, 0, len(b.subs))
	for sub := range b.subs {
		snapshot = append(snapshot, sub)
	}
	b.mu.Unlock()

	for _, sub := range snapshot {
		sub.enqueue(payload)
	}
}

// SubscriberCount reports the current number of listeners.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Subscriber is one listener's private queue over the bus.
type Subscriber struct {
	mu     sync.Mutex
	queue  [][]byte
	closed bool
	notify chan struct{}
	done   chan struct{}
}

func (s *Subscriber) enqueue(payload []byte) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, payload)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	close(s.done)
}

// Next blocks until a message is available, the context is cancelled, or
// the subscriber is unsubscribed. Drained messages are returned in publish
// order.
func (s *Subscriber) Next(ctx context.Context) ([]byte, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			payload := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return payload, nil
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return nil, context.Canceled
		}

		select {
		case <-s.notify:
		case <-s.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
