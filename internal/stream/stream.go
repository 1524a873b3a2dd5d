package stream

import (
	"context"
	"sync"

	"sysaccess.org/internal/access"
)

// Stream fan-outs decision events to all active subscribers (SSE clients).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]subscriber
	next int
}

type subscriber struct {
	ch     chan access.Event
	filter func(access.Event) bool
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]subscriber)}
}

// Subscribe registers a subscriber and returns a channel which will receive events
// accepted by filter (nil accepts all). The channel is closed when ctx ends.
func (s *Stream) Subscribe(ctx context.Context, filter func(access.Event) bool) <-chan access.Event {
	ch := make(chan access.Event, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = subscriber{ch: ch, filter: filter}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers. Slow subscribers miss events.
func (s *Stream) Publish(evt access.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if sub.filter != nil && !sub.filter(evt) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
		}
	}
}

// Subscribers reports the number of active subscribers.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
