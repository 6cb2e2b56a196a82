package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultSubscriberBuffer is the channel capacity of a Hub subscription
const DefaultSubscriberBuffer = 256

// Hub fans events out to in-process subscribers. Observe never blocks: a
// subscriber whose buffer is full misses the event and its drop counter grows.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
	logger *slog.Logger
}

// Subscription is one consumer of a Hub
type Subscription struct {
	hub     *Hub
	ch      chan Event
	kinds   map[Kind]bool
	dropped atomic.Int64
	once    sync.Once
}

// NewHub creates an empty hub. A nil logger uses slog.Default().
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[*Subscription]struct{}),
		logger: logger.With("component", "event-hub"),
	}
}

// Subscribe returns a subscription receiving events of the given kinds, or
// all kinds when none are given. buffer <= 0 uses DefaultSubscriberBuffer.
func (h *Hub) Subscribe(buffer int, kinds ...Kind) *Subscription {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	s := &Subscription{hub: h, ch: make(chan Event, buffer)}
	if len(kinds) > 0 {
		s.kinds = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = true
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		s.once.Do(func() { close(s.ch) })
		return s
	}
	h.subs[s] = struct{}{}
	return s
}

// Observe implements Observer
func (h *Hub) Observe(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		if s.kinds != nil && !s.kinds[ev.Kind] {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			if s.dropped.Add(1) == 1 {
				h.logger.Warn("Event subscriber is falling behind", "kind", string(ev.Kind))
			}
		}
	}
}

// Len returns the number of live subscriptions
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close ends every subscription. Later subscriptions are closed at once.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		s.once.Do(func() { close(s.ch) })
	}
	h.subs = nil
}

// C returns the channel events arrive on. It is closed by Unsubscribe or Hub.Close.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Dropped returns how many events were skipped because the buffer was full
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Unsubscribe detaches the subscription and closes its channel
func (s *Subscription) Unsubscribe() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	delete(s.hub.subs, s)
	s.once.Do(func() { close(s.ch) })
}
