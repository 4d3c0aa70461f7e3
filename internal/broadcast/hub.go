// Package broadcast fans simulation and operator events out to live viewers.
//
// Publish never blocks: each subscriber owns a bounded buffer and a
// subscriber whose buffer is full is pruned (its channel is closed) instead
// of stalling the publisher.
package broadcast

import (
	"sync"
)

// DefaultBuffer is the per-subscriber queue length used when none is configured.
const DefaultBuffer = 64

// Publisher is the write side of the hub.
type Publisher interface {
	Publish(e Event)
}

// Metrics receives hub bookkeeping. Implementations must be cheap and non-blocking.
type Metrics interface {
	SubscriberAdded()
	SubscriberRemoved(dropped bool)
	EventPublished(kind string)
}

type nopMetrics struct{}

func (nopMetrics) SubscriberAdded()       {}
func (nopMetrics) SubscriberRemoved(bool) {}
func (nopMetrics) EventPublished(string)  {}

// Hub owns the set of live subscriptions.
type Hub struct {
	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	buffer  int
	metrics Metrics
	closed  bool
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithBuffer sets the per-subscriber queue length.
func WithBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithMetrics attaches a metrics sink.
func WithMetrics(m Metrics) HubOption {
	return func(h *Hub) {
		if m != nil {
			h.metrics = m
		}
	}
}

// NewHub creates an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		subs:    make(map[*Subscription]struct{}),
		buffer:  DefaultBuffer,
		metrics: nopMetrics{},
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Subscription is an opaque handle to one viewer's event stream.
type Subscription struct {
	// C yields events in publish order. It is closed on Unsubscribe, on
	// Hub.Close, or when the hub drops a subscriber that fell behind.
	C <-chan Event

	ch           chan Event
	hub          *Hub
	organization string
	dropped      bool
}

type subscribeConfig struct {
	organization string
	greeting     string
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*subscribeConfig)

// WithOrganization limits delivery to events of one organization.
func WithOrganization(id string) SubscribeOption {
	return func(c *subscribeConfig) { c.organization = id }
}

// WithGreeting overrides the message of the connected handshake.
func WithGreeting(msg string) SubscribeOption {
	return func(c *subscribeConfig) { c.greeting = msg }
}

// Subscribe registers a subscriber. The first event on C is always the
// connected handshake. Subscribing to a closed hub returns an already
// closed subscription.
func (h *Hub) Subscribe(opts ...SubscribeOption) *Subscription {
	cfg := subscribeConfig{greeting: "connected to fleet updates"}
	for _, o := range opts {
		o(&cfg)
	}
	ch := make(chan Event, h.buffer)
	s := &Subscription{C: ch, ch: ch, hub: h, organization: cfg.organization}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return s
	}
	ch <- connected(cfg.greeting)
	h.subs[s] = struct{}{}
	h.metrics.SubscriberAdded()
	return s
}

// Publish delivers e to every matching subscriber without blocking.
func (h *Hub) Publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.metrics.EventPublished(string(e.Kind))
	for s := range h.subs {
		if !s.wants(e) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			s.dropped = true
			h.removeLocked(s, true)
		}
	}
}

// Len returns the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close drops every subscriber and rejects further subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		h.removeLocked(s, false)
	}
}

func (h *Hub) removeLocked(s *Subscription, dropped bool) {
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	close(s.ch)
	h.metrics.SubscriberRemoved(dropped)
}

func (s *Subscription) wants(e Event) bool {
	return s.organization == "" || e.OrganizationID == s.organization
}

// Unsubscribe removes the subscription. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	s.hub.removeLocked(s, false)
}

// Dropped reports whether the hub pruned this subscriber for falling behind.
func (s *Subscription) Dropped() bool {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.dropped
}

// Organization returns the subscription's filter, or "" for all organizations.
func (s *Subscription) Organization() string { return s.organization }
