// Package collab fans out mutation events to the editor sessions that have a flow open.
//
// Delivery is best-effort and at most once. A subscriber that cannot keep up is evicted:
// its event channel is closed, and the session is expected to reconnect and re-fetch the
// flow from the store rather than replay what it missed.
package collab

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/dukex/processflow/pkg/models"
)

// DefaultBufferSize is the per-subscriber event buffer.
const DefaultBufferSize = 64

// ErrChannelDisconnected reports that a collaboration connection is gone. It is advisory:
// local editing continues and the next connect forces a re-fetch.
var ErrChannelDisconnected = errors.New("collaboration channel disconnected")

// Publisher sends a mutation event to every session with the event's flow open.
type Publisher interface {
	Publish(ctx context.Context, event models.MutationEvent) error
}

// Subscription is one session's membership in a flow room.
type Subscription struct {
	flowID int64
	origin string
	events chan models.MutationEvent
	lagged bool
	closed bool
}

// Events returns the inbound stream. It is closed on unsubscribe or eviction.
func (s *Subscription) Events() <-chan models.MutationEvent { return s.events }

func (s *Subscription) FlowID() int64 { return s.flowID }

func (s *Subscription) Origin() string { return s.origin }

// Hub is the registry of flow rooms: flow id to the set of live subscriptions.
// Subscribe and Unsubscribe are the only mutators of the registry.
type Hub struct {
	mu         sync.RWMutex
	rooms      map[int64]map[*Subscription]struct{}
	bufferSize int
	logger     *slog.Logger
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithBufferSize sets the per-subscriber buffer.
func WithBufferSize(size int) HubOption {
	return func(h *Hub) {
		if size > 0 {
			h.bufferSize = size
		}
	}
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		rooms:      make(map[int64]map[*Subscription]struct{}),
		bufferSize: DefaultBufferSize,
		logger:     logger.With("module", "collab_hub"),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Subscribe joins the room of flowID. Events published with the same origin are not
// delivered back to this subscription.
func (h *Hub) Subscribe(flowID int64, origin string) *Subscription {
	sub := &Subscription{
		flowID: flowID,
		origin: origin,
		events: make(chan models.MutationEvent, h.bufferSize),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[flowID]
	if !ok {
		room = make(map[*Subscription]struct{})
		h.rooms[flowID] = room
	}

	room[sub] = struct{}{}

	h.logger.Debug("Session joined flow", "flow_id", flowID, "origin", origin, "subscribers", len(room))

	return sub
}

// Unsubscribe leaves the room and closes the subscription's channel. Safe to call twice.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.remove(sub)
}

func (h *Hub) remove(sub *Subscription) {
	if sub.closed {
		return
	}

	sub.closed = true
	close(sub.events)

	room := h.rooms[sub.flowID]
	delete(room, sub)

	if len(room) == 0 {
		delete(h.rooms, sub.flowID)
	}

	h.logger.Debug("Session left flow", "flow_id", sub.flowID, "origin", sub.origin, "lagged", sub.lagged)
}

// Publish delivers the event to the local room. It never blocks and never fails.
func (h *Hub) Publish(_ context.Context, event models.MutationEvent) error {
	h.Deliver(event)

	return nil
}

// Deliver hands the event to every subscriber of its flow except its origin and returns
// how many received it. Subscribers whose buffer is full are evicted.
func (h *Hub) Deliver(event models.MutationEvent) int {
	var (
		delivered int
		lagging   []*Subscription
	)

	h.mu.RLock()

	for sub := range h.rooms[event.FlowID] {
		if event.Origin != "" && sub.origin == event.Origin {
			continue
		}

		select {
		case sub.events <- event:
			delivered++
		default:
			lagging = append(lagging, sub)
		}
	}

	h.mu.RUnlock()

	if len(lagging) > 0 {
		h.mu.Lock()

		for _, sub := range lagging {
			h.logger.Warn("Evicting slow subscriber", "flow_id", sub.flowID, "origin", sub.origin)
			sub.lagged = true
			h.remove(sub)
		}

		h.mu.Unlock()
	}

	return delivered
}

// Subscribers returns the number of live subscriptions for a flow.
func (h *Hub) Subscribers(flowID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.rooms[flowID])
}

// Rooms returns the number of flows with at least one subscriber.
func (h *Hub) Rooms() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.rooms)
}

// Lagged reports whether the subscription was evicted for falling behind.
func (h *Hub) Lagged(sub *Subscription) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return sub.lagged
}

// Close evicts every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, room := range h.rooms {
		for sub := range room {
			h.remove(sub)
		}
	}
}
