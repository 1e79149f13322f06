// Package realtime fans committed negotiation events out to websocket
// clients. It is split in two layers: the Hub, a transport-free registry
// of per-negotiation broadcast groups, and Conn (conn.go), the gorilla
// websocket adapter that joins groups on behalf of a client.
//
// Delivery contract: within one group, events are handed to each
// subscriber in the order they were published. Delivery is best-effort:
// a subscriber that cannot keep up is dropped from its groups rather
// than allowed to stall the publisher.
package realtime

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/tradeloom/marketplace-backend/internal/domain"
)

// Outbound event names.
const (
	EventNegotiationMessage = "negotiation:message"
	EventDealAccepted       = "deal:accepted"
)

// Event is one broadcast unit, serialized as-is to the client.
type Event struct {
	Type          string          `json:"type"`
	NegotiationID string          `json:"negotiation_id"`
	Payload       json.RawMessage `json:"payload"`
}

// Subscriber receives events for the groups it has joined. Send must not
// block; it reports false when the subscriber can no longer accept events,
// at which point the hub evicts it.
type Subscriber interface {
	Send(ev Event) bool
}

// Hub is the registry of negotiation broadcast groups. All methods are
// safe for concurrent use. The zero value is not usable; construct with
// NewHub.
type Hub struct {
	mu     sync.Mutex
	groups map[string]map[Subscriber]struct{}
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{groups: make(map[string]map[Subscriber]struct{})}
}

// Join adds sub to the negotiation's broadcast group. Joining twice is a
// no-op.
func (h *Hub) Join(negotiationID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	g, ok := h.groups[negotiationID]
	if !ok {
		g = make(map[Subscriber]struct{})
		h.groups[negotiationID] = g
	}
	g[sub] = struct{}{}
}

// Leave removes sub from the negotiation's group, dropping the group when
// it empties.
func (h *Hub) Leave(negotiationID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drop(negotiationID, sub)
}

// LeaveAll removes sub from every group it joined. Called when a client
// disconnects.
func (h *Hub) LeaveAll(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id := range h.groups {
		h.drop(id, sub)
	}
}

// drop removes sub from one group. Caller holds h.mu.
func (h *Hub) drop(negotiationID string, sub Subscriber) {
	g, ok := h.groups[negotiationID]
	if !ok {
		return
	}
	delete(g, sub)
	if len(g) == 0 {
		delete(h.groups, negotiationID)
	}
}

// GroupSize reports the number of subscribers in a negotiation's group.
func (h *Hub) GroupSize(negotiationID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.groups[negotiationID])
}

// publish hands ev to every current member of the negotiation's group,
// evicting members whose Send reports failure. Publishing under the lock
// keeps per-group ordering; Send is required to be non-blocking so the
// lock is never held for long.
func (h *Hub) publish(negotiationID string, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	g := h.groups[negotiationID]
	for sub := range g {
		if !sub.Send(ev) {
			h.drop(negotiationID, sub)
			log.Warn().
				Str("negotiation_id", negotiationID).
				Msg("realtime: subscriber evicted, send buffer full")
		}
	}
}

// NegotiationMessage broadcasts a newly appended transcript entry to the
// negotiation's group.
func (h *Hub) NegotiationMessage(negotiationID string, msg domain.NegotiationMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("negotiation_id", negotiationID).
			Msg("realtime: marshal message event")
		return
	}
	h.publish(negotiationID, Event{
		Type:          EventNegotiationMessage,
		NegotiationID: negotiationID,
		Payload:       payload,
	})
}

// dealPayload is the deal:accepted event body.
type dealPayload struct {
	Message *domain.NegotiationMessage `json:"message,omitempty"`
	Order   *domain.Order              `json:"order"`
}

// DealAccepted broadcasts a settlement to the negotiation's group.
func (h *Hub) DealAccepted(negotiationID string, msg *domain.NegotiationMessage, order *domain.Order) {
	payload, err := json.Marshal(dealPayload{Message: msg, Order: order})
	if err != nil {
		log.Error().Err(err).Str("negotiation_id", negotiationID).
			Msg("realtime: marshal deal event")
		return
	}
	h.publish(negotiationID, Event{
		Type:          EventDealAccepted,
		NegotiationID: negotiationID,
		Payload:       payload,
	})
}
