package realtime

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/tradeloom/marketplace-backend/internal/domain"
)

// memSubscriber records delivered events; when broken it refuses delivery.
type memSubscriber struct {
	events []Event
	broken bool
}

func (s *memSubscriber) Send(ev Event) bool {
	if s.broken {
		return false
	}
	s.events = append(s.events, ev)
	return true
}

func TestHub_JoinAndBroadcast(t *testing.T) {
	h := NewHub()
	a := &memSubscriber{}
	b := &memSubscriber{}
	h.Join("neg1", a)
	h.Join("neg1", b)
	h.Join("neg2", b)

	offer := decimal.NewFromInt(950)
	h.NegotiationMessage("neg1", domain.NegotiationMessage{
		NegotiationID: "neg1",
		Sender:        domain.SenderVendor,
		Message:       "950 works",
		Offer:         &offer,
	})

	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("deliveries = %d/%d, want 1/1", len(a.events), len(b.events))
	}
	ev := a.events[0]
	if ev.Type != EventNegotiationMessage || ev.NegotiationID != "neg1" {
		t.Fatalf("event = %+v", ev)
	}
	var msg domain.NegotiationMessage
	if err := json.Unmarshal(ev.Payload, &msg); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if msg.Message != "950 works" || msg.Offer == nil || !msg.Offer.Equal(offer) {
		t.Fatalf("payload message = %+v", msg)
	}
}

func TestHub_EventsStayInTheirGroup(t *testing.T) {
	h := NewHub()
	a := &memSubscriber{}
	h.Join("neg1", a)

	h.NegotiationMessage("neg2", domain.NegotiationMessage{Message: "elsewhere"})

	if len(a.events) != 0 {
		t.Fatalf("subscriber received cross-group event")
	}
}

func TestHub_PerGroupOrdering(t *testing.T) {
	h := NewHub()
	a := &memSubscriber{}
	h.Join("neg1", a)

	for i := 1; i <= 5; i++ {
		h.NegotiationMessage("neg1", domain.NegotiationMessage{Seq: int64(i)})
	}

	if len(a.events) != 5 {
		t.Fatalf("deliveries = %d, want 5", len(a.events))
	}
	for i, ev := range a.events {
		var msg domain.NegotiationMessage
		if err := json.Unmarshal(ev.Payload, &msg); err != nil {
			t.Fatalf("payload %d: %v", i, err)
		}
		if msg.Seq != int64(i+1) {
			t.Fatalf("event %d carries seq %d", i, msg.Seq)
		}
	}
}

func TestHub_LeaveStopsDelivery(t *testing.T) {
	h := NewHub()
	a := &memSubscriber{}
	h.Join("neg1", a)
	h.Leave("neg1", a)

	h.NegotiationMessage("neg1", domain.NegotiationMessage{Message: "gone"})

	if len(a.events) != 0 {
		t.Fatalf("delivery after leave")
	}
	if h.GroupSize("neg1") != 0 {
		t.Fatalf("group size = %d after leave", h.GroupSize("neg1"))
	}
}

func TestHub_LeaveAll(t *testing.T) {
	h := NewHub()
	a := &memSubscriber{}
	h.Join("neg1", a)
	h.Join("neg2", a)
	h.Join("neg3", a)

	h.LeaveAll(a)

	for _, id := range []string{"neg1", "neg2", "neg3"} {
		if h.GroupSize(id) != 0 {
			t.Fatalf("group %s still has subscribers", id)
		}
	}
}

func TestHub_EvictsFailingSubscriber(t *testing.T) {
	h := NewHub()
	slow := &memSubscriber{broken: true}
	healthy := &memSubscriber{}
	h.Join("neg1", slow)
	h.Join("neg1", healthy)

	h.NegotiationMessage("neg1", domain.NegotiationMessage{Message: "first"})

	if h.GroupSize("neg1") != 1 {
		t.Fatalf("group size = %d, want failing subscriber evicted", h.GroupSize("neg1"))
	}
	if len(healthy.events) != 1 {
		t.Fatalf("healthy subscriber deliveries = %d, want 1", len(healthy.events))
	}

	// Eviction is permanent: the next publish skips the broken member.
	h.NegotiationMessage("neg1", domain.NegotiationMessage{Message: "second"})
	if len(healthy.events) != 2 {
		t.Fatalf("healthy subscriber deliveries = %d, want 2", len(healthy.events))
	}
}

func TestHub_DealAcceptedPayload(t *testing.T) {
	h := NewHub()
	a := &memSubscriber{}
	h.Join("neg1", a)

	negID := "neg1"
	order := &domain.Order{
		ID:            "o1",
		OrderNumber:   "ORD-1-AAAAAAAAA",
		NegotiationID: &negID,
		UnitPrice:     decimal.NewFromInt(950),
		TotalAmount:   decimal.NewFromInt(950),
		Status:        domain.OrderStatusPending,
	}
	h.DealAccepted("neg1", &domain.NegotiationMessage{Message: "deal"}, order)

	if len(a.events) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(a.events))
	}
	ev := a.events[0]
	if ev.Type != EventDealAccepted {
		t.Fatalf("type = %q", ev.Type)
	}
	var payload struct {
		Message *domain.NegotiationMessage `json:"message"`
		Order   *domain.Order              `json:"order"`
	}
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.Order == nil || payload.Order.ID != "o1" {
		t.Fatalf("order payload = %+v", payload.Order)
	}
	if payload.Message == nil || payload.Message.Message != "deal" {
		t.Fatalf("message payload = %+v", payload.Message)
	}
}
