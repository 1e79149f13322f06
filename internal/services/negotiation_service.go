// Package services – NegotiationService
//
// This file implements the negotiation lifecycle: session creation from a
// product, participant messaging with running-offer tracking, AI-assisted
// counter-offering, and deal acceptance — the settlement transition that
// must flip the session terminal and create exactly one order atomically.
//
// The service is the only writer of Negotiation and NegotiationMessage
// records. Every state change that commits is pushed through the
// Broadcaster so subscribed clients observe it without polling; the
// broadcast is best-effort and never fails the triggering request.
//
// Observability: mutating methods are OpenTelemetry-instrumented; spans
// carry the negotiation and actor identifiers.

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tradeloom/marketplace-backend/internal/ai"
	"github.com/tradeloom/marketplace-backend/internal/domain"
	"github.com/tradeloom/marketplace-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// aiSenderID identifies AI-authored transcript entries.
const aiSenderID = "ai-assistant"

// Broadcaster relays committed negotiation events to subscribed clients.
// Implementations must not block: delivery is best-effort and a slow or
// unreachable subscriber must never fail the triggering request.
type Broadcaster interface {
	// NegotiationMessage announces a newly appended transcript entry.
	NegotiationMessage(negotiationID string, msg domain.NegotiationMessage)
	// DealAccepted announces a settlement: the closing entry (if any) and
	// the order it produced.
	DealAccepted(negotiationID string, msg *domain.NegotiationMessage, order *domain.Order)
}

// PriceNegotiator is the AI collaborator contract. *ai.Negotiator
// satisfies it; tests substitute fakes.
type PriceNegotiator interface {
	NegotiatePrice(ctx context.Context, nc ai.NegotiationContext) (*ai.CounterOffer, error)
}

// NegotiationService owns Negotiation and NegotiationMessage mutation and
// produces orders as the terminal side effect of deal acceptance.
type NegotiationService struct {
	DB         *gorm.DB
	Negotiator PriceNegotiator
	Broadcast  Broadcaster // optional; nil disables fan-out
}

// NewNegotiationService constructs a NegotiationService.
func NewNegotiationService(db *gorm.DB, neg PriceNegotiator, bc Broadcaster) *NegotiationService {
	return &NegotiationService{DB: db, Negotiator: neg, Broadcast: bc}
}

// AIRound is the result of an AI-assisted negotiation round: the updated
// session and the structured counter-offer that was appended to it.
type AIRound struct {
	Negotiation *domain.Negotiation `json:"negotiation"`
	AIResponse  *ai.CounterOffer    `json:"ai_response"`
}

// Settlement is the result of accepting a negotiation.
type Settlement struct {
	Negotiation *domain.Negotiation `json:"negotiation"`
	Order       *domain.Order       `json:"order"`
}

// Create opens a negotiation on a product. The vendor and the list price
// come from the product record; currentPrice starts at the buyer's opening
// offer when one is given, else at the list price. An opening offer also
// becomes the first transcript entry.
func (s *NegotiationService) Create(ctx context.Context, productID, buyerID string, quantity int, initialOffer *decimal.Decimal) (*domain.Negotiation, error) {
	tr := otel.Tracer("services/NegotiationService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(
			attribute.String("product.id", productID),
			attribute.String("user.id", buyerID),
		),
	)
	defer span.End()

	if quantity <= 0 {
		quantity = 1
	}
	if initialOffer != nil && !initialOffer.IsPositive() {
		return nil, ErrInvalidPrice
	}

	product, err := repo.GetProduct(ctx, s.DB, productID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	if product.VendorID == buyerID {
		return nil, ErrForbidden
	}

	current := product.Price
	if initialOffer != nil {
		current = *initialOffer
	}

	var out *domain.Negotiation
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := repo.CreateNegotiation(ctx, tx, &domain.Negotiation{
			ProductID:    productID,
			BuyerID:      buyerID,
			VendorID:     product.VendorID,
			Quantity:     quantity,
			InitialPrice: product.Price,
			CurrentPrice: current,
		})
		if err != nil {
			return err
		}
		if initialOffer != nil {
			_, err = repo.AppendMessage(ctx, tx, &domain.NegotiationMessage{
				NegotiationID: n.ID,
				Sender:        domain.SenderBuyer,
				SenderID:      buyerID,
				Message:       fmt.Sprintf("I'd like to negotiate this price. My initial offer is $%s", initialOffer.String()),
				Offer:         initialOffer,
			})
			if err != nil {
				return err
			}
		}
		out = n
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, out.ID)
}

// Get fetches a negotiation with its full transcript.
func (s *NegotiationService) Get(ctx context.Context, id string) (*domain.Negotiation, error) {
	n, err := repo.GetNegotiation(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrNegotiationNotFound
	}
	return n, err
}

// List returns negotiations matching the filter.
func (s *NegotiationService) List(ctx context.Context, f repo.NegotiationFilter) ([]domain.Negotiation, error) {
	return repo.ListNegotiations(ctx, s.DB, f)
}

// participantRole maps senderID onto a transcript role, or "" when the
// sender is not a party to the negotiation.
func participantRole(n *domain.Negotiation, senderID string) string {
	switch senderID {
	case n.BuyerID:
		return domain.SenderBuyer
	case n.VendorID:
		return domain.SenderVendor
	default:
		return ""
	}
}

// PostMessage appends a participant message to an active negotiation. The
// timestamp is server-assigned. When the message carries an offer, the
// negotiation's currentPrice follows it, whichever side made it. The
// committed entry is broadcast to the negotiation's group.
func (s *NegotiationService) PostMessage(ctx context.Context, negotiationID, senderID, message string, offer *decimal.Decimal) (*domain.Negotiation, *domain.NegotiationMessage, error) {
	tr := otel.Tracer("services/NegotiationService")
	ctx, span := tr.Start(ctx, "PostMessage",
		trace.WithAttributes(
			attribute.String("negotiation.id", negotiationID),
			attribute.String("user.id", senderID),
		),
	)
	defer span.End()

	if strings.TrimSpace(message) == "" && offer == nil {
		return nil, nil, ErrEmptyMessage
	}
	if offer != nil && !offer.IsPositive() {
		return nil, nil, ErrInvalidPrice
	}

	n, err := s.Get(ctx, negotiationID)
	if err != nil {
		return nil, nil, err
	}
	role := participantRole(n, senderID)
	if role == "" {
		return nil, nil, ErrForbidden
	}
	if !n.IsActive {
		return nil, nil, ErrNegotiationClosed
	}

	var appended *domain.NegotiationMessage
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Re-check inside the transaction: an accept may have landed
		// between the read above and this write.
		rows := tx.Model(&domain.Negotiation{}).
			Where("id = ? AND is_active = ?", negotiationID, true).
			Update("updated_at", gorm.Expr("updated_at"))
		if rows.Error != nil {
			return rows.Error
		}
		if rows.RowsAffected == 0 {
			return ErrNegotiationClosed
		}

		m, err := repo.AppendMessage(ctx, tx, &domain.NegotiationMessage{
			NegotiationID: negotiationID,
			Sender:        role,
			SenderID:      senderID,
			Message:       message,
			Offer:         offer,
		})
		if err != nil {
			return err
		}
		appended = m

		if offer != nil {
			return repo.SetCurrentPrice(ctx, tx, negotiationID, *offer)
		}
		return repo.TouchNegotiation(ctx, tx, negotiationID)
	})
	if err != nil {
		return nil, nil, err
	}

	if s.Broadcast != nil {
		s.Broadcast.NegotiationMessage(negotiationID, *appended)
	}

	updated, err := s.Get(ctx, negotiationID)
	if err != nil {
		return nil, nil, err
	}
	return updated, appended, nil
}

// AINegotiate runs an AI counter-offer round. The negotiation record is
// read before the model call and written after it; no lock is held while
// the call is in flight, so participants keep messaging freely. A model
// failure surfaces as a recoverable error with the negotiation unchanged.
// The AI's reply is appended as a transcript entry with sender "ai", and
// its counter-offer (when present) becomes the new currentPrice.
func (s *NegotiationService) AINegotiate(ctx context.Context, negotiationID, requesterID, buyerMessage string) (*AIRound, error) {
	tr := otel.Tracer("services/NegotiationService")
	ctx, span := tr.Start(ctx, "AINegotiate",
		trace.WithAttributes(
			attribute.String("negotiation.id", negotiationID),
			attribute.String("user.id", requesterID),
		),
	)
	defer span.End()

	if s.Negotiator == nil {
		return nil, ErrAIDisabled
	}

	n, err := s.Get(ctx, negotiationID)
	if err != nil {
		return nil, err
	}
	if participantRole(n, requesterID) == "" {
		return nil, ErrForbidden
	}
	if !n.IsActive {
		return nil, ErrNegotiationClosed
	}

	product, err := repo.GetProduct(ctx, s.DB, n.ProductID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}

	// Network-bound model call. Deliberately outside any transaction.
	offer, err := s.Negotiator.NegotiatePrice(ctx, ai.NegotiationContext{
		Product:      product,
		CurrentOffer: n.CurrentPrice,
		BuyerMessage: buyerMessage,
		History:      n.Messages,
	})
	if err != nil {
		return nil, err
	}

	var appended *domain.NegotiationMessage
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The session may have closed while the model was thinking.
		rows := tx.Model(&domain.Negotiation{}).
			Where("id = ? AND is_active = ?", negotiationID, true).
			Update("updated_at", gorm.Expr("updated_at"))
		if rows.Error != nil {
			return rows.Error
		}
		if rows.RowsAffected == 0 {
			return ErrNegotiationClosed
		}

		m, err := repo.AppendMessage(ctx, tx, &domain.NegotiationMessage{
			NegotiationID: negotiationID,
			Sender:        domain.SenderAI,
			SenderID:      aiSenderID,
			Message:       offer.Response,
			Offer:         offer.CounterOffer,
			AIData: &domain.AIData{
				Reasoning:           offer.Reasoning,
				Recommendation:      offer.AcceptanceRecommendation,
				MarketJustification: offer.MarketJustification,
			},
		})
		if err != nil {
			return err
		}
		appended = m

		if offer.CounterOffer != nil {
			return repo.SetCurrentPrice(ctx, tx, negotiationID, *offer.CounterOffer)
		}
		return repo.TouchNegotiation(ctx, tx, negotiationID)
	})
	if err != nil {
		return nil, err
	}

	if s.Broadcast != nil {
		s.Broadcast.NegotiationMessage(negotiationID, *appended)
	}

	updated, err := s.Get(ctx, negotiationID)
	if err != nil {
		return nil, err
	}
	return &AIRound{Negotiation: updated, AIResponse: offer}, nil
}

// Accept settles an active negotiation at its current price: the session
// flips terminal (isAccepted = true, isActive = false, finalPrice =
// currentPrice) and exactly one order is created at finalPrice × quantity,
// both inside one transaction gated on the session still being active. A
// repeated accept returns the existing order with ErrNegotiationClosed
// instead of creating a second one. closingMessage, when non-empty, is
// appended as the final transcript entry before the flip.
func (s *NegotiationService) Accept(ctx context.Context, negotiationID, requesterID, closingMessage string) (*Settlement, error) {
	tr := otel.Tracer("services/NegotiationService")
	ctx, span := tr.Start(ctx, "Accept",
		trace.WithAttributes(
			attribute.String("negotiation.id", negotiationID),
			attribute.String("user.id", requesterID),
		),
	)
	defer span.End()

	n, err := s.Get(ctx, negotiationID)
	if err != nil {
		return nil, err
	}
	role := participantRole(n, requesterID)
	if role == "" {
		return nil, ErrForbidden
	}
	if !n.IsActive {
		return s.existingSettlement(ctx, n)
	}

	final := n.CurrentPrice
	var (
		order   *domain.Order
		closing *domain.NegotiationMessage
	)
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := repo.CloseNegotiation(ctx, tx, negotiationID, true, &final)
		if err != nil {
			return err
		}
		if rows == 0 {
			return ErrNegotiationClosed
		}

		if strings.TrimSpace(closingMessage) != "" {
			closing, err = repo.AppendMessage(ctx, tx, &domain.NegotiationMessage{
				NegotiationID: negotiationID,
				Sender:        role,
				SenderID:      requesterID,
				Message:       closingMessage,
			})
			if err != nil {
				return err
			}
		}

		total := final.Mul(decimal.NewFromInt(int64(n.Quantity)))
		order, err = repo.CreateOrder(ctx, tx, &domain.Order{
			BuyerID:       n.BuyerID,
			VendorID:      n.VendorID,
			ProductID:     &n.ProductID,
			NegotiationID: &n.ID,
			Quantity:      n.Quantity,
			UnitPrice:     final,
			TotalAmount:   total,
			Status:        domain.OrderStatusPending,
		})
		return err
	})
	if errors.Is(err, ErrNegotiationClosed) {
		// Lost the accept race; report the winner's settlement.
		fresh, ferr := s.Get(ctx, negotiationID)
		if ferr != nil {
			return nil, err
		}
		return s.existingSettlement(ctx, fresh)
	}
	if err != nil {
		return nil, err
	}

	updated, err := s.Get(ctx, negotiationID)
	if err != nil {
		return nil, err
	}

	if s.Broadcast != nil {
		s.Broadcast.DealAccepted(negotiationID, closing, order)
	}
	return &Settlement{Negotiation: updated, Order: order}, nil
}

// Close manually terminates an active negotiation without producing an
// order (buyer walked away, offer expired). Terminal sessions stay as
// they are.
func (s *NegotiationService) Close(ctx context.Context, negotiationID, requesterID string) (*domain.Negotiation, error) {
	n, err := s.Get(ctx, negotiationID)
	if err != nil {
		return nil, err
	}
	if participantRole(n, requesterID) == "" {
		return nil, ErrForbidden
	}
	if !n.IsActive {
		return nil, ErrNegotiationClosed
	}
	rows, err := repo.CloseNegotiation(ctx, s.DB, negotiationID, false, nil)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, ErrNegotiationClosed
	}
	return s.Get(ctx, negotiationID)
}

// existingSettlement answers a repeated accept: the negotiation already
// settled, so return its order alongside ErrNegotiationClosed. When the
// session was closed without acceptance there is no order to return.
func (s *NegotiationService) existingSettlement(ctx context.Context, n *domain.Negotiation) (*Settlement, error) {
	if !n.IsAccepted {
		return nil, ErrNegotiationClosed
	}
	order, err := repo.FindOrderByNegotiation(ctx, s.DB, n.ID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrNegotiationClosed
		}
		return nil, err
	}
	return &Settlement{Negotiation: n, Order: order}, ErrNegotiationClosed
}
