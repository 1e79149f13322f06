// Package services – QuoteService
//
// This file implements the quote lifecycle: RFQ creation and manual
// transitions, per-vendor quote submission (an upsert, idempotent per
// (rfqID, vendorID)), and quote acceptance — the settlement transition that
// must pick exactly one winner, reject every sibling quote, flip the parent
// RFQ, and produce exactly one order, all inside one transaction.
//
// Observability: mutating methods are OpenTelemetry-instrumented; spans
// carry the RFQ and quote identifiers.

package services

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tradeloom/marketplace-backend/internal/domain"
	"github.com/tradeloom/marketplace-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// QuoteService owns RFQ and Quote mutation and is one of the two writers
// of Order (the other is NegotiationService).
type QuoteService struct {
	DB *gorm.DB
}

// NewQuoteService constructs a QuoteService.
func NewQuoteService(db *gorm.DB) *QuoteService {
	return &QuoteService{DB: db}
}

// RFQInput is the buyer-supplied payload for creating an RFQ.
type RFQInput struct {
	ProductID   *string
	Title       string
	Description string
	Quantity    int
	TargetPrice *decimal.Decimal
	Deadline    *time.Time
}

// QuoteInput is the vendor-supplied price terms for a quote submission.
type QuoteInput struct {
	Price        decimal.Decimal
	Quantity     int
	DeliveryTime string
	ValidUntil   *time.Time
	Notes        string
}

// QuoteSettlement is the result of a successful (or repeated) quote
// acceptance: the winning quote, the sibling quotes forced to rejected,
// and the single order the settlement produced.
type QuoteSettlement struct {
	Quote          *domain.Quote  `json:"quote"`
	RejectedQuotes []domain.Quote `json:"rejected_quotes"`
	Order          *domain.Order  `json:"order"`
}

// CreateRFQ validates and persists a new RFQ owned by buyerID.
func (s *QuoteService) CreateRFQ(ctx context.Context, buyerID string, in RFQInput) (*domain.RFQ, error) {
	if in.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if in.TargetPrice != nil && !in.TargetPrice.IsPositive() {
		return nil, ErrInvalidPrice
	}
	return repo.CreateRFQ(ctx, s.DB, &domain.RFQ{
		BuyerID:     buyerID,
		ProductID:   in.ProductID,
		Title:       in.Title,
		Description: in.Description,
		Quantity:    in.Quantity,
		TargetPrice: in.TargetPrice,
		Deadline:    in.Deadline,
	})
}

// GetRFQ fetches an RFQ by id.
func (s *QuoteService) GetRFQ(ctx context.Context, id string) (*domain.RFQ, error) {
	r, err := repo.GetRFQ(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrRFQNotFound
	}
	return r, err
}

// ListRFQs returns RFQs matching the filter.
func (s *QuoteService) ListRFQs(ctx context.Context, f repo.RFQFilter) ([]domain.RFQ, error) {
	return repo.ListRFQs(ctx, s.DB, f)
}

// CloseRFQ manually transitions an open (or quoted) RFQ to closed or
// rejected. Only the owning buyer may do this, and no transition is
// permitted out of a settled or already-closed RFQ.
func (s *QuoteService) CloseRFQ(ctx context.Context, rfqID, buyerID, status string) (*domain.RFQ, error) {
	if status != domain.RFQStatusClosed && status != domain.RFQStatusRejected {
		return nil, ErrInvalidStatus
	}
	r, err := s.GetRFQ(ctx, rfqID)
	if err != nil {
		return nil, err
	}
	if r.BuyerID != buyerID {
		return nil, ErrForbidden
	}
	rows, err := repo.SetRFQStatus(ctx, s.DB, rfqID, status, domain.RFQStatusOpen, domain.RFQStatusQuoted)
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, ErrInvalidStatus
	}
	return s.GetRFQ(ctx, rfqID)
}

// SubmitQuote records a vendor's priced response to an open RFQ. A vendor
// resubmitting updates its existing quote in place: the operation is an
// atomic find-by-(rfqID, vendorID)-else-create, so concurrent submissions
// from one vendor cannot create duplicates. The first quote moves the RFQ
// from open to quoted; quoted RFQs keep accepting (re)submissions.
func (s *QuoteService) SubmitQuote(ctx context.Context, rfqID, vendorID string, in QuoteInput) (*domain.Quote, error) {
	tr := otel.Tracer("services/QuoteService")
	ctx, span := tr.Start(ctx, "SubmitQuote",
		trace.WithAttributes(
			attribute.String("rfq.id", rfqID),
			attribute.String("vendor.id", vendorID),
		),
	)
	defer span.End()

	if !in.Price.IsPositive() {
		return nil, ErrInvalidPrice
	}
	if in.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	rfq, err := s.GetRFQ(ctx, rfqID)
	if err != nil {
		return nil, err
	}
	if rfq.Status != domain.RFQStatusOpen && rfq.Status != domain.RFQStatusQuoted {
		return nil, ErrRFQNotOpen
	}

	var out *domain.Quote
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q, err := repo.UpsertQuote(ctx, tx, &domain.Quote{
			RFQID:        rfqID,
			VendorID:     vendorID,
			Price:        in.Price,
			Quantity:     in.Quantity,
			DeliveryTime: in.DeliveryTime,
			ValidUntil:   in.ValidUntil,
			Notes:        in.Notes,
		})
		if err != nil {
			return err
		}
		out = q
		if rfq.Status == domain.RFQStatusOpen {
			if _, err := repo.SetRFQStatus(ctx, tx, rfqID, domain.RFQStatusQuoted, domain.RFQStatusOpen); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListQuotes returns the quotes submitted for an RFQ. The owning buyer and
// vendors may view them.
func (s *QuoteService) ListQuotes(ctx context.Context, rfqID, requesterID, role string) ([]domain.Quote, error) {
	rfq, err := s.GetRFQ(ctx, rfqID)
	if err != nil {
		return nil, err
	}
	if role == "buyer" && rfq.BuyerID != requesterID {
		return nil, ErrForbidden
	}
	return repo.ListQuotes(ctx, s.DB, rfqID)
}

// errSettlementLost aborts the acceptance transaction when the conditional
// flip finds the quote already accepted: the caller re-reads the winning
// settlement and reports the idempotent no-op.
var errSettlementLost = errors.New("settlement lost to concurrent accept")

// AcceptQuote settles an RFQ on the given quote. Only the RFQ's buyer may
// accept. In one transaction it (a) flips the quote's isAccepted gated on
// it not being accepted yet, (b) rejects every sibling quote, (c) moves the
// RFQ to accepted, and (d) creates exactly one order priced at
// quote.Price × quote.Quantity. Two concurrent accepts against the same
// RFQ cannot both succeed: the loser observes the winner's flip and
// short-circuits to the existing settlement with ErrQuoteAlreadyAccepted.
func (s *QuoteService) AcceptQuote(ctx context.Context, quoteID, requesterID string) (*QuoteSettlement, error) {
	tr := otel.Tracer("services/QuoteService")
	ctx, span := tr.Start(ctx, "AcceptQuote",
		trace.WithAttributes(
			attribute.String("quote.id", quoteID),
			attribute.String("user.id", requesterID),
		),
	)
	defer span.End()

	q, err := repo.GetQuote(ctx, s.DB, quoteID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrQuoteNotFound
		}
		return nil, err
	}
	rfq, err := s.GetRFQ(ctx, q.RFQID)
	if err != nil {
		return nil, err
	}
	if rfq.BuyerID != requesterID {
		return nil, ErrForbidden
	}
	if q.IsAccepted {
		return s.existingSettlement(ctx, q)
	}
	if rfq.Status != domain.RFQStatusOpen && rfq.Status != domain.RFQStatusQuoted {
		// A sibling quote already settled this RFQ (or it was closed).
		return nil, ErrRFQNotOpen
	}

	var settlement *QuoteSettlement
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := repo.MarkQuoteAccepted(ctx, tx, quoteID)
		if err != nil {
			return err
		}
		if rows == 0 {
			return errSettlementLost
		}
		rows, err = repo.SetRFQStatus(ctx, tx, rfq.ID, domain.RFQStatusAccepted,
			domain.RFQStatusOpen, domain.RFQStatusQuoted)
		if err != nil {
			return err
		}
		if rows == 0 {
			// Another quote of this RFQ settled between our pre-check and
			// the flip; abort so no partial state commits.
			return errSettlementLost
		}

		rejected, err := repo.RejectSiblingQuotes(ctx, tx, rfq.ID, quoteID)
		if err != nil {
			return err
		}

		total := q.Price.Mul(decimal.NewFromInt(int64(q.Quantity)))
		order, err := repo.CreateOrder(ctx, tx, &domain.Order{
			BuyerID:     rfq.BuyerID,
			VendorID:    q.VendorID,
			ProductID:   rfq.ProductID,
			RFQID:       &rfq.ID,
			QuoteID:     &q.ID,
			Quantity:    q.Quantity,
			UnitPrice:   q.Price,
			TotalAmount: total,
			Status:      domain.OrderStatusPending,
		})
		if err != nil {
			return err
		}

		accepted := *q
		accepted.IsAccepted = true
		accepted.Status = domain.QuoteStatusAccepted
		settlement = &QuoteSettlement{Quote: &accepted, RejectedQuotes: rejected, Order: order}
		return nil
	})
	if errors.Is(err, errSettlementLost) {
		// Re-read: either this quote won through another request
		// (idempotent retry) or a sibling did (invalid state).
		fresh, ferr := repo.GetQuote(ctx, s.DB, quoteID)
		if ferr == nil && fresh.IsAccepted {
			return s.existingSettlement(ctx, fresh)
		}
		return nil, ErrRFQNotOpen
	}
	if err != nil {
		return nil, err
	}
	return settlement, nil
}

// existingSettlement rebuilds the settlement result for a quote that has
// already been accepted, returning it with ErrQuoteAlreadyAccepted so
// callers can treat the repeat as a no-op rather than a failure.
func (s *QuoteService) existingSettlement(ctx context.Context, q *domain.Quote) (*QuoteSettlement, error) {
	all, err := repo.ListQuotes(ctx, s.DB, q.RFQID)
	if err != nil {
		return nil, err
	}
	rejected := make([]domain.Quote, 0, len(all))
	for _, other := range all {
		if other.ID != q.ID {
			rejected = append(rejected, other)
		}
	}
	order, err := repo.FindOrderByQuote(ctx, s.DB, q.ID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	return &QuoteSettlement{Quote: q, RejectedQuotes: rejected, Order: order}, ErrQuoteAlreadyAccepted
}
