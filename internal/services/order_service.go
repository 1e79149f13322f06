package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tradeloom/marketplace-backend/internal/domain"
	"github.com/tradeloom/marketplace-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// nextOrderStatus enumerates the allowed forward transitions. "cancelled"
// is reachable from every non-terminal state; "delivered" and "cancelled"
// are terminal.
var nextOrderStatus = map[string][]string{
	domain.OrderStatusPending:    {domain.OrderStatusConfirmed, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed:  {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered, domain.OrderStatusCancelled},
	domain.OrderStatusDelivered:  {},
	domain.OrderStatusCancelled:  {},
}

// OrderService exposes the read and fulfillment surface over orders.
// Orders are only ever created by quote or negotiation settlement; this
// service never creates one.
type OrderService struct {
	DB *gorm.DB
}

// NewOrderService constructs an OrderService.
func NewOrderService(db *gorm.DB) *OrderService {
	return &OrderService{DB: db}
}

// Get fetches a single order, restricted to its buyer or vendor.
func (s *OrderService) Get(ctx context.Context, orderID, requesterID string) (*domain.Order, error) {
	o, err := repo.GetOrder(ctx, s.DB, orderID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	if o.BuyerID != requesterID && o.VendorID != requesterID {
		return nil, ErrForbidden
	}
	return o, nil
}

// List returns the requester's orders, newest first.
func (s *OrderService) List(ctx context.Context, f repo.OrderFilter) ([]domain.Order, error) {
	return repo.ListOrders(ctx, s.DB, f)
}

// UpdateStatus advances an order along the fulfillment walk. The vendor
// drives fulfillment; either party may cancel a non-terminal order.
// Out-of-sequence transitions return ErrInvalidStatus.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID, requesterID, status string) (*domain.Order, error) {
	tr := otel.Tracer("services/OrderService")
	ctx, span := tr.Start(ctx, "UpdateStatus",
		trace.WithAttributes(
			attribute.String("order.id", orderID),
			attribute.String("order.status", status),
			attribute.String("user.id", requesterID),
		),
	)
	defer span.End()

	o, err := repo.GetOrder(ctx, s.DB, orderID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	switch status {
	case domain.OrderStatusCancelled:
		if o.BuyerID != requesterID && o.VendorID != requesterID {
			return nil, ErrForbidden
		}
	default:
		if o.VendorID != requesterID {
			return nil, ErrForbidden
		}
	}

	allowed, ok := nextOrderStatus[o.Status]
	if !ok {
		return nil, ErrInvalidStatus
	}
	legal := false
	for _, a := range allowed {
		if a == status {
			legal = true
			break
		}
	}
	if !legal {
		return nil, ErrInvalidStatus
	}

	if err := repo.SetOrderStatus(ctx, s.DB, orderID, status); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return repo.GetOrder(ctx, s.DB, orderID)
}
