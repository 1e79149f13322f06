// Package repo – order persistence.
//
// Orders are written exactly once, by the settlement transactions in the
// service layer; everything else here is read access and the fulfillment
// status walk.
package repo

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradeloom/marketplace-backend/internal/domain"
)

// OrderFilter narrows order listings. Zero values mean "no constraint".
type OrderFilter struct {
	BuyerID  string
	VendorID string
	Status   string
}

// base36 alphabet for order-number suffixes.
const orderNumAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// NewOrderNumber produces a unique human-readable order reference of the
// form ORD-<unix-ms>-<9 random base36 chars>.
func NewOrderNumber() string {
	buf := make([]byte, 9)
	if _, err := rand.Read(buf); err != nil {
		// Extremely unlikely; fall back to a UUID fragment.
		return "ORD-" + fmt.Sprint(time.Now().UnixMilli()) + "-" + strings.ToUpper(uuid.NewString()[:9])
	}
	for i, b := range buf {
		buf[i] = orderNumAlphabet[int(b)%len(orderNumAlphabet)]
	}
	return fmt.Sprintf("ORD-%d-%s", time.Now().UnixMilli(), string(buf))
}

// CreateOrder inserts a settlement order. The caller computes TotalAmount
// with decimal arithmetic; this function only assigns identity fields.
func CreateOrder(ctx context.Context, db *gorm.DB, o *domain.Order) (*domain.Order, error) {
	o.ID = uuid.NewString()
	o.OrderNumber = NewOrderNumber()
	if o.Status == "" {
		o.Status = domain.OrderStatusPending
	}
	o.CreatedAt = time.Now().UTC()
	if err := db.WithContext(ctx).Create(o).Error; err != nil {
		return nil, err
	}
	return o, nil
}

// GetOrder fetches an order by id, or ErrNotFound if missing.
func GetOrder(ctx context.Context, db *gorm.DB, id string) (*domain.Order, error) {
	var o domain.Order
	if err := db.WithContext(ctx).Where("id = ?", id).First(&o).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

// ListOrders returns orders matching the filter, most recent first.
func ListOrders(ctx context.Context, db *gorm.DB, f OrderFilter) ([]domain.Order, error) {
	q := db.WithContext(ctx).Model(&domain.Order{})
	if f.BuyerID != "" {
		q = q.Where("buyer_id = ?", f.BuyerID)
	}
	if f.VendorID != "" {
		q = q.Where("vendor_id = ?", f.VendorID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	var out []domain.Order
	err := q.Order("created_at desc").Find(&out).Error
	return out, err
}

// FindOrderByQuote returns the order a quote settlement produced, or
// ErrNotFound. Used to answer repeated accept calls idempotently.
func FindOrderByQuote(ctx context.Context, db *gorm.DB, quoteID string) (*domain.Order, error) {
	var o domain.Order
	if err := db.WithContext(ctx).Where("quote_id = ?", quoteID).First(&o).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

// FindOrderByNegotiation returns the order a negotiation settlement
// produced, or ErrNotFound.
func FindOrderByNegotiation(ctx context.Context, db *gorm.DB, negotiationID string) (*domain.Order, error) {
	var o domain.Order
	if err := db.WithContext(ctx).Where("negotiation_id = ?", negotiationID).First(&o).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

// SetOrderStatus updates the fulfillment status of an order. It returns
// ErrNotFound when the order does not exist.
func SetOrderStatus(ctx context.Context, db *gorm.DB, id, status string) error {
	res := db.WithContext(ctx).
		Model(&domain.Order{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
