// Package repo – negotiation persistence.
//
// The transcript is a separate append-only table ordered by a
// per-negotiation sequence number assigned at insert time inside the
// caller's transaction. CloseNegotiation is the conditional flip that gates
// order creation during acceptance.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tradeloom/marketplace-backend/internal/domain"
)

// NegotiationFilter narrows negotiation listings. Zero values mean "no
// constraint".
type NegotiationFilter struct {
	BuyerID   string
	VendorID  string
	ProductID string
	Active    *bool
}

// CreateNegotiation inserts a new active negotiation. CurrentPrice must be
// set by the caller (list price, or the buyer's opening offer).
func CreateNegotiation(ctx context.Context, db *gorm.DB, n *domain.Negotiation) (*domain.Negotiation, error) {
	n.ID = uuid.NewString()
	n.IsActive = true
	n.IsAccepted = false
	n.CreatedAt = time.Now().UTC()
	if err := db.WithContext(ctx).Create(n).Error; err != nil {
		return nil, err
	}
	return n, nil
}

// GetNegotiation fetches a negotiation with its transcript in append order,
// or ErrNotFound if missing.
func GetNegotiation(ctx context.Context, db *gorm.DB, id string) (*domain.Negotiation, error) {
	var n domain.Negotiation
	err := db.WithContext(ctx).
		Preload("Messages", func(tx *gorm.DB) *gorm.DB { return tx.Order("seq asc") }).
		Where("id = ?", id).
		First(&n).Error
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// ListNegotiations returns negotiations matching the filter, most recently
// updated first. Transcripts are not preloaded for listings.
func ListNegotiations(ctx context.Context, db *gorm.DB, f NegotiationFilter) ([]domain.Negotiation, error) {
	q := db.WithContext(ctx).Model(&domain.Negotiation{})
	if f.BuyerID != "" {
		q = q.Where("buyer_id = ?", f.BuyerID)
	}
	if f.VendorID != "" {
		q = q.Where("vendor_id = ?", f.VendorID)
	}
	if f.ProductID != "" {
		q = q.Where("product_id = ?", f.ProductID)
	}
	if f.Active != nil {
		q = q.Where("is_active = ?", *f.Active)
	}
	var out []domain.Negotiation
	err := q.Order("updated_at desc").Find(&out).Error
	return out, err
}

// AppendMessage inserts a transcript entry with the next sequence number
// and a server-assigned timestamp. Run it inside the transaction that also
// updates the negotiation so the sequence stays gap-free under concurrent
// appends.
func AppendMessage(ctx context.Context, db *gorm.DB, m *domain.NegotiationMessage) (*domain.NegotiationMessage, error) {
	var maxSeq int64
	err := db.WithContext(ctx).
		Model(&domain.NegotiationMessage{}).
		Where("negotiation_id = ?", m.NegotiationID).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&maxSeq).Error
	if err != nil {
		return nil, err
	}

	m.ID = uuid.NewString()
	m.Seq = maxSeq + 1
	m.CreatedAt = time.Now().UTC()
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, err
	}
	return m, nil
}

// SetCurrentPrice updates the running offer price of an active negotiation.
func SetCurrentPrice(ctx context.Context, db *gorm.DB, id string, price decimal.Decimal) error {
	return db.WithContext(ctx).
		Model(&domain.Negotiation{}).
		Where("id = ?", id).
		Updates(map[string]any{"current_price": price, "updated_at": time.Now().UTC()}).Error
}

// TouchNegotiation bumps updated_at so listings sort by activity.
func TouchNegotiation(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).
		Model(&domain.Negotiation{}).
		Where("id = ?", id).
		Update("updated_at", time.Now().UTC()).Error
}

// CloseNegotiation flips the negotiation terminal, gated on it still being
// active. accepted decides whether the close is a settlement (final price
// recorded, order to follow) or a plain close/expiry. RowsAffected = 0
// means another accept or close already won.
func CloseNegotiation(ctx context.Context, db *gorm.DB, id string, accepted bool, finalPrice *decimal.Decimal) (int64, error) {
	updates := map[string]any{
		"is_active":   false,
		"is_accepted": accepted,
		"updated_at":  time.Now().UTC(),
	}
	if finalPrice != nil {
		updates["final_price"] = *finalPrice
	}
	res := db.WithContext(ctx).
		Model(&domain.Negotiation{}).
		Where("id = ? AND is_active = ?", id, true).
		Updates(updates)
	return res.RowsAffected, res.Error
}
