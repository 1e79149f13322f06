// Package repo – quote persistence.
//
// Quotes carry the single-winner invariant of the settlement engine, so the
// mutating helpers here are written as conditional updates: the calling
// transaction learns from RowsAffected whether it won the check-and-set
// rather than reading state in a separate step.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tradeloom/marketplace-backend/internal/domain"
)

// UpsertQuote inserts a quote or, when the vendor already quoted this RFQ,
// updates the existing row's price terms in place. The (rfq_id, vendor_id)
// unique index makes this a single atomic find-else-create; there is no
// lookup-then-branch window. The persisted row is returned.
func UpsertQuote(ctx context.Context, db *gorm.DB, q *domain.Quote) (*domain.Quote, error) {
	q.ID = uuid.NewString()
	q.IsAccepted = false
	q.Status = domain.QuoteStatusPending
	q.CreatedAt = time.Now().UTC()
	q.UpdatedAt = q.CreatedAt

	err := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "rfq_id"}, {Name: "vendor_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"price":         q.Price,
			"quantity":      q.Quantity,
			"delivery_time": q.DeliveryTime,
			"valid_until":   q.ValidUntil,
			"notes":         q.Notes,
			"updated_at":    q.UpdatedAt,
		}),
	}).Create(q).Error
	if err != nil {
		return nil, err
	}

	// Re-read: on conflict the insert id differs from the surviving row.
	var out domain.Quote
	err = db.WithContext(ctx).
		Where("rfq_id = ? AND vendor_id = ?", q.RFQID, q.VendorID).
		First(&out).Error
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetQuote fetches a quote by id, or ErrNotFound if missing.
func GetQuote(ctx context.Context, db *gorm.DB, id string) (*domain.Quote, error) {
	var q domain.Quote
	if err := db.WithContext(ctx).Where("id = ?", id).First(&q).Error; err != nil {
		return nil, err
	}
	return &q, nil
}

// ListQuotes returns all quotes submitted for an RFQ, oldest first.
func ListQuotes(ctx context.Context, db *gorm.DB, rfqID string) ([]domain.Quote, error) {
	var out []domain.Quote
	err := db.WithContext(ctx).
		Where("rfq_id = ?", rfqID).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

// MarkQuoteAccepted flips is_accepted on a quote, gated on the quote not
// being accepted already. RowsAffected = 0 tells the caller another accept
// won the race (or already settled) and it must short-circuit.
func MarkQuoteAccepted(ctx context.Context, db *gorm.DB, id string) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Quote{}).
		Where("id = ? AND is_accepted = ?", id, false).
		Updates(map[string]any{
			"is_accepted": true,
			"status":      domain.QuoteStatusAccepted,
			"updated_at":  time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// RejectSiblingQuotes forces every other quote of the RFQ to the terminal
// rejected state and returns the rejected rows.
func RejectSiblingQuotes(ctx context.Context, db *gorm.DB, rfqID, winnerID string) ([]domain.Quote, error) {
	err := db.WithContext(ctx).
		Model(&domain.Quote{}).
		Where("rfq_id = ? AND id <> ?", rfqID, winnerID).
		Updates(map[string]any{
			"is_accepted": false,
			"status":      domain.QuoteStatusRejected,
			"updated_at":  time.Now().UTC(),
		}).Error
	if err != nil {
		return nil, err
	}
	var out []domain.Quote
	err = db.WithContext(ctx).
		Where("rfq_id = ? AND id <> ?", rfqID, winnerID).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

// AcceptedQuote returns the accepted quote for an RFQ, or ErrNotFound when
// the RFQ has not settled through a quote.
func AcceptedQuote(ctx context.Context, db *gorm.DB, rfqID string) (*domain.Quote, error) {
	var q domain.Quote
	err := db.WithContext(ctx).
		Where("rfq_id = ? AND is_accepted = ?", rfqID, true).
		First(&q).Error
	if err != nil {
		return nil, err
	}
	return &q, nil
}
