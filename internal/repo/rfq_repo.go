// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for RFQs and the
// product read path the settlement engine depends on.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition. The conditional status update exposes
// the check-and-set the quote settlement transaction is built on.
//
// Error semantics:
//   - When a record is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tradeloom/marketplace-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for consistency across the service
// layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// RFQFilter narrows RFQ listings. Zero values mean "no constraint".
type RFQFilter struct {
	BuyerID string
	Status  string
}

// CreateRFQ inserts a new RFQ owned by the given buyer. The id is a random
// UUID and the status starts at "open".
func CreateRFQ(ctx context.Context, db *gorm.DB, r *domain.RFQ) (*domain.RFQ, error) {
	r.ID = uuid.NewString()
	r.Status = domain.RFQStatusOpen
	r.CreatedAt = time.Now().UTC()
	if err := db.WithContext(ctx).Create(r).Error; err != nil {
		return nil, err
	}
	return r, nil
}

// GetRFQ fetches a single RFQ by id, or ErrNotFound if missing.
func GetRFQ(ctx context.Context, db *gorm.DB, id string) (*domain.RFQ, error) {
	var r domain.RFQ
	if err := db.WithContext(ctx).Where("id = ?", id).First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRFQs returns RFQs matching the filter, most recent first.
func ListRFQs(ctx context.Context, db *gorm.DB, f RFQFilter) ([]domain.RFQ, error) {
	q := db.WithContext(ctx).Model(&domain.RFQ{})
	if f.BuyerID != "" {
		q = q.Where("buyer_id = ?", f.BuyerID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	var out []domain.RFQ
	err := q.Order("created_at desc").Find(&out).Error
	return out, err
}

// SetRFQStatus transitions an RFQ to status, but only when its current
// status is one of from. It returns the number of rows affected; zero means
// the RFQ was missing or no longer in an eligible state, which callers use
// as the losing side of a settlement race.
func SetRFQStatus(ctx context.Context, db *gorm.DB, id, status string, from ...string) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.RFQ{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(map[string]any{"status": status, "updated_at": time.Now().UTC()})
	return res.RowsAffected, res.Error
}

// GetProduct fetches a catalog product by id, or ErrNotFound if missing.
func GetProduct(ctx context.Context, db *gorm.DB, id string) (*domain.Product, error) {
	var p domain.Product
	if err := db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}
