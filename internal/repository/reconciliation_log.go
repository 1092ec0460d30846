package repository

import (
	"context"
	"order-reconciler/internal/model"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ReconciliationLogRepository is append-only: there is no update or delete.
type ReconciliationLogRepository interface {
	Append(ctx context.Context, tx *gorm.DB, entry *model.ReconciliationLogEntry) error
	ListByOrder(ctx context.Context, orderID string, limit int) ([]*model.ReconciliationLogEntry, error)
	CountByOrder(ctx context.Context, orderID string, outcome model.ReconcileOutcome) (int64, error)
}

type reconciliationLogRepoImpl struct {
	db *gorm.DB
}

func NewReconciliationLogRepository(db *gorm.DB) ReconciliationLogRepository {
	return &reconciliationLogRepoImpl{db: db}
}

func (r *reconciliationLogRepoImpl) Append(ctx context.Context, tx *gorm.DB, entry *model.ReconciliationLogEntry) error {
	conn := r.db
	if tx != nil {
		conn = tx
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.ProcessedAt.IsZero() {
		entry.ProcessedAt = time.Now().UTC()
	}
	entry.Detail = model.TruncateDetail(entry.Detail)

	return conn.WithContext(ctx).Create(entry).Error
}

func (r *reconciliationLogRepoImpl) ListByOrder(ctx context.Context, orderID string, limit int) ([]*model.ReconciliationLogEntry, error) {
	var entries []*model.ReconciliationLogEntry
	q := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("processed_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Find(&entries).Error; err != nil {
		return nil, err
	}

	return entries, nil
}

func (r *reconciliationLogRepoImpl) CountByOrder(ctx context.Context, orderID string, outcome model.ReconcileOutcome) (int64, error) {
	var count int64
	q := r.db.WithContext(ctx).Model(&model.ReconciliationLogEntry{}).
		Where("order_id = ?", orderID)
	if outcome != "" {
		q = q.Where("outcome = ?", outcome)
	}

	err := q.Count(&count).Error
	return count, err
}
