package repository

import (
	"context"
	"order-reconciler/internal/model"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NotificationRepository owns the notification outbox. Rows are unique per
// (order, kind, channel) and a SUCCEEDED row is never sent again.
type NotificationRepository interface {
	Enqueue(ctx context.Context, tx *gorm.DB, orderID string, kind model.TransitionKind, channels []model.NotificationChannel) error
	ListByOrder(ctx context.Context, orderID string) ([]*model.NotificationDispatch, error)
	ListByOrderKind(ctx context.Context, orderID string, kind model.TransitionKind) ([]*model.NotificationDispatch, error)
	ListDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]*model.NotificationDispatch, error)
	Claim(ctx context.Context, id uint, workerID string, now, staleBefore time.Time) (bool, error)
	MarkSucceeded(ctx context.Context, id uint, now time.Time) error
	MarkFailed(ctx context.Context, id uint, attempts int, status string, nextAttemptAt *time.Time, errMsg string) error
	ResetForRetry(ctx context.Context, orderID string, kind model.TransitionKind) (int64, error)
}

type notificationRepoImpl struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepoImpl{db: db}
}

func (r *notificationRepoImpl) Enqueue(ctx context.Context, tx *gorm.DB, orderID string, kind model.TransitionKind, channels []model.NotificationChannel) error {
	if len(channels) == 0 {
		return nil
	}
	conn := r.db
	if tx != nil {
		conn = tx
	}

	rows := make([]*model.NotificationDispatch, len(channels))
	for i, ch := range channels {
		rows[i] = &model.NotificationDispatch{
			OrderID: orderID,
			Kind:    kind,
			Channel: ch,
			Status:  model.DispatchStatusPending,
		}
	}

	return conn.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rows).Error
}

func (r *notificationRepoImpl) ListByOrder(ctx context.Context, orderID string) ([]*model.NotificationDispatch, error) {
	var rows []*model.NotificationDispatch
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id ASC").
		Find(&rows).Error

	return rows, err
}

func (r *notificationRepoImpl) ListByOrderKind(ctx context.Context, orderID string, kind model.TransitionKind) ([]*model.NotificationDispatch, error) {
	var rows []*model.NotificationDispatch
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND kind = ?", orderID, kind).
		Order("id ASC").
		Find(&rows).Error

	return rows, err
}

func (r *notificationRepoImpl) ListDue(ctx context.Context, now, staleBefore time.Time, limit int) ([]*model.NotificationDispatch, error) {
	var rows []*model.NotificationDispatch
	err := r.db.WithContext(ctx).
		Where(dueCondition, model.DispatchStatusPending, model.DispatchStatusFailed, now,
			model.DispatchStatusProcessing, staleBefore).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error

	return rows, err
}

// a row is due when it waits for (re)delivery and its backoff elapsed, or
// when a worker claimed it and never came back
const dueCondition = `(
	(status IN (?, ?) AND (next_attempt_at IS NULL OR next_attempt_at <= ?))
	OR (status = ? AND locked_at <= ?)
)`

// Claim is a conditional update; only one caller can move a due row to
// PROCESSING.
func (r *notificationRepoImpl) Claim(ctx context.Context, id uint, workerID string, now, staleBefore time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&model.NotificationDispatch{}).
		Where("id = ?", id).
		Where(dueCondition, model.DispatchStatusPending, model.DispatchStatusFailed, now,
			model.DispatchStatusProcessing, staleBefore).
		Updates(map[string]interface{}{
			"status":     model.DispatchStatusProcessing,
			"locked_at":  now,
			"locked_by":  workerID,
			"updated_at": now,
		})

	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected == 1, nil
}

func (r *notificationRepoImpl) MarkSucceeded(ctx context.Context, id uint, now time.Time) error {
	return r.db.WithContext(ctx).Model(&model.NotificationDispatch{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":          model.DispatchStatusSucceeded,
			"attempts":        gorm.Expr("attempts + 1"),
			"sent_at":         now,
			"last_error":      nil,
			"next_attempt_at": nil,
			"locked_at":       nil,
			"locked_by":       nil,
			"updated_at":      now,
		}).Error
}

func (r *notificationRepoImpl) MarkFailed(ctx context.Context, id uint, attempts int, status string, nextAttemptAt *time.Time, errMsg string) error {
	errMsg = model.TruncateDetail(errMsg)
	return r.db.WithContext(ctx).Model(&model.NotificationDispatch{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":          status,
			"attempts":        attempts,
			"last_error":      &errMsg,
			"next_attempt_at": nextAttemptAt,
			"locked_at":       nil,
			"locked_by":       nil,
			"updated_at":      time.Now().UTC(),
		}).Error
}

// ResetForRetry makes FAILED and DEAD rows of an order+kind immediately due
// again with a fresh attempt budget.
func (r *notificationRepoImpl) ResetForRetry(ctx context.Context, orderID string, kind model.TransitionKind) (int64, error) {
	result := r.db.WithContext(ctx).Model(&model.NotificationDispatch{}).
		Where("order_id = ? AND kind = ? AND status IN ?", orderID, kind,
			[]string{model.DispatchStatusFailed, model.DispatchStatusDead}).
		Updates(map[string]interface{}{
			"status":          model.DispatchStatusPending,
			"attempts":        0,
			"next_attempt_at": nil,
			"updated_at":      time.Now().UTC(),
		})

	return result.RowsAffected, result.Error
}
