package repository

import (
	"context"
	"errors"
	"order-reconciler/internal/model"
	"time"

	"gorm.io/gorm"
)

var ErrOrderNotFound = errors.New("order not found")

// StateChange is a compare-and-set of an order's status pair. Extra carries
// columns that are written together with the new state (tracking number,
// shipped_at).
type StateChange struct {
	OrderID         string
	Expected        model.State
	ExpectedVersion int64
	Next            model.State
	Extra           map[string]interface{}
}

type OrderRepository interface {
	Create(ctx context.Context, tx *gorm.DB, order *model.Order) error
	FindByID(ctx context.Context, tx *gorm.DB, orderID string) (*model.Order, error)
	FindWithInvoices(ctx context.Context, orderID string) (*model.Order, error)
	CompareAndSwapState(ctx context.Context, tx *gorm.DB, change StateChange) (bool, error)
	SetChecked(ctx context.Context, orderID string, checked bool) error
}

type orderRepoImpl struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepoImpl{
		db: db,
	}
}

func (r *orderRepoImpl) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *orderRepoImpl) Create(ctx context.Context, tx *gorm.DB, order *model.Order) error {
	return r.conn(tx).WithContext(ctx).Omit("Invoices").Create(order).Error
}

func (r *orderRepoImpl) FindByID(ctx context.Context, tx *gorm.DB, orderID string) (*model.Order, error) {
	var order model.Order
	err := r.conn(tx).WithContext(ctx).
		Where("id = ?", orderID).
		First(&order).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	return &order, nil
}

func (r *orderRepoImpl) FindWithInvoices(ctx context.Context, orderID string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Preload("Invoices", func(db *gorm.DB) *gorm.DB {
			return db.Order("attempt ASC")
		}).
		Where("id = ?", orderID).
		First(&order).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	return &order, nil
}

// CompareAndSwapState writes change.Next only if the row still holds
// change.Expected at change.ExpectedVersion. It reports false when another
// writer got there first.
func (r *orderRepoImpl) CompareAndSwapState(ctx context.Context, tx *gorm.DB, change StateChange) (bool, error) {
	updates := map[string]interface{}{
		"status":         change.Next.Status,
		"payment_status": change.Next.PaymentStatus,
		"version":        gorm.Expr("version + 1"),
		"updated_at":     time.Now().UTC(),
	}
	for k, v := range change.Extra {
		updates[k] = v
	}

	result := r.conn(tx).WithContext(ctx).Model(&model.Order{}).
		Where(`
			id = ?
			AND status = ?
			AND payment_status = ?
			AND version = ?
		`,
			change.OrderID,
			change.Expected.Status,
			change.Expected.PaymentStatus,
			change.ExpectedVersion,
		).
		Updates(updates)

	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected == 1, nil
}

func (r *orderRepoImpl) SetChecked(ctx context.Context, orderID string, checked bool) error {
	result := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ?", orderID).
		Updates(map[string]interface{}{
			"is_checked": checked,
			"updated_at": time.Now().UTC(),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrOrderNotFound
	}

	return nil
}
