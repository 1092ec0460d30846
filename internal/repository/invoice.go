package repository

import (
	"context"
	"errors"
	"order-reconciler/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrInvoiceRefNotFound = errors.New("invoice reference not found")

type InvoiceRepository interface {
	// Create stores an invoice attempt. A concurrent insert of the same
	// (order, attempt) is not an error; the stored row is returned instead.
	Create(ctx context.Context, tx *gorm.DB, invoice *model.OrderInvoice) (*model.OrderInvoice, error)
	FindByExternalID(ctx context.Context, externalID string) (*model.OrderInvoice, error)
	ListByOrder(ctx context.Context, orderID string) ([]*model.OrderInvoice, error)
	LatestAttempt(ctx context.Context, orderID string) (int, error)
}

type invoiceRepoImpl struct {
	db *gorm.DB
}

func NewInvoiceRepository(db *gorm.DB) InvoiceRepository {
	return &invoiceRepoImpl{
		db: db,
	}
}

func (r *invoiceRepoImpl) Create(ctx context.Context, tx *gorm.DB, invoice *model.OrderInvoice) (*model.OrderInvoice, error) {
	conn := r.db
	if tx != nil {
		conn = tx
	}

	err := conn.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(invoice).Error
	if err != nil {
		return nil, err
	}

	var stored model.OrderInvoice
	err = conn.WithContext(ctx).
		Where("order_id = ? AND attempt = ?", invoice.OrderID, invoice.Attempt).
		First(&stored).Error
	if err != nil {
		return nil, err
	}

	return &stored, nil
}

func (r *invoiceRepoImpl) FindByExternalID(ctx context.Context, externalID string) (*model.OrderInvoice, error) {
	var invoice model.OrderInvoice
	err := r.db.WithContext(ctx).
		Where("external_id = ?", externalID).
		First(&invoice).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvoiceRefNotFound
	}
	if err != nil {
		return nil, err
	}

	return &invoice, nil
}

func (r *invoiceRepoImpl) ListByOrder(ctx context.Context, orderID string) ([]*model.OrderInvoice, error) {
	var invoices []*model.OrderInvoice
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("attempt ASC").
		Find(&invoices).Error

	if err != nil {
		return nil, err
	}

	return invoices, nil
}

// LatestAttempt returns 0 when the order has no invoice yet.
func (r *invoiceRepoImpl) LatestAttempt(ctx context.Context, orderID string) (int, error) {
	var latest int64
	err := r.db.WithContext(ctx).
		Model(&model.OrderInvoice{}).
		Where("order_id = ?", orderID).
		Select("COALESCE(MAX(attempt), 0)").
		Row().
		Scan(&latest)

	if err != nil {
		return 0, err
	}

	return int(latest), nil
}
