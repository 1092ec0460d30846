package model

import (
	"fmt"
	"time"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusPaid       OrderStatus = "paid"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusExpired    OrderStatus = "expired"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled, OrderStatusExpired:
		return true
	}
	return false
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled || s == OrderStatusExpired
}

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

type Order struct {
	ID            string        `gorm:"primaryKey;size:64;not null" json:"id"`
	Status        OrderStatus   `gorm:"size:32;index;not null" json:"status"`
	PaymentStatus PaymentStatus `gorm:"size:32;index;not null" json:"paymentStatus"`
	GrandTotal    int64         `gorm:"not null" json:"grandTotal"` // minor units
	Currency      string        `gorm:"size:8;not null" json:"currency"`
	Description   string        `gorm:"size:255" json:"description"`

	CustomerName    string `gorm:"size:128;not null" json:"customerName"`
	CustomerEmail   string `gorm:"size:255;not null" json:"customerEmail"`
	CustomerPhone   string `gorm:"size:32" json:"customerPhone"`
	CustomerAddress string `gorm:"size:512" json:"customerAddress"`

	TrackingNumber *string    `gorm:"size:64" json:"trackingNumber"`
	ShippedAt      *time.Time `json:"shippedAt"`
	IsChecked      bool       `gorm:"not null;default:false" json:"isChecked"`

	// bumped on every status mutation, part of the compare-and-set key
	Version int64 `gorm:"not null;default:1" json:"version"`

	Invoices []OrderInvoice `gorm:"foreignKey:OrderID;references:ID" json:"invoices,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// State is the pair the compare-and-set is keyed on.
type State struct {
	Status        OrderStatus   `json:"status"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
}

func (s State) String() string {
	return fmt.Sprintf("%s/%s", s.Status, s.PaymentStatus)
}

func (o *Order) State() State {
	return State{Status: o.Status, PaymentStatus: o.PaymentStatus}
}

// CheckInvariants validates the status pair and shipping fields of a
// candidate order state.
func CheckInvariants(state State, trackingNumber *string) error {
	if !state.Status.Valid() {
		return fmt.Errorf("unknown order status %q", state.Status)
	}
	if !state.PaymentStatus.Valid() {
		return fmt.Errorf("unknown payment status %q", state.PaymentStatus)
	}
	if state.PaymentStatus == PaymentStatusPaid {
		switch state.Status {
		case OrderStatusPaid, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered:
		default:
			return fmt.Errorf("payment status paid requires order status paid, processing, shipped or delivered, got %s", state.Status)
		}
	}
	if state.Status == OrderStatusShipped && (trackingNumber == nil || *trackingNumber == "") {
		return fmt.Errorf("shipped order requires a tracking number")
	}
	return nil
}

// OrderInvoice is one payable invoice minted at the gateway for an order.
// Attempt 1 is the invoice created at order placement, later attempts come
// from Retry.
type OrderInvoice struct {
	ID               uint      `gorm:"primaryKey" json:"-"`
	OrderID          string    `gorm:"size:64;not null;uniqueIndex:ux_order_invoices_order_attempt,priority:1" json:"orderId"`
	Attempt          int       `gorm:"not null;uniqueIndex:ux_order_invoices_order_attempt,priority:2" json:"attempt"`
	ExternalID       string    `gorm:"size:128;not null;uniqueIndex" json:"externalId"`
	GatewayInvoiceID string    `gorm:"size:128;index" json:"gatewayInvoiceId"`
	InvoiceURL       string    `gorm:"size:512" json:"invoiceUrl"`
	CreatedAt        time.Time `json:"createdAt"`
}

// InvoiceRef identifies one invoice attempt of an order. The external id sent
// to the gateway is derived from it and is only ever resolved back through
// the order_invoices table.
type InvoiceRef struct {
	OrderID string
	Attempt int
}

func (r InvoiceRef) ExternalID() string {
	if r.Attempt <= 1 {
		return r.OrderID
	}
	return fmt.Sprintf("%s-retry-%d", r.OrderID, r.Attempt-1)
}

func (r InvoiceRef) Next() InvoiceRef {
	return InvoiceRef{OrderID: r.OrderID, Attempt: r.Attempt + 1}
}
