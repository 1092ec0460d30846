package dto

import (
	"order-reconciler/internal/model"
	"time"
)

type PlaceOrderRequest struct {
	CustomerName    string `json:"customer_name" validate:"required,max=128"`
	CustomerEmail   string `json:"customer_email" validate:"required,email"`
	CustomerPhone   string `json:"customer_phone" validate:"omitempty,max=32"`
	CustomerAddress string `json:"customer_address" validate:"omitempty,max=512"`
	GrandTotal      int64  `json:"grand_total" validate:"required,gt=0"`
	Description     string `json:"description" validate:"omitempty,max=255"`
}

type PayResponse struct {
	OrderID     string `json:"order_id"`
	Attempt     int    `json:"attempt"`
	ExternalRef string `json:"external_ref"`
	PaymentURL  string `json:"payment_url"`
}

type OrderIDRequest struct {
	OrderID string `json:"order_id" validate:"required"`
}

type SyncResponse struct {
	OrderID        string                 `json:"order_id"`
	Before         model.State            `json:"before"`
	After          model.State            `json:"after"`
	Mutated        bool                   `json:"mutated"`
	ExternalRef    string                 `json:"external_ref,omitempty"`
	ExternalStatus model.ExternalStatus   `json:"external_status,omitempty"`
	Outcome        model.ReconcileOutcome `json:"outcome,omitempty"`
	Message        string                 `json:"message,omitempty"`
	Notifications  []NotificationOutcome  `json:"notifications,omitempty"`
}

type NotificationOutcome struct {
	Kind    model.TransitionKind      `json:"kind"`
	Channel model.NotificationChannel `json:"channel"`
	Status  string                    `json:"status"`
	Error   string                    `json:"error,omitempty"`
}

type ShipRequest struct {
	TrackingNumber string `json:"tracking_number" validate:"required,max=64"`
}

type StatusOverrideRequest struct {
	Status        model.OrderStatus   `json:"status" validate:"required"`
	PaymentStatus model.PaymentStatus `json:"payment_status" validate:"required"`
}

type CheckedRequest struct {
	Checked *bool `json:"checked" validate:"required"`
}

type TransitionResponse struct {
	OrderID string                 `json:"order_id"`
	Before  model.State            `json:"before"`
	After   model.State            `json:"after"`
	Mutated bool                   `json:"mutated"`
	Outcome model.ReconcileOutcome `json:"outcome"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type DrainResponse struct {
	Attempted int       `json:"attempted"`
	At        time.Time `json:"at"`
}
