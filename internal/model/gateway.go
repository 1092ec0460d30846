package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Invoice is the gateway's representation of a payable invoice.
type Invoice struct {
	ID         string          `json:"id"`
	ExternalID string          `json:"external_id"`
	Status     ExternalStatus  `json:"status"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	InvoiceURL string          `json:"invoice_url"`
	Updated    time.Time       `json:"updated"`
}

// InvoiceCallback is the body the gateway pushes to the webhook endpoint.
type InvoiceCallback struct {
	ID         string          `json:"id"`
	ExternalID string          `json:"external_id"`
	Status     ExternalStatus  `json:"status"`
	Amount     decimal.Decimal `json:"amount"`
	PaidAt     *time.Time      `json:"paid_at,omitempty"`
	Updated    *time.Time      `json:"updated,omitempty"`
}

type InvoiceCustomer struct {
	GivenNames   string `json:"given_names,omitempty"`
	Email        string `json:"email,omitempty"`
	MobileNumber string `json:"mobile_number,omitempty"`
}

type CreateInvoiceRequest struct {
	ExternalID         string          `json:"external_id"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`
	PayerEmail         string          `json:"payer_email,omitempty"`
	Description        string          `json:"description,omitempty"`
	InvoiceDuration    int64           `json:"invoice_duration,omitempty"`
	SuccessRedirectURL string          `json:"success_redirect_url,omitempty"`
	FailureRedirectURL string          `json:"failure_redirect_url,omitempty"`
	Customer           InvoiceCustomer `json:"customer"`
}

// MinorToDecimal converts an integer amount in minor units into the decimal
// amount the gateway expects, e.g. 12345 with exponent 2 -> 123.45.
func MinorToDecimal(minor int64, exponent int32) decimal.Decimal {
	return decimal.New(minor, -exponent)
}

// DecimalToMinor is the inverse of MinorToDecimal, rounding half away from zero.
func DecimalToMinor(amount decimal.Decimal, exponent int32) int64 {
	return amount.Shift(exponent).Round(0).IntPart()
}
