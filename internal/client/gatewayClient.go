package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"order-reconciler/internal/config"
	"order-reconciler/internal/model"
	"strings"
)

var ErrInvoiceNotFound = errors.New("gateway: invoice not found")

// GatewayError is any transport failure, timeout or non-2xx answer from the
// invoice provider. It never says anything about the payment status.
type GatewayError struct {
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway error %s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("gateway error %s (status=%d): %s", e.Code, e.StatusCode, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

type GatewayClient interface {
	CreateInvoice(ctx context.Context, order *model.Order, ref model.InvoiceRef) (*model.Invoice, error)
	QueryInvoice(ctx context.Context, externalRef string) (*model.Invoice, error)
}

type gatewayClientImpl struct {
	httpClient *http.Client
	cfg        config.Gateway
}

type gatewayErrorBody struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

func NewGatewayClient(cfg config.Gateway) GatewayClient {
	return &gatewayClientImpl{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		cfg: cfg,
	}
}

func (c *gatewayClientImpl) basicAuth() string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(c.cfg.ApiKey+":"))
}

func (c *gatewayClientImpl) CreateInvoice(ctx context.Context, order *model.Order, ref model.InvoiceRef) (*model.Invoice, error) {
	externalID := ref.ExternalID()
	payload := model.CreateInvoiceRequest{
		ExternalID:         externalID,
		Amount:             model.MinorToDecimal(order.GrandTotal, c.cfg.CurrencyExponent),
		Currency:           c.cfg.Currency,
		PayerEmail:         order.CustomerEmail,
		Description:        invoiceDescription(order, ref),
		InvoiceDuration:    int64(c.cfg.InvoiceDuration.Seconds()),
		SuccessRedirectURL: c.cfg.SuccessURL,
		FailureRedirectURL: c.cfg.FailureURL,
		Customer: model.InvoiceCustomer{
			GivenNames:   order.CustomerName,
			Email:        order.CustomerEmail,
			MobileNumber: order.CustomerPhone,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal req payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseApiURL+"/v2/invoices", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("http new request: %w", err)
	}
	req.Header.Set("Authorization", c.basicAuth())
	req.Header.Set("Content-Type", "application/json")
	// same attempt -> same key, so a replayed create returns the existing invoice
	req.Header.Set("X-Idempotency-Key", externalID)

	var invoice model.Invoice
	if err := c.do(req, &invoice); err != nil {
		return nil, err
	}
	if invoice.ExternalID == "" {
		invoice.ExternalID = externalID
	}

	return &invoice, nil
}

func (c *gatewayClientImpl) QueryInvoice(ctx context.Context, externalRef string) (*model.Invoice, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/v2/invoices?external_id=%s", c.cfg.BaseApiURL, url.QueryEscape(externalRef))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("http new request: %w", err)
	}
	req.Header.Set("Authorization", c.basicAuth())

	var invoices []model.Invoice
	if err := c.do(req, &invoices); err != nil {
		return nil, err
	}
	if len(invoices) == 0 {
		return nil, ErrInvoiceNotFound
	}

	latest := invoices[0]
	for _, inv := range invoices[1:] {
		if inv.Updated.After(latest.Updated) {
			latest = inv
		}
	}

	return &latest, nil
}

func (c *gatewayClientImpl) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		code := "TRANSPORT"
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			code = "TIMEOUT"
		}
		return &GatewayError{Code: code, Err: err}
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &GatewayError{StatusCode: resp.StatusCode, Code: "READ_BODY", Err: err}
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrInvoiceNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody gatewayErrorBody
		_ = json.Unmarshal(b, &errBody)
		if errBody.ErrorCode == "" {
			errBody.ErrorCode = fmt.Sprintf("HTTP_%d", resp.StatusCode)
		}
		if errBody.Message == "" {
			errBody.Message = strings.TrimSpace(string(b))
		}
		return &GatewayError{
			StatusCode: resp.StatusCode,
			Code:       errBody.ErrorCode,
			Message:    errBody.Message,
		}
	}

	if err := json.Unmarshal(b, out); err != nil {
		return &GatewayError{StatusCode: resp.StatusCode, Code: "DECODE", Err: err}
	}

	return nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

func invoiceDescription(order *model.Order, ref model.InvoiceRef) string {
	desc := order.Description
	if desc == "" {
		desc = "Order " + order.ID
	}
	if ref.Attempt > 1 {
		desc = fmt.Sprintf("%s (payment attempt %d)", desc, ref.Attempt)
	}
	return desc
}
