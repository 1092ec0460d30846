package service

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"order-reconciler/internal/config"
	"order-reconciler/internal/model"
	"order-reconciler/internal/repository"
	"time"

	"github.com/sirupsen/logrus"
)

type WebhookService interface {
	// HandleInvoiceCallback authenticates and applies one gateway callback.
	// Unknown invoices are accepted and logged so the gateway stops
	// redelivering them.
	HandleInvoiceCallback(ctx context.Context, body []byte, callbackToken string) (*WebhookResult, error)
}

type WebhookResult struct {
	Received bool                   `json:"received"`
	OrderID  string                 `json:"orderId,omitempty"`
	Outcome  model.ReconcileOutcome `json:"outcome"`
	Mutated  bool                   `json:"mutated"`
}

type webhookServiceImpl struct {
	reconciler  Reconciler
	invoiceRepo repository.InvoiceRepository
	logRepo     repository.ReconciliationLogRepository
	cfg         config.Gateway
	logger      *logrus.Logger
}

func NewWebhookService(
	reconciler Reconciler,
	invoiceRepo repository.InvoiceRepository,
	logRepo repository.ReconciliationLogRepository,
	cfg config.Gateway,
	logger *logrus.Logger,
) WebhookService {
	return &webhookServiceImpl{
		reconciler:  reconciler,
		invoiceRepo: invoiceRepo,
		logRepo:     logRepo,
		cfg:         cfg,
		logger:      logger,
	}
}

func (s *webhookServiceImpl) HandleInvoiceCallback(ctx context.Context, body []byte, callbackToken string) (*WebhookResult, error) {
	if !s.authenticated(callbackToken) {
		s.appendLog(ctx, &model.ReconciliationLogEntry{
			Source:  model.SourceWebhook,
			Outcome: model.OutcomeAuthFailed,
			Detail:  "callback token mismatch",
		})
		s.logger.Warn("rejected webhook with invalid callback token")
		return nil, ErrAuthentication
	}

	var callback model.InvoiceCallback
	if err := json.Unmarshal(body, &callback); err != nil || callback.ExternalID == "" || callback.Status == "" {
		detail := "missing external_id or status"
		if err != nil {
			detail = err.Error()
		}
		s.appendLog(ctx, &model.ReconciliationLogEntry{
			Source:     model.SourceWebhook,
			Outcome:    model.OutcomeMalformed,
			Detail:     detail,
			RawPayload: rawJSON(body),
		})
		return nil, fmt.Errorf("%w: %s", ErrMalformedPayload, detail)
	}

	invoice, err := s.invoiceRepo.FindByExternalID(ctx, callback.ExternalID)
	if errors.Is(err, repository.ErrInvoiceRefNotFound) {
		s.appendLog(ctx, &model.ReconciliationLogEntry{
			Source:         model.SourceWebhook,
			ExternalRef:    callback.ExternalID,
			ExternalStatus: string(callback.Status),
			Outcome:        model.OutcomeUnknownOrder,
			Detail:         "no invoice with this external id",
			RawPayload:     rawJSON(body),
		})
		s.logger.WithField("externalId", callback.ExternalID).Warn("webhook for unknown invoice")
		return &WebhookResult{Received: true, Outcome: model.OutcomeUnknownOrder}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve invoice %s: %w", callback.ExternalID, err)
	}

	observedAt := time.Now().UTC()
	if callback.Updated != nil {
		observedAt = callback.Updated.UTC()
	}

	result, err := s.reconciler.Reconcile(ctx, model.GatewayObservation{
		OrderID:        invoice.OrderID,
		ExternalRef:    invoice.ExternalID,
		Attempt:        invoice.Attempt,
		ExternalStatus: callback.Status,
		Amount:         model.DecimalToMinor(callback.Amount, s.cfg.CurrencyExponent),
		ObservedAt:     observedAt,
		Source:         model.SourceWebhook,
		RawPayload:     body,
	})
	if errors.Is(err, ErrUnknownOrder) {
		return &WebhookResult{Received: true, OrderID: invoice.OrderID, Outcome: model.OutcomeUnknownOrder}, nil
	}
	if err != nil {
		return nil, err
	}

	return &WebhookResult{
		Received: true,
		OrderID:  result.OrderID,
		Outcome:  result.Outcome,
		Mutated:  result.Mutated,
	}, nil
}

// an empty configured token rejects everything
func (s *webhookServiceImpl) authenticated(token string) bool {
	if s.cfg.CallbackToken == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.CallbackToken)) == 1
}

func (s *webhookServiceImpl) appendLog(ctx context.Context, entry *model.ReconciliationLogEntry) {
	if err := s.logRepo.Append(ctx, nil, entry); err != nil {
		config.LogError(s.logger, "webhook", "HandleInvoiceCallback", "append reconciliation log", entry.Outcome, err)
	}
}
