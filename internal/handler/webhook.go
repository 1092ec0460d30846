package handler

import (
	"errors"
	"io"
	"net/http"
	"order-reconciler/internal/config"
	"order-reconciler/internal/service"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

const (
	callbackTokenHeader = "X-Callback-Token"
	maxWebhookBody      = 1 << 20
)

type WebhookHandler struct {
	webhookService service.WebhookService
	logger         *logrus.Logger
}

func NewWebhookHandler(webhookService service.WebhookService, logger *logrus.Logger) *WebhookHandler {
	return &WebhookHandler{
		webhookService: webhookService,
		logger:         logger,
	}
}

// InvoiceCallback acknowledges every authenticated, parseable callback with
// 200, known order or not. Store failures answer 503 so the gateway redelivers.
func (h *WebhookHandler) InvoiceCallback(c echo.Context) error {
	ctx := c.Request().Context()

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read body")
	}

	result, err := h.webhookService.HandleInvoiceCallback(ctx, body, c.Request().Header.Get(callbackTokenHeader))
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, result)
	case errors.Is(err, service.ErrAuthentication), errors.Is(err, service.ErrMalformedPayload):
		return toHTTPError(err)
	default:
		config.LogError(h.logger, "handler", "InvoiceCallback", "process callback", nil, err)
		return echo.NewHTTPError(http.StatusServiceUnavailable, "temporarily unable to process callback")
	}
}
