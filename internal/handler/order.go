package handler

import (
	"net/http"
	"order-reconciler/internal/dto"
	"order-reconciler/internal/service"

	"github.com/labstack/echo/v4"
)

type OrderHandler struct {
	paymentService service.PaymentService
}

func NewOrderHandler(paymentService service.PaymentService) *OrderHandler {
	return &OrderHandler{
		paymentService: paymentService,
	}
}

func (h *OrderHandler) PlaceOrder(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.PlaceOrderRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	result, err := h.paymentService.PlaceOrder(ctx, &req)
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusCreated, result)
}

func (h *OrderHandler) Retry(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.OrderIDRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	result, err := h.paymentService.Retry(ctx, req.OrderID)
	if err != nil {
		return toHTTPError(err)
	}

	return c.JSON(http.StatusOK, result)
}
