package handler

import (
	"net/http"
	"order-reconciler/internal/dto"
	"order-reconciler/internal/service"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
)

type AdminHandler struct {
	adminService   service.AdminService
	paymentService service.PaymentService
}

func NewAdminHandler(adminService service.AdminService, paymentService service.PaymentService) *AdminHandler {
	return &AdminHandler{
		adminService:   adminService,
		paymentService: paymentService,
	}
}

func (h *AdminHandler) GetOrder(c echo.Context) error {
	order, err := h.adminService.GetOrder(c.Request().Context(), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, order)
}

func (h *AdminHandler) Events(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	events, err := h.adminService.Events(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, events)
}

func (h *AdminHandler) Notifications(c echo.Context) error {
	rows, err := h.adminService.Notifications(c.Request().Context(), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, rows)
}

func (h *AdminHandler) Sync(c echo.Context) error {
	var req dto.OrderIDRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	result, err := h.paymentService.Sync(c.Request().Context(), req.OrderID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *AdminHandler) Ship(c echo.Context) error {
	var req dto.ShipRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	result, err := h.adminService.Ship(c.Request().Context(), c.Param("id"), req.TrackingNumber)
	return transitionJSON(c, result, err)
}

func (h *AdminHandler) Deliver(c echo.Context) error {
	result, err := h.adminService.Deliver(c.Request().Context(), c.Param("id"))
	return transitionJSON(c, result, err)
}

func (h *AdminHandler) Cancel(c echo.Context) error {
	result, err := h.adminService.Cancel(c.Request().Context(), c.Param("id"))
	return transitionJSON(c, result, err)
}

func (h *AdminHandler) OverrideStatus(c echo.Context) error {
	var req dto.StatusOverrideRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	result, err := h.adminService.OverrideStatus(c.Request().Context(), c.Param("id"), &req)
	return transitionJSON(c, result, err)
}

func (h *AdminHandler) SetChecked(c echo.Context) error {
	var req dto.CheckedRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	order, err := h.adminService.SetChecked(c.Request().Context(), c.Param("id"), *req.Checked)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, order)
}

func (h *AdminHandler) DrainOutbox(c echo.Context) error {
	attempted, err := h.adminService.DrainOutbox(c.Request().Context())
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, dto.DrainResponse{Attempted: attempted, At: time.Now().UTC()})
}

func transitionJSON(c echo.Context, result *service.ReconcileResult, err error) error {
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, dto.TransitionResponse{
		OrderID: result.OrderID,
		Before:  result.Before,
		After:   result.After,
		Mutated: result.Mutated,
		Outcome: result.Outcome,
	})
}
