package server

import (
	"context"
	"net/http"
	"order-reconciler/internal/handler"
	"order-reconciler/internal/middleware"
	"order-reconciler/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
)

type Server struct {
	echo           *echo.Echo
	orderHandler   *handler.OrderHandler
	webhookHandler *handler.WebhookHandler
	adminHandler   *handler.AdminHandler
	adminSecret    string
}

type requestValidator struct {
	validate *validator.Validate
}

func (v *requestValidator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}

func NewServer(
	paymentService service.PaymentService,
	webhookService service.WebhookService,
	adminService service.AdminService,
	adminSecret string,
	logger *logrus.Logger,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &requestValidator{validate: validator.New()}

	e.Use(echomw.RequestLogger())
	e.Use(echomw.Recover())
	e.Use(echomw.CORS())

	s := &Server{
		echo:           e,
		orderHandler:   handler.NewOrderHandler(paymentService),
		webhookHandler: handler.NewWebhookHandler(webhookService, logger),
		adminHandler:   handler.NewAdminHandler(adminService, paymentService),
		adminSecret:    adminSecret,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.echo.Group("/api")

	api.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// -------- customer --------
	api.POST("/orders", s.orderHandler.PlaceOrder)
	api.POST("/orders/retry", s.orderHandler.Retry)

	// -------- gateway callbacks --------
	api.POST("/webhooks/invoice", s.webhookHandler.InvoiceCallback)

	// -------- operator --------
	admin := api.Group("/admin", middleware.AdminAuth(s.adminSecret))
	admin.GET("/orders/:id", s.adminHandler.GetOrder)
	admin.GET("/orders/:id/events", s.adminHandler.Events)
	admin.GET("/orders/:id/notifications", s.adminHandler.Notifications)
	admin.POST("/orders/sync", s.adminHandler.Sync)
	admin.POST("/orders/:id/ship", s.adminHandler.Ship)
	admin.POST("/orders/:id/deliver", s.adminHandler.Deliver)
	admin.POST("/orders/:id/cancel", s.adminHandler.Cancel)
	admin.POST("/orders/:id/status", s.adminHandler.OverrideStatus)
	admin.POST("/orders/:id/checked", s.adminHandler.SetChecked)
	admin.POST("/outbox/drain", s.adminHandler.DrainOutbox)
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start(address string) error {
	return s.echo.Start(address)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
