package app

import (
	"context"
	"fmt"
	"order-reconciler/internal/client"
	"order-reconciler/internal/config"
	"order-reconciler/internal/model"
	"order-reconciler/internal/repository"
	"order-reconciler/internal/service"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// App is the wired service graph shared by the HTTP server and opsctl.
type App struct {
	Config   *config.Config
	Logger   *logrus.Logger
	DB       *gorm.DB
	Redis    *redis.Client
	Payments service.PaymentService
	Webhooks service.WebhookService
	Admin    service.AdminService
	Notifier service.Notifier
}

func New(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*App, error) {
	db, err := client.InitDBClient(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	a := &App{Config: cfg, Logger: logger, DB: db}

	locker := client.NewNoopOrderLocker()
	if cfg.Redis.Address != "" {
		rdb, err := client.InitRedisClient(ctx, cfg.Redis)
		if err != nil {
			// the lock is an optimisation; run without it
			logger.WithError(err).Warn("redis unavailable, per-order lock disabled")
		} else {
			a.Redis = rdb
			locker = client.NewRedisOrderLocker(rdb, cfg.Redis.LockTTL)
		}
	}

	var (
		emailClient client.EmailClient
		chatClient  client.ChatClient
		channels    []model.NotificationChannel
	)
	if cfg.SendGrid.ApiKey != "" {
		emailClient = client.NewSendGridClient(cfg.SendGrid)
		channels = append(channels, model.ChannelEmail)
	}
	if cfg.Chat.AccessToken != "" {
		chatClient = client.NewChatClient(cfg.Chat)
		channels = append(channels, model.ChannelChat)
	}
	if len(channels) == 0 {
		logger.Warn("no notification channel configured")
	}

	orderRepo := repository.NewOrderRepository(db)
	invoiceRepo := repository.NewInvoiceRepository(db)
	logRepo := repository.NewReconciliationLogRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	a.Notifier = service.NewNotifier(orderRepo, notificationRepo, logRepo, emailClient, chatClient, service.NotifierOptions{
		Outbox:           cfg.Outbox,
		AdminEmail:       cfg.SendGrid.AdminEmail,
		CurrencyExponent: cfg.Gateway.CurrencyExponent,
		Channels:         channels,
	}, logger)

	reconciler := service.NewReconciler(db, orderRepo, invoiceRepo, logRepo, notificationRepo,
		a.Notifier, locker, cfg.Reconcile, logger)

	a.Payments = service.NewPaymentService(client.NewGatewayClient(cfg.Gateway), reconciler, a.Notifier, locker,
		orderRepo, invoiceRepo, notificationRepo, cfg.Gateway, logger)
	a.Webhooks = service.NewWebhookService(reconciler, invoiceRepo, logRepo, cfg.Gateway, logger)
	a.Admin = service.NewAdminService(reconciler, a.Notifier, orderRepo, logRepo, notificationRepo, logger)

	return a, nil
}

func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			config.LogError(a.Logger, "app", "Close", "close redis", nil, err)
		}
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			config.LogError(a.Logger, "app", "Close", "close database", nil, err)
		}
	}
}
