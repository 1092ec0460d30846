package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"order-reconciler/internal/client"
	"order-reconciler/internal/config"
	"order-reconciler/internal/model"
	"order-reconciler/internal/repository"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Notifier delivers customer notifications through the outbox. Each
// (order, kind, channel) is sent at most once successfully; failed channels
// are retried by the background loop with exponential backoff.
type Notifier interface {
	NotificationPlanner
	Notify(ctx context.Context, orderID string, kind model.TransitionKind) (*NotifyResult, error)
	DrainOnce(ctx context.Context) (int, error)
	Run(ctx context.Context)
}

type NotifierOptions struct {
	Outbox           config.Outbox
	AdminEmail       string
	CurrencyExponent int32
	Channels         []model.NotificationChannel
}

type ChannelResult struct {
	Channel  model.NotificationChannel `json:"channel"`
	Status   string                    `json:"status"`
	Attempts int                       `json:"attempts"`
	Error    string                    `json:"error,omitempty"`
}

type NotifyResult struct {
	OrderID  string               `json:"orderId"`
	Kind     model.TransitionKind `json:"kind"`
	Channels []ChannelResult      `json:"channels"`
}

// Failed reports whether any channel is left unsent.
func (r *NotifyResult) Failed() bool {
	for _, ch := range r.Channels {
		if ch.Status == model.DispatchStatusFailed || ch.Status == model.DispatchStatusDead {
			return true
		}
	}
	return false
}

type notifierImpl struct {
	orderRepo        repository.OrderRepository
	notificationRepo repository.NotificationRepository
	logRepo          repository.ReconciliationLogRepository
	emailClient      client.EmailClient
	chatClient       client.ChatClient
	opts             NotifierOptions
	workerID         string
	kick             chan struct{}
	logger           *logrus.Logger
}

func NewNotifier(
	orderRepo repository.OrderRepository,
	notificationRepo repository.NotificationRepository,
	logRepo repository.ReconciliationLogRepository,
	emailClient client.EmailClient,
	chatClient client.ChatClient,
	opts NotifierOptions,
	logger *logrus.Logger,
) Notifier {
	if opts.Outbox.BatchSize <= 0 {
		opts.Outbox.BatchSize = 50
	}
	if opts.Outbox.Interval <= 0 {
		opts.Outbox.Interval = 5 * time.Second
	}
	if opts.Outbox.LockTTL <= 0 {
		opts.Outbox.LockTTL = time.Minute
	}
	if opts.Outbox.MaxAttempts <= 0 {
		opts.Outbox.MaxAttempts = 8
	}
	if opts.Outbox.BaseBackoff <= 0 {
		opts.Outbox.BaseBackoff = 10 * time.Second
	}
	if opts.Outbox.MaxBackoff <= 0 {
		opts.Outbox.MaxBackoff = 30 * time.Minute
	}

	return &notifierImpl{
		orderRepo:        orderRepo,
		notificationRepo: notificationRepo,
		logRepo:          logRepo,
		emailClient:      emailClient,
		chatClient:       chatClient,
		opts:             opts,
		workerID:         "notifier-" + uuid.NewString()[:8],
		kick:             make(chan struct{}, 1),
		logger:           logger,
	}
}

func (n *notifierImpl) ChannelsFor(order *model.Order) []model.NotificationChannel {
	var channels []model.NotificationChannel
	for _, ch := range n.opts.Channels {
		switch ch {
		case model.ChannelEmail:
			if order.CustomerEmail != "" && n.emailClient != nil {
				channels = append(channels, ch)
			}
		case model.ChannelChat:
			if order.CustomerPhone != "" && n.chatClient != nil {
				channels = append(channels, ch)
			}
		}
	}
	return channels
}

func (n *notifierImpl) Kick() {
	select {
	case n.kick <- struct{}{}:
	default:
	}
}

// Notify makes sure every channel of an order+kind has been delivered. Rows
// that already succeeded are left alone; FAILED and DEAD rows get a fresh
// attempt budget and are sent right away.
func (n *notifierImpl) Notify(ctx context.Context, orderID string, kind model.TransitionKind) (*NotifyResult, error) {
	order, err := n.orderRepo.FindByID(ctx, nil, orderID)
	if err != nil {
		return nil, err
	}

	rows, err := n.notificationRepo.ListByOrderKind(ctx, orderID, kind)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	if len(rows) == 0 {
		if err := n.notificationRepo.Enqueue(ctx, nil, orderID, kind, n.ChannelsFor(order)); err != nil {
			return nil, fmt.Errorf("enqueue notifications: %w", err)
		}
	}
	if _, err := n.notificationRepo.ResetForRetry(ctx, orderID, kind); err != nil {
		return nil, fmt.Errorf("reset notifications: %w", err)
	}
	rows, err = n.notificationRepo.ListByOrderKind(ctx, orderID, kind)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}

	result := &NotifyResult{OrderID: orderID, Kind: kind}
	now := time.Now().UTC()
	for _, row := range rows {
		if row.Status == model.DispatchStatusSucceeded {
			result.Channels = append(result.Channels, ChannelResult{
				Channel:  row.Channel,
				Status:   row.Status,
				Attempts: row.Attempts,
			})
			continue
		}
		result.Channels = append(result.Channels, n.dispatch(ctx, row, order, now))
	}

	return result, nil
}

// DrainOnce sends one batch of due outbox rows and returns how many were
// attempted.
func (n *notifierImpl) DrainOnce(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	rows, err := n.notificationRepo.ListDue(ctx, now, now.Add(-n.opts.Outbox.LockTTL), n.opts.Outbox.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list due notifications: %w", err)
	}

	orders := make(map[string]*model.Order)
	attempted := 0
	for _, row := range rows {
		order, ok := orders[row.OrderID]
		if !ok {
			order, err = n.orderRepo.FindByID(ctx, nil, row.OrderID)
			if errors.Is(err, repository.ErrOrderNotFound) {
				msg := "order no longer exists"
				if err := n.notificationRepo.MarkFailed(ctx, row.ID, row.Attempts, model.DispatchStatusDead, nil, msg); err != nil {
					config.LogError(n.logger, "notifier", "DrainOnce", "mark orphan dead", row.ID, err)
				}
				continue
			}
			if err != nil {
				return attempted, fmt.Errorf("load order %s: %w", row.OrderID, err)
			}
			orders[row.OrderID] = order
		}

		n.dispatch(ctx, row, order, now)
		attempted++
	}

	return attempted, nil
}

func (n *notifierImpl) Run(ctx context.Context) {
	ticker := time.NewTicker(n.opts.Outbox.Interval)
	defer ticker.Stop()

	n.logger.WithFields(logrus.Fields{
		"workerId": n.workerID,
		"interval": n.opts.Outbox.Interval.String(),
	}).Info("notification dispatcher started")

	for {
		select {
		case <-ctx.Done():
			n.logger.Info("notification dispatcher stopped")
			return
		case <-ticker.C:
		case <-n.kick:
		}

		for {
			count, err := n.DrainOnce(ctx)
			if err != nil {
				config.LogError(n.logger, "notifier", "Run", "drain outbox", nil, err)
				break
			}
			if count < n.opts.Outbox.BatchSize || ctx.Err() != nil {
				break
			}
		}
	}
}

func (n *notifierImpl) dispatch(ctx context.Context, row *model.NotificationDispatch, order *model.Order, now time.Time) ChannelResult {
	result := ChannelResult{Channel: row.Channel, Status: row.Status, Attempts: row.Attempts}

	claimed, err := n.notificationRepo.Claim(ctx, row.ID, n.workerID, now, now.Add(-n.opts.Outbox.LockTTL))
	if err != nil {
		config.LogError(n.logger, "notifier", "dispatch", "claim", row.ID, err)
		result.Error = err.Error()
		return result
	}
	if !claimed {
		// another worker holds it, or its backoff has not elapsed
		return result
	}

	sendErr := n.send(ctx, order, row.Kind, row.Channel)
	entry := &model.ReconciliationLogEntry{
		OrderID:              &order.ID,
		Source:               model.SourceNotifier,
		PreviousStatus:       order.State().String(),
		ResultingLocalStatus: order.State().String(),
		TransitionKind:       string(row.Kind),
	}

	if sendErr == nil {
		if err := n.notificationRepo.MarkSucceeded(ctx, row.ID, time.Now().UTC()); err != nil {
			config.LogError(n.logger, "notifier", "dispatch", "mark succeeded", row.ID, err)
		}
		result.Status = model.DispatchStatusSucceeded
		result.Attempts = row.Attempts + 1
		entry.Outcome = model.OutcomeNotified
		entry.Detail = "channel=" + string(row.Channel)
	} else {
		attempts := row.Attempts + 1
		status := model.DispatchStatusFailed
		var next *time.Time
		if attempts >= n.opts.Outbox.MaxAttempts {
			status = model.DispatchStatusDead
		} else {
			at := now.Add(n.backoff(attempts))
			next = &at
		}
		if err := n.notificationRepo.MarkFailed(ctx, row.ID, attempts, status, next, sendErr.Error()); err != nil {
			config.LogError(n.logger, "notifier", "dispatch", "mark failed", row.ID, err)
		}
		n.logger.WithFields(logrus.Fields{
			"orderId":  order.ID,
			"kind":     row.Kind,
			"channel":  row.Channel,
			"attempts": attempts,
			"status":   status,
		}).WithError(sendErr).Warn("notification not delivered")

		result.Status = status
		result.Attempts = attempts
		result.Error = sendErr.Error()
		entry.Outcome = model.OutcomeNotifyFailed
		entry.Detail = fmt.Sprintf("channel=%s: %v", row.Channel, sendErr)
	}

	if err := n.logRepo.Append(ctx, nil, entry); err != nil {
		config.LogError(n.logger, "notifier", "dispatch", "append log", order.ID, err)
	}
	return result
}

// base * 2^(attempt-1), capped
func (n *notifierImpl) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return n.opts.Outbox.BaseBackoff
	}
	delay := time.Duration(float64(n.opts.Outbox.BaseBackoff) * math.Pow(2, float64(attempt-1)))
	if delay > n.opts.Outbox.MaxBackoff || delay <= 0 {
		return n.opts.Outbox.MaxBackoff
	}
	return delay
}

func (n *notifierImpl) send(ctx context.Context, order *model.Order, kind model.TransitionKind, channel model.NotificationChannel) error {
	subject, body := n.render(order, kind)

	var err error
	switch channel {
	case model.ChannelEmail:
		if n.emailClient == nil {
			err = errors.New("email channel is not configured")
			break
		}
		err = n.emailClient.Send(ctx, client.EmailMessage{
			To:      order.CustomerEmail,
			ToName:  order.CustomerName,
			Bcc:     n.opts.AdminEmail,
			Subject: subject,
			Body:    body,
		})
	case model.ChannelChat:
		if n.chatClient == nil {
			err = errors.New("chat channel is not configured")
			break
		}
		err = n.chatClient.SendText(ctx, order.CustomerPhone, subject+"\n\n"+body)
	default:
		err = fmt.Errorf("unknown channel %q", channel)
	}

	if err != nil {
		return fmt.Errorf("%w: %s via %s: %v", ErrNotificationDispatch, kind, channel, err)
	}
	return nil
}

func (n *notifierImpl) render(order *model.Order, kind model.TransitionKind) (string, string) {
	amount := model.MinorToDecimal(order.GrandTotal, n.opts.CurrencyExponent).StringFixed(n.opts.CurrencyExponent)

	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", order.CustomerName)

	switch kind {
	case model.TransitionPaymentConfirmed:
		fmt.Fprintf(&b, "We received your payment of %s %s for order %s.\n", order.Currency, amount, order.ID)
		b.WriteString("Your order is now being prepared.\n")
		return fmt.Sprintf("Payment received for order %s", order.ID), b.String()

	case model.TransitionOrderShipped:
		fmt.Fprintf(&b, "Your order %s is on its way.\n", order.ID)
		if order.TrackingNumber != nil {
			fmt.Fprintf(&b, "Tracking number: %s\n", *order.TrackingNumber)
		}
		return fmt.Sprintf("Order %s has shipped", order.ID), b.String()
	}

	fmt.Fprintf(&b, "Order %s is now %s.\n", order.ID, order.Status)
	return fmt.Sprintf("Update on order %s", order.ID), b.String()
}
