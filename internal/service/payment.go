package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"order-reconciler/internal/client"
	"order-reconciler/internal/config"
	"order-reconciler/internal/dto"
	"order-reconciler/internal/model"
	"order-reconciler/internal/repository"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type PaymentService interface {
	PlaceOrder(ctx context.Context, req *dto.PlaceOrderRequest) (*dto.PayResponse, error)
	// Retry mints a fresh invoice for a pending order. Older invoices stay
	// valid at the gateway and are still reconciled if paid.
	Retry(ctx context.Context, orderID string) (*dto.PayResponse, error)
	// Sync asks the gateway for the status of every invoice of the order and
	// reconciles the result, then re-attempts any unsent notification.
	Sync(ctx context.Context, orderID string) (*dto.SyncResponse, error)
}

type paymentServiceImpl struct {
	gatewayClient    client.GatewayClient
	reconciler       Reconciler
	notifier         Notifier
	locker           client.OrderLocker
	orderRepo        repository.OrderRepository
	invoiceRepo      repository.InvoiceRepository
	notificationRepo repository.NotificationRepository
	gatewayCfg       config.Gateway
	logger           *logrus.Logger
}

func NewPaymentService(
	gatewayClient client.GatewayClient,
	reconciler Reconciler,
	notifier Notifier,
	locker client.OrderLocker,
	orderRepo repository.OrderRepository,
	invoiceRepo repository.InvoiceRepository,
	notificationRepo repository.NotificationRepository,
	gatewayCfg config.Gateway,
	logger *logrus.Logger,
) PaymentService {
	if locker == nil {
		locker = client.NewNoopOrderLocker()
	}
	return &paymentServiceImpl{
		gatewayClient:    gatewayClient,
		reconciler:       reconciler,
		notifier:         notifier,
		locker:           locker,
		orderRepo:        orderRepo,
		invoiceRepo:      invoiceRepo,
		notificationRepo: notificationRepo,
		gatewayCfg:       gatewayCfg,
		logger:           logger,
	}
}

func (s *paymentServiceImpl) PlaceOrder(ctx context.Context, req *dto.PlaceOrderRequest) (*dto.PayResponse, error) {
	order := &model.Order{
		ID:              uuid.NewString(),
		Status:          model.OrderStatusPending,
		PaymentStatus:   model.PaymentStatusPending,
		GrandTotal:      req.GrandTotal,
		Currency:        s.gatewayCfg.Currency,
		Description:     req.Description,
		CustomerName:    req.CustomerName,
		CustomerEmail:   req.CustomerEmail,
		CustomerPhone:   req.CustomerPhone,
		CustomerAddress: req.CustomerAddress,
		Version:         1,
	}
	if err := s.orderRepo.Create(ctx, nil, order); err != nil {
		return nil, fmt.Errorf("store order in db: %w", err)
	}

	invoice, err := s.mintInvoice(ctx, order, 1)
	if err != nil {
		return nil, fmt.Errorf("order %s created without invoice: %w", order.ID, err)
	}

	return &dto.PayResponse{
		OrderID:     order.ID,
		Attempt:     invoice.Attempt,
		ExternalRef: invoice.ExternalID,
		PaymentURL:  invoice.InvoiceURL,
	}, nil
}

func (s *paymentServiceImpl) Retry(ctx context.Context, orderID string) (*dto.PayResponse, error) {
	release, err := s.locker.Lock(ctx, orderID)
	if err != nil {
		s.logger.WithError(err).WithField("orderId", orderID).Warn("order lock unavailable, continuing without it")
	}
	defer release()

	order, err := s.orderRepo.FindByID(ctx, nil, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != model.OrderStatusPending {
		return nil, notRetryable(order)
	}

	latest, err := s.invoiceRepo.LatestAttempt(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("load latest invoice attempt: %w", err)
	}

	invoice, err := s.mintInvoice(ctx, order, latest+1)
	if err != nil {
		return nil, err
	}

	// A payment on an older invoice may have landed while the gateway was
	// minting. The new ref stays stored so it is still reconciled if paid,
	// but its URL is not handed out.
	current, err := s.orderRepo.FindByID(ctx, nil, order.ID)
	if err != nil {
		return nil, err
	}
	if current.Status != model.OrderStatusPending {
		s.logger.WithFields(logrus.Fields{
			"orderId":     order.ID,
			"externalRef": invoice.ExternalID,
			"state":       current.State().String(),
		}).Warn("order left pending while retrying payment, invoice withheld")
		return nil, notRetryable(current)
	}

	return &dto.PayResponse{
		OrderID:     order.ID,
		Attempt:     invoice.Attempt,
		ExternalRef: invoice.ExternalID,
		PaymentURL:  invoice.InvoiceURL,
	}, nil
}

func notRetryable(order *model.Order) error {
	return &IllegalTransitionError{
		OrderID: order.ID,
		Action:  "retry payment of",
		From:    order.State(),
		Reason:  "only pending orders can get a new invoice",
	}
}

func (s *paymentServiceImpl) mintInvoice(ctx context.Context, order *model.Order, attempt int) (*model.OrderInvoice, error) {
	ref := model.InvoiceRef{OrderID: order.ID, Attempt: attempt}

	resp, err := s.gatewayClient.CreateInvoice(ctx, order, ref)
	if err != nil {
		config.LogError(s.logger, "payment", "mintInvoice", "gateway create invoice", ref.ExternalID(), err)
		return nil, fmt.Errorf("gateway create invoice: %w", err)
	}

	stored, err := s.invoiceRepo.Create(ctx, nil, &model.OrderInvoice{
		OrderID:          order.ID,
		Attempt:          attempt,
		ExternalID:       ref.ExternalID(),
		GatewayInvoiceID: resp.ID,
		InvoiceURL:       resp.InvoiceURL,
	})
	if err != nil {
		return nil, fmt.Errorf("store invoice ref: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"orderId":     order.ID,
		"attempt":     stored.Attempt,
		"externalRef": stored.ExternalID,
	}).Info("invoice created")

	return stored, nil
}

func (s *paymentServiceImpl) Sync(ctx context.Context, orderID string) (*dto.SyncResponse, error) {
	order, err := s.orderRepo.FindByID(ctx, nil, orderID)
	if err != nil {
		return nil, err
	}
	resp := &dto.SyncResponse{OrderID: order.ID, Before: order.State(), After: order.State()}

	invoices, err := s.invoiceRepo.ListByOrder(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("list invoice refs: %w", err)
	}
	if len(invoices) == 0 {
		resp.Message = "order has no invoice to query"
		return resp, nil
	}

	var (
		observations []model.GatewayObservation
		failedRefs   []string
		lastErr      error
	)
	for _, inv := range invoices {
		gwInvoice, err := s.gatewayClient.QueryInvoice(ctx, inv.ExternalID)
		if errors.Is(err, client.ErrInvoiceNotFound) {
			continue
		}
		if err != nil {
			config.LogError(s.logger, "payment", "Sync", "gateway query invoice", inv.ExternalID, err)
			lastErr = err
			failedRefs = append(failedRefs, inv.ExternalID)
			continue
		}
		observations = append(observations, model.GatewayObservation{
			OrderID:        order.ID,
			ExternalRef:    inv.ExternalID,
			Attempt:        inv.Attempt,
			ExternalStatus: gwInvoice.Status,
			Amount:         model.DecimalToMinor(gwInvoice.Amount, s.gatewayCfg.CurrencyExponent),
			ObservedAt:     gwInvoice.Updated,
			Source:         model.SourceManualSync,
		})
	}

	if len(observations) == 0 {
		if lastErr != nil {
			return nil, fmt.Errorf("gateway query invoice: %w", lastErr)
		}
		resp.Message = "no matching invoice at the gateway"
		return resp, nil
	}

	obs := pickObservation(observations)
	obs.RawPayload = observationPayload(obs)

	result, err := s.reconciler.Reconcile(ctx, obs)
	if err != nil {
		return nil, err
	}
	resp.After = result.After
	resp.Mutated = result.Mutated
	resp.ExternalRef = obs.ExternalRef
	resp.ExternalStatus = obs.ExternalStatus
	resp.Outcome = result.Outcome
	resp.Message = result.Detail
	if len(failedRefs) > 0 {
		resp.Message = joinDetail(resp.Message, fmt.Sprintf("gateway query failed for %s: %v",
			strings.Join(failedRefs, ", "), lastErr))
	}

	resp.Notifications = s.flushNotifications(ctx, order.ID)
	return resp, nil
}

// flushNotifications re-attempts every kind that has unsent rows. Rows only
// exist for transitions that actually happened, so an order that reached its
// state by an operator override is never notified here.
func (s *paymentServiceImpl) flushNotifications(ctx context.Context, orderID string) []dto.NotificationOutcome {
	kinds := map[model.TransitionKind]bool{}
	rows, err := s.notificationRepo.ListByOrder(ctx, orderID)
	if err != nil {
		config.LogError(s.logger, "payment", "Sync", "list notifications", orderID, err)
		return nil
	}
	for _, row := range rows {
		if row.Status != model.DispatchStatusSucceeded {
			kinds[row.Kind] = true
		}
	}

	var outcomes []dto.NotificationOutcome
	for _, kind := range []model.TransitionKind{model.TransitionPaymentConfirmed, model.TransitionOrderShipped} {
		if !kinds[kind] {
			continue
		}
		result, err := s.notifier.Notify(ctx, orderID, kind)
		if err != nil {
			config.LogError(s.logger, "payment", "Sync", "notify", orderID, err)
			continue
		}
		for _, ch := range result.Channels {
			outcomes = append(outcomes, dto.NotificationOutcome{
				Kind:    kind,
				Channel: ch.Channel,
				Status:  ch.Status,
				Error:   ch.Error,
			})
		}
	}
	return outcomes
}

// pickObservation prefers any payment over the latest attempt's status: a
// paid invoice means the customer paid, whichever attempt it was.
func pickObservation(observations []model.GatewayObservation) model.GatewayObservation {
	var paid, latest *model.GatewayObservation
	for i := range observations {
		obs := &observations[i]
		if obs.ExternalStatus.IsPayment() {
			if paid == nil ||
				(obs.ExternalStatus == model.ExternalStatusSettled && paid.ExternalStatus != model.ExternalStatusSettled) ||
				(obs.ExternalStatus == paid.ExternalStatus && obs.Attempt > paid.Attempt) {
				paid = obs
			}
		}
		if latest == nil || obs.Attempt > latest.Attempt {
			latest = obs
		}
	}
	if paid != nil {
		return *paid
	}
	return *latest
}

func observationPayload(obs model.GatewayObservation) []byte {
	b, _ := json.Marshal(map[string]interface{}{
		"external_id": obs.ExternalRef,
		"status":      obs.ExternalStatus,
		"amount":      obs.Amount,
		"attempt":     obs.Attempt,
		"observed_at": obs.ObservedAt,
	})
	return b
}
