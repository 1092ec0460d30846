package service

import (
	"context"
	"errors"
	"fmt"
	"order-reconciler/internal/dto"
	"order-reconciler/internal/model"
	"order-reconciler/internal/repository"
	"time"

	"github.com/sirupsen/logrus"
)

type AdminService interface {
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
	Events(ctx context.Context, orderID string, limit int) ([]*model.ReconciliationLogEntry, error)
	Notifications(ctx context.Context, orderID string) ([]*model.NotificationDispatch, error)
	Ship(ctx context.Context, orderID string, trackingNumber string) (*ReconcileResult, error)
	Deliver(ctx context.Context, orderID string) (*ReconcileResult, error)
	Cancel(ctx context.Context, orderID string) (*ReconcileResult, error)
	OverrideStatus(ctx context.Context, orderID string, req *dto.StatusOverrideRequest) (*ReconcileResult, error)
	SetChecked(ctx context.Context, orderID string, checked bool) (*model.Order, error)
	DrainOutbox(ctx context.Context) (int, error)
}

type adminServiceImpl struct {
	reconciler       Reconciler
	notifier         Notifier
	orderRepo        repository.OrderRepository
	logRepo          repository.ReconciliationLogRepository
	notificationRepo repository.NotificationRepository
	logger           *logrus.Logger
}

func NewAdminService(
	reconciler Reconciler,
	notifier Notifier,
	orderRepo repository.OrderRepository,
	logRepo repository.ReconciliationLogRepository,
	notificationRepo repository.NotificationRepository,
	logger *logrus.Logger,
) AdminService {
	return &adminServiceImpl{
		reconciler:       reconciler,
		notifier:         notifier,
		orderRepo:        orderRepo,
		logRepo:          logRepo,
		notificationRepo: notificationRepo,
		logger:           logger,
	}
}

func (s *adminServiceImpl) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	return s.orderRepo.FindWithInvoices(ctx, orderID)
}

func (s *adminServiceImpl) Events(ctx context.Context, orderID string, limit int) ([]*model.ReconciliationLogEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if _, err := s.orderRepo.FindByID(ctx, nil, orderID); err != nil {
		return nil, err
	}
	return s.logRepo.ListByOrder(ctx, orderID, limit)
}

func (s *adminServiceImpl) Notifications(ctx context.Context, orderID string) ([]*model.NotificationDispatch, error) {
	if _, err := s.orderRepo.FindByID(ctx, nil, orderID); err != nil {
		return nil, err
	}
	return s.notificationRepo.ListByOrder(ctx, orderID)
}

func (s *adminServiceImpl) Ship(ctx context.Context, orderID string, trackingNumber string) (*ReconcileResult, error) {
	return s.apply(ctx, orderID, "ship", func(order *model.Order) (Decision, error) {
		if order.Status != model.OrderStatusProcessing {
			return Decision{}, illegal(order, "ship", "only processing orders can be shipped")
		}
		if trackingNumber == "" {
			return Decision{}, illegal(order, "ship", "tracking number is required")
		}
		return Decision{
			Next:    model.State{Status: model.OrderStatusShipped, PaymentStatus: order.PaymentStatus},
			Kind:    model.TransitionOrderShipped,
			Outcome: model.OutcomeAdminAction,
			Detail:  "tracking number " + trackingNumber,
			Extra: map[string]interface{}{
				"tracking_number": trackingNumber,
				"shipped_at":      time.Now().UTC(),
			},
		}, nil
	})
}

func (s *adminServiceImpl) Deliver(ctx context.Context, orderID string) (*ReconcileResult, error) {
	return s.apply(ctx, orderID, "deliver", func(order *model.Order) (Decision, error) {
		if order.Status != model.OrderStatusShipped {
			return Decision{}, illegal(order, "deliver", "only shipped orders can be delivered")
		}
		return Decision{
			Next:    model.State{Status: model.OrderStatusDelivered, PaymentStatus: order.PaymentStatus},
			Outcome: model.OutcomeAdminAction,
		}, nil
	})
}

func (s *adminServiceImpl) Cancel(ctx context.Context, orderID string) (*ReconcileResult, error) {
	return s.apply(ctx, orderID, "cancel", func(order *model.Order) (Decision, error) {
		if order.Status != model.OrderStatusPending {
			return Decision{}, illegal(order, "cancel", "only pending orders can be cancelled")
		}
		return Decision{
			Next:    model.State{Status: model.OrderStatusCancelled, PaymentStatus: order.PaymentStatus},
			Outcome: model.OutcomeAdminAction,
		}, nil
	})
}

// OverrideStatus is the operator escape hatch. It never sends notifications
// and still refuses states that break order invariants.
func (s *adminServiceImpl) OverrideStatus(ctx context.Context, orderID string, req *dto.StatusOverrideRequest) (*ReconcileResult, error) {
	next := model.State{Status: req.Status, PaymentStatus: req.PaymentStatus}
	return s.apply(ctx, orderID, "override", func(order *model.Order) (Decision, error) {
		if order.Status.IsTerminal() {
			return Decision{}, illegal(order, "override", "order is in a terminal state")
		}
		if next == order.State() {
			return Decision{Next: next, Outcome: model.OutcomeNoop}, nil
		}
		return Decision{
			Next:    next,
			Outcome: model.OutcomeAdminAction,
			Detail:  fmt.Sprintf("manual override from %s", order.State()),
		}, nil
	})
}

func (s *adminServiceImpl) SetChecked(ctx context.Context, orderID string, checked bool) (*model.Order, error) {
	if err := s.orderRepo.SetChecked(ctx, orderID, checked); err != nil {
		return nil, err
	}
	return s.orderRepo.FindByID(ctx, nil, orderID)
}

func (s *adminServiceImpl) DrainOutbox(ctx context.Context) (int, error) {
	return s.notifier.DrainOnce(ctx)
}

func (s *adminServiceImpl) apply(ctx context.Context, orderID, action string, decide func(order *model.Order) (Decision, error)) (*ReconcileResult, error) {
	result, err := s.reconciler.Apply(ctx, ApplyRequest{
		OrderID: orderID,
		Action:  action,
		Source:  model.SourceAdmin,
		Decide:  decide,
	})
	if errors.Is(err, ErrUnknownOrder) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"orderId": orderID,
		"action":  action,
		"mutated": result.Mutated,
	}).Info("admin action applied")
	return result, nil
}

func illegal(order *model.Order, action, reason string) error {
	return &IllegalTransitionError{OrderID: order.ID, Action: action, From: order.State(), Reason: reason}
}
