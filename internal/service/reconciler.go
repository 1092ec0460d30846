package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"order-reconciler/internal/client"
	"order-reconciler/internal/config"
	"order-reconciler/internal/model"
	"order-reconciler/internal/repository"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// NotificationPlanner is the part of the notifier the reconciler needs: which
// channels an order is reachable on, and a nudge once outbox rows are committed.
type NotificationPlanner interface {
	ChannelsFor(order *model.Order) []model.NotificationChannel
	Kick()
}

// Reconciler is the single writer of order state. Webhooks, manual sync and
// admin actions all go through Apply so that every mutation is a
// compare-and-set against the stored state and leaves one log entry.
type Reconciler interface {
	Reconcile(ctx context.Context, obs model.GatewayObservation) (*ReconcileResult, error)
	Apply(ctx context.Context, req ApplyRequest) (*ReconcileResult, error)
}

type ApplyRequest struct {
	OrderID        string
	Action         string
	Source         model.ObservationSource
	ExternalRef    string
	ExternalStatus string
	RawPayload     []byte
	Decide         func(order *model.Order) (Decision, error)
}

type ReconcileResult struct {
	OrderID string                 `json:"orderId"`
	Before  model.State            `json:"before"`
	After   model.State            `json:"after"`
	Mutated bool                   `json:"mutated"`
	Kind    model.TransitionKind   `json:"transitionKind,omitempty"`
	Outcome model.ReconcileOutcome `json:"outcome"`
	Detail  string                 `json:"detail,omitempty"`
}

type reconcilerImpl struct {
	db               *gorm.DB
	orderRepo        repository.OrderRepository
	invoiceRepo      repository.InvoiceRepository
	logRepo          repository.ReconciliationLogRepository
	notificationRepo repository.NotificationRepository
	planner          NotificationPlanner
	locker           client.OrderLocker
	maxRetries       int
	logger           *logrus.Logger
}

func NewReconciler(
	db *gorm.DB,
	orderRepo repository.OrderRepository,
	invoiceRepo repository.InvoiceRepository,
	logRepo repository.ReconciliationLogRepository,
	notificationRepo repository.NotificationRepository,
	planner NotificationPlanner,
	locker client.OrderLocker,
	cfg config.Reconcile,
	logger *logrus.Logger,
) Reconciler {
	if locker == nil {
		locker = client.NewNoopOrderLocker()
	}
	maxRetries := cfg.MaxConflictRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &reconcilerImpl{
		db:               db,
		orderRepo:        orderRepo,
		invoiceRepo:      invoiceRepo,
		logRepo:          logRepo,
		notificationRepo: notificationRepo,
		planner:          planner,
		locker:           locker,
		maxRetries:       maxRetries,
		logger:           logger,
	}
}

func (r *reconcilerImpl) Reconcile(ctx context.Context, obs model.GatewayObservation) (*ReconcileResult, error) {
	return r.Apply(ctx, ApplyRequest{
		OrderID:        obs.OrderID,
		Action:         "reconcile",
		Source:         obs.Source,
		ExternalRef:    obs.ExternalRef,
		ExternalStatus: string(obs.ExternalStatus),
		RawPayload:     obs.RawPayload,
		Decide: func(order *model.Order) (Decision, error) {
			latest := 0
			if obs.ExternalStatus == model.ExternalStatusExpired {
				var err error
				latest, err = r.invoiceRepo.LatestAttempt(ctx, order.ID)
				if err != nil {
					return Decision{}, fmt.Errorf("load latest invoice attempt: %w", err)
				}
			}

			d := DecideObservation(order, obs, latest)
			if obs.ExternalStatus.IsPayment() && obs.Amount > 0 && obs.Amount != order.GrandTotal {
				mismatch := fmt.Sprintf("amount mismatch: gateway reported %d, order total %d", obs.Amount, order.GrandTotal)
				r.logger.WithFields(logrus.Fields{
					"orderId":     order.ID,
					"externalRef": obs.ExternalRef,
					"observed":    obs.Amount,
					"expected":    order.GrandTotal,
				}).Warn("gateway amount differs from order total")
				d.Detail = joinDetail(d.Detail, mismatch)
			}
			return d, nil
		},
	})
}

func (r *reconcilerImpl) Apply(ctx context.Context, req ApplyRequest) (*ReconcileResult, error) {
	release, err := r.locker.Lock(ctx, req.OrderID)
	if err != nil {
		// the compare-and-set below still protects the row
		r.logger.WithError(err).WithField("orderId", req.OrderID).Warn("order lock unavailable, continuing without it")
	}
	defer release()

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		order, err := r.orderRepo.FindByID(ctx, nil, req.OrderID)
		if errors.Is(err, repository.ErrOrderNotFound) {
			entry := r.newEntry(req, nil, model.OutcomeUnknownOrder)
			entry.OrderID = &req.OrderID
			entry.Detail = "no order with this id"
			if err := r.logRepo.Append(ctx, nil, entry); err != nil {
				return nil, fmt.Errorf("append reconciliation log: %w", err)
			}
			return &ReconcileResult{OrderID: req.OrderID, Outcome: model.OutcomeUnknownOrder}, ErrUnknownOrder
		}
		if err != nil {
			return nil, fmt.Errorf("load order %s: %w", req.OrderID, err)
		}

		current := order.State()
		d, err := req.Decide(order)
		if err != nil {
			return nil, err
		}

		if !d.changes(current) {
			if d.Outcome == "" {
				d.Outcome = model.OutcomeNoop
			}
			entry := r.newEntry(req, order, d.Outcome)
			entry.ResultingLocalStatus = current.String()
			entry.Detail = d.Detail
			if err := r.logRepo.Append(ctx, nil, entry); err != nil {
				return nil, fmt.Errorf("append reconciliation log: %w", err)
			}
			return &ReconcileResult{
				OrderID: order.ID,
				Before:  current,
				After:   current,
				Outcome: d.Outcome,
				Detail:  d.Detail,
			}, nil
		}

		trackingNumber := order.TrackingNumber
		if tn, ok := d.Extra["tracking_number"].(string); ok {
			trackingNumber = &tn
		}
		if err := model.CheckInvariants(d.Next, trackingNumber); err != nil {
			return nil, &IllegalTransitionError{OrderID: order.ID, Action: req.Action, From: current, Reason: err.Error()}
		}
		if d.Outcome == "" {
			d.Outcome = model.OutcomeTransitioned
		}

		swapped := false
		err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			ok, err := r.orderRepo.CompareAndSwapState(ctx, tx, repository.StateChange{
				OrderID:         order.ID,
				Expected:        current,
				ExpectedVersion: order.Version,
				Next:            d.Next,
				Extra:           d.Extra,
			})
			if err != nil {
				return fmt.Errorf("compare and swap order state: %w", err)
			}
			if !ok {
				return nil
			}
			swapped = true

			entry := r.newEntry(req, order, d.Outcome)
			entry.ResultingLocalStatus = d.Next.String()
			entry.TransitionKind = string(d.Kind)
			entry.Detail = d.Detail
			if err := r.logRepo.Append(ctx, tx, entry); err != nil {
				return fmt.Errorf("append reconciliation log: %w", err)
			}

			if d.Kind != model.TransitionNone {
				channels := r.planner.ChannelsFor(order)
				if err := r.notificationRepo.Enqueue(ctx, tx, order.ID, d.Kind, channels); err != nil {
					return fmt.Errorf("enqueue notifications: %w", err)
				}
			}
			return nil
		})
		if err != nil {
			config.LogError(r.logger, "reconciler", "Apply", "commit transition", req.OrderID, err)
			return nil, err
		}
		if !swapped {
			r.logger.WithFields(logrus.Fields{
				"orderId": order.ID,
				"attempt": attempt + 1,
			}).Debug("order changed underneath, re-reading")
			continue
		}

		r.logger.WithFields(logrus.Fields{
			"orderId": order.ID,
			"source":  req.Source,
			"from":    current.String(),
			"to":      d.Next.String(),
			"kind":    d.Kind,
		}).Info("order state changed")

		if d.Kind != model.TransitionNone {
			r.planner.Kick()
		}

		return &ReconcileResult{
			OrderID: order.ID,
			Before:  current,
			After:   d.Next,
			Mutated: true,
			Kind:    d.Kind,
			Outcome: d.Outcome,
			Detail:  d.Detail,
		}, nil
	}

	entry := r.newEntry(req, nil, model.OutcomeConflict)
	entry.OrderID = &req.OrderID
	entry.Detail = fmt.Sprintf("gave up after %d concurrent modifications", r.maxRetries+1)
	if err := r.logRepo.Append(ctx, nil, entry); err != nil {
		config.LogError(r.logger, "reconciler", "Apply", "append conflict log", req.OrderID, err)
	}
	return nil, ErrConcurrentUpdate
}

func (r *reconcilerImpl) newEntry(req ApplyRequest, order *model.Order, outcome model.ReconcileOutcome) *model.ReconciliationLogEntry {
	entry := &model.ReconciliationLogEntry{
		Source:         req.Source,
		ExternalRef:    req.ExternalRef,
		ExternalStatus: req.ExternalStatus,
		Outcome:        outcome,
		RawPayload:     rawJSON(req.RawPayload),
	}
	if order != nil {
		id := order.ID
		entry.OrderID = &id
		entry.PreviousStatus = order.State().String()
	}
	return entry
}

// rawJSON keeps payloads queryable as JSON; anything that is not valid JSON
// is stored as a JSON string.
func rawJSON(b []byte) datatypes.JSON {
	if len(b) == 0 {
		return nil
	}
	if json.Valid(b) {
		return datatypes.JSON(b)
	}
	quoted, err := json.Marshal(string(b))
	if err != nil {
		return nil
	}
	return datatypes.JSON(quoted)
}

func joinDetail(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "; ")
}
