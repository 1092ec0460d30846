package service

import (
	"fmt"
	"order-reconciler/internal/model"
)

// Decision is the outcome of applying one input to an order's current state.
// A Decision whose Next equals the current state and carries no Extra
// columns is a no-op.
type Decision struct {
	Next    model.State
	Kind    model.TransitionKind
	Outcome model.ReconcileOutcome
	Detail  string
	Extra   map[string]interface{}
}

// DecideObservation is the payment transition table.
//
//	pending    + PAID|SETTLED -> processing/paid   (payment_confirmed)
//	paid       + SETTLED      -> processing/paid
//	pending    + EXPIRED      -> expired/failed    (latest invoice only)
//	terminal   + anything     -> unchanged
//	otherwise                 -> unchanged
//
// latestAttempt is the order's newest invoice attempt; it is only consulted
// for EXPIRED.
func DecideObservation(order *model.Order, obs model.GatewayObservation, latestAttempt int) Decision {
	current := order.State()
	unchanged := Decision{Next: current, Outcome: model.OutcomeNoop}

	if current.Status.IsTerminal() {
		unchanged.Outcome = model.OutcomeTerminal
		return unchanged
	}

	switch obs.ExternalStatus {
	case model.ExternalStatusPaid, model.ExternalStatusSettled:
		switch {
		case current.Status == model.OrderStatusPending:
			return Decision{
				Next:    model.State{Status: model.OrderStatusProcessing, PaymentStatus: model.PaymentStatusPaid},
				Kind:    model.TransitionPaymentConfirmed,
				Outcome: model.OutcomeTransitioned,
			}
		case current.Status == model.OrderStatusPaid && obs.ExternalStatus == model.ExternalStatusSettled:
			return Decision{
				Next:    model.State{Status: model.OrderStatusProcessing, PaymentStatus: model.PaymentStatusPaid},
				Outcome: model.OutcomeTransitioned,
			}
		}
		return unchanged

	case model.ExternalStatusExpired:
		if current.Status != model.OrderStatusPending {
			return unchanged
		}
		if obs.Attempt > 0 && obs.Attempt < latestAttempt {
			return Decision{
				Next:    current,
				Outcome: model.OutcomeIgnored,
				Detail:  fmt.Sprintf("invoice attempt %d expired but attempt %d is still payable", obs.Attempt, latestAttempt),
			}
		}
		return Decision{
			Next:    model.State{Status: model.OrderStatusExpired, PaymentStatus: model.PaymentStatusFailed},
			Outcome: model.OutcomeTransitioned,
		}

	case model.ExternalStatusPending:
		return unchanged
	}

	return Decision{
		Next:    current,
		Outcome: model.OutcomeIgnored,
		Detail:  fmt.Sprintf("unrecognised external status %q", obs.ExternalStatus),
	}
}

func (d Decision) changes(current model.State) bool {
	return d.Next != current || len(d.Extra) > 0
}
