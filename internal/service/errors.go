package service

import (
	"errors"
	"fmt"
	"order-reconciler/internal/client"
	"order-reconciler/internal/model"
	"order-reconciler/internal/repository"
)

var (
	ErrAuthentication       = errors.New("webhook authentication failed")
	ErrMalformedPayload     = errors.New("malformed webhook payload")
	ErrUnknownOrder         = errors.New("observation references no known order")
	ErrNotificationDispatch = errors.New("notification dispatch failed")
	ErrConcurrentUpdate     = errors.New("order was modified concurrently, retries exhausted")
	ErrOrderNotFound        = repository.ErrOrderNotFound
	ErrInvoiceNotFound      = client.ErrInvoiceNotFound
)

// GatewayError is re-exported so callers of the service package do not need
// to import the client package to branch on it.
type GatewayError = client.GatewayError

// IllegalTransitionError rejects an operation that is not allowed from the
// order's current state or would break an order invariant. Nothing is
// mutated when it is returned.
type IllegalTransitionError struct {
	OrderID string
	Action  string
	From    model.State
	Reason  string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("cannot %s order %s in state %s: %s", e.Action, e.OrderID, e.From, e.Reason)
}

func IsGatewayError(err error) bool {
	var gwErr *GatewayError
	return errors.As(err, &gwErr)
}

func IsIllegalTransition(err error) bool {
	var itErr *IllegalTransitionError
	return errors.As(err, &itErr)
}
