package service

import (
	"context"
	"order-reconciler/internal/client"
	"order-reconciler/internal/dto"
	"order-reconciler/internal/model"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaceOrderMintsFirstInvoice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	placed := env.placeOrder(t)
	assert.Equal(t, 1, placed.Attempt)
	assert.Equal(t, placed.OrderID, placed.ExternalRef)
	assert.Equal(t, "https://pay.test/"+placed.OrderID, placed.PaymentURL)

	order := env.order(t, placed.OrderID)
	assert.Equal(t, model.OrderStatusPending, order.Status)
	assert.Equal(t, model.PaymentStatusPending, order.PaymentStatus)
	assert.Equal(t, int64(1), order.Version)
	assert.Equal(t, "IDR", order.Currency)

	invoices, err := env.invoices.ListByOrder(ctx, placed.OrderID)
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, "inv_"+placed.OrderID, invoices[0].GatewayInvoiceID)
}

func TestPlaceOrderGatewayFailureLeavesRetryableOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.gateway.createErr = &client.GatewayError{StatusCode: 503, Code: "HTTP_503", Message: "maintenance"}

	_, err := env.payments.PlaceOrder(ctx, &dto.PlaceOrderRequest{
		CustomerName:  "Budi",
		CustomerEmail: "budi@example.com",
		GrandTotal:    99000,
	})
	require.Error(t, err)
	assert.True(t, IsGatewayError(err))

	var orders []model.Order
	require.NoError(t, env.db.Find(&orders).Error)
	require.Len(t, orders, 1)
	assert.Equal(t, model.OrderStatusPending, orders[0].Status)

	env.gateway.createErr = nil
	retried, err := env.payments.Retry(ctx, orders[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, retried.Attempt, "no invoice was stored, so the first attempt is reused")
	assert.Equal(t, orders[0].ID, retried.ExternalRef)
}

func TestSyncRecoversLostWebhook(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	placed := env.placeOrder(t)
	env.gateway.setStatus(placed.ExternalRef, model.ExternalStatusPaid)

	resp, err := env.payments.Sync(ctx, placed.OrderID)
	require.NoError(t, err)
	assert.True(t, resp.Mutated)
	assert.Equal(t, model.OrderStatusPending, resp.Before.Status)
	assert.Equal(t, processingPaid, resp.After)
	assert.Equal(t, model.ExternalStatusPaid, resp.ExternalStatus)

	// notifications go out inline
	require.Len(t, resp.Notifications, 2)
	for _, n := range resp.Notifications {
		assert.Equal(t, model.DispatchStatusSucceeded, n.Status, n.Channel)
	}
	assert.Equal(t, 1, env.email.count())
	assert.Equal(t, 1, env.chat.count())

	entries, err := env.logs.ListByOrder(ctx, placed.OrderID, 0)
	require.NoError(t, err)
	var sources []model.ObservationSource
	for _, e := range entries {
		if e.Outcome == model.OutcomeTransitioned {
			sources = append(sources, e.Source)
		}
	}
	assert.Equal(t, []model.ObservationSource{model.SourceManualSync}, sources)
}

func TestSyncAfterWebhookChangesNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	placed := env.placeOrder(t)

	_, err := env.webhooks.HandleInvoiceCallback(ctx,
		callbackBody(t, placed.ExternalRef, model.ExternalStatusPaid, 150000), testCallbackToken)
	require.NoError(t, err)
	_, err = env.notifier.DrainOnce(ctx)
	require.NoError(t, err)
	env.gateway.setStatus(placed.ExternalRef, model.ExternalStatusPaid)

	resp, err := env.payments.Sync(ctx, placed.OrderID)
	require.NoError(t, err)
	assert.False(t, resp.Mutated)
	assert.Equal(t, processingPaid, resp.Before)
	assert.Equal(t, processingPaid, resp.After)

	assert.Equal(t, 1, env.email.count(), "already delivered confirmation is not resent")
	assert.Equal(t, 1, env.chat.count())
	assert.Equal(t, int64(2), env.order(t, placed.OrderID).Version)
}

func TestSyncPrefersPaidInvoiceOverLatestAttempt(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	placed := env.placeOrder(t)

	retried, err := env.payments.Retry(ctx, placed.OrderID)
	require.NoError(t, err)
	env.gateway.setStatus(placed.ExternalRef, model.ExternalStatusPaid)
	env.gateway.setStatus(retried.ExternalRef, model.ExternalStatusExpired)

	resp, err := env.payments.Sync(ctx, placed.OrderID)
	require.NoError(t, err)
	assert.True(t, resp.Mutated)
	assert.Equal(t, placed.ExternalRef, resp.ExternalRef)
	assert.Equal(t, processingPaid, resp.After)
}

func TestSyncGatewayFailureChangesNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	placed := env.placeOrder(t)
	env.gateway.queryErr[placed.ExternalRef] = &client.GatewayError{Code: "TIMEOUT", Err: context.DeadlineExceeded}

	_, err := env.payments.Sync(ctx, placed.OrderID)
	require.Error(t, err)
	assert.True(t, IsGatewayError(err))

	order := env.order(t, placed.OrderID)
	assert.Equal(t, model.OrderStatusPending, order.Status)
	assert.Equal(t, int64(1), order.Version)
	assert.Empty(t, env.outcomes(t, placed.OrderID))
}

func TestSyncUnknownOrder(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.payments.Sync(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestSyncResendsFailedNotificationOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	placed := env.placeOrder(t)

	_, err := env.webhooks.HandleInvoiceCallback(ctx,
		callbackBody(t, placed.ExternalRef, model.ExternalStatusPaid, 150000), testCallbackToken)
	require.NoError(t, err)

	env.email.failures = 1
	_, err = env.notifier.DrainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, env.email.count())
	assert.Equal(t, 1, env.chat.count())

	env.gateway.setStatus(placed.ExternalRef, model.ExternalStatusPaid)
	resp, err := env.payments.Sync(ctx, placed.OrderID)
	require.NoError(t, err)
	assert.False(t, resp.Mutated)

	assert.Equal(t, 1, env.email.count())
	assert.Equal(t, 1, env.chat.count(), "delivered channel is not repeated")

	rows, err := env.notifications.ListByOrder(ctx, placed.OrderID)
	require.NoError(t, err)
	for _, row := range rows {
		assert.Equal(t, model.DispatchStatusSucceeded, row.Status, row.Channel)
	}
}

func TestRetryRequiresPendingOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	placed := env.placeOrder(t)

	_, err := env.webhooks.HandleInvoiceCallback(ctx,
		callbackBody(t, placed.ExternalRef, model.ExternalStatusPaid, 150000), testCallbackToken)
	require.NoError(t, err)

	_, err = env.payments.Retry(ctx, placed.OrderID)
	assert.True(t, IsIllegalTransition(err))

	latest, err := env.invoices.LatestAttempt(ctx, placed.OrderID)
	require.NoError(t, err)
	assert.Equal(t, 1, latest)
}

func TestPickObservation(t *testing.T) {
	obs := func(attempt int, status model.ExternalStatus) model.GatewayObservation {
		return model.GatewayObservation{Attempt: attempt, ExternalStatus: status}
	}

	got := pickObservation([]model.GatewayObservation{
		obs(1, model.ExternalStatusExpired), obs(2, model.ExternalStatusPending),
	})
	assert.Equal(t, 2, got.Attempt)

	got = pickObservation([]model.GatewayObservation{
		obs(1, model.ExternalStatusPaid), obs(2, model.ExternalStatusPending), obs(3, model.ExternalStatusSettled),
	})
	assert.Equal(t, 3, got.Attempt)

	got = pickObservation([]model.GatewayObservation{
		obs(1, model.ExternalStatusSettled), obs(2, model.ExternalStatusPaid),
	})
	assert.Equal(t, model.ExternalStatusSettled, got.ExternalStatus)
}

func TestRetryWithholdsInvoiceWhenPaymentLandsDuringMint(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	placed := env.placeOrder(t)

	env.gateway.onCreate = func(ref model.InvoiceRef) {
		if ref.Attempt != 2 {
			return
		}
		_, err := env.webhooks.HandleInvoiceCallback(ctx,
			callbackBody(t, placed.ExternalRef, model.ExternalStatusPaid, 150000), testCallbackToken)
		require.NoError(t, err)
	}

	resp, err := env.payments.Retry(ctx, placed.OrderID)
	assert.Nil(t, resp)
	assert.True(t, IsIllegalTransition(err), "got %v", err)
	assert.Equal(t, processingPaid, env.order(t, placed.OrderID).State())

	latest, err := env.invoices.LatestAttempt(ctx, placed.OrderID)
	require.NoError(t, err)
	assert.Equal(t, 2, latest, "minted invoice is kept so a payment on it is still reconciled")
}

func TestRetryAfterExpiryIsRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	placed := env.placeOrder(t)

	res, err := env.webhooks.HandleInvoiceCallback(ctx,
		callbackBody(t, placed.ExternalRef, model.ExternalStatusExpired, 150000), testCallbackToken)
	require.NoError(t, err)
	require.True(t, res.Mutated)
	require.Equal(t, model.OrderStatusExpired, env.order(t, placed.OrderID).Status)

	_, err = env.payments.Retry(ctx, placed.OrderID)
	assert.True(t, IsIllegalTransition(err))
	assert.Equal(t, 1, env.gateway.creates, "no invoice is minted for an expired order")
}

func TestRetriesMintDistinctInvoices(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	placed := env.placeOrder(t)

	first, err := env.payments.Retry(ctx, placed.OrderID)
	require.NoError(t, err)
	second, err := env.payments.Retry(ctx, placed.OrderID)
	require.NoError(t, err)

	assert.Equal(t, 2, first.Attempt)
	assert.Equal(t, 3, second.Attempt)
	assert.Equal(t, placed.OrderID+"-retry-1", first.ExternalRef)
	assert.Equal(t, placed.OrderID+"-retry-2", second.ExternalRef)
	assert.NotEqual(t, first.PaymentURL, second.PaymentURL)

	invoices, err := env.invoices.ListByOrder(ctx, placed.OrderID)
	require.NoError(t, err)
	assert.Len(t, invoices, 3)
	assert.Equal(t, model.OrderStatusPending, env.order(t, placed.OrderID).Status)
}

func TestSyncReportsInvoiceMissingAtGateway(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	placed := env.placeOrder(t)
	env.gateway.forget(placed.ExternalRef)

	resp, err := env.payments.Sync(ctx, placed.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "no matching invoice at the gateway", resp.Message)
	assert.False(t, resp.Mutated)
	assert.Equal(t, model.OrderStatusPending, env.order(t, placed.OrderID).Status)
	assert.Empty(t, env.outcomes(t, placed.OrderID))
}

func TestSyncReportsPartialGatewayFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	placed := env.placeOrder(t)
	_, err := env.payments.Retry(ctx, placed.OrderID)
	require.NoError(t, err)
	env.gateway.queryErr[placed.ExternalRef] = &client.GatewayError{Code: "TIMEOUT", Err: context.DeadlineExceeded}

	resp, err := env.payments.Sync(ctx, placed.OrderID)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeNoop, resp.Outcome)
	assert.Contains(t, resp.Message, "gateway query failed for "+placed.ExternalRef)
}

func TestSyncDoesNotNotifyOverriddenOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	placed := env.placeOrder(t)

	_, err := env.admin.OverrideStatus(ctx, placed.OrderID, &dto.StatusOverrideRequest{
		Status:        model.OrderStatusProcessing,
		PaymentStatus: model.PaymentStatusPaid,
	})
	require.NoError(t, err)
	_, err = env.notifier.DrainOnce(ctx)
	require.NoError(t, err)

	resp, err := env.payments.Sync(ctx, placed.OrderID)
	require.NoError(t, err)
	assert.Empty(t, resp.Notifications)
	assert.Equal(t, 0, env.email.count())
	assert.Equal(t, 0, env.chat.count())

	rows, err := env.notifications.ListByOrder(ctx, placed.OrderID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestWebhookAndSyncReachSameResult(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	viaWebhook := env.placeOrder(t)
	viaSync := env.placeOrder(t)

	_, err := env.webhooks.HandleInvoiceCallback(ctx,
		callbackBody(t, viaWebhook.ExternalRef, model.ExternalStatusPaid, 150000), testCallbackToken)
	require.NoError(t, err)
	_, err = env.notifier.DrainOnce(ctx)
	require.NoError(t, err)

	env.gateway.setStatus(viaSync.ExternalRef, model.ExternalStatusPaid)
	_, err = env.payments.Sync(ctx, viaSync.OrderID)
	require.NoError(t, err)

	a, b := env.order(t, viaWebhook.OrderID), env.order(t, viaSync.OrderID)
	assert.Equal(t, processingPaid, a.State())
	assert.Equal(t, a.State(), b.State())
	assert.Equal(t, a.Version, b.Version)
	assert.Equal(t, env.outcomes(t, viaWebhook.OrderID)[model.OutcomeTransitioned],
		env.outcomes(t, viaSync.OrderID)[model.OutcomeTransitioned])

	assert.Equal(t, dispatchSummary(t, env, viaWebhook.OrderID), dispatchSummary(t, env, viaSync.OrderID))
	assert.Equal(t, 2, env.email.count())
	assert.Equal(t, 2, env.chat.count())
}

func dispatchSummary(t *testing.T, env *testEnv, orderID string) []string {
	t.Helper()
	rows, err := env.notifications.ListByOrder(context.Background(), orderID)
	require.NoError(t, err)
	var out []string
	for _, row := range rows {
		out = append(out, string(row.Kind)+"/"+string(row.Channel)+"/"+row.Status)
	}
	sort.Strings(out)
	return out
}
