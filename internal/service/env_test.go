package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"order-reconciler/internal/client"
	"order-reconciler/internal/config"
	"order-reconciler/internal/dto"
	"order-reconciler/internal/model"
	"order-reconciler/internal/repository"
	"order-reconciler/internal/testutil"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testCallbackToken = "cb-secret"

type fakeGateway struct {
	mu        sync.Mutex
	invoices  map[string]*model.Invoice
	createErr error
	queryErr  map[string]error
	creates   int
	// onCreate runs before an invoice is minted, outside the gateway lock.
	onCreate func(ref model.InvoiceRef)
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		invoices: make(map[string]*model.Invoice),
		queryErr: make(map[string]error),
	}
}

func (g *fakeGateway) CreateInvoice(_ context.Context, order *model.Order, ref model.InvoiceRef) (*model.Invoice, error) {
	if g.onCreate != nil {
		g.onCreate(ref)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.creates++

	externalID := ref.ExternalID()
	if inv, ok := g.invoices[externalID]; ok {
		copied := *inv
		return &copied, nil
	}
	inv := &model.Invoice{
		ID:         "inv_" + externalID,
		ExternalID: externalID,
		Status:     model.ExternalStatusPending,
		Amount:     model.MinorToDecimal(order.GrandTotal, 0),
		Currency:   order.Currency,
		InvoiceURL: "https://pay.test/" + externalID,
		Updated:    time.Now().UTC(),
	}
	g.invoices[externalID] = inv
	copied := *inv
	return &copied, nil
}

func (g *fakeGateway) QueryInvoice(_ context.Context, externalRef string) (*model.Invoice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.queryErr[externalRef]; err != nil {
		return nil, err
	}
	inv, ok := g.invoices[externalRef]
	if !ok {
		return nil, client.ErrInvoiceNotFound
	}
	copied := *inv
	return &copied, nil
}

func (g *fakeGateway) forget(externalRef string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.invoices, externalRef)
}

func (g *fakeGateway) setStatus(externalRef string, status model.ExternalStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.invoices[externalRef].Status = status
	g.invoices[externalRef].Updated = time.Now().UTC()
}

type fakeEmail struct {
	mu       sync.Mutex
	sent     []client.EmailMessage
	failures int
}

func (f *fakeEmail) Send(_ context.Context, msg client.EmailMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("smtp relay unavailable")
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeEmail) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeChat struct {
	mu       sync.Mutex
	sent     []string
	failures int
}

func (f *fakeChat) SendText(_ context.Context, phone, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("chat api 500")
	}
	f.sent = append(f.sent, phone+": "+text)
	return nil
}

func (f *fakeChat) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type testEnv struct {
	db            *gorm.DB
	orders        repository.OrderRepository
	invoices      repository.InvoiceRepository
	logs          repository.ReconciliationLogRepository
	notifications repository.NotificationRepository
	gateway       *fakeGateway
	email         *fakeEmail
	chat          *fakeChat
	notifier      Notifier
	reconciler    Reconciler
	payments      PaymentService
	webhooks      WebhookService
	admin         AdminService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithOrderRepo(t, nil)
}

// newTestEnvWithOrderRepo lets a test wrap the order repository the
// reconciler writes through.
func newTestEnvWithOrderRepo(t *testing.T, wrap func(repository.OrderRepository) repository.OrderRepository) *testEnv {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	db := testutil.NewTestDB(t)
	env := &testEnv{
		db:            db,
		orders:        repository.NewOrderRepository(db),
		invoices:      repository.NewInvoiceRepository(db),
		logs:          repository.NewReconciliationLogRepository(db),
		notifications: repository.NewNotificationRepository(db),
		gateway:       newFakeGateway(),
		email:         &fakeEmail{},
		chat:          &fakeChat{},
	}

	gatewayCfg := config.Gateway{
		CallbackToken:    testCallbackToken,
		Currency:         "IDR",
		CurrencyExponent: 0,
	}

	env.notifier = NewNotifier(env.orders, env.notifications, env.logs, env.email, env.chat, NotifierOptions{
		Outbox: config.Outbox{
			BatchSize:   10,
			Interval:    time.Hour,
			LockTTL:     time.Minute,
			MaxAttempts: 3,
			BaseBackoff: time.Second,
			MaxBackoff:  time.Minute,
		},
		AdminEmail: "ops@example.com",
		Channels:   model.AllChannels(),
	}, logger)

	reconcilerOrders := env.orders
	if wrap != nil {
		reconcilerOrders = wrap(env.orders)
	}
	env.reconciler = NewReconciler(db, reconcilerOrders, env.invoices, env.logs, env.notifications,
		env.notifier, client.NewNoopOrderLocker(), config.Reconcile{MaxConflictRetries: 3}, logger)
	env.payments = NewPaymentService(env.gateway, env.reconciler, env.notifier, client.NewNoopOrderLocker(),
		env.orders, env.invoices, env.notifications, gatewayCfg, logger)
	env.webhooks = NewWebhookService(env.reconciler, env.invoices, env.logs, gatewayCfg, logger)
	env.admin = NewAdminService(env.reconciler, env.notifier, env.orders, env.logs, env.notifications, logger)

	return env
}

func (e *testEnv) placeOrder(t *testing.T) *dto.PayResponse {
	t.Helper()
	resp, err := e.payments.PlaceOrder(context.Background(), &dto.PlaceOrderRequest{
		CustomerName:  "Ayu Lestari",
		CustomerEmail: "ayu@example.com",
		CustomerPhone: "+628123456789",
		GrandTotal:    150000,
		Description:   "2x batik shirt",
	})
	require.NoError(t, err)
	return resp
}

func (e *testEnv) order(t *testing.T, id string) *model.Order {
	t.Helper()
	order, err := e.orders.FindByID(context.Background(), nil, id)
	require.NoError(t, err)
	return order
}

func (e *testEnv) outcomes(t *testing.T, orderID string) map[model.ReconcileOutcome]int {
	t.Helper()
	entries, err := e.logs.ListByOrder(context.Background(), orderID, 0)
	require.NoError(t, err)
	counts := make(map[model.ReconcileOutcome]int)
	for _, entry := range entries {
		counts[entry.Outcome]++
	}
	return counts
}

func callbackBody(t *testing.T, externalID string, status model.ExternalStatus, amount int64) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"id":          "inv_" + externalID,
		"external_id": externalID,
		"status":      status,
		"amount":      amount,
		"updated":     time.Now().UTC().Format(time.RFC3339),
	})
	require.NoError(t, err)
	return body
}

var processingPaid = model.State{Status: model.OrderStatusProcessing, PaymentStatus: model.PaymentStatusPaid}
