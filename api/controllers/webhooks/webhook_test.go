package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/tenantbilling-backend/internal/billingprovider"
	"github.com/angelmondragon/tenantbilling-backend/internal/billingprovider/providertest"
	"github.com/angelmondragon/tenantbilling-backend/internal/dbtest"
	"github.com/angelmondragon/tenantbilling-backend/internal/plans"
	"github.com/angelmondragon/tenantbilling-backend/internal/subscriptions"
	"github.com/angelmondragon/tenantbilling-backend/internal/webhooks"
	"github.com/angelmondragon/tenantbilling-backend/pkg/db"
	"github.com/angelmondragon/tenantbilling-backend/pkg/db/models"
	"github.com/angelmondragon/tenantbilling-backend/pkg/enums"
	"github.com/angelmondragon/tenantbilling-backend/pkg/logger"
	"github.com/angelmondragon/tenantbilling-backend/pkg/types"
)

type queue struct {
	mu    sync.Mutex
	tasks []webhooks.Task
}

func (q *queue) Enqueue(_ context.Context, task webhooks.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return nil
}

type endpointHarness struct {
	conn      *gorm.DB
	router    http.Handler
	queue     *queue
	processor *webhooks.Processor
	manager   *subscriptions.Manager
}

func newEndpointHarness(t *testing.T, maxBody int64) *endpointHarness {
	t.Helper()
	conn := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "test", Output: &bytes.Buffer{}})
	adapter := providertest.New(enums.BillingProviderStripe)
	ledger := webhooks.NewLedger(conn)
	q := &queue{}

	svc, err := webhooks.NewService(webhooks.ServiceParams{
		Adapter:  adapter,
		Ledger:   ledger,
		Enqueuer: q,
		Logger:   logg,
	})
	require.NoError(t, err)

	txr := db.NewFromGorm(conn)
	manager, err := subscriptions.NewManager(subscriptions.ManagerParams{
		Repo:   subscriptions.NewRepository(conn),
		Events: subscriptions.NewEventRepository(conn),
		DB:     txr,
		Logger: logg,
	})
	require.NoError(t, err)
	processor, err := webhooks.NewProcessor(webhooks.ProcessorParams{
		Adapter: adapter,
		DB:      txr,
		Ledger:  ledger,
		Manager: manager,
		Plans:   plans.NewRepository(conn),
		Logger:  logg,
	})
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Post("/api/v1/webhooks/{provider}", Webhook([]Ingester{svc}, maxBody, logg))
	return &endpointHarness{conn: conn, router: r, queue: q, processor: processor, manager: manager}
}

func (h *endpointHarness) post(t *testing.T, provider string, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/"+provider, bytes.NewReader(body))
	req.Header.Set(StripeSignatureHeader, signature)
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body types.ErrorEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body.Error.Code
}

func TestWebhookResponseCodes(t *testing.T) {
	h := newEndpointHarness(t, 0)
	payload := providertest.Payload(billingprovider.Event{ID: "evt_1", Type: billingprovider.EventInvoicePaid})

	w := h.post(t, "stripe", payload, "forged")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_SIGNATURE", errorCode(t, w))

	w = h.post(t, "stripe", []byte(`{"type":"invoice.paid"}`), providertest.ValidSignature)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.post(t, "paypal", payload, providertest.ValidSignature)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.post(t, "square", payload, providertest.ValidSignature)
	assert.Equal(t, http.StatusNotFound, w.Code, "providers without an adapter are not routed")

	w = h.post(t, "stripe", payload, providertest.ValidSignature)
	assert.Equal(t, http.StatusAccepted, w.Code)
	var ok struct {
		Data webhooks.Result `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&ok))
	assert.Equal(t, webhooks.Result{Status: webhooks.StatusAccepted, EventID: "evt_1", EventType: billingprovider.EventInvoicePaid}, ok.Data)
}

func TestWebhookAcknowledgesUnhandledEventWith200(t *testing.T) {
	h := newEndpointHarness(t, 0)
	payload := providertest.Payload(billingprovider.Event{ID: "evt_tax", Type: "customer.tax_id.created"})

	w := h.post(t, "stripe", payload, providertest.ValidSignature)
	assert.Equal(t, http.StatusOK, w.Code)
	var ok struct {
		Data webhooks.Result `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&ok))
	assert.Equal(t, webhooks.StatusIgnored, ok.Data.Status)
	assert.Empty(t, h.queue.tasks)
}

func TestWebhookRejectsOversizedBody(t *testing.T) {
	h := newEndpointHarness(t, 64)
	body := []byte(`{"id":"evt_1","type":"invoice.paid","metadata":{"pad":"` + strings.Repeat("x", 128) + `"}}`)

	w := h.post(t, "stripe", body, providertest.ValidSignature)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, h.queue.tasks)
}

func TestDuplicateDeliveryAppliesOnce(t *testing.T) {
	h := newEndpointHarness(t, 0)
	tenant := dbtest.CreateTenant(t, h.conn, "acme")
	dbtest.CreatePlan(t, h.conn, dbtest.PlanFixture{ID: "pro"})
	sub := &models.Subscription{
		TenantID:               tenant.ID,
		PlanID:                 "pro",
		Status:                 enums.SubscriptionStatusActive,
		Provider:               enums.BillingProviderStripe,
		ExternalSubscriptionID: "sub_ext",
	}
	require.NoError(t, h.conn.Create(sub).Error)

	payload := providertest.Payload(billingprovider.Event{
		ID:             "evt_dup",
		Type:           billingprovider.EventInvoicePaymentFailed,
		SubscriptionID: "sub_ext",
		CreatedAt:      time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	})

	// both deliveries race ahead of the worker
	assert.Equal(t, http.StatusAccepted, h.post(t, "stripe", payload, providertest.ValidSignature).Code)
	assert.Equal(t, http.StatusAccepted, h.post(t, "stripe", payload, providertest.ValidSignature).Code)
	require.Len(t, h.queue.tasks, 2)

	for _, task := range h.queue.tasks {
		require.NoError(t, h.processor.Process(context.Background(), task))
	}

	events, err := h.manager.Events().ListBySubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, enums.SubscriptionEventPaymentFailed, events[0].Type)

	var ledgerRows int64
	require.NoError(t, h.conn.Model(&models.ProcessedWebhookEvent{}).Count(&ledgerRows).Error)
	assert.Equal(t, int64(1), ledgerRows)

	w := h.post(t, "stripe", payload, providertest.ValidSignature)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, h.queue.tasks, 2)
}
