package routes

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	webhookcontrollers "github.com/angelmondragon/tenantbilling-backend/api/controllers/webhooks"
	"github.com/angelmondragon/tenantbilling-backend/internal/webhooks"
	"github.com/angelmondragon/tenantbilling-backend/pkg/enums"
	"github.com/angelmondragon/tenantbilling-backend/pkg/logger"
	"github.com/angelmondragon/tenantbilling-backend/pkg/metrics"
)

type stubPinger struct {
	err error
}

func (s stubPinger) Ping(context.Context) error {
	return s.err
}

type stubIngester struct {
	got webhooks.IngestRequest
}

func (s *stubIngester) Provider() enums.BillingProvider { return enums.BillingProviderSquare }

func (s *stubIngester) Ingest(_ context.Context, req webhooks.IngestRequest) (webhooks.Result, error) {
	s.got = req
	return webhooks.Result{Status: webhooks.StatusAccepted, EventID: "evt_1"}, nil
}

func newTestRouter(t *testing.T, redisErr error, ing *stubIngester) http.Handler {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics.NewWebhookMetrics(reg).IncRequest("square", metrics.WebhookAccepted)
	return NewRouter(RouterParams{
		Env:      "test",
		Logger:   logger.New(logger.Options{ServiceName: "test", Output: &bytes.Buffer{}}),
		DB:       stubPinger{},
		Redis:    stubPinger{err: redisErr},
		Webhooks: []webhookcontrollers.Ingester{ing},
		Metrics:  reg,
	})
}

func TestRouterHealthEndpoints(t *testing.T) {
	router := newTestRouter(t, nil, &stubIngester{})

	for _, path := range []string{"/health/live", "/health/ready"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, w.Code)
		}
		if w.Header().Get("X-Request-Id") == "" {
			t.Fatalf("%s: expected request id header", path)
		}
	}

	router = newTestRouter(t, errors.New("redis down"), &stubIngester{})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when redis is down, got %d", w.Code)
	}
}

func TestRouterServesMetrics(t *testing.T) {
	router := newTestRouter(t, nil, &stubIngester{})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "tenantbilling_webhook_requests_total") {
		t.Fatalf("expected webhook counter in exposition, got %s", w.Body.String())
	}
}

func TestRouterRoutesWebhookWithProviderHeader(t *testing.T) {
	ing := &stubIngester{}
	router := newTestRouter(t, nil, ing)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/square", strings.NewReader(`{"event_id":"evt_1"}`))
	req.Header.Set(webhookcontrollers.SquareSignatureHeader, "abc123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	if ing.got.Signature != "abc123" || ing.got.Provider != enums.BillingProviderSquare {
		t.Fatalf("unexpected ingest request %+v", ing.got)
	}
}
