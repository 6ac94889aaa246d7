package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/angelmondragon/tenantbilling-backend/pkg/types"
)

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthLive(t *testing.T) {
	w := httptest.NewRecorder()
	HealthLive("test")(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := w.Header().Get(envHeader); got != "test" {
		t.Fatalf("unexpected env header %q", got)
	}
}

func TestHealthReadyReportsFailedDependencies(t *testing.T) {
	ok := pingerFunc(func(context.Context) error { return nil })
	down := pingerFunc(func(context.Context) error { return errors.New("connection refused") })

	w := httptest.NewRecorder()
	HealthReady("test", nil, map[string]Pinger{"db": ok, "redis": ok})(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	HealthReady("test", nil, map[string]Pinger{"db": ok, "redis": down})(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	var body types.ErrorEnvelope
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	details, _ := body.Error.Details.(map[string]any)
	failed, _ := details["failed"].([]any)
	if len(failed) != 1 || failed[0] != "redis" {
		t.Fatalf("expected redis to be reported, got %v", body.Error.Details)
	}
}
