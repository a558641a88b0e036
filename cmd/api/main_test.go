package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"payhook/internal/app"
	"payhook/internal/billing"
	"payhook/internal/config"
	"payhook/internal/ledger"
	"payhook/internal/metrics"
	"payhook/internal/webhook"
)

const testSecret = "whsec_api_test"

func buildTestServer(t *testing.T) (http.Handler, *ledger.MemoryStore) {
	t.Helper()

	cfg := &config.Config{}
	cfg.Server.RequestTimeout = 5 * time.Second
	cfg.Webhook.SigningSecret = testSecret
	cfg.Webhook.Tolerance = webhook.DefaultTolerance
	cfg.Webhook.MaxBodyBytes = 64 * 1024

	catalog, err := billing.NewPriceCatalog(nil, nil)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	store := ledger.NewMemoryStore()
	mutators := billing.NewMutators(billing.NewMemoryStore(), catalog, nil)
	pipeline := &app.Pipeline{
		Processor: webhook.NewProcessor(store, webhook.NewRouter(mutators), nil),
		Metrics:   metrics.Noop{},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := buildServer(cfg, pipeline, logger)
	if err != nil {
		t.Fatalf("buildServer: %v", err)
	}
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv.Handler(), store
}

func TestHealthEndpoint(t *testing.T) {
	h, _ := buildTestServer(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestWebhookRouteMounted(t *testing.T) {
	h, store := buildTestServer(t)

	body := []byte(`{"id":"evt_api_1","type":"charge.refunded","created":1714564800,"data":{"object":{"id":"ch_1"}}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	req.Header.Set(webhook.SignatureHeader, webhook.Sign(body, testSecret, time.Now()))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "ignored" {
		t.Errorf("expected ignored, got %v", resp["status"])
	}
	if got := store.Creates(); got != 1 {
		t.Errorf("expected one ledger record, got %d", got)
	}
}

func TestUnsignedWebhookRejected(t *testing.T) {
	h, store := buildTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader([]byte(`{"id":"evt_x"}`)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if got := store.Creates(); got != 0 {
		t.Errorf("expected no ledger writes, got %d", got)
	}
}

func TestNewLogger(t *testing.T) {
	ctx := context.Background()
	if !newLogger("debug").Enabled(ctx, slog.LevelDebug) {
		t.Error("debug level should enable debug")
	}
	if newLogger("bogus").Enabled(ctx, slog.LevelDebug) {
		t.Error("unknown level should fall back to info")
	}
	if newLogger("error").Enabled(ctx, slog.LevelWarn) {
		t.Error("error level should suppress warn")
	}
}
