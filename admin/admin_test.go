package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alfred-ai/feedpull/observability"
	"github.com/alfred-ai/feedpull/pulling"
	"github.com/rs/zerolog"
)

func newTestEngine() *pulling.PullingEngine {
	engine := pulling.NewPullingEngine(zerolog.Nop(), pulling.DefaultEngineConfig(), nil)
	engine.Start(context.Background())
	return engine
}

func TestHealthzReportsOK(t *testing.T) {
	router := NewRouter(Deps{}, zerolog.Nop())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status=ok, got %v", body)
	}
}

func TestCORSPreflightIsHandled(t *testing.T) {
	router := NewRouter(Deps{}, zerolog.Nop())
	req := httptest.NewRequest(http.MethodOptions, "/healthz", nil)
	req.Header.Set("Origin", "https://example.invalid")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for an OPTIONS preflight, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://example.invalid" {
		t.Fatalf("expected the origin to be echoed back, got %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestSecurityHeadersArePresent(t *testing.T) {
	router := NewRouter(Deps{}, zerolog.Nop())
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("expected nosniff header, got %q", rec.Header().Get("X-Content-Type-Options"))
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected a generated X-Request-ID header")
	}
}

func TestMetricsEndpointOmittedWithoutMetrics(t *testing.T) {
	router := NewRouter(Deps{}, zerolog.Nop())
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected /metrics to 404 when no Metrics dep is wired, got %d", rec.Code)
	}
}

func TestMetricsEndpointServesPrometheusText(t *testing.T) {
	m := observability.NewMetrics(zerolog.Nop())
	m.TrackPull("medium", 200, 12.5, "success")
	router := NewRouter(Deps{Metrics: m}, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("feedpull_requests_total")) {
		t.Fatalf("expected the exported counter in the response body, got %q", rec.Body.String())
	}
}

func TestSubmitFeedRejectsWithoutEngine(t *testing.T) {
	router := NewRouter(Deps{}, zerolog.Nop())
	body, _ := json.Marshal(submitRequest{URL: "/", Host: "example.invalid", Port: 80})
	req := httptest.NewRequest(http.MethodPost, "/admin/feeds", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when no engine is wired, got %d", rec.Code)
	}
}

func TestSubmitFeedAcceptsValidRequest(t *testing.T) {
	engine := newTestEngine()
	router := NewRouter(Deps{Engine: engine}, zerolog.Nop())

	body, _ := json.Marshal(submitRequest{URL: "/feed", Host: "example.invalid", Port: 80, Priority: pulling.Medium, Tag: "t1"})
	req := httptest.NewRequest(http.MethodPost, "/admin/feeds", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["fingerprint"] == "" {
		t.Fatal("expected a non-empty fingerprint in the response")
	}
}

func TestSubmitFeedRejectsDuplicate(t *testing.T) {
	engine := newTestEngine()
	router := NewRouter(Deps{Engine: engine}, zerolog.Nop())

	body, _ := json.Marshal(submitRequest{URL: "/feed", Host: "example.invalid", Port: 80, Priority: pulling.Medium, Tag: "dup"})

	first := httptest.NewRequest(http.MethodPost, "/admin/feeds", bytes.NewReader(body))
	rec1 := httptest.NewRecorder()
	router.ServeHTTP(rec1, first)
	if rec1.Code != http.StatusAccepted {
		t.Fatalf("expected first submission to be accepted, got %d", rec1.Code)
	}

	second := httptest.NewRequest(http.MethodPost, "/admin/feeds", bytes.NewReader(body))
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, second)
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected duplicate submission to be rejected with 429, got %d", rec2.Code)
	}
}

func TestSubmitFeedRejectsMalformedBody(t *testing.T) {
	engine := newTestEngine()
	router := NewRouter(Deps{Engine: engine}, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/admin/feeds", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed JSON, got %d", rec.Code)
	}
}

func TestStatsEndpointReportsWiredCollaborators(t *testing.T) {
	engine := newTestEngine()
	router := NewRouter(Deps{
		Engine:   engine,
		Registry: func() int { return 3 },
		Queue:    func() int { return 7 },
	}, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var stats map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("failed to decode stats body: %v", err)
	}
	if stats["registry_size"].(float64) != 3 {
		t.Fatalf("expected registry_size=3, got %v", stats["registry_size"])
	}
	if stats["queue_depth"].(float64) != 7 {
		t.Fatalf("expected queue_depth=7, got %v", stats["queue_depth"])
	}
	if _, ok := stats["dispatcher"]; !ok {
		t.Fatal("expected dispatcher stats to be present when an engine is wired")
	}
}
