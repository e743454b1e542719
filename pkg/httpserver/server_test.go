package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/mselser95/updown-pairs/internal/assets"
	"github.com/mselser95/updown-pairs/internal/circuitbreaker"
	"github.com/mselser95/updown-pairs/pkg/config"
	"github.com/mselser95/updown-pairs/pkg/healthprobe"
	"github.com/mselser95/updown-pairs/pkg/types"
)

// nullSource never resolves a window; the managers under test stay idle.
type nullSource struct{}

func (nullSource) FindMarket(context.Context, string, int64) (*types.Market, error) {
	return nil, nil
}

func (nullSource) FindMarketBySlug(context.Context, string, string) (*types.Market, error) {
	return nil, nil
}

func testManagers(t *testing.T) []*assets.Manager {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	mgr := assets.New(&assets.Config{
		Asset:         "btc",
		ParameterSets: []types.ParameterSet{{ID: 1, Name: "s1-d5"}},
		Discovery:     nullSource{},
		AppConfig:     &config.Config{},
		Logger:        logger,
	})
	return []*assets.Manager{mgr}
}

func testBreaker(t *testing.T) *circuitbreaker.WriteBreaker {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	breaker, err := circuitbreaker.New(&circuitbreaker.Config{
		Threshold: 3,
		Cooldown:  time.Minute,
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("create breaker: %v", err)
	}
	return breaker
}

func newTestServer(t *testing.T, mutate func(*Config)) (*Server, *healthprobe.HealthChecker) {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	checker := healthprobe.New()
	cfg := &Config{
		Port:          "0",
		Logger:        logger,
		HealthChecker: checker,
	}
	if mutate != nil {
		mutate(cfg)
	}
	return New(cfg), checker
}

func serve(s *Server, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w := serve(s, http.MethodGet, "/health")
	if w.Code != http.StatusOK {
		t.Errorf("GET /health = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "healthy") {
		t.Errorf("body = %s, want healthy status", w.Body.String())
	}
}

func TestReadyEndpointTracksReadiness(t *testing.T) {
	s, checker := newTestServer(t, nil)

	if w := serve(s, http.MethodGet, "/ready"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("GET /ready before ready = %d, want 503", w.Code)
	}

	checker.SetReady(true)
	if w := serve(s, http.MethodGet, "/ready"); w.Code != http.StatusOK {
		t.Errorf("GET /ready after ready = %d, want 200", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w := serve(s, http.MethodGet, "/metrics")
	if w.Code != http.StatusOK {
		t.Errorf("GET /metrics = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "# HELP") {
		t.Error("metrics body missing exposition format")
	}
}

func TestStatusEndpoint(t *testing.T) {
	started := time.Now().Add(-time.Minute)
	s, _ := newTestServer(t, func(cfg *Config) {
		cfg.RunID = "run-123"
		cfg.StartedAt = started
		cfg.Managers = testManagers(t)
		cfg.Breaker = testBreaker(t)
	})

	w := serve(s, http.MethodGet, "/api/status")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /api/status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %s, want application/json", ct)
	}

	var resp StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if resp.RunID != "run-123" {
		t.Errorf("run id = %s, want run-123", resp.RunID)
	}
	if resp.UptimeSeconds < 59 {
		t.Errorf("uptime = %v, want about a minute", resp.UptimeSeconds)
	}
	if len(resp.Assets) != 1 || resp.Assets[0].Asset != "btc" {
		t.Fatalf("assets = %+v, want one btc entry", resp.Assets)
	}
	if resp.Assets[0].State != "discovering" {
		t.Errorf("state = %s, want discovering", resp.Assets[0].State)
	}
	if resp.Storage == nil || resp.Storage.State != "closed" {
		t.Errorf("storage = %+v, want closed breaker", resp.Storage)
	}
}

func TestStatusEndpointDisabledWithoutManagers(t *testing.T) {
	s, _ := newTestServer(t, nil)

	if w := serve(s, http.MethodGet, "/api/status"); w.Code != http.StatusNotFound {
		t.Errorf("GET /api/status without managers = %d, want 404", w.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	s, _ := newTestServer(t, nil)

	if w := serve(s, http.MethodGet, "/nope"); w.Code != http.StatusNotFound {
		t.Errorf("GET /nope = %d, want 404", w.Code)
	}
}

func TestShutdownIdempotentBeforeStart(t *testing.T) {
	s, _ := newTestServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown before Start: %v", err)
	}
}
