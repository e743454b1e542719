package app

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mselser95/updown-pairs/pkg/config"
	"github.com/mselser95/updown-pairs/pkg/types"
)

// newGammaStub serves an empty event list for every query, so discovery
// keeps missing and managers stay in their retry loop.
func newGammaStub(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("[]"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(gammaURL string) *config.Config {
	return &config.Config{
		LogLevel:              "info",
		HTTPPort:              "0",
		PolymarketWSURL:       "wss://stub.invalid/ws",
		PolymarketGammaURL:    gammaURL,
		CryptoAssets:          []string{"btc", "eth"},
		MarketType:            "15m",
		DiscoveryPollInterval: 60 * time.Second,
		PreDiscoveryLead:      2 * time.Minute,
		SamplingMode:          types.SamplingFixedInterval,
		CycleInterval:         10 * time.Second,
		ParameterSets: []types.ParameterSet{
			{Name: "s1-d5", S0Points: 1, DeltaPoints: 5},
			{Name: "s2-d4-sl10", S0Points: 2, DeltaPoints: 4, StopLossThresholdPoints: 10},
		},
		FeedGapThreshold:        10 * time.Second,
		MaxRefSumDeviation:      2,
		MaxAnomaliesPerMarket:   50,
		InitialBookTimeout:      time.Second,
		StorageMode:             "console",
		StorageBreakerThreshold: 3,
		StorageBreakerCooldown:  time.Minute,
	}
}

func newTestApp(t *testing.T, cfg *config.Config, opts *Options) *App {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	a, err := New(cfg, logger, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(a.cancel)
	return a
}

func TestNewWiresComponents(t *testing.T) {
	stub := newGammaStub(t)
	a := newTestApp(t, testConfig(stub.URL), nil)

	if a.runID == "" {
		t.Error("run id not assigned")
	}
	if a.httpServer == nil || a.store == nil || a.breaker == nil || a.marketCache == nil {
		t.Error("component wiring incomplete")
	}
	if len(a.managers) != 2 {
		t.Fatalf("managers = %d, want one per asset", len(a.managers))
	}
	if got := a.managers[0].Status().Asset; got != "btc" {
		t.Errorf("first manager asset = %s, want btc", got)
	}
}

func TestNewSingleMarketDerivesAsset(t *testing.T) {
	stub := newGammaStub(t)
	a := newTestApp(t, testConfig(stub.URL), &Options{SingleMarket: "eth-updown-15m-1760000400"})

	if len(a.managers) != 1 {
		t.Fatalf("managers = %d, want 1", len(a.managers))
	}
	if got := a.managers[0].Status().Asset; got != "eth" {
		t.Errorf("manager asset = %s, want eth", got)
	}
}

func TestNewRejectsMalformedSingleMarket(t *testing.T) {
	stub := newGammaStub(t)
	logger, _ := zap.NewDevelopment()

	_, err := New(testConfig(stub.URL), logger, &Options{SingleMarket: "noise"})
	if err == nil {
		t.Fatal("expected error for slug without updown infix")
	}
}

func TestRegisterParameterSetsAssignsIDs(t *testing.T) {
	stub := newGammaStub(t)
	cfg := testConfig(stub.URL)
	a := newTestApp(t, cfg, nil)

	err := a.registerParameterSets()
	if err != nil {
		t.Fatalf("registerParameterSets: %v", err)
	}

	for i := range cfg.ParameterSets {
		if cfg.ParameterSets[i].ID == 0 {
			t.Errorf("parameter set %s has no id", cfg.ParameterSets[i].Name)
		}
	}
	if cfg.ParameterSets[0].ID == cfg.ParameterSets[1].ID {
		t.Error("parameter sets share an id")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	stub := newGammaStub(t)
	a := newTestApp(t, testConfig(stub.URL), nil)

	done := make(chan error, 1)
	go func() { done <- a.Run() }()

	// Let the HTTP server and managers spin up before pulling the plug.
	time.Sleep(300 * time.Millisecond)
	a.cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after context cancel")
	}
}
