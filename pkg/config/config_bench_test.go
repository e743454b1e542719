package config

import (
	"os"
	"testing"
	"time"

	"github.com/mselser95/updown-pairs/pkg/types"
)

// BenchmarkConfig_Validate benchmarks configuration validation
func BenchmarkConfig_Validate(b *testing.B) {
	cfg := &Config{
		HTTPPort:                "8080",
		PolymarketWSURL:         "wss://ws-subscriptions-clob.polymarket.com/ws/market",
		PolymarketGammaURL:      "https://gamma-api.polymarket.com",
		CryptoAssets:            []string{"btc", "eth"},
		SamplingMode:            types.SamplingFixedInterval,
		CycleInterval:           10 * time.Second,
		CyclesPerMarket:         90,
		ParameterSets:           []types.ParameterSet{{Name: "default", S0Points: 1, DeltaPoints: 5, TriggerRule: types.TriggerAskTouch, ReferencePriceSource: types.ReferenceMidpoint}},
		StorageMode:             "console",
		StorageBreakerThreshold: 5,
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = cfg.Validate()
	}
}

// BenchmarkConfig_LoadFromEnv benchmarks environment variable loading
func BenchmarkConfig_LoadFromEnv(b *testing.B) {
	// Set test environment variables
	os.Setenv("CRYPTO_ASSETS", "btc,eth")
	os.Setenv("CYCLE_INTERVAL", "10s")
	os.Setenv("CYCLES_PER_MARKET", "90")
	os.Setenv("STOP_LOSS_POINTS", "7")
	defer func() {
		os.Unsetenv("CRYPTO_ASSETS")
		os.Unsetenv("CYCLE_INTERVAL")
		os.Unsetenv("CYCLES_PER_MARKET")
		os.Unsetenv("STOP_LOSS_POINTS")
	}()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = LoadFromEnv()
	}
}
