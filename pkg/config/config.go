package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/mselser95/updown-pairs/pkg/types"
)

// Config holds all harness configuration.
type Config struct {
	// Application
	LogLevel string
	HTTPPort string

	// Polymarket API
	PolymarketWSURL    string
	PolymarketGammaURL string

	// Markets
	CryptoAssets          []string
	MarketType            string
	DiscoveryPollInterval time.Duration
	PreDiscoveryLead      time.Duration

	// Sampling
	SamplingMode    types.SamplingMode
	CycleInterval   time.Duration
	CyclesPerMarket int

	// Parameter sets under measurement. Parsed from the PARAMETER_SETS
	// JSON array, or from the single-set scalar variables when unset.
	ParameterSets []types.ParameterSet

	// Data capture
	EnableSnapshots         bool
	EnableLifecycleTracking bool

	// Quality
	FeedGapThreshold      time.Duration
	MaxRefSumDeviation    int
	MaxAnomaliesPerMarket int
	InitialBookTimeout    time.Duration

	// WebSocket
	WSDialTimeout           time.Duration
	WSPongTimeout           time.Duration
	WSPingInterval          time.Duration
	WSReconnectInitialDelay time.Duration
	WSReconnectMaxDelay     time.Duration
	WSReconnectBackoffMult  float64
	WSMessageBufferSize     int

	// Storage
	StorageMode  string // "postgres" or "console"
	PostgresHost string
	PostgresPort string
	PostgresUser string
	PostgresPass string
	PostgresDB   string
	PostgresSSL  string

	// Write guard
	StorageBreakerThreshold int
	StorageBreakerCooldown  time.Duration
}

// parameterSetSpec is the JSON shape accepted in PARAMETER_SETS.
type parameterSetSpec struct {
	Name                    string `json:"name"`
	S0Points                int    `json:"s0_points"`
	DeltaPoints             int    `json:"delta_points"`
	TriggerRule             string `json:"trigger_rule"`
	ReferencePriceSource    string `json:"reference_price_source"`
	StopLossThresholdPoints int    `json:"stop_loss_threshold_points"`
}

// LoadFromEnv loads configuration from environment variables with defaults.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		// Application defaults
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
		HTTPPort: getEnvOrDefault("HTTP_PORT", "8080"),

		// Polymarket API defaults
		PolymarketWSURL:    getEnvOrDefault("POLYMARKET_WS_URL", "wss://ws-subscriptions-clob.polymarket.com/ws/market"),
		PolymarketGammaURL: getEnvOrDefault("POLYMARKET_GAMMA_API_URL", "https://gamma-api.polymarket.com"),

		// Market defaults
		CryptoAssets:          splitAndTrim(getEnvOrDefault("CRYPTO_ASSETS", "btc")),
		MarketType:            getEnvOrDefault("MARKET_TYPE", "15m"),
		DiscoveryPollInterval: getDurationOrDefault("DISCOVERY_POLL_INTERVAL", 60*time.Second),
		PreDiscoveryLead:      getDurationOrDefault("PRE_DISCOVERY_LEAD", 120*time.Second),

		// Sampling defaults
		SamplingMode:    types.SamplingMode(getEnvOrDefault("SAMPLING_MODE", string(types.SamplingFixedInterval))),
		CycleInterval:   getDurationOrDefault("CYCLE_INTERVAL", 10*time.Second),
		CyclesPerMarket: getIntOrDefault("CYCLES_PER_MARKET", 90),

		// Data capture defaults
		EnableSnapshots:         getBoolOrDefault("ENABLE_SNAPSHOTS", false),
		EnableLifecycleTracking: getBoolOrDefault("ENABLE_LIFECYCLE_TRACKING", false),

		// Quality defaults
		FeedGapThreshold:      getDurationOrDefault("FEED_GAP_THRESHOLD", 10*time.Second),
		MaxRefSumDeviation:    getIntOrDefault("MAX_REF_SUM_DEVIATION", 2),
		MaxAnomaliesPerMarket: getIntOrDefault("MAX_ANOMALIES_PER_MARKET", 50),
		InitialBookTimeout:    getDurationOrDefault("INITIAL_BOOK_TIMEOUT", 15*time.Second),

		// WebSocket defaults
		WSDialTimeout:           getDurationOrDefault("WS_DIAL_TIMEOUT", 10*time.Second),
		WSPongTimeout:           getDurationOrDefault("WS_PONG_TIMEOUT", 15*time.Second),
		WSPingInterval:          getDurationOrDefault("WS_PING_INTERVAL", 10*time.Second),
		WSReconnectInitialDelay: getDurationOrDefault("WS_RECONNECT_INITIAL_DELAY", 1*time.Second),
		WSReconnectMaxDelay:     getDurationOrDefault("WS_RECONNECT_MAX_DELAY", 60*time.Second),
		WSReconnectBackoffMult:  getFloat64OrDefault("WS_RECONNECT_BACKOFF_MULTIPLIER", 2.0),
		WSMessageBufferSize:     getIntOrDefault("WS_MESSAGE_BUFFER_SIZE", 1000),

		// Storage defaults
		StorageMode:  getEnvOrDefault("STORAGE_MODE", "console"),
		PostgresHost: getEnvOrDefault("POSTGRES_HOST", "localhost"),
		PostgresPort: getEnvOrDefault("POSTGRES_PORT", "5432"),
		PostgresUser: getEnvOrDefault("POSTGRES_USER", "updown"),
		PostgresPass: getEnvOrDefault("POSTGRES_PASSWORD", "updown123"),
		PostgresDB:   getEnvOrDefault("POSTGRES_DB", "updown_pairs"),
		PostgresSSL:  getEnvOrDefault("POSTGRES_SSLMODE", "disable"),

		// Write guard defaults
		StorageBreakerThreshold: getIntOrDefault("STORAGE_BREAKER_THRESHOLD", 5),
		StorageBreakerCooldown:  getDurationOrDefault("STORAGE_BREAKER_COOLDOWN", 30*time.Second),
	}

	paramSets, err := parseParameterSets()
	if err != nil {
		return nil, fmt.Errorf("parse parameter sets: %w", err)
	}
	cfg.ParameterSets = paramSets

	err = cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// parseParameterSets reads the PARAMETER_SETS JSON array, falling back to a
// single set built from the scalar S0_POINTS/DELTA_POINTS/... variables.
func parseParameterSets() ([]types.ParameterSet, error) {
	raw := os.Getenv("PARAMETER_SETS")
	if raw == "" {
		return []types.ParameterSet{{
			Name:                    getEnvOrDefault("PARAMETER_SET_NAME", "default"),
			S0Points:                getIntOrDefault("S0_POINTS", 1),
			DeltaPoints:             getIntOrDefault("DELTA_POINTS", 5),
			TriggerRule:             types.TriggerRule(getEnvOrDefault("TRIGGER_RULE", string(types.TriggerAskTouch))),
			ReferencePriceSource:    types.ReferencePriceSource(getEnvOrDefault("REFERENCE_PRICE_SOURCE", string(types.ReferenceMidpoint))),
			StopLossThresholdPoints: getIntOrDefault("STOP_LOSS_POINTS", 0),
		}}, nil
	}

	var specs []parameterSetSpec
	err := json.Unmarshal([]byte(raw), &specs)
	if err != nil {
		return nil, fmt.Errorf("unmarshal PARAMETER_SETS: %w", err)
	}

	sets := make([]types.ParameterSet, 0, len(specs))
	for _, spec := range specs {
		ps := types.ParameterSet{
			Name:                    spec.Name,
			S0Points:                spec.S0Points,
			DeltaPoints:             spec.DeltaPoints,
			TriggerRule:             types.TriggerRule(spec.TriggerRule),
			ReferencePriceSource:    types.ReferencePriceSource(spec.ReferencePriceSource),
			StopLossThresholdPoints: spec.StopLossThresholdPoints,
		}
		if ps.TriggerRule == "" {
			ps.TriggerRule = types.TriggerAskTouch
		}
		if ps.ReferencePriceSource == "" {
			ps.ReferencePriceSource = types.ReferenceMidpoint
		}
		sets = append(sets, ps)
	}

	return sets, nil
}

// Validate checks that configuration values are valid.
func (c *Config) Validate() error {
	if c.HTTPPort == "" {
		return fmt.Errorf("HTTP_PORT cannot be empty")
	}

	if c.PolymarketWSURL == "" {
		return fmt.Errorf("POLYMARKET_WS_URL cannot be empty")
	}

	if c.PolymarketGammaURL == "" {
		return fmt.Errorf("POLYMARKET_GAMMA_API_URL cannot be empty")
	}

	if len(c.CryptoAssets) == 0 {
		return fmt.Errorf("CRYPTO_ASSETS cannot be empty")
	}

	if c.SamplingMode != types.SamplingFixedInterval && c.SamplingMode != types.SamplingFixedCount {
		return fmt.Errorf("SAMPLING_MODE must be FIXED_INTERVAL or FIXED_COUNT, got %q", c.SamplingMode)
	}

	if c.CycleInterval <= 0 {
		return fmt.Errorf("CYCLE_INTERVAL must be > 0, got %v", c.CycleInterval)
	}

	if c.CyclesPerMarket <= 0 {
		return fmt.Errorf("CYCLES_PER_MARKET must be > 0, got %d", c.CyclesPerMarket)
	}

	if len(c.ParameterSets) == 0 {
		return fmt.Errorf("at least one parameter set is required")
	}

	for i := range c.ParameterSets {
		err := c.ParameterSets[i].Validate()
		if err != nil {
			return fmt.Errorf("parameter set %d: %w", i, err)
		}
	}

	if c.StorageMode != "postgres" && c.StorageMode != "console" {
		return fmt.Errorf("STORAGE_MODE must be 'postgres' or 'console', got %q", c.StorageMode)
	}

	if c.StorageBreakerThreshold < 1 {
		return fmt.Errorf("STORAGE_BREAKER_THRESHOLD must be >= 1, got %d", c.StorageBreakerThreshold)
	}

	return nil
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvOrDefault(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getFloat64OrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatVal, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}

	return floatVal
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}

	return boolVal
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}

	return duration
}
