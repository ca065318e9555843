// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads and validates the process environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/reasonloop/reasonloop/internal/secret"
)

// Config is the fully-resolved process configuration.
type Config struct {
	APIKey  secret.String
	BaseURL string
	DBPath  string
	Model   string
	LogLevel string

	StandardTimeout time.Duration
	DeepTimeout     time.Duration
	MaximumTimeout  time.Duration
	MaxRetries      int

	SelfImprovement SelfImprovementConfig

	// AllowlistOverridesPath optionally names a YAML file with operator
	// overrides for allowlist thresholds, loaded on top of env defaults.
	AllowlistOverridesPath string

	// MetricsAddr is the listen address for the Prometheus /metrics
	// endpoint exposed by `serve`.
	MetricsAddr string
}

// SelfImprovementConfig holds the self-improvement loop's operator knobs.
// Defaults and clamps follow the original implementation's constants.
type SelfImprovementConfig struct {
	RequireApproval         bool
	MinInvocationsForAnalysis int
	CycleInterval           time.Duration
	MaxActionsPerCycle      int
	CircuitBreakerThreshold int
	BaselineWatermark       int

	MinSuccessRate         float64
	ModeSuccessThreshold   float64
	MaxAvgLatencyMs        float64
	MaxActionsPerHour      int
	MaxExpectedImprovement float64
	ImprovementWeight      float64
	MaxLessons             int
}

const (
	defaultBaseURL   = "https://api.anthropic.com"
	defaultDBPath    = "reasonloop.db"
	defaultModel     = "claude-sonnet-4-20250514"
	defaultLogLevel  = "info"
	defaultStandard  = 30 * time.Second
	defaultDeep      = 60 * time.Second
	defaultMaximum   = 120 * time.Second
	defaultMaxRetries = 5
	defaultMetricsAddr = ":9090"

	defaultRequireApproval         = false
	defaultMinInvocations           = 10
	defaultCycleIntervalSecs        = 300
	minCycleIntervalSecs            = 30
	maxCycleIntervalSecs            = 3600
	defaultMaxActionsPerCycle       = 3
	maxActionsPerCycleCeiling       = 10
	defaultCircuitBreakerThreshold  = 3
	maxCircuitBreakerThresholdCeil  = 10
	defaultBaselineWatermark        = 100

	defaultMinSuccessRate         = 0.8
	defaultModeSuccessThreshold   = 0.75
	defaultMaxAvgLatencyMs        = 5000.0
	defaultMaxActionsPerHour      = 10
	defaultMaxExpectedImprovement = 0.5
	defaultImprovementWeight      = 0.7
	defaultMaxLessons             = 1000
)

// Load reads an optional .env / .env.local file then the process
// environment, returning a validated Config or an aggregated error.
func Load() (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, err
	}

	cfg := &Config{
		APIKey:          secret.New(os.Getenv("REASONLOOP_API_KEY")),
		BaseURL:         getEnvOr("REASONLOOP_BASE_URL", defaultBaseURL),
		DBPath:          getEnvOr("REASONLOOP_DB_PATH", defaultDBPath),
		Model:           getEnvOr("REASONLOOP_MODEL", defaultModel),
		LogLevel:        getEnvOr("REASONLOOP_LOG_LEVEL", defaultLogLevel),
		StandardTimeout: getEnvDurationMsOr("REASONLOOP_TIMEOUT_STANDARD_MS", defaultStandard),
		DeepTimeout:     getEnvDurationMsOr("REASONLOOP_TIMEOUT_DEEP_MS", defaultDeep),
		MaximumTimeout:  getEnvDurationMsOr("REASONLOOP_TIMEOUT_MAXIMUM_MS", defaultMaximum),
		MaxRetries:      getEnvIntOr("REASONLOOP_MAX_RETRIES", defaultMaxRetries),

		AllowlistOverridesPath: getEnvOr("SI_ALLOWLIST_OVERRIDES_PATH", ""),
		MetricsAddr:            getEnvOr("REASONLOOP_METRICS_ADDR", defaultMetricsAddr),
	}

	cfg.SelfImprovement = SelfImprovementConfig{
		RequireApproval:           getEnvBoolOr("SI_REQUIRE_APPROVAL", defaultRequireApproval),
		MinInvocationsForAnalysis: getEnvIntOr("SI_MIN_INVOCATIONS", defaultMinInvocations),
		CycleInterval:             clampDuration(getEnvIntOr("SI_CYCLE_INTERVAL_SECS", defaultCycleIntervalSecs), minCycleIntervalSecs, maxCycleIntervalSecs),
		MaxActionsPerCycle:        clampInt(getEnvIntOr("SI_MAX_ACTIONS_PER_CYCLE", defaultMaxActionsPerCycle), 1, maxActionsPerCycleCeiling),
		CircuitBreakerThreshold:   clampInt(getEnvIntOr("SI_CIRCUIT_BREAKER_THRESHOLD", defaultCircuitBreakerThreshold), 1, maxCircuitBreakerThresholdCeil),
		BaselineWatermark:         getEnvIntOr("SI_BASELINE_WATERMARK", defaultBaselineWatermark),

		MinSuccessRate:         getEnvFloatOr("SI_MIN_SUCCESS_RATE", defaultMinSuccessRate),
		ModeSuccessThreshold:   getEnvFloatOr("SI_MODE_SUCCESS_THRESHOLD", defaultModeSuccessThreshold),
		MaxAvgLatencyMs:        getEnvFloatOr("SI_MAX_AVG_LATENCY_MS", defaultMaxAvgLatencyMs),
		MaxActionsPerHour:      getEnvIntOr("SI_MAX_ACTIONS_PER_HOUR", defaultMaxActionsPerHour),
		MaxExpectedImprovement: getEnvFloatOr("SI_MAX_EXPECTED_IMPROVEMENT", defaultMaxExpectedImprovement),
		ImprovementWeight:      getEnvFloatOr("SI_IMPROVEMENT_WEIGHT", defaultImprovementWeight),
		MaxLessons:             getEnvIntOr("SI_MAX_LESSONS", defaultMaxLessons),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants from spec.md's "Environment
// configuration" section, returning every violation joined together.
func (c *Config) Validate() error {
	var errs []string

	if c.APIKey.Empty() {
		errs = append(errs, "REASONLOOP_API_KEY must not be empty")
	}
	for name, d := range map[string]time.Duration{
		"standard": c.StandardTimeout,
		"deep":     c.DeepTimeout,
		"maximum":  c.MaximumTimeout,
	} {
		ms := d.Milliseconds()
		if ms < 1000 || ms > 300000 {
			errs = append(errs, fmt.Sprintf("%s timeout must be within [1000, 300000]ms, got %dms", name, ms))
		}
	}
	if c.MaxRetries > 10 {
		errs = append(errs, fmt.Sprintf("max retries must be <= 10, got %d", c.MaxRetries))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

func loadEnvFiles() error {
	for _, f := range []string{".env.local", ".env"} {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBoolOr(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvFloatOr(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDurationMsOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampDuration(secs, lo, hi int) time.Duration {
	return time.Duration(clampInt(secs, lo, hi)) * time.Second
}
