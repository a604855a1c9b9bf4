// Package config handles environment-based configuration loading.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/subweave/subweave/internal/validate"
)

// EnvConfig holds all environment-variable-driven settings.
type EnvConfig struct {
	// Files and directories
	SubscriptionsFile string
	StateDir          string
	OutputDir         string

	// Fetcher
	FetchTimeout     time.Duration
	FetchConcurrency int
	TLSVerify        bool

	// Validator
	TCPProbeTimeout time.Duration
	BatchSize       int
	BatchDelay      time.Duration
	MaxLatencyMS    int
	MaxOutputNodes  int
	ValidationMode  validate.Mode

	// Run control
	RunDeadline time.Duration // zero means no deadline
	RunSchedule string        // cron expression; empty means one-shot
	MiniNodes   int

	// Renamer
	GeoIPDB string // mmdb path; empty disables renaming

	// Selector
	SelectorSeed    uint64
	SelectorSeedSet bool
}

// LoadEnvConfig reads environment variables and returns a validated
// EnvConfig. Returns an error if any value is invalid.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	// --- Files and directories ---
	cfg.SubscriptionsFile = envStr("SUBWEAVE_SUBSCRIPTIONS_FILE", "subscriptions.txt")
	cfg.StateDir = envStr("SUBWEAVE_STATE_DIR", "state")
	cfg.OutputDir = envStr("SUBWEAVE_OUTPUT_DIR", "output")

	// --- Fetcher ---
	cfg.FetchTimeout = time.Duration(envInt("SUBSCRIPTION_FETCH_TIMEOUT_S", 45, &errs)) * time.Second
	cfg.FetchConcurrency = envInt("SUBWEAVE_FETCH_CONCURRENCY", 8, &errs)
	cfg.TLSVerify = envBool("SUBWEAVE_TLS_VERIFY", false, &errs)

	// --- Validator ---
	cfg.TCPProbeTimeout = time.Duration(envInt("TCP_PROBE_TIMEOUT_S", 8, &errs)) * time.Second
	cfg.BatchSize = envInt("BATCH_SIZE", 20, &errs)
	cfg.BatchDelay = time.Duration(envFloat("BATCH_DELAY_S", 0.5, &errs) * float64(time.Second))
	cfg.MaxLatencyMS = envInt("MAX_LATENCY_MS", 2000, &errs)
	cfg.MaxOutputNodes = envInt("MAX_OUTPUT_NODES", 100, &errs)
	cfg.ValidationMode = validate.Mode(envStr("VALIDATION_MODE", string(validate.ModeStrict)))

	// --- Run control ---
	cfg.RunDeadline = time.Duration(envInt("SUBWEAVE_RUN_DEADLINE_S", 0, &errs)) * time.Second
	cfg.RunSchedule = strings.TrimSpace(envStr("SUBWEAVE_RUN_SCHEDULE", ""))
	cfg.MiniNodes = envInt("SUBWEAVE_MINI_OUTPUT_NODES", 20, &errs)

	// --- Renamer ---
	cfg.GeoIPDB = strings.TrimSpace(envStr("SUBWEAVE_GEOIP_DB", ""))

	// --- Selector ---
	if v := os.Getenv("SUBWEAVE_SELECTOR_SEED"); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("SUBWEAVE_SELECTOR_SEED: invalid integer %q", v))
		} else {
			cfg.SelectorSeed = seed
			cfg.SelectorSeedSet = true
		}
	}

	// --- Validation ---
	if cfg.FetchTimeout <= 0 {
		errs = append(errs, "SUBSCRIPTION_FETCH_TIMEOUT_S must be positive")
	}
	validatePositive("SUBWEAVE_FETCH_CONCURRENCY", cfg.FetchConcurrency, &errs)
	if cfg.TCPProbeTimeout <= 0 {
		errs = append(errs, "TCP_PROBE_TIMEOUT_S must be positive")
	}
	validatePositive("BATCH_SIZE", cfg.BatchSize, &errs)
	if cfg.BatchSize > 200 {
		errs = append(errs, fmt.Sprintf("BATCH_SIZE: must be at most 200, got %d", cfg.BatchSize))
	}
	if cfg.BatchDelay < 0 {
		errs = append(errs, "BATCH_DELAY_S must not be negative")
	}
	validatePositive("MAX_LATENCY_MS", cfg.MaxLatencyMS, &errs)
	validatePositive("MAX_OUTPUT_NODES", cfg.MaxOutputNodes, &errs)
	validatePositive("SUBWEAVE_MINI_OUTPUT_NODES", cfg.MiniNodes, &errs)
	if cfg.RunDeadline < 0 {
		errs = append(errs, "SUBWEAVE_RUN_DEADLINE_S must not be negative")
	}
	if cfg.ValidationMode != validate.ModeStrict && cfg.ValidationMode != validate.ModeLenient {
		errs = append(errs, fmt.Sprintf(
			"VALIDATION_MODE: invalid value %q (allowed: %s, %s)",
			cfg.ValidationMode, validate.ModeStrict, validate.ModeLenient,
		))
	}
	if cfg.RunSchedule != "" {
		if _, err := cron.ParseStandard(cfg.RunSchedule); err != nil {
			errs = append(errs, fmt.Sprintf("SUBWEAVE_RUN_SCHEDULE: invalid cron expression %q: %v", cfg.RunSchedule, err))
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}

	return cfg, nil
}

// --- helpers ---

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envFloat(key string, defaultVal float64, errs *[]string) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid number %q", key, v))
		return defaultVal
	}
	return f
}

func envBool(key string, defaultVal bool, errs *[]string) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid boolean %q", key, v))
		return defaultVal
	}
	return b
}

func validatePositive(name string, value int, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %d", name, value))
	}
}
