package config

import (
	"strings"
	"testing"
	"time"

	"github.com/subweave/subweave/internal/validate"
)

// setEnvs sets multiple env vars with automatic cleanup.
func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

func TestLoadEnvConfig_Defaults(t *testing.T) {
	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assertEqual(t, "SubscriptionsFile", cfg.SubscriptionsFile, "subscriptions.txt")
	assertEqual(t, "StateDir", cfg.StateDir, "state")
	assertEqual(t, "OutputDir", cfg.OutputDir, "output")

	assertEqual(t, "FetchTimeout", cfg.FetchTimeout, 45*time.Second)
	assertEqual(t, "FetchConcurrency", cfg.FetchConcurrency, 8)
	assertEqual(t, "TLSVerify", cfg.TLSVerify, false)

	assertEqual(t, "TCPProbeTimeout", cfg.TCPProbeTimeout, 8*time.Second)
	assertEqual(t, "BatchSize", cfg.BatchSize, 20)
	assertEqual(t, "BatchDelay", cfg.BatchDelay, 500*time.Millisecond)
	assertEqual(t, "MaxLatencyMS", cfg.MaxLatencyMS, 2000)
	assertEqual(t, "MaxOutputNodes", cfg.MaxOutputNodes, 100)
	assertEqual(t, "ValidationMode", cfg.ValidationMode, validate.ModeStrict)

	assertEqual(t, "RunDeadline", cfg.RunDeadline, time.Duration(0))
	assertEqual(t, "RunSchedule", cfg.RunSchedule, "")
	assertEqual(t, "MiniNodes", cfg.MiniNodes, 20)
	assertEqual(t, "SelectorSeedSet", cfg.SelectorSeedSet, false)
}

func TestLoadEnvConfig_Overrides(t *testing.T) {
	setEnvs(t, map[string]string{
		"SUBSCRIPTION_FETCH_TIMEOUT_S": "10",
		"TCP_PROBE_TIMEOUT_S":          "3",
		"BATCH_SIZE":                   "50",
		"BATCH_DELAY_S":                "0.01",
		"MAX_LATENCY_MS":               "1500",
		"MAX_OUTPUT_NODES":             "40",
		"VALIDATION_MODE":              "lenient",
		"SUBWEAVE_TLS_VERIFY":          "true",
		"SUBWEAVE_SELECTOR_SEED":       "12345",
		"SUBWEAVE_RUN_SCHEDULE":        "0 */6 * * *",
	})

	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertEqual(t, "FetchTimeout", cfg.FetchTimeout, 10*time.Second)
	assertEqual(t, "TCPProbeTimeout", cfg.TCPProbeTimeout, 3*time.Second)
	assertEqual(t, "BatchSize", cfg.BatchSize, 50)
	assertEqual(t, "BatchDelay", cfg.BatchDelay, 10*time.Millisecond)
	assertEqual(t, "MaxLatencyMS", cfg.MaxLatencyMS, 1500)
	assertEqual(t, "MaxOutputNodes", cfg.MaxOutputNodes, 40)
	assertEqual(t, "ValidationMode", cfg.ValidationMode, validate.ModeLenient)
	assertEqual(t, "TLSVerify", cfg.TLSVerify, true)
	assertEqual(t, "SelectorSeed", cfg.SelectorSeed, uint64(12345))
	assertEqual(t, "SelectorSeedSet", cfg.SelectorSeedSet, true)
	assertEqual(t, "RunSchedule", cfg.RunSchedule, "0 */6 * * *")
}

func TestLoadEnvConfig_InvalidValues(t *testing.T) {
	cases := []struct {
		name string
		envs map[string]string
		want string
	}{
		{"bad int", map[string]string{"BATCH_SIZE": "lots"}, "BATCH_SIZE: invalid integer"},
		{"batch too large", map[string]string{"BATCH_SIZE": "500"}, "at most 200"},
		{"negative delay", map[string]string{"BATCH_DELAY_S": "-1"}, "BATCH_DELAY_S"},
		{"bad mode", map[string]string{"VALIDATION_MODE": "fast"}, "VALIDATION_MODE"},
		{"bad cron", map[string]string{"SUBWEAVE_RUN_SCHEDULE": "whenever"}, "SUBWEAVE_RUN_SCHEDULE"},
		{"bad seed", map[string]string{"SUBWEAVE_SELECTOR_SEED": "-3"}, "SUBWEAVE_SELECTOR_SEED"},
		{"zero latency", map[string]string{"MAX_LATENCY_MS": "0"}, "MAX_LATENCY_MS"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			setEnvs(t, c.envs)
			_, err := LoadEnvConfig()
			if err == nil {
				t.Fatal("expected error")
			}
			assertContains(t, err.Error(), c.want)
		})
	}
}

func assertEqual[T comparable](t *testing.T, name string, got, want T) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %v, want %v", name, got, want)
	}
}

func assertContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("error %q does not contain %q", s, substr)
	}
}
