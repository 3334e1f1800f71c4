package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want :8080", cfg.BindAddr)
	}
	if cfg.HandoffSettleDelay != 800*time.Millisecond {
		t.Fatalf("HandoffSettleDelay = %v, want 800ms", cfg.HandoffSettleDelay)
	}
	if cfg.UseGemini() {
		t.Fatalf("UseGemini() = true without an API key")
	}
	if !cfg.LeadsRedactPII || len(cfg.KafkaBrokers) != 0 {
		t.Fatalf("unexpected leads defaults: %+v", cfg)
	}
}

func TestLoadPicksGeminiWhenKeyPresent(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("GEMINI_API_KEY", " key-123 ")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.GeminiAPIKey != "key-123" || !cfg.UseGemini() {
		t.Fatalf("GeminiAPIKey = %q UseGemini = %v", cfg.GeminiAPIKey, cfg.UseGemini())
	}
	if strings.Join(cfg.KafkaBrokers, "|") != "k1:9092|k2:9092" {
		t.Fatalf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
}

func TestLoadFallsBackToLegacyAPIKey(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("API_KEY", "legacy")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.GeminiAPIKey != "legacy" {
		t.Fatalf("GeminiAPIKey = %q, want legacy", cfg.GeminiAPIKey)
	}
}

func TestLoadMockOverridesKey(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("GEMINI_API_KEY", "key")
	t.Setenv("LIVE_PROVIDER", "MOCK")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.UseGemini() {
		t.Fatalf("UseGemini() = true with LIVE_PROVIDER=mock")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"LIVE_PROVIDER":                  "openai",
		"APP_SESSION_INACTIVITY_TIMEOUT": "1s",
		"HANDOFF_SETTLE_DELAY":           "soon",
		"CAPTURE_SEND_QUEUE":             "0",
		"LEADS_REDACT_PII":               "maybe",
		"LOG_FORMAT":                     "xml",
	}
	for key, value := range cases {
		setCoreEnvEmpty(t)
		t.Setenv(key, value)
		if _, err := Load(); err == nil {
			t.Fatalf("Load() with %s=%q expected error", key, value)
		}
	}

	setCoreEnvEmpty(t)
	t.Setenv("LIVE_PROVIDER", "gemini")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() with gemini provider and no key expected error")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_SESSION_INACTIVITY_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_ADMIN_TOKEN",
		"LOG_LEVEL",
		"LOG_FORMAT",
		"LIVE_PROVIDER",
		"GEMINI_API_KEY",
		"API_KEY",
		"GEMINI_LIVE_MODEL",
		"HANDOFF_SETTLE_DELAY",
		"CAPTURE_SEND_QUEUE",
		"VISUALIZER_INTERVAL",
		"DATABASE_URL",
		"KAFKA_BROKERS",
		"KAFKA_LEADS_TOPIC",
		"LEADS_REDACT_PII",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
