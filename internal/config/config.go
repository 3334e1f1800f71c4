package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice desk service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool
	// AdminToken guards the leads listing; empty disables the endpoint.
	AdminToken string

	LogLevel  string
	LogFormat string

	// LiveProvider is auto, gemini or mock. Auto picks gemini when an API key
	// is present.
	LiveProvider    string
	GeminiAPIKey    string
	GeminiLiveModel string

	HandoffSettleDelay time.Duration
	CaptureSendQueue   int
	VisualizerInterval time.Duration

	DatabaseURL     string
	KafkaBrokers    []string
	KafkaLeadsTopic string
	LeadsRedactPII  bool
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "voicedesk"),
		AdminToken:               trimmedEnv("APP_ADMIN_TOKEN"),
		LogLevel:                 strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
		LogFormat:                strings.ToLower(envOrDefault("LOG_FORMAT", "json")),
		LiveProvider:             strings.ToLower(envOrDefault("LIVE_PROVIDER", "auto")),
		GeminiAPIKey:             trimmedEnv("GEMINI_API_KEY"),
		GeminiLiveModel:          envOrDefault("GEMINI_LIVE_MODEL", "gemini-2.5-flash-native-audio-preview-09-2025"),
		DatabaseURL:              trimmedEnv("DATABASE_URL"),
		KafkaBrokers:             listFromEnv("KAFKA_BROKERS"),
		KafkaLeadsTopic:          envOrDefault("KAFKA_LEADS_TOPIC", "hvac.leads"),
		LeadsRedactPII:           true,
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 2 * time.Minute,
		HandoffSettleDelay:       800 * time.Millisecond,
		CaptureSendQueue:         32,
		// ~30 frames per second, the cadence of requestAnimationFrame.
		VisualizerInterval: 33 * time.Millisecond,
	}
	if cfg.GeminiAPIKey == "" {
		// older widget deployments export API_KEY
		cfg.GeminiAPIKey = trimmedEnv("API_KEY")
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.HandoffSettleDelay, err = durationFromEnv("HANDOFF_SETTLE_DELAY", cfg.HandoffSettleDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.VisualizerInterval, err = durationFromEnv("VISUALIZER_INTERVAL", cfg.VisualizerInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.CaptureSendQueue, err = intFromEnv("CAPTURE_SEND_QUEUE", cfg.CaptureSendQueue)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.LeadsRedactPII, err = boolFromEnv("LEADS_REDACT_PII", cfg.LeadsRedactPII)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.HandoffSettleDelay < 0 {
		return Config{}, fmt.Errorf("HANDOFF_SETTLE_DELAY must be >= 0")
	}
	if cfg.CaptureSendQueue <= 0 {
		return Config{}, fmt.Errorf("CAPTURE_SEND_QUEUE must be positive")
	}
	if cfg.VisualizerInterval <= 0 {
		return Config{}, fmt.Errorf("VISUALIZER_INTERVAL must be positive")
	}
	switch cfg.LiveProvider {
	case "auto", "gemini", "mock":
	default:
		return Config{}, fmt.Errorf("LIVE_PROVIDER must be auto, gemini or mock")
	}
	if cfg.LiveProvider == "gemini" && cfg.GeminiAPIKey == "" {
		return Config{}, fmt.Errorf("LIVE_PROVIDER=gemini requires GEMINI_API_KEY")
	}
	switch cfg.LogFormat {
	case "json", "console":
	default:
		return Config{}, fmt.Errorf("LOG_FORMAT must be json or console")
	}

	return cfg, nil
}

// UseGemini reports whether the Gemini Live transport should be dialed.
func (c Config) UseGemini() bool {
	switch c.LiveProvider {
	case "gemini":
		return true
	case "mock":
		return false
	default:
		return c.GeminiAPIKey != ""
	}
}

func envOrDefault(key, fallback string) string {
	v := trimmedEnv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func listFromEnv(key string) []string {
	var out []string
	for _, part := range strings.Split(trimmedEnv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
