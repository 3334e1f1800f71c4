package app

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/drhvac/voicedesk/internal/config"
)

func TestBuildWithoutExternalBackends(t *testing.T) {
	cfg := config.Config{
		MetricsNamespace:         fmt.Sprintf("test_app_%d", time.Now().UnixNano()),
		SessionInactivityTimeout: time.Minute,
		LiveProvider:             "auto",
		HandoffSettleDelay:       800 * time.Millisecond,
		CaptureSendQueue:         32,
		VisualizerInterval:       33 * time.Millisecond,
		KafkaLeadsTopic:          "hvac.leads",
	}
	built, err := Build(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			t.Fatalf("Cleanup() error = %v", err)
		}
	}()

	if built.Status.LiveProvider != "mock" {
		t.Fatalf("LiveProvider = %q, want mock", built.Status.LiveProvider)
	}
	if built.Status.LeadStoreMode != "memory" || built.Status.KafkaEnabled {
		t.Fatalf("unexpected status: %+v", built.Status)
	}
	if built.API == nil || built.Orchestrator == nil || built.Leads == nil {
		t.Fatalf("Build() left components unset: %+v", built)
	}
}

func TestBuildGeminiRequiresKey(t *testing.T) {
	cfg := config.Config{
		MetricsNamespace:         fmt.Sprintf("test_app_gemini_%d", time.Now().UnixNano()),
		SessionInactivityTimeout: time.Minute,
		LiveProvider:             "gemini",
	}
	if _, err := Build(context.Background(), cfg); err == nil {
		t.Fatalf("Build() with gemini and no key succeeded")
	}
}
