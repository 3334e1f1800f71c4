package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/drhvac/voicedesk/internal/config"
	"github.com/drhvac/voicedesk/internal/httpapi"
	"github.com/drhvac/voicedesk/internal/leads"
	"github.com/drhvac/voicedesk/internal/live"
	"github.com/drhvac/voicedesk/internal/live/gemini"
	"github.com/drhvac/voicedesk/internal/observability"
	"github.com/drhvac/voicedesk/internal/session"
	"github.com/drhvac/voicedesk/internal/widget"
)

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Sessions     *session.Manager
	Orchestrator *widget.Orchestrator
	Leads        *leads.Service
	Metrics      *observability.Metrics
	Status       httpapi.Status

	// Cleanup should be called on shutdown to release external resources (DB, Kafka writer).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	log := observability.Component("app")
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	transport, err := resolveTransport(cfg)
	if err != nil {
		return nil, err
	}

	store, err := leads.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("lead store init failed: %w", err)
	}
	publisher := leads.NewPublisher(leads.PublisherConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaLeadsTopic,
	}, observability.Component("leads.publisher"))
	leadService := leads.NewService(store, publisher, leads.ServiceConfig{
		RedactPII: cfg.LeadsRedactPII,
		Metrics:   metrics,
		Logger:    observability.Component("leads"),
	})

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(s *session.Session) {
		metrics.SessionEvent("expired")
		log.Debug().Str("session_id", s.ID).Msg("session expired")
	})

	orchestrator := widget.New(widget.Config{
		Model:          cfg.GeminiLiveModel,
		Transport:      transport,
		Sessions:       sessions,
		Leads:          leadService,
		Metrics:        metrics,
		Logger:         observability.Component("widget"),
		SettleDelay:    cfg.HandoffSettleDelay,
		CaptureQueue:   cfg.CaptureSendQueue,
		VisualInterval: cfg.VisualizerInterval,
	})

	status := httpapi.Status{
		LiveProvider:  transport.Name(),
		LeadStoreMode: storeMode(cfg),
		KafkaEnabled:  publisher.Enabled(),
	}
	api := httpapi.New(cfg, httpapi.Deps{
		Sessions:     sessions,
		Orchestrator: orchestrator,
		Metrics:      metrics,
		Leads:        leadService,
		Status:       status,
	})

	cleanup := func() error {
		return errors.Join(publisher.Close(), store.Close())
	}

	log.Info().
		Str("live_provider", status.LiveProvider).
		Str("model", cfg.GeminiLiveModel).
		Str("lead_store", status.LeadStoreMode).
		Bool("kafka", status.KafkaEnabled).
		Msg("voice desk assembled")

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Sessions:     sessions,
		Orchestrator: orchestrator,
		Leads:        leadService,
		Metrics:      metrics,
		Status:       status,
		Cleanup:      cleanup,
	}, nil
}

func resolveTransport(cfg config.Config) (live.Transport, error) {
	if !cfg.UseGemini() {
		if cfg.LiveProvider == "auto" {
			log := observability.Component("app")
			log.Warn().Msg("GEMINI_API_KEY not set; using the mock live transport")
		}
		return live.NewMockTransport(), nil
	}
	t, err := gemini.New(cfg.GeminiAPIKey)
	if err != nil {
		return nil, fmt.Errorf("gemini transport init failed: %w", err)
	}
	return t, nil
}

func storeMode(cfg config.Config) string {
	if cfg.DatabaseURL == "" {
		return "memory"
	}
	return "postgres"
}
