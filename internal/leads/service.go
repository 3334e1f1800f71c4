package leads

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/drhvac/voicedesk/internal/observability"
	"github.com/drhvac/voicedesk/internal/policy"
	"github.com/drhvac/voicedesk/internal/reliability"
	"github.com/drhvac/voicedesk/internal/transcript"
)

const (
	publishAttempts    = 3
	publishBackoffBase = 200 * time.Millisecond
	publishBackoffCap  = 2 * time.Second
)

type publisher interface {
	Publish(ctx context.Context, lead Lead) error
}

type ServiceConfig struct {
	RedactPII bool
	Metrics   *observability.Metrics
	Logger    zerolog.Logger
}

// Service turns finished calls into stored and published leads.
type Service struct {
	store     Store
	publisher publisher
	redact    bool
	metrics   *observability.Metrics
	log       zerolog.Logger
	sleep     func(context.Context, time.Duration) error
}

func NewService(store Store, pub publisher, cfg ServiceConfig) *Service {
	return &Service{
		store:     store,
		publisher: pub,
		redact:    cfg.RedactPII,
		metrics:   cfg.Metrics,
		log:       cfg.Logger,
		sleep:     sleepCtx,
	}
}

// Capture stores the lead and publishes it. Calls where the visitor never
// spoke and no tool set any display state are skipped with ErrEmptyCall. A
// publish failure after retries is logged; the stored lead is kept.
func (s *Service) Capture(ctx context.Context, lead Lead) (Lead, error) {
	if !worthKeeping(lead) {
		s.metrics.Lead("skipped_empty")
		return Lead{}, ErrEmptyCall
	}
	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	if s.redact {
		lead = redact(lead)
	}

	if err := s.store.Save(ctx, lead); err != nil {
		s.metrics.Lead("store_failed")
		return Lead{}, fmt.Errorf("store lead %s: %w", lead.ID, err)
	}
	s.metrics.Lead("stored")

	if s.publisher == nil {
		return lead, nil
	}
	var err error
	for attempt := 0; attempt < publishAttempts; attempt++ {
		if attempt > 0 {
			if werr := s.sleep(ctx, reliability.ExponentialBackoff(attempt-1, publishBackoffBase, publishBackoffCap)); werr != nil {
				err = werr
				break
			}
		}
		if err = s.publisher.Publish(ctx, lead); err == nil {
			s.metrics.Lead("published")
			return lead, nil
		}
		s.log.Warn().Err(err).Str("lead_id", lead.ID).Int("attempt", attempt+1).Msg("lead publish failed")
	}
	s.metrics.Lead("publish_failed")
	s.log.Error().Err(err).Str("lead_id", lead.ID).Msg("lead event not published")
	return lead, nil
}

func (s *Service) Recent(ctx context.Context, limit int) ([]Lead, error) {
	return s.store.Recent(ctx, limit)
}

func worthKeeping(l Lead) bool {
	if l.Rebate != nil || l.Emergency != nil {
		return true
	}
	for _, e := range l.Transcript {
		if e.Speaker == transcript.SpeakerUser && e.Text != "" {
			return true
		}
	}
	return false
}

// redact masks PII in what the caller said. Agent and system lines are
// scripted and left alone.
func redact(l Lead) Lead {
	entries := make([]transcript.Entry, len(l.Transcript))
	copy(entries, l.Transcript)
	for i, e := range entries {
		if e.Speaker != transcript.SpeakerUser {
			continue
		}
		if out, changed := policy.RedactPII(e.Text); changed {
			entries[i].Text = out
			l.PIIRedacted = true
		}
	}
	l.Transcript = entries
	if l.Emergency != nil {
		e := *l.Emergency
		if out, changed := policy.RedactPII(e.Issue); changed {
			e.Issue = out
			l.PIIRedacted = true
		}
		l.Emergency = &e
	}
	return l
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
