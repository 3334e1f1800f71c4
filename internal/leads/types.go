package leads

import (
	"context"
	"errors"
	"time"

	"github.com/drhvac/voicedesk/internal/agent"
	"github.com/drhvac/voicedesk/internal/persona"
	"github.com/drhvac/voicedesk/internal/transcript"
)

var ErrEmptyCall = errors.New("call has no conversation")

// Lead is one finished widget call kept for contractor follow-up.
type Lead struct {
	ID          string                  `json:"id"`
	SessionID   string                  `json:"session_id"`
	Personas    []persona.ID            `json:"personas"`
	Transcript  []transcript.Entry      `json:"transcript"`
	Rebate      *agent.Rebate           `json:"rebate,omitempty"`
	Emergency   *agent.EmergencyBooking `json:"emergency,omitempty"`
	Handoffs    int                     `json:"handoffs"`
	EndReason   string                  `json:"end_reason"`
	PIIRedacted bool                    `json:"pii_redacted"`
	StartedAt   time.Time               `json:"started_at"`
	EndedAt     time.Time               `json:"ended_at"`
}

// Priority is "emergency" when a booking was confirmed, "rebate" when a rebate
// was quoted, and "general" otherwise.
func (l Lead) Priority() string {
	switch {
	case l.Emergency != nil:
		return "emergency"
	case l.Rebate != nil:
		return "rebate"
	default:
		return "general"
	}
}

// FromCall builds a lead from a call summary.
func FromCall(sessionID string, s agent.CallSummary) Lead {
	return Lead{
		SessionID:  sessionID,
		Personas:   append([]persona.ID(nil), s.Personas...),
		Transcript: append([]transcript.Entry(nil), s.Transcript...),
		Rebate:     s.Rebate,
		Emergency:  s.Emergency,
		Handoffs:   s.Handoffs,
		EndReason:  s.EndReason,
		StartedAt:  s.StartedAt,
		EndedAt:    s.EndedAt,
	}
}

// Store persists and lists captured leads, newest first.
type Store interface {
	Save(ctx context.Context, lead Lead) error
	Recent(ctx context.Context, limit int) ([]Lead, error)
	Close() error
}
