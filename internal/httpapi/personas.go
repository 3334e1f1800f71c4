package httpapi

import (
	"net/http"

	"github.com/drhvac/voicedesk/internal/capture"
	"github.com/drhvac/voicedesk/internal/persona"
)

type personaResponse struct {
	ID         persona.ID    `json:"id"`
	Name       string        `json:"name"`
	Role       string        `json:"role"`
	Voice      string        `json:"voice"`
	Theme      persona.Theme `json:"theme"`
	HandoffTo  persona.ID    `json:"handoff_to"`
	HandoffFor string        `json:"handoff_criteria"`
}

// handleListPersonas serves what the widget needs to render persona cards.
// Instructions stay server side.
func (s *Server) handleListPersonas(w http.ResponseWriter, _ *http.Request) {
	all := persona.All()
	out := make([]personaResponse, 0, len(all))
	for _, p := range all {
		out = append(out, personaResponse{
			ID:         p.ID,
			Name:       p.Name,
			Role:       p.Role,
			Voice:      p.Voice,
			Theme:      p.Theme,
			HandoffTo:  p.HandoffTo,
			HandoffFor: p.HandoffCriteria,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"personas": out})
}

type widgetSettingsResponse struct {
	Capture            capture.Constraints `json:"capture"`
	VisualizerInterval int64               `json:"visualizer_interval_ms"`
	HandoffSettleMS    int64               `json:"handoff_settle_ms"`
	LiveProvider       string              `json:"live_provider"`
}

func (s *Server) handleWidgetSettings(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, widgetSettingsResponse{
		Capture:            capture.DefaultConstraints(),
		VisualizerInterval: s.cfg.VisualizerInterval.Milliseconds(),
		HandoffSettleMS:    s.cfg.HandoffSettleDelay.Milliseconds(),
		LiveProvider:       s.status.LiveProvider,
	})
}
