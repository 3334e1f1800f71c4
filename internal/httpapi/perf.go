package httpapi

import (
	"net/http"
	"strings"

	"github.com/drhvac/voicedesk/internal/observability"
)

// handlePerfLatency reports rolling call stage latencies. ?stage= narrows the
// report to one stage.
func (s *Server) handlePerfLatency(w http.ResponseWriter, r *http.Request) {
	snap := observability.CallStageSnapshot{Stages: []observability.CallStageStats{}}
	if s.metrics != nil {
		snap = s.metrics.SnapshotCallStages()
	}
	stage := strings.TrimSpace(r.URL.Query().Get("stage"))
	if stage == "" {
		respondJSON(w, http.StatusOK, snap)
		return
	}
	for _, st := range snap.Stages {
		if st.Stage == stage {
			respondJSON(w, http.StatusOK, st)
			return
		}
	}
	respondError(w, http.StatusNotFound, "unknown_stage", "no samples for stage "+stage)
}
