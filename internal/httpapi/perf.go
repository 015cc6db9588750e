package httpapi

import (
	"net/http"

	"github.com/ent0n29/ttsprep/internal/observability"
)

func (s *Server) handlePerfStages(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, observability.StageSnapshot{Stages: []observability.StageStats{}})
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.SnapshotStages())
}
