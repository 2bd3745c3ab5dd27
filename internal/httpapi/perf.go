package httpapi

import "net/http"

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.StageSnapshot())
}

func (s *Server) handlePerfLatencyReset(w http.ResponseWriter, _ *http.Request) {
	s.metrics.ResetStages()
	respondJSON(w, http.StatusOK, map[string]any{"status": "reset"})
}
