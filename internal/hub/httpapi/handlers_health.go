package httpapi

import "net/http"

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sum := s.aggregator.Summary()
	status := http.StatusOK
	if sum.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, sum)
}

func (s *Server) handleHealthDetails(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.aggregator.Details())
}
