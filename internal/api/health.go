package api

import (
	"net/http"
)

const (
	statusOK       = "ok"
	statusDegraded = "degraded"
)

type healthResponse struct {
	Status   string `json:"status"`
	InFlight int    `json:"inFlight"`
	Workers  int    `json:"workers"`
}

// handleHealthz reports degraded once the engine had to abandon a render.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:   statusOK,
		InFlight: s.engine.InFlight(),
		Workers:  s.engine.Workers(),
	}
	status := http.StatusOK
	if !s.engine.Healthy() {
		resp.Status = statusDegraded
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}
