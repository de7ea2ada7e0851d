package api

import (
	"net/http"

	"github.com/seantiz/anvil/internal/backend"
	"github.com/seantiz/anvil/internal/settings"
)

type settingsResponse struct {
	settings.Choices
	Engines            []backend.Info `json:"engines"`
	MaxTemplateLength  int            `json:"maxTemplateLength"`
	MaxDataModelLength int            `json:"maxDataModelLength"`
	TimeLimitMillis    int64          `json:"timeLimitMillis"`
}

func (s *Server) handleSettings(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, settingsResponse{
		Choices:            s.catalog.Choices(),
		Engines:            s.registry.List(),
		MaxTemplateLength:  s.limits.MaxTemplateLength,
		MaxDataModelLength: s.limits.MaxDataModelLength,
		TimeLimitMillis:    s.limits.TimeLimit.Milliseconds(),
	})
}
