package api

import (
	"net/http"

	"github.com/stratus-tools/paceline/internal/model"
)

// baselinesResponse is the JSON response for GET /v1/baselines.
type baselinesResponse struct {
	Baselines []*model.Baseline `json:"baselines"`
}

func (s *Server) handleListBaselines(w http.ResponseWriter, r *http.Request) {
	baselines, err := s.store.ListBaselines(r.Context())
	if err != nil {
		s.logger.Error("list baselines", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list baselines")
		return
	}
	if baselines == nil {
		baselines = []*model.Baseline{}
	}

	s.writeJSON(w, http.StatusOK, baselinesResponse{Baselines: baselines})
}
