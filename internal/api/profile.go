package api

import (
	"net/http"

	"github.com/stratus-tools/paceline/internal/model"
	"github.com/stratus-tools/paceline/internal/profile"
)

// profileResponse is the JSON response for GET /v1/profile: what the engine
// would decide for a run submitted right now.
type profileResponse struct {
	ProcessorCount int                     `json:"processor_count"`
	TotalMemoryGB  float64                 `json:"total_memory_gb"`
	Fingerprint    string                  `json:"fingerprint"`
	CIMode         bool                    `json:"ci_mode"`
	Settings       model.ExecutionSettings `json:"settings"`
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	workloadType := r.URL.Query().Get("workload_type")
	if workloadType == "" {
		workloadType = model.WorkloadGeneral
	}
	if !model.ValidWorkloadType(workloadType) {
		s.writeError(w, http.StatusBadRequest, "unknown workload_type")
		return
	}

	host := profile.DetectHost(profile.DefaultHeuristics(), s.logger)
	settings := s.profiler.DetectSettings(r.Context(), workloadType, s.ciMode, nil)

	s.writeJSON(w, http.StatusOK, profileResponse{
		ProcessorCount: host.ProcessorCount,
		TotalMemoryGB:  host.TotalMemoryGB,
		Fingerprint:    profile.Fingerprint(host),
		CIMode:         s.ciMode,
		Settings:       settings,
	})
}
