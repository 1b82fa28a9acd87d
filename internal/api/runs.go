package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stratus-tools/paceline/internal/engine"
	"github.com/stratus-tools/paceline/internal/model"
	"github.com/stratus-tools/paceline/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// createRunRequest is the JSON body for POST /v1/runs.
type createRunRequest struct {
	WorkloadType    string               `json:"workload_type"`
	Items           []engine.RunItemSpec `json:"items"`
	CIMode          *bool                `json:"ci_mode"`
	ForceSequential bool                 `json:"force_sequential"`
	Threads         int                  `json:"threads"`
	TimeoutS        int                  `json:"timeout_s"`
}

// listRunsResponse wraps the paginated list response.
type listRunsResponse struct {
	Runs   []*model.Run `json:"runs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// resultsResponse is the JSON response for GET /v1/runs/{id}/results.
type resultsResponse struct {
	RunID   string               `json:"run_id"`
	Results []model.WorkerResult `json:"results"`
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.WorkloadType == "" {
		req.WorkloadType = model.WorkloadGeneral
	}
	if !model.ValidWorkloadType(req.WorkloadType) {
		s.writeError(w, http.StatusBadRequest, "unknown workload_type")
		return
	}
	if len(req.Items) == 0 {
		s.writeError(w, http.StatusBadRequest, "items are required")
		return
	}
	for i, item := range req.Items {
		if item.Command == "" {
			s.writeError(w, http.StatusBadRequest, "items["+strconv.Itoa(i)+"]: command is required")
			return
		}
	}
	if req.Threads < 0 || req.TimeoutS < 0 {
		s.writeError(w, http.StatusBadRequest, "threads and timeout_s must be non-negative")
		return
	}

	ciMode := s.ciMode
	if req.CIMode != nil {
		ciMode = *req.CIMode
	}

	run := &model.Run{
		ID:           model.NewID(),
		Status:       model.RunPending,
		WorkloadType: req.WorkloadType,
		CIMode:       ciMode,
		CreatedAt:    time.Now().UTC(),
	}

	submitReq := engine.RunRequest{
		Run:             run,
		Items:           engine.CommandItems(req.Items),
		CIMode:          ciMode,
		ForceSequential: req.ForceSequential,
		ThreadOverride:  req.Threads,
		TimeoutS:        req.TimeoutS,
	}
	if err := s.engine.Submit(r.Context(), submitReq); err != nil {
		s.logger.Error("submit run", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit run")
		return
	}

	s.writeJSON(w, http.StatusAccepted, run)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("get run", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	runs, total, err := s.store.ListRuns(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list runs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	if runs == nil {
		runs = []*model.Run{}
	}

	s.writeJSON(w, http.StatusOK, listRunsResponse{
		Runs:   runs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

func (s *Server) handleGetResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Verify the run exists so a missing run and an empty result set are
	// distinguishable.
	if _, err := s.store.GetRun(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("get run for results", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	results, err := s.store.GetResults(r.Context(), id)
	if err != nil {
		s.logger.Error("get results", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get results")
		return
	}
	if results == nil {
		results = []model.WorkerResult{}
	}

	s.writeJSON(w, http.StatusOK, resultsResponse{RunID: id, Results: results})
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
