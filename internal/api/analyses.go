package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/beamlab/internal/engine"
	"github.com/seantiz/beamlab/internal/model"
	"github.com/seantiz/beamlab/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 32 << 20 // 32 MB
)

// listAnalysesResponse wraps the paginated list response.
type listAnalysesResponse struct {
	Analyses []*model.Run `json:"analyses"`
	Total    int          `json:"total"`
	Limit    int          `json:"limit"`
	Offset   int          `json:"offset"`
}

type cancelResponse struct {
	Cancelled bool   `json:"cancelled"`
	RunID     string `json:"run_id,omitempty"`
}

type activeResponse struct {
	Active bool   `json:"active"`
	RunID  string `json:"run_id,omitempty"`
}

func (s *Server) handleStartAnalysis(w http.ResponseWriter, r *http.Request) {
	var in model.AnalysisInput
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			recordSubmission(outcomeTooLarge)
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		recordSubmission(outcomeInvalid)
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	run, err := s.orch.Start(&in)
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		recordSubmission(outcomeInvalid)
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, engine.ErrBusy):
		recordSubmission(outcomeBusy)
		s.writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		recordSubmission(outcomeError)
		s.logger.Error("start analysis", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to start analysis")
		return
	}

	recordSubmission(outcomeAccepted)
	s.writeJSON(w, http.StatusAccepted, run)
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "analysis not found")
		return
	}
	if err != nil {
		s.logger.Error("get analysis", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get analysis")
		return
	}

	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
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
		s.logger.Error("list analyses", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list analyses")
		return
	}

	s.writeJSON(w, http.StatusOK, listAnalysesResponse{
		Analyses: runs,
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	})
}

func (s *Server) handleCancelAnalysis(w http.ResponseWriter, _ *http.Request) {
	id, _ := s.orch.Active()
	if !s.orch.Cancel() {
		s.writeJSON(w, http.StatusOK, cancelResponse{Cancelled: false})
		return
	}
	s.writeJSON(w, http.StatusAccepted, cancelResponse{Cancelled: true, RunID: id})
}

func (s *Server) handleActiveAnalysis(w http.ResponseWriter, _ *http.Request) {
	id, ok := s.orch.Active()
	s.writeJSON(w, http.StatusOK, activeResponse{Active: ok, RunID: id})
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
