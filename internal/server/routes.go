package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/tobysauze/BookByte-sub001/internal/store"
)

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/jobs", s.handleCreateJob)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("POST /api/jobs/{id}/process", s.handleProcessJob)
}

// HealthResponse is the response for the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateJobRequest is the request body for creating a job.
type CreateJobRequest struct {
	SourceURL         string `json:"source_url,omitempty"`
	SourceFileID      string `json:"source_file_id,omitempty"`
	SourceAccessToken string `json:"source_access_token,omitempty"`
	Model             string `json:"model,omitempty"`
}

// JobResponse is the job record with text blobs elided to their lengths.
type JobResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Model        string `json:"model,omitempty"`
	SourceChars  int    `json:"source_chars"`
	OutputChars  int    `json:"output_chars"`
	ErrorMessage string `json:"error_message,omitempty"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

func jobResponse(j *store.Job) JobResponse {
	return JobResponse{
		ID:           j.ID,
		Status:       string(j.Status),
		Model:        j.Model,
		SourceChars:  len(j.CachedSourceText),
		OutputChars:  len(j.AccumulatedOutput),
		ErrorMessage: j.ErrorMessage,
		CreatedAt:    j.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:    j.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// handleCreateJob creates a queued job. The generation pipeline itself is
// driven by the process endpoint, not by creation.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ref := store.SourceRef{
		URL:         req.SourceURL,
		FileID:      req.SourceFileID,
		AccessToken: req.SourceAccessToken,
	}
	if ref.Empty() {
		writeError(w, http.StatusBadRequest, "source_url or source_file_id is required")
		return
	}

	model := req.Model
	if model == "" {
		model = s.defaultModel
	}

	job := &store.Job{
		ID:     uuid.New().String(),
		Status: store.StatusQueued,
		Source: ref,
		Model:  model,
	}
	if err := s.store.Create(r.Context(), job); err != nil {
		s.logger.Error("failed to create job", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	writeJSON(w, http.StatusCreated, jobResponse(job))
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("failed to load job", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, jobResponse(job))
}

// ProcessJobRequest optionally supplies the source reference on the first
// trigger; it is ignored once the job has one.
type ProcessJobRequest struct {
	SourceURL         string `json:"source_url,omitempty"`
	SourceFileID      string `json:"source_file_id,omitempty"`
	SourceAccessToken string `json:"source_access_token,omitempty"`
}

// handleProcessJob is the trigger endpoint: it advances the job one
// generation step. Re-triggering a terminal job is a no-op returning the
// current state, so callers may fire it repeatedly.
func (s *Server) handleProcessJob(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-BookByte-Secret") != s.secret {
		writeError(w, http.StatusUnauthorized, "invalid or missing secret")
		return
	}

	// The body is optional; triggers without one (including chunked
	// requests with unknown length) just advance the job as-is.
	var ref *store.SourceRef
	var req ProcessJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	} else {
		ref = &store.SourceRef{
			URL:         req.SourceURL,
			FileID:      req.SourceFileID,
			AccessToken: req.SourceAccessToken,
		}
	}

	job, err := s.runner.Run(r.Context(), r.PathValue("id"), ref)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		// The job record carries the terminal error; surface both.
		if job != nil {
			writeJSON(w, http.StatusUnprocessableEntity, jobResponse(job))
			return
		}
		s.logger.Error("failed to process job", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to process job")
		return
	}

	writeJSON(w, http.StatusOK, jobResponse(job))
}

// ErrorResponse is the error payload for all endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
