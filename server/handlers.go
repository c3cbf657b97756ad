package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/xhad/jobimport/internal/models"
	"github.com/xhad/jobimport/pkg/llm"
	"github.com/xhad/jobimport/pkg/queue"
	"github.com/xhad/jobimport/pkg/store"
)

const maxBodyBytes = 1 << 20

type importRequest struct {
	URL string `json:"url"`
}

type importResponse struct {
	Message   string           `json:"message"`
	JobID     string           `json:"job_id"`
	URL       string           `json:"url"`
	Status    models.JobStatus `json:"status"`
	StatusURL string           `json:"status_url"`
}

func (s *Server) handleImportJob(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		jsonError(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	// The response echoes what the caller sent; the task gets the normalized form.
	submitted := strings.TrimSpace(req.URL)
	target, err := validateURL(submitted)
	if err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx := r.Context()

	if s.config.Dedup {
		existing, err := s.jobs.FindActiveByURL(ctx, target)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, importResponse{
				Message:   "Import job already exists " + submitted,
				JobID:     existing.ID,
				URL:       submitted,
				Status:    existing.Status,
				StatusURL: statusURL(existing.ID),
			})
			return
		case !errors.Is(err, store.ErrJobNotFound):
			s.log.Error("dedup lookup failed", "url", target, "error", err)
			jsonError(w, "failed to look up existing jobs", http.StatusInternalServerError)
			return
		}
	}

	now := time.Now()
	job := &models.Job{
		ID:        uuid.NewString(),
		URL:       target,
		Status:    models.StatusQueued,
		Phase:     "queued",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		s.log.Error("create job failed", "url", target, "error", err)
		jsonError(w, "failed to create job", http.StatusInternalServerError)
		return
	}

	if err := s.queue.Enqueue(ctx, models.ImportTask{JobID: job.ID, URL: target}); err != nil {
		s.log.Warn("enqueue failed", "job_id", job.ID, "error", err)
		s.markFailed(r, job, err)
		if errors.Is(err, queue.ErrQueueFull) {
			jsonError(w, "import queue is full, retry later", http.StatusServiceUnavailable)
			return
		}
		jsonError(w, "failed to enqueue job", http.StatusInternalServerError)
		return
	}

	s.log.Info("import job queued", "job_id", job.ID, "url", target)
	writeJSON(w, http.StatusAccepted, importResponse{
		Message:   "Import job triggered successfully " + submitted,
		JobID:     job.ID,
		URL:       submitted,
		Status:    job.Status,
		StatusURL: statusURL(job.ID),
	})
}

// markFailed records a job that never reached the queue.
func (s *Server) markFailed(r *http.Request, job *models.Job, cause error) {
	err := s.jobs.Update(r.Context(), models.JobUpdate{
		JobID:     job.ID,
		URL:       job.URL,
		Status:    models.StatusFailed,
		Phase:     "failed",
		Error:     "enqueue: " + cause.Error(),
		UpdatedAt: time.Now(),
	})
	if err != nil {
		s.log.Warn("failed to mark job failed", "job_id", job.ID, "error", err)
	}
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	if s.similar == nil {
		jsonError(w, "similar-job search requires the postgres job store", http.StatusNotImplemented)
		return
	}
	limit := 5
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 50 {
			jsonError(w, "limit must be between 1 and 50", http.StatusBadRequest)
			return
		}
		limit = n
	}
	job, ok := s.lookupJob(w, r)
	if !ok {
		return
	}
	similar, err := s.similar.Similar(r.Context(), job.ID, limit)
	if err != nil {
		s.log.Error("similar search failed", "job_id", job.ID, "error", err)
		jsonError(w, "similar-job search failed", http.StatusInternalServerError)
		return
	}
	if similar == nil {
		similar = []models.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":  job.ID,
		"similar": similar,
	})
}

func (s *Server) lookupJob(w http.ResponseWriter, r *http.Request) (*models.Job, bool) {
	id := chi.URLParam(r, "jobID")
	job, err := s.jobs.Get(r.Context(), id)
	if errors.Is(err, store.ErrJobNotFound) {
		jsonError(w, "job not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		s.log.Error("get job failed", "job_id", id, "error", err)
		jsonError(w, "failed to load job", http.StatusInternalServerError)
		return nil, false
	}
	return job, true
}

// pirateBody accepts both the flat request and the {"input": {...}} envelope
// used by chain-serving clients.
type pirateBody struct {
	llm.PirateRequest
	Input *llm.PirateRequest `json:"input,omitempty"`
}

func (s *Server) handlePirateSpeak(w http.ResponseWriter, r *http.Request) {
	var body pirateBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		jsonError(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	req := body.PirateRequest
	if body.Input != nil {
		req = *body.Input
	}

	out, err := s.pirate.PirateSpeak(r.Context(), req)
	if err != nil {
		status := errorStatus(err)
		if status >= 500 {
			s.log.Error("pirate speak failed", "error", err)
		}
		jsonError(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"output": out})
}

func validateURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", &models.ValidationError{Field: "url", Message: "is required"}
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", &models.ValidationError{Field: "url", Message: "must be an absolute http or https URL"}
	}
	return u.String(), nil
}

func statusURL(id string) string {
	return "/import-job/" + id
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrGeneration), errors.Is(err, models.ErrEmbedding):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}
