package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"shorts-transcriber/internal/domain"
	"shorts-transcriber/internal/domain/model"
	"shorts-transcriber/internal/infra/logging"
	"shorts-transcriber/internal/infra/metrics"
	"shorts-transcriber/internal/infra/redis"

	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 16 << 10

type transcribeRequest struct {
	URL    string `json:"url"`
	Format string `json:"format"`
}

type transcribeResponse struct {
	TaskID string `json:"task_id"`
}

// resultResponse is the polling payload. Fields a status does not carry are omitted.
type resultResponse struct {
	Status     string  `json:"status"`
	Progress   *int    `json:"progress,omitempty"`
	Step       *string `json:"step,omitempty"`
	Transcript *string `json:"transcript,omitempty"`
	Error      *string `json:"error,omitempty"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	for _, p := range s.health {
		if err := p.Ping(r.Context()); err != nil {
			logging.With(r.Context(), s.log).Warn().Err(err).Msg("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	log := logging.With(r.Context(), s.log)

	var req transcribeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be JSON: {\"url\": ..., \"format\": \"plain\"|\"timestamps\"}")
		return
	}

	if s.limiter != nil && s.cfg.SubmitRateLimit > 0 {
		ok, err := s.limiter.Allow(r.Context(), redis.SubmitKey(clientIP(r)), s.cfg.SubmitRateLimit, time.Minute)
		if err != nil {
			// throttling is best effort; an unreachable counter does not block submissions
			log.Warn().Err(err).Msg("rate limiter unavailable")
		} else if !ok {
			metrics.IncRateLimited()
			writeError(w, http.StatusTooManyRequests, "Too many submissions. Please slow down.")
			return
		}
	}

	id, err := s.submit.Enqueue(r.Context(), req.URL, req.Format)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, transcribeResponse{TaskID: id})
	case errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, strings.TrimPrefix(err.Error(), domain.ErrInvalidArgument.Error()+": "))
	case errors.Is(err, domain.ErrQueueUnavailable):
		log.Error().Err(err).Msg("task submission failed")
		writeError(w, http.StatusServiceUnavailable, "Transcription service is currently unavailable. Please try again later.")
	default:
		log.Error().Err(err).Msg("task submission failed")
		writeError(w, http.StatusInternalServerError, "An internal error occurred.")
	}
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskID")
	view, err := s.submit.GetStatus(r.Context(), id)
	if err != nil {
		logging.With(r.Context(), s.log).Error().Err(err).Str("job_id", id).Msg("fetch result")
		writeError(w, http.StatusInternalServerError, "An internal error occurred.")
		return
	}
	writeJSON(w, http.StatusOK, toResultResponse(view))
}

// toResultResponse maps job states onto the polling vocabulary.
func toResultResponse(v model.JobView) resultResponse {
	progress, step := v.Progress, v.Step
	switch v.State {
	case model.JobStateQueued:
		progress, step = 0, "queued"
		return resultResponse{Status: "pending", Progress: &progress, Step: &step}
	case model.JobStateDownloading, model.JobStateTranscribing, model.JobStateFinalizing:
		return resultResponse{Status: "processing", Progress: &progress, Step: &step}
	case model.JobStateSucceeded:
		progress, step = 100, "done"
		text := v.Result
		return resultResponse{Status: "completed", Progress: &progress, Step: &step, Transcript: &text}
	case model.JobStateFailed:
		progress, step = 100, "failed"
		msg := v.Error
		if msg == "" {
			msg = "An unknown error occurred."
		}
		return resultResponse{Status: "error", Progress: &progress, Step: &step, Error: &msg}
	default:
		return resultResponse{Status: strings.ToLower(string(v.State))}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}
