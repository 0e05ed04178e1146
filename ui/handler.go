// Package ui provides a JSON HTTP surface for administering a task-queue
// service: enqueueing and inspecting jobs, cancellation, processing
// lifecycle, and status counts.
package ui

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jakke/taskqueue/pkg/core"
	"github.com/jakke/taskqueue/pkg/service"
)

// Handler creates an http.Handler exposing the admin API for svc.
//
// Usage:
//
//	mux.Handle("/taskqueue/", http.StripPrefix("/taskqueue", ui.Handler(svc)))
func Handler(svc *service.Service) http.Handler {
	h := &handler{svc: svc}

	r := chi.NewRouter()
	r.Post("/jobs", h.addJob)
	r.Get("/jobs", h.listJobs)
	r.Get("/jobs/{id}", h.getJob)
	r.Post("/jobs/{id}/cancel", h.cancelJob)
	r.Post("/processing/start", h.startProcessing)
	r.Post("/processing/stop", h.stopProcessing)
	r.Get("/stats", h.stats)
	return r
}

type handler struct {
	svc *service.Service
}

type jobView struct {
	ID          uint64          `json:"id"`
	TaskName    string          `json:"task_name"`
	Status      core.JobStatus  `json:"status"`
	Input       json.RawMessage `json:"input,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
	Owner       string          `json:"owner,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ClaimedAt   *time.Time      `json:"claimed_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

func viewOf(job *core.JobRecord) jobView {
	v := jobView{
		ID:          job.ID,
		TaskName:    job.TaskName,
		Status:      job.Status,
		Owner:       job.Owner,
		CreatedAt:   job.CreatedAt,
		ClaimedAt:   job.ClaimedAt,
		CompletedAt: job.CompletedAt,
	}
	if len(job.Input) > 0 && json.Valid(job.Input) {
		v.Input = json.RawMessage(job.Input)
	}
	if len(job.Output) > 0 && json.Valid(job.Output) {
		v.Output = json.RawMessage(job.Output)
	}
	return v
}

type addJobRequest struct {
	TaskName string          `json:"task_name"`
	Input    json.RawMessage `json:"input"`
}

func (h *handler) addJob(w http.ResponseWriter, r *http.Request) {
	var req addJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := h.svc.Add(r.Context(), req.TaskName, req.Input)
	if err != nil {
		if errors.Is(err, core.ErrInvalidTaskName) || errors.Is(err, core.ErrTaskNameTooLong) || errors.Is(err, core.ErrInputTooLarge) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"id": id})
}

func (h *handler) getJob(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	job, err := h.svc.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, core.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, viewOf(job))
}

func (h *handler) listJobs(w http.ResponseWriter, r *http.Request) {
	status := core.JobStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = core.StatusQueued
	}

	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	jobs, err := h.svc.Store().GetByStatus(r.Context(), status, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]jobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, viewOf(job))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *handler) cancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	cancelled, err := h.svc.Cancel(r.Context(), id)
	if err != nil {
		if errors.Is(err, core.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !cancelled {
		writeError(w, http.StatusConflict, "job is not cancellable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": true})
}

func (h *handler) startProcessing(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.StartProcessing(r.Context()); err != nil {
		if errors.Is(err, service.ErrAlreadyProcessing) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"processing": true})
}

func (h *handler) stopProcessing(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.StopProcessing(r.Context()); err != nil {
		if errors.Is(err, core.ErrShutdownTimeout) {
			writeError(w, http.StatusGatewayTimeout, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"processing": false})
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.svc.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
