// Package api exposes the scheduler's operations over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/chainsched/chainsched/internal/ctxlog"
	"github.com/chainsched/chainsched/internal/metrics"
	"github.com/chainsched/chainsched/internal/scheduler"
)

// Server routes HTTP requests to the scheduler.
type Server struct {
	sched   *scheduler.Scheduler
	metrics *metrics.Registry
	router  chi.Router
}

// NewServer builds the router. reg may be nil.
func NewServer(sched *scheduler.Scheduler, reg *metrics.Registry) *Server {
	s := &Server{sched: sched, metrics: reg}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/tasks", s.handleSubmit)
	r.Post("/batches", s.handleSubmitBatch)
	r.Get("/tasks/{id}", s.handleStatus)
	r.Delete("/tasks/{id}", s.handleCancel)
	r.Get("/tasks", s.handleList)
	r.Post("/drain", s.handleDrain)
	r.Get("/metrics", s.handleMetrics)
	r.Get("/healthz", s.handleHealthz)
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// TaskRequest is the submission payload.
type TaskRequest struct {
	ID            string         `json:"id,omitempty"`
	Protocol      string         `json:"protocol"`
	Action        string         `json:"action"`
	Params        map[string]any `json:"params,omitempty"`
	Priority      int            `json:"priority,omitempty"`
	DependsOn     []string       `json:"depends_on,omitempty"`
	GateSensitive bool           `json:"gate_sensitive,omitempty"`
	MaxAttempts   int            `json:"max_attempts,omitempty"`
}

// BatchRequest admits several tasks atomically.
type BatchRequest struct {
	Tasks []TaskRequest `json:"tasks"`
}

// TaskResponse is the wire form of a task record.
type TaskResponse struct {
	ID          string         `json:"id"`
	Protocol    string         `json:"protocol"`
	Action      string         `json:"action"`
	Params      map[string]any `json:"params,omitempty"`
	Priority    int            `json:"priority"`
	DependsOn   []string       `json:"depends_on,omitempty"`
	Status      string         `json:"status"`
	Attempts    int            `json:"attempts"`
	MaxAttempts int            `json:"max_attempts"`
	LastError   string         `json:"last_error,omitempty"`
	Output      string         `json:"output,omitempty"`
	NextRetryAt *time.Time     `json:"next_retry_at,omitempty"`
	CreatedAt   *time.Time     `json:"created_at,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Protocol == "" || req.Action == "" {
		writeError(w, http.StatusBadRequest, "protocol and action are required")
		return
	}
	id, err := s.sched.Submit(r.Context(), specFromRequest(req))
	if err != nil {
		writeSchedulerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (s *Server) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if len(req.Tasks) == 0 {
		writeError(w, http.StatusBadRequest, "batch is empty")
		return
	}
	specs := make([]scheduler.TaskSpec, 0, len(req.Tasks))
	for _, t := range req.Tasks {
		if t.Protocol == "" || t.Action == "" {
			writeError(w, http.StatusBadRequest, "protocol and action are required for every task")
			return
		}
		specs = append(specs, specFromRequest(t))
	}
	ids, err := s.sched.SubmitBatch(r.Context(), specs)
	if err != nil {
		writeSchedulerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string][]string{"ids": ids})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	task, err := s.sched.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeSchedulerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, responseFromTask(task))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.sched.Tasks(r.Context())
	if err != nil {
		writeSchedulerError(w, r, err)
		return
	}
	out := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, responseFromTask(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.sched.Cancel(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeSchedulerError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	if err := s.sched.Drain(r.Context()); err != nil {
		writeSchedulerError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func specFromRequest(req TaskRequest) scheduler.TaskSpec {
	return scheduler.TaskSpec{
		ID:            req.ID,
		Protocol:      req.Protocol,
		Action:        req.Action,
		Params:        req.Params,
		Priority:      req.Priority,
		DependsOn:     req.DependsOn,
		GateSensitive: req.GateSensitive,
		MaxAttempts:   req.MaxAttempts,
	}
}

func responseFromTask(t *scheduler.Task) TaskResponse {
	return TaskResponse{
		ID:          t.ID,
		Protocol:    t.Protocol,
		Action:      t.Action,
		Params:      t.Params,
		Priority:    t.Priority,
		DependsOn:   t.DependsOn,
		Status:      t.Status.String(),
		Attempts:    t.Attempts,
		MaxAttempts: t.MaxAttempts,
		LastError:   t.LastError,
		Output:      t.Output,
		NextRetryAt: timePtr(t.NextRetryAt),
		CreatedAt:   timePtr(t.CreatedAt),
		StartedAt:   timePtr(t.StartedAt),
		FinishedAt:  timePtr(t.FinishedAt),
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func writeSchedulerError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, scheduler.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, scheduler.ErrDuplicateID), errors.Is(err, scheduler.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, scheduler.ErrCyclicDependency):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, scheduler.ErrDraining), errors.Is(err, scheduler.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		ctxlog.FromContext(r.Context()).Error("internal error", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
