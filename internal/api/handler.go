package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/barkline/barkline/internal/domain"
	"github.com/barkline/barkline/internal/trigger"
)

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

// Service is the scheduling surface the handler exposes over HTTP.
type Service interface {
	Submit(ctx context.Context, barkKey string, scheduleTime time.Time, content string) (domain.Task, error)
	List() []domain.Task
	Pending() []trigger.Entry
	Get(jobID string) (domain.Task, error)
	Cancel(ctx context.Context, jobID string) error
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	svc Service
	db  HealthChecker
}

func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// WithHealthChecker sets the database health checker for verbose /health
// responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/" && r.Method == http.MethodGet:
		h.root(w, r)

	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/schedule" && r.Method == http.MethodPost:
		h.schedule(w, r)

	case path == "/tasks" && r.Method == http.MethodGet:
		h.listTasks(w, r)

	case strings.HasPrefix(path, "/tasks/") && r.Method == http.MethodGet:
		h.getTask(w, r)

	case strings.HasPrefix(path, "/tasks/") && r.Method == http.MethodDelete:
		h.deleteTask(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (h *Handler) root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, RootResponse{
		Status:         "running",
		Service:        "barkline scheduled push service",
		SchedulerState: "started",
		Timestamp:      formatTime(time.Now()),
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

func (h *Handler) schedule(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := validateScheduleRequest(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	scheduleTime, err := parseScheduleTime(req.ScheduleTime)
	if err != nil {
		writeTimeError(w, err.Error(), req.ScheduleTime)
		return
	}

	task, err := h.svc.Submit(r.Context(), req.BarkKey, scheduleTime, req.Content)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidTime):
			writeTimeError(w, err.Error(), req.ScheduleTime)
		case errors.Is(err, domain.ErrConflict):
			writeError(w, http.StatusConflict, err.Error())
		default:
			log.Printf("api: schedule error: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to schedule task")
		}
		return
	}

	writeJSON(w, http.StatusCreated, TaskResponse{
		JobID:        task.JobID,
		ScheduleTime: formatTime(task.ScheduleTime),
		Content:      task.Content,
		Status:       string(task.Status),
		Message:      "task scheduled, will push at " + formatTime(task.ScheduleTime),
	})
}

func (h *Handler) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks := h.svc.List()

	resp := ListTasksResponse{
		Total:         len(tasks),
		Tasks:         make(map[string]TaskSnapshot, len(tasks)),
		SchedulerJobs: []SchedulerJob{},
	}
	for _, task := range tasks {
		resp.Tasks[task.JobID] = snapshotFromTask(task)
	}
	for _, entry := range h.svc.Pending() {
		resp.SchedulerJobs = append(resp.SchedulerJobs, SchedulerJob{
			JobID:       entry.JobID,
			NextRunTime: formatTime(entry.FireTime),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getTask(w http.ResponseWriter, r *http.Request) {
	jobID, ok := taskIDFromPath(r.URL.Path)
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	task, err := h.svc.Get(jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}

	writeJSON(w, http.StatusOK, snapshotFromTask(task))
}

func (h *Handler) deleteTask(w http.ResponseWriter, r *http.Request) {
	jobID, ok := taskIDFromPath(r.URL.Path)
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	if err := h.svc.Cancel(r.Context(), jobID); err != nil {
		switch {
		case errors.Is(err, domain.ErrTaskNotFound):
			writeError(w, http.StatusNotFound, "task not found")
		case errors.Is(err, domain.ErrAlreadyFired):
			writeError(w, http.StatusConflict, "task already executed")
		case errors.Is(err, domain.ErrConflict):
			writeError(w, http.StatusConflict, "task fired, outcome pending")
		default:
			log.Printf("api: cancel error: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to cancel task")
		}
		return
	}

	writeJSON(w, http.StatusOK, DeleteResponse{
		Message: "task cancelled",
		JobID:   jobID,
	})
}

// taskIDFromPath extracts the job id from /tasks/{job_id}.
func taskIDFromPath(path string) (string, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 || parts[0] != "tasks" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeTimeError reports a schedule time rejection with the server's
// current time alongside the received value.
func writeTimeError(w http.ResponseWriter, msg, received string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:        "time validation failed",
		Message:      msg,
		CurrentTime:  formatTime(time.Now()),
		ReceivedTime: received,
	})
}
