package api

import (
	"time"

	"github.com/barkline/barkline/internal/domain"
)

// ScheduleRequest is the POST /schedule body. ScheduleTime stays a raw
// string so validation can distinguish a missing offset from a malformed
// timestamp.
type ScheduleRequest struct {
	ScheduleTime string `json:"schedule_time"`
	Content      string `json:"content"`
	BarkKey      string `json:"bark_key"`
}

// TaskResponse acknowledges a scheduled task.
type TaskResponse struct {
	JobID        string `json:"job_id"`
	ScheduleTime string `json:"schedule_time"`
	Content      string `json:"content"`
	Status       string `json:"status"`
	Message      string `json:"message,omitempty"`
}

// TaskSnapshot is the queryable view of a task.
type TaskSnapshot struct {
	JobID        string `json:"job_id"`
	BarkKey      string `json:"bark_key"`
	ScheduleTime string `json:"schedule_time"`
	Content      string `json:"content"`
	Status       string `json:"status"`
	Detail       string `json:"detail,omitempty"`
	CreatedAt    string `json:"created_at"`
}

// SchedulerJob is one still-pending trigger entry.
type SchedulerJob struct {
	JobID       string `json:"job_id"`
	NextRunTime string `json:"next_run_time"`
}

// ListTasksResponse is the GET /tasks body.
type ListTasksResponse struct {
	Total         int                     `json:"total"`
	Tasks         map[string]TaskSnapshot `json:"tasks"`
	SchedulerJobs []SchedulerJob          `json:"scheduler_jobs"`
}

// DeleteResponse is the DELETE /tasks/{job_id} success body.
type DeleteResponse struct {
	Message string `json:"message"`
	JobID   string `json:"job_id"`
}

// RootResponse is the GET / liveness body.
type RootResponse struct {
	Status         string `json:"status"`
	Service        string `json:"service"`
	SchedulerState string `json:"scheduler_state"`
	Timestamp      string `json:"timestamp"`
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

// ErrorResponse carries an error plus, for time validation failures, the
// server's current time and the received time for diagnosis.
type ErrorResponse struct {
	Error        string `json:"error"`
	Message      string `json:"message,omitempty"`
	CurrentTime  string `json:"current_time,omitempty"`
	ReceivedTime string `json:"received_time,omitempty"`
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339)
}

func snapshotFromTask(task domain.Task) TaskSnapshot {
	return TaskSnapshot{
		JobID:        task.JobID,
		BarkKey:      task.BarkKey,
		ScheduleTime: formatTime(task.ScheduleTime),
		Content:      task.Content,
		Status:       string(task.Status),
		Detail:       task.Detail,
		CreatedAt:    formatTime(task.CreatedAt),
	}
}
