// Package async provides the durable scrape job queue and the worker pool that drains it.
package async

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/teranos/gdscraper/errors"
)

// JobStatus represents the current state of a job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// jobIDPrefix marks queue job IDs apart from correlation keys in logs
const jobIDPrefix = "JB"

// IsValidStatus returns true if the status string is a valid JobStatus
func IsValidStatus(s string) bool {
	switch JobStatus(s) {
	case JobStatusQueued, JobStatusRunning,
		JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no worker will touch a job in this status again
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Job is one queued unit of work.
//
// The queue is handler-agnostic: HandlerName routes the job and Payload is
// owned by that handler. The payload carries credentials, so it is dropped
// once the job reaches a terminal status. Source identifies the job outside the queue; for
// scrape jobs it is the correlation key of the input message.
type Job struct {
	ID          string          `json:"id"`
	HandlerName string          `json:"handler_name"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Source      string          `json:"source"`
	Status      JobStatus       `json:"status"`
	Outcome     string          `json:"outcome,omitempty"` // Set by the handler, e.g. "success" or a failure reason
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// NewJob creates a queued job for handlerName
func NewJob(handlerName string, source string, payload json.RawMessage) (*Job, error) {
	if handlerName == "" {
		return nil, errors.New("handlerName cannot be empty")
	}

	id := uuid.New()
	now := time.Now().UTC()
	return &Job{
		ID:          jobIDPrefix + base58.Encode(id[:]),
		HandlerName: handlerName,
		Payload:     payload,
		Source:      source,
		Status:      JobStatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Start marks the job as running
func (j *Job) Start() {
	now := time.Now().UTC()
	j.Status = JobStatusRunning
	j.StartedAt = &now
	j.UpdatedAt = now
}

// Complete marks the job as completed with the handler's outcome
func (j *Job) Complete(outcome string) {
	now := time.Now().UTC()
	j.Status = JobStatusCompleted
	j.Outcome = outcome
	j.Payload = nil
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Fail marks the job as failed with an error message
func (j *Job) Fail(err error) {
	now := time.Now().UTC()
	j.Status = JobStatusFailed
	j.Error = err.Error()
	j.Payload = nil
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Cancel marks the job as cancelled with a reason
func (j *Job) Cancel(reason string) {
	now := time.Now().UTC()
	j.Status = JobStatusCancelled
	j.Error = reason
	j.Payload = nil
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Duration is how long the job ran, zero until it both started and finished
func (j *Job) Duration() time.Duration {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.StartedAt)
}
