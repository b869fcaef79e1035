// Package queue runs persisted background jobs on a bounded worker pool.
package queue

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNoHandler   = errors.New("no handler registered for job kind")
	ErrJobNotFound = errors.New("job not found")
)

type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Job is one unit of background work. Payload is the JSON the producer
// enqueued; handlers decode it themselves.
type Job struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	Status     Status          `json:"status"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// Decode unmarshals the job payload into v.
func (j *Job) Decode(v any) error {
	return json.Unmarshal(j.Payload, v)
}
