// Package requestlog persists one row per webhook dispatch attempt.
// Rows are append-only; retention deletes them, nothing updates them.
package requestlog

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("request log not found")

type Status string

const (
	StatusSent   Status = "sent"
	StatusFailed Status = "failed"
)

// Entry is a single dispatch attempt with the request as sent and the
// response as received.
type Entry struct {
	ID               string            `json:"id"`
	WebhookID        string            `json:"webhook_id"`
	WebhookName      string            `json:"webhook_name"`
	JobID            string            `json:"job_id,omitempty"`
	ReferenceDoctype string            `json:"reference_doctype"`
	ReferenceName    string            `json:"reference_name"`
	Event            string            `json:"event"`
	Method           string            `json:"method"`
	URL              string            `json:"url"`
	Headers          map[string]string `json:"headers"`
	Data             string            `json:"data"`
	Status           Status            `json:"status"`
	StatusCode       int               `json:"status_code"`
	Response         string            `json:"response"`
	Error            string            `json:"error,omitempty"`
	DurationMs       int64             `json:"duration_ms"`
	CreatedAt        time.Time         `json:"created_at"`
}

// ListOptions filters and pages List. Zero values mean "any".
type ListOptions struct {
	WebhookID        string
	ReferenceDoctype string
	ReferenceName    string
	Status           Status
	Since            time.Time
	Until            time.Time
	Limit            int
	Offset           int
}

type ListResult struct {
	Entries []*Entry `json:"entries"`
	Total   int      `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
}
