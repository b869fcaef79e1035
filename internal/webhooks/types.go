// Package webhooks matches document lifecycle events to webhook
// configurations and sends the resulting HTTP requests.
package webhooks

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/watzon/docwebhooks/internal/doctype"
)

var (
	ErrNotFound       = errors.New("webhook not found")
	ErrDuplicateName  = errors.New("webhook name already exists")
	ErrValidation     = errors.New("invalid webhook")
	ErrInvalidURL     = errors.New("invalid request url")
	ErrInvalidEvent   = errors.New("invalid event for doctype")
	ErrInvalidBody    = errors.New("invalid request body")
	ErrInvalidMethod  = errors.New("invalid request method")
	ErrMissingSecret  = errors.New("secret required when security is enabled")
	ErrDuplicateField = errors.New("same field entered more than once")
)

// RequestStructure is how the request body is encoded.
type RequestStructure string

const (
	StructureForm RequestStructure = "form"
	StructureJSON RequestStructure = "json"
)

// DataField maps a document field to a form key.
type DataField struct {
	Fieldname string `json:"fieldname" yaml:"fieldname"`
	Key       string `json:"key" yaml:"key"`
}

// HeaderPair is one configured request header. Pairs missing either half
// are kept in the configuration but never sent.
type HeaderPair struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value,omitempty" yaml:"value,omitempty"`
}

// Webhook binds a doctype and lifecycle event to an outbound HTTP request.
type Webhook struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	Doctype          string           `json:"doctype"`
	Event            doctype.Event    `json:"event"`
	Enabled          bool             `json:"enabled"`
	Condition        string           `json:"condition,omitempty"`
	RequestURL       string           `json:"request_url"`
	IsDynamicURL     bool             `json:"is_dynamic_url"`
	Method           string           `json:"method"`
	RequestStructure RequestStructure `json:"request_structure"`
	WebhookJSON      string           `json:"webhook_json,omitempty"`
	WebhookData      []DataField      `json:"webhook_data,omitempty"`
	Headers          []HeaderPair     `json:"headers,omitempty"`
	EnableSecurity   bool             `json:"enable_security"`
	Secret           string           `json:"secret,omitempty"`
	// Timeout in seconds; zero uses the dispatch default.
	Timeout   int       `json:"timeout"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

var allowedMethods = map[string]bool{
	"POST":   true,
	"PUT":    true,
	"PATCH":  true,
	"DELETE": true,
}

// Normalize applies defaults and makes the two body representations
// mutually exclusive: form structure drops the JSON template and JSON
// structure drops the field mappings.
func (w *Webhook) Normalize() {
	w.Name = strings.TrimSpace(w.Name)
	w.Doctype = strings.TrimSpace(w.Doctype)
	w.RequestURL = strings.TrimSpace(w.RequestURL)
	w.Condition = strings.TrimSpace(w.Condition)

	w.Method = strings.ToUpper(strings.TrimSpace(w.Method))
	if w.Method == "" {
		w.Method = "POST"
	}

	if w.RequestStructure == "" {
		w.RequestStructure = StructureForm
	}

	switch w.RequestStructure {
	case StructureForm:
		w.WebhookJSON = ""
	case StructureJSON:
		w.WebhookData = nil
	}
}

// Clone returns a deep copy. The registry hands out clones so callers
// cannot mutate cached configurations.
func (w *Webhook) Clone() *Webhook {
	c := *w
	if w.WebhookData != nil {
		c.WebhookData = append([]DataField(nil), w.WebhookData...)
	}
	if w.Headers != nil {
		c.Headers = append([]HeaderPair(nil), w.Headers...)
	}
	return &c
}

// Public returns a copy safe to show to API clients.
func (w *Webhook) Public() *Webhook {
	c := w.Clone()
	if c.Secret != "" {
		c.Secret = "********"
	}
	return c
}

// ResolvedHeaders returns the headers that are actually sent. Incomplete
// pairs are dropped. Pairs are applied in configured order and names are
// case-insensitive, so of two keys differing only by case the later wins.
func (w *Webhook) ResolvedHeaders() http.Header {
	headers := make(http.Header, len(w.Headers))
	for _, h := range w.Headers {
		if h.Key == "" || h.Value == "" {
			continue
		}
		headers.Set(h.Key, h.Value)
	}
	return headers
}

// RequestTimeout returns the per-request timeout, falling back to def.
func (w *Webhook) RequestTimeout(def time.Duration) time.Duration {
	if w.Timeout > 0 {
		return time.Duration(w.Timeout) * time.Second
	}
	return def
}

// ListFilter narrows Store.List. Zero values mean "any".
type ListFilter struct {
	Doctype string
	Event   string
	Enabled *bool
}
