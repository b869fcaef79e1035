package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/watzon/docwebhooks/internal/doctype"
	"github.com/watzon/docwebhooks/internal/requestlog"
	"github.com/watzon/docwebhooks/internal/webhooks"
)

// WebhookHandlers handle webhook configuration CRUD.
type WebhookHandlers struct {
	service *webhooks.Service
	logs    *requestlog.Store
}

func NewWebhookHandlers(service *webhooks.Service, logs *requestlog.Store) *WebhookHandlers {
	return &WebhookHandlers{service: service, logs: logs}
}

// WebhookRequest is the body of create and update. Enabled defaults to true.
type WebhookRequest struct {
	Name             string                    `json:"name"`
	Doctype          string                    `json:"doctype"`
	Event            doctype.Event             `json:"event"`
	Enabled          *bool                     `json:"enabled,omitempty"`
	Condition        string                    `json:"condition,omitempty"`
	RequestURL       string                    `json:"request_url"`
	IsDynamicURL     bool                      `json:"is_dynamic_url"`
	Method           string                    `json:"method,omitempty"`
	RequestStructure webhooks.RequestStructure `json:"request_structure,omitempty"`
	WebhookJSON      string                    `json:"webhook_json,omitempty"`
	WebhookData      []webhooks.DataField      `json:"webhook_data,omitempty"`
	Headers          []webhooks.HeaderPair     `json:"headers,omitempty"`
	EnableSecurity   bool                      `json:"enable_security"`
	Secret           string                    `json:"secret,omitempty"`
	Timeout          int                       `json:"timeout,omitempty"`
}

func (req *WebhookRequest) webhook() *webhooks.Webhook {
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	return &webhooks.Webhook{
		Name:             req.Name,
		Doctype:          req.Doctype,
		Event:            req.Event,
		Enabled:          enabled,
		Condition:        req.Condition,
		RequestURL:       req.RequestURL,
		IsDynamicURL:     req.IsDynamicURL,
		Method:           req.Method,
		RequestStructure: req.RequestStructure,
		WebhookJSON:      req.WebhookJSON,
		WebhookData:      req.WebhookData,
		Headers:          req.Headers,
		EnableSecurity:   req.EnableSecurity,
		Secret:           req.Secret,
		Timeout:          req.Timeout,
	}
}

// TestRequest carries the sample document for a test send.
type TestRequest struct {
	Name string         `json:"name"`
	Doc  map[string]any `json:"doc"`
}

// List handles GET /api/webhooks.
func (h *WebhookHandlers) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := webhooks.ListFilter{
		Doctype: query.Get("doctype"),
		Event:   query.Get("event"),
	}
	if v := query.Get("enabled"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			BadRequest(w, "enabled must be true or false")
			return
		}
		filter.Enabled = &enabled
	}

	list, err := h.service.List(r.Context(), filter)
	if err != nil {
		ServiceError(w, err)
		return
	}

	out := make([]*webhooks.Webhook, len(list))
	for i, wh := range list {
		out[i] = wh.Public()
	}

	JSON(w, http.StatusOK, map[string]any{
		"webhooks": out,
		"count":    len(out),
	})
}

// Get handles GET /api/webhooks/{id}.
func (h *WebhookHandlers) Get(w http.ResponseWriter, r *http.Request) {
	wh, err := h.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		ServiceError(w, err)
		return
	}
	JSON(w, http.StatusOK, wh.Public())
}

// Create handles POST /api/webhooks.
func (h *WebhookHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req WebhookRequest
	if err := decodeJSON(r, &req); err != nil {
		BadRequest(w, "Invalid JSON body: "+err.Error())
		return
	}

	created, err := h.service.Create(r.Context(), req.webhook())
	if err != nil {
		ServiceError(w, err)
		return
	}

	JSON(w, http.StatusCreated, created.Public())
}

// Update handles PUT /api/webhooks/{id}. The body replaces the whole
// configuration; a masked secret keeps the stored one.
func (h *WebhookHandlers) Update(w http.ResponseWriter, r *http.Request) {
	var req WebhookRequest
	if err := decodeJSON(r, &req); err != nil {
		BadRequest(w, "Invalid JSON body: "+err.Error())
		return
	}

	wh := req.webhook()
	wh.ID = r.PathValue("id")

	updated, err := h.service.Update(r.Context(), wh)
	if err != nil {
		ServiceError(w, err)
		return
	}

	JSON(w, http.StatusOK, updated.Public())
}

// Delete handles DELETE /api/webhooks/{id}.
func (h *WebhookHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), r.PathValue("id")); err != nil {
		ServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Enable handles POST /api/webhooks/{id}/enable.
func (h *WebhookHandlers) Enable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, true)
}

// Disable handles POST /api/webhooks/{id}/disable.
func (h *WebhookHandlers) Disable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, false)
}

func (h *WebhookHandlers) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	wh, err := h.service.SetEnabled(r.Context(), r.PathValue("id"), enabled)
	if err != nil {
		ServiceError(w, err)
		return
	}
	JSON(w, http.StatusOK, wh.Public())
}

// Test handles POST /api/webhooks/{id}/test. The body is optional; without
// it the webhook is sent for an empty document.
func (h *WebhookHandlers) Test(w http.ResponseWriter, r *http.Request) {
	var req TestRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		BadRequest(w, "Invalid JSON body: "+err.Error())
		return
	}

	var doc *doctype.Document
	if req.Doc != nil || req.Name != "" {
		name := req.Name
		if n, ok := req.Doc["name"].(string); ok && name == "" {
			name = n
		}
		doc = doctype.NewDocument("", name, req.Doc)
	}

	entry, err := h.service.Test(r.Context(), r.PathValue("id"), doc)
	if err != nil {
		ServiceError(w, err)
		return
	}

	JSON(w, http.StatusOK, entry)
}

// Logs handles GET /api/webhooks/{id}/logs. Logs outlive their webhook, so
// a deleted id still lists its history.
func (h *WebhookHandlers) Logs(w http.ResponseWriter, r *http.Request) {
	opts, err := parseLogOptions(r)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	opts.WebhookID = r.PathValue("id")

	result, err := h.logs.List(r.Context(), opts)
	if err != nil {
		ServiceError(w, err)
		return
	}
	JSON(w, http.StatusOK, result)
}
