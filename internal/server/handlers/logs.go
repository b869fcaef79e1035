package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/watzon/docwebhooks/internal/requestlog"
)

// LogsHandlers serve the webhook request log.
type LogsHandlers struct {
	store *requestlog.Store
}

func NewLogsHandlers(store *requestlog.Store) *LogsHandlers {
	return &LogsHandlers{store: store}
}

// List handles GET /api/request-logs.
func (h *LogsHandlers) List(w http.ResponseWriter, r *http.Request) {
	opts, err := parseLogOptions(r)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	opts.WebhookID = r.URL.Query().Get("webhook_id")

	result, err := h.store.List(r.Context(), opts)
	if err != nil {
		ServiceError(w, err)
		return
	}
	JSON(w, http.StatusOK, result)
}

// Get handles GET /api/request-logs/{id}.
func (h *LogsHandlers) Get(w http.ResponseWriter, r *http.Request) {
	entry, err := h.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		ServiceError(w, err)
		return
	}
	JSON(w, http.StatusOK, entry)
}

func parseLogOptions(r *http.Request) (requestlog.ListOptions, error) {
	query := r.URL.Query()
	opts := requestlog.ListOptions{
		ReferenceDoctype: query.Get("reference_doctype"),
		ReferenceName:    query.Get("reference_name"),
	}

	switch status := requestlog.Status(query.Get("status")); status {
	case "", requestlog.StatusSent, requestlog.StatusFailed:
		opts.Status = status
	default:
		return opts, fmt.Errorf("status must be %q or %q", requestlog.StatusSent, requestlog.StatusFailed)
	}

	if v := query.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			return opts, fmt.Errorf("limit must be a positive integer")
		}
		opts.Limit = limit
	}
	if v := query.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			return opts, fmt.Errorf("offset must be a non-negative integer")
		}
		opts.Offset = offset
	}

	for _, p := range []struct {
		key string
		dst *time.Time
	}{{"since", &opts.Since}, {"until", &opts.Until}} {
		v := query.Get(p.key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return opts, fmt.Errorf("%s must be an RFC 3339 timestamp", p.key)
		}
		*p.dst = t
	}

	return opts, nil
}
