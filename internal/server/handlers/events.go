package handlers

import (
	"net/http"
	"strings"

	"github.com/watzon/docwebhooks/internal/doctype"
	"github.com/watzon/docwebhooks/internal/webhooks"
)

const maxBatchEvents = 500

// EventHandlers ingest document lifecycle events.
type EventHandlers struct {
	doctypes *doctype.Registry
	trigger  *webhooks.Trigger
}

func NewEventHandlers(doctypes *doctype.Registry, trigger *webhooks.Trigger) *EventHandlers {
	return &EventHandlers{doctypes: doctypes, trigger: trigger}
}

// EventRequest is one lifecycle event. Name may also be given inside doc.
type EventRequest struct {
	Doctype string         `json:"doctype"`
	Name    string         `json:"name"`
	Event   doctype.Event  `json:"event"`
	Doc     map[string]any `json:"doc"`
}

type BatchRequest struct {
	Events []EventRequest `json:"events"`
}

type BatchResponse struct {
	Reports []*webhooks.DispatchReport `json:"reports"`
}

func (req *EventRequest) document() *doctype.Document {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		if n, ok := req.Doc["name"].(string); ok {
			name = n
		}
	}
	return doctype.NewDocument(req.Doctype, name, req.Doc)
}

// Dispatch handles POST /api/events.
func (h *EventHandlers) Dispatch(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := decodeJSON(r, &req); err != nil {
		BadRequest(w, "Invalid request body")
		return
	}

	if err := h.doctypes.CheckEvent(req.Doctype, req.Event); err != nil {
		ServiceError(w, err)
		return
	}
	doc := req.document()
	if doc.Name == "" {
		BadRequest(w, "Document name is required")
		return
	}

	ctx := webhooks.WithDispatchScope(r.Context())
	report := h.trigger.OnChange(ctx, doc, req.Event)

	JSON(w, http.StatusAccepted, report)
}

// DispatchBatch handles POST /api/events/batch. The whole batch shares one
// dispatch scope. Events are checked up front so a bad entry rejects the
// batch before anything is queued.
func (h *EventHandlers) DispatchBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := decodeJSON(r, &req); err != nil {
		BadRequest(w, "Invalid request body")
		return
	}

	if len(req.Events) == 0 {
		BadRequest(w, "At least one event is required")
		return
	}
	if len(req.Events) > maxBatchEvents {
		BadRequest(w, "Too many events in batch")
		return
	}

	docs := make([]*doctype.Document, len(req.Events))
	for i := range req.Events {
		if err := h.doctypes.CheckEvent(req.Events[i].Doctype, req.Events[i].Event); err != nil {
			ErrorWithDetails(w, http.StatusUnprocessableEntity, "INVALID_EVENT", err.Error(), map[string]int{
				"index": i,
			})
			return
		}
		docs[i] = req.Events[i].document()
		if docs[i].Name == "" {
			ErrorWithDetails(w, http.StatusBadRequest, "BAD_REQUEST", "Document name is required", map[string]int{
				"index": i,
			})
			return
		}
	}

	ctx := webhooks.WithDispatchScope(r.Context())
	resp := BatchResponse{Reports: make([]*webhooks.DispatchReport, 0, len(req.Events))}
	for i, doc := range docs {
		resp.Reports = append(resp.Reports, h.trigger.OnChange(ctx, doc, req.Events[i].Event))
	}

	JSON(w, http.StatusAccepted, resp)
}
