package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/watzon/docwebhooks/internal/doctype"
	"github.com/watzon/docwebhooks/internal/requestlog"
	"github.com/watzon/docwebhooks/internal/webhooks"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		}
	}
}

func Error(w http.ResponseWriter, status int, code string, message string) {
	JSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func ErrorWithDetails(w http.ResponseWriter, status int, code string, message string, details any) {
	JSON(w, status, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}

func NotFound(w http.ResponseWriter, message string) {
	Error(w, http.StatusNotFound, "NOT_FOUND", message)
}

func BadRequest(w http.ResponseWriter, message string) {
	Error(w, http.StatusBadRequest, "BAD_REQUEST", message)
}

func InternalError(w http.ResponseWriter, message string) {
	Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", message)
}

// ServiceError maps errors from the webhook and request log layers onto
// HTTP responses. Anything unrecognized is logged and reported as a 500.
func ServiceError(w http.ResponseWriter, err error) {
	var verr *webhooks.ValidationError
	switch {
	case errors.Is(err, webhooks.ErrNotFound):
		NotFound(w, "Webhook not found")
	case errors.Is(err, requestlog.ErrNotFound):
		NotFound(w, "Request log not found")
	case errors.Is(err, webhooks.ErrDuplicateName):
		Error(w, http.StatusConflict, "DUPLICATE_NAME", err.Error())
	case errors.As(err, &verr):
		ErrorWithDetails(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", verr.Message, map[string]string{
			"field": verr.Field,
		})
	case errors.Is(err, doctype.ErrUnknownDocType),
		errors.Is(err, doctype.ErrUnknownEvent),
		errors.Is(err, doctype.ErrNotSubmittable):
		Error(w, http.StatusUnprocessableEntity, "INVALID_EVENT", err.Error())
	default:
		log.Error().Err(err).Msg("Request failed")
		InternalError(w, "Internal error")
	}
}

// decodeJSON keeps numbers as json.Number so document fields are not forced
// through float64.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	return dec.Decode(v)
}
