// Package realtime pushes request log events to WebSocket clients grouped
// into rooms.
package realtime

import (
	"encoding/json"
	"strings"
	"time"
)

// MessageType represents the type of WebSocket message.
type MessageType string

const (
	MessageTypeJoin  MessageType = "join"
	MessageTypeLeave MessageType = "leave"
	MessageTypePing  MessageType = "ping"

	MessageTypeConnected MessageType = "connected"
	MessageTypeJoined    MessageType = "joined"
	MessageTypeLeft      MessageType = "left"
	MessageTypeEvent     MessageType = "event"
	MessageTypeError     MessageType = "error"
	MessageTypePong      MessageType = "pong"
)

// EventRequestLog is published after every webhook attempt.
const EventRequestLog = "webhook_request_log"

// Message is the WebSocket envelope in both directions.
type Message struct {
	ID      string          `json:"id,omitempty"`
	Type    MessageType     `json:"type"`
	Room    string          `json:"room,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ConnectedPayload is the payload for connected messages.
type ConnectedPayload struct {
	ClientID string `json:"client_id"`
}

// ErrorPayload is the payload for error messages.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RequestLogEvent is the payload of EventRequestLog. The response is only a
// plain-text preview; the full row is available from the API.
type RequestLogEvent struct {
	ID               string    `json:"id"`
	WebhookID        string    `json:"webhook_id"`
	WebhookName      string    `json:"webhook_name"`
	ReferenceDoctype string    `json:"reference_doctype"`
	ReferenceName    string    `json:"reference_name"`
	Event            string    `json:"event"`
	URL              string    `json:"url"`
	Status           string    `json:"status"`
	StatusCode       int       `json:"status_code"`
	Error            string    `json:"error,omitempty"`
	DurationMs       int64     `json:"duration_ms"`
	ResponsePreview  string    `json:"response_preview,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// RoomAll receives every event.
const RoomAll = "all"

func DoctypeRoom(doctype string) string {
	return "doctype:" + doctype
}

func DocRoom(doctype, name string) string {
	return "doc:" + doctype + "/" + name
}

func WebhookRoom(id string) string {
	return "webhook:" + id
}

// ValidRoom reports whether a client may join room.
func ValidRoom(room string) bool {
	if room == RoomAll {
		return true
	}
	for _, prefix := range []string{"doctype:", "webhook:"} {
		if rest, ok := strings.CutPrefix(room, prefix); ok {
			return rest != ""
		}
	}
	if rest, ok := strings.CutPrefix(room, "doc:"); ok {
		dt, name, found := strings.Cut(rest, "/")
		return found && dt != "" && name != ""
	}
	return false
}

// ErrorCode represents an error code for WebSocket errors.
type ErrorCode string

const (
	ErrorCodeInvalidMessage ErrorCode = "INVALID_MESSAGE"
	ErrorCodeInvalidRoom    ErrorCode = "INVALID_ROOM"
	ErrorCodeRoomLimit      ErrorCode = "ROOM_LIMIT_REACHED"
	ErrorCodeInternalError  ErrorCode = "INTERNAL_ERROR"
)
