package realtime

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"github.com/watzon/docwebhooks/internal/metrics"
	"github.com/watzon/docwebhooks/internal/requestlog"
)

const previewLength = 280

// HubConfig holds configuration for the hub.
type HubConfig struct {
	MaxConnections int
	MaxRooms       int
}

// Hub tracks connected clients and the rooms they joined.
type Hub struct {
	cfg     HubConfig
	clients map[string]*Client
	index   *roomIndex
	closed  bool
	mu      sync.RWMutex
}

func NewHub(cfg *HubConfig) *Hub {
	c := HubConfig{MaxConnections: 1000, MaxRooms: 50}
	if cfg != nil {
		if cfg.MaxConnections > 0 {
			c.MaxConnections = cfg.MaxConnections
		}
		if cfg.MaxRooms > 0 {
			c.MaxRooms = cfg.MaxRooms
		}
	}
	return &Hub{
		cfg:     c,
		clients: make(map[string]*Client),
		index:   newRoomIndex(),
	}
}

// Full reports whether the hub is at its connection limit.
func (h *Hub) Full() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed || len(h.clients) >= h.cfg.MaxConnections
}

// RegisterClient adds a new client to the hub.
func (h *Hub) RegisterClient(client *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}
	if len(h.clients) >= h.cfg.MaxConnections {
		return ErrConnectionLimit
	}

	h.clients[client.ID] = client
	h.updateStats()
	log.Debug().Str("client_id", client.ID).Int("total_clients", len(h.clients)).Msg("Client connected")
	return nil
}

// UnregisterClient removes a client and its room memberships.
func (h *Hub) UnregisterClient(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client, ok := h.clients[clientID]
	if !ok {
		return
	}

	for _, room := range client.Rooms() {
		h.index.remove(room, clientID)
	}
	delete(h.clients, clientID)
	h.updateStats()
	log.Debug().Str("client_id", clientID).Int("total_clients", len(h.clients)).Msg("Client disconnected")
}

// Join adds the client to room.
func (h *Hub) Join(client *Client, room string) error {
	if !ValidRoom(room) {
		return fmt.Errorf("%w: %q", ErrInvalidRoom, room)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return ErrUnknownClient
	}

	client.mu.Lock()
	defer client.mu.Unlock()
	if _, ok := client.rooms[room]; ok {
		return nil
	}
	if len(client.rooms) >= h.cfg.MaxRooms {
		return ErrRoomLimit
	}
	client.rooms[room] = struct{}{}

	h.index.add(room, client)
	h.updateStats()
	return nil
}

// Leave removes the client from room. Leaving a room not joined is a no-op.
func (h *Hub) Leave(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.mu.Lock()
	delete(client.rooms, room)
	client.mu.Unlock()

	h.index.remove(room, client.ID)
	h.updateStats()
}

// Publish sends event to every client in any of rooms. A client in several
// of the rooms receives the event once, tagged with the first room it
// matched. It returns the number of clients reached.
func (h *Hub) Publish(rooms []string, event string, payload any) (int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encoding %s payload: %w", event, err)
	}

	h.mu.RLock()
	delivered := make(map[string]bool)
	type target struct {
		client *Client
		room   string
	}
	var targets []target
	for _, room := range rooms {
		for _, c := range h.index.members(room) {
			if delivered[c.ID] {
				continue
			}
			delivered[c.ID] = true
			targets = append(targets, target{client: c, room: room})
		}
	}
	h.mu.RUnlock()

	for _, t := range targets {
		_ = t.client.Send(&Message{
			Type:    MessageTypeEvent,
			Room:    t.room,
			Event:   event,
			Payload: data,
		})
	}
	return len(targets), nil
}

// PublishRequestLog broadcasts a request log row to the rooms of its
// doctype, its document, its webhook and all.
func (h *Hub) PublishRequestLog(entry *requestlog.Entry) {
	rooms := []string{
		DocRoom(entry.ReferenceDoctype, entry.ReferenceName),
		DoctypeRoom(entry.ReferenceDoctype),
		WebhookRoom(entry.WebhookID),
		RoomAll,
	}

	ev := &RequestLogEvent{
		ID:               entry.ID,
		WebhookID:        entry.WebhookID,
		WebhookName:      entry.WebhookName,
		ReferenceDoctype: entry.ReferenceDoctype,
		ReferenceName:    entry.ReferenceName,
		Event:            entry.Event,
		URL:              entry.URL,
		Status:           string(entry.Status),
		StatusCode:       entry.StatusCode,
		Error:            entry.Error,
		DurationMs:       entry.DurationMs,
		ResponsePreview:  Preview(entry.Response, previewLength),
		CreatedAt:        entry.CreatedAt,
	}

	if _, err := h.Publish(rooms, EventRequestLog, ev); err != nil {
		log.Error().Err(err).Str("log_id", entry.ID).Msg("Failed to publish request log")
	}
}

// Serve runs an accepted connection until it closes.
func (h *Hub) Serve(conn *websocket.Conn) {
	client := NewClient(conn, h)
	if err := h.RegisterClient(client); err != nil {
		conn.Close(websocket.StatusTryAgainLater, err.Error())
		return
	}
	defer h.UnregisterClient(client.ID)

	connected, _ := json.Marshal(&ConnectedPayload{ClientID: client.ID})
	_ = client.Send(&Message{Type: MessageTypeConnected, Payload: connected})

	client.Run()
}

// ServeHTTP upgrades the request and serves the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Full() {
		http.Error(w, ErrConnectionLimit.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to accept WebSocket connection")
		return
	}

	h.Serve(conn)
}

// Stop disconnects every client. The hub refuses new clients afterwards.
func (h *Hub) Stop() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[string]*Client)
	h.index = newRoomIndex()
	h.updateStats()
	h.mu.Unlock()

	for _, client := range clients {
		client.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

type HubStats struct {
	Connections int `json:"connections"`
	Rooms       int `json:"rooms"`
}

func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return HubStats{
		Connections: len(h.clients),
		Rooms:       h.index.rooms(),
	}
}

// RoomSize returns the number of clients in room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.index.size(room)
}

// updateStats must be called with h.mu held.
func (h *Hub) updateStats() {
	metrics.UpdateRealtimeStats(len(h.clients), h.index.rooms())
}
