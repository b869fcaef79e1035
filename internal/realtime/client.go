package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	writeTimeout   = 10 * time.Second
	pingInterval   = 30 * time.Second
	pongTimeout    = 60 * time.Second
	maxMessageSize = 16 * 1024
	sendBufferSize = 256
)

// Client represents a connected WebSocket client.
type Client struct {
	ID     string
	conn   *websocket.Conn
	hub    *Hub
	rooms  map[string]struct{}
	mu     sync.RWMutex
	sendCh chan []byte
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

// NewClient creates a new WebSocket client.
func NewClient(conn *websocket.Conn, hub *Hub) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		ID:     uuid.New().String(),
		conn:   conn,
		hub:    hub,
		rooms:  make(map[string]struct{}),
		sendCh: make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Run starts the write and ping loops and reads until the connection ends.
func (c *Client) Run() {
	go c.writePump()
	go c.pingPump()
	c.readPump()
}

// Close terminates the connection with status. It is safe to call more
// than once.
func (c *Client) Close(status websocket.StatusCode, reason string) {
	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return
	default:
		close(c.done)
	}
	c.mu.Unlock()

	c.cancel()
	if c.conn != nil {
		c.conn.Close(status, reason)
	}
}

// Send queues a message to be sent to the client. A full buffer drops the
// message rather than blocking the publisher.
func (c *Client) Send(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.sendRaw(data)
}

func (c *Client) sendRaw(data []byte) error {
	select {
	case c.sendCh <- data:
		return nil
	case <-c.done:
		return context.Canceled
	default:
		log.Warn().Str("client_id", c.ID).Msg("Client send buffer full, dropping message")
		return nil
	}
}

// SendError sends an error message to the client.
func (c *Client) SendError(msgID string, code ErrorCode, message string) error {
	payload, _ := json.Marshal(&ErrorPayload{
		Code:    string(code),
		Message: message,
	})

	return c.Send(&Message{
		ID:      msgID,
		Type:    MessageTypeError,
		Payload: payload,
	})
}

// Rooms returns the rooms the client has joined.
func (c *Client) Rooms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

func (c *Client) inRoom(room string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.rooms[room]
	return ok
}

func (c *Client) readPump() {
	defer c.Close(websocket.StatusNormalClosure, "closing")

	c.conn.SetReadLimit(maxMessageSize)

	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				log.Debug().Err(err).Str("client_id", c.ID).Msg("WebSocket read error")
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = c.SendError("", ErrorCodeInvalidMessage, "Invalid JSON message")
			continue
		}

		c.handleMessage(&msg)
	}
}

func (c *Client) writePump() {
	for {
		select {
		case data := <-c.sendCh:
			ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
			err := c.conn.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				log.Debug().Err(err).Str("client_id", c.ID).Msg("WebSocket write error")
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) pingPump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(c.ctx, pongTimeout)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				log.Debug().Err(err).Str("client_id", c.ID).Msg("Ping failed")
				c.Close(websocket.StatusPolicyViolation, "ping timeout")
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) handleMessage(msg *Message) {
	switch msg.Type {
	case MessageTypeJoin:
		c.handleJoin(msg)
	case MessageTypeLeave:
		c.hub.Leave(c, msg.Room)
		_ = c.Send(&Message{ID: msg.ID, Type: MessageTypeLeft, Room: msg.Room})
	case MessageTypePing:
		_ = c.Send(&Message{ID: msg.ID, Type: MessageTypePong})
	default:
		_ = c.SendError(msg.ID, ErrorCodeInvalidMessage, "Unknown message type")
	}
}

func (c *Client) handleJoin(msg *Message) {
	err := c.hub.Join(c, msg.Room)
	switch {
	case err == nil:
		_ = c.Send(&Message{ID: msg.ID, Type: MessageTypeJoined, Room: msg.Room})
	case errors.Is(err, ErrInvalidRoom):
		_ = c.SendError(msg.ID, ErrorCodeInvalidRoom, err.Error())
	case errors.Is(err, ErrRoomLimit):
		_ = c.SendError(msg.ID, ErrorCodeRoomLimit, err.Error())
	default:
		log.Error().Err(err).Str("client_id", c.ID).Str("room", msg.Room).Msg("Failed to join room")
		_ = c.SendError(msg.ID, ErrorCodeInternalError, err.Error())
	}
}
