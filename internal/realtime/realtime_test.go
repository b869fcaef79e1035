package realtime

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/require"

	"github.com/watzon/docwebhooks/internal/requestlog"
)

func TestValidRoom(t *testing.T) {
	tests := []struct {
		room string
		want bool
	}{
		{"all", true},
		{"doctype:User", true},
		{"doctype:", false},
		{"doc:Sales Invoice/SINV-0001", true},
		{"doc:User", false},
		{"doc:/x", false},
		{"webhook:123", true},
		{"everything", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.room, func(t *testing.T) {
			if got := ValidRoom(tt.room); got != tt.want {
				t.Errorf("ValidRoom(%q) = %v, want %v", tt.room, got, tt.want)
			}
		})
	}
}

func TestPreview(t *testing.T) {
	require.Equal(t, "hello world", Preview("<h1>hello</h1>\n<script>alert(1)</script> world", 0))
	require.Equal(t, "{&#34;ok&#34;:true}", Preview(`{"ok":true}`, 0))
	require.Equal(t, "abc...", Preview("abcdef", 3))
	require.Equal(t, "a &amp; b", Preview("a &amp; b", 10))
}

func TestHubRooms(t *testing.T) {
	h := NewHub(&HubConfig{MaxConnections: 2, MaxRooms: 2})

	a := NewClient(nil, h)
	b := NewClient(nil, h)
	require.ErrorIs(t, h.Join(a, RoomAll), ErrUnknownClient)

	require.NoError(t, h.RegisterClient(a))
	require.NoError(t, h.RegisterClient(b))
	require.ErrorIs(t, h.RegisterClient(NewClient(nil, h)), ErrConnectionLimit)
	require.True(t, h.Full())

	require.NoError(t, h.Join(a, RoomAll))
	require.NoError(t, h.Join(a, RoomAll), "joining twice is a no-op")
	require.NoError(t, h.Join(a, DoctypeRoom("User")))
	require.ErrorIs(t, h.Join(a, WebhookRoom("1")), ErrRoomLimit)
	require.ErrorIs(t, h.Join(b, "bogus"), ErrInvalidRoom)
	require.NoError(t, h.Join(b, RoomAll))

	require.Equal(t, 2, h.RoomSize(RoomAll))
	require.Equal(t, HubStats{Connections: 2, Rooms: 2}, h.Stats())

	h.Leave(a, DoctypeRoom("User"))
	require.Equal(t, 0, h.RoomSize(DoctypeRoom("User")))

	h.UnregisterClient(a.ID)
	require.Equal(t, 1, h.RoomSize(RoomAll))
	require.Equal(t, HubStats{Connections: 1, Rooms: 1}, h.Stats())
}

func TestHubPublishDeliversOncePerClient(t *testing.T) {
	h := NewHub(nil)

	a := NewClient(nil, h)
	b := NewClient(nil, h)
	c := NewClient(nil, h)
	for _, cl := range []*Client{a, b, c} {
		require.NoError(t, h.RegisterClient(cl))
	}
	require.NoError(t, h.Join(a, RoomAll))
	require.NoError(t, h.Join(a, DoctypeRoom("User")))
	require.NoError(t, h.Join(b, DocRoom("User", "jane")))
	require.NoError(t, h.Join(c, DoctypeRoom("Note")))

	h.PublishRequestLog(&requestlog.Entry{
		ID:               "log-1",
		WebhookID:        "wh-1",
		ReferenceDoctype: "User",
		ReferenceName:    "jane",
		Status:           requestlog.StatusSent,
		StatusCode:       200,
		Response:         "<b>ok</b>",
	})

	require.Len(t, a.sendCh, 1)
	require.Len(t, b.sendCh, 1)
	require.Len(t, c.sendCh, 0)

	var msg Message
	require.NoError(t, json.Unmarshal(<-a.sendCh, &msg))
	require.Equal(t, MessageTypeEvent, msg.Type)
	require.Equal(t, EventRequestLog, msg.Event)
	require.Equal(t, DoctypeRoom("User"), msg.Room)

	var ev RequestLogEvent
	require.NoError(t, json.Unmarshal(msg.Payload, &ev))
	require.Equal(t, "log-1", ev.ID)
	require.Equal(t, "ok", ev.ResponsePreview)

	require.NoError(t, json.Unmarshal(<-b.sendCh, &msg))
	require.Equal(t, DocRoom("User", "jane"), msg.Room)
}

func TestHubOverWebSocket(t *testing.T) {
	h := NewHub(nil)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	t.Cleanup(h.Stop)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var msg Message
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	require.Equal(t, MessageTypeConnected, msg.Type)

	require.NoError(t, wsjson.Write(ctx, conn, Message{ID: "1", Type: MessageTypeJoin, Room: WebhookRoom("wh-1")}))
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	require.Equal(t, MessageTypeJoined, msg.Type)
	require.Equal(t, "1", msg.ID)

	require.NoError(t, wsjson.Write(ctx, conn, Message{ID: "2", Type: MessageTypeJoin, Room: "nope"}))
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	require.Equal(t, MessageTypeError, msg.Type)

	h.PublishRequestLog(&requestlog.Entry{ID: "log-1", WebhookID: "wh-1", ReferenceDoctype: "User", ReferenceName: "jane"})
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	require.Equal(t, MessageTypeEvent, msg.Type)
	require.Equal(t, WebhookRoom("wh-1"), msg.Room)

	require.NoError(t, wsjson.Write(ctx, conn, Message{ID: "3", Type: MessageTypePing}))
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	require.Equal(t, MessageTypePong, msg.Type)
}
