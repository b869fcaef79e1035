package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/watzon/docwebhooks/internal/auth"
	"github.com/watzon/docwebhooks/internal/config"
	"github.com/watzon/docwebhooks/internal/database"
	"github.com/watzon/docwebhooks/internal/engine"
	"github.com/watzon/docwebhooks/internal/requestlog"
	"github.com/watzon/docwebhooks/internal/webhooks"
)

const testSecret = "this-is-a-very-long-secret-key-for-jwt-signing"

func setupTestServer(t *testing.T, mutate func(cfg *config.Config)) *Server {
	t.Helper()

	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Database.Path = filepath.Join(t.TempDir(), "test.db")
	cfg.DocTypes = []config.DocTypeConfig{
		{Name: "User"},
		{Name: "Sales Invoice", Submittable: true},
	}
	if mutate != nil {
		mutate(cfg)
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	e, err := engine.New(context.Background(), cfg, db)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	return New(e, WithVersion("test"))
}

type hookReceiver struct {
	mu     sync.Mutex
	bodies []string
	srv    *httptest.Server
}

func newHookReceiver(t *testing.T) *hookReceiver {
	t.Helper()
	h := &hookReceiver{}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		h.mu.Lock()
		h.bodies = append(h.bodies, string(body))
		h.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *hookReceiver) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.bodies)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestServer_New(t *testing.T) {
	server := setupTestServer(t, nil)

	if server.router == nil {
		t.Error("expected router to be initialized")
	}
	if server.httpServer == nil {
		t.Error("expected http server to be initialized")
	}
	if server.Engine().Hub == nil {
		t.Error("expected realtime hub with default config")
	}
}

func TestServer_StartStop(t *testing.T) {
	server := setupTestServer(t, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(context.Background(), ln)
	}()

	url := "http://" + ln.Addr().String() + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 20*time.Millisecond)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		t.Errorf("shutdown failed: %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("unexpected server error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("server did not shut down in time")
	}
}

func TestHealthEndpoints(t *testing.T) {
	h := setupTestServer(t, nil).Handler()

	w := doJSON(t, h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[map[string]any](t, w)
	require.Equal(t, "healthy", resp["status"])
	require.Equal(t, "test", resp["version"])
	require.Contains(t, resp["components"], "queue")

	require.Equal(t, http.StatusOK, doJSON(t, h, http.MethodGet, "/health/ready", nil).Code)

	w = doJSON(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "docwebhooks_")
}

func TestHealthQueueBacklog(t *testing.T) {
	srv := setupTestServer(t, func(cfg *config.Config) {
		cfg.Dispatch.QueueSize = 2
	})
	h := srv.Handler()

	for i := 0; i < 3; i++ {
		_, err := srv.Engine().Queue.Enqueue(context.Background(), "test.noop", map[string]int{"n": i})
		require.NoError(t, err)
	}

	w := doJSON(t, h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code, "a backlog degrades but does not fail health")

	resp := decode[struct {
		Status     string `json:"status"`
		Components map[string]struct {
			Status   string         `json:"status"`
			Critical bool           `json:"critical"`
			Details  map[string]any `json:"details"`
		} `json:"components"`
	}](t, w)
	require.Equal(t, "degraded", resp.Status)
	require.Equal(t, "degraded", resp.Components["queue"].Status)
	require.False(t, resp.Components["queue"].Critical)
	require.EqualValues(t, 3, resp.Components["queue"].Details["queued"])
	require.EqualValues(t, 2, resp.Components["queue"].Details["backlog_limit"])
	require.True(t, resp.Components["database"].Critical)
	require.Equal(t, "healthy", resp.Components["database"].Status)
}

func TestHealthDatabaseDown(t *testing.T) {
	srv := setupTestServer(t, nil)
	h := srv.Handler()
	require.NoError(t, srv.Engine().DB.Close())

	w := doJSON(t, h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp := decode[map[string]any](t, w)
	require.Equal(t, "unhealthy", resp["status"])

	require.Equal(t, http.StatusServiceUnavailable, doJSON(t, h, http.MethodGet, "/health/ready", nil).Code)
	require.Equal(t, http.StatusOK, doJSON(t, h, http.MethodGet, "/health/live", nil).Code)
}

func TestWebhookCRUD(t *testing.T) {
	h := setupTestServer(t, nil).Handler()

	w := doJSON(t, h, http.MethodPost, "/api/webhooks", map[string]any{
		"name":            "user-created",
		"doctype":         "User",
		"event":           "after_insert",
		"request_url":     "https://example.com/hook",
		"enable_security": true,
		"secret":          "s3cret",
		"webhook_data":    []map[string]string{{"fieldname": "email", "key": "email"}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[webhooks.Webhook](t, w)
	require.NotEmpty(t, created.ID)
	require.True(t, created.Enabled)
	require.Equal(t, "POST", created.Method)
	require.Equal(t, "********", created.Secret)

	w = doJSON(t, h, http.MethodPost, "/api/webhooks", map[string]any{
		"name":        "user-created",
		"doctype":     "User",
		"event":       "after_insert",
		"request_url": "https://example.com/other",
	})
	require.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, h, http.MethodGet, "/api/webhooks/"+created.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "********", decode[webhooks.Webhook](t, w).Secret)

	update := map[string]any{
		"name":              "user-created",
		"doctype":           "User",
		"event":             "on_update",
		"request_url":       "https://example.com/updated",
		"request_structure": "json",
		"webhook_json":      `{"email": "{{ doc.email }}"}`,
		"enable_security":   true,
		"secret":            "********",
	}
	w = doJSON(t, h, http.MethodPut, "/api/webhooks/"+created.ID, update)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, "on_update", string(decode[webhooks.Webhook](t, w).Event))

	w = doJSON(t, h, http.MethodPost, "/api/webhooks/"+created.ID+"/disable", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.False(t, decode[webhooks.Webhook](t, w).Enabled)

	w = doJSON(t, h, http.MethodGet, "/api/webhooks?enabled=false&doctype=User", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.EqualValues(t, 1, decode[map[string]any](t, w)["count"])

	require.Equal(t, http.StatusBadRequest, doJSON(t, h, http.MethodGet, "/api/webhooks?enabled=maybe", nil).Code)

	require.Equal(t, http.StatusNoContent, doJSON(t, h, http.MethodDelete, "/api/webhooks/"+created.ID, nil).Code)
	require.Equal(t, http.StatusNotFound, doJSON(t, h, http.MethodGet, "/api/webhooks/"+created.ID, nil).Code)
	require.Equal(t, http.StatusNotFound, doJSON(t, h, http.MethodDelete, "/api/webhooks/"+created.ID, nil).Code)
}

func TestWebhookValidationErrors(t *testing.T) {
	h := setupTestServer(t, nil).Handler()

	tests := []struct {
		name  string
		body  map[string]any
		field string
	}{
		{
			name:  "unknown doctype",
			body:  map[string]any{"name": "a", "doctype": "Nope", "event": "after_insert", "request_url": "https://example.com"},
			field: "event",
		},
		{
			name:  "submit on non-submittable",
			body:  map[string]any{"name": "a", "doctype": "User", "event": "on_submit", "request_url": "https://example.com"},
			field: "event",
		},
		{
			name:  "bad condition",
			body:  map[string]any{"name": "a", "doctype": "User", "event": "after_insert", "request_url": "https://example.com", "condition": "doc.("},
			field: "condition",
		},
		{
			name:  "security without secret",
			body:  map[string]any{"name": "a", "doctype": "User", "event": "after_insert", "request_url": "https://example.com", "enable_security": true},
			field: "secret",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, h, http.MethodPost, "/api/webhooks", tt.body)
			require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())

			resp := decode[map[string]any](t, w)
			require.Equal(t, "VALIDATION_ERROR", resp["code"])
			require.Equal(t, tt.field, resp["details"].(map[string]any)["field"])
		})
	}

	require.Equal(t, http.StatusBadRequest, doJSON(t, h, http.MethodPost, "/api/webhooks", "not an object").Code)
}

func TestEventDispatchFlow(t *testing.T) {
	server := setupTestServer(t, nil)
	h := server.Handler()
	recv := newHookReceiver(t)

	w := doJSON(t, h, http.MethodPost, "/api/webhooks", map[string]any{
		"name":              "big-invoices",
		"doctype":           "Sales Invoice",
		"event":             "on_submit",
		"condition":         "doc.grand_total > 100.0",
		"request_url":       recv.srv.URL,
		"request_structure": "json",
		"webhook_json":      `{"name": "{{ doc.name }}"}`,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	hook := decode[webhooks.Webhook](t, w)

	w = doJSON(t, h, http.MethodPost, "/api/events", map[string]any{
		"doctype": "Sales Invoice",
		"name":    "SINV-1",
		"event":   "on_submit",
		"doc":     map[string]any{"grand_total": 500.0},
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	report := decode[webhooks.DispatchReport](t, w)
	require.Len(t, report.Queued, 1)
	require.Equal(t, hook.ID, report.Queued[0].WebhookID)

	w = doJSON(t, h, http.MethodPost, "/api/events", map[string]any{
		"doctype": "Sales Invoice",
		"event":   "on_submit",
		"doc":     map[string]any{"name": "SINV-2", "grand_total": 5.0},
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	report = decode[webhooks.DispatchReport](t, w)
	require.Empty(t, report.Queued)
	require.Equal(t, []string{"big-invoices"}, report.Skipped)

	n, err := server.Engine().Queue.ProcessPending(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 1, recv.count())

	w = doJSON(t, h, http.MethodGet, "/api/webhooks/"+hook.ID+"/logs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	logs := decode[requestlog.ListResult](t, w)
	require.Equal(t, 1, logs.Total)
	require.Equal(t, "SINV-1", logs.Entries[0].ReferenceName)
	require.Equal(t, requestlog.StatusSent, logs.Entries[0].Status)

	w = doJSON(t, h, http.MethodGet, "/api/request-logs/"+logs.Entries[0].ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"name":"SINV-1"}`, decode[requestlog.Entry](t, w).Data)

	w = doJSON(t, h, http.MethodGet, "/api/request-logs?status=failed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 0, decode[requestlog.ListResult](t, w).Total)

	require.Equal(t, http.StatusBadRequest, doJSON(t, h, http.MethodGet, "/api/request-logs?status=bogus", nil).Code)
	require.Equal(t, http.StatusNotFound, doJSON(t, h, http.MethodGet, "/api/request-logs/missing", nil).Code)
}

func TestEventKeepsLargeIntegers(t *testing.T) {
	server := setupTestServer(t, nil)
	h := server.Handler()
	recv := newHookReceiver(t)

	w := doJSON(t, h, http.MethodPost, "/api/webhooks", map[string]any{
		"name":              "invoice-ids",
		"doctype":           "Sales Invoice",
		"event":             "on_submit",
		"condition":         "doc.customer_id > 100",
		"request_url":       recv.srv.URL,
		"request_structure": "json",
		"webhook_json":      `{"z": "{{ doc.name }}", "customer_id": {{ doc.customer_id }}}`,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(t, h, http.MethodPost, "/api/events", json.RawMessage(`{
		"doctype": "Sales Invoice",
		"name": "SINV-9",
		"event": "on_submit",
		"doc": {"customer_id": 9007199254740993}
	}`))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	require.Len(t, decode[webhooks.DispatchReport](t, w).Queued, 1)

	n, err := server.Engine().Queue.ProcessPending(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	recv.mu.Lock()
	defer recv.mu.Unlock()
	require.Equal(t, []string{`{"z":"SINV-9","customer_id":9007199254740993}`}, recv.bodies)
}

func TestEventRejections(t *testing.T) {
	h := setupTestServer(t, nil).Handler()

	w := doJSON(t, h, http.MethodPost, "/api/events", map[string]any{
		"doctype": "Unknown", "name": "X-1", "event": "after_insert",
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = doJSON(t, h, http.MethodPost, "/api/events", map[string]any{
		"doctype": "User", "name": "U-1", "event": "on_submit",
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = doJSON(t, h, http.MethodPost, "/api/events", map[string]any{
		"doctype": "User", "event": "after_insert",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEventBatchSharesScope(t *testing.T) {
	server := setupTestServer(t, nil)
	h := server.Handler()
	recv := newHookReceiver(t)

	w := doJSON(t, h, http.MethodPost, "/api/webhooks", map[string]any{
		"name":        "user-changed",
		"doctype":     "User",
		"event":       "on_update",
		"request_url": recv.srv.URL,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	event := func(name string) map[string]any {
		return map[string]any{"doctype": "User", "name": name, "event": "on_update", "doc": map[string]any{}}
	}

	w = doJSON(t, h, http.MethodPost, "/api/events/batch", map[string]any{
		"events": []map[string]any{event("U-1"), event("U-1"), event("U-2")},
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	resp := decode[struct {
		Reports []webhooks.DispatchReport `json:"reports"`
	}](t, w)
	require.Len(t, resp.Reports, 3)
	require.Len(t, resp.Reports[0].Queued, 1)
	require.Empty(t, resp.Reports[1].Queued)
	require.Equal(t, []string{"user-changed"}, resp.Reports[1].Duplicates)
	require.Len(t, resp.Reports[2].Queued, 1)

	n, err := server.Engine().Queue.ProcessPending(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)

	w = doJSON(t, h, http.MethodPost, "/api/events/batch", map[string]any{
		"events": []map[string]any{event("U-3"), {"doctype": "Nope", "name": "N-1", "event": "on_update"}},
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.EqualValues(t, 1, decode[map[string]any](t, w)["details"].(map[string]any)["index"])

	require.Equal(t, http.StatusBadRequest, doJSON(t, h, http.MethodPost, "/api/events/batch", map[string]any{"events": []any{}}).Code)
}

func TestWebhookTestEndpoint(t *testing.T) {
	h := setupTestServer(t, nil).Handler()
	recv := newHookReceiver(t)

	w := doJSON(t, h, http.MethodPost, "/api/webhooks", map[string]any{
		"name":         "never-matches",
		"doctype":      "User",
		"event":        "after_insert",
		"condition":    "false",
		"request_url":  recv.srv.URL,
		"webhook_data": []map[string]string{{"fieldname": "email", "key": "mail"}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	hook := decode[webhooks.Webhook](t, w)

	w = doJSON(t, h, http.MethodPost, "/api/webhooks/"+hook.ID+"/test", map[string]any{
		"name": "U-9",
		"doc":  map[string]any{"email": "a@b.c"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	entry := decode[requestlog.Entry](t, w)
	require.Equal(t, requestlog.StatusSent, entry.Status)
	require.Equal(t, "mail=a%40b.c", entry.Data)
	require.Equal(t, "U-9", entry.ReferenceName)
	require.Equal(t, 1, recv.count())

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/"+hook.ID+"/test", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, 2, recv.count())

	require.Equal(t, http.StatusNotFound, doJSON(t, h, http.MethodPost, "/api/webhooks/missing/test", nil).Code)
}

func TestAPIRequiresToken(t *testing.T) {
	server := setupTestServer(t, func(cfg *config.Config) {
		cfg.Auth.JWT.Required = true
		cfg.Auth.JWT.Secret = testSecret
	})
	h := server.Handler()

	w := doJSON(t, h, http.MethodGet, "/api/webhooks", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.NotEmpty(t, w.Header().Get("WWW-Authenticate"))

	require.Equal(t, http.StatusOK, doJSON(t, h, http.MethodGet, "/health", nil).Code)

	token, _, err := auth.NewJWTService(server.cfg.Auth.JWT).Issue("ops", time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/webhooks", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRealtimeDisabled(t *testing.T) {
	h := setupTestServer(t, func(cfg *config.Config) {
		cfg.Realtime.Enabled = false
	}).Handler()

	require.Equal(t, http.StatusNotFound, doJSON(t, h, http.MethodGet, "/api/realtime", nil).Code)
}
