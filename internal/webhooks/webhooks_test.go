package webhooks

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/watzon/docwebhooks/internal/condition"
	"github.com/watzon/docwebhooks/internal/config"
	"github.com/watzon/docwebhooks/internal/database"
	"github.com/watzon/docwebhooks/internal/doctype"
	"github.com/watzon/docwebhooks/internal/queue"
	"github.com/watzon/docwebhooks/internal/requestlog"
	"github.com/watzon/docwebhooks/internal/template"
)

type received struct {
	Method  string
	Path    string
	Query   string
	Headers http.Header
	Body    string
}

// receiver records every request it gets and answers with status.
type receiver struct {
	*httptest.Server
	mu       sync.Mutex
	requests []received
	status   int
	delay    time.Duration
}

func newReceiver(t *testing.T) *receiver {
	t.Helper()
	r := &receiver{status: http.StatusOK}
	r.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		r.requests = append(r.requests, received{
			Method:  req.Method,
			Path:    req.URL.Path,
			Query:   req.URL.RawQuery,
			Headers: req.Header.Clone(),
			Body:    string(body),
		})
		status, delay := r.status, r.delay
		r.mu.Unlock()

		if delay > 0 {
			time.Sleep(delay)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(r.Close)
	return r
}

func (r *receiver) all() []received {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]received(nil), r.requests...)
}

type harness struct {
	db        *database.DB
	doctypes  *doctype.Registry
	store     *Store
	registry  *Registry
	logs      *requestlog.Store
	queue     *queue.Queue
	executor  *Executor
	service   *Service
	trigger   *Trigger
	validator *Validator
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	dbCfg := config.Default().Database
	dbCfg.Path = filepath.Join(t.TempDir(), "test.db")
	db, err := database.Open(&dbCfg)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	doctypes := doctype.NewRegistry(
		doctype.DocType{Name: "User"},
		doctype.DocType{Name: "Note"},
		doctype.DocType{Name: "Sales Invoice", Submittable: true},
	)

	conditions, err := condition.NewEvaluator()
	require.NoError(t, err)
	renderer := template.NewRenderer()

	redactor, err := requestlog.NewRedactor([]string{"authorization"})
	require.NoError(t, err)

	h := &harness{db: db, doctypes: doctypes}
	h.store = NewStore(db)
	h.registry = NewRegistry(h.store)
	h.logs = requestlog.NewStore(db, redactor)
	h.queue = queue.New(db, nil)
	h.executor = NewExecutor(nil, renderer, h.logs, ExecutorConfig{
		RequestTimeout:   2 * time.Second,
		MaxResponseBytes: 1024,
		SignatureHeader:  "X-Webhook-Signature",
	})
	h.queue.Handle(JobKind, h.executor.HandleJob)
	h.validator = NewValidator(doctypes, conditions, renderer)
	h.service = NewService(h.store, h.registry, h.validator, h.executor)
	h.trigger = NewTrigger(h.registry, conditions, h.queue)
	return h
}

func (h *harness) create(t *testing.T, w *Webhook) *Webhook {
	t.Helper()
	created, err := h.service.Create(context.Background(), w)
	require.NoError(t, err)
	return created
}

func (h *harness) logCount(t *testing.T, opts requestlog.ListOptions) int {
	t.Helper()
	n, err := h.logs.Count(context.Background(), opts)
	require.NoError(t, err)
	return n
}

func (h *harness) drain(t *testing.T) int {
	t.Helper()
	n, err := h.queue.ProcessPending(context.Background())
	require.NoError(t, err)
	return n
}
