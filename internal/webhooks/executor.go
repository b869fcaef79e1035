package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/watzon/docwebhooks/internal/config"
	"github.com/watzon/docwebhooks/internal/doctype"
	"github.com/watzon/docwebhooks/internal/metrics"
	"github.com/watzon/docwebhooks/internal/requestlog"
)

// Renderer expands templates against a document.
type Renderer interface {
	Render(src string, doc *doctype.Document) (string, error)
}

// LogWriter appends request log rows.
type LogWriter interface {
	Create(ctx context.Context, entry *requestlog.Entry) error
}

// Publisher is told about every written request log row.
type Publisher interface {
	PublishRequestLog(entry *requestlog.Entry)
}

// ExecutorConfig holds the dispatch settings the executor needs.
type ExecutorConfig struct {
	RequestTimeout   time.Duration
	MaxResponseBytes int64
	MaxLogBodyBytes  int
	SignatureHeader  string
	UserAgent        string
}

// ExecutorConfigFrom builds an ExecutorConfig from the loaded configuration.
func ExecutorConfigFrom(cfg *config.Config) ExecutorConfig {
	return ExecutorConfig{
		RequestTimeout:   cfg.Dispatch.RequestTimeout,
		MaxResponseBytes: cfg.Dispatch.MaxResponseBytes,
		MaxLogBodyBytes:  cfg.RequestLog.MaxBodyBytes,
		SignatureHeader:  cfg.Dispatch.SignatureHeader,
		UserAgent:        cfg.Dispatch.UserAgent,
	}
}

// Execution is one dispatch attempt.
type Execution struct {
	Webhook  *Webhook
	Document *doctype.Document
	Event    doctype.Event
	JobID    string
}

// Executor builds, sends and logs webhook requests.
type Executor struct {
	client    *http.Client
	renderer  Renderer
	logs      LogWriter
	publisher Publisher
	cfg       ExecutorConfig
}

func NewExecutor(client *http.Client, renderer Renderer, logs LogWriter, cfg ExecutorConfig) *Executor {
	if client == nil {
		client = &http.Client{}
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = config.DefaultRequestTimeout
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = config.DefaultMaxResponseBytes
	}
	if cfg.SignatureHeader == "" {
		cfg.SignatureHeader = config.DefaultSignatureHeader
	}
	return &Executor{
		client:   client,
		renderer: renderer,
		logs:     logs,
		cfg:      cfg,
	}
}

// SetPublisher attaches the realtime publisher. It must be called before
// the executor is used.
func (e *Executor) SetPublisher(p Publisher) {
	e.publisher = p
}

// Execute performs one attempt and returns its log entry. Failures are
// recorded in the entry, never returned.
func (e *Executor) Execute(ctx context.Context, x Execution) *requestlog.Entry {
	start := time.Now()
	w := x.Webhook

	entry := &requestlog.Entry{
		WebhookID:   w.ID,
		WebhookName: w.Name,
		JobID:       x.JobID,
		Event:       string(x.Event),
		Method:      w.Method,
		URL:         w.RequestURL,
		Status:      requestlog.StatusFailed,
	}
	if x.Document != nil {
		entry.ReferenceDoctype = x.Document.Doctype
		entry.ReferenceName = x.Document.Name
	}

	req, body, err := e.buildRequest(ctx, w, x.Document, entry)
	if err == nil {
		entry.Data = truncate(string(body), e.cfg.MaxLogBodyBytes)
		e.send(ctx, w, req, entry)
	} else {
		entry.Error = err.Error()
	}

	entry.DurationMs = time.Since(start).Milliseconds()
	metrics.RecordSend(entry.ReferenceDoctype, string(entry.Status), time.Since(start))

	if entry.Status == requestlog.StatusSent {
		log.Debug().
			Str("webhook", w.Name).
			Str("doctype", entry.ReferenceDoctype).
			Str("name", entry.ReferenceName).
			Int("status_code", entry.StatusCode).
			Msg("Webhook sent")
	} else {
		log.Warn().
			Str("webhook", w.Name).
			Str("doctype", entry.ReferenceDoctype).
			Str("name", entry.ReferenceName).
			Int("status_code", entry.StatusCode).
			Str("error", entry.Error).
			Msg("Webhook request failed")
	}

	// The log write must outlive a cancelled dispatch context.
	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.logs.Create(logCtx, entry); err != nil {
		log.Error().Err(err).Str("webhook", w.Name).Msg("Failed to write webhook request log")
		return entry
	}

	if e.publisher != nil {
		e.publisher.PublishRequestLog(entry)
	}

	return entry
}

func (e *Executor) buildRequest(ctx context.Context, w *Webhook, doc *doctype.Document, entry *requestlog.Entry) (*http.Request, []byte, error) {
	target := w.RequestURL
	if w.IsDynamicURL {
		rendered, err := e.renderer.Render(w.RequestURL, doc)
		if err != nil {
			return nil, nil, fmt.Errorf("rendering url: %w", err)
		}
		target = strings.TrimSpace(rendered)
		entry.URL = target
	}

	headers := w.ResolvedHeaders()

	var (
		body        []byte
		contentType string
		err         error
	)
	switch w.RequestStructure {
	case StructureJSON:
		body, err = e.jsonBody(w, doc)
		contentType = "application/json"
	default:
		body = formBody(w, doc)
		contentType = "application/x-www-form-urlencoded"
	}
	if err != nil {
		entry.Headers = flattenHeaders(headers)
		return nil, nil, err
	}

	if headers.Get("Content-Type") == "" {
		headers.Set("Content-Type", contentType)
	}
	if w.EnableSecurity && w.Secret != "" {
		headers.Set(e.cfg.SignatureHeader, Sign(w.Secret, body))
	}
	if e.cfg.UserAgent != "" && headers.Get("User-Agent") == "" {
		headers.Set("User-Agent", e.cfg.UserAgent)
	}
	entry.Headers = flattenHeaders(headers)

	req, err := http.NewRequestWithContext(ctx, w.Method, target, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return nil, nil, fmt.Errorf("%w: %q", ErrInvalidURL, target)
	}
	req.Header = headers

	return req, body, nil
}

// jsonBody renders the JSON template and compacts it. Key order, number
// precision and string escapes are sent exactly as rendered.
func (e *Executor) jsonBody(w *Webhook, doc *doctype.Document) ([]byte, error) {
	if strings.TrimSpace(w.WebhookJSON) == "" {
		return []byte("{}"), nil
	}

	rendered, err := e.renderer.Render(w.WebhookJSON, doc)
	if err != nil {
		return nil, fmt.Errorf("rendering body: %w", err)
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(rendered)); err != nil {
		return nil, fmt.Errorf("%w: rendered body is not JSON: %w", ErrInvalidBody, err)
	}
	return buf.Bytes(), nil
}

// FormData maps each configured key to the document's value for its field.
// Fields the document does not have map to the empty string.
func FormData(w *Webhook, doc *doctype.Document) url.Values {
	values := url.Values{}
	for _, f := range w.WebhookData {
		var v any
		if doc != nil {
			v = doc.Get(f.Fieldname)
		}
		values.Set(f.Key, formatValue(v))
	}
	return values
}

func formBody(w *Webhook, doc *doctype.Document) []byte {
	return []byte(FormData(w, doc).Encode())
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case fmt.Stringer:
		return val.String()
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}

func (e *Executor) send(ctx context.Context, w *Webhook, req *http.Request, entry *requestlog.Entry) {
	timeout := w.RequestTimeout(e.cfg.RequestTimeout)
	sendCtx, cancel := context.WithTimeout(req.Context(), timeout)
	defer cancel()

	resp, err := e.client.Do(req.WithContext(sendCtx))
	if err != nil {
		entry.Error = err.Error()
		return
	}
	defer resp.Body.Close()

	entry.StatusCode = resp.StatusCode

	data, err := io.ReadAll(io.LimitReader(resp.Body, e.cfg.MaxResponseBytes+1))
	if err != nil {
		entry.Error = fmt.Sprintf("reading response: %v", err)
		return
	}
	entry.Response = truncate(string(data), int(e.cfg.MaxResponseBytes))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		entry.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		return
	}
	entry.Status = requestlog.StatusSent
}

// flattenHeaders records one value per header for the request log.
func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[len(v)-1]
		}
	}
	return out
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:runeBoundary(s, n)]
}

// runeBoundary returns the largest index <= n that starts a rune in s.
func runeBoundary(s string, n int) int {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return n
}
