package webhooks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/watzon/docwebhooks/internal/doctype"
	"github.com/watzon/docwebhooks/internal/requestlog"
)

func execute(t *testing.T, h *harness, w *Webhook, doc *doctype.Document) *requestlog.Entry {
	t.Helper()
	w.Normalize()
	require.NoError(t, h.validator.Validate(w))
	return h.executor.Execute(context.Background(), Execution{Webhook: w, Document: doc, Event: w.Event})
}

func TestExecuteFormBody(t *testing.T) {
	h := newHarness(t)
	rcv := newReceiver(t)

	w := baseWebhook()
	w.RequestURL = rcv.URL + "/post"
	w.WebhookData = []DataField{
		{Fieldname: "name", Key: "name"},
		{Fieldname: "age", Key: "age"},
		{Fieldname: "nickname", Key: "nick"},
	}
	doc := doctype.NewDocument("User", "jane@example.com", map[string]any{"age": float64(31)})

	entry := execute(t, h, w, doc)
	require.Equal(t, requestlog.StatusSent, entry.Status, entry.Error)

	reqs := rcv.all()
	require.Len(t, reqs, 1)
	require.Equal(t, "application/x-www-form-urlencoded", reqs[0].Headers.Get("Content-Type"))

	form, err := url.ParseQuery(reqs[0].Body)
	require.NoError(t, err)
	require.Equal(t, "jane@example.com", form.Get("name"))
	require.Equal(t, "31", form.Get("age"))
	require.True(t, form.Has("nick"))
	require.Equal(t, "", form.Get("nick"))

	data := FormData(w, doc)
	require.Equal(t, url.Values{"name": {"jane@example.com"}, "age": {"31"}, "nick": {""}}, data)
}

func TestExecuteJSONBody(t *testing.T) {
	h := newHarness(t)
	rcv := newReceiver(t)

	w := baseWebhook()
	w.RequestURL = rcv.URL + "/post"
	w.RequestStructure = StructureJSON
	w.WebhookData = []DataField{{Fieldname: "name", Key: "name"}}
	w.WebhookJSON = "{\n\t\"name\": \"{{ doc.name }}\"\n}"

	entry := execute(t, h, w, doctype.NewDocument("User", "jane", nil))
	require.Equal(t, requestlog.StatusSent, entry.Status, entry.Error)
	require.Nil(t, w.WebhookData)

	reqs := rcv.all()
	require.Len(t, reqs, 1)
	require.Equal(t, "application/json", reqs[0].Headers.Get("Content-Type"))
	require.JSONEq(t, `{"name":"jane"}`, reqs[0].Body)
	require.JSONEq(t, `{"name":"jane"}`, entry.Data)
}

func TestExecuteJSONArrayBody(t *testing.T) {
	h := newHarness(t)
	rcv := newReceiver(t)

	w := baseWebhook()
	w.Doctype = "Note"
	w.RequestURL = rcv.URL + "/post"
	w.RequestStructure = StructureJSON
	w.Headers = []HeaderPair{{Key: "Content-Type", Value: "application/json"}}
	w.WebhookJSON = "[\r\n{% for n in range(3) %}\r\n    {\r\n        \"title\": \"{{ doc.title }}\",\r\n        \"n\": {{ n }}\r\n    }\r\n    {%- if not loop.last -%}\r\n        , \r\n    {%endif%}\r\n{%endfor%}\r\n]"

	entry := execute(t, h, w, doctype.NewDocument("Note", "n-1", map[string]any{"title": "Test Webhook Note"}))
	require.Equal(t, requestlog.StatusSent, entry.Status, entry.Error)

	var items []map[string]any
	require.NoError(t, json.Unmarshal([]byte(rcv.all()[0].Body), &items))
	require.Len(t, items, 3)
	require.Equal(t, "Test Webhook Note", items[0]["title"])
	require.EqualValues(t, 2, items[2]["n"])
}

func TestExecuteJSONBodyIsSentAsRendered(t *testing.T) {
	h := newHarness(t)
	rcv := newReceiver(t)

	w := baseWebhook()
	w.Doctype = "Sales Invoice"
	w.Event = doctype.EventOnSubmit
	w.RequestURL = rcv.URL
	w.RequestStructure = StructureJSON
	w.WebhookJSON = "{\"z\": 1,\n \"id\": {{ doc.big }}, \"a\": \"x<y\"}"

	doc := doctype.NewDocument("Sales Invoice", "SINV-1", map[string]any{"big": int64(9007199254740993)})
	entry := execute(t, h, w, doc)
	require.Equal(t, requestlog.StatusSent, entry.Status, entry.Error)

	want := `{"z":1,"id":9007199254740993,"a":"x<y"}`
	require.Equal(t, want, rcv.all()[0].Body)
	require.Equal(t, want, entry.Data)
}

func TestExecuteJSONBodyFromQueuedDocument(t *testing.T) {
	h := newHarness(t)
	rcv := newReceiver(t)

	w := baseWebhook()
	w.RequestURL = rcv.URL
	w.RequestStructure = StructureJSON
	w.WebhookJSON = `{"id": {{ doc.id }}}`
	w.Normalize()
	require.NoError(t, h.validator.Validate(w))

	var doc doctype.Document
	require.NoError(t, json.Unmarshal([]byte(`{"doctype":"User","name":"jane","fields":{"id":9007199254740993}}`), &doc))

	entry := h.executor.Execute(context.Background(), Execution{Webhook: w, Document: &doc, Event: w.Event})
	require.Equal(t, requestlog.StatusSent, entry.Status, entry.Error)
	require.Equal(t, `{"id":9007199254740993}`, rcv.all()[0].Body)
}

func TestExecuteHeaderCaseCollision(t *testing.T) {
	h := newHarness(t)
	rcv := newReceiver(t)

	w := baseWebhook()
	w.RequestURL = rcv.URL
	w.RequestStructure = StructureJSON
	w.WebhookJSON = "{}"
	w.Headers = []HeaderPair{
		{Key: "x-token", Value: "first"},
		{Key: "X-Token", Value: "last"},
		{Key: "content-type", Value: "application/vnd.api+json"},
	}

	var entry *requestlog.Entry
	for i := 0; i < 20; i++ {
		entry = execute(t, h, w, doctype.NewDocument("User", "jane", nil))
		require.Equal(t, requestlog.StatusSent, entry.Status, entry.Error)
	}

	for _, req := range rcv.all() {
		require.Equal(t, []string{"last"}, req.Headers.Values("X-Token"))
		require.Equal(t, []string{"application/vnd.api+json"}, req.Headers.Values("Content-Type"))
	}

	stored, err := h.logs.Get(context.Background(), entry.ID)
	require.NoError(t, err)
	require.Equal(t, "last", stored.Headers["X-Token"])
	require.Equal(t, "application/vnd.api+json", stored.Headers["Content-Type"])
	require.NotContains(t, stored.Headers, "x-token")
}

func TestExecuteDynamicURL(t *testing.T) {
	h := newHarness(t)
	rcv := newReceiver(t)
	doc := doctype.NewDocument("Note", "n-1", map[string]any{"title": "hello"})

	w := baseWebhook()
	w.Doctype = "Note"
	w.RequestStructure = StructureJSON
	w.WebhookJSON = "{}"
	w.RequestURL = rcv.URL + "/anything/{{ doc.doctype }}"
	w.IsDynamicURL = true

	entry := execute(t, h, w, doc)
	require.Equal(t, requestlog.StatusSent, entry.Status, entry.Error)
	require.Equal(t, rcv.URL+"/anything/Note", entry.URL)

	w.RequestURL = rcv.URL + "/anything/{{doc.doctype}}"
	w.IsDynamicURL = false
	entry = execute(t, h, w, doc)
	require.Equal(t, requestlog.StatusSent, entry.Status, entry.Error)
	require.Equal(t, rcv.URL+"/anything/{{doc.doctype}}", entry.URL)

	reqs := rcv.all()
	require.Equal(t, "/anything/Note", reqs[0].Path)
	require.Equal(t, "/anything/{{doc.doctype}}", reqs[1].Path)
}

func TestExecuteHeadersAndSignature(t *testing.T) {
	h := newHarness(t)
	rcv := newReceiver(t)

	w := baseWebhook()
	w.RequestURL = rcv.URL
	w.RequestStructure = StructureJSON
	w.WebhookJSON = `{"name": "{{ doc.name }}"}`
	w.EnableSecurity = true
	w.Secret = "s3cret"
	w.Headers = []HeaderPair{
		{Key: "Authorization", Value: "Bearer abc"},
		{Key: "X-Incomplete"},
		{Key: "X-Env", Value: "test"},
	}

	entry := execute(t, h, w, doctype.NewDocument("User", "jane", nil))
	require.Equal(t, requestlog.StatusSent, entry.Status, entry.Error)

	req := rcv.all()[0]
	require.Equal(t, "Bearer abc", req.Headers.Get("Authorization"), "redaction only affects the log")
	require.Equal(t, "test", req.Headers.Get("X-Env"))
	require.Empty(t, req.Headers.Values("X-Incomplete"))
	require.True(t, VerifySignature("s3cret", []byte(req.Body), req.Headers.Get("X-Webhook-Signature")))

	stored, err := h.logs.Get(context.Background(), entry.ID)
	require.NoError(t, err)
	require.Equal(t, requestlog.Redacted, stored.Headers["Authorization"])
	require.Equal(t, "test", stored.Headers["X-Env"])
	require.NotContains(t, stored.Headers, "X-Incomplete")
}

func TestExecuteFailuresAreLogged(t *testing.T) {
	t.Run("non-2xx", func(t *testing.T) {
		h := newHarness(t)
		rcv := newReceiver(t)
		rcv.status = http.StatusInternalServerError

		w := baseWebhook()
		w.RequestURL = rcv.URL
		entry := execute(t, h, w, doctype.NewDocument("User", "jane", nil))

		require.Equal(t, requestlog.StatusFailed, entry.Status)
		require.Equal(t, 500, entry.StatusCode)
		require.Equal(t, `{"ok":true}`, entry.Response)
		require.Equal(t, 1, h.logCount(t, requestlog.ListOptions{Status: requestlog.StatusFailed}))
	})

	t.Run("timeout", func(t *testing.T) {
		h := newHarness(t)
		rcv := newReceiver(t)
		rcv.delay = 1500 * time.Millisecond

		w := baseWebhook()
		w.RequestURL = rcv.URL
		w.Timeout = 1
		entry := execute(t, h, w, doctype.NewDocument("User", "jane", nil))

		require.Equal(t, requestlog.StatusFailed, entry.Status)
		require.NotEmpty(t, entry.Error)
		require.Equal(t, 1, h.logCount(t, requestlog.ListOptions{}))
	})

	t.Run("connection refused", func(t *testing.T) {
		h := newHarness(t)
		rcv := newReceiver(t)
		target := rcv.URL
		rcv.Close()

		w := baseWebhook()
		w.RequestURL = target
		entry := execute(t, h, w, doctype.NewDocument("User", "jane", nil))

		require.Equal(t, requestlog.StatusFailed, entry.Status)
		require.Equal(t, 1, h.logCount(t, requestlog.ListOptions{}))
	})

	t.Run("rendered body is not json", func(t *testing.T) {
		h := newHarness(t)
		rcv := newReceiver(t)

		w := baseWebhook()
		w.RequestURL = rcv.URL
		w.RequestStructure = StructureJSON
		w.WebhookJSON = `{"name": {{ doc.name }}}`
		entry := execute(t, h, w, doctype.NewDocument("User", "jane", nil))

		require.Equal(t, requestlog.StatusFailed, entry.Status)
		require.Contains(t, entry.Error, "not JSON")
		require.Empty(t, rcv.all(), "nothing is sent when the body cannot be built")
		require.Equal(t, 1, h.logCount(t, requestlog.ListOptions{}))
	})
}

func TestExecuteTruncatesResponse(t *testing.T) {
	h := newHarness(t)
	h.executor.cfg.MaxResponseBytes = 4
	rcv := newReceiver(t)

	w := baseWebhook()
	w.RequestURL = rcv.URL
	entry := execute(t, h, w, doctype.NewDocument("User", "jane", nil))

	require.Equal(t, requestlog.StatusSent, entry.Status)
	require.Equal(t, `{"ok`, entry.Response)
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"héllo", 2, "h"},
		{"héllo", 3, "hé"},
		{"日本", 4, "日"},
		{"日本", 0, "日本"},
		{"abc", 10, "abc"},
	}
	for _, tt := range tests {
		got := truncate(tt.in, tt.n)
		if got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
		require.True(t, utf8.ValidString(got))
	}
}

func TestExecuteTruncatesMultibyteResponse(t *testing.T) {
	h := newHarness(t)
	h.executor.cfg.MaxResponseBytes = 5
	rcv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok: 日本語"))
	}))
	t.Cleanup(rcv.Close)

	w := baseWebhook()
	w.RequestURL = rcv.URL
	entry := execute(t, h, w, doctype.NewDocument("User", "jane", nil))

	require.Equal(t, requestlog.StatusSent, entry.Status)
	require.Equal(t, "ok: ", entry.Response)
}

type recordingPublisher struct {
	entries []*requestlog.Entry
}

func (p *recordingPublisher) PublishRequestLog(entry *requestlog.Entry) {
	p.entries = append(p.entries, entry)
}

func TestExecutePublishes(t *testing.T) {
	h := newHarness(t)
	rcv := newReceiver(t)
	pub := &recordingPublisher{}
	h.executor.SetPublisher(pub)

	w := baseWebhook()
	w.ID = "wh-1"
	w.RequestURL = rcv.URL
	execute(t, h, w, doctype.NewDocument("User", "jane", nil))

	require.Len(t, pub.entries, 1)
	require.Equal(t, "wh-1", pub.entries[0].WebhookID)
	require.Equal(t, "jane", pub.entries[0].ReferenceName)
}
