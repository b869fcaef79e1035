package webhooks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/watzon/docwebhooks/internal/doctype"
	"github.com/watzon/docwebhooks/internal/metrics"
	"github.com/watzon/docwebhooks/internal/queue"
)

// JobKind is the queue kind for webhook sends.
const JobKind = "webhook.send"

// JobPayload is what the trigger enqueues. The webhook is a snapshot taken
// at trigger time, so a later edit does not change an already queued send.
type JobPayload struct {
	Webhook  *Webhook          `json:"webhook"`
	Document *doctype.Document `json:"document"`
	Event    doctype.Event     `json:"event"`
}

// Enqueuer hands work to the background queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind string, payload any) (*queue.Job, error)
}

// ConditionMatcher evaluates webhook conditions.
type ConditionMatcher interface {
	MatchesContext(ctx context.Context, doc *doctype.Document, expr string) (bool, error)
}

// QueuedDispatch identifies one enqueued send.
type QueuedDispatch struct {
	WebhookID   string `json:"webhook_id"`
	WebhookName string `json:"webhook_name"`
	JobID       string `json:"job_id"`
}

// DispatchReport summarizes what a lifecycle event did. Warnings carry
// condition and enqueue failures; they never fail the event itself.
type DispatchReport struct {
	Doctype    string           `json:"doctype"`
	Name       string           `json:"name"`
	Event      doctype.Event    `json:"event"`
	Candidates int              `json:"candidates"`
	Queued     []QueuedDispatch `json:"queued"`
	Skipped    []string         `json:"skipped,omitempty"`
	Duplicates []string         `json:"duplicates,omitempty"`
	Warnings   []string         `json:"warnings,omitempty"`
}

// Trigger is called by the document lifecycle. It only matches and
// enqueues; network I/O happens on the queue's workers.
type Trigger struct {
	registry   *Registry
	conditions ConditionMatcher
	queue      Enqueuer
}

func NewTrigger(registry *Registry, conditions ConditionMatcher, q Enqueuer) *Trigger {
	return &Trigger{
		registry:   registry,
		conditions: conditions,
		queue:      q,
	}
}

// OnChange dispatches every enabled webhook registered for the document's
// doctype and event whose condition matches.
func (t *Trigger) OnChange(ctx context.Context, doc *doctype.Document, event doctype.Event) *DispatchReport {
	report := &DispatchReport{
		Doctype: doc.Doctype,
		Name:    doc.Name,
		Event:   event,
		Queued:  []QueuedDispatch{},
	}

	hooks, err := t.registry.For(ctx, doc.Doctype, event)
	if err != nil {
		log.Error().Err(err).Str("doctype", doc.Doctype).Msg("Failed to look up webhooks")
		report.Warnings = append(report.Warnings, err.Error())
		metrics.RecordDispatch(doc.Doctype, string(event), "error")
		return report
	}
	report.Candidates = len(hooks)

	scope := scopeFrom(ctx)
	for _, w := range hooks {
		ok, err := t.conditions.MatchesContext(ctx, doc, w.Condition)
		if err != nil {
			log.Warn().
				Err(err).
				Str("webhook", w.Name).
				Str("doctype", doc.Doctype).
				Str("name", doc.Name).
				Msg("Webhook condition failed, skipping")
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s: %v", w.Name, err))
			metrics.RecordConditionError(doc.Doctype)
			metrics.RecordDispatch(doc.Doctype, string(event), "error")
			continue
		}
		if !ok {
			report.Skipped = append(report.Skipped, w.Name)
			metrics.RecordDispatch(doc.Doctype, string(event), "skipped")
			continue
		}

		if scope != nil && !scope.claim(w.ID, doc) {
			report.Duplicates = append(report.Duplicates, w.Name)
			metrics.RecordDispatch(doc.Doctype, string(event), "duplicate")
			continue
		}

		job, err := t.queue.Enqueue(ctx, JobKind, JobPayload{Webhook: w, Document: doc, Event: event})
		if err != nil {
			log.Error().Err(err).Str("webhook", w.Name).Msg("Failed to enqueue webhook")
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s: %v", w.Name, err))
			metrics.RecordDispatch(doc.Doctype, string(event), "error")
			if scope != nil {
				scope.release(w.ID, doc)
			}
			continue
		}

		report.Queued = append(report.Queued, QueuedDispatch{
			WebhookID:   w.ID,
			WebhookName: w.Name,
			JobID:       job.ID,
		})
		metrics.RecordDispatch(doc.Doctype, string(event), "queued")
	}

	return report
}

var errSendFailed = errors.New("webhook send failed")

// HandleJob is the queue handler for JobKind.
func (e *Executor) HandleJob(ctx context.Context, job *queue.Job) error {
	var p JobPayload
	if err := job.Decode(&p); err != nil {
		return fmt.Errorf("decoding webhook job: %w", err)
	}
	if p.Webhook == nil {
		return fmt.Errorf("decoding webhook job: missing webhook")
	}

	entry := e.Execute(ctx, Execution{
		Webhook:  p.Webhook,
		Document: p.Document,
		Event:    p.Event,
		JobID:    job.ID,
	})
	if entry.Error != "" {
		return fmt.Errorf("%w: %s", errSendFailed, entry.Error)
	}
	return nil
}

type scopeKey struct{}

type dispatchScope struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// WithDispatchScope marks ctx as one logical transaction. Within a scope a
// webhook is queued at most once per document, however often it is saved.
func WithDispatchScope(ctx context.Context) context.Context {
	if scopeFrom(ctx) != nil {
		return ctx
	}
	return context.WithValue(ctx, scopeKey{}, &dispatchScope{seen: make(map[string]struct{})})
}

func scopeFrom(ctx context.Context) *dispatchScope {
	s, _ := ctx.Value(scopeKey{}).(*dispatchScope)
	return s
}

func scopeEntry(webhookID string, doc *doctype.Document) string {
	return webhookID + "\x00" + doc.Doctype + "\x00" + doc.Name
}

func (s *dispatchScope) claim(webhookID string, doc *doctype.Document) bool {
	key := scopeEntry(webhookID, doc)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}

func (s *dispatchScope) release(webhookID string, doc *doctype.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, scopeEntry(webhookID, doc))
}
