package webhooks

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/watzon/docwebhooks/internal/doctype"
	"github.com/watzon/docwebhooks/internal/requestlog"
)

const maskedSecret = "********"

// Service is the write path for configurations. Every write is validated
// and invalidates the registry entries it touches.
type Service struct {
	store     *Store
	registry  *Registry
	validator *Validator
	executor  *Executor
}

func NewService(store *Store, registry *Registry, validator *Validator, executor *Executor) *Service {
	return &Service{
		store:     store,
		registry:  registry,
		validator: validator,
		executor:  executor,
	}
}

func (s *Service) Create(ctx context.Context, w *Webhook) (*Webhook, error) {
	w.ID = ""
	w.Normalize()
	if err := s.validator.Validate(w); err != nil {
		return nil, err
	}

	if err := s.store.Create(ctx, w); err != nil {
		return nil, err
	}
	s.registry.Invalidate(w.Doctype)

	log.Info().Str("id", w.ID).Str("name", w.Name).Str("doctype", w.Doctype).Str("event", string(w.Event)).Msg("Webhook created")
	return w, nil
}

// Update replaces the configuration stored under w.ID. A masked secret
// keeps the stored one.
func (s *Service) Update(ctx context.Context, w *Webhook) (*Webhook, error) {
	existing, err := s.store.Get(ctx, w.ID)
	if err != nil {
		return nil, err
	}

	if w.Secret == maskedSecret {
		w.Secret = existing.Secret
	}
	w.CreatedAt = existing.CreatedAt

	w.Normalize()
	if err := s.validator.Validate(w); err != nil {
		return nil, err
	}

	if err := s.store.Update(ctx, w); err != nil {
		return nil, err
	}
	s.registry.Invalidate(existing.Doctype, w.Doctype)

	log.Info().Str("id", w.ID).Str("name", w.Name).Msg("Webhook updated")
	return w, nil
}

// Delete removes the configuration. Its request logs are kept.
func (s *Service) Delete(ctx context.Context, id string) error {
	existing, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.registry.Invalidate(existing.Doctype)

	log.Info().Str("id", id).Str("name", existing.Name).Msg("Webhook deleted")
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*Webhook, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]*Webhook, error) {
	return s.store.List(ctx, filter)
}

func (s *Service) SetEnabled(ctx context.Context, id string, enabled bool) (*Webhook, error) {
	w, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if w.Enabled == enabled {
		return w, nil
	}

	w.Enabled = enabled
	if err := s.store.Update(ctx, w); err != nil {
		return nil, err
	}
	s.registry.Invalidate(w.Doctype)

	log.Info().Str("id", id).Str("name", w.Name).Bool("enabled", enabled).Msg("Webhook toggled")
	return w, nil
}

// Test sends the webhook for doc right away, bypassing the condition and
// the queue, and returns the resulting log row.
func (s *Service) Test(ctx context.Context, id string, doc *doctype.Document) (*requestlog.Entry, error) {
	w, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		doc = doctype.NewDocument(w.Doctype, "", nil)
	}
	if doc.Doctype == "" {
		doc.Doctype = w.Doctype
	}

	return s.executor.Execute(ctx, Execution{Webhook: w, Document: doc, Event: w.Event}), nil
}

// ImportResult lists the names touched by Import.
type ImportResult struct {
	Created []string `json:"created"`
	Updated []string `json:"updated"`
}

// Import upserts definitions by name. Every definition is validated before
// anything is written.
func (s *Service) Import(ctx context.Context, defs []*Webhook) (*ImportResult, error) {
	seen := make(map[string]bool, len(defs))
	for _, w := range defs {
		w.Normalize()
		if err := s.validator.Validate(w); err != nil {
			return nil, fmt.Errorf("webhook %q: %w", w.Name, err)
		}
		if seen[w.Name] {
			return nil, fmt.Errorf("webhook %q: %w", w.Name, ErrDuplicateName)
		}
		seen[w.Name] = true
	}

	result := &ImportResult{Created: []string{}, Updated: []string{}}
	for _, w := range defs {
		existing, err := s.store.GetByName(ctx, w.Name)
		switch {
		case errors.Is(err, ErrNotFound):
			w.ID = ""
			if err := s.store.Create(ctx, w); err != nil {
				return result, fmt.Errorf("webhook %q: %w", w.Name, err)
			}
			result.Created = append(result.Created, w.Name)
		case err != nil:
			return result, err
		default:
			w.ID = existing.ID
			w.CreatedAt = existing.CreatedAt
			if err := s.store.Update(ctx, w); err != nil {
				return result, fmt.Errorf("webhook %q: %w", w.Name, err)
			}
			result.Updated = append(result.Updated, w.Name)
		}
	}

	s.registry.Invalidate()

	log.Info().
		Int("created", len(result.Created)).
		Int("updated", len(result.Updated)).
		Msg("Webhooks imported")

	return result, nil
}
