// Package engine assembles the dispatch components from configuration.
package engine

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/watzon/docwebhooks/internal/archive"
	"github.com/watzon/docwebhooks/internal/condition"
	"github.com/watzon/docwebhooks/internal/config"
	"github.com/watzon/docwebhooks/internal/database"
	"github.com/watzon/docwebhooks/internal/doctype"
	"github.com/watzon/docwebhooks/internal/queue"
	"github.com/watzon/docwebhooks/internal/realtime"
	"github.com/watzon/docwebhooks/internal/requestlog"
	"github.com/watzon/docwebhooks/internal/template"
	"github.com/watzon/docwebhooks/internal/webhooks"
)

// Engine holds every long-lived component of a running dispatcher.
type Engine struct {
	Config    *config.Config
	DB        *database.DB
	DocTypes  *doctype.Registry
	Webhooks  *webhooks.Service
	Registry  *webhooks.Registry
	Trigger   *webhooks.Trigger
	Executor  *webhooks.Executor
	Logs      *requestlog.Store
	Retention *requestlog.RetentionService
	Archiver  *archive.Archiver
	Queue     *queue.Queue
	Hub       *realtime.Hub
}

// Option adjusts an Engine before it is returned.
type Option func(*options)

type options struct {
	client *http.Client
}

// WithHTTPClient replaces the outbound client used for sends.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.client = c
	}
}

// New wires the components. It does not start anything.
func New(ctx context.Context, cfg *config.Config, db *database.DB, opts ...Option) (*Engine, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	conditions, err := condition.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("creating condition evaluator: %w", err)
	}
	renderer := template.NewRenderer()

	redactor, err := requestlog.NewRedactor(cfg.RequestLog.RedactHeaders)
	if err != nil {
		return nil, fmt.Errorf("compiling redaction patterns: %w", err)
	}

	arch, err := archive.FromConfig(ctx, &cfg.Archive)
	if err != nil {
		return nil, fmt.Errorf("creating archive: %w", err)
	}

	e := &Engine{
		Config:   cfg,
		DB:       db,
		DocTypes: doctype.FromConfig(cfg.DocTypes),
		Logs:     requestlog.NewStore(db, redactor),
		Archiver: arch,
	}

	var archiver requestlog.Archiver
	if arch != nil {
		archiver = arch
	}
	e.Retention = requestlog.NewRetentionService(e.Logs, archiver, cfg.RequestLog.Retention, cfg.RequestLog.CleanupSchedule)

	e.Queue = queue.New(db, &queue.Config{
		Workers:      cfg.Dispatch.Workers,
		BufferSize:   cfg.Dispatch.QueueSize,
		PollInterval: cfg.Dispatch.PollInterval,
		Retention:    cfg.Dispatch.JobRetention,
	})

	store := webhooks.NewStore(db)
	e.Registry = webhooks.NewRegistry(store)
	e.Executor = webhooks.NewExecutor(o.client, renderer, e.Logs, webhooks.ExecutorConfigFrom(cfg))
	e.Queue.Handle(webhooks.JobKind, e.Executor.HandleJob)

	validator := webhooks.NewValidator(e.DocTypes, conditions, renderer)
	e.Webhooks = webhooks.NewService(store, e.Registry, validator, e.Executor)
	e.Trigger = webhooks.NewTrigger(e.Registry, conditions, e.Queue)

	if cfg.Realtime.Enabled {
		e.Hub = realtime.NewHub(&realtime.HubConfig{
			MaxConnections: cfg.Realtime.MaxConnections,
			MaxRooms:       cfg.Realtime.MaxRooms,
		})
		e.Executor.SetPublisher(e.Hub)
	}

	return e, nil
}

// Start runs the worker pool and the retention schedule.
func (e *Engine) Start(ctx context.Context) error {
	e.Queue.Start()
	if err := e.Retention.Start(ctx); err != nil {
		e.Queue.Stop()
		return err
	}
	log.Info().
		Int("workers", e.Config.Dispatch.Workers).
		Int("doctypes", len(e.DocTypes.List())).
		Bool("realtime", e.Hub != nil).
		Msg("Dispatch engine started")
	return nil
}

// Stop shuts the components down. Running sends finish first.
func (e *Engine) Stop() {
	e.Retention.Stop()
	e.Queue.Stop()
	if e.Hub != nil {
		e.Hub.Stop()
	}
	log.Info().Msg("Dispatch engine stopped")
}

// ImportSeedFile loads and imports the configured seed file, if any.
func (e *Engine) ImportSeedFile(ctx context.Context, path string) (*webhooks.ImportResult, error) {
	defs, err := webhooks.LoadSeedFile(path)
	if err != nil {
		return nil, err
	}
	return e.Webhooks.Import(ctx, defs)
}
