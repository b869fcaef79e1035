package queue

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/watzon/docwebhooks/internal/database"
	"github.com/watzon/docwebhooks/internal/metrics"
)

// Handler runs a job. A returned error marks the job failed.
type Handler func(ctx context.Context, job *Job) error

// Config holds queue settings.
type Config struct {
	// Workers is the number of goroutines running jobs (default: 4).
	Workers int
	// BufferSize is the capacity of the nudge channel (default: 256).
	BufferSize int
	// PollInterval is how often queued jobs are swept up (default: 2 seconds).
	PollInterval time.Duration
	// Retention is how long finished jobs are kept (default: 24 hours).
	Retention time.Duration
	// CleanupInterval is how often finished jobs are removed (default: 1 hour).
	CleanupInterval time.Duration
}

func (c *Config) withDefaults() Config {
	out := Config{}
	if c != nil {
		out = *c
	}
	if out.Workers <= 0 {
		out.Workers = 4
	}
	if out.BufferSize <= 0 {
		out.BufferSize = 256
	}
	if out.PollInterval <= 0 {
		out.PollInterval = 2 * time.Second
	}
	if out.Retention <= 0 {
		out.Retention = 24 * time.Hour
	}
	if out.CleanupInterval <= 0 {
		out.CleanupInterval = time.Hour
	}
	return out
}

// Queue persists jobs before running them, so a job enqueued before a crash
// is picked up by the poll loop after restart.
type Queue struct {
	store    *Store
	cfg      Config
	handlers map[string]Handler
	mu       sync.RWMutex

	nudge  chan string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(db *database.DB, cfg *Config) *Queue {
	c := cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	return &Queue{
		store:    NewStore(db),
		cfg:      c,
		handlers: make(map[string]Handler),
		nudge:    make(chan string, c.BufferSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Handle registers the handler for a job kind, replacing any previous one.
func (q *Queue) Handle(kind string, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = handler

	log.Debug().Str("kind", kind).Msg("Job handler registered")
}

// Enqueue persists a job and wakes a worker. It never blocks on the
// workers: when the nudge buffer is full the poll loop picks the job up.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload any) (*Job, error) {
	job, err := q.store.Create(ctx, kind, payload)
	if err != nil {
		return nil, err
	}

	select {
	case q.nudge <- job.ID:
	default:
		log.Debug().Str("job_id", job.ID).Msg("Queue buffer full, job left for poller")
	}

	return job, nil
}

// Start launches the workers, the poll loop and the cleanup loop.
func (q *Queue) Start() {
	if n, err := q.store.RequeueRunning(q.ctx); err != nil {
		log.Error().Err(err).Msg("Failed to requeue stranded jobs")
	} else if n > 0 {
		log.Warn().Int("jobs", n).Msg("Requeued jobs left running by a previous process")
	}

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}

	q.wg.Add(2)
	go q.pollLoop()
	go q.cleanupLoop()

	log.Info().
		Int("workers", q.cfg.Workers).
		Dur("poll_interval", q.cfg.PollInterval).
		Msg("Dispatch queue started")
}

// Stop waits for in-flight jobs to finish. Jobs still queued stay in the
// table for the next start.
func (q *Queue) Stop() {
	q.cancel()
	q.wg.Wait()
	log.Info().Msg("Dispatch queue stopped")
}

// ProcessPending runs every queued job on the calling goroutine and returns
// how many ran.
func (q *Queue) ProcessPending(ctx context.Context) (int, error) {
	ran := 0
	for {
		ids, err := q.store.QueuedIDs(ctx, 100)
		if err != nil {
			return ran, fmt.Errorf("getting queued jobs: %w", err)
		}
		if len(ids) == 0 {
			return ran, nil
		}
		progress := false
		for _, id := range ids {
			if q.run(ctx, id) {
				ran++
				progress = true
			}
		}
		if !progress {
			return ran, nil
		}
	}
}

func (q *Queue) Stats(ctx context.Context) (map[string]int, error) {
	return q.store.CountByStatus(ctx)
}

func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	return q.store.Get(ctx, id)
}

func (q *Queue) worker() {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			return
		case id := <-q.nudge:
			// Jobs run to completion once claimed, even during shutdown.
			q.run(context.WithoutCancel(q.ctx), id)
		}
	}
}

// run claims and executes one job. It reports whether this call ran it.
func (q *Queue) run(ctx context.Context, id string) bool {
	claimed, err := q.store.Claim(ctx, id)
	if err != nil {
		log.Error().Err(err).Str("job_id", id).Msg("Failed to claim job")
		return false
	}
	if !claimed {
		return false
	}

	job, err := q.store.Get(ctx, id)
	if err != nil {
		log.Error().Err(err).Str("job_id", id).Msg("Failed to load claimed job")
		_ = q.store.Finish(ctx, id, StatusFailed, err.Error())
		return true
	}

	status := StatusSent
	errMsg := ""
	if err := q.execute(ctx, job); err != nil {
		status = StatusFailed
		errMsg = err.Error()
	}

	if err := q.store.Finish(ctx, id, status, errMsg); err != nil {
		log.Error().Err(err).Str("job_id", id).Msg("Failed to record job result")
	}

	log.Debug().
		Str("job_id", id).
		Str("kind", job.Kind).
		Str("status", string(status)).
		Msg("Job processed")

	return true
}

func (q *Queue) execute(ctx context.Context, job *Job) (err error) {
	q.mu.RLock()
	handler, ok := q.handlers[job.Kind]
	q.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNoHandler, job.Kind)
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("job_id", job.ID).
				Str("kind", job.Kind).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Job handler panicked")
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	return handler(ctx, job)
}

func (q *Queue) pollLoop() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			q.sweep()
		}
	}
}

func (q *Queue) sweep() {
	ids, err := q.store.QueuedIDs(q.ctx, q.cfg.BufferSize)
	if err != nil {
		log.Error().Err(err).Msg("Failed to poll queued jobs")
		return
	}

	for _, id := range ids {
		select {
		case q.nudge <- id:
		case <-q.ctx.Done():
			return
		default:
			return
		}
	}

	if counts, err := q.store.CountByStatus(q.ctx); err == nil {
		metrics.UpdateQueueDepth(counts)
	}
}

func (q *Queue) cleanupLoop() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			n, err := q.store.DeleteFinishedBefore(q.ctx, time.Now().Add(-q.cfg.Retention))
			if err != nil {
				log.Error().Err(err).Msg("Failed to cleanup finished jobs")
			} else if n > 0 {
				log.Debug().Int("deleted", n).Msg("Cleaned up finished jobs")
			}
		}
	}
}
