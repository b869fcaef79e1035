package requestlog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/watzon/docwebhooks/internal/metrics"
)

const pruneBatchSize = 500

// Archiver stores entries somewhere durable before they are pruned.
// It returns the key the batch was written under.
type Archiver interface {
	ArchiveRequestLogs(ctx context.Context, entries []*Entry) (string, error)
}

// RetentionService prunes entries older than the retention window on a
// cron schedule, archiving each batch first when an archiver is set.
type RetentionService struct {
	store     *Store
	archiver  Archiver
	retention time.Duration
	schedule  string

	cron *cron.Cron
	mu   sync.Mutex
	now  func() time.Time
}

func NewRetentionService(store *Store, archiver Archiver, retention time.Duration, schedule string) *RetentionService {
	return &RetentionService{
		store:     store,
		archiver:  archiver,
		retention: retention,
		schedule:  schedule,
		now:       time.Now,
	}
}

// Start schedules pruning. It is a no-op when retention is zero.
func (s *RetentionService) Start(ctx context.Context) error {
	if s.retention <= 0 {
		log.Info().Msg("Request log retention disabled")
		return nil
	}

	c := cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))

	_, err := c.AddFunc(s.schedule, func() {
		pruned, err := s.RunOnce(ctx)
		if err != nil {
			log.Error().Err(err).Int("pruned", pruned).Msg("Request log retention failed")
			return
		}
		if pruned > 0 {
			log.Info().Int("pruned", pruned).Msg("Pruned request logs")
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling retention %q: %w", s.schedule, err)
	}

	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()
	c.Start()

	log.Info().
		Str("schedule", s.schedule).
		Dur("retention", s.retention).
		Bool("archive", s.archiver != nil).
		Msg("Request log retention started")

	return nil
}

func (s *RetentionService) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	log.Info().Msg("Request log retention stopped")
}

// RunOnce prunes everything older than the retention window and returns
// the number of rows deleted. A batch that fails to archive is not deleted.
func (s *RetentionService) RunOnce(ctx context.Context) (int, error) {
	return s.PruneBefore(ctx, s.now().Add(-s.retention))
}

func (s *RetentionService) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	pruned := 0
	for {
		if err := ctx.Err(); err != nil {
			return pruned, err
		}

		batch, err := s.store.ListOlderThan(ctx, cutoff, pruneBatchSize)
		if err != nil {
			return pruned, err
		}
		if len(batch) == 0 {
			return pruned, nil
		}

		if s.archiver != nil {
			key, err := s.archiver.ArchiveRequestLogs(ctx, batch)
			if err != nil {
				return pruned, fmt.Errorf("archiving request logs: %w", err)
			}
			log.Debug().Str("key", key).Int("entries", len(batch)).Msg("Archived request logs")
		}

		ids := make([]string, len(batch))
		for i, e := range batch {
			ids[i] = e.ID
		}

		n, err := s.store.DeleteIDs(ctx, ids)
		if err != nil {
			return pruned, err
		}
		pruned += n
		metrics.AddLogsPruned(n)

		if len(batch) < pruneBatchSize {
			return pruned, nil
		}
	}
}
