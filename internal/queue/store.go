package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/watzon/docwebhooks/internal/database"
)

// Store handles database operations for jobs.
type Store struct {
	db *database.DB
}

func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, kind string, payload any) (*Job, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}

	job := &Job{
		ID:        uuid.New().String(),
		Kind:      kind,
		Payload:   payloadJSON,
		Status:    StatusQueued,
		CreatedAt: time.Now().UTC(),
	}

	query := `
		INSERT INTO dispatch_jobs (id, kind, payload, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		job.ID,
		job.Kind,
		string(job.Payload),
		string(job.Status),
		database.FormatTime(job.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting job: %w", err)
	}

	return job, nil
}

// Claim moves a queued job to running. It reports false when another
// worker got there first or the job is no longer queued.
func (s *Store) Claim(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE dispatch_jobs
		SET status = ?, started_at = ?
		WHERE id = ? AND status = ?
	`, string(StatusRunning), database.Now(), id, string(StatusQueued))
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	return n == 1, nil
}

func (s *Store) Finish(ctx context.Context, id string, status Status, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE dispatch_jobs
		SET status = ?, error = ?, finished_at = ?
		WHERE id = ?
	`, string(status), errMsg, database.Now(), id)
	if err != nil {
		return fmt.Errorf("finishing job: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, payload, status, error, created_at, started_at, finished_at
		FROM dispatch_jobs
		WHERE id = ?
	`, id)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		return nil, fmt.Errorf("getting job: %w", err)
	}
	return job, nil
}

// QueuedIDs returns the oldest queued job IDs.
func (s *Store) QueuedIDs(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM dispatch_jobs
		WHERE status = ?
		ORDER BY created_at ASC
		LIMIT ?
	`, string(StatusQueued), limit)
	if err != nil {
		return nil, fmt.Errorf("querying queued jobs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning job id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RequeueRunning returns jobs stranded in running by a previous process
// to the queue.
func (s *Store) RequeueRunning(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE dispatch_jobs
		SET status = ?, started_at = NULL
		WHERE status = ?
	`, string(StatusQueued), string(StatusRunning))
	if err != nil {
		return 0, fmt.Errorf("requeueing running jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DeleteFinishedBefore removes sent and failed jobs created before cutoff.
func (s *Store) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM dispatch_jobs
		WHERE created_at < ? AND status IN (?, ?)
	`, database.FormatTime(cutoff), string(StatusSent), string(StatusFailed))
	if err != nil {
		return 0, fmt.Errorf("deleting old jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM dispatch_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting jobs: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{
		string(StatusQueued):  0,
		string(StatusRunning): 0,
		string(StatusSent):    0,
		string(StatusFailed):  0,
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning job count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func scanJob(row *sql.Row) (*Job, error) {
	var (
		job                   Job
		payload, status       string
		createdAt             string
		startedAt, finishedAt sql.NullString
	)

	if err := row.Scan(&job.ID, &job.Kind, &payload, &status, &job.Error, &createdAt, &startedAt, &finishedAt); err != nil {
		return nil, err
	}

	job.Payload = json.RawMessage(payload)
	job.Status = Status(status)

	var err error
	if job.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if job.StartedAt, err = database.NullTime(startedAt); err != nil {
		return nil, err
	}
	if job.FinishedAt, err = database.NullTime(finishedAt); err != nil {
		return nil, err
	}

	return &job, nil
}
