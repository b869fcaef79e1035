package requestlog

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

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

var columns = []string{
	"id", "webhook_id", "webhook_name", "job_id", "reference_doctype", "reference_name",
	"event", "method", "url", "headers", "data", "status", "status_code", "response",
	"error", "duration_ms", "created_at",
}

// Store reads and appends request log rows. Headers pass through the
// redactor before they are written.
type Store struct {
	db       *database.DB
	redactor *Redactor
}

func NewStore(db *database.DB, redactor *Redactor) *Store {
	return &Store{db: db, redactor: redactor}
}

// Create appends entry, filling in ID and CreatedAt when unset.
func (s *Store) Create(ctx context.Context, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Status == "" {
		entry.Status = StatusFailed
	}

	entry.Headers = s.redactor.Headers(entry.Headers)
	headersJSON, err := json.Marshal(entry.Headers)
	if err != nil {
		return fmt.Errorf("marshaling headers: %w", err)
	}

	query := `
		INSERT INTO webhook_request_logs (
			id, webhook_id, webhook_name, job_id, reference_doctype, reference_name,
			event, method, url, headers, data, status, status_code, response,
			error, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		entry.ID,
		entry.WebhookID,
		entry.WebhookName,
		entry.JobID,
		entry.ReferenceDoctype,
		entry.ReferenceName,
		entry.Event,
		entry.Method,
		entry.URL,
		string(headersJSON),
		entry.Data,
		string(entry.Status),
		entry.StatusCode,
		entry.Response,
		entry.Error,
		entry.DurationMs,
		database.FormatTime(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting request log: %w", err)
	}

	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	query, args := database.NewQuery("webhook_request_logs", columns...).Where("id", id).Build()

	entry, err := scanEntry(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("getting request log: %w", err)
	}
	return entry, nil
}

// List returns matching entries, newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = defaultListLimit
	}
	if opts.Limit > maxListLimit {
		opts.Limit = maxListLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	q := filtered(database.NewQuery("webhook_request_logs", columns...), opts)

	countSQL, countArgs := q.BuildCount()
	var total int
	if err := s.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting request logs: %w", err)
	}

	listSQL, listArgs := q.OrderBy("created_at", database.SortDesc).Limit(opts.Limit).Offset(opts.Offset).Build()
	rows, err := s.db.QueryContext(ctx, listSQL, listArgs...)
	if err != nil {
		return nil, fmt.Errorf("querying request logs: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	}, nil
}

// Count returns the number of entries matching opts, ignoring paging.
func (s *Store) Count(ctx context.Context, opts ListOptions) (int, error) {
	query, args := filtered(database.NewQuery("webhook_request_logs"), opts).BuildCount()

	var total int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("counting request logs: %w", err)
	}
	return total, nil
}

// ListOlderThan returns up to limit entries created before cutoff, oldest first.
func (s *Store) ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*Entry, error) {
	query, args := database.NewQuery("webhook_request_logs", columns...).
		Filter("created_at", database.OpLt, database.FormatTime(cutoff)).
		OrderBy("created_at", database.SortAsc).
		Limit(limit).
		Build()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying expired request logs: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// DeleteIDs removes the given entries and returns how many were deleted.
func (s *Store) DeleteIDs(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	deleted := 0
	err := s.db.Transaction(ctx, func(tx *database.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `DELETE FROM webhook_request_logs WHERE id = ?`)
		if err != nil {
			return fmt.Errorf("preparing delete: %w", err)
		}
		defer stmt.Close()

		for _, id := range ids {
			res, err := stmt.ExecContext(ctx, id)
			if err != nil {
				return fmt.Errorf("deleting request log %s: %w", id, err)
			}
			n, _ := res.RowsAffected()
			deleted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return deleted, nil
}

func filtered(q *database.Query, opts ListOptions) *database.Query {
	q.WhereIf("webhook_id", opts.WebhookID).
		WhereIf("reference_doctype", opts.ReferenceDoctype).
		WhereIf("reference_name", opts.ReferenceName).
		WhereIf("status", string(opts.Status))
	if !opts.Since.IsZero() {
		q.Filter("created_at", database.OpGte, database.FormatTime(opts.Since))
	}
	if !opts.Until.IsZero() {
		q.Filter("created_at", database.OpLt, database.FormatTime(opts.Until))
	}
	return q
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		entry       Entry
		headersJSON string
		status      string
		createdAt   string
	)

	err := row.Scan(
		&entry.ID,
		&entry.WebhookID,
		&entry.WebhookName,
		&entry.JobID,
		&entry.ReferenceDoctype,
		&entry.ReferenceName,
		&entry.Event,
		&entry.Method,
		&entry.URL,
		&headersJSON,
		&entry.Data,
		&status,
		&entry.StatusCode,
		&entry.Response,
		&entry.Error,
		&entry.DurationMs,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	entry.Status = Status(status)
	if err := json.Unmarshal([]byte(headersJSON), &entry.Headers); err != nil {
		return nil, fmt.Errorf("unmarshaling headers: %w", err)
	}
	if entry.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}

	return &entry, nil
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning request log: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating request logs: %w", err)
	}
	if entries == nil {
		entries = []*Entry{}
	}
	return entries, nil
}
