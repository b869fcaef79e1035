package webhooks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/watzon/docwebhooks/internal/database"
	"github.com/watzon/docwebhooks/internal/doctype"
)

const selectColumns = `
	id, name, doctype, event, enabled, condition_expr, request_url, is_dynamic_url,
	method, request_structure, webhook_json, webhook_data, headers,
	enable_security, secret, timeout_seconds, created_at, updated_at
`

// Store handles database operations for webhook configurations.
type Store struct {
	db *database.DB
}

func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, w *Webhook) error {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now

	dataJSON, headersJSON, err := marshalChildren(w)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO webhooks (` + selectColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		w.ID,
		w.Name,
		w.Doctype,
		string(w.Event),
		w.Enabled,
		w.Condition,
		w.RequestURL,
		w.IsDynamicURL,
		w.Method,
		string(w.RequestStructure),
		w.WebhookJSON,
		dataJSON,
		headersJSON,
		w.EnableSecurity,
		w.Secret,
		w.Timeout,
		database.FormatTime(w.CreatedAt),
		database.FormatTime(w.UpdatedAt),
	)
	if err != nil {
		return classify(err, "inserting webhook")
	}

	return nil
}

func (s *Store) Update(ctx context.Context, w *Webhook) error {
	w.UpdatedAt = time.Now().UTC()

	dataJSON, headersJSON, err := marshalChildren(w)
	if err != nil {
		return err
	}

	query := `
		UPDATE webhooks
		SET name = ?, doctype = ?, event = ?, enabled = ?, condition_expr = ?, request_url = ?,
		    is_dynamic_url = ?, method = ?, request_structure = ?, webhook_json = ?,
		    webhook_data = ?, headers = ?, enable_security = ?, secret = ?, timeout_seconds = ?,
		    updated_at = ?
		WHERE id = ?
	`

	res, err := s.db.ExecContext(ctx, query,
		w.Name,
		w.Doctype,
		string(w.Event),
		w.Enabled,
		w.Condition,
		w.RequestURL,
		w.IsDynamicURL,
		w.Method,
		string(w.RequestStructure),
		w.WebhookJSON,
		dataJSON,
		headersJSON,
		w.EnableSecurity,
		w.Secret,
		w.Timeout,
		database.FormatTime(w.UpdatedAt),
		w.ID,
	)
	if err != nil {
		return classify(err, "updating webhook")
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, w.ID)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM webhooks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting webhook: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*Webhook, error) {
	return s.getBy(ctx, "id", id)
}

func (s *Store) GetByName(ctx context.Context, name string) (*Webhook, error) {
	return s.getBy(ctx, "name", name)
}

func (s *Store) getBy(ctx context.Context, column, value string) (*Webhook, error) {
	query := `SELECT ` + selectColumns + ` FROM webhooks WHERE ` + column + ` = ?`

	w, err := scanWebhook(s.db.QueryRowContext(ctx, query, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, value)
		}
		return nil, fmt.Errorf("getting webhook: %w", err)
	}
	return w, nil
}

// List returns webhooks ordered by name.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*Webhook, error) {
	q := database.NewQuery("webhooks", selectColumns).
		WhereIf("doctype", filter.Doctype).
		WhereIf("event", filter.Event)
	if filter.Enabled != nil {
		q.Where("enabled", *filter.Enabled)
	}
	query, args := q.OrderBy("name", database.SortAsc).Build()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying webhooks: %w", err)
	}
	defer rows.Close()

	return scanWebhooks(rows)
}

// ListEnabledByDoctype returns every enabled webhook for a doctype,
// across all events.
func (s *Store) ListEnabledByDoctype(ctx context.Context, doctypeName string) ([]*Webhook, error) {
	enabled := true
	return s.List(ctx, ListFilter{Doctype: doctypeName, Enabled: &enabled})
}

func marshalChildren(w *Webhook) (string, string, error) {
	data := w.WebhookData
	if data == nil {
		data = []DataField{}
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return "", "", fmt.Errorf("marshaling webhook data: %w", err)
	}

	headers := w.Headers
	if headers == nil {
		headers = []HeaderPair{}
	}
	headersJSON, err := json.Marshal(headers)
	if err != nil {
		return "", "", fmt.Errorf("marshaling headers: %w", err)
	}

	return string(dataJSON), string(headersJSON), nil
}

func classify(err error, action string) error {
	if database.IsUniqueError(database.ClassifyError(err)) {
		return ErrDuplicateName
	}
	return fmt.Errorf("%s: %w", action, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWebhook(row rowScanner) (*Webhook, error) {
	var (
		w                     Webhook
		event, structure      string
		dataJSON, headersJSON string
		createdAt, updatedAt  string
	)

	err := row.Scan(
		&w.ID,
		&w.Name,
		&w.Doctype,
		&event,
		&w.Enabled,
		&w.Condition,
		&w.RequestURL,
		&w.IsDynamicURL,
		&w.Method,
		&structure,
		&w.WebhookJSON,
		&dataJSON,
		&headersJSON,
		&w.EnableSecurity,
		&w.Secret,
		&w.Timeout,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	w.Event = doctype.Event(event)
	w.RequestStructure = RequestStructure(structure)

	if err := json.Unmarshal([]byte(dataJSON), &w.WebhookData); err != nil {
		return nil, fmt.Errorf("unmarshaling webhook data: %w", err)
	}
	if err := json.Unmarshal([]byte(headersJSON), &w.Headers); err != nil {
		return nil, fmt.Errorf("unmarshaling headers: %w", err)
	}
	if len(w.WebhookData) == 0 {
		w.WebhookData = nil
	}
	if len(w.Headers) == 0 {
		w.Headers = nil
	}

	if w.CreatedAt, err = database.ParseTime(createdAt); err != nil {
		return nil, err
	}
	if w.UpdatedAt, err = database.ParseTime(updatedAt); err != nil {
		return nil, err
	}

	return &w, nil
}

func scanWebhooks(rows *sql.Rows) ([]*Webhook, error) {
	var out []*Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning webhook: %w", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating webhooks: %w", err)
	}
	return out, nil
}
