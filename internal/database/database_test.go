package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/watzon/docwebhooks/internal/config"
)

func testDB(t *testing.T) *DB {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "test.db"),
		WALMode:      true,
		ForeignKeys:  true,
		CacheSize:    -2000,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}

	db, err := Open(cfg)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestOpenAndClose(t *testing.T) {
	db := testDB(t)

	if err := db.Ping(context.Background()); err != nil {
		t.Errorf("ping failed: %v", err)
	}
	require.NoError(t, db.Close())
	require.NoError(t, db.Close(), "double close is a no-op")
}

func TestTransactionRollback(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, "CREATE TABLE test (id INTEGER PRIMARY KEY, name TEXT UNIQUE)")
	require.NoError(t, err)

	err = db.Transaction(ctx, func(tx *Tx) error {
		if _, err := tx.Exec("INSERT INTO test (id, name) VALUES (1, 'alice')"); err != nil {
			return err
		}
		_, err := tx.Exec("INSERT INTO test (id, name) VALUES (2, 'alice')")
		return err
	})
	require.Error(t, err)

	classified := ClassifyError(err)
	require.True(t, IsUniqueError(classified))
	require.True(t, errors.Is(classified, ErrUniqueViolation))

	var count int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM test").Scan(&count))
	require.Zero(t, count)
}

func TestTimeRoundTripOrdering(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC)
	a := FormatTime(base)
	b := FormatTime(base.Add(500 * time.Millisecond))

	require.Less(t, a, b, "fixed-width timestamps sort lexically")

	parsed, err := ParseTime(b)
	require.NoError(t, err)
	require.True(t, parsed.Equal(base.Add(500*time.Millisecond)))

	legacy, err := ParseTime("2026-03-01T12:00:05Z")
	require.NoError(t, err)
	require.True(t, legacy.Equal(base))
}

func TestQueryBuild(t *testing.T) {
	tests := []struct {
		name     string
		build    func() *Query
		expected string
		args     int
	}{
		{
			name:     "simple select",
			build:    func() *Query { return NewQuery("webhooks") },
			expected: "SELECT * FROM webhooks",
		},
		{
			name: "optional filters are skipped",
			build: func() *Query {
				return NewQuery("webhooks", "id", "name").WhereIf("doctype", "").WhereIf("event", "on_update")
			},
			expected: "SELECT id, name FROM webhooks WHERE event = ?",
			args:     1,
		},
		{
			name: "range, order and paging",
			build: func() *Query {
				return NewQuery("webhook_request_logs").
					Where("webhook_id", "wh-1").
					Filter("created_at", OpLt, "2026").
					OrderBy("created_at", SortDesc).
					Limit(10).
					Offset(20)
			},
			expected: "SELECT * FROM webhook_request_logs WHERE webhook_id = ? AND created_at < ? ORDER BY created_at DESC LIMIT 10 OFFSET 20",
			args:     2,
		},
		{
			name: "in",
			build: func() *Query {
				return NewQuery("dispatch_jobs").Filter("status", OpIn, []any{"sent", "failed"})
			},
			expected: "SELECT * FROM dispatch_jobs WHERE status IN (?, ?)",
			args:     2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := tt.build().Build()
			if sql != tt.expected {
				t.Errorf("expected:\n%s\ngot:\n%s", tt.expected, sql)
			}
			require.Len(t, args, tt.args)
		})
	}
}

func TestQueryBuildCount(t *testing.T) {
	sql, args := NewQuery("webhook_request_logs").Where("status", "failed").Limit(5).BuildCount()
	require.Equal(t, "SELECT COUNT(*) FROM webhook_request_logs WHERE status = ?", sql)
	require.Equal(t, []any{"failed"}, args)
}

func TestParseSortString(t *testing.T) {
	field, order := ParseSortString("-created_at")
	require.Equal(t, "created_at", field)
	require.Equal(t, SortDesc, order)

	field, order = ParseSortString("name")
	require.Equal(t, "name", field)
	require.Equal(t, SortAsc, order)
}
