package migrations

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestRun(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	require.NoError(t, Run(ctx, db))

	for _, table := range []string{"webhooks", "webhook_request_logs", "dispatch_jobs"} {
		var name string
		err := db.QueryRowContext(ctx,
			`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
	}
}

func TestRun_Idempotent(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	require.NoError(t, Run(ctx, db))
	require.NoError(t, Run(ctx, db))

	applied, err := GetApplied(ctx, db)
	require.NoError(t, err)

	migrations, err := loadMigrations()
	require.NoError(t, err)
	require.Len(t, applied, len(migrations))
}

func TestRequestLogsAreAppendOnly(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	require.NoError(t, Run(ctx, db))

	_, err := db.ExecContext(ctx, `
		INSERT INTO webhook_request_logs (id, webhook_id, reference_doctype, status, created_at)
		VALUES ('log-1', 'wh-1', 'User', 'sent', '2026-01-01T00:00:00.000000000Z')
	`)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `UPDATE webhook_request_logs SET status = 'failed' WHERE id = 'log-1'`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "append-only")

	_, err = db.ExecContext(ctx, `DELETE FROM webhook_request_logs WHERE id = 'log-1'`)
	require.NoError(t, err, "retention pruning deletes rows")
}

func TestSplitStatements(t *testing.T) {
	content := `
-- comment
CREATE TABLE a (x TEXT DEFAULT 'semi;colon');
CREATE TRIGGER t BEFORE UPDATE ON a
BEGIN
    SELECT RAISE(ABORT, 'no');
END;
CREATE INDEX i ON a(x);
`
	stmts := splitStatements(content)
	require.Len(t, stmts, 3)
	require.Contains(t, stmts[0], "'semi;colon'")
	require.True(t, len(stmts[1]) > 0 && stmts[1][len(stmts[1])-3:] == "END")
	require.Contains(t, stmts[2], "CREATE INDEX")
}
