package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewDB(t *testing.T) {
	db := newTestDB(t)

	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type='table' ORDER BY name")
	require.NoError(t, err)
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		tables = append(tables, name)
	}

	for _, want := range []string{"ai_models", "members", "usage_logs", "entities", "audit_records", "interrupts"} {
		require.Contains(t, tables, want)
	}
}

func TestNewDB_IdempotentMigration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	db1, err := NewDB(path)
	require.NoError(t, err)
	db1.Close()

	db2, err := NewDB(path)
	require.NoError(t, err)
	defer db2.Close()

	require.NoError(t, Migrate(context.Background(), db2))
}

func TestMembers_CreditChecksRejectNegative(t *testing.T) {
	db := newTestDB(t)
	_, err := db.Exec(`INSERT INTO members (email, free_credits) VALUES ('neg@example.com', -1)`)
	require.Error(t, err)
}
