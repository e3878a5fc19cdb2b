package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/muzaffar640/vidread-backend/internal/database"
	"github.com/muzaffar640/vidread-backend/migrations"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := database.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "store.db"), migrations.SQLite())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLiteStore(db)
}

func TestSQLiteStoreContract(t *testing.T) {
	runStoreContract(t, newSQLiteStore(t))
}

func TestSQLiteStoreQueryBooks(t *testing.T) {
	runQueryContract(t, newSQLiteStore(t))
}
