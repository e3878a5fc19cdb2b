package database

import (
	"context"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/muzaffar640/vidread-backend/migrations"
)

func TestListMigrationsOrdersByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"010_books_index.sql":    {Data: []byte("CREATE INDEX x ON books (title);")},
		"002_add_column.sql":     {Data: []byte("ALTER TABLE jobs ADD COLUMN note TEXT;")},
		"001_initial_schema.sql": {Data: []byte("CREATE TABLE jobs (id TEXT);")},
		"README.md":              {Data: []byte("not a migration")},
		"abc_bad.sql":            {Data: []byte("SELECT 1;")},
	}

	got, err := ListMigrations(fsys)
	if err != nil {
		t.Fatalf("ListMigrations returned error: %v", err)
	}

	want := []int{1, 2, 10}
	if len(got) != len(want) {
		t.Fatalf("expected %d migrations, got %d", len(want), len(got))
	}
	for i, m := range got {
		if m.Version != want[i] {
			t.Errorf("migration %d: expected version %d, got %d", i, want[i], m.Version)
		}
	}
}

func TestOpenSQLiteAppliesSchemaOnce(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "vidread.db")

	db, err := OpenSQLite(ctx, path, migrations.SQLite())
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	db.Close()

	// reopening must not re-run applied migrations
	db, err = OpenSQLite(ctx, path, migrations.SQLite())
	if err != nil {
		t.Fatalf("second OpenSQLite failed: %v", err)
	}
	defer db.Close()

	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n); err != nil {
		t.Fatalf("failed to count migrations: %v", err)
	}
	all, err := ListMigrations(migrations.SQLite())
	if err != nil {
		t.Fatalf("ListMigrations failed: %v", err)
	}
	if n != len(all) || n < 2 {
		t.Errorf("expected %d applied migrations, got %d", len(all), n)
	}

	// tombstone column from the second migration
	if _, err := db.Exec("SELECT deleted FROM books LIMIT 1"); err != nil {
		t.Errorf("books.deleted missing: %v", err)
	}
}
