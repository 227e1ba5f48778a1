package testhelpers

import (
	"context"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/ekaya-inc/fuzzy-index/pkg/database"
	"github.com/ekaya-inc/fuzzy-index/pkg/store"
	"github.com/ekaya-inc/fuzzy-index/pkg/store/sqlite"
)

// MigrationsDir returns the repository's migrations directory.
func MigrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}

// NewSQLiteStore opens a migrated SQLite store in a temp dir. It is closed
// when the test ends.
func NewSQLiteStore(t *testing.T, opts store.Options) *sqlite.Store {
	t.Helper()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "fuzzy.db")

	// Migrations get their own handle; RunMigrations closes it.
	migrationDB, err := database.OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("open sqlite for migrations: %v", err)
	}
	if err := database.RunMigrations(migrationDB, database.DialectSQLite, MigrationsDir(), zap.NewNop()); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	db, err := database.OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	s := sqlite.New(db, opts, zap.NewNop())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// SeedTable creates table with an INTEGER PRIMARY KEY "id" plus the given
// TEXT columns and inserts rows. Each row holds one value per column,
// starting with the id.
func SeedTable(t *testing.T, s *sqlite.Store, table string, columns []string, rows ...[]any) {
	t.Helper()

	ctx := context.Background()
	d := s.Dialect()

	defs := []string{d.QuoteIdent("id") + " INTEGER PRIMARY KEY"}
	names := []string{d.QuoteIdent("id")}
	marks := []string{d.Placeholder(1)}
	for i, c := range columns {
		defs = append(defs, d.QuoteIdent(c)+" TEXT")
		names = append(names, d.QuoteIdent(c))
		marks = append(marks, d.Placeholder(i+2))
	}

	ddl := "CREATE TABLE " + d.QuoteIdent(table) + " (" + strings.Join(defs, ", ") + ")"
	if _, err := s.DB().ExecContext(ctx, ddl); err != nil {
		t.Fatalf("create %s: %v", table, err)
	}

	insert := "INSERT INTO " + d.QuoteIdent(table) + " (" + strings.Join(names, ", ") +
		") VALUES (" + strings.Join(marks, ", ") + ")"
	for _, row := range rows {
		if _, err := s.DB().ExecContext(ctx, insert, row...); err != nil {
			t.Fatalf("insert into %s: %v", table, err)
		}
	}
}
