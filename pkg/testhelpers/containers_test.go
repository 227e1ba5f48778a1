//go:build integration

package testhelpers

import (
	"context"
	"testing"
)

func TestTestDB_Migrated(t *testing.T) {
	testDB := GetTestDB(t)

	ctx := context.Background()

	var exists bool
	err := testDB.DB.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = current_schema() AND table_name = 'fuzzy_index_builds'
		)`).Scan(&exists)
	if err != nil {
		t.Fatalf("failed to check build registry: %v", err)
	}
	if !exists {
		t.Error("expected fuzzy_index_builds to exist after migrations")
	}
}

func TestTestRedis_Ping(t *testing.T) {
	client := GetTestRedis(t)

	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("ping: %v", err)
	}
}
