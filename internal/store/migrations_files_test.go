package store

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"
)

func migrationsDir() string {
	return filepath.Join("..", "..", "db", "migrations")
}

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	entries, err := os.ReadDir(migrationsDir())
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	pattern := regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)
	byVersion := map[string]map[string]bool{}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := pattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		version, direction := match[1], match[2]
		if byVersion[version] == nil {
			byVersion[version] = map[string]bool{}
		}
		if byVersion[version][direction] {
			t.Fatalf("duplicate %s migration file for version %s", direction, version)
		}
		byVersion[version][direction] = true
	}

	if len(byVersion) == 0 {
		t.Fatal("no migrations discovered")
	}
	for version, dirs := range byVersion {
		if !dirs["up"] || !dirs["down"] {
			t.Fatalf("version %s must include both up and down files", version)
		}
	}
}

func TestListUpMigrationsSorted(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0002_b.up.sql", "0001_a.up.sql", "0001_a.down.sql", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	files, err := ListUpMigrations(dir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != 2 || filepath.Base(files[0]) != "0001_a.up.sql" || filepath.Base(files[1]) != "0002_b.up.sql" {
		t.Fatalf("unexpected files %v", files)
	}
}

func TestApplyMigrationsPostgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("PORTAL_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("PORTAL_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := OpenPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer db.Close()

	if _, err := ApplyMigrations(ctx, db, migrationsDir()); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	applied, err := ApplyMigrations(ctx, db, migrationsDir())
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if len(applied) != 0 {
		t.Fatalf("expected idempotent apply, got %v", applied)
	}

	var exists bool
	if err := db.QueryRowContext(ctx, `SELECT to_regclass('public.audit_events') IS NOT NULL`).Scan(&exists); err != nil {
		t.Fatalf("check table: %v", err)
	}
	if !exists {
		t.Fatal("audit_events table missing after migrations")
	}
}
