package db_test

import (
	"context"
	"path/filepath"
	"testing"
	"testing/fstest"

	dbfs "github.com/garnizeh/jobpipe/db"
	"github.com/garnizeh/jobpipe/internal/db"
)

func TestMigrate_Idempotent(t *testing.T) {
	ctx := context.Background()

	d, err := db.Open(ctx, filepath.Join(t.TempDir(), "migrate.db"), nil)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	defer d.Close()

	if err := db.Migrate(ctx, d, dbfs.Migrations, dbfs.SeedFiles); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	if err := db.Migrate(ctx, d, dbfs.Migrations, dbfs.SeedFiles); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}

	var count int
	if err := d.QueryRow(ctx, `SELECT COUNT(1) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("scan schema_migrations count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 migration recorded, got %d", count)
	}

	for _, table := range []string{"opportunities", "contacts", "activities", "ai_schemas", "ai_templates", "jobs", "dead_letter_jobs"} {
		var name string
		if err := d.QueryRow(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name); err != nil {
			t.Fatalf("expected %s table exists: %v", table, err)
		}
	}

	if err := d.QueryRow(ctx, `SELECT COUNT(1) FROM ai_templates`).Scan(&count); err != nil {
		t.Fatalf("count templates: %v", err)
	}
	if count != 5 {
		t.Fatalf("expected 5 seeded templates after two runs, got %d", count)
	}
}

func TestMigrate_FailedMigrationNotRecorded(t *testing.T) {
	ctx := context.Background()
	d, err := db.Open(ctx, filepath.Join(t.TempDir(), "bad.db"), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.Close()

	bad := fstest.MapFS{
		"migrations/0001_ok.sql":  {Data: []byte(`CREATE TABLE a (id INTEGER);`)},
		"migrations/0002_bad.sql": {Data: []byte(`CREATE TABLE b (id INTEGER); THIS IS NOT SQL;`)},
	}
	if err := db.Migrate(ctx, d, bad, nil); err == nil {
		t.Fatalf("expected migration error")
	}

	var n int
	if err := d.QueryRow(ctx, `SELECT COUNT(1) FROM schema_migrations`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected only the good migration recorded, got %d", n)
	}
	if err := d.QueryRow(ctx, `SELECT COUNT(1) FROM sqlite_master WHERE name='b'`).Scan(&n); err != nil || n != 0 {
		t.Fatalf("partial migration left table b behind (n=%d err=%v)", n, err)
	}
}

func TestParseTemplateFile(t *testing.T) {
	hdr, body := db.ParseTemplateFile("schema: fit_score\nsystem: Be terse: JSON only.\n---\nHello {{.Company}}\n")
	if hdr["schema"] != "fit_score" || hdr["system"] != "Be terse: JSON only." {
		t.Fatalf("unexpected header %v", hdr)
	}
	if body != "Hello {{.Company}}\n" {
		t.Fatalf("unexpected body %q", body)
	}

	hdr, body = db.ParseTemplateFile("no header")
	if len(hdr) != 0 || body != "no header" {
		t.Fatalf("plain file parsed as %v %q", hdr, body)
	}
}
