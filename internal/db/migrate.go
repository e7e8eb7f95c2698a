package db

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

// Migrate applies migrations and seed files. It creates a `schema_migrations`
// table to track applied migrations and applies any SQL file under
// migrations/ in migrationFS that has not yet been recorded, each in its own
// transaction. Seeds under seed/ in seedFS are upserted on every run:
//
//	seed/schema_<name>.json            -> ai_schemas
//	seed/template_<task>_<version>.txt -> ai_templates
func Migrate(ctx context.Context, d *DB, migrationFS fs.FS, seedFS fs.FS) error {
	if _, err := d.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	files, err := listFiles(migrationFS, "migrations", ".sql")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	applied := 0
	for _, fname := range files {
		version := strings.TrimSuffix(fname, path.Ext(fname))

		var count int
		if err := d.QueryRow(ctx, `SELECT COUNT(1) FROM schema_migrations WHERE version = ?`, version).Scan(&count); err != nil {
			return fmt.Errorf("scan migration applied count: %w", err)
		}
		if count > 0 {
			continue
		}

		b, err := fs.ReadFile(migrationFS, path.Join("migrations", fname))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", fname, err)
		}
		err = d.WithTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, string(b)); err != nil {
				return fmt.Errorf("exec migration %s: %w", fname, err)
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, applied) VALUES (?, ?)`, version, time.Now().UTC().UnixMilli()); err != nil {
				return fmt.Errorf("record migration %s: %w", fname, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		applied++
	}
	if applied > 0 {
		d.logger.Info("migrations applied", "count", applied)
	}

	if seedFS == nil {
		return nil
	}
	return seed(ctx, d, seedFS)
}

func seed(ctx context.Context, d *DB, seedFS fs.FS) error {
	files, err := listFiles(seedFS, "seed", "")
	if err != nil {
		// seeds are optional
		return nil
	}
	now := time.Now().UTC().UnixMilli()
	for _, fname := range files {
		b, err := fs.ReadFile(seedFS, path.Join("seed", fname))
		if err != nil {
			return fmt.Errorf("read seed %s: %w", fname, err)
		}
		base := strings.TrimSuffix(fname, path.Ext(fname))
		switch {
		case strings.HasPrefix(base, "schema_") && path.Ext(fname) == ".json":
			name := strings.TrimPrefix(base, "schema_")
			if _, err := d.Exec(ctx, `INSERT INTO ai_schemas (name, description, schema_json, updated) VALUES (?, ?, ?, ?)
				ON CONFLICT(name) DO UPDATE SET schema_json = excluded.schema_json, updated = excluded.updated`,
				name, "seeded "+name+" schema", string(b), now); err != nil {
				return fmt.Errorf("seed schema %s: %w", name, err)
			}
		case strings.HasPrefix(base, "template_") && path.Ext(fname) == ".txt":
			task, version, ok := splitTemplateName(strings.TrimPrefix(base, "template_"))
			if !ok {
				return fmt.Errorf("seed template %s: name must be template_<task>_<version>.txt", fname)
			}
			hdr, body := ParseTemplateFile(string(b))
			if _, err := d.Exec(ctx, `INSERT INTO ai_templates (task, version, system, body, schema_name, updated) VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(task, version) DO UPDATE SET system = excluded.system, body = excluded.body,
				schema_name = excluded.schema_name, updated = excluded.updated`,
				task, version, hdr["system"], body, hdr["schema"], now); err != nil {
				return fmt.Errorf("seed template %s: %w", fname, err)
			}
		}
	}
	return nil
}

// ParseTemplateFile splits a seed template into its "key: value" header and
// the body that follows the first "---" line. A file without a separator is
// all body.
func ParseTemplateFile(s string) (map[string]string, string) {
	hdr := map[string]string{}
	head, body, found := strings.Cut(s, "\n---\n")
	if !found {
		return hdr, s
	}
	sc := bufio.NewScanner(strings.NewReader(head))
	for sc.Scan() {
		k, v, ok := strings.Cut(sc.Text(), ":")
		if ok {
			hdr[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	return hdr, body
}

// splitTemplateName splits "score_fit_v1" into ("score_fit", "v1").
func splitTemplateName(s string) (task, version string, ok bool) {
	i := strings.LastIndex(s, "_")
	if i <= 0 || i == len(s)-1 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}

func listFiles(fsys fs.FS, dir, ext string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ext == "" || strings.HasSuffix(strings.ToLower(e.Name()), ext) {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}
