package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/garnizeh/jobpipe/pkg/models"
)

func (r *SQLiteRepo) UpsertTemplate(ctx context.Context, t *models.PromptTemplate) error {
	if t == nil {
		return fmt.Errorf("template is nil")
	}
	_, err := r.q.ExecContext(ctx, `INSERT INTO ai_templates (task, version, system, body, schema_name, updated) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(task, version) DO UPDATE SET system = excluded.system, body = excluded.body,
		schema_name = excluded.schema_name, updated = excluded.updated`,
		t.Task, t.Version, t.System, t.Body, t.SchemaName, now())
	return err
}

// GetTemplate returns the template for task at version. An empty version picks
// the most recently updated one.
func (r *SQLiteRepo) GetTemplate(ctx context.Context, task, version string) (*models.PromptTemplate, error) {
	var row *sql.Row
	if version == "" {
		row = r.q.QueryRowContext(ctx, `SELECT id, task, version, system, body, schema_name, updated FROM ai_templates WHERE task = ? ORDER BY updated DESC, id DESC LIMIT 1`, task)
	} else {
		row = r.q.QueryRowContext(ctx, `SELECT id, task, version, system, body, schema_name, updated FROM ai_templates WHERE task = ? AND version = ?`, task, version)
	}
	t, err := scanTemplate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

func (r *SQLiteRepo) ListTemplates(ctx context.Context) ([]models.PromptTemplate, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT id, task, version, system, body, schema_name, updated FROM ai_templates ORDER BY task, version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PromptTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanTemplate(s scanner) (*models.PromptTemplate, error) {
	var (
		t       models.PromptTemplate
		updated int64
	)
	if err := s.Scan(&t.ID, &t.Task, &t.Version, &t.System, &t.Body, &t.SchemaName, &updated); err != nil {
		return nil, err
	}
	t.Updated = fromMillis(updated)
	return &t, nil
}
