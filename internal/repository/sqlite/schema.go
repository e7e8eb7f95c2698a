package sqlite

import (
	"context"
	"fmt"

	"github.com/garnizeh/jobpipe/pkg/models"
)

// UpsertSchema inserts or updates a response schema by name.
func (r *SQLiteRepo) UpsertSchema(ctx context.Context, s *models.PromptSchema) error {
	if s == nil {
		return fmt.Errorf("schema is nil")
	}
	_, err := r.q.ExecContext(ctx, `INSERT INTO ai_schemas (name, description, schema_json, updated) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET description = excluded.description, schema_json = excluded.schema_json, updated = excluded.updated`,
		s.Name, s.Description, s.SchemaJSON, now())
	return err
}

func (r *SQLiteRepo) ListSchemas(ctx context.Context) ([]models.PromptSchema, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT id, name, description, schema_json, updated FROM ai_schemas ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PromptSchema
	for rows.Next() {
		var (
			s       models.PromptSchema
			updated int64
		)
		if err := rows.Scan(&s.ID, &s.Name, &s.Description, &s.SchemaJSON, &updated); err != nil {
			return nil, err
		}
		s.Updated = fromMillis(updated)
		out = append(out, s)
	}
	return out, rows.Err()
}
