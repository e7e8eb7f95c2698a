package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/garnizeh/jobpipe/pkg/models"
)

// AppendActivity inserts one audit record. The table rejects UPDATE and
// DELETE, so this is the only write path.
func (r *SQLiteRepo) AppendActivity(ctx context.Context, a *models.Activity) (int64, error) {
	if a == nil {
		return 0, fmt.Errorf("activity is nil")
	}
	meta := []byte("{}")
	if len(a.Metadata) > 0 {
		b, err := json.Marshal(a.Metadata)
		if err != nil {
			return 0, fmt.Errorf("encode activity metadata: %w", err)
		}
		meta = b
	}
	var contact sql.NullInt64
	if a.ContactID != nil {
		contact = sql.NullInt64{Int64: *a.ContactID, Valid: true}
	}

	res, err := r.q.ExecContext(ctx, `INSERT INTO activities (opportunity_id, contact_id, kind, detail, metadata, ts) VALUES (?, ?, ?, ?, ?, ?)`,
		a.OpportunityID, contact, string(a.Kind), a.Detail, string(meta), toMillis(a.Timestamp))
	if err != nil {
		return 0, err
	}

	return res.LastInsertId()
}

func (r *SQLiteRepo) ListActivities(ctx context.Context, opportunityID int64) ([]models.Activity, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT id, opportunity_id, contact_id, kind, detail, metadata, ts FROM activities WHERE opportunity_id = ? ORDER BY ts, id`, opportunityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Activity
	for rows.Next() {
		var (
			a       models.Activity
			contact sql.NullInt64
			kind    string
			meta    string
			ts      int64
		)
		if err := rows.Scan(&a.ID, &a.OpportunityID, &contact, &kind, &a.Detail, &meta, &ts); err != nil {
			return nil, err
		}
		a.Kind = models.ActivityKind(kind)
		a.Timestamp = fromMillis(ts)
		if contact.Valid {
			id := contact.Int64
			a.ContactID = &id
		}
		if meta != "" && meta != "{}" {
			if err := json.Unmarshal([]byte(meta), &a.Metadata); err != nil {
				return nil, fmt.Errorf("activity %d: decode metadata: %w", a.ID, err)
			}
		}

		out = append(out, a)
	}

	return out, rows.Err()
}
