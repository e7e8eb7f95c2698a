package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/garnizeh/jobpipe/internal/calendar"
	"github.com/garnizeh/jobpipe/pkg/models"
)

const opportunityColumns = `id, company, title, job_family, tier, stage, next_action, next_action_date,
	source, salary_range, jd_url, jd_text, fit_score, fit_summary, created_at, last_activity_at`

func (r *SQLiteRepo) CreateOpportunity(ctx context.Context, o *models.Opportunity) (int64, error) {
	if o == nil {
		return 0, fmt.Errorf("opportunity is nil")
	}

	res, err := r.q.ExecContext(ctx, `INSERT INTO opportunities (company, title, job_family, tier, stage, next_action, next_action_date,
		source, salary_range, jd_url, jd_text, fit_score, fit_summary, created_at, last_activity_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.Company, o.Title, string(o.JobFamily), o.Tier, string(o.Stage), o.NextAction, calendar.FormatDate(o.NextActionDate),
		o.Source, o.SalaryRange, o.JDURL, o.JDText, nullInt(o.FitScore), o.FitSummary,
		toMillis(o.CreatedAt), toMillis(o.LastActivityAt))
	if err != nil {
		return 0, err
	}

	return res.LastInsertId()
}

func (r *SQLiteRepo) GetOpportunity(ctx context.Context, id int64) (*models.Opportunity, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+opportunityColumns+` FROM opportunities WHERE id = ?`, id)
	o, err := scanOpportunity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return o, nil
}

// SaveOpportunity writes every mutable field of o. Saving a missing row is an
// error.
func (r *SQLiteRepo) SaveOpportunity(ctx context.Context, o *models.Opportunity) error {
	if o == nil {
		return fmt.Errorf("opportunity is nil")
	}

	res, err := r.q.ExecContext(ctx, `UPDATE opportunities SET company = ?, title = ?, job_family = ?, tier = ?, stage = ?,
		next_action = ?, next_action_date = ?, source = ?, salary_range = ?, jd_url = ?, jd_text = ?,
		fit_score = ?, fit_summary = ?, last_activity_at = ? WHERE id = ?`,
		o.Company, o.Title, string(o.JobFamily), o.Tier, string(o.Stage),
		o.NextAction, calendar.FormatDate(o.NextActionDate), o.Source, o.SalaryRange, o.JDURL, o.JDText,
		nullInt(o.FitScore), o.FitSummary, toMillis(o.LastActivityAt), o.ID)
	if err != nil {
		return err
	}
	return expectOneRow(res, "opportunity", o.ID)
}

func (r *SQLiteRepo) ListOpportunities(ctx context.Context, f models.OpportunityFilter) ([]models.Opportunity, error) {
	var (
		where []string
		args  []any
	)
	if f.Stage != "" {
		where = append(where, "stage = ?")
		args = append(args, string(f.Stage))
	}
	if f.Tier != 0 {
		where = append(where, "tier = ?")
		args = append(args, f.Tier)
	}
	if f.JobFamily != "" {
		where = append(where, "job_family = ?")
		args = append(args, string(f.JobFamily))
	}
	if f.ExcludeClosed {
		where = append(where, "stage <> ?")
		args = append(args, string(models.StageClosed))
	}
	if f.Unscored {
		where = append(where, "fit_score IS NULL")
	}

	q := `SELECT ` + opportunityColumns + ` FROM opportunities`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id"

	rows, err := r.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Opportunity
	for rows.Next() {
		o, err := scanOpportunity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func scanOpportunity(s scanner) (*models.Opportunity, error) {
	var (
		o                   models.Opportunity
		family, stage, next string
		fit                 sql.NullInt64
		created, last       int64
	)
	if err := s.Scan(&o.ID, &o.Company, &o.Title, &family, &o.Tier, &stage, &o.NextAction, &next,
		&o.Source, &o.SalaryRange, &o.JDURL, &o.JDText, &fit, &o.FitSummary, &created, &last); err != nil {
		return nil, err
	}
	o.JobFamily = models.JobFamily(family)
	o.Stage = models.Stage(stage)
	if next != "" {
		d, err := time.Parse(calendar.DateLayout, next)
		if err != nil {
			return nil, fmt.Errorf("opportunity %d: bad next_action_date %q: %w", o.ID, next, err)
		}
		o.NextActionDate = d
	}
	if fit.Valid {
		v := int(fit.Int64)
		o.FitScore = &v
	}
	o.CreatedAt = fromMillis(created)
	o.LastActivityAt = fromMillis(last)
	return &o, nil
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func expectOneRow(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("%s %d: %d rows updated", entity, id, n)
	}
	return nil
}
