package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/garnizeh/jobpipe/pkg/models"
)

const contactColumns = `id, opportunity_id, name, role, channel, email,
	outreach_sent_at, followup3_sent_at, followup7_sent_at, response, created_at`

func (r *SQLiteRepo) CreateContact(ctx context.Context, c *models.Contact) (int64, error) {
	if c == nil {
		return 0, fmt.Errorf("contact is nil")
	}
	resp := c.Response
	if resp == "" {
		resp = models.ResponseNone
	}

	res, err := r.q.ExecContext(ctx, `INSERT INTO contacts (opportunity_id, name, role, channel, email,
		outreach_sent_at, followup3_sent_at, followup7_sent_at, response, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.OpportunityID, c.Name, string(c.Role), c.Channel, c.Email,
		nullMillis(c.OutreachSentAt), nullMillis(c.FollowUp3SentAt), nullMillis(c.FollowUp7SentAt),
		string(resp), toMillis(c.CreatedAt))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r *SQLiteRepo) GetContact(ctx context.Context, id int64) (*models.Contact, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id = ?`, id)
	c, err := scanContact(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

func (r *SQLiteRepo) SaveContact(ctx context.Context, c *models.Contact) error {
	if c == nil {
		return fmt.Errorf("contact is nil")
	}

	res, err := r.q.ExecContext(ctx, `UPDATE contacts SET name = ?, role = ?, channel = ?, email = ?,
		outreach_sent_at = ?, followup3_sent_at = ?, followup7_sent_at = ?, response = ? WHERE id = ?`,
		c.Name, string(c.Role), c.Channel, c.Email,
		nullMillis(c.OutreachSentAt), nullMillis(c.FollowUp3SentAt), nullMillis(c.FollowUp7SentAt),
		string(c.Response), c.ID)
	if err != nil {
		return err
	}
	return expectOneRow(res, "contact", c.ID)
}

func (r *SQLiteRepo) ListContacts(ctx context.Context, opportunityID int64) ([]models.Contact, error) {
	return r.listContacts(ctx, `SELECT `+contactColumns+` FROM contacts WHERE opportunity_id = ? ORDER BY id`, opportunityID)
}

func (r *SQLiteRepo) ListOutreachContacts(ctx context.Context) ([]models.Contact, error) {
	return r.listContacts(ctx, `SELECT `+contactColumns+` FROM contacts WHERE outreach_sent_at IS NOT NULL ORDER BY id`)
}

func (r *SQLiteRepo) listContacts(ctx context.Context, q string, args ...any) ([]models.Contact, error) {
	rows, err := r.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func scanContact(s scanner) (*models.Contact, error) {
	var (
		c                models.Contact
		role, resp       string
		outreach, f3, f7 sql.NullInt64
		created          int64
	)
	if err := s.Scan(&c.ID, &c.OpportunityID, &c.Name, &role, &c.Channel, &c.Email,
		&outreach, &f3, &f7, &resp, &created); err != nil {
		return nil, err
	}
	c.Role = models.ContactRole(role)
	c.Response = models.ResponseStatus(resp)
	c.OutreachSentAt = timePtr(outreach)
	c.FollowUp3SentAt = timePtr(f3)
	c.FollowUp7SentAt = timePtr(f7)
	c.CreatedAt = fromMillis(created)
	return &c, nil
}
