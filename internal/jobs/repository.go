package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/garnizeh/jobpipe/internal/db"
)

const jobColumns = `id, type, payload, status, attempts, max_attempts, priority, scheduled_at, next_try_at, last_error, created, updated`

// Repository persists jobs in SQLite. All timestamps are unix millis.
type Repository struct {
	db  *db.DB
	now func() time.Time
}

func NewRepository(d *db.DB) *Repository {
	return &Repository{db: d, now: func() time.Time { return time.Now().UTC() }}
}

// Enqueue inserts a job into the jobs table and returns the new ID
func (r *Repository) Enqueue(ctx context.Context, j *Job) (int64, error) {
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = 5
	}
	if len(j.Payload) == 0 {
		j.Payload = json.RawMessage(`{}`)
	}
	now := r.now()
	if j.ScheduledAt.IsZero() {
		j.ScheduledAt = now
	}

	res, err := r.db.Exec(ctx, `INSERT INTO jobs(type, payload, status, attempts, max_attempts, priority, scheduled_at, created, updated)
		VALUES(?,?,?,?,?,?,?,?,?)`,
		j.Type, string(j.Payload), StatusQueued, j.Attempts, j.MaxAttempts, j.Priority,
		j.ScheduledAt.UnixMilli(), now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("enqueue failed: %w", err)
	}
	return res.LastInsertId()
}

// Claim picks the next runnable job and marks it running in one transaction.
// It returns (nil, nil) when nothing is due. A job is handed to at most one caller.
func (r *Repository) Claim(ctx context.Context) (*Job, error) {
	var claimed *Job
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		now := r.now().UnixMilli()
		row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs
			WHERE status IN ('queued', 'retry') AND (next_try_at IS NULL OR next_try_at <= ?) AND scheduled_at <= ?
			ORDER BY priority ASC, scheduled_at ASC, id ASC LIMIT 1`, now, now)
		j, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `UPDATE jobs SET status = ?, updated = ? WHERE id = ? AND status IN ('queued', 'retry')`,
			StatusRunning, now, j.ID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n != 1 {
			// another worker got it first
			return nil
		}
		j.Status = StatusRunning
		claimed = j
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return claimed, nil
}

// Get returns a job by id, or (nil, nil) if it is not in the jobs table.
func (r *Repository) Get(ctx context.Context, id int64) (*Job, error) {
	j, err := scanJob(r.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return j, err
}

// UpdateJob updates attempts, status, next_try_at, last_error
func (r *Repository) UpdateJob(ctx context.Context, j *Job) error {
	var nextTry any
	if j.NextTryAt != nil {
		nextTry = j.NextTryAt.UnixMilli()
	}
	_, err := r.db.Exec(ctx, `UPDATE jobs SET status = ?, attempts = ?, next_try_at = ?, last_error = ?, updated = ? WHERE id = ?`,
		j.Status, j.Attempts, nextTry, j.LastError, r.now().UnixMilli(), j.ID)
	return err
}

// MoveToDeadLetter moves a job to dead_letter_jobs and deletes the original
func (r *Repository) MoveToDeadLetter(ctx context.Context, j *Job) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO dead_letter_jobs(job_id, type, payload, attempts, last_error, failed_at) VALUES(?,?,?,?,?,?)`,
			j.ID, j.Type, string(j.Payload), j.Attempts, j.LastError, r.now().UnixMilli()); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, j.ID)
		return err
	})
}

// RequeueRunning puts jobs left running by a crashed process back in the queue.
func (r *Repository) RequeueRunning(ctx context.Context) (int64, error) {
	res, err := r.db.Exec(ctx, `UPDATE jobs SET status = ?, updated = ? WHERE status = ?`,
		StatusRetry, r.now().UnixMilli(), StatusRunning)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Pending reports whether a queued, running or retrying job of typ already
// carries payload.
func (r *Repository) Pending(ctx context.Context, typ string, payload json.RawMessage) (bool, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM jobs WHERE type = ? AND payload = ? AND status IN ('queued', 'running', 'retry')`,
		typ, string(payload)).Scan(&n)
	return n > 0, err
}

// Counts returns the number of jobs per status.
func (r *Repository) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryRows(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

func (r *Repository) ListDeadLetters(ctx context.Context) ([]DeadLetter, error) {
	rows, err := r.db.QueryRows(ctx, `SELECT id, job_id, type, payload, attempts, last_error, failed_at FROM dead_letter_jobs ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeadLetter
	for rows.Next() {
		var (
			d        DeadLetter
			payload  string
			failedAt int64
		)
		if err := rows.Scan(&d.ID, &d.JobID, &d.Type, &payload, &d.Attempts, &d.LastError, &failedAt); err != nil {
			return nil, err
		}
		d.Payload = json.RawMessage(payload)
		d.FailedAt = time.UnixMilli(failedAt).UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(s rowScanner) (*Job, error) {
	var (
		j                             Job
		payload                       string
		scheduledAt, created, updated int64
		nextTry                       sql.NullInt64
	)
	if err := s.Scan(&j.ID, &j.Type, &payload, &j.Status, &j.Attempts, &j.MaxAttempts, &j.Priority,
		&scheduledAt, &nextTry, &j.LastError, &created, &updated); err != nil {
		return nil, err
	}
	j.Payload = json.RawMessage(payload)
	j.ScheduledAt = time.UnixMilli(scheduledAt).UTC()
	j.Created = time.UnixMilli(created).UTC()
	j.Updated = time.UnixMilli(updated).UTC()
	if nextTry.Valid {
		t := time.UnixMilli(nextTry.Int64).UTC()
		j.NextTryAt = &t
	}
	return &j, nil
}
