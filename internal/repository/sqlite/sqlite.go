package sqlite

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"time"

	"github.com/garnizeh/jobpipe/internal/db"
	"github.com/garnizeh/jobpipe/pkg/repository"
)

// querier is satisfied by both *sql.DB and *sql.Tx, so every repository
// method runs unchanged inside or outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteRepo implements repository interfaces using the internal DB wrapper.
type SQLiteRepo struct {
	conn   *db.DB
	q      querier
	inTx   bool
	logger *slog.Logger
}

// Ensure SQLiteRepo implements the public interfaces.
var _ repository.Store = (*SQLiteRepo)(nil)
var _ repository.PromptRepo = (*SQLiteRepo)(nil)

func New(conn *db.DB, logger *slog.Logger) *SQLiteRepo {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &SQLiteRepo{conn: conn, q: conn.GetConn(), logger: logger}
}

// WithTx runs fn in a single transaction. The DSN opens transactions with
// BEGIN IMMEDIATE, so concurrent writers queue on the database lock and see
// each other's committed state when they re-read inside fn. Nested calls join
// the outer transaction.
func (r *SQLiteRepo) WithTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	if r.inTx {
		return fn(r)
	}
	return r.conn.WithTx(ctx, func(tx *sql.Tx) error {
		return fn(&SQLiteRepo{conn: r.conn, q: tx, inTx: true, logger: r.logger})
	})
}

func now() int64 {
	return time.Now().UTC().UnixMilli()
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UTC().UnixMilli(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.UnixMilli(n.Int64).UTC()
	return &t
}

type scanner interface {
	Scan(dest ...any) error
}
