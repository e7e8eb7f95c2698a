// Package pipeline is the workflow engine of the job-search tracker: the stage
// state machine, the follow-up scheduler, the staleness detector and the digest
// aggregator. Every time-sensitive operation takes now as an argument; the
// engine never reads the wall clock.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/garnizeh/jobpipe/internal/calendar"
	"github.com/garnizeh/jobpipe/pkg/models"
	"github.com/garnizeh/jobpipe/pkg/repository"
)

// Observer is notified after every mutating operation with its outcome.
type Observer func(op string, err error)

type Engine struct {
	store    repository.Store
	logger   *slog.Logger
	observer Observer
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

func New(store repository.Store, opts ...Option) *Engine {
	e := &Engine{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// mutate runs fn in one store transaction so the state change and its
// activity records commit together.
func (e *Engine) mutate(ctx context.Context, op string, fn func(tx repository.Tx) error) error {
	err := classify(e.store.WithTx(ctx, fn))
	if e.observer != nil {
		e.observer(op, err)
	}
	if err != nil {
		e.logger.Debug("pipeline mutation rejected", "op", op, "kind", Kind(err), "err", err)
	}
	return err
}

func (e *Engine) GetOpportunity(ctx context.Context, id int64) (*models.Opportunity, error) {
	o, err := e.store.GetOpportunity(ctx, id)
	if err != nil {
		return nil, classify(err)
	}
	if o == nil {
		return nil, notFound("opportunity", id)
	}
	return o, nil
}

func (e *Engine) GetContact(ctx context.Context, id int64) (*models.Contact, error) {
	c, err := e.store.GetContact(ctx, id)
	if err != nil {
		return nil, classify(err)
	}
	if c == nil {
		return nil, notFound("contact", id)
	}
	return c, nil
}

func (e *Engine) ListOpportunities(ctx context.Context, f models.OpportunityFilter) ([]models.Opportunity, error) {
	out, err := e.store.ListOpportunities(ctx, f)
	return out, classify(err)
}

func (e *Engine) Contacts(ctx context.Context, opportunityID int64) ([]models.Contact, error) {
	if _, err := e.GetOpportunity(ctx, opportunityID); err != nil {
		return nil, err
	}
	out, err := e.store.ListContacts(ctx, opportunityID)
	return out, classify(err)
}

// Trail returns the activity log of an opportunity, oldest first.
func (e *Engine) Trail(ctx context.Context, opportunityID int64) ([]models.Activity, error) {
	if _, err := e.GetOpportunity(ctx, opportunityID); err != nil {
		return nil, err
	}
	out, err := e.store.ListActivities(ctx, opportunityID)
	return out, classify(err)
}

// touch sets last_activity_at to ts. Mutations apply in timestamp order so
// the activity trail replays to the stored state; a ts before the latest
// activity is ErrPrecondition.
func touch(o *models.Opportunity, ts time.Time) error {
	if ts.Before(o.LastActivityAt) {
		return fmt.Errorf("%w: opportunity %d has activity at %s, after %s",
			ErrPrecondition, o.ID, o.LastActivityAt.UTC().Format(time.RFC3339), ts.UTC().Format(time.RFC3339))
	}
	o.LastActivityAt = ts
	return nil
}

func getOpportunity(ctx context.Context, tx repository.Tx, id int64) (*models.Opportunity, error) {
	o, err := tx.GetOpportunity(ctx, id)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, notFound("opportunity", id)
	}
	return o, nil
}

func getContact(ctx context.Context, tx repository.Tx, id int64) (*models.Contact, error) {
	c, err := tx.GetContact(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, notFound("contact", id)
	}
	return c, nil
}

func joinStages(ss []models.Stage) string {
	parts := make([]string, len(ss))
	for i, s := range ss {
		parts[i] = string(s)
	}
	return strings.Join(parts, ",")
}

func dateMeta(t time.Time) string { return calendar.FormatDate(t) }
