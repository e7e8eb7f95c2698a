package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/garnizeh/jobpipe/pkg/models"
	"github.com/garnizeh/jobpipe/pkg/repository"
)

type AdvanceOptions struct {
	Note        string
	CloseReason string
}

// Advance moves an opportunity to target, recomputes its next action and
// appends one stage-change activity. Any of the eight stages is a valid
// target; forward skips are allowed but logged.
func (e *Engine) Advance(ctx context.Context, id int64, target models.Stage, now time.Time, opts AdvanceOptions) (*models.Opportunity, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStage, target)
	}

	var out *models.Opportunity
	err := e.mutate(ctx, "advance", func(tx repository.Tx) error {
		o, err := getOpportunity(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := e.transition(ctx, tx, o, target, now, opts); err != nil {
			return err
		}
		if err := tx.SaveOpportunity(ctx, o); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// transition applies a stage change to o in memory and appends the matching
// activity through tx. The caller saves o.
func (e *Engine) transition(ctx context.Context, tx repository.Tx, o *models.Opportunity, target models.Stage, now time.Time, opts AdvanceOptions) error {
	if err := touch(o, now); err != nil {
		return err
	}
	from := o.Stage
	skipped := SkippedStages(from, target)

	o.Stage = target
	o.NextAction, o.NextActionDate = NextAction(target, now)

	meta := map[string]string{
		"from":             string(from),
		"to":               string(target),
		"next_action":      o.NextAction,
		"next_action_date": dateMeta(o.NextActionDate),
	}
	detail := fmt.Sprintf("Stage changed: %s → %s", from, target)
	if len(skipped) > 0 {
		meta["skipped"] = joinStages(skipped)
		e.logger.Warn("stage skipped forward",
			"opportunity_id", o.ID, "from", from, "to", target, "skipped", meta["skipped"])
	}
	if opts.CloseReason != "" {
		meta["close_reason"] = opts.CloseReason
		detail += " | Reason: " + opts.CloseReason
	}
	if opts.Note != "" {
		meta["note"] = opts.Note
		detail += " | Note: " + opts.Note
	}

	if _, err := tx.AppendActivity(ctx, &models.Activity{
		OpportunityID: o.ID,
		Kind:          models.KindStageChange,
		Detail:        detail,
		Metadata:      meta,
		Timestamp:     now,
	}); err != nil {
		return err
	}

	e.logger.Info("stage advanced", "opportunity_id", o.ID, "from", from, "to", target,
		"next_action_date", meta["next_action_date"])
	return nil
}

// BulkFailure is one opportunity a bulk advance left unchanged.
type BulkFailure struct {
	ID      int64  `json:"id"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

type BulkResult struct {
	Updated int           `json:"updated"`
	Total   int           `json:"total"`
	Failed  []BulkFailure `json:"failed"`
}

// BulkAdvance moves each listed opportunity to target in its own transaction,
// so one failure does not undo the others. Repeated ids are advanced once.
// Only an invalid target or an empty id list fails the whole call.
func (e *Engine) BulkAdvance(ctx context.Context, ids []int64, target models.Stage, now time.Time, opts AdvanceOptions) (*BulkResult, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStage, target)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no opportunities selected", ErrPrecondition)
	}

	res := &BulkResult{Failed: []BulkFailure{}}
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		res.Total++

		if _, err := e.Advance(ctx, id, target, now, opts); err != nil {
			res.Failed = append(res.Failed, BulkFailure{ID: id, Error: Kind(err), Message: err.Error()})
			continue
		}
		res.Updated++
	}

	e.logger.Info("bulk advance", "to", target, "updated", res.Updated, "total", res.Total)
	return res, nil
}
