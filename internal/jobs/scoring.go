package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/garnizeh/jobpipe/internal/ai"
	"github.com/garnizeh/jobpipe/internal/calendar"
	"github.com/garnizeh/jobpipe/internal/pipeline"
	"github.com/garnizeh/jobpipe/pkg/models"
)

// TypeScoreFit scores one opportunity against the resume.
const TypeScoreFit = "ai.score_fit"

type ScoreFitPayload struct {
	OpportunityID int64 `json:"opportunity_id"`
}

// ScoreFitHandler returns the handler for TypeScoreFit. Missing opportunities
// and missing inputs fail permanently; generator and response errors retry.
func ScoreFitHandler(eng *ai.Engine, p ai.ScoreRecorder, resume func() (string, error), clock calendar.Clock) Handler {
	return func(ctx context.Context, j *Job) error {
		var payload ScoreFitPayload
		if err := json.Unmarshal(j.Payload, &payload); err != nil || payload.OpportunityID <= 0 {
			return fmt.Errorf("%w: bad payload %s", ErrPermanent, j.Payload)
		}

		text, err := resume()
		if err != nil {
			return fmt.Errorf("%w: read resume: %w", ErrPermanent, err)
		}

		_, _, err = ai.ScoreOpportunity(ctx, eng, p, payload.OpportunityID, text, clock.Now())
		switch {
		case err == nil:
			return nil
		case errors.Is(err, pipeline.ErrNotFound), errors.Is(err, ai.ErrMissingInput), errors.Is(err, pipeline.ErrPrecondition):
			return fmt.Errorf("%w: %w", ErrPermanent, err)
		default:
			return err
		}
	}
}

// OpportunityLister is the read side of the pipeline engine used to find work.
type OpportunityLister interface {
	ListOpportunities(ctx context.Context, f models.OpportunityFilter) ([]models.Opportunity, error)
}

// EnqueueUnscored queues a TypeScoreFit job for every open, unscored
// opportunity that has a job description and no pending job. It returns the
// new job ids.
func EnqueueUnscored(ctx context.Context, repo *Repository, l OpportunityLister, maxAttempts int) ([]int64, error) {
	opps, err := l.ListOpportunities(ctx, models.OpportunityFilter{ExcludeClosed: true, Unscored: true})
	if err != nil {
		return nil, err
	}

	var ids []int64
	for _, o := range opps {
		if o.JDText == "" {
			continue
		}
		b, err := json.Marshal(ScoreFitPayload{OpportunityID: o.ID})
		if err != nil {
			return ids, err
		}
		pending, err := repo.Pending(ctx, TypeScoreFit, b)
		if err != nil {
			return ids, err
		}
		if pending {
			continue
		}
		prio := o.Tier
		if prio == 0 {
			prio = 100
		}
		id, err := repo.Enqueue(ctx, &Job{Type: TypeScoreFit, Payload: b, Priority: prio, MaxAttempts: maxAttempts})
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
