package ai

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/garnizeh/jobpipe/pkg/models"
)

// ScoreRecorder is the slice of the pipeline engine that scoring touches.
// *pipeline.Engine satisfies it.
type ScoreRecorder interface {
	GetOpportunity(ctx context.Context, id int64) (*models.Opportunity, error)
	RecordScore(ctx context.Context, id int64, score int, summary string, now time.Time) (*models.Opportunity, error)
}

// ScoreOpportunity scores one opportunity and, only when the model call
// succeeded, records the score through the pipeline. A failed model call
// leaves the opportunity untouched.
func ScoreOpportunity(ctx context.Context, e *Engine, p ScoreRecorder, id int64, resume string, now time.Time) (*FitScore, *models.Opportunity, error) {
	o, err := p.GetOpportunity(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	fit, err := e.ScoreFit(ctx, o, resume)
	if err != nil {
		return nil, nil, fmt.Errorf("score opportunity %d: %w", id, err)
	}

	updated, err := p.RecordScore(ctx, id, fit.Score, fit.Summary(), now)
	if err != nil {
		return fit, nil, err
	}

	logger.Info("ai: opportunity scored", slog.Int64("opportunity_id", id), slog.Int("fit_score", fit.Score))
	return fit, updated, nil
}
