package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/garnizeh/jobpipe/pkg/models"
	"github.com/garnizeh/jobpipe/pkg/repository"
)

// NewOpportunity carries the user-supplied fields of a new opportunity.
type NewOpportunity struct {
	Company     string           `json:"company"`
	Title       string           `json:"title"`
	JobFamily   models.JobFamily `json:"job_family,omitempty"`
	Tier        int              `json:"tier,omitempty"`
	Source      string           `json:"source,omitempty"`
	SalaryRange string           `json:"salary_range,omitempty"`
	JDURL       string           `json:"jd_url,omitempty"`
	JDText      string           `json:"jd_text,omitempty"`
}

func (in NewOpportunity) validate() error {
	if strings.TrimSpace(in.Company) == "" {
		return fmt.Errorf("%w: company is required", ErrPrecondition)
	}
	if in.Tier < 0 {
		return fmt.Errorf("%w: tier must be >= 0, got %d", ErrPrecondition, in.Tier)
	}
	if _, ok := models.ParseJobFamily(string(in.JobFamily)); !ok {
		return fmt.Errorf("%w: unknown job family %q", ErrPrecondition, in.JobFamily)
	}
	return nil
}

// CreateOpportunity inserts a new opportunity in Prospect.
func (e *Engine) CreateOpportunity(ctx context.Context, in NewOpportunity, now time.Time) (*models.Opportunity, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	family, _ := models.ParseJobFamily(string(in.JobFamily))

	o := &models.Opportunity{
		Company:        strings.TrimSpace(in.Company),
		Title:          strings.TrimSpace(in.Title),
		JobFamily:      family,
		Tier:           in.Tier,
		Stage:          models.StageProspect,
		Source:         in.Source,
		SalaryRange:    in.SalaryRange,
		JDURL:          in.JDURL,
		JDText:         in.JDText,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	o.NextAction, o.NextActionDate = NextAction(o.Stage, now)

	err := e.mutate(ctx, "create_opportunity", func(tx repository.Tx) error {
		id, err := tx.CreateOpportunity(ctx, o)
		if err != nil {
			return err
		}
		o.ID = id
		_, err = tx.AppendActivity(ctx, &models.Activity{
			OpportunityID: id,
			Kind:          models.KindCreated,
			Detail:        fmt.Sprintf("Added %s at %s", displayTitle(o), o.Company),
			Metadata: map[string]string{
				"stage":            string(o.Stage),
				"next_action":      o.NextAction,
				"next_action_date": dateMeta(o.NextActionDate),
			},
			Timestamp: now,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("opportunity created", "opportunity_id", o.ID, "company", o.Company)
	return o, nil
}

// AddNote appends a free-text note to an opportunity.
func (e *Engine) AddNote(ctx context.Context, id int64, text string, now time.Time) (*models.Activity, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: note text is empty", ErrPrecondition)
	}
	a := &models.Activity{OpportunityID: id, Kind: models.KindNote, Detail: text, Timestamp: now}
	err := e.mutate(ctx, "add_note", func(tx repository.Tx) error {
		o, err := getOpportunity(ctx, tx, id)
		if err != nil {
			return err
		}
		if a.ID, err = tx.AppendActivity(ctx, a); err != nil {
			return err
		}
		if err := touch(o, now); err != nil {
			return err
		}
		return tx.SaveOpportunity(ctx, o)
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

const (
	MinFitScore = 1
	MaxFitScore = 10
)

// RecordScore stores a fit score and its one-line summary.
func (e *Engine) RecordScore(ctx context.Context, id int64, score int, summary string, now time.Time) (*models.Opportunity, error) {
	if score < MinFitScore || score > MaxFitScore {
		return nil, fmt.Errorf("%w: fit score must be %d-%d, got %d", ErrPrecondition, MinFitScore, MaxFitScore, score)
	}
	var out *models.Opportunity
	err := e.mutate(ctx, "record_score", func(tx repository.Tx) error {
		o, err := getOpportunity(ctx, tx, id)
		if err != nil {
			return err
		}
		prev := "none"
		if o.FitScore != nil {
			prev = strconv.Itoa(*o.FitScore)
		}
		o.FitScore = &score
		o.FitSummary = summary
		if err := touch(o, now); err != nil {
			return err
		}
		if err := tx.SaveOpportunity(ctx, o); err != nil {
			return err
		}
		if _, err := tx.AppendActivity(ctx, &models.Activity{
			OpportunityID: id,
			Kind:          models.KindScoreRecorded,
			Detail:        fmt.Sprintf("Fit score: %d/10", score),
			Metadata:      map[string]string{"score": strconv.Itoa(score), "previous": prev},
			Timestamp:     now,
		}); err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("fit score recorded", "opportunity_id", id, "score", score)
	return out, nil
}

func displayTitle(o *models.Opportunity) string {
	if o.Title == "" {
		return "untitled role"
	}
	return o.Title
}
