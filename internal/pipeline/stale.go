package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/garnizeh/jobpipe/internal/calendar"
	"github.com/garnizeh/jobpipe/pkg/models"
)

const DefaultStaleDays = 7

// StalePolicy sets the idle threshold in days. PerStage overrides DefaultDays
// for the stages it names. Zero means "not set": a zero DefaultDays falls back
// to DefaultStaleDays and a zero PerStage entry to DefaultDays. Negative
// values are rejected.
type StalePolicy struct {
	DefaultDays int                  `json:"default_days" yaml:"default_days"`
	PerStage    map[models.Stage]int `json:"per_stage,omitempty" yaml:"per_stage"`
}

// Uniform is a policy with the same threshold for every stage.
func Uniform(days int) StalePolicy { return StalePolicy{DefaultDays: days} }

func (p StalePolicy) validate() error {
	if p.DefaultDays < 0 {
		return fmt.Errorf("%w: stale threshold must not be negative, got %d", ErrPrecondition, p.DefaultDays)
	}
	for s, d := range p.PerStage {
		if d < 0 {
			return fmt.Errorf("%w: stale threshold for %s must not be negative, got %d", ErrPrecondition, s, d)
		}
	}
	return nil
}

func (p StalePolicy) daysFor(s models.Stage) int {
	if d, ok := p.PerStage[s]; ok && d > 0 {
		return d
	}
	if p.DefaultDays > 0 {
		return p.DefaultDays
	}
	return DefaultStaleDays
}

type StaleItem struct {
	Opportunity   models.Opportunity `json:"opportunity"`
	Idle          time.Duration      `json:"idle"`
	IdleDays      int                `json:"idle_days"`
	ThresholdDays int                `json:"threshold_days"`
}

// StaleOpportunities returns open opportunities idle for strictly more than
// their threshold, longest idle first, then by tier (unranked last), then id.
func (e *Engine) StaleOpportunities(ctx context.Context, now time.Time, policy StalePolicy) ([]StaleItem, error) {
	if err := policy.validate(); err != nil {
		return nil, err
	}
	opps, err := e.store.ListOpportunities(ctx, models.OpportunityFilter{ExcludeClosed: true})
	if err != nil {
		return nil, classify(err)
	}
	return staleFrom(opps, now, policy), nil
}

func staleFrom(opps []models.Opportunity, now time.Time, policy StalePolicy) []StaleItem {
	var out []StaleItem
	for _, o := range opps {
		if !o.IsOpen() {
			continue
		}
		days := policy.daysFor(o.Stage)
		idle := calendar.Elapsed(o.LastActivityAt, now)
		if idle <= time.Duration(days)*calendar.Day {
			continue
		}
		out = append(out, StaleItem{
			Opportunity:   o,
			Idle:          idle,
			IdleDays:      calendar.DaysBetween(o.LastActivityAt, now),
			ThresholdDays: days,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Idle != b.Idle {
			return a.Idle > b.Idle
		}
		if ra, rb := tierRank(a.Opportunity.Tier), tierRank(b.Opportunity.Tier); ra != rb {
			return ra < rb
		}
		return a.Opportunity.ID < b.Opportunity.ID
	})
	return out
}

// tierRank orders ranked tiers ascending with unranked (0) after all of them.
func tierRank(tier int) int {
	if tier <= 0 {
		return int(^uint(0) >> 1)
	}
	return tier
}
