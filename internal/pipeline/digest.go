package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/garnizeh/jobpipe/pkg/models"
	"github.com/garnizeh/jobpipe/pkg/repository"
)

type DigestOptions struct {
	Stale StalePolicy
	// PriorityLimit truncates Priorities; 0 keeps all open opportunities.
	PriorityLimit int
	// Persist appends a digest-generated activity to every opportunity the
	// digest mentions.
	Persist bool
}

// StageCount is one row of the open-stage histogram.
type StageCount struct {
	Stage models.Stage `json:"stage"`
	Count int          `json:"count"`
}

// Digest is the factual daily snapshot handed to the presentation layer and,
// optionally, to the text generator for narration.
type Digest struct {
	GeneratedAt time.Time            `json:"generated_at"`
	StageCounts []StageCount         `json:"stage_counts"`
	ClosedCount int                  `json:"closed_count"`
	OpenCount   int                  `json:"open_count"`
	Day3        []DueItem            `json:"day3"`
	Day7        []DueItem            `json:"day7"`
	Stale       []StaleItem          `json:"stale"`
	Priorities  []models.Opportunity `json:"priorities"`
}

// Count returns the number of open opportunities in s.
func (d *Digest) Count(s models.Stage) int {
	for _, sc := range d.StageCounts {
		if sc.Stage == s {
			return sc.Count
		}
	}
	return 0
}

// BuildDigest composes the stage histogram, due follow-ups, stale list and the
// priority ranking as of now. It only writes when opts.Persist is set.
func (e *Engine) BuildDigest(ctx context.Context, now time.Time, opts DigestOptions) (*Digest, error) {
	if err := opts.Stale.validate(); err != nil {
		return nil, err
	}
	opps, err := e.store.ListOpportunities(ctx, models.OpportunityFilter{})
	if err != nil {
		return nil, classify(err)
	}
	due, err := e.DueFollowUps(ctx, now)
	if err != nil {
		return nil, err
	}

	d := &Digest{
		GeneratedAt: now,
		Day3:        due.Day3,
		Day7:        due.Day7,
		Stale:       staleFrom(opps, now, opts.Stale),
	}

	counts := make(map[models.Stage]int, len(models.Stages))
	var open []models.Opportunity
	for _, o := range opps {
		if !o.IsOpen() {
			d.ClosedCount++
			continue
		}
		counts[o.Stage]++
		open = append(open, o)
	}
	d.OpenCount = len(open)
	for _, s := range models.Stages {
		if s.IsTerminal() {
			continue
		}
		d.StageCounts = append(d.StageCounts, StageCount{Stage: s, Count: counts[s]})
	}

	sort.SliceStable(open, func(i, j int) bool {
		a, b := open[i], open[j]
		if ra, rb := tierRank(a.Tier), tierRank(b.Tier); ra != rb {
			return ra < rb
		}
		if !a.NextActionDate.Equal(b.NextActionDate) {
			return a.NextActionDate.Before(b.NextActionDate)
		}
		return a.ID < b.ID
	})
	if opts.PriorityLimit > 0 && len(open) > opts.PriorityLimit {
		open = open[:opts.PriorityLimit]
	}
	d.Priorities = open

	if opts.Persist {
		if err := e.persistDigest(ctx, d); err != nil {
			return nil, err
		}
	}
	e.logger.Info("digest built", "open", d.OpenCount, "closed", d.ClosedCount,
		"day3", len(d.Day3), "day7", len(d.Day7), "stale", len(d.Stale), "persisted", opts.Persist)
	return d, nil
}

// Touched returns the ids of every opportunity the digest mentions, ascending.
func (d *Digest) Touched() []int64 {
	seen := map[int64]bool{}
	for _, it := range d.Day3 {
		seen[it.OpportunityID] = true
	}
	for _, it := range d.Day7 {
		seen[it.OpportunityID] = true
	}
	for _, it := range d.Stale {
		seen[it.Opportunity.ID] = true
	}
	for _, o := range d.Priorities {
		seen[o.ID] = true
	}
	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// persistDigest logs the digest against each touched opportunity without
// bumping last_activity_at, so a digest never hides staleness.
func (e *Engine) persistDigest(ctx context.Context, d *Digest) error {
	ids := d.Touched()
	reasons := d.reasons()
	return e.mutate(ctx, "persist_digest", func(tx repository.Tx) error {
		for _, id := range ids {
			if _, err := tx.AppendActivity(ctx, &models.Activity{
				OpportunityID: id,
				Kind:          models.KindDigestGenerated,
				Detail:        fmt.Sprintf("Included in digest: %s", strings.Join(reasons[id], ", ")),
				Metadata: map[string]string{
					"reasons":    strings.Join(reasons[id], ","),
					"open_count": strconv.Itoa(d.OpenCount),
				},
				Timestamp: d.GeneratedAt,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *Digest) reasons() map[int64][]string {
	out := map[int64][]string{}
	add := func(id int64, r string) {
		for _, have := range out[id] {
			if have == r {
				return
			}
		}
		out[id] = append(out[id], r)
	}
	for _, it := range d.Day3 {
		add(it.OpportunityID, "day3")
	}
	for _, it := range d.Day7 {
		add(it.OpportunityID, "day7")
	}
	for _, it := range d.Stale {
		add(it.Opportunity.ID, "stale")
	}
	for _, o := range d.Priorities {
		add(o.ID, "priority")
	}
	return out
}
