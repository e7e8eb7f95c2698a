package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garnizeh/jobpipe/internal/calendar"
	"github.com/garnizeh/jobpipe/internal/pipeline"
	"github.com/garnizeh/jobpipe/pkg/models"
	"github.com/garnizeh/jobpipe/pkg/repository/memory"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func day(n int) time.Time { return t0.AddDate(0, 0, n) }

func newEngine(t *testing.T) (*pipeline.Engine, *memory.Store) {
	t.Helper()
	store := memory.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return pipeline.New(store, pipeline.WithLogger(logger)), store
}

func mustOpportunity(t *testing.T, e *pipeline.Engine, company string, tier int, now time.Time) *models.Opportunity {
	t.Helper()
	o, err := e.CreateOpportunity(context.Background(), pipeline.NewOpportunity{Company: company, Title: "Analytics Manager", Tier: tier}, now)
	require.NoError(t, err)
	return o
}

func mustContact(t *testing.T, e *pipeline.Engine, oppID int64, now time.Time) *models.Contact {
	t.Helper()
	c, err := e.AddContact(context.Background(), oppID, pipeline.NewContact{Name: "Dana", Role: models.RoleHM, Channel: "linkedin"}, now)
	require.NoError(t, err)
	return c
}

func countKind(acts []models.Activity, kind models.ActivityKind) int {
	n := 0
	for _, a := range acts {
		if a.Kind == kind {
			n++
		}
	}
	return n
}

func TestCreateOpportunity(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	o := mustOpportunity(t, e, "Acme", 1, t0)
	assert.NotZero(t, o.ID)
	assert.Equal(t, models.StageProspect, o.Stage)
	assert.Equal(t, "Find contact and send outreach", o.NextAction)
	assert.Equal(t, "2026-03-02", calendar.FormatDate(o.NextActionDate))
	assert.True(t, o.LastActivityAt.Equal(t0))

	acts, err := e.Trail(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, models.KindCreated, acts[0].Kind)

	_, err = e.CreateOpportunity(ctx, pipeline.NewOpportunity{Company: "  "}, t0)
	assert.ErrorIs(t, err, pipeline.ErrPrecondition)
	_, err = e.CreateOpportunity(ctx, pipeline.NewOpportunity{Company: "X", JobFamily: "Z"}, t0)
	assert.ErrorIs(t, err, pipeline.ErrPrecondition)
}

func TestAdvance_AllTargets(t *testing.T) {
	offsets := map[models.Stage]int{
		models.StageProspect:        0,
		models.StageWarmLead:        3,
		models.StageApplied:         7,
		models.StageRecruiterScreen: 3,
		models.StageHMInterview:     2,
		models.StageLoop:            2,
		models.StageOfferPending:    3,
		models.StageClosed:          7,
	}
	for _, target := range models.Stages {
		t.Run(string(target), func(t *testing.T) {
			e, _ := newEngine(t)
			ctx := context.Background()
			o := mustOpportunity(t, e, "Acme", 2, t0)

			now := day(1)
			got, err := e.Advance(ctx, o.ID, target, now, pipeline.AdvanceOptions{})
			require.NoError(t, err)
			assert.Equal(t, target, got.Stage)
			want := calendar.AddDays(calendar.StartOfDay(now), offsets[target])
			assert.True(t, got.NextActionDate.Equal(want), "next action date %s, want %s", got.NextActionDate, want)
			assert.True(t, got.LastActivityAt.Equal(now))
			assert.Equal(t, o.Company, got.Company)
			assert.Equal(t, o.Tier, got.Tier)

			acts, err := e.Trail(ctx, o.ID)
			require.NoError(t, err)
			assert.Equal(t, 1, countKind(acts, models.KindStageChange))
			last := acts[len(acts)-1]
			assert.Equal(t, string(models.StageProspect), last.Metadata["from"])
			assert.Equal(t, string(target), last.Metadata["to"])
		})
	}
}

func TestAdvance_InvalidStageLeavesOpportunityUnchanged(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	o := mustOpportunity(t, e, "Acme", 1, t0)

	for _, bad := range []models.Stage{"", "Interviewing", "closed", "Offer"} {
		_, err := e.Advance(ctx, o.ID, bad, day(1), pipeline.AdvanceOptions{})
		require.ErrorIs(t, err, pipeline.ErrInvalidStage, "target %q", bad)
		assert.Equal(t, "InvalidStageError", pipeline.Kind(err))
	}

	got, err := e.GetOpportunity(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, *o, *got)

	acts, err := e.Trail(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, acts, 1)
}

func TestAdvance_NotFound(t *testing.T) {
	e, _ := newEngine(t)
	_, err := e.Advance(context.Background(), 404, models.StageApplied, t0, pipeline.AdvanceOptions{})
	require.ErrorIs(t, err, pipeline.ErrNotFound)
	assert.Equal(t, "NotFoundError", pipeline.Kind(err))
}

func TestAdvance_SkipAndCloseReason(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	o := mustOpportunity(t, e, "Acme", 1, t0)

	_, err := e.Advance(ctx, o.ID, models.StageHMInterview, day(1), pipeline.AdvanceOptions{Note: "referral fast track"})
	require.NoError(t, err)
	_, err = e.Advance(ctx, o.ID, models.StageClosed, day(2), pipeline.AdvanceOptions{CloseReason: "role filled"})
	require.NoError(t, err)

	acts, err := e.Trail(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, acts, 3)
	assert.Equal(t, "Warm Lead,Applied,Recruiter Screen", acts[1].Metadata["skipped"])
	assert.Equal(t, "referral fast track", acts[1].Metadata["note"])
	assert.Empty(t, acts[2].Metadata["skipped"])
	assert.Equal(t, "role filled", acts[2].Metadata["close_reason"])
	assert.Contains(t, acts[2].Detail, "role filled")
}

func TestBulkAdvance(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	a := mustOpportunity(t, e, "Acme", 1, t0)
	b := mustOpportunity(t, e, "Globex", 2, t0)
	late := mustOpportunity(t, e, "Initech", 2, day(5))

	res, err := e.BulkAdvance(ctx, []int64{a.ID, 99, b.ID, a.ID, late.ID}, models.StageApplied, day(2), pipeline.AdvanceOptions{Note: "batch"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Updated)
	assert.Equal(t, 4, res.Total)
	require.Len(t, res.Failed, 2)
	assert.Equal(t, int64(99), res.Failed[0].ID)
	assert.Equal(t, "NotFoundError", res.Failed[0].Error)
	assert.Equal(t, late.ID, res.Failed[1].ID)
	assert.Equal(t, "PreconditionError", res.Failed[1].Error)

	for _, id := range []int64{a.ID, b.ID} {
		o, err := e.GetOpportunity(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StageApplied, o.Stage)
		acts, err := e.Trail(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, countKind(acts, models.KindStageChange))
	}
	o, err := e.GetOpportunity(ctx, late.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageProspect, o.Stage)

	_, err = e.BulkAdvance(ctx, []int64{a.ID}, models.Stage("Interviewing"), day(3), pipeline.AdvanceOptions{})
	assert.ErrorIs(t, err, pipeline.ErrInvalidStage)
	_, err = e.BulkAdvance(ctx, nil, models.StageLoop, day(3), pipeline.AdvanceOptions{})
	assert.ErrorIs(t, err, pipeline.ErrPrecondition)
}

func TestSkippedStages(t *testing.T) {
	assert.Nil(t, pipeline.SkippedStages(models.StageProspect, models.StageWarmLead))
	assert.Nil(t, pipeline.SkippedStages(models.StageLoop, models.StageApplied))
	assert.Nil(t, pipeline.SkippedStages(models.StageProspect, models.StageClosed))
	assert.Equal(t, []models.Stage{models.StageWarmLead}, pipeline.SkippedStages(models.StageProspect, models.StageApplied))
}

func TestParseStage(t *testing.T) {
	s, err := pipeline.ParseStage("hm-interview")
	require.NoError(t, err)
	assert.Equal(t, models.StageHMInterview, s)

	s, err = pipeline.ParseStage("Warm_Lead")
	require.NoError(t, err)
	assert.Equal(t, models.StageWarmLead, s)

	_, err = pipeline.ParseStage("onsite")
	assert.ErrorIs(t, err, pipeline.ErrInvalidStage)
}

func TestRecordOutreach_RejectsRepeat(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	o := mustOpportunity(t, e, "Acme", 1, t0)
	c := mustContact(t, e, o.ID, t0)

	first, err := e.RecordOutreach(ctx, c.ID, "email", day(1), pipeline.OutreachOptions{})
	require.NoError(t, err)
	require.NotNil(t, first.OutreachSentAt)
	assert.Equal(t, "email", first.Channel)

	_, err = e.RecordOutreach(ctx, c.ID, "linkedin", day(2), pipeline.OutreachOptions{})
	require.ErrorIs(t, err, pipeline.ErrAlreadySent)
	assert.Equal(t, "AlreadySentError", pipeline.Kind(err))

	got, err := e.GetContact(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.OutreachSentAt.Equal(day(1)))
	assert.Equal(t, "email", got.Channel)

	acts, err := e.Trail(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, countKind(acts, models.KindOutreachSent))

	_, err = e.RecordOutreach(ctx, 999, "", day(1), pipeline.OutreachOptions{})
	assert.ErrorIs(t, err, pipeline.ErrNotFound)
}

func TestRecordOutreach_AutoWarm(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	o := mustOpportunity(t, e, "Acme", 1, t0)
	c := mustContact(t, e, o.ID, t0)

	_, err := e.RecordOutreach(ctx, c.ID, "", day(1), pipeline.OutreachOptions{AutoWarm: true})
	require.NoError(t, err)

	got, err := e.GetOpportunity(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageWarmLead, got.Stage)
	assert.Equal(t, "2026-03-06", calendar.FormatDate(got.NextActionDate))

	// Past Prospect, outreach to another contact leaves the stage alone.
	_, err = e.Advance(ctx, o.ID, models.StageApplied, day(2), pipeline.AdvanceOptions{})
	require.NoError(t, err)
	c2 := mustContact(t, e, o.ID, day(2))
	_, err = e.RecordOutreach(ctx, c2.ID, "", day(3), pipeline.OutreachOptions{AutoWarm: true})
	require.NoError(t, err)
	got, err = e.GetOpportunity(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageApplied, got.Stage)
}

func TestDueFollowUps_Windows(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	o := mustOpportunity(t, e, "Acme", 1, t0)
	c := mustContact(t, e, o.ID, t0)
	_, err := e.RecordOutreach(ctx, c.ID, "email", t0, pipeline.OutreachOptions{})
	require.NoError(t, err)

	due, err := e.DueFollowUps(ctx, t0.Add(3*calendar.Day-time.Second))
	require.NoError(t, err)
	assert.Empty(t, due.Day3)
	assert.Empty(t, due.Day7)

	due, err = e.DueFollowUps(ctx, day(3))
	require.NoError(t, err)
	require.Len(t, due.Day3, 1)
	assert.Equal(t, c.ID, due.Day3[0].Contact.ID)
	assert.Zero(t, due.Day3[0].Overdue)
	assert.Empty(t, due.Day7)

	due, err = e.DueFollowUps(ctx, t0.Add(7*calendar.Day-time.Second))
	require.NoError(t, err)
	assert.Len(t, due.Day3, 1)
	assert.Empty(t, due.Day7)

	due, err = e.DueFollowUps(ctx, day(7))
	require.NoError(t, err)
	require.Len(t, due.Day7, 1)
	assert.Equal(t, c.ID, due.Day7[0].Contact.ID)
}

func TestDueFollowUps_SkipsRespondedAndClosed(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	open := mustOpportunity(t, e, "Open Co", 1, t0)
	closed := mustOpportunity(t, e, "Closed Co", 1, t0)
	a := mustContact(t, e, open.ID, t0)
	b := mustContact(t, e, open.ID, t0)
	z := mustContact(t, e, closed.ID, t0)
	for _, id := range []int64{a.ID, b.ID, z.ID} {
		_, err := e.RecordOutreach(ctx, id, "", t0, pipeline.OutreachOptions{})
		require.NoError(t, err)
	}
	_, err := e.RecordResponse(ctx, b.ID, models.ResponseResponded, day(1))
	require.NoError(t, err)
	_, err = e.Advance(ctx, closed.ID, models.StageClosed, day(1), pipeline.AdvanceOptions{})
	require.NoError(t, err)

	due, err := e.DueFollowUps(ctx, day(4))
	require.NoError(t, err)
	require.Len(t, due.Day3, 1)
	assert.Equal(t, a.ID, due.Day3[0].Contact.ID)
	assert.Equal(t, "Open Co", due.Day3[0].Company)
}

func TestDueFollowUps_Ordering(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	o := mustOpportunity(t, e, "Acme", 1, t0)

	var ids []int64
	for range 3 {
		ids = append(ids, mustContact(t, e, o.ID, t0).ID)
	}
	// recorded in time order; the middle contact was reached first
	for _, i := range []int{1, 0, 2} {
		sent := day(1)
		if i == 1 {
			sent = t0
		}
		_, err := e.RecordOutreach(ctx, ids[i], "", sent, pipeline.OutreachOptions{})
		require.NoError(t, err)
	}

	due, err := e.DueFollowUps(ctx, day(5))
	require.NoError(t, err)
	require.Len(t, due.Day3, 3)
	assert.Equal(t, ids[1], due.Day3[0].Contact.ID, "most overdue first")
	assert.Equal(t, ids[0], due.Day3[1].Contact.ID, "tie broken by contact id")
	assert.Equal(t, ids[2], due.Day3[2].Contact.ID)
	assert.Equal(t, 2*calendar.Day, due.Day3[0].Overdue)
}

func TestRecordFollowUp(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	o := mustOpportunity(t, e, "Acme", 1, t0)
	c := mustContact(t, e, o.ID, t0)

	_, err := e.RecordFollowUp(ctx, c.ID, 3, day(4))
	require.ErrorIs(t, err, pipeline.ErrPrecondition, "no outreach yet")

	_, err = e.RecordOutreach(ctx, c.ID, "", t0, pipeline.OutreachOptions{})
	require.NoError(t, err)

	_, err = e.RecordFollowUp(ctx, c.ID, 5, day(5))
	require.ErrorIs(t, err, pipeline.ErrPrecondition)

	_, err = e.RecordFollowUp(ctx, c.ID, 3, day(3).Add(-time.Minute))
	require.ErrorIs(t, err, pipeline.ErrPrecondition)
	assert.Equal(t, "PreconditionError", pipeline.Kind(err))

	got, err := e.RecordFollowUp(ctx, c.ID, 3, day(3))
	require.NoError(t, err)
	require.NotNil(t, got.FollowUp3SentAt)
	assert.True(t, got.FollowUp3SentAt.Equal(day(3)))

	_, err = e.RecordFollowUp(ctx, c.ID, 3, day(4))
	require.ErrorIs(t, err, pipeline.ErrAlreadySent)
	assert.ErrorIs(t, err, pipeline.ErrPrecondition)
	assert.Equal(t, "AlreadySentError", pipeline.Kind(err))

	got, err = e.GetContact(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.FollowUp3SentAt.Equal(day(3)))

	_, err = e.RecordFollowUp(ctx, c.ID, 7, day(6))
	require.ErrorIs(t, err, pipeline.ErrPrecondition)
	_, err = e.RecordFollowUp(ctx, c.ID, 7, day(8))
	require.NoError(t, err)

	due, err := e.DueFollowUps(ctx, day(10))
	require.NoError(t, err)
	assert.Empty(t, due.Day3)
	assert.Empty(t, due.Day7)
}

func TestStaleOpportunities(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	idle15 := mustOpportunity(t, e, "Idle 15", 0, t0)
	idle12 := mustOpportunity(t, e, "Idle 12", 2, day(3))
	idle12b := mustOpportunity(t, e, "Idle 12 tier 1", 1, day(3))
	exactly10 := mustOpportunity(t, e, "Exactly 10", 1, day(5))
	fresh := mustOpportunity(t, e, "Fresh", 1, day(14))
	closed := mustOpportunity(t, e, "Closed", 1, t0)
	_, err := e.Advance(ctx, closed.ID, models.StageClosed, t0, pipeline.AdvanceOptions{})
	require.NoError(t, err)

	stale, err := e.StaleOpportunities(ctx, day(15), pipeline.Uniform(10))
	require.NoError(t, err)

	var got []int64
	for _, s := range stale {
		got = append(got, s.Opportunity.ID)
		assert.NotEqual(t, models.StageClosed, s.Opportunity.Stage)
	}
	assert.Equal(t, []int64{idle15.ID, idle12b.ID, idle12.ID}, got)
	assert.NotContains(t, got, exactly10.ID)
	assert.NotContains(t, got, fresh.ID)
	assert.Equal(t, 15, stale[0].IdleDays)
	assert.Equal(t, 10, stale[0].ThresholdDays)
}

func TestStaleOpportunities_PerStage(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	prospect := mustOpportunity(t, e, "Prospect", 1, t0)
	loop := mustOpportunity(t, e, "Loop", 1, t0)
	_, err := e.Advance(ctx, loop.ID, models.StageLoop, t0, pipeline.AdvanceOptions{})
	require.NoError(t, err)

	policy := pipeline.StalePolicy{DefaultDays: 14, PerStage: map[models.Stage]int{models.StageLoop: 3}}
	stale, err := e.StaleOpportunities(ctx, day(5), policy)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, loop.ID, stale[0].Opportunity.ID)
	assert.NotEqual(t, prospect.ID, stale[0].Opportunity.ID)
}

// O1 is created at T0, moved to Applied a day later, and its contact C1 gets
// outreach on day 2. An unsent Day-3 follow-up keeps surfacing once Day-7 is
// due, flagged AlsoDueDay7.
func TestStaleOpportunities_ZeroAndNegativeThresholds(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	idle3 := mustOpportunity(t, e, "Idle 3", 1, day(5))
	idle8 := mustOpportunity(t, e, "Idle 8", 1, t0)

	// zero is "not set" and falls back to DefaultStaleDays
	stale, err := e.StaleOpportunities(ctx, day(8), pipeline.Uniform(0))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, idle8.ID, stale[0].Opportunity.ID)
	assert.Equal(t, pipeline.DefaultStaleDays, stale[0].ThresholdDays)

	stale, err = e.StaleOpportunities(ctx, day(8), pipeline.Uniform(2))
	require.NoError(t, err)
	assert.Len(t, stale, 2)
	assert.Equal(t, idle3.ID, stale[1].Opportunity.ID)

	_, err = e.StaleOpportunities(ctx, day(8), pipeline.Uniform(-1))
	require.ErrorIs(t, err, pipeline.ErrPrecondition)
	_, err = e.StaleOpportunities(ctx, day(8), pipeline.StalePolicy{PerStage: map[models.Stage]int{models.StageLoop: -3}})
	require.ErrorIs(t, err, pipeline.ErrPrecondition)
	_, err = e.BuildDigest(ctx, day(8), pipeline.DigestOptions{Stale: pipeline.Uniform(-1)})
	require.ErrorIs(t, err, pipeline.ErrPrecondition)
}

func TestScenario_O1C1(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	o1 := mustOpportunity(t, e, "O1 Corp", 1, t0)

	applied, err := e.Advance(ctx, o1.ID, models.StageApplied, day(1), pipeline.AdvanceOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.StageApplied, applied.Stage)
	assert.Equal(t, calendar.FormatDate(day(8)), calendar.FormatDate(applied.NextActionDate))

	acts, err := e.Trail(ctx, o1.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, countKind(acts, models.KindStageChange))

	c1 := mustContact(t, e, o1.ID, day(2))
	_, err = e.RecordOutreach(ctx, c1.ID, "linkedin", day(2), pipeline.OutreachOptions{})
	require.NoError(t, err)

	due, err := e.DueFollowUps(ctx, day(5))
	require.NoError(t, err)
	require.Len(t, due.Day3, 1)
	assert.Equal(t, c1.ID, due.Day3[0].Contact.ID)
	assert.False(t, due.Day3[0].AlsoDueDay7)
	assert.Empty(t, due.Day7)

	due, err = e.DueFollowUps(ctx, day(9))
	require.NoError(t, err)
	require.Len(t, due.Day7, 1)
	assert.Equal(t, c1.ID, due.Day7[0].Contact.ID)
	require.Len(t, due.Day3, 1)
	assert.Equal(t, c1.ID, due.Day3[0].Contact.ID)
	assert.True(t, due.Day3[0].AlsoDueDay7)
	assert.Equal(t, 4*calendar.Day, due.Day3[0].Overdue)

	// Sending Day-3 late resolves only that bucket.
	_, err = e.RecordFollowUp(ctx, c1.ID, 3, day(9))
	require.NoError(t, err)
	due, err = e.DueFollowUps(ctx, day(9))
	require.NoError(t, err)
	assert.Empty(t, due.Day3)
	assert.Len(t, due.Day7, 1)
}

func TestReplayReconstructsState(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	o := mustOpportunity(t, e, "Acme", 1, t0)
	c1 := mustContact(t, e, o.ID, day(1))
	c2, err := e.AddContact(ctx, o.ID, pipeline.NewContact{Name: "Rae", Role: models.RoleRecruiter}, day(1))
	require.NoError(t, err)

	_, err = e.RecordOutreach(ctx, c1.ID, "email", day(1), pipeline.OutreachOptions{AutoWarm: true})
	require.NoError(t, err)
	_, err = e.RecordOutreach(ctx, c2.ID, "", day(2), pipeline.OutreachOptions{})
	require.NoError(t, err)
	_, err = e.RecordFollowUp(ctx, c1.ID, 3, day(4))
	require.NoError(t, err)
	_, err = e.RecordResponse(ctx, c2.ID, models.ResponseResponded, day(5))
	require.NoError(t, err)
	_, err = e.Advance(ctx, o.ID, models.StageRecruiterScreen, day(6), pipeline.AdvanceOptions{})
	require.NoError(t, err)
	_, err = e.RecordScore(ctx, o.ID, 8, `{"fit_score":8}`, day(6))
	require.NoError(t, err)
	_, err = e.AddNote(ctx, o.ID, "great call", day(7))
	require.NoError(t, err)
	_, err = e.RecordFollowUp(ctx, c1.ID, 7, day(8))
	require.NoError(t, err)
	_, err = e.BuildDigest(ctx, day(20), pipeline.DigestOptions{Persist: true})
	require.NoError(t, err)

	trail, err := e.Trail(ctx, o.ID)
	require.NoError(t, err)
	st, err := pipeline.Replay(trail)
	require.NoError(t, err)

	got, err := e.GetOpportunity(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, got.Stage, st.Stage)
	assert.Equal(t, got.NextAction, st.NextAction)
	assert.True(t, got.NextActionDate.Equal(st.NextActionDate))
	assert.True(t, got.LastActivityAt.Equal(st.LastActivityAt))
	require.NotNil(t, st.FitScore)
	assert.Equal(t, *got.FitScore, *st.FitScore)

	contacts, err := e.Contacts(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, st.Contacts, len(contacts))
	for _, c := range contacts {
		rc := st.Contacts[c.ID]
		require.NotNil(t, rc, "contact %d", c.ID)
		assert.Equal(t, c.Name, rc.Name)
		assert.Equal(t, c.Role, rc.Role)
		assert.Equal(t, c.Channel, rc.Channel)
		assert.Equal(t, c.Response, rc.Response)
		assertSameTime(t, c.OutreachSentAt, rc.OutreachSentAt)
		assertSameTime(t, c.FollowUp3SentAt, rc.FollowUp3SentAt)
		assertSameTime(t, c.FollowUp7SentAt, rc.FollowUp7SentAt)
	}
}

func assertSameTime(t *testing.T, want, got *time.Time) {
	t.Helper()
	if want == nil {
		assert.Nil(t, got)
		return
	}
	require.NotNil(t, got)
	assert.True(t, want.Equal(*got), "want %s, got %s", want, got)
}

func TestMutationsRejectBackdatedTimestamps(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	o := mustOpportunity(t, e, "Acme", 1, t0)
	c := mustContact(t, e, o.ID, t0)

	_, err := e.Advance(ctx, o.ID, models.StageApplied, day(10), pipeline.AdvanceOptions{})
	require.NoError(t, err)

	_, err = e.Advance(ctx, o.ID, models.StageLoop, day(5), pipeline.AdvanceOptions{})
	require.ErrorIs(t, err, pipeline.ErrPrecondition)
	_, err = e.AddNote(ctx, o.ID, "late entry", day(5))
	require.ErrorIs(t, err, pipeline.ErrPrecondition)
	_, err = e.RecordOutreach(ctx, c.ID, "email", day(5), pipeline.OutreachOptions{})
	require.ErrorIs(t, err, pipeline.ErrPrecondition)
	_, err = e.RecordScore(ctx, o.ID, 6, "", day(9))
	require.ErrorIs(t, err, pipeline.ErrPrecondition)

	got, err := e.GetOpportunity(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageApplied, got.Stage)
	assert.True(t, got.LastActivityAt.Equal(day(10)))
	gc, err := e.GetContact(ctx, c.ID)
	require.NoError(t, err)
	assert.Nil(t, gc.OutreachSentAt)

	// same instant as the latest activity is fine
	_, err = e.Advance(ctx, o.ID, models.StageRecruiterScreen, day(10), pipeline.AdvanceOptions{})
	require.NoError(t, err)

	trail, err := e.Trail(ctx, o.ID)
	require.NoError(t, err)
	st, err := pipeline.Replay(trail)
	require.NoError(t, err)
	got, err = e.GetOpportunity(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, got.Stage, st.Stage)
	assert.True(t, got.NextActionDate.Equal(st.NextActionDate))
	assert.True(t, got.LastActivityAt.Equal(st.LastActivityAt))
}

func TestConcurrentOutreach_ExactlyOneWins(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	o := mustOpportunity(t, e, "Acme", 1, t0)
	c := mustContact(t, e, o.ID, t0)

	const n = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		rejected int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.RecordOutreach(ctx, c.ID, "email", t0.Add(time.Duration(i)*time.Minute), pipeline.OutreachOptions{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, pipeline.ErrAlreadySent):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, rejected)

	acts, err := e.Trail(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, countKind(acts, models.KindOutreachSent))
}

func TestStoreFailureLeavesNoTrace(t *testing.T) {
	e, store := newEngine(t)
	ctx := context.Background()
	o := mustOpportunity(t, e, "Acme", 1, t0)
	c := mustContact(t, e, o.ID, t0)

	store.FailOn("AppendActivity", errors.New("disk full"))

	_, err := e.Advance(ctx, o.ID, models.StageApplied, day(1), pipeline.AdvanceOptions{})
	require.ErrorIs(t, err, pipeline.ErrStore)
	assert.Equal(t, "StoreError", pipeline.Kind(err))

	_, err = e.RecordOutreach(ctx, c.ID, "email", day(1), pipeline.OutreachOptions{AutoWarm: true})
	require.ErrorIs(t, err, pipeline.ErrStore)

	store.FailOn("AppendActivity", nil)

	got, err := e.GetOpportunity(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageProspect, got.Stage)
	assert.True(t, got.LastActivityAt.Equal(t0))

	gc, err := e.GetContact(ctx, c.ID)
	require.NoError(t, err)
	assert.Nil(t, gc.OutreachSentAt)

	// The retry goes through once the store recovers.
	_, err = e.RecordOutreach(ctx, c.ID, "email", day(1), pipeline.OutreachOptions{})
	require.NoError(t, err)
}

func TestObserverSeesOutcomes(t *testing.T) {
	store := memory.New()
	var ops []string
	e := pipeline.New(store,
		pipeline.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		pipeline.WithObserver(func(op string, err error) {
			ops = append(ops, op+":"+pipeline.Kind(err))
		}))

	o, err := e.CreateOpportunity(context.Background(), pipeline.NewOpportunity{Company: "Acme"}, t0)
	require.NoError(t, err)
	_, err = e.Advance(context.Background(), o.ID+1, models.StageApplied, t0, pipeline.AdvanceOptions{})
	require.Error(t, err)

	assert.Equal(t, []string{"create_opportunity:", "advance:NotFoundError"}, ops)
}

func TestRecordScoreAndNote(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	o := mustOpportunity(t, e, "Acme", 1, t0)

	for _, bad := range []int{0, 11, -3} {
		_, err := e.RecordScore(ctx, o.ID, bad, "", day(1))
		require.ErrorIs(t, err, pipeline.ErrPrecondition)
	}
	got, err := e.RecordScore(ctx, o.ID, 7, "solid match", day(1))
	require.NoError(t, err)
	require.NotNil(t, got.FitScore)
	assert.Equal(t, 7, *got.FitScore)
	assert.Equal(t, "solid match", got.FitSummary)

	_, err = e.AddNote(ctx, o.ID, "   ", day(2))
	require.ErrorIs(t, err, pipeline.ErrPrecondition)
	note, err := e.AddNote(ctx, o.ID, "pinged recruiter", day(2))
	require.NoError(t, err)
	assert.NotZero(t, note.ID)

	got, err = e.GetOpportunity(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, got.LastActivityAt.Equal(day(2)))

	_, err = e.AddNote(ctx, 77, "x", day(2))
	assert.ErrorIs(t, err, pipeline.ErrNotFound)
}

func TestRecordResponse_UnknownStatus(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	o := mustOpportunity(t, e, "Acme", 1, t0)
	c := mustContact(t, e, o.ID, t0)

	_, err := e.RecordResponse(ctx, c.ID, "ghosted", day(1))
	require.ErrorIs(t, err, pipeline.ErrPrecondition)

	got, err := e.RecordResponse(ctx, c.ID, "Declined", day(1))
	require.NoError(t, err)
	assert.Equal(t, models.ResponseDeclined, got.Response)
}

func TestBuildDigest(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()

	a := mustOpportunity(t, e, "A", 2, t0)
	b := mustOpportunity(t, e, "B", 1, t0)
	u := mustOpportunity(t, e, "Unranked", 0, t0)
	x := mustOpportunity(t, e, "X", 1, t0)
	_, err := e.Advance(ctx, a.ID, models.StageApplied, day(1), pipeline.AdvanceOptions{})
	require.NoError(t, err)
	_, err = e.Advance(ctx, b.ID, models.StageApplied, day(10), pipeline.AdvanceOptions{})
	require.NoError(t, err)
	_, err = e.Advance(ctx, x.ID, models.StageClosed, day(10), pipeline.AdvanceOptions{})
	require.NoError(t, err)
	c := mustContact(t, e, a.ID, day(1))
	_, err = e.RecordOutreach(ctx, c.ID, "", day(1), pipeline.OutreachOptions{})
	require.NoError(t, err)

	now := day(12)
	d, err := e.BuildDigest(ctx, now, pipeline.DigestOptions{Stale: pipeline.Uniform(7)})
	require.NoError(t, err)

	assert.True(t, d.GeneratedAt.Equal(now))
	assert.Len(t, d.StageCounts, 7)
	assert.Equal(t, 2, d.Count(models.StageApplied))
	assert.Equal(t, 1, d.Count(models.StageProspect))
	assert.Equal(t, 0, d.Count(models.StageLoop))
	assert.Equal(t, 0, d.Count(models.StageClosed))
	assert.Equal(t, 1, d.ClosedCount)
	assert.Equal(t, 3, d.OpenCount)
	assert.Len(t, d.Day3, 1)
	assert.Len(t, d.Day7, 1)

	var staleIDs []int64
	for _, s := range d.Stale {
		staleIDs = append(staleIDs, s.Opportunity.ID)
	}
	assert.Equal(t, []int64{u.ID, a.ID}, staleIDs)

	var prio []int64
	for _, o := range d.Priorities {
		prio = append(prio, o.ID)
	}
	assert.Equal(t, []int64{b.ID, a.ID, u.ID}, prio)

	// Read-only by default.
	trail, err := e.Trail(ctx, a.ID)
	require.NoError(t, err)
	assert.Zero(t, countKind(trail, models.KindDigestGenerated))

	limited, err := e.BuildDigest(ctx, now, pipeline.DigestOptions{PriorityLimit: 1})
	require.NoError(t, err)
	require.Len(t, limited.Priorities, 1)
	assert.Equal(t, b.ID, limited.Priorities[0].ID)
}

func TestBuildDigest_Persist(t *testing.T) {
	e, _ := newEngine(t)
	ctx := context.Background()
	a := mustOpportunity(t, e, "A", 1, t0)
	closed := mustOpportunity(t, e, "Closed", 1, t0)
	_, err := e.Advance(ctx, closed.ID, models.StageClosed, t0, pipeline.AdvanceOptions{})
	require.NoError(t, err)

	d, err := e.BuildDigest(ctx, day(9), pipeline.DigestOptions{Persist: true})
	require.NoError(t, err)
	assert.Equal(t, []int64{a.ID}, d.Touched())

	trail, err := e.Trail(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, 1, countKind(trail, models.KindDigestGenerated))
	assert.Contains(t, trail[len(trail)-1].Metadata["reasons"], "stale")

	got, err := e.GetOpportunity(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.LastActivityAt.Equal(t0), "digest must not refresh activity")

	trail, err = e.Trail(ctx, closed.ID)
	require.NoError(t, err)
	assert.Zero(t, countKind(trail, models.KindDigestGenerated))
}
