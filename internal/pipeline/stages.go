package pipeline

import (
	"fmt"
	"time"

	"github.com/garnizeh/jobpipe/internal/calendar"
	"github.com/garnizeh/jobpipe/pkg/models"
)

type stageRule struct {
	offsetDays int
	action     string
}

// stageRules drives next_action recomputation. Stages missing from the table
// fall back to defaultRule.
var stageRules = map[models.Stage]stageRule{
	models.StageProspect:        {0, "Find contact and send outreach"},
	models.StageWarmLead:        {3, "Follow up if no response in 3 days"},
	models.StageApplied:         {7, "Follow up with contact; check for recruiter screen"},
	models.StageRecruiterScreen: {3, "Send thank-you; await HM invite"},
	models.StageHMInterview:     {2, "Send thank-you; prepare for loop"},
	models.StageLoop:            {2, "Send thank-yous to all interviewers; await decision"},
	models.StageOfferPending:    {3, "Review offer; research comp benchmarks"},
}

var defaultRule = stageRule{7, "Review and set next step"}

func ruleFor(s models.Stage) stageRule {
	if r, ok := stageRules[s]; ok {
		return r
	}
	return defaultRule
}

// NextAction returns the follow-up text and due date for an opportunity that
// enters stage s at now.
func NextAction(s models.Stage, now time.Time) (string, time.Time) {
	r := ruleFor(s)
	return r.action, calendar.AddDays(calendar.StartOfDay(now), r.offsetDays)
}

// ParseStage resolves user input to a stage or fails with ErrInvalidStage.
func ParseStage(s string) (models.Stage, error) {
	st, ok := models.ParseStage(s)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidStage, s)
	}
	return st, nil
}

// SkippedStages lists the stages jumped over by a forward move from -> to.
// Moves into Closed and backward moves never skip.
func SkippedStages(from, to models.Stage) []models.Stage {
	fi, ti := from.Index(), to.Index()
	if fi < 0 || ti < 0 || to.IsTerminal() || ti <= fi+1 {
		return nil
	}
	return append([]models.Stage(nil), models.Stages[fi+1:ti]...)
}
