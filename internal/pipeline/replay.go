package pipeline

import (
	"fmt"
	"strconv"
	"time"

	"github.com/garnizeh/jobpipe/internal/calendar"
	"github.com/garnizeh/jobpipe/pkg/models"
)

// ContactState is the contact fields recoverable from the activity trail.
type ContactState struct {
	Name            string
	Role            models.ContactRole
	Channel         string
	OutreachSentAt  *time.Time
	FollowUp3SentAt *time.Time
	FollowUp7SentAt *time.Time
	Response        models.ResponseStatus
}

// ReplayState is the result of folding one opportunity's trail.
type ReplayState struct {
	Stage          models.Stage
	NextAction     string
	NextActionDate time.Time
	LastActivityAt time.Time
	FitScore       *int
	Contacts       map[int64]*ContactState
}

// Replay rebuilds the workflow fields of an opportunity and its contacts from
// its activity trail, which must be ordered oldest first.
func Replay(trail []models.Activity) (*ReplayState, error) {
	st := &ReplayState{Contacts: map[int64]*ContactState{}}
	for i, a := range trail {
		if err := st.apply(a); err != nil {
			return nil, fmt.Errorf("replay activity %d (#%d, %s): %w", i, a.ID, a.Kind, err)
		}
	}
	return st, nil
}

func (st *ReplayState) apply(a models.Activity) error {
	if a.Kind != models.KindDigestGenerated && a.Timestamp.After(st.LastActivityAt) {
		st.LastActivityAt = a.Timestamp
	}

	switch a.Kind {
	case models.KindCreated:
		st.Stage = models.Stage(a.Metadata["stage"])
		return st.setNextAction(a.Metadata)
	case models.KindStageChange:
		st.Stage = models.Stage(a.Metadata["to"])
		if !st.Stage.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidStage, a.Metadata["to"])
		}
		return st.setNextAction(a.Metadata)
	case models.KindScoreRecorded:
		n, err := strconv.Atoi(a.Metadata["score"])
		if err != nil {
			return fmt.Errorf("score: %w", err)
		}
		st.FitScore = &n
	case models.KindContactAdded:
		c, err := st.contact(a)
		if err != nil {
			return err
		}
		c.Name = a.Metadata["name"]
		c.Role = models.ContactRole(a.Metadata["role"])
		c.Channel = a.Metadata["channel"]
		c.Response = models.ResponseNone
	case models.KindOutreachSent:
		c, err := st.contact(a)
		if err != nil {
			return err
		}
		ts := a.Timestamp
		c.OutreachSentAt = &ts
		c.Channel = a.Metadata["channel"]
	case models.KindFollowUpSent:
		c, err := st.contact(a)
		if err != nil {
			return err
		}
		ts := a.Timestamp
		switch a.Metadata["which"] {
		case strconv.Itoa(Day3):
			c.FollowUp3SentAt = &ts
		case strconv.Itoa(Day7):
			c.FollowUp7SentAt = &ts
		default:
			return fmt.Errorf("unknown follow-up %q", a.Metadata["which"])
		}
	case models.KindResponseRecorded:
		c, err := st.contact(a)
		if err != nil {
			return err
		}
		c.Response = models.ResponseStatus(a.Metadata["response"])
	}
	return nil
}

func (st *ReplayState) setNextAction(meta map[string]string) error {
	st.NextAction = meta["next_action"]
	st.NextActionDate = time.Time{}
	if d := meta["next_action_date"]; d != "" {
		t, err := time.Parse(calendar.DateLayout, d)
		if err != nil {
			return fmt.Errorf("next_action_date: %w", err)
		}
		st.NextActionDate = t
	}
	return nil
}

func (st *ReplayState) contact(a models.Activity) (*ContactState, error) {
	if a.ContactID == nil {
		return nil, fmt.Errorf("missing contact id")
	}
	c, ok := st.Contacts[*a.ContactID]
	if !ok {
		c = &ContactState{Response: models.ResponseNone}
		st.Contacts[*a.ContactID] = c
	}
	return c, nil
}
