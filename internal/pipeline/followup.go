package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/garnizeh/jobpipe/internal/calendar"
	"github.com/garnizeh/jobpipe/pkg/models"
	"github.com/garnizeh/jobpipe/pkg/repository"
)

// Follow-up cadence, in days after outreach.
const (
	Day3 = 3
	Day7 = 7
)

type NewContact struct {
	Name    string             `json:"name"`
	Role    models.ContactRole `json:"role"`
	Channel string             `json:"channel,omitempty"`
	Email   string             `json:"email,omitempty"`
}

// AddContact attaches a contact to an opportunity. An empty role defaults to
// Other.
func (e *Engine) AddContact(ctx context.Context, opportunityID int64, in NewContact, now time.Time) (*models.Contact, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: contact name is required", ErrPrecondition)
	}
	role := models.RoleOther
	if in.Role != "" {
		r, ok := models.ParseContactRole(string(in.Role))
		if !ok {
			return nil, fmt.Errorf("%w: unknown contact role %q", ErrPrecondition, in.Role)
		}
		role = r
	}

	c := &models.Contact{
		OpportunityID: opportunityID,
		Name:          strings.TrimSpace(in.Name),
		Role:          role,
		Channel:       in.Channel,
		Email:         in.Email,
		Response:      models.ResponseNone,
		CreatedAt:     now,
	}
	err := e.mutate(ctx, "add_contact", func(tx repository.Tx) error {
		o, err := getOpportunity(ctx, tx, opportunityID)
		if err != nil {
			return err
		}
		if c.ID, err = tx.CreateContact(ctx, c); err != nil {
			return err
		}
		if _, err := tx.AppendActivity(ctx, &models.Activity{
			OpportunityID: opportunityID,
			ContactID:     &c.ID,
			Kind:          models.KindContactAdded,
			Detail:        fmt.Sprintf("Contact added: %s (%s)", c.Name, c.Role),
			Metadata:      map[string]string{"name": c.Name, "role": string(c.Role), "channel": c.Channel},
			Timestamp:     now,
		}); err != nil {
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
	return c, nil
}

type OutreachOptions struct {
	// AutoWarm moves an opportunity still in Prospect to Warm Lead in the
	// same transaction.
	AutoWarm bool
}

// RecordOutreach marks the initial outreach to a contact as sent at ts. It is
// recorded once; a repeat fails with ErrAlreadySent and keeps the first value.
func (e *Engine) RecordOutreach(ctx context.Context, contactID int64, channel string, ts time.Time, opts OutreachOptions) (*models.Contact, error) {
	var out *models.Contact
	err := e.mutate(ctx, "record_outreach", func(tx repository.Tx) error {
		c, err := getContact(ctx, tx, contactID)
		if err != nil {
			return err
		}
		if c.OutreachSentAt != nil {
			return fmt.Errorf("%w: outreach to contact %d recorded at %s",
				ErrAlreadySent, contactID, c.OutreachSentAt.Format(time.RFC3339))
		}
		o, err := getOpportunity(ctx, tx, c.OpportunityID)
		if err != nil {
			return err
		}

		sent := ts
		c.OutreachSentAt = &sent
		if channel != "" {
			c.Channel = channel
		}
		if err := tx.SaveContact(ctx, c); err != nil {
			return err
		}
		if _, err := tx.AppendActivity(ctx, &models.Activity{
			OpportunityID: c.OpportunityID,
			ContactID:     &c.ID,
			Kind:          models.KindOutreachSent,
			Detail:        fmt.Sprintf("Outreach sent to %s via %s", c.Name, channelOrUnknown(c.Channel)),
			Metadata:      map[string]string{"channel": c.Channel},
			Timestamp:     ts,
		}); err != nil {
			return err
		}

		if opts.AutoWarm && o.Stage == models.StageProspect {
			if err := e.transition(ctx, tx, o, models.StageWarmLead, ts, AdvanceOptions{Note: "outreach sent"}); err != nil {
				return err
			}
		}
		if err := touch(o, ts); err != nil {
			return err
		}
		if err := tx.SaveOpportunity(ctx, o); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("outreach recorded", "contact_id", contactID, "channel", out.Channel)
	return out, nil
}

// RecordFollowUp marks the Day-3 or Day-7 follow-up as sent at ts. The window
// must be open: ts >= outreach + which days.
func (e *Engine) RecordFollowUp(ctx context.Context, contactID int64, which int, ts time.Time) (*models.Contact, error) {
	if which != Day3 && which != Day7 {
		return nil, fmt.Errorf("%w: follow-up must be day %d or %d, got %d", ErrPrecondition, Day3, Day7, which)
	}
	var out *models.Contact
	err := e.mutate(ctx, "record_followup", func(tx repository.Tx) error {
		c, err := getContact(ctx, tx, contactID)
		if err != nil {
			return err
		}
		if c.OutreachSentAt == nil {
			return fmt.Errorf("%w: no outreach recorded for contact %d", ErrPrecondition, contactID)
		}
		field := &c.FollowUp3SentAt
		if which == Day7 {
			field = &c.FollowUp7SentAt
		}
		if *field != nil {
			// Matches both sentinels; Kind reports AlreadySent.
			return fmt.Errorf("%w: %w: day-%d follow-up to contact %d recorded at %s",
				ErrAlreadySent, ErrPrecondition, which, contactID, (*field).Format(time.RFC3339))
		}
		opens := calendar.AddDays(*c.OutreachSentAt, which)
		if ts.Before(opens) {
			return fmt.Errorf("%w: day-%d follow-up window for contact %d opens at %s",
				ErrPrecondition, which, contactID, opens.Format(time.RFC3339))
		}
		o, err := getOpportunity(ctx, tx, c.OpportunityID)
		if err != nil {
			return err
		}

		sent := ts
		*field = &sent
		if err := tx.SaveContact(ctx, c); err != nil {
			return err
		}
		if _, err := tx.AppendActivity(ctx, &models.Activity{
			OpportunityID: c.OpportunityID,
			ContactID:     &c.ID,
			Kind:          models.KindFollowUpSent,
			Detail:        fmt.Sprintf("Day-%d follow-up sent to %s", which, c.Name),
			Metadata:      map[string]string{"which": strconv.Itoa(which)},
			Timestamp:     ts,
		}); err != nil {
			return err
		}
		if err := touch(o, ts); err != nil {
			return err
		}
		if err := tx.SaveOpportunity(ctx, o); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("follow-up recorded", "contact_id", contactID, "which", which)
	return out, nil
}

// RecordResponse sets a contact's response status. Any status other than
// no-response takes the contact out of the follow-up lists.
func (e *Engine) RecordResponse(ctx context.Context, contactID int64, status models.ResponseStatus, now time.Time) (*models.Contact, error) {
	st, ok := models.ParseResponseStatus(string(status))
	if !ok {
		return nil, fmt.Errorf("%w: unknown response status %q", ErrPrecondition, status)
	}
	var out *models.Contact
	err := e.mutate(ctx, "record_response", func(tx repository.Tx) error {
		c, err := getContact(ctx, tx, contactID)
		if err != nil {
			return err
		}
		o, err := getOpportunity(ctx, tx, c.OpportunityID)
		if err != nil {
			return err
		}
		prev := c.Response
		c.Response = st
		if err := tx.SaveContact(ctx, c); err != nil {
			return err
		}
		if _, err := tx.AppendActivity(ctx, &models.Activity{
			OpportunityID: c.OpportunityID,
			ContactID:     &c.ID,
			Kind:          models.KindResponseRecorded,
			Detail:        fmt.Sprintf("%s: %s", c.Name, st),
			Metadata:      map[string]string{"response": string(st), "previous": string(prev)},
			Timestamp:     now,
		}); err != nil {
			return err
		}
		if err := touch(o, now); err != nil {
			return err
		}
		if err := tx.SaveOpportunity(ctx, o); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DueItem is one follow-up that can be sent now.
type DueItem struct {
	Contact       models.Contact `json:"contact"`
	OpportunityID int64          `json:"opportunity_id"`
	Company       string         `json:"company"`
	Title         string         `json:"title"`
	Stage         models.Stage   `json:"stage"`
	Which         int            `json:"which"`
	DueAt         time.Time      `json:"due_at"`
	Overdue       time.Duration  `json:"overdue"`
	// AlsoDueDay7 is set on a Day-3 item whose Day-7 window has opened too.
	AlsoDueDay7 bool `json:"also_due_day7,omitempty"`
}

type FollowUpDue struct {
	Day3 []DueItem `json:"day3"`
	Day7 []DueItem `json:"day7"`
}

// DueFollowUps lists the Day-3 and Day-7 follow-ups due at now for contacts
// that have not responded, skipping closed opportunities. An unsent Day-3
// follow-up stays in its bucket after Day-7 opens; the caller picks which to
// send. Each bucket is ordered most overdue first, then by contact id.
func (e *Engine) DueFollowUps(ctx context.Context, now time.Time) (FollowUpDue, error) {
	var due FollowUpDue

	contacts, err := e.store.ListOutreachContacts(ctx)
	if err != nil {
		return due, classify(err)
	}
	opps, err := e.opportunityIndex(ctx)
	if err != nil {
		return due, err
	}

	for _, c := range contacts {
		if c.OutreachSentAt == nil || c.Response != models.ResponseNone {
			continue
		}
		o, ok := opps[c.OpportunityID]
		if !ok || !o.IsOpen() {
			continue
		}
		day7Open := calendar.Reached(*c.OutreachSentAt, Day7, now)
		if c.FollowUp3SentAt == nil && calendar.Reached(*c.OutreachSentAt, Day3, now) {
			item := newDueItem(c, o, Day3, now)
			item.AlsoDueDay7 = day7Open && c.FollowUp7SentAt == nil
			due.Day3 = append(due.Day3, item)
		}
		if c.FollowUp7SentAt == nil && day7Open {
			due.Day7 = append(due.Day7, newDueItem(c, o, Day7, now))
		}
	}

	sortDue(due.Day3)
	sortDue(due.Day7)
	return due, nil
}

func newDueItem(c models.Contact, o models.Opportunity, which int, now time.Time) DueItem {
	at := calendar.AddDays(*c.OutreachSentAt, which)
	return DueItem{
		Contact:       c,
		OpportunityID: o.ID,
		Company:       o.Company,
		Title:         o.Title,
		Stage:         o.Stage,
		Which:         which,
		DueAt:         at,
		Overdue:       calendar.Elapsed(at, now),
	}
}

func sortDue(items []DueItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Overdue != items[j].Overdue {
			return items[i].Overdue > items[j].Overdue
		}
		return items[i].Contact.ID < items[j].Contact.ID
	})
}

func (e *Engine) opportunityIndex(ctx context.Context) (map[int64]models.Opportunity, error) {
	list, err := e.store.ListOpportunities(ctx, models.OpportunityFilter{})
	if err != nil {
		return nil, classify(err)
	}
	idx := make(map[int64]models.Opportunity, len(list))
	for _, o := range list {
		idx[o.ID] = o
	}
	return idx, nil
}

func channelOrUnknown(ch string) string {
	if ch == "" {
		return "unknown channel"
	}
	return ch
}
