// Package render prints pipeline data as terminal tables and writes
// spreadsheet exports.
package render

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/garnizeh/jobpipe/internal/calendar"
	"github.com/garnizeh/jobpipe/internal/pipeline"
	"github.com/garnizeh/jobpipe/pkg/models"
)

const timeLayout = "2006-01-02 15:04"

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	if title != "" {
		t.SetTitle("%s", title)
	}
	return t
}

func score(p *int) string {
	if p == nil {
		return "-"
	}
	return strconv.Itoa(*p) + "/10"
}

func tier(n int) string {
	if n == 0 {
		return "-"
	}
	return strconv.Itoa(n)
}

func stamp(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(timeLayout)
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// Opportunities prints one row per opportunity.
func Opportunities(w io.Writer, opps []models.Opportunity) {
	t := newTable(w, "")
	t.AppendHeader(table.Row{"ID", "Company", "Title", "Family", "Tier", "Stage", "Fit", "Next action", "Due"})
	for _, o := range opps {
		t.AppendRow(table.Row{
			o.ID, o.Company, orDash(o.Title), orDash(string(o.JobFamily)), tier(o.Tier), o.Stage,
			score(o.FitScore), orDash(o.NextAction), calendar.FormatDate(o.NextActionDate),
		})
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("%d total", len(opps))})
	t.Render()
}

// Opportunity prints the detail view: fields, contacts and the activity trail.
func Opportunity(w io.Writer, o *models.Opportunity, contacts []models.Contact, trail []models.Activity) {
	t := newTable(w, fmt.Sprintf("#%d %s", o.ID, o.Company))
	t.AppendRows([]table.Row{
		{"Title", orDash(o.Title)},
		{"Family", orDash(models.JobFamilies[o.JobFamily])},
		{"Tier", tier(o.Tier)},
		{"Stage", o.Stage},
		{"Next action", fmt.Sprintf("%s (%s)", orDash(o.NextAction), calendar.FormatDate(o.NextActionDate))},
		{"Fit", score(o.FitScore)},
		{"Fit summary", orDash(o.FitSummary)},
		{"Source", orDash(o.Source)},
		{"Salary", orDash(o.SalaryRange)},
		{"JD", orDash(o.JDURL)},
		{"Added", o.CreatedAt.Format(timeLayout)},
		{"Last activity", o.LastActivityAt.Format(timeLayout)},
	})
	t.Render()

	if len(contacts) > 0 {
		fmt.Fprintln(w)
		Contacts(w, contacts)
	}
	if len(trail) > 0 {
		fmt.Fprintln(w)
		Trail(w, trail)
	}
}

func Contacts(w io.Writer, contacts []models.Contact) {
	t := newTable(w, "Contacts")
	t.AppendHeader(table.Row{"ID", "Name", "Role", "Channel", "Outreach", "Day 3", "Day 7", "Response"})
	for _, c := range contacts {
		t.AppendRow(table.Row{
			c.ID, c.Name, c.Role, orDash(c.Channel),
			stamp(c.OutreachSentAt), stamp(c.FollowUp3SentAt), stamp(c.FollowUp7SentAt), c.Response,
		})
	}
	t.Render()
}

// Trail prints activities in the order given.
func Trail(w io.Writer, trail []models.Activity) {
	t := newTable(w, "Activity")
	t.AppendHeader(table.Row{"When", "Kind", "Detail"})
	for _, a := range trail {
		t.AppendRow(table.Row{a.Timestamp.Format(timeLayout), a.Kind, a.Detail})
	}
	t.Render()
}

// Due prints the Day-3 and Day-7 buckets.
func Due(w io.Writer, due pipeline.FollowUpDue) {
	if len(due.Day3)+len(due.Day7) == 0 {
		fmt.Fprintln(w, "No follow-ups due.")
		return
	}
	dueTable(w, "Day-3 follow-ups", due.Day3)
	dueTable(w, "Day-7 follow-ups", due.Day7)
}

func dueTable(w io.Writer, title string, items []pipeline.DueItem) {
	if len(items) == 0 {
		return
	}
	t := newTable(w, title)
	t.AppendHeader(table.Row{"Contact", "Name", "Company", "Title", "Stage", "Due", "Overdue", "Note"})
	for _, it := range items {
		note := ""
		if it.AlsoDueDay7 {
			note = "day 7 also open"
		}
		t.AppendRow(table.Row{
			it.Contact.ID, it.Contact.Name, it.Company, orDash(it.Title), it.Stage,
			calendar.FormatDate(it.DueAt), days(it.Overdue), note,
		})
	}
	t.Render()
}

func days(d time.Duration) string {
	n := int(d / (24 * time.Hour))
	if n == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", n)
}

func Stale(w io.Writer, items []pipeline.StaleItem) {
	if len(items) == 0 {
		fmt.Fprintln(w, "Nothing stale.")
		return
	}
	t := newTable(w, "Stale opportunities")
	t.AppendHeader(table.Row{"ID", "Company", "Title", "Stage", "Tier", "Idle", "Threshold", "Last activity"})
	for _, it := range items {
		o := it.Opportunity
		t.AppendRow(table.Row{
			o.ID, o.Company, orDash(o.Title), o.Stage, tier(o.Tier),
			fmt.Sprintf("%d days", it.IdleDays), fmt.Sprintf("%d days", it.ThresholdDays),
			o.LastActivityAt.Format(timeLayout),
		})
	}
	t.Render()
}

// Digest prints the stage counts followed by each section of the digest.
func Digest(w io.Writer, d *pipeline.Digest) {
	t := newTable(w, "Pipeline "+calendar.FormatDate(d.GeneratedAt))
	t.AppendHeader(table.Row{"Stage", "Count"})
	for _, sc := range d.StageCounts {
		t.AppendRow(table.Row{sc.Stage, sc.Count})
	}
	t.AppendFooter(table.Row{"Open / Closed", fmt.Sprintf("%d / %d", d.OpenCount, d.ClosedCount)})
	t.Render()
	fmt.Fprintln(w)

	Due(w, pipeline.FollowUpDue{Day3: d.Day3, Day7: d.Day7})
	fmt.Fprintln(w)
	Stale(w, d.Stale)

	if len(d.Priorities) > 0 {
		fmt.Fprintln(w)
		p := newTable(w, "Priorities")
		p.AppendHeader(table.Row{"ID", "Company", "Title", "Tier", "Stage", "Next action", "Due"})
		for _, o := range d.Priorities {
			p.AppendRow(table.Row{o.ID, o.Company, orDash(o.Title), tier(o.Tier), o.Stage, o.NextAction, calendar.FormatDate(o.NextActionDate)})
		}
		p.Render()
	}
}
