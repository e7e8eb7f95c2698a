package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/garnizeh/jobpipe/internal/ai"
)

func FitScore(w io.Writer, f *ai.FitScore) {
	t := newTable(w, fmt.Sprintf("Fit score %d/10", f.Score))
	t.AppendRows([]table.Row{
		{"Rationale", f.Rationale},
		{"Strengths", bullets(f.Strengths)},
		{"Gaps", bullets(f.Gaps)},
		{"ATS keywords", strings.Join(f.Keywords, ", ")},
	})
	if f.BulletRewrite != "" {
		t.AppendRow(table.Row{"Bullet rewrite", f.BulletRewrite})
	}
	t.Render()
}

func Outreach(w io.Writer, o *ai.Outreach) {
	fmt.Fprintf(w, "LinkedIn note (%d chars):\n%s\n\n", len(o.LinkedInNote), o.LinkedInNote)
	if o.Subject != "" {
		fmt.Fprintf(w, "Subject: %s\n", o.Subject)
	}
	fmt.Fprintf(w, "Message:\n%s\n", o.Message)
}

func ThankYou(w io.Writer, t *ai.ThankYou) {
	fmt.Fprintf(w, "Subject: %s\n\n%s\n", t.Subject, t.Body)
}

func CoverLetter(w io.Writer, c *ai.CoverLetter) {
	fmt.Fprintln(w, strings.Join(c.Paragraphs(), "\n\n"))
}

func InterviewPrep(w io.Writer, p *ai.InterviewPrep) {
	section(w, "Behavioral questions", p.Behavioral)
	section(w, "Technical questions", p.Technical)
	section(w, "Questions to ask them", p.AskThem)
	if p.CompanyBriefing != "" {
		fmt.Fprintf(w, "Company briefing:\n%s\n\n", p.CompanyBriefing)
	}
	if p.WatchOutFor != "" {
		fmt.Fprintf(w, "Watch out for:\n%s\n", p.WatchOutFor)
	}
}

func TailoredResume(w io.Writer, r *ai.TailoredResume) {
	t := newTable(w, "Tailored bullets")
	t.AppendHeader(table.Row{"#", "Original", "Rewritten", "Changes"})
	for i, b := range r.Bullets {
		t.AppendRow(table.Row{i + 1, b.Original, b.Rewritten, b.ChangesMade})
	}
	t.Render()
	if r.Notes != "" {
		fmt.Fprintf(w, "\n%s\n", r.Notes)
	}
}

func section(w io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "%s:\n", title)
	for i, it := range items {
		fmt.Fprintf(w, "  %d. %s\n", i+1, it)
	}
	fmt.Fprintln(w)
}

func bullets(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return "- " + strings.Join(items, "\n- ")
}
