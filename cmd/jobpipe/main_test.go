package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cli struct {
	dir string
	db  string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	t.Setenv("JOBPIPE_AI_PROVIDER", "none")
	t.Setenv("JOBPIPE_AUTO_WARM", "")
	dir := t.TempDir()
	return &cli{dir: dir, db: filepath.Join(dir, "jobpipe.db")}
}

// exec runs one command line at now against the test database.
func (c *cli) exec(t *testing.T, now string, args ...string) (stdout, stderr string, code int) {
	t.Helper()
	args = append(args, "--db", c.db, "--now", now, "--json")
	var out, errOut bytes.Buffer
	code = run(context.Background(), args, &out, &errOut)
	return out.String(), errOut.String(), code
}

func (c *cli) mustJSON(t *testing.T, now string, v any, args ...string) {
	t.Helper()
	out, errOut, code := c.exec(t, now, args...)
	require.Equalf(t, 0, code, "%v: %s", args, errOut)
	require.NoError(t, json.Unmarshal([]byte(out), v), out)
}

func TestRun_Workflow(t *testing.T) {
	c := newCLI(t)
	const day0 = "2026-03-02T09:00:00Z"

	var opp struct {
		ID         int64  `json:"id"`
		Stage      string `json:"stage"`
		NextAction string `json:"next_action"`
	}
	c.mustJSON(t, day0, &opp, "add-job", "--company", "Acme", "--title", "Analytics Manager", "--family", "A", "--tier", "1")
	assert.Equal(t, int64(1), opp.ID)
	assert.Equal(t, "Prospect", opp.Stage)

	var contact struct {
		ID       int64  `json:"id"`
		Role     string `json:"role"`
		Response string `json:"response"`
	}
	c.mustJSON(t, day0, &contact, "add-contact", "1", "--name", "Dana", "--role", "hm", "--channel", "LinkedIn")
	assert.Equal(t, "HM", contact.Role)
	assert.Equal(t, "no-response", contact.Response)

	c.mustJSON(t, day0, &contact, "send-outreach", "1")

	_, errOut, code := c.exec(t, day0, "send-outreach", "1")
	assert.Equal(t, 1, code)
	assert.True(t, strings.HasPrefix(errOut, "error AlreadySentError:"), errOut)

	_, errOut, code = c.exec(t, "2026-03-04T09:00:00Z", "follow-up", "1")
	assert.Equal(t, 1, code)
	assert.True(t, strings.HasPrefix(errOut, "error PreconditionError:"), errOut)

	var due struct {
		Day3 []json.RawMessage `json:"day3"`
		Day7 []json.RawMessage `json:"day7"`
	}
	c.mustJSON(t, "2026-03-05T09:00:00Z", &due, "due")
	assert.Len(t, due.Day3, 1)
	assert.Empty(t, due.Day7)

	c.mustJSON(t, "2026-03-05T09:00:00Z", &contact, "follow-up", "1", "--day", "3")
	c.mustJSON(t, "2026-03-06T09:00:00Z", &opp, "advance", "1", "applied", "--note", "applied online")
	assert.Equal(t, "Applied", opp.Stage)

	var act struct {
		Kind   string `json:"kind"`
		Detail string `json:"detail"`
	}
	c.mustJSON(t, "2026-03-06T10:00:00Z", &act, "note", "1", "sent", "portfolio", "link")
	assert.Equal(t, "note", act.Kind)
	assert.Equal(t, "sent portfolio link", act.Detail)

	_, errOut, code = c.exec(t, "2026-03-05T09:00:00Z", "advance", "1", "loop")
	assert.Equal(t, 1, code)
	assert.True(t, strings.HasPrefix(errOut, "error PreconditionError:"), errOut)

	var shown struct {
		Stage      string            `json:"stage"`
		Contacts   []json.RawMessage `json:"contacts"`
		Activities []struct {
			Kind string `json:"kind"`
		} `json:"activities"`
	}
	c.mustJSON(t, "2026-03-06T10:00:00Z", &shown, "show", "1")
	assert.Equal(t, "Applied", shown.Stage)
	assert.Len(t, shown.Contacts, 1)
	kinds := make([]string, 0, len(shown.Activities))
	for _, a := range shown.Activities {
		kinds = append(kinds, a.Kind)
	}
	assert.Equal(t, []string{"created", "contact-added", "outreach-sent", "followup-sent", "stage-change", "note"}, kinds)

	var stale []struct {
		IdleDays int `json:"idle_days"`
	}
	c.mustJSON(t, "2026-03-20T10:00:00Z", &stale, "stale", "--days", "7")
	require.Len(t, stale, 1)
	assert.Equal(t, 14, stale[0].IdleDays)

	var digest struct {
		OpenCount int               `json:"open_count"`
		Stale     []json.RawMessage `json:"stale"`
	}
	c.mustJSON(t, "2026-03-20T10:00:00Z", &digest, "digest", "--days", "7")
	assert.Equal(t, 1, digest.OpenCount)
	assert.Len(t, digest.Stale, 1)
}

func TestRun_ListAndExport(t *testing.T) {
	c := newCLI(t)
	const now = "2026-03-02"

	var o struct{ ID int64 }
	c.mustJSON(t, now, &o, "add-job", "--company", "Acme", "--tier", "2")
	c.mustJSON(t, now, &o, "add-job", "--company", "Globex", "--tier", "1")
	c.mustJSON(t, now, &o, "advance", "2", "closed", "--reason", "filled internally")

	var open []struct{ Company string }
	c.mustJSON(t, now, &open, "list")
	require.Len(t, open, 1)
	assert.Equal(t, "Acme", open[0].Company)

	var all []struct{ Company string }
	c.mustJSON(t, now, &all, "list", "--all")
	assert.Len(t, all, 2)

	out, errOut, code := c.exec(t, now, "export", "--all")
	require.Equal(t, 0, code, errOut)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, 3)
	assert.Contains(t, lines[0], "company")

	xlsx := filepath.Join(c.dir, "pipeline.xlsx")
	_, errOut, code = c.exec(t, now, "export", "--format", "xlsx", "-o", xlsx)
	require.Equal(t, 0, code, errOut)
	b, err := os.ReadFile(xlsx)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(b, []byte("PK")))
}

func TestRun_BulkAdvance(t *testing.T) {
	c := newCLI(t)
	const now = "2026-03-02"

	var o struct{ ID int64 }
	c.mustJSON(t, now, &o, "add-job", "--company", "Acme")
	c.mustJSON(t, now, &o, "add-job", "--company", "Globex")

	out, errOut, code := c.exec(t, "2026-03-03", "advance", "applied", "--ids", "1,2,9", "--note", "batch")
	require.Equal(t, 0, code, errOut)
	var res struct {
		Updated int `json:"updated"`
		Total   int `json:"total"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res), out)
	assert.Equal(t, 2, res.Updated)
	assert.Equal(t, 3, res.Total)
	assert.Contains(t, errOut, "skipped 9: NotFoundError")

	var list []struct{ Stage string }
	c.mustJSON(t, "2026-03-03", &list, "list")
	require.Len(t, list, 2)
	for _, l := range list {
		assert.Equal(t, "Applied", l.Stage)
	}
}

func TestRun_QueueScoring(t *testing.T) {
	c := newCLI(t)
	jd := filepath.Join(c.dir, "jd.txt")
	require.NoError(t, os.WriteFile(jd, []byte("Lead the analytics team.\n"), 0o600))

	var o struct {
		JDText string `json:"jd_text"`
	}
	c.mustJSON(t, "2026-03-02", &o, "add-job", "--company", "Acme", "--jd-file", jd)
	assert.Equal(t, "Lead the analytics team.", o.JDText)
	c.mustJSON(t, "2026-03-02", &o, "add-job", "--company", "NoJD")

	out, errOut, code := c.exec(t, "2026-03-02", "score-fit", "--all", "--queue")
	require.Equal(t, 0, code, errOut)
	assert.Equal(t, "queued 1 scoring jobs\n", out)

	// a pending job is not queued twice
	out, _, _ = c.exec(t, "2026-03-02", "score-fit", "--all", "--queue")
	assert.Equal(t, "queued 0 scoring jobs\n", out)
}

func TestRun_ErrorKinds(t *testing.T) {
	c := newCLI(t)
	var o struct{ ID int64 }
	c.mustJSON(t, "2026-03-02", &o, "add-job", "--company", "Acme")

	badConfig := filepath.Join(c.dir, "bad.yaml")
	require.NoError(t, os.WriteFile(badConfig, []byte("pipeline:\n  priority_limit: -1\n"), 0o600))

	tests := []struct {
		name string
		args []string
		kind string
	}{
		{"bad id", []string{"show", "abc"}, "UsageError"},
		{"missing args", []string{"advance", "1"}, "UsageError"},
		{"unknown flag", []string{"list", "--bogus"}, "UsageError"},
		{"unknown family", []string{"list", "--family", "Z"}, "UsageError"},
		{"bad response", []string{"respond", "1", "maybe"}, "UsageError"},
		{"bad stage", []string{"advance", "1", "interviewing"}, "InvalidStageError"},
		{"missing opportunity", []string{"show", "99"}, "NotFoundError"},
		{"missing contact", []string{"send-outreach", "7"}, "NotFoundError"},
		{"bulk bad id", []string{"advance", "applied", "--ids", "1,x"}, "UsageError"},
		{"bulk extra args", []string{"advance", "1", "applied", "--ids", "1"}, "UsageError"},
		{"ai disabled", []string{"prep", "1"}, "ConfigError"},
		{"thank-you without moment", []string{"thank-you", "1"}, "UsageError"},
		{"bad config", []string{"list", "--config", badConfig}, "ConfigError"},
		{"xlsx to stdout", []string{"export", "--format", "xlsx"}, "UsageError"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, errOut, code := c.exec(t, "2026-03-02", tt.args...)
			assert.Equal(t, 1, code)
			assert.Truef(t, strings.HasPrefix(errOut, "error "+tt.kind+":"), "stderr %q", errOut)
		})
	}
}

func TestRun_Migrate(t *testing.T) {
	c := newCLI(t)
	out, errOut, code := c.exec(t, "2026-03-02", "migrate")
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "up to date")
}

func TestSplitBullets(t *testing.T) {
	got := splitBullets("- Built the KPI layer\n\n* Cut report latency 40%\n  • Hired four analysts  \n")
	assert.Equal(t, []string{"Built the KPI layer", "Cut report latency 40%", "Hired four analysts"}, got)
}
