// Package ai turns prompt templates and a text generator into typed,
// schema-checked results for the job pipeline.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/garnizeh/jobpipe/internal/calendar"
	"github.com/garnizeh/jobpipe/internal/pipeline"
	"github.com/garnizeh/jobpipe/pkg/models"
	"github.com/garnizeh/jobpipe/pkg/ollama"
)

var (
	// ErrGeneration wraps any failure of the generator itself.
	ErrGeneration = errors.New("generation failed")
	// ErrInvalidResponse means the model answered but the answer is unusable.
	ErrInvalidResponse = errors.New("invalid model response")
	// ErrMissingInput means the request lacks something the prompt needs.
	ErrMissingInput = errors.New("missing input")
)

// Task names as stored in ai_templates.
const (
	TaskScoreFit        = "score_fit"
	TaskDraftOutreach   = "draft_outreach"
	TaskInterviewPrep   = "interview_prep"
	TaskTailorResume    = "tailor_resume"
	TaskDigestNarrative = "digest_narrative"
	TaskThankYou        = "thank_you"
	TaskCoverLetter     = "cover_letter"
)

// Generator produces text for a prompt. pkg/ollama and pkg/claude implement it.
type Generator interface {
	Generate(ctx context.Context, model, system, prompt string) (string, error)
}

// TemplateSource is the part of the prompt store the engine reads.
type TemplateSource interface {
	SchemaLister
	GetTemplate(ctx context.Context, task, version string) (*models.PromptTemplate, error)
}

type Config struct {
	Model string
	// Timeout bounds one generator call.
	Timeout time.Duration
	// TemplateVersion pins a template version; empty uses the latest.
	TemplateVersion string
}

var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

// SetLogger sets the logger used by internal/ai. Passing nil is a no-op.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}

// Engine renders prompts, calls the generator and validates what comes back.
// It never changes pipeline state.
type Engine struct {
	gen     Generator
	prompts TemplateSource
	loader  *Loader
	cfg     Config
}

func NewEngine(ctx context.Context, gen Generator, prompts TemplateSource, cfg Config) (*Engine, error) {
	if gen == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if prompts == nil {
		return nil, fmt.Errorf("prompt store is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}

	loader, err := NewLoader(ctx, prompts)
	if err != nil {
		return nil, fmt.Errorf("create loader: %w", err)
	}
	return &Engine{gen: gen, prompts: prompts, loader: loader, cfg: cfg}, nil
}

func (e *Engine) ReloadSchemas(ctx context.Context) error {
	return e.loader.Reload(ctx)
}

// FitScore is the model's assessment of resume against job description.
type FitScore struct {
	Score         int      `json:"fit_score"`
	Rationale     string   `json:"score_rationale"`
	Strengths     []string `json:"top_strengths"`
	Gaps          []string `json:"gaps_or_risks"`
	Keywords      []string `json:"ats_keywords"`
	BulletRewrite string   `json:"suggested_bullet_rewrite,omitempty"`
}

// Summary is the one-line form stored with the opportunity.
func (f *FitScore) Summary() string {
	s := strings.TrimSpace(f.Rationale)
	if len(f.Gaps) > 0 {
		s += " Gaps: " + strings.Join(f.Gaps, "; ")
	}
	return s
}

type Outreach struct {
	LinkedInNote string `json:"linkedin_note"`
	Message      string `json:"inmail_or_email"`
	Subject      string `json:"subject_line,omitempty"`
}

type InterviewPrep struct {
	Behavioral      []string `json:"behavioral_questions"`
	Technical       []string `json:"technical_questions"`
	AskThem         []string `json:"questions_to_ask_them"`
	CompanyBriefing string   `json:"company_briefing"`
	WatchOutFor     string   `json:"watch_out_for"`
}

type TailoredBullet struct {
	Original    string `json:"original"`
	Rewritten   string `json:"rewritten"`
	ChangesMade string `json:"changes_made,omitempty"`
}

type TailoredResume struct {
	Bullets []TailoredBullet `json:"rewritten_bullets"`
	Notes   string           `json:"overall_notes,omitempty"`
}

type ThankYou struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type CoverLetter struct {
	Letter string `json:"cover_letter"`
}

// Paragraphs splits the letter on blank lines.
func (c *CoverLetter) Paragraphs() []string {
	var out []string
	for _, p := range strings.Split(strings.ReplaceAll(c.Letter, "\r\n", "\n"), "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ThankYouRequest describes an interviewer and what to bring back up.
type ThankYouRequest struct {
	ContactName string
	ContactRole string
	Company     string
	Title       string
	KeyMoment   string
	FitPoint    string
}

// OutreachRequest describes who to write to and why.
type OutreachRequest struct {
	ContactName string
	ContactRole string
	Company     string
	Title       string
	Hook        string
	Background  string
}

// ScoreFit scores resume against the opportunity's job description.
func (e *Engine) ScoreFit(ctx context.Context, o *models.Opportunity, resume string) (*FitScore, error) {
	if o == nil || strings.TrimSpace(o.JDText) == "" {
		return nil, fmt.Errorf("%w: job description is empty", ErrMissingInput)
	}
	if strings.TrimSpace(resume) == "" {
		return nil, fmt.Errorf("%w: resume is empty", ErrMissingInput)
	}

	var out FitScore
	data := map[string]any{
		"Resume":         resume,
		"JobDescription": o.JDText,
		"Company":        o.Company,
		"Title":          o.Title,
	}
	if err := e.runJSON(ctx, TaskScoreFit, data, &out); err != nil {
		return nil, err
	}
	if out.Score < pipeline.MinFitScore || out.Score > pipeline.MaxFitScore {
		return nil, fmt.Errorf("%w: fit_score %d out of range", ErrInvalidResponse, out.Score)
	}
	return &out, nil
}

func (e *Engine) DraftOutreach(ctx context.Context, req OutreachRequest) (*Outreach, error) {
	if req.ContactName == "" || req.Company == "" {
		return nil, fmt.Errorf("%w: contact name and company are required", ErrMissingInput)
	}

	var out Outreach
	data := map[string]any{
		"ContactName": req.ContactName,
		"ContactRole": req.ContactRole,
		"Company":     req.Company,
		"Title":       req.Title,
		"Hook":        req.Hook,
		"Background":  req.Background,
	}
	if err := e.runJSON(ctx, TaskDraftOutreach, data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (e *Engine) InterviewPrep(ctx context.Context, o *models.Opportunity) (*InterviewPrep, error) {
	if o == nil || strings.TrimSpace(o.JDText) == "" {
		return nil, fmt.Errorf("%w: job description is empty", ErrMissingInput)
	}

	var out InterviewPrep
	data := map[string]any{
		"Title":          o.Title,
		"Company":        o.Company,
		"Stage":          string(o.Stage),
		"JobDescription": o.JDText,
	}
	if err := e.runJSON(ctx, TaskInterviewPrep, data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TailorResume rewrites bullets toward the job description. keywords may be
// empty, typically they come from a prior FitScore.
func (e *Engine) TailorResume(ctx context.Context, o *models.Opportunity, bullets, keywords []string) (*TailoredResume, error) {
	if len(bullets) == 0 {
		return nil, fmt.Errorf("%w: no bullets to tailor", ErrMissingInput)
	}
	if o == nil || strings.TrimSpace(o.JDText) == "" {
		return nil, fmt.Errorf("%w: job description is empty", ErrMissingInput)
	}
	if keywords == nil {
		keywords = []string{}
	}

	var out TailoredResume
	data := map[string]any{
		"Bullets":        bullets,
		"Keywords":       keywords,
		"Company":        o.Company,
		"Title":          o.Title,
		"JobDescription": o.JDText,
	}
	if err := e.runJSON(ctx, TaskTailorResume, data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DraftThankYou writes a post-interview note. Nothing is recorded.
func (e *Engine) DraftThankYou(ctx context.Context, req ThankYouRequest) (*ThankYou, error) {
	if req.ContactName == "" || req.Company == "" {
		return nil, fmt.Errorf("%w: contact name and company are required", ErrMissingInput)
	}
	if strings.TrimSpace(req.KeyMoment) == "" || strings.TrimSpace(req.FitPoint) == "" {
		return nil, fmt.Errorf("%w: key moment and fit point are required", ErrMissingInput)
	}

	var out ThankYou
	data := map[string]any{
		"ContactName": req.ContactName,
		"ContactRole": req.ContactRole,
		"Company":     req.Company,
		"Title":       req.Title,
		"KeyMoment":   req.KeyMoment,
		"FitPoint":    req.FitPoint,
	}
	if err := e.runJSON(ctx, TaskThankYou, data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (e *Engine) CoverLetter(ctx context.Context, o *models.Opportunity, resume string) (*CoverLetter, error) {
	if o == nil || strings.TrimSpace(o.JDText) == "" {
		return nil, fmt.Errorf("%w: job description is empty", ErrMissingInput)
	}
	if strings.TrimSpace(resume) == "" {
		return nil, fmt.Errorf("%w: resume is empty", ErrMissingInput)
	}

	var out CoverLetter
	data := map[string]any{
		"Resume":         resume,
		"JobDescription": o.JDText,
		"Company":        o.Company,
		"Title":          o.Title,
	}
	if err := e.runJSON(ctx, TaskCoverLetter, data, &out); err != nil {
		return nil, err
	}
	out.Letter = strings.TrimSpace(out.Letter)
	return &out, nil
}

// DigestNarrative writes a short plain-text briefing for d.
func (e *Engine) DigestNarrative(ctx context.Context, d *pipeline.Digest) (string, error) {
	if d == nil {
		return "", fmt.Errorf("%w: digest is nil", ErrMissingInput)
	}
	data := map[string]any{
		"Date":        calendar.FormatDate(d.GeneratedAt),
		"OpenCount":   d.OpenCount,
		"ClosedCount": d.ClosedCount,
		"StageCounts": d.StageCounts,
		"Day3":        d.Day3,
		"Day7":        d.Day7,
		"Stale":       d.Stale,
		"Priorities":  d.Priorities,
	}
	text, _, err := e.generate(ctx, TaskDigestNarrative, data)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty narrative", ErrInvalidResponse)
	}
	return text, nil
}

func (e *Engine) generate(ctx context.Context, task string, data any) (string, *models.PromptTemplate, error) {
	tpl, err := e.prompts.GetTemplate(ctx, task, e.cfg.TemplateVersion)
	if err != nil {
		return "", nil, fmt.Errorf("load template %s: %w", task, err)
	}
	if tpl == nil || tpl.Body == "" {
		return "", nil, fmt.Errorf("template %s:%s not found", task, e.cfg.TemplateVersion)
	}

	prompt, err := ollama.RenderTemplate(tpl.Body, data)
	if err != nil {
		return "", nil, fmt.Errorf("render template %s: %w", task, err)
	}

	ctxReq, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	start := time.Now()
	out, err := e.gen.Generate(ctxReq, e.cfg.Model, tpl.System, prompt)
	if err != nil {
		logger.Warn("ai: generate failed", slog.String("task", task), slog.String("error", err.Error()))
		return "", nil, fmt.Errorf("%w: %s: %w", ErrGeneration, task, err)
	}
	logger.Info("ai: generated",
		slog.String("task", task),
		slog.String("version", tpl.Version),
		slog.Int64("latency_ms", time.Since(start).Milliseconds()))
	return out, tpl, nil
}

// runJSON generates, extracts the JSON object, checks it against the
// template's schema and decodes it into out.
func (e *Engine) runJSON(ctx context.Context, task string, data any, out any) error {
	text, tpl, err := e.generate(ctx, task, data)
	if err != nil {
		return err
	}

	j := extractJSON(text)
	if j == "" {
		logger.Warn("ai: no json in response", slog.String("task", task), slog.String("raw", truncate(text, 500)))
		return fmt.Errorf("%w: no JSON object found in response", ErrInvalidResponse)
	}

	if tpl.SchemaName != "" {
		if err := e.validate(ctx, tpl.SchemaName, []byte(j)); err != nil {
			return err
		}
	}

	if err := json.Unmarshal([]byte(j), out); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	return nil
}

func (e *Engine) validate(ctx context.Context, name string, b []byte) error {
	schema, ok := e.loader.GetSchema(name)
	if !ok || schema == nil {
		return fmt.Errorf("no schema named %s", name)
	}

	verrs, err := schema.ValidateBytes(ctx, b)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	if len(verrs) > 0 {
		msgs := make([]string, 0, len(verrs))
		for _, v := range verrs {
			msgs = append(msgs, strings.TrimSpace(v.PropertyPath+" "+v.Message))
		}
		return fmt.Errorf("%w: does not match schema %s: %s", ErrInvalidResponse, name, strings.Join(msgs, "; "))
	}
	return nil
}

// extractJSON returns the substring from the first '{' to the last '}'.
// Models often wrap JSON in prose or markdown fences.
func extractJSON(s string) string {
	first := strings.Index(s, "{")
	last := strings.LastIndex(s, "}")
	if first == -1 || last == -1 || last < first {
		return ""
	}
	return s[first : last+1]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
