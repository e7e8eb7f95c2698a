package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/garnizeh/jobpipe/internal/ai"
	"github.com/garnizeh/jobpipe/internal/jobs"
	"github.com/garnizeh/jobpipe/internal/render"
	"github.com/garnizeh/jobpipe/pkg/models"
)

// withAI runs fn with a freshly built engine and releases the generator after.
func (a *app) withAI(ctx context.Context, fn func(*ai.Engine) error) error {
	eng, closeFn, err := a.aiEngine(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(eng)
}

func (a *app) resume(path string) func() (string, error) {
	if path == "" {
		path = a.cfg.AI.ResumePath
	}
	return ai.ResumeFile(path)
}

func scoreFitCmd(a *app) *cobra.Command {
	var (
		resumePath string
		all        bool
		queue      bool
	)
	cmd := &cobra.Command{
		Use:   "score-fit [opportunity-id]",
		Short: "Score the resume against a job description and store the result",
		Long: `Score the resume against an opportunity's job description. The score is
stored only when the model answered with a valid result.

With --all every open, unscored opportunity is scored in turn. Add --queue to
hand them to the server's background workers instead.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if all && len(args) > 0 {
				return usagef("score-fit takes an opportunity id or --all, not both")
			}
			if !all && len(args) != 1 {
				return usagef("score-fit takes an opportunity id or --all")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if queue {
				if !all {
					return usagef("--queue needs --all")
				}
				ids, err := jobs.EnqueueUnscored(ctx, jobs.NewRepository(a.db), a.engine, a.cfg.Workers.MaxAttempts)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "queued %d scoring jobs\n", len(ids))
				return nil
			}

			resume, err := a.resume(resumePath)()
			if err != nil {
				return err
			}

			var ids []int64
			if all {
				opps, err := a.engine.ListOpportunities(ctx, models.OpportunityFilter{ExcludeClosed: true, Unscored: true})
				if err != nil {
					return err
				}
				for _, o := range opps {
					if o.JDText != "" {
						ids = append(ids, o.ID)
					}
				}
			} else {
				id, err := parseID(args[0], "opportunity")
				if err != nil {
					return err
				}
				ids = []int64{id}
			}

			return a.withAI(ctx, func(eng *ai.Engine) error {
				var failed int
				for _, id := range ids {
					fit, o, err := ai.ScoreOpportunity(ctx, eng, a.engine, id, resume, a.now())
					if err != nil {
						if !all {
							return err
						}
						failed++
						a.logger.Warn("scoring failed", "opportunity_id", id, "err", err)
						continue
					}
					if err := a.emit(fit, func(w io.Writer) {
						fmt.Fprintf(w, "%s: %s\n", o.Company, o.Title)
						render.FitScore(w, fit)
					}); err != nil {
						return err
					}
					if fit.Score < a.cfg.AI.MinScore {
						fmt.Fprintf(cmd.ErrOrStderr(), "weak fit: %s scored %d, below %d\n", o.Company, fit.Score, a.cfg.AI.MinScore)
					}
				}
				if failed > 0 {
					return fmt.Errorf("%w: %d of %d opportunities could not be scored", ai.ErrGeneration, failed, len(ids))
				}
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&resumePath, "resume", "", "resume text file (default from config)")
	f.BoolVar(&all, "all", false, "score every open, unscored opportunity that has a job description")
	f.BoolVar(&queue, "queue", false, "with --all, enqueue background jobs instead of scoring now")
	return cmd
}

func prepCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "prep <opportunity-id>",
		Short: "Generate interview preparation notes",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "opportunity")
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			o, err := a.engine.GetOpportunity(ctx, id)
			if err != nil {
				return err
			}
			return a.withAI(ctx, func(eng *ai.Engine) error {
				prep, err := eng.InterviewPrep(ctx, o)
				if err != nil {
					return err
				}
				return a.emit(prep, func(w io.Writer) { render.InterviewPrep(w, prep) })
			})
		},
	}
}

func tailorCmd(a *app) *cobra.Command {
	var (
		bulletsFile string
		keywords    []string
	)
	cmd := &cobra.Command{
		Use:   "tailor <opportunity-id>",
		Short: "Rewrite resume bullets toward a job description",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "opportunity")
			if err != nil {
				return err
			}
			if bulletsFile == "" {
				return usagef("--bullets is required")
			}
			text, err := readText(cmd.InOrStdin(), bulletsFile)
			if err != nil {
				return usagef("--bullets: %v", err)
			}
			bullets := splitBullets(text)

			ctx := cmd.Context()
			o, err := a.engine.GetOpportunity(ctx, id)
			if err != nil {
				return err
			}
			return a.withAI(ctx, func(eng *ai.Engine) error {
				res, err := eng.TailorResume(ctx, o, bullets, keywords)
				if err != nil {
					return err
				}
				return a.emit(res, func(w io.Writer) { render.TailoredResume(w, res) })
			})
		},
	}
	cmd.Flags().StringVar(&bulletsFile, "bullets", "", "file with one resume bullet per line, - for stdin")
	cmd.Flags().StringSliceVar(&keywords, "keywords", nil, "ATS keywords to work in, comma separated")
	return cmd
}

// splitBullets returns the non-empty lines of text without list markers.
func splitBullets(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*•"))
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func draftCmd(a *app) *cobra.Command {
	var req ai.OutreachRequest
	cmd := &cobra.Command{
		Use:   "draft <contact-id>",
		Short: "Draft an outreach message to a contact",
		Long:  `Draft an outreach message to a contact. Nothing is recorded; run send-outreach once the message is sent.`,
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "contact")
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			c, err := a.engine.GetContact(ctx, id)
			if err != nil {
				return err
			}
			o, err := a.engine.GetOpportunity(ctx, c.OpportunityID)
			if err != nil {
				return err
			}
			req.ContactName, req.ContactRole = c.Name, string(c.Role)
			req.Company, req.Title = o.Company, o.Title

			return a.withAI(ctx, func(eng *ai.Engine) error {
				out, err := eng.DraftOutreach(ctx, req)
				if err != nil {
					return err
				}
				return a.emit(out, func(w io.Writer) { render.Outreach(w, out) })
			})
		},
	}
	cmd.Flags().StringVar(&req.Hook, "hook", "", "why this company or person, in a sentence")
	cmd.Flags().StringVar(&req.Background, "background", "", "one line about yourself to work in")
	return cmd
}

func thankYouCmd(a *app) *cobra.Command {
	var moment, fit string
	cmd := &cobra.Command{
		Use:   "thank-you <contact-id>",
		Short: "Draft a post-interview thank-you note to a contact",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "contact")
			if err != nil {
				return err
			}
			if moment == "" || fit == "" {
				return usagef("--moment and --fit are required")
			}
			ctx := cmd.Context()
			c, err := a.engine.GetContact(ctx, id)
			if err != nil {
				return err
			}
			o, err := a.engine.GetOpportunity(ctx, c.OpportunityID)
			if err != nil {
				return err
			}
			req := ai.ThankYouRequest{
				ContactName: c.Name,
				ContactRole: string(c.Role),
				Company:     o.Company,
				Title:       o.Title,
				KeyMoment:   moment,
				FitPoint:    fit,
			}

			return a.withAI(ctx, func(eng *ai.Engine) error {
				out, err := eng.DraftThankYou(ctx, req)
				if err != nil {
					return err
				}
				return a.emit(out, func(w io.Writer) { render.ThankYou(w, out) })
			})
		},
	}
	cmd.Flags().StringVar(&moment, "moment", "", "a moment from the conversation to mention")
	cmd.Flags().StringVar(&fit, "fit", "", "one fit point to reinforce")
	return cmd
}

func coverLetterCmd(a *app) *cobra.Command {
	var resumePath string
	cmd := &cobra.Command{
		Use:   "cover-letter <opportunity-id>",
		Short: "Write a cover letter for an opportunity",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "opportunity")
			if err != nil {
				return err
			}
			resume, err := a.resume(resumePath)()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			o, err := a.engine.GetOpportunity(ctx, id)
			if err != nil {
				return err
			}
			return a.withAI(ctx, func(eng *ai.Engine) error {
				letter, err := eng.CoverLetter(ctx, o, resume)
				if err != nil {
					return err
				}
				return a.emit(letter, func(w io.Writer) { render.CoverLetter(w, letter) })
			})
		},
	}
	cmd.Flags().StringVar(&resumePath, "resume", "", "resume text file (default from config)")
	return cmd
}
