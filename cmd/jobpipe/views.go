package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/garnizeh/jobpipe/internal/pipeline"
	"github.com/garnizeh/jobpipe/internal/render"
	"github.com/garnizeh/jobpipe/pkg/models"
)

type listFlags struct {
	stage    string
	tier     int
	family   string
	all      bool
	unscored bool
}

func (lf *listFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&lf.stage, "stage", "", "only this stage")
	f.IntVar(&lf.tier, "tier", 0, "only this tier")
	f.StringVar(&lf.family, "family", "", "only this job family")
	f.BoolVar(&lf.all, "all", false, "include closed opportunities")
	f.BoolVar(&lf.unscored, "unscored", false, "only opportunities without a fit score")
}

func (lf *listFlags) filter() (models.OpportunityFilter, error) {
	f := models.OpportunityFilter{Tier: lf.tier, Unscored: lf.unscored}
	if lf.stage != "" {
		s, err := pipeline.ParseStage(lf.stage)
		if err != nil {
			return f, err
		}
		f.Stage = s
	}
	if lf.family != "" {
		fam, ok := models.ParseJobFamily(lf.family)
		if !ok {
			return f, usagef("--family: unknown job family %q", lf.family)
		}
		f.JobFamily = fam
	}
	f.ExcludeClosed = !lf.all && f.Stage != models.StageClosed
	return f, nil
}

func listCmd(a *app) *cobra.Command {
	var lf listFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List opportunities",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := lf.filter()
			if err != nil {
				return err
			}
			opps, err := a.engine.ListOpportunities(cmd.Context(), f)
			if err != nil {
				return err
			}
			return a.emit(opps, func(w io.Writer) { render.Opportunities(w, opps) })
		},
	}
	lf.register(cmd)
	return cmd
}

func showCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <opportunity-id>",
		Short: "Show an opportunity with its contacts and activity trail",
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
			contacts, err := a.engine.Contacts(ctx, id)
			if err != nil {
				return err
			}
			trail, err := a.engine.Trail(ctx, id)
			if err != nil {
				return err
			}

			view := struct {
				*models.Opportunity
				Contacts   []models.Contact  `json:"contacts"`
				Activities []models.Activity `json:"activities"`
			}{o, contacts, trail}
			return a.emit(view, func(w io.Writer) { render.Opportunity(w, o, contacts, trail) })
		},
	}
}

func dueCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "due",
		Short: "List Day-3 and Day-7 follow-ups that can be sent now",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			due, err := a.engine.DueFollowUps(cmd.Context(), a.now())
			if err != nil {
				return err
			}
			return a.emit(due, func(w io.Writer) { render.Due(w, due) })
		},
	}
}

// stalePolicy is the configured policy, or a uniform one when days > 0.
func (a *app) stalePolicy(days int) pipeline.StalePolicy {
	if days > 0 {
		return pipeline.Uniform(days)
	}
	return a.cfg.StalePolicy()
}

func staleCmd(a *app) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "stale",
		Short: "List open opportunities with no activity past their threshold",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 0 {
				return usagef("--days must be positive")
			}
			items, err := a.engine.StaleOpportunities(cmd.Context(), a.now(), a.stalePolicy(days))
			if err != nil {
				return err
			}
			return a.emit(items, func(w io.Writer) { render.Stale(w, items) })
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "idle threshold in days for every stage (default from config)")
	return cmd
}

func digestCmd(a *app) *cobra.Command {
	var (
		days    int
		persist bool
		narrate bool
	)
	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Print the daily digest",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 0 {
				return usagef("--days must be positive")
			}
			ctx := cmd.Context()
			p := a.cfg.Pipeline.PersistDigest
			if cmd.Flags().Changed("persist") {
				p = persist
			}

			d, err := a.engine.BuildDigest(ctx, a.now(), pipeline.DigestOptions{
				Stale:         a.stalePolicy(days),
				PriorityLimit: a.cfg.Pipeline.PriorityLimit,
				Persist:       p,
			})
			if err != nil {
				return err
			}

			var narrative string
			if narrate {
				eng, closeFn, err := a.aiEngine(ctx)
				if err != nil {
					return err
				}
				defer closeFn()
				// narration is optional; keep the digest
				narrative, err = eng.DigestNarrative(ctx, d)
				if err != nil {
					a.logger.Warn("digest narration failed", "err", err)
				}
			}

			view := struct {
				*pipeline.Digest
				Narrative string `json:"narrative,omitempty"`
			}{d, narrative}
			return a.emit(view, func(w io.Writer) {
				render.Digest(w, d)
				if narrative != "" {
					fmt.Fprintf(w, "\n%s\n", narrative)
				}
			})
		},
	}
	f := cmd.Flags()
	f.IntVar(&days, "days", 0, "stale threshold in days for every stage (default from config)")
	f.BoolVar(&persist, "persist", false, "record a digest activity on each mentioned opportunity (default from config)")
	f.BoolVar(&narrate, "narrate", false, "append a short briefing written by the text generator")
	return cmd
}

func exportCmd(a *app) *cobra.Command {
	var (
		lf     listFlags
		format string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export opportunities as CSV or XLSX",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			format = strings.ToLower(format)
			if format != "csv" && format != "xlsx" {
				return usagef("--format: want csv or xlsx, got %q", format)
			}
			if format == "xlsx" && out == "" {
				return usagef("--out is required for xlsx")
			}
			f, err := lf.filter()
			if err != nil {
				return err
			}
			opps, err := a.engine.ListOpportunities(cmd.Context(), f)
			if err != nil {
				return err
			}

			w := a.out
			if out != "" {
				file, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("create %s: %w", out, err)
				}
				defer file.Close()
				w = file
			}
			if format == "xlsx" {
				err = render.WriteXLSX(w, opps)
			} else {
				err = render.WriteCSV(w, opps)
			}
			if err != nil {
				return err
			}
			if out != "" {
				fmt.Fprintf(a.out, "exported %d opportunities to %s\n", len(opps), out)
			}
			return nil
		},
	}
	lf.register(cmd)
	cmd.Flags().StringVar(&format, "format", "csv", "csv or xlsx")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout, csv only)")
	return cmd
}
