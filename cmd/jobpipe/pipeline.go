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

func addJobCmd(a *app) *cobra.Command {
	var (
		in     pipeline.NewOpportunity
		family string
		jdFile string
	)
	cmd := &cobra.Command{
		Use:   "add-job",
		Short: "Add an opportunity in Prospect",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.JobFamily = models.JobFamily(family)
			if jdFile != "" {
				text, err := readText(cmd.InOrStdin(), jdFile)
				if err != nil {
					return usagef("--jd-file: %v", err)
				}
				in.JDText = text
			}

			o, err := a.engine.CreateOpportunity(cmd.Context(), in, a.now())
			if err != nil {
				return err
			}
			return a.emit(o, func(w io.Writer) { render.Opportunity(w, o, nil, nil) })
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.Company, "company", "", "company name (required)")
	f.StringVar(&in.Title, "title", "", "role title")
	f.StringVar(&family, "family", "", "job family code, e.g. A or B")
	f.IntVar(&in.Tier, "tier", 0, "priority tier, 1 is highest; 0 leaves it unranked")
	f.StringVar(&in.Source, "source", "", "where the posting was found")
	f.StringVar(&in.SalaryRange, "salary", "", "salary range as posted")
	f.StringVar(&in.JDURL, "url", "", "job description URL")
	f.StringVar(&jdFile, "jd-file", "", "file holding the job description text, - for stdin")
	return cmd
}

// readText reads path, or r when path is "-".
func readText(r io.Reader, path string) (string, error) {
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(r)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func addContactCmd(a *app) *cobra.Command {
	var (
		in   pipeline.NewContact
		role string
	)
	cmd := &cobra.Command{
		Use:   "add-contact <opportunity-id>",
		Short: "Attach a contact to an opportunity",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "opportunity")
			if err != nil {
				return err
			}
			if role != "" {
				r, ok := models.ParseContactRole(role)
				if !ok {
					return usagef("--role: want HM, Recruiter, Peer or Other, got %q", role)
				}
				in.Role = r
			}

			c, err := a.engine.AddContact(cmd.Context(), id, in, a.now())
			if err != nil {
				return err
			}
			return a.emit(c, func(w io.Writer) { render.Contacts(w, []models.Contact{*c}) })
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.Name, "name", "", "contact name (required)")
	f.StringVar(&role, "role", "", "HM, Recruiter, Peer or Other")
	f.StringVar(&in.Channel, "channel", "", "preferred channel, e.g. LinkedIn")
	f.StringVar(&in.Email, "email", "", "email address")
	return cmd
}

func sendOutreachCmd(a *app) *cobra.Command {
	var (
		channel  string
		autoWarm bool
	)
	cmd := &cobra.Command{
		Use:   "send-outreach <contact-id>",
		Short: "Record the first outreach to a contact",
		Long:  `Record the first outreach to a contact. Day-3 and Day-7 follow-ups are scheduled from this moment.`,
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "contact")
			if err != nil {
				return err
			}
			warm := a.cfg.Pipeline.AutoWarm
			if cmd.Flags().Changed("auto-warm") {
				warm = autoWarm
			}

			c, err := a.engine.RecordOutreach(cmd.Context(), id, channel, a.now(), pipeline.OutreachOptions{AutoWarm: warm})
			if err != nil {
				return err
			}
			return a.emit(c, func(w io.Writer) { render.Contacts(w, []models.Contact{*c}) })
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "", "channel used, defaults to the contact's")
	cmd.Flags().BoolVar(&autoWarm, "auto-warm", false, "move a Prospect to Warm Lead (default from config)")
	return cmd
}

func followUpCmd(a *app) *cobra.Command {
	var day int
	cmd := &cobra.Command{
		Use:   "follow-up <contact-id>",
		Short: "Record the Day-3 or Day-7 follow-up to a contact",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "contact")
			if err != nil {
				return err
			}
			c, err := a.engine.RecordFollowUp(cmd.Context(), id, day, a.now())
			if err != nil {
				return err
			}
			return a.emit(c, func(w io.Writer) { render.Contacts(w, []models.Contact{*c}) })
		},
	}
	cmd.Flags().IntVar(&day, "day", pipeline.Day3, "which follow-up: 3 or 7")
	return cmd
}

func advanceCmd(a *app) *cobra.Command {
	var (
		opts pipeline.AdvanceOptions
		ids  []string
	)
	cmd := &cobra.Command{
		Use:   "advance <opportunity-id> <stage> | advance <stage> --ids 1,2,3",
		Short: "Move one or more opportunities to another stage",
		Long: `Move an opportunity to any of the eight stages. The next action and its
date are recomputed from the stage table.

With --ids every listed opportunity is moved in turn. One that cannot be
moved is reported and left as it was; the rest still advance.

Stages: ` + stageList(),
		Args: func(cmd *cobra.Command, args []string) error {
			if len(ids) > 0 {
				return exactArgs(1)(cmd, args)
			}
			return exactArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(ids) > 0 {
				return a.bulkAdvance(cmd, ids, args[0], opts)
			}
			id, err := parseID(args[0], "opportunity")
			if err != nil {
				return err
			}
			stage, err := pipeline.ParseStage(args[1])
			if err != nil {
				return err
			}

			o, err := a.engine.Advance(cmd.Context(), id, stage, a.now(), opts)
			if err != nil {
				return err
			}
			return a.emit(o, func(w io.Writer) { render.Opportunity(w, o, nil, nil) })
		},
	}
	cmd.Flags().StringVar(&opts.Note, "note", "", "note stored with the stage change")
	cmd.Flags().StringVar(&opts.CloseReason, "reason", "", "why the opportunity closed")
	cmd.Flags().StringSliceVar(&ids, "ids", nil, "advance these opportunity ids, comma separated")
	return cmd
}

func (a *app) bulkAdvance(cmd *cobra.Command, rawIDs []string, rawStage string, opts pipeline.AdvanceOptions) error {
	ids := make([]int64, 0, len(rawIDs))
	for _, raw := range rawIDs {
		id, err := parseID(strings.TrimSpace(raw), "opportunity")
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}
	stage, err := pipeline.ParseStage(rawStage)
	if err != nil {
		return err
	}

	res, err := a.engine.BulkAdvance(cmd.Context(), ids, stage, a.now(), opts)
	if err != nil {
		return err
	}
	for _, f := range res.Failed {
		fmt.Fprintf(cmd.ErrOrStderr(), "skipped %d: %s: %s\n", f.ID, f.Error, f.Message)
	}
	return a.emit(res, func(w io.Writer) {
		fmt.Fprintf(w, "advanced %d of %d to %s\n", res.Updated, res.Total, stage)
	})
}

func stageList() string {
	names := make([]string, 0, len(models.Stages))
	for _, s := range models.Stages {
		names = append(names, string(s))
	}
	return strings.Join(names, ", ")
}

func noteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "note <opportunity-id> <text>...",
		Short: "Add a free-text note to an opportunity",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) < 2 {
				return usagef("note takes an opportunity id and the note text")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "opportunity")
			if err != nil {
				return err
			}
			act, err := a.engine.AddNote(cmd.Context(), id, strings.Join(args[1:], " "), a.now())
			if err != nil {
				return err
			}
			return a.emit(act, func(w io.Writer) { render.Trail(w, []models.Activity{*act}) })
		},
	}
}

func respondCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "respond <contact-id> <responded|declined|no-response>",
		Short: "Record how a contact answered",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "contact")
			if err != nil {
				return err
			}
			status, ok := models.ParseResponseStatus(args[1])
			if !ok {
				return usagef("response %q: want responded, declined or no-response", args[1])
			}

			c, err := a.engine.RecordResponse(cmd.Context(), id, status, a.now())
			if err != nil {
				return err
			}
			if !a.jsonOut {
				fmt.Fprintf(a.out, "%s: %s\n", c.Name, c.Response)
				return nil
			}
			return a.emit(c, nil)
		},
	}
}
