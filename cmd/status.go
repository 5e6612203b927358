package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"botbuilder/internal/db"
	"botbuilder/internal/session"
	"botbuilder/internal/workspace"
)

var statusCmd = &cobra.Command{
	Use:   "status <project-id>",
	Short: "Show where a build is and what it produced",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		id := args[0]
		found := false

		database, ledger := openLedger(cfg)
		if database != nil {
			defer database.Close()
			row, err := ledger.Session(ctx, id)
			switch {
			case err == nil:
				found = true
				printLedgerRow(out, row)
				events, err := ledger.Events(ctx, id)
				if err != nil {
					return err
				}
				printEvents(out, events)
			case !errors.Is(err, db.ErrNotFound):
				return err
			}
		}

		sessions, closeSessions, err := openSessions(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeSessions()

		state, err := sessions.Load(ctx, id)
		switch {
		case err == nil:
			found = true
			printSnapshot(out, state)
			ws, err := workspace.OpenExisting(cfg.ProjectsDir, state.ProjectID, state.BotName, workspace.WithSecretsFile(cfg.Build.SecretsFile))
			if err == nil {
				if tree, err := ws.Structure(ctx); err == nil {
					fmt.Fprintf(out, "\nFiles in %s:\n%s", ws.Dir(), tree)
				}
			}
		case !errors.Is(err, session.ErrNotFound):
			return err
		}

		if !found {
			return fmt.Errorf("no build with project id %s", id)
		}
		return nil
	},
}

func printLedgerRow(out io.Writer, row *db.BuildSession) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Project:\t%s (%s)\n", row.ProjectName, row.ProjectID)
	fmt.Fprintf(tw, "Bot:\t@%s\n", row.BotName)
	fmt.Fprintf(tw, "Stage:\t%s\n", row.Stage)
	if row.Outcome != "" {
		fmt.Fprintf(tw, "Outcome:\t%s\n", row.Outcome)
	}
	fmt.Fprintf(tw, "Container:\t%s (deployed: %v)\n", row.ContainerName, row.DeploymentCreated)
	fmt.Fprintf(tw, "Debug cycles:\t%d\n", row.DebugCycles)
	fmt.Fprintf(tw, "Failed attempts:\t%d\n", row.FailedAttempts)
	if row.LastError != "" {
		fmt.Fprintf(tw, "Last error:\t%s\n", row.LastError)
	}
	tw.Flush()
}

func printEvents(out io.Writer, events []db.StageEvent) {
	if len(events) == 0 {
		return
	}
	fmt.Fprintln(out, "\nTransitions:")
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, ev := range events {
		result := "ok"
		if ev.ErrorKind != "" {
			result = ev.ErrorKind
		}
		fmt.Fprintf(tw, "  %s\t%s -> %s\t%dms\t%s\n",
			ev.OccurredAt.Local().Format("15:04:05"), ev.FromStage, ev.ToStage, ev.DurationMs, result)
	}
	tw.Flush()
}

func printSnapshot(out io.Writer, s *session.State) {
	fmt.Fprintf(out, "\nSnapshot (updated %s):\n", s.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "  next stage: %s, questions answered: %d, files: %d\n", s.Stage, len(s.QAHistory), len(s.FileBundle))
	if s.Summary != nil {
		fmt.Fprintf(out, "  summary: %s\n", *s.Summary)
	}
	if s.ProblemSummary != nil {
		fmt.Fprintf(out, "  open problem: %s\n", *s.ProblemSummary)
	}
	if len(s.PersistFailures) > 0 {
		fmt.Fprintf(out, "  unsaved files: %v\n", s.PersistFailures)
	}
}
