package cmd

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/verifarm/internal/config"
	"github.com/3leaps/verifarm/pkg/history"
)

func newHistoryCmd() *cobra.Command {
	var (
		project string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs",
		Long: `List runs recorded in the history database, newest first.

Examples:
  verifarm history
  verifarm history --project regress --limit 5
  verifarm history show 5f0c...  --failed`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openHistory(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			runs, err := history.ListRuns(cmd.Context(), db, project, limit)
			if err != nil {
				return exitError(foundry.ExitFileReadError, "Failed to list runs", err)
			}
			if len(runs) == 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), runsTable(runs))
			return err
		},
	}
	cmd.Flags().StringVarP(&project, "project", "P", "", "Only runs of this project")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to list (0: all)")
	cmd.AddCommand(newHistoryShowCmd())
	return cmd
}

func newHistoryShowCmd() *cobra.Command {
	var failedOnly bool
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the jobs of one recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openHistory(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			ctx := cmd.Context()
			run, err := history.GetRun(ctx, db, args[0])
			if err != nil {
				if errors.Is(err, history.ErrRunNotFound) {
					return exitError(foundry.ExitInvalidArgument, "Unknown run", err)
				}
				return exitError(foundry.ExitFileReadError, "Failed to read run", err)
			}
			outcomes, err := history.ListOutcomes(ctx, db, run.RunID, failedOnly)
			if err != nil {
				return exitError(foundry.ExitFileReadError, "Failed to read outcomes", err)
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Run %s (%s) %s\n", run.RunID, run.Project, run.Status)
			_, _ = fmt.Fprintf(out, "  started %s, took %s, %d workers\n",
				run.StartedAt.Local().Format(time.DateTime), run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond), run.Workers)
			_, _ = fmt.Fprintf(out, "  passes %d, fails %d, pended %d\n", run.Passed, run.Failed, run.Pending)
			if run.ReportPath != "" {
				_, _ = fmt.Fprintf(out, "  report %s\n", run.ReportPath)
			}
			_, err = fmt.Fprintln(out, outcomesTable(outcomes))
			return err
		},
	}
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "Only failed jobs")
	return cmd
}

func openHistory(cmd *cobra.Command) (*sql.DB, error) {
	cfg := config.GetConfig()
	if cfg == nil {
		return nil, exitError(ExitInternal, "Configuration not loaded", errors.New("config.Load was not called"))
	}
	hc, err := historyStoreConfig(cfg.History)
	if err != nil {
		return nil, exitError(foundry.ExitFileNotFound, "Cannot locate history database", err)
	}
	db, err := history.Open(cmd.Context(), hc)
	if err != nil {
		return nil, exitError(foundry.ExitFileReadError, "Failed to open history database", err)
	}
	if err := history.Migrate(cmd.Context(), db); err != nil {
		_ = db.Close()
		return nil, exitError(foundry.ExitFileReadError, "Failed to prepare history database", err)
	}
	return db, nil
}

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func styled(row, _ int) lipgloss.Style {
	if row == table.HeaderRow {
		return headerStyle
	}
	return cellStyle
}

func runsTable(runs []history.Run) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(styled).
		Headers("RUN", "PROJECT", "STARTED", "STATUS", "JOBS", "PASS", "FAIL", "PENDED")
	for _, r := range runs {
		t.Row(r.RunID, r.Project, r.StartedAt.Local().Format(time.DateTime), string(r.Status),
			strconv.Itoa(r.Total), strconv.Itoa(r.Passed), strconv.Itoa(r.Failed), strconv.Itoa(r.Pending))
	}
	return t.String()
}

func outcomesTable(rows []history.OutcomeRow) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(styled).
		Headers("JOB", "STATUS", "EXIT", "DURATION", "PATH")
	for _, o := range rows {
		status := "FAIL"
		if o.Passed {
			status = "PASS"
		}
		path := o.Artifact
		if path == "" {
			path = "(removed)"
		}
		t.Row(o.Job, status, strconv.Itoa(o.ExitCode), o.Duration.Round(time.Millisecond).String(), path)
	}
	return t.String()
}
