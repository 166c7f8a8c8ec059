package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/raphaelgruber/scenariogen/internal/models"
	"github.com/spf13/cobra"
)

var (
	runsLimit int
	runsJSON  bool
)

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "List or inspect generation runs",
	Long: `List recent generation runs or inspect a specific run by ID.

Examples:
  scenariogen runs             # List recent runs
  scenariogen runs -n 10       # List the 10 most recent runs
  scenariogen runs 5f0c...     # Show details for one run`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRuns,
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "max runs to list")
	runsCmd.Flags().BoolVar(&runsJSON, "json", false, "print JSON")
}

func runRuns(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if len(args) == 1 {
		run, err := apiClient.GetRun(ctx, args[0])
		if err != nil {
			return fmt.Errorf("get run: %w", err)
		}
		if runsJSON {
			return json.NewEncoder(os.Stdout).Encode(run)
		}
		printRun(os.Stdout, *run)
		return nil
	}

	runs, err := apiClient.ListRuns(ctx, runsLimit)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	if runsJSON {
		return json.NewEncoder(os.Stdout).Encode(runs)
	}
	printRuns(os.Stdout, runs)
	return nil
}

func printRuns(w io.Writer, runs []models.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs found")
		return
	}

	fmt.Fprintf(w, "%-36s %-16s %-10s %-12s %s\n", "ID", "EXPERIMENT", "STATUS", "PROGRESS", "STARTED")
	fmt.Fprintln(w, "----------------------------------------------------------------------------------------------")

	for _, run := range runs {
		progress := fmt.Sprintf("%d/%d", run.Completed+run.Failed, run.Total)
		started := run.StartedAt.Local().Format("01-02 15:04:05")
		fmt.Fprintf(w, "%-36s %-16s %-10s %-12s %s\n", run.ID, truncate(run.ExperimentID, 16), run.Status, progress, started)
	}
}

func printRun(w io.Writer, run models.Run) {
	fmt.Fprintf(w, "Run: %s\n", run.ID)
	fmt.Fprintf(w, "  Experiment: %s\n", run.ExperimentID)
	fmt.Fprintf(w, "  Status: %s\n", run.Status)
	if len(run.Models) > 0 {
		fmt.Fprintf(w, "  Models: %v\n", run.Models)
	}
	fmt.Fprintf(w, "  Progress: %d/%d (%d succeeded, %d failed)\n", run.Completed+run.Failed, run.Total, run.Completed, run.Failed)
	fmt.Fprintf(w, "  Stored: %d\n", run.Stored)
	fmt.Fprintf(w, "  Concurrency: %d\n", run.Concurrency)
	fmt.Fprintf(w, "  Started: %s\n", run.StartedAt.Format(time.RFC3339))
	if run.FinishedAt != nil {
		fmt.Fprintf(w, "  Finished: %s\n", run.FinishedAt.Format(time.RFC3339))
		fmt.Fprintf(w, "  Duration: %s\n", run.Elapsed().Round(time.Second))
	}
	if run.Error != "" {
		fmt.Fprintf(w, "  Error: %s\n", run.Error)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
