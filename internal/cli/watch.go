package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/raphaelgruber/scenariogen/internal/models"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch <run-id>",
	Short: "Follow the progress of a run",
	Long: `Attach to a running generation run and follow its progress. Recent
events are replayed first. A finished run prints its summary.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&genJSON, "json", false, "print progress events as JSON lines")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	run, err := apiClient.GetRun(ctx, args[0])
	if err != nil {
		return fmt.Errorf("get run: %w", err)
	}
	if run.Status.Terminal() {
		printRun(os.Stdout, *run)
		if run.Status != models.RunStatusCompleted {
			return fmt.Errorf("run %s %s", run.ID, run.Status)
		}
		return nil
	}

	final, err := followRemote(ctx, *run, "Press Ctrl+C to stop watching")
	if errors.Is(err, errDetached) {
		return nil
	}
	if err != nil {
		return err
	}
	return runResult(final)
}
