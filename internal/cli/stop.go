package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop <run-id>",
	Short: "Stop a running generation run",
	Long: `Stop dispatching new work units for a run. Calls already in flight
finish and their scenarios are stored before the run ends as cancelled.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		run, err := apiClient.StopRun(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("stop run: %w", err)
		}
		if run.Status.Terminal() {
			fmt.Printf("Run %s already %s\n", run.ID, run.Status)
			return nil
		}
		fmt.Printf("Stopping run %s (%d/%d done)\n", run.ID, run.Completed+run.Failed, run.Total)
		return nil
	},
}
