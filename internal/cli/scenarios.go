package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/raphaelgruber/scenariogen/internal/models"
	"github.com/spf13/cobra"
)

var scenariosJSON bool

var scenariosCmd = &cobra.Command{
	Use:   "scenarios <experiment-id>",
	Short: "List the stored scenarios of an experiment",
	Long: `List the stored scenarios of an experiment in domain, tier, repetition
and model order. Use --json for the full documents.

Examples:
  scenariogen scenarios exp-42
  scenariogen scenarios exp-42 --json > exp-42.json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scenarios, err := apiClient.ListScenarios(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("list scenarios: %w", err)
		}
		if scenariosJSON {
			return json.NewEncoder(os.Stdout).Encode(scenarios)
		}
		printScenarios(os.Stdout, scenarios)
		return nil
	},
}

func init() {
	scenariosCmd.Flags().BoolVar(&scenariosJSON, "json", false, "print full scenarios as JSON")
}

func printScenarios(w io.Writer, scenarios []models.Scenario) {
	if len(scenarios) == 0 {
		fmt.Fprintln(w, "No scenarios found")
		return
	}

	fmt.Fprintf(w, "%-16s %-10s %-4s %-28s %s\n", "DOMAIN", "TIER", "REP", "MODEL", "TITLE")
	fmt.Fprintln(w, "--------------------------------------------------------------------------------------------")
	for _, s := range scenarios {
		fmt.Fprintf(w, "%-16s %-10s %-4d %-28s %s\n", s.Domain, s.Tier, s.Repetition, truncate(s.ModelID, 28), s.TaskTitle)
	}
	fmt.Fprintf(w, "\n%d scenarios\n", len(scenarios))
}
