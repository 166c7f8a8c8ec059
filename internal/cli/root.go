// Package cli provides the command-line interface for scenariogen.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/raphaelgruber/scenariogen/internal/client"
	"github.com/raphaelgruber/scenariogen/internal/config"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose   bool
	serverURL string

	// Global config and API client
	cfg       config.Config
	apiClient *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "scenariogen",
	Short: "Generate evaluation scenarios with LLMs",
	Long: `Scenariogen generates evaluation scenarios for multi-agent experiments.

A generation request expands into domains x tiers x repetitions x models work
units. Each unit is one rate-limited, retried LLM call whose validated result
is stored in the configured scenario store. Runs execute on a scenariogen
server, or in-process with --local.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()
		if verbose {
			cfg.LogLevel = slog.LevelDebug
		}

		url := serverURL
		if url == "" {
			url = cfg.ServerURL
		}
		apiClient = client.New(url)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server URL (default $SCENARIOGEN_SERVER_URL)")

	// Add subcommands
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(scenariosCmd)
	rootCmd.AddCommand(statsCmd)
}

// warnf prints a warning to stderr.
func warnf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Warning: "+format+"\n", args...)
}
