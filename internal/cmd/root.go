// Package cmd implements the command-line interface. The server
// command runs the orchestrator in-process; every other command talks
// to a running server over the REST API.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/parley-org/parley/internal/build"
)

var (
	// cfgFile parameter
	cfgFile string

	// rootCmd represents the base command when called without any subcommands
	rootCmd = &cobra.Command{
		Use:           build.Slug,
		Short:         "Multi-model discussion orchestrator.",
		Long:          `Orchestrates round-based discussions between multiple LLM backends.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute adds all child commands to the root command and runs it.
// Called once from main.main().
func Execute() error {
	return rootCmd.Execute()
}

func registerCommands() {
	rootCmd.AddCommand(serverCmd())
	rootCmd.AddCommand(createCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(stopCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(backupCmd())
	rootCmd.AddCommand(cleanupCmd())
	rootCmd.AddCommand(versionCmd())
}

func init() {
	rootCmd.PersistentFlags().
		StringVar(
			&cfgFile, "config", "",
			"config file (default is $HOME/.config/parley/config.yaml)",
		)

	registerCommands()
}
