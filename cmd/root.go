package cmd

import (
	"os"

	"github.com/espejodata/espejo/actions"
	"github.com/espejodata/espejo/config"
	"github.com/spf13/cobra"
)

var (
	// Default values may be set at compile time.
	version          = "0.1.0"
	buildDate        = "2026-01-02T03:04+0000"
	stackDumpOnPanic bool
)

var rootCmd = &cobra.Command{
	Use: "espejo",
	Long: `
Espejo mirrors slowly-changing tabular data from a legacy relational store into
a local analytical store as typed, deduplicated fact tables.

Runs replace a selectable window (a month, a range of months, a year or
everything) per domain, report live progress, and survive process restarts:
a run interrupted by a crash is marked failed on the next start.
Start the web service to submit and monitor runs over HTTP, or use the sync
action to run one domain from the command line.`,
}

func init() {
	// General setup.
	cobra.EnableCommandSorting = false
	// Global flags.
	rootCmd.PersistentFlags().BoolVar(&stackDumpOnPanic, "print-stack", false, "Print a stack dump if there is a panic")
	_ = rootCmd.PersistentFlags().MarkHidden("print-stack")
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Execute() prints the error.
		os.Exit(1)
	}
}

// getConnectionLoader returns the connections file with environment DSN
// overrides applied on fetch.
func getConnectionLoader() actions.ConnectionLoader {
	return config.Connections
}
