package cmd

import (
	"github.com/espejodata/espejo/actions"
	"github.com/spf13/cobra"
)

var statusCfg = actions.StatusConfig{}

var statusCmd = &cobra.Command{
	Use:   "status <domain>",
	Short: "Show the state of the most recent run for a domain",
	Long: `Show the state of a synchronization run as JSON, read from the durable run
table so it works after the process that owned the run has exited.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		statusCfg.DomainName = args[0]
		statusCfg.Connections = getConnectionLoader()
		statusCfg.StackDumpOnPanic = stackDumpOnPanic
		return actions.RunStatus(&statusCfg)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().SortFlags = false
	switches.addFlag(statusCmd, &statusCfg.JobId, "job-id", "", false, "")
	switches.addFlag(statusCmd, &statusCfg.LogLevel, "log-level", "warn", false, "")
}
