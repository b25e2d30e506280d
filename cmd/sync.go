package cmd

import (
	"github.com/espejodata/espejo/actions"
	"github.com/espejodata/espejo/config"
	"github.com/spf13/cobra"
)

var syncCfg = actions.SyncConfig{}

var syncCmd = &cobra.Command{
	Use:   "sync <domain>",
	Short: "Run one synchronization from the command line and wait for it to finish",
	Long: `Run one synchronization for the given domain and block until it completes or fails.

- The replacement window is chosen from the scope flags: close months apply to
  cartera only; a year replaces every period of that year; no scope replaces the
  whole domain.
- The run shares the engine with the web service: it takes the same global run
  gate, writes the same run table and is visible to status queries.
`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := config.LoadDomainSettings()
		if err != nil {
			return err
		}
		if syncCfg.QueriesDir == "" {
			syncCfg.QueriesDir = settings.QueriesDir
		}
		syncCfg.DomainName = args[0]
		syncCfg.Connections = getConnectionLoader()
		syncCfg.StackDumpOnPanic = stackDumpOnPanic
		return actions.RunSync(&syncCfg)
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().SortFlags = false
	switches.addFlag(syncCmd, &syncCfg.YearFrom, "year-from", "0", false, "")
	switches.addFlag(syncCmd, &syncCfg.CloseMonth, "close-month", "", false, "")
	switches.addFlag(syncCmd, &syncCfg.CloseMonthFrom, "close-month-from", "", false, "")
	switches.addFlag(syncCmd, &syncCfg.CloseMonthTo, "close-month-to", "", false, "")
	switches.addFlag(syncCmd, &syncCfg.Actor, "actor", "cli", false, "")
	switches.addFlag(syncCmd, &syncCfg.QueriesDir, "queries-dir", "", false, "")
	switches.addFlag(syncCmd, &syncCfg.CommitBatchSize, "commit-batch-size", "1000", false, "")
	switches.addFlag(syncCmd, &syncCfg.TxtBatchNumRows, "sql-txt-batch-num-rows", "50", false, "")
	switches.addFlag(syncCmd, &syncCfg.LogLevel, "log-level", "info", false, "")
}
