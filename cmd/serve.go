package cmd

import (
	"net"

	"github.com/espejodata/espejo/actions"
	"github.com/espejodata/espejo/config"

	"github.com/spf13/cobra"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start a web service to submit and monitor synchronization runs",
	Long:  `Start a web service to submit and monitor synchronization runs`,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := config.LoadDomainSettings()
		if err != nil {
			return err
		}
		if serveConfig.QueriesDir == "" {
			serveConfig.QueriesDir = settings.QueriesDir
		}
		serveConfig.Connections = getConnectionLoader()
		serveConfig.DisabledDomains = settings.DisabledDomains()
		serveConfig.StackDumpOnPanic = stackDumpOnPanic
		return actions.RunWebServer(&serveConfig)
	},
}

var serveConfig = actions.WebServerConfig{
	LogLevel: "info",
	Scheme:   "http",
	Addr:     net.IP{0, 0, 0, 0},
	Port:     8086,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().SortFlags = false
	serveCmd.Flags().IPVarP(&serveConfig.Addr, "address", "a", net.IP{0, 0, 0, 0}, "Address to listen on")
	switches.addFlag(serveCmd, &serveConfig.Port, "port", "8086", false, "")
	switches.addFlag(serveCmd, &serveConfig.LogLevel, "log-level", "info", false, "")
	switches.addFlag(serveCmd, &serveConfig.QueriesDir, "queries-dir", "", false, "")
	switches.addFlag(serveCmd, &serveConfig.CommitBatchSize, "commit-batch-size", "1000", false, "")
	switches.addFlag(serveCmd, &serveConfig.TxtBatchNumRows, "sql-txt-batch-num-rows", "50", false, "")
}
