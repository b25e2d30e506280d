package cmd

import (
	"fmt"

	"github.com/espejodata/espejo/actions"
	"github.com/espejodata/espejo/config"
	"github.com/espejodata/espejo/constants"
	"github.com/spf13/cobra"
)

var configConnAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a connection",
	Long:  `Add a logical database connection for use by synchronization runs.`,
}

var configConnAddSqlServerCfg = &actions.ConnectionConfig{}

var configConnAddSqlServerCmd = &cobra.Command{
	Use:   "sqlserver",
	Short: "Add a SQL Server connection",
	Long: fmt.Sprintf(`Add a SQL Server database connection to the config store %q
by providing a DSN of the form:

sqlserver://<user>:<pass>@<host>/<dbname>[?<opt1>=<value1>&<opt2>=<value2>&...]
`,
		config.Connections.FullPath),
	RunE: func(cmd *cobra.Command, args []string) error {
		configConnAddSqlServerCfg.Type = constants.ConnectionTypeSqlServer
		configConnAddSqlServerCfg.ConfigFile = config.Connections
		cmd.SilenceUsage = true
		return actions.RunConnectionAdd(configConnAddSqlServerCfg)
	},
}

var configConnAddSqliteCfg = &actions.ConnectionConfig{}

var configConnAddSqliteCmd = &cobra.Command{
	Use:   "sqlite",
	Short: "Add a SQLite connection",
	Long: fmt.Sprintf(`Add a SQLite database connection to the config store %q
by providing the database file path as the DSN.
`,
		config.Connections.FullPath),
	RunE: func(cmd *cobra.Command, args []string) error {
		configConnAddSqliteCfg.Type = constants.ConnectionTypeSqlite
		configConnAddSqliteCfg.ConfigFile = config.Connections
		cmd.SilenceUsage = true
		return actions.RunConnectionAdd(configConnAddSqliteCfg)
	},
}

func initConnAdd() {
	configConnCmd.AddCommand(configConnAddCmd)
	configConnAddCmd.AddCommand(configConnAddSqlServerCmd)
	configConnAddSqlServerCmd.Flags().SortFlags = false
	addConnFlags(configConnAddSqlServerCmd, configConnAddSqlServerCfg)
	configConnAddCmd.AddCommand(configConnAddSqliteCmd)
	configConnAddSqliteCmd.Flags().SortFlags = false
	addConnFlags(configConnAddSqliteCmd, configConnAddSqliteCfg)
}

func addConnFlags(c *cobra.Command, cfg *actions.ConnectionConfig) {
	c.Flags().StringVarP(&cfg.LogicalName, "connection-name", "c", "",
		fmt.Sprintf("Connection name: %q or %q", constants.ConnectionNameSource, constants.ConnectionNameDestination))
	_ = c.MarkFlagRequired("connection-name")
	c.Flags().StringVarP(&cfg.Dsn, "dsn", "d", "", "Connect string for the database")
	_ = c.MarkFlagRequired("dsn")
	c.Flags().BoolVarP(&cfg.Force, "force", "f", false, "Allow overwrite of existing connections")
}
