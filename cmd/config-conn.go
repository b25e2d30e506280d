package cmd

import (
	"fmt"

	"github.com/espejodata/espejo/config"
	"github.com/espejodata/espejo/constants"
	"github.com/spf13/cobra"
)

var configConnCmd = &cobra.Command{
	Use:   "connections",
	Short: "Configure connection details",
	Long: fmt.Sprintf(`Configure the %q (legacy source) and %q (analytical store) connections where:

- Connections are stored in file %q`,
		constants.ConnectionNameSource, constants.ConnectionNameDestination, config.Connections.FullPath),
}

func init() {
	configCmd.AddCommand(configConnCmd)
	configCmd.Flags().SortFlags = false
	initConnAdd()
	initConnList()
	initConnRemove()
}
