package cmd

import (
	"fmt"

	"github.com/espejodata/espejo/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configure connections to the legacy source and the analytical store",
	Long: fmt.Sprintf(`Configure connections where:

- Connections are stored in file %q
`, config.Connections.FullPath),
}

func init() {
	rootCmd.AddCommand(configCmd)
}
