package cmd

import (
	"fmt"
	"sort"

	"github.com/espejodata/espejo/config"
	"github.com/espejodata/espejo/rdbms/shared"
	"github.com/spf13/cobra"
)

var configConnListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print all connections",
	Long: fmt.Sprintf(`List connections stored in config store %q
by printing them all to STDOUT`,
		config.Connections.FullPath),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := config.Connections.GetAllKeys()
		if err != nil {
			return err
		}
		// Sort the slice of keys alphabetically.
		sort.Slice(d, func(i, j int) bool {
			return d[i] < d[j]
		})
		for _, k := range d { // for each key...
			// Create and populate a generic connection object.
			conn := shared.ConnectionDetails{}
			if err := config.Connections.Get(k, &conn); err != nil {
				return err
			}
			fmt.Println(fmt.Sprintf(`%v:
%v`, k, conn))
		}
		return nil
	},
}

func initConnList() {
	configConnCmd.AddCommand(configConnListCmd)
}
