package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// migration.Module applies the schema while the graph starts.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce(cmd.Context(), func(context.Context) error {
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		})
	},
}
