package cli

import (
	"context"
	"fmt"

	"github.com/smallbiznis/gymledger/internal/expiration"
	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Expire lapsed payments once and print how many changed",
	RunE: func(cmd *cobra.Command, args []string) error {
		var reconciler *expiration.Reconciler
		return runOnce(cmd.Context(), func(ctx context.Context) error {
			count, err := reconciler.RunExpirationReconciliation(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d payments\n", count)
			return nil
		}, &reconciler)
	},
}
