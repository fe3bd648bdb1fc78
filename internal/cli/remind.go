package cli

import (
	"context"
	"encoding/json"

	"github.com/smallbiznis/gymledger/internal/reminder"
	"github.com/spf13/cobra"
)

var remindCmd = &cobra.Command{
	Use:   "remind",
	Short: "Dispatch expiration reminders once and print the outcome counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		var dispatcher *reminder.Dispatcher
		return runOnce(cmd.Context(), func(ctx context.Context) error {
			result, err := dispatcher.RunReminderDispatch(ctx)
			// Counts are printed even when some sends failed.
			if encErr := json.NewEncoder(cmd.OutOrStdout()).Encode(result); encErr != nil && err == nil {
				return encErr
			}
			return err
		}, &dispatcher)
	},
}
