package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bwmarrin/snowflake"
	reportdomain "github.com/smallbiznis/gymledger/internal/report/domain"
	"github.com/spf13/cobra"
)

var receiptOutput string

var receiptCmd = &cobra.Command{
	Use:   "receipt <payment-id>",
	Short: "Render a payment receipt as PDF",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := snowflake.ParseString(strings.TrimSpace(args[0]))
		if err != nil {
			return fmt.Errorf("invalid payment id %q: %w", args[0], err)
		}
		if strings.TrimSpace(receiptOutput) == "" {
			return errors.New("--output is required")
		}

		var reports reportdomain.Service
		return runOnce(cmd.Context(), func(ctx context.Context) error {
			doc, err := reports.PaymentReceipt(ctx, id)
			if err != nil {
				return err
			}
			f, err := os.Create(receiptOutput)
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, doc); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "receipt written to %s\n", receiptOutput)
			return nil
		}, &reports)
	},
}

func init() {
	receiptCmd.Flags().StringVarP(&receiptOutput, "output", "o", "", "Destination PDF file")
}
