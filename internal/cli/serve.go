package cli

import (
	obsmetrics "github.com/smallbiznis/gymledger/internal/observability/metrics"
	"github.com/smallbiznis/gymledger/internal/scheduler"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler loop and the metrics endpoint until stopped",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := fx.New(
			coreModules(),
			fx.Invoke(obsmetrics.RegisterExporterServer),
			fx.Invoke(scheduler.Start),
		)
		if err := app.Err(); err != nil {
			return err
		}
		// Blocks until SIGINT or SIGTERM.
		app.Run()
		return nil
	},
}
