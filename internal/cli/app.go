package cli

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gymledger/internal/audit"
	"github.com/smallbiznis/gymledger/internal/clock"
	"github.com/smallbiznis/gymledger/internal/config"
	"github.com/smallbiznis/gymledger/internal/expiration"
	"github.com/smallbiznis/gymledger/internal/logger"
	"github.com/smallbiznis/gymledger/internal/member"
	"github.com/smallbiznis/gymledger/internal/migration"
	"github.com/smallbiznis/gymledger/internal/notification"
	"github.com/smallbiznis/gymledger/internal/observability"
	"github.com/smallbiznis/gymledger/internal/payment"
	"github.com/smallbiznis/gymledger/internal/providers"
	"github.com/smallbiznis/gymledger/internal/ratelimit"
	"github.com/smallbiznis/gymledger/internal/reminder"
	"github.com/smallbiznis/gymledger/internal/report"
	"github.com/smallbiznis/gymledger/internal/scheduler"
	"github.com/smallbiznis/gymledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

const oneShotTimeout = 10 * time.Minute

// coreModules is the object graph shared by every subcommand.
func coreModules() fx.Option {
	return fx.Options(
		// Core Infrastructure
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		ratelimit.Module,
		providers.Module,

		// Functional Domains
		member.Module,
		notification.Module,
		audit.Module,
		payment.Module,
		expiration.Module,
		reminder.Module,
		report.Module,
		scheduler.Module,

		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
	)
}

func RegisterSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

// runOnce starts the graph, runs fn and stops the graph again. Targets are
// populated before fn runs.
func runOnce(parent context.Context, fn func(ctx context.Context) error, targets ...any) error {
	app := fx.New(
		coreModules(),
		fx.Populate(targets...),
	)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(parent, app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}

	ctx, cancelRun := context.WithTimeout(parent, oneShotTimeout)
	runErr := fn(ctx)
	cancelRun()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), app.StopTimeout())
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil && runErr == nil {
		return err
	}
	return runErr
}
