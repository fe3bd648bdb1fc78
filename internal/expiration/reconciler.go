// Package expiration materializes the UP_TO_DATE to EXPIRED transition for
// payments whose period has lapsed.
package expiration

import (
	"context"
	"time"

	"github.com/smallbiznis/gymledger/internal/clock"
	obsmetrics "github.com/smallbiznis/gymledger/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/gymledger/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Location   *time.Location
	Repo       paymentdomain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Reconciler struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	loc        *time.Location
	repo       paymentdomain.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewReconciler(p Params) *Reconciler {
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Reconciler{
		db:         p.DB,
		log:        p.Log.Named("expiration.reconciler"),
		clock:      p.Clock,
		loc:        loc,
		repo:       p.Repo,
		obsMetrics: p.ObsMetrics,
	}
}

// RunExpirationReconciliation flips every live UP_TO_DATE record whose
// expiration date is before today to EXPIRED and returns how many rows
// changed. The write is all-or-nothing; a second run on the same day
// finds nothing to do.
func (r *Reconciler) RunExpirationReconciliation(ctx context.Context) (int64, error) {
	today := clock.Today(r.clock, r.loc)
	now := r.clock.Now().UTC()

	result, err := r.repo.ExpireLapsed(ctx, r.db, today, now)
	if err != nil {
		r.log.Error("expiration reconciliation failed",
			zap.String("today", today.Format(time.DateOnly)),
			zap.Error(err),
		)
		return 0, &paymentdomain.TransientStoreError{Op: "expire_lapsed_payments", Err: err}
	}

	r.obsMetrics.RecordPaymentsExpired(ctx, result.Updated)
	if result.Updated > 0 {
		r.log.Info("payments expired",
			zap.String("today", today.Format(time.DateOnly)),
			zap.Int64("updated_count", result.Updated),
		)
	} else {
		r.log.Debug("no lapsed payments", zap.String("today", today.Format(time.DateOnly)))
	}
	return result.Updated, nil
}
