package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gymledger/internal/clock"
	"github.com/smallbiznis/gymledger/internal/config"
	"github.com/smallbiznis/gymledger/internal/expiration"
	obsmetrics "github.com/smallbiznis/gymledger/internal/observability/metrics"
	"github.com/smallbiznis/gymledger/internal/observability/tracing"
	"github.com/smallbiznis/gymledger/internal/ratelimit"
	"github.com/smallbiznis/gymledger/internal/reminder"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type expirationRunner interface {
	RunExpirationReconciliation(ctx context.Context) (int64, error)
}

type reminderRunner interface {
	RunReminderDispatch(ctx context.Context) (reminder.Result, error)
}

type jobLocker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (ratelimit.Lease, bool, error)
	Release(ctx context.Context, lease ratelimit.Lease) error
}

type Params struct {
	fx.In

	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Reconciler *expiration.Reconciler
	Dispatcher *reminder.Dispatcher
	JobsConfig *config.JobsConfigHolder
	Locker     *ratelimit.Locker `optional:"true"`
	Config     Config            `optional:"true"`
}

type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	reconciler expirationRunner
	dispatcher reminderRunner
	jobsConfig *config.JobsConfigHolder
	locker     jobLocker
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Reconciler == nil || p.Dispatcher == nil || p.JobsConfig == nil {
		return nil, ErrInvalidConfig
	}
	s := &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		genID:      p.GenID,
		clock:      p.Clock,
		reconciler: p.Reconciler,
		dispatcher: p.Dispatcher,
		jobsConfig: p.JobsConfig,
	}
	// A nil *Locker must not become a non-nil interface.
	if p.Locker != nil {
		s.locker = p.Locker
	}
	return s, nil
}

// runJob wraps fn with a per-job timeout, the distributed lock, a trace
// span, logs and metrics. A timeout is soft: it is logged and counted but
// not returned, because the next run picks up where this one rolled back.
func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context, run *jobRun) error,
) error {
	ctx, run := s.newJobRun(parent, name)
	log := s.logger(ctx)
	schedMetrics := obsmetrics.Scheduler()

	if s.locker != nil {
		lease, ok, err := s.locker.TryLock(ctx, name, s.lockTTL(timeout))
		switch {
		case err != nil:
			// Update predicates and notification claims keep overlapping
			// runs safe; run unlocked.
			log.Warn("scheduler lock unavailable, running without lock", zap.Error(err))
		case !ok:
			schedMetrics.IncBatchDeferred(name, obsmetrics.SchedulerBatchDeferredReasonLockHeld)
			log.Info("scheduler job deferred, lock held elsewhere")
			return nil
		default:
			defer func() {
				if err := s.locker.Release(context.Background(), lease); err != nil {
					log.Warn("scheduler lock release failed", zap.Error(err))
				}
			}()
		}
	}

	ctx, span := tracing.Tracer().Start(ctx, "scheduler."+name,
		trace.WithAttributes(attribute.String("job", name), attribute.String("run_id", run.runID)),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := s.clock.Now()
	s.logJobStart(ctx, run)
	schedMetrics.IncJobRun(name)

	err := fn(ctx, run)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	// Shutdown cancels the parent; that is neither a failure nor a timeout.
	canceled := errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	if err != nil && !canceled && run.errorCount == 0 {
		run.AddErrors(1)
	}
	s.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}
	if canceled {
		log.Info("job canceled", zap.Error(err))
		return nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	schedMetrics.IncJobError(name, err)

	if errors.Is(err, context.DeadlineExceeded) {
		schedMetrics.IncJobTimeout(name)
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	s.logJobError(ctx, "scheduler.job.failed", err)
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) lockTTL(timeout time.Duration) time.Duration {
	if s.cfg.LockTTL > timeout {
		return s.cfg.LockTTL
	}
	return timeout
}

func (s *Scheduler) jobTimeout(jobs config.JobsConfig) time.Duration {
	if jobs.Scheduler.JobTimeout > 0 {
		return jobs.Scheduler.JobTimeout
	}
	if s.cfg.JobTimeout > 0 {
		return s.cfg.JobTimeout
	}
	return DefaultConfig().JobTimeout
}

// RunOnce runs every enabled job in order. Job failures are joined; one
// failing job never prevents the next from running.
func (s *Scheduler) RunOnce(parent context.Context) error {
	jobsCfg := s.currentJobsConfig()
	timeout := s.jobTimeout(jobsCfg)

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context, *jobRun) error
	}{
		{JobExpirePayments, jobsCfg.Expiration.Enabled && isJobEnabled(jobsCfg, JobExpirePayments), s.expirePaymentsJob},
		{JobPaymentReminders, jobsCfg.Reminder.Enabled && isJobEnabled(jobsCfg, JobPaymentReminders), s.paymentRemindersJob},
	}

	var err error
	for _, job := range jobs {
		if !job.Enabled {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, timeout, job.Run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) expirePaymentsJob(ctx context.Context, run *jobRun) error {
	count, err := s.reconciler.RunExpirationReconciliation(ctx)
	if err != nil {
		return err
	}
	run.AddProcessed(int(count))
	obsmetrics.Scheduler().AddBatchProcessed(JobExpirePayments, obsmetrics.ResourcePayments, int(count))
	return nil
}

func (s *Scheduler) paymentRemindersJob(ctx context.Context, run *jobRun) error {
	result, err := s.dispatcher.RunReminderDispatch(ctx)

	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.AddReminders(reminder.OutcomeSent, result.Sent)
	schedMetrics.AddReminders(reminder.OutcomeFailed, result.Failed)
	schedMetrics.AddReminders(reminder.OutcomeSkipped, result.Skipped)
	schedMetrics.AddBatchProcessed(JobPaymentReminders, obsmetrics.ResourceReminders, result.Sent+result.Failed)

	run.AddProcessed(result.Sent)
	run.AddErrors(result.Failed)
	return err
}

func (s *Scheduler) currentJobsConfig() config.JobsConfig {
	if s.jobsConfig == nil {
		return config.DefaultJobsConfig()
	}
	return s.jobsConfig.Get()
}

func isJobEnabled(cfg config.JobsConfig, jobName string) bool {
	// An empty list enables every job.
	if len(cfg.Scheduler.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range cfg.Scheduler.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), jobName) {
			return true
		}
	}
	return false
}
