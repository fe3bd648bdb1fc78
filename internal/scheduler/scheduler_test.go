package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/gymledger/internal/clock"
	"github.com/smallbiznis/gymledger/internal/config"
	obsmetrics "github.com/smallbiznis/gymledger/internal/observability/metrics"
	"github.com/smallbiznis/gymledger/internal/ratelimit"
	"github.com/smallbiznis/gymledger/internal/reminder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeExpiration struct {
	calls int
	count int64
	err   error
}

func (f *fakeExpiration) RunExpirationReconciliation(context.Context) (int64, error) {
	f.calls++
	return f.count, f.err
}

type fakeReminders struct {
	calls  int
	result reminder.Result
	err    error
}

func (f *fakeReminders) RunReminderDispatch(context.Context) (reminder.Result, error) {
	f.calls++
	return f.result, f.err
}

func newTestScheduler(t *testing.T, jobs config.JobsConfig, exp *fakeExpiration, rem *fakeReminders) *Scheduler {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return &Scheduler{
		log:        zap.NewNop(),
		cfg:        DefaultConfig(),
		genID:      node,
		clock:      clock.NewFakeClock(time.Date(2024, time.March, 1, 0, 5, 0, 0, time.UTC)),
		reconciler: exp,
		dispatcher: rem,
		jobsConfig: config.NewStaticJobsConfigHolder(jobs),
	}
}

func useTestRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	t.Cleanup(restore)

	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{
		ServiceName: "gymledger",
		Environment: "test",
	})
	return registry
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := useTestRegistry(t)

	s := newTestScheduler(t, config.DefaultJobsConfig(), &fakeExpiration{}, &fakeReminders{})
	err := s.runJob(context.Background(), "timeout_job", 5*time.Millisecond, func(ctx context.Context, _ *jobRun) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	labels := map[string]string{
		"service": "gymledger",
		"env":     "test",
		"job":     "timeout_job",
	}
	if got := getCounterValue(t, registry, "gymledger_scheduler_job_timeouts_total", labels); got != 1 {
		t.Fatalf("expected timeout count 1, got %v", got)
	}

	errorLabels := map[string]string{
		"service": "gymledger",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	if got := getCounterValue(t, registry, "gymledger_scheduler_job_errors_total", errorLabels); got != 1 {
		t.Fatalf("expected error count 1, got %v", got)
	}
}

func TestRunJobCanceledIsNotCountedAsTimeout(t *testing.T) {
	registry := useTestRegistry(t)

	s := newTestScheduler(t, config.DefaultJobsConfig(), &fakeExpiration{}, &fakeReminders{})
	parent, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.runJob(parent, "canceled_job", time.Minute, func(ctx context.Context, _ *jobRun) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	labels := map[string]string{
		"service": "gymledger",
		"env":     "test",
		"job":     "canceled_job",
	}
	assert.Equal(t, float64(1), getCounterValue(t, registry, "gymledger_scheduler_job_runs_total", labels))
	_, found := findCounterValue(t, registry, "gymledger_scheduler_job_timeouts_total", labels)
	assert.False(t, found, "cancellation must not count as a timeout")

	errorLabels := map[string]string{
		"service": "gymledger",
		"env":     "test",
		"job":     "canceled_job",
		"reason":  obsmetrics.SchedulerJobReasonCanceled,
	}
	_, found = findCounterValue(t, registry, "gymledger_scheduler_job_errors_total", errorLabels)
	assert.False(t, found, "cancellation must not count as a job error")
}

func TestRunOnceRunsJobsInOrderAndJoinsErrors(t *testing.T) {
	useTestRegistry(t)

	exp := &fakeExpiration{err: errors.New("db down")}
	rem := &fakeReminders{result: reminder.Result{Sent: 2}}
	s := newTestScheduler(t, config.DefaultJobsConfig(), exp, rem)

	err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), JobExpirePayments)
	// A failed expiration pass never blocks reminders.
	assert.Equal(t, 1, exp.calls)
	assert.Equal(t, 1, rem.calls)
}

func TestRunOnceHonorsEnabledFlags(t *testing.T) {
	useTestRegistry(t)

	jobs := config.DefaultJobsConfig()
	jobs.Reminder.Enabled = false
	exp := &fakeExpiration{count: 3}
	rem := &fakeReminders{}
	s := newTestScheduler(t, jobs, exp, rem)

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, 1, exp.calls)
	assert.Equal(t, 0, rem.calls)

	jobs = config.DefaultJobsConfig()
	jobs.Scheduler.EnabledJobs = []string{" PAYMENT_REMINDERS "}
	exp = &fakeExpiration{}
	rem = &fakeReminders{}
	s = newTestScheduler(t, jobs, exp, rem)

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, 0, exp.calls)
	assert.Equal(t, 1, rem.calls)
}

func TestPaymentRemindersRecordOutcomes(t *testing.T) {
	registry := useTestRegistry(t)

	rem := &fakeReminders{result: reminder.Result{Sent: 2, Failed: 1, Skipped: 4}}
	s := newTestScheduler(t, config.DefaultJobsConfig(), &fakeExpiration{}, rem)

	require.NoError(t, s.RunOnce(context.Background()))

	for outcome, want := range map[string]float64{
		reminder.OutcomeSent:    2,
		reminder.OutcomeFailed:  1,
		reminder.OutcomeSkipped: 4,
	} {
		labels := map[string]string{"service": "gymledger", "env": "test", "outcome": outcome}
		assert.Equal(t, want, getCounterValue(t, registry, "gymledger_reminders_dispatched_total", labels), outcome)
	}

	processed := map[string]string{
		"service":  "gymledger",
		"env":      "test",
		"job":      JobPaymentReminders,
		"resource": obsmetrics.ResourceReminders,
	}
	assert.Equal(t, float64(3), getCounterValue(t, registry, "gymledger_scheduler_batch_processed_total", processed))
}

func TestRunJobDefersWhenLockHeld(t *testing.T) {
	registry := useTestRegistry(t)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := ratelimit.NewLocker(client)

	ctx := context.Background()
	_, ok, err := locker.TryLock(ctx, JobExpirePayments, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	exp := &fakeExpiration{}
	s := newTestScheduler(t, config.DefaultJobsConfig(), exp, &fakeReminders{})
	s.locker = locker

	require.NoError(t, s.runJob(ctx, JobExpirePayments, time.Second, s.expirePaymentsJob))
	assert.Equal(t, 0, exp.calls)

	labels := map[string]string{
		"service": "gymledger",
		"env":     "test",
		"job":     JobExpirePayments,
		"reason":  obsmetrics.SchedulerBatchDeferredReasonLockHeld,
	}
	assert.Equal(t, float64(1), getCounterValue(t, registry, "gymledger_scheduler_batch_deferred_total", labels))
}

func TestRunJobReleasesLockAfterRun(t *testing.T) {
	useTestRegistry(t)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	exp := &fakeExpiration{count: 1}
	s := newTestScheduler(t, config.DefaultJobsConfig(), exp, &fakeReminders{})
	s.locker = ratelimit.NewLocker(client)

	ctx := context.Background()
	require.NoError(t, s.runJob(ctx, JobExpirePayments, time.Second, s.expirePaymentsJob))
	require.NoError(t, s.runJob(ctx, JobExpirePayments, time.Second, s.expirePaymentsJob))
	assert.Equal(t, 2, exp.calls)
	assert.Empty(t, mr.Keys())
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfigLockTTLCoversJobTimeout(t *testing.T) {
	cfg := Config{JobTimeout: 30 * time.Minute}.withDefaults()
	assert.Equal(t, 30*time.Minute, cfg.LockTTL)
	assert.Equal(t, 24*time.Hour, cfg.RunInterval)
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSchedulerMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	value, found := findCounterValue(t, registry, name, labels)
	if !found {
		t.Fatalf("metric %s with labels %v not found", name, labels)
	}
	return value
}

func findCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) (float64, bool) {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue(), true
		}
	}
	return 0, false
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
