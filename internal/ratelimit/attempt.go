package ratelimit

import (
	"context"
	"strings"
	"time"

	"github.com/smallbiznis/gymledger/internal/clock"
	obsmetrics "github.com/smallbiznis/gymledger/internal/observability/metrics"
)

// PolicyReminderRecipient pauses reminders to an address that keeps failing.
const PolicyReminderRecipient = "reminder_recipient"

// Policy blocks a key for Block once it accumulates MaxAttempts failures.
// Failures older than Block are forgotten.
type Policy struct {
	Name        string
	MaxAttempts int
	Block       time.Duration
}

// Attempt is the stored state of one key.
type Attempt struct {
	Failures     int
	BlockedUntil time.Time
}

type AttemptStore interface {
	// Get returns the zero Attempt when the key is unknown or has expired.
	Get(ctx context.Context, key string, now time.Time) (Attempt, error)
	RegisterFailure(ctx context.Context, key string, policy Policy, now time.Time) (Attempt, error)
	Reset(ctx context.Context, key string) error
}

type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type AttemptLimiter struct {
	store      AttemptStore
	clock      clock.Clock
	policy     Policy
	obsMetrics *obsmetrics.Metrics
}

func NewAttemptLimiter(store AttemptStore, c clock.Clock, policy Policy, m *obsmetrics.Metrics) *AttemptLimiter {
	if c == nil {
		c = clock.SystemClock{}
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 5
	}
	if policy.Block <= 0 {
		policy.Block = 10 * time.Minute
	}
	return &AttemptLimiter{store: store, clock: c, policy: policy, obsMetrics: m}
}

func (l *AttemptLimiter) Policy() Policy {
	return l.policy
}

// Allow reports whether key may attempt the operation now.
func (l *AttemptLimiter) Allow(ctx context.Context, key string) (*RateLimitResult, error) {
	now := l.clock.Now()
	attempt, err := l.store.Get(ctx, l.scoped(key), now)
	if err != nil {
		return &RateLimitResult{Allowed: false, Limit: l.policy.MaxAttempts}, err
	}

	result := &RateLimitResult{
		Allowed:   true,
		Limit:     l.policy.MaxAttempts,
		Remaining: l.policy.MaxAttempts - attempt.Failures,
	}
	if result.Remaining < 0 {
		result.Remaining = 0
	}
	if attempt.BlockedUntil.After(now) {
		result.Allowed = false
		result.Remaining = 0
		result.RetryAfter = attempt.BlockedUntil.Sub(now)
		l.obsMetrics.RecordRateLimitDenied(ctx, l.policy.Name)
	}
	return result, nil
}

func (l *AttemptLimiter) RegisterFailure(ctx context.Context, key string) error {
	_, err := l.store.RegisterFailure(ctx, l.scoped(key), l.policy, l.clock.Now())
	return err
}

func (l *AttemptLimiter) RegisterSuccess(ctx context.Context, key string) error {
	return l.store.Reset(ctx, l.scoped(key))
}

func (l *AttemptLimiter) scoped(key string) string {
	return l.policy.Name + ":" + key
}

// RecipientKey identifies a delivery address independent of case.
func RecipientKey(email string) string {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return "(none)"
	}
	return normalized
}
