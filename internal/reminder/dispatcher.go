// Package reminder sends expiration reminders for payments that reach
// their lead time, at most once per payment.
package reminder

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gymledger/internal/clock"
	"github.com/smallbiznis/gymledger/internal/config"
	memberdomain "github.com/smallbiznis/gymledger/internal/member/domain"
	notificationdomain "github.com/smallbiznis/gymledger/internal/notification/domain"
	obsmetrics "github.com/smallbiznis/gymledger/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/gymledger/internal/payment/domain"
	"github.com/smallbiznis/gymledger/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Location   *time.Location
	Repo       paymentdomain.Repository
	Members    memberdomain.Directory
	Ledger     notificationdomain.Ledger
	Sender     notificationdomain.Sender
	JobsConfig *config.JobsConfigHolder `optional:"true"`
	ObsMetrics *obsmetrics.Metrics      `optional:"true"`
	Limiters   ratelimit.Limiters       `optional:"true"`
}

// Result counts the outcome of one dispatch run.
type Result struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

type Dispatcher struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	loc        *time.Location
	repo       paymentdomain.Repository
	members    memberdomain.Directory
	ledger     notificationdomain.Ledger
	sender     notificationdomain.Sender
	jobsConfig *config.JobsConfigHolder
	obsMetrics *obsmetrics.Metrics
	throttle   *ratelimit.AttemptLimiter
}

func NewDispatcher(p Params) *Dispatcher {
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	jobs := p.JobsConfig
	if jobs == nil {
		jobs = config.NewStaticJobsConfigHolder(config.DefaultJobsConfig())
	}
	return &Dispatcher{
		db:         p.DB,
		log:        p.Log.Named("reminder.dispatcher"),
		genID:      p.GenID,
		clock:      p.Clock,
		loc:        loc,
		repo:       p.Repo,
		members:    p.Members,
		ledger:     p.Ledger,
		sender:     p.Sender,
		jobsConfig: jobs,
		obsMetrics: p.ObsMetrics,
		throttle:   p.Limiters.Recipient,
	}
}

// RunReminderDispatch sends one EXPIRATION_REMINDER per live payment that
// expires daysBefore days from today. With catch-up enabled every payment
// expiring between today and that target qualifies. Each send needs a clean
// ledger and a won claim, so repeated or overlapping runs never notify the
// same payment twice.
//
// A send failure only affects its own record. The returned error joins
// store failures met along the way; the counts are valid either way.
func (d *Dispatcher) RunReminderDispatch(ctx context.Context) (Result, error) {
	cfg := d.jobsConfig.Get().Reminder
	daysBefore := cfg.DaysBefore
	if daysBefore < 0 {
		daysBefore = config.DefaultJobsConfig().Reminder.DaysBefore
	}
	layout := cfg.DateLayout
	if layout == "" {
		layout = config.DefaultJobsConfig().Reminder.DateLayout
	}

	today := clock.Today(d.clock, d.loc)
	target := today.AddDate(0, 0, daysBefore)
	from := target
	if cfg.CatchUp {
		from = today
	}

	var result Result
	payments, err := d.repo.FindByExpirationRange(ctx, d.db, from, target)
	if err != nil {
		d.log.Error("reminder candidate query failed",
			zap.String("target", target.Format(time.DateOnly)),
			zap.Error(err),
		)
		return result, &paymentdomain.TransientStoreError{Op: "find_reminder_candidates", Err: err}
	}

	var errs []error
	for _, payment := range payments {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		outcome, err := d.dispatchOne(ctx, payment, today, layout)
		switch outcome {
		case OutcomeSent:
			result.Sent++
		case OutcomeFailed:
			result.Failed++
		default:
			result.Skipped++
		}
		if err != nil {
			errs = append(errs, err)
		}
	}

	d.obsMetrics.RecordReminder(ctx, string(notificationdomain.KindExpirationReminder), OutcomeSent, result.Sent)
	d.obsMetrics.RecordReminder(ctx, string(notificationdomain.KindExpirationReminder), OutcomeFailed, result.Failed)
	d.obsMetrics.RecordReminder(ctx, string(notificationdomain.KindExpirationReminder), OutcomeSkipped, result.Skipped)

	d.log.Info("reminder dispatch finished",
		zap.String("from", from.Format(time.DateOnly)),
		zap.String("target", target.Format(time.DateOnly)),
		zap.Int("candidates", len(payments)),
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
	)
	return result, errors.Join(errs...)
}

// dispatchOne handles a single candidate. The returned error is non-nil
// only for store failures; delivery failures are reported as OutcomeFailed.
func (d *Dispatcher) dispatchOne(ctx context.Context, payment paymentdomain.Payment, today time.Time, layout string) (string, error) {
	log := d.log.With(
		zap.String("payment_id", payment.ID.String()),
		zap.String("member_id", payment.MemberID.String()),
	)

	active, err := d.members.IsActive(ctx, payment.MemberID)
	if err != nil {
		if errors.Is(err, memberdomain.ErrNotFound) {
			log.Warn("reminder skipped, member not found")
			return OutcomeSkipped, nil
		}
		return OutcomeSkipped, &paymentdomain.TransientStoreError{Op: "lookup_member", Err: err}
	}
	if !active {
		log.Debug("reminder skipped, member inactive")
		return OutcomeSkipped, nil
	}
	recipient, err := d.members.ContactAddress(ctx, payment.MemberID)
	if err != nil {
		return OutcomeSkipped, &paymentdomain.TransientStoreError{Op: "lookup_member", Err: err}
	}
	if recipient == "" {
		log.Debug("reminder skipped, no contact address")
		return OutcomeSkipped, nil
	}
	if d.throttle != nil {
		res, err := d.throttle.Allow(ctx, ratelimit.RecipientKey(recipient))
		switch {
		case err != nil:
			log.Warn("recipient throttle unavailable, sending anyway", zap.Error(err))
		case !res.Allowed:
			log.Info("reminder skipped, recipient paused after repeated failures",
				zap.Duration("retry_after", res.RetryAfter),
			)
			return OutcomeSkipped, nil
		}
	}

	sent, err := d.ledger.HasSent(ctx, payment.ID, notificationdomain.KindExpirationReminder)
	if err != nil {
		// Without the ledger answer a send could duplicate; try next run.
		return OutcomeSkipped, &paymentdomain.TransientStoreError{Op: "check_notification_ledger", Err: err}
	}
	if sent {
		log.Debug("reminder skipped, already sent")
		return OutcomeSkipped, nil
	}

	name, err := d.members.DisplayName(ctx, payment.MemberID)
	if err != nil {
		return OutcomeSkipped, &paymentdomain.TransientStoreError{Op: "lookup_member", Err: err}
	}

	// An overlapping run may have passed the ledger check too. Only the
	// claim holder sends.
	claimed, err := d.ledger.Claim(ctx, payment.ID, notificationdomain.KindExpirationReminder, d.clock.Now())
	if err != nil {
		return OutcomeSkipped, &paymentdomain.TransientStoreError{Op: "claim_notification", Err: err}
	}
	if !claimed {
		log.Debug("reminder skipped, claimed by another run")
		return OutcomeSkipped, nil
	}

	leadDays := int(payment.ExpirationDate.Sub(today).Hours() / 24)
	msg := notificationdomain.Message{
		Kind:           notificationdomain.KindExpirationReminder,
		PaymentID:      payment.ID,
		Recipient:      recipient,
		DisplayName:    name,
		ExpirationDate: payment.ExpirationDate.Format(layout),
		LeadDays:       leadDays,
	}

	entry := notificationdomain.LedgerEntry{
		ID:        d.genID.Generate(),
		PaymentID: payment.ID,
		Kind:      notificationdomain.KindExpirationReminder,
		Recipient: recipient,
		SentAt:    d.clock.Now().UTC(),
		Outcome:   notificationdomain.OutcomeSent,
		LeadDays:  leadDays,
	}
	outcome := OutcomeSent
	if sendErr := d.sender.Send(ctx, msg); sendErr != nil {
		failure := &notificationdomain.NotificationSendError{PaymentID: payment.ID, Err: sendErr}
		reason := failure.Error()
		entry.Outcome = notificationdomain.OutcomeFailed
		entry.FailureReason = &reason
		outcome = OutcomeFailed
		log.Warn("reminder send failed", zap.Error(sendErr))
	}
	d.trackDelivery(ctx, log, recipient, outcome == OutcomeSent)

	var errs []error
	if err := d.ledger.Append(ctx, &entry); err != nil {
		if outcome == OutcomeSent {
			// The claim stays, so the next run will not resend.
			log.Error("reminder sent but not recorded", zap.Error(err))
		}
		errs = append(errs, &paymentdomain.TransientStoreError{Op: "append_notification_ledger", Err: err})
	}
	if outcome == OutcomeFailed {
		if err := d.ledger.Release(ctx, payment.ID, notificationdomain.KindExpirationReminder); err != nil {
			log.Error("reminder claim not released, retry blocked", zap.Error(err))
			errs = append(errs, &paymentdomain.TransientStoreError{Op: "release_notification_claim", Err: err})
		}
	}
	if len(errs) > 0 {
		return outcome, errors.Join(errs...)
	}

	if outcome == OutcomeSent {
		log.Info("reminder sent", zap.Int("lead_days", leadDays))
	}
	return outcome, nil
}

// trackDelivery feeds the per-recipient failure counter. Counter errors are
// logged and never change the outcome.
func (d *Dispatcher) trackDelivery(ctx context.Context, log *zap.Logger, recipient string, delivered bool) {
	if d.throttle == nil || ctx.Err() != nil {
		return
	}
	key := ratelimit.RecipientKey(recipient)
	var err error
	if delivered {
		err = d.throttle.RegisterSuccess(ctx, key)
	} else {
		err = d.throttle.RegisterFailure(ctx, key)
	}
	if err != nil {
		log.Warn("recipient throttle update failed", zap.Error(err))
	}
}
