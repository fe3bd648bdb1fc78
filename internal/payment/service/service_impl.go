package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/gymledger/internal/audit/domain"
	"github.com/smallbiznis/gymledger/internal/clock"
	memberdomain "github.com/smallbiznis/gymledger/internal/member/domain"
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
	GenID      *snowflake.Node
	Clock      clock.Clock
	Location   *time.Location
	Repo       paymentdomain.Repository
	Members    memberdomain.Directory
	AuditSvc   auditdomain.Service `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	loc        *time.Location
	repo       paymentdomain.Repository
	members    memberdomain.Directory
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) paymentdomain.Service {
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		loc:        loc,
		repo:       p.Repo,
		members:    p.Members,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) today() time.Time {
	return clock.Today(s.clock, s.loc)
}

func (s *Service) RegisterPayment(ctx context.Context, req paymentdomain.RegisterPaymentRequest) (*paymentdomain.Payment, error) {
	if req.MemberID == 0 {
		return nil, &paymentdomain.ValidationError{Field: "member_id", Reason: "is required"}
	}
	amount := req.Amount
	if !amount.Equal(amount.Truncate(2)) {
		return nil, &paymentdomain.ValidationError{Field: "amount", Reason: "must have at most 2 decimal places"}
	}
	if !amount.IsPositive() {
		return nil, &paymentdomain.ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	method, err := paymentdomain.ParseMethod(req.Method)
	if err != nil {
		return nil, err
	}
	durationDays, err := paymentdomain.ResolveDuration(req.DurationDays, req.Months)
	if err != nil {
		return nil, err
	}

	today := s.today()
	paymentDate := today
	if req.PaymentDate != nil {
		paymentDate = clock.Date(*req.PaymentDate, nil)
	}
	if paymentDate.After(today) {
		return nil, &paymentdomain.ValidationError{Field: "payment_date", Reason: "cannot be in the future"}
	}

	if err := s.ensureActiveMember(ctx, req.MemberID); err != nil {
		return nil, err
	}

	expiration := paymentdomain.ComputeExpiration(paymentDate, durationDays)
	now := s.clock.Now().UTC()
	payment := paymentdomain.Payment{
		ID:             s.genID.Generate(),
		MemberID:       req.MemberID,
		Amount:         amount,
		Method:         method,
		PaymentDate:    paymentDate,
		ExpirationDate: expiration,
		DurationDays:   durationDays,
		// Evaluated at the payment date, so registration always yields UP_TO_DATE.
		State:     paymentdomain.DeriveState(expiration, false, paymentDate),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Insert(ctx, s.db, &payment); err != nil {
		return nil, err
	}

	s.audit(ctx, req.ActorID, auditdomain.ActionCreatePayment, payment.ID, map[string]any{
		"member_id":       payment.MemberID.String(),
		"amount":          payment.Amount.StringFixed(2),
		"method":          string(payment.Method),
		"payment_date":    payment.PaymentDate.Format(time.DateOnly),
		"expiration_date": payment.ExpirationDate.Format(time.DateOnly),
		"duration_days":   payment.DurationDays,
	})
	s.obsMetrics.RecordPaymentRegistered(ctx, string(payment.Method))

	s.log.Info("payment registered",
		zap.String("payment_id", payment.ID.String()),
		zap.String("member_id", payment.MemberID.String()),
		zap.String("expiration_date", payment.ExpirationDate.Format(time.DateOnly)),
	)
	return &payment, nil
}

func (s *Service) ensureActiveMember(ctx context.Context, memberID snowflake.ID) error {
	active, err := s.members.IsActive(ctx, memberID)
	if err != nil {
		if errors.Is(err, memberdomain.ErrNotFound) {
			return &paymentdomain.ValidationError{Field: "member_id", Reason: "unknown member"}
		}
		return err
	}
	if !active {
		return &paymentdomain.ValidationError{Field: "member_id", Reason: "member is inactive"}
	}
	return nil
}

func (s *Service) VoidPayment(ctx context.Context, req paymentdomain.VoidPaymentRequest) (*paymentdomain.Payment, error) {
	if req.PaymentID == 0 {
		return nil, &paymentdomain.ValidationError{Field: "payment_id", Reason: "is required"}
	}

	current, err := s.repo.FindByID(ctx, s.db, req.PaymentID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, &paymentdomain.NotFoundError{Resource: "payment", ID: req.PaymentID.String()}
	}
	if current.Voided {
		return current, nil
	}

	var reason *string
	if trimmed := strings.TrimSpace(req.Reason); trimmed != "" {
		reason = &trimmed
	}
	now := s.clock.Now().UTC()
	updated, err := s.repo.MarkVoided(ctx, s.db, current.ID, reason, req.ActorID, now)
	if err != nil {
		return nil, err
	}

	stored, err := s.repo.FindByID(ctx, s.db, current.ID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, &paymentdomain.NotFoundError{Resource: "payment", ID: req.PaymentID.String()}
	}
	if !updated {
		// A concurrent caller voided it first.
		return stored, nil
	}

	metadata := map[string]any{
		"previous_state": string(current.State),
	}
	if reason != nil {
		metadata["reason"] = *reason
	}
	s.audit(ctx, req.ActorID, auditdomain.ActionVoidPayment, current.ID, metadata)
	s.obsMetrics.RecordPaymentVoided(ctx)

	s.log.Info("payment voided",
		zap.String("payment_id", current.ID.String()),
		zap.String("previous_state", string(current.State)),
	)
	return stored, nil
}

func (s *Service) GetPayment(ctx context.Context, id snowflake.ID) (*paymentdomain.Payment, error) {
	item, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, &paymentdomain.NotFoundError{Resource: "payment", ID: id.String()}
	}
	item.State = paymentdomain.EffectiveState(*item, s.today())
	return item, nil
}

func (s *Service) ListPayments(ctx context.Context, req paymentdomain.ListPaymentsRequest) ([]paymentdomain.Payment, error) {
	filter := paymentdomain.ListFilter{
		MemberID: req.MemberID,
		State:    paymentdomain.ParseStateFilter(req.State),
		Today:    s.today(),
		Limit:    req.Limit,
	}
	if req.From != nil {
		from := clock.Date(*req.From, nil)
		filter.From = &from
	}
	if req.To != nil {
		to := clock.Date(*req.To, nil)
		filter.To = &to
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return nil, &paymentdomain.ValidationError{Field: "from", Reason: "must not be after to"}
	}

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].State = paymentdomain.EffectiveState(items[i], filter.Today)
	}
	return items, nil
}

// FindExpiringWithin lists live records expiring strictly after today and
// strictly before today+days. days must be at least 1.
func (s *Service) FindExpiringWithin(ctx context.Context, days int) ([]paymentdomain.Payment, error) {
	if days < 1 {
		return nil, &paymentdomain.ValidationError{Field: "days", Reason: "must be at least 1"}
	}
	today := s.today()
	return s.repo.FindExpiringBetween(ctx, s.db, today, today.AddDate(0, 0, days))
}

// FindOverdue lists one record per member whose latest live record has lapsed.
func (s *Service) FindOverdue(ctx context.Context) ([]paymentdomain.Payment, error) {
	today := s.today()
	items, err := s.repo.FindLapsedLatest(ctx, s.db, today)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].State = paymentdomain.EffectiveState(items[i], today)
	}
	return items, nil
}

// CashflowBetween sums live amounts with payment date in [from, to].
func (s *Service) CashflowBetween(ctx context.Context, from, to time.Time) (decimal.Decimal, error) {
	fromDate := clock.Date(from, nil)
	toDate := clock.Date(to, nil)
	if fromDate.After(toDate) {
		return decimal.Zero, &paymentdomain.ValidationError{Field: "from", Reason: "must not be after to"}
	}

	amounts, err := s.repo.ListAmountsPaidBetween(ctx, s.db, fromDate, toDate)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, amount := range amounts {
		total = total.Add(amount)
	}
	return total, nil
}

// CurrentMemberState reports the validity of a member's latest live record.
// A member without one counts as EXPIRED.
func (s *Service) CurrentMemberState(ctx context.Context, memberID snowflake.ID) (paymentdomain.State, error) {
	latest, err := s.repo.FindLatestForMember(ctx, s.db, memberID)
	if err != nil {
		return "", err
	}
	if latest == nil {
		return paymentdomain.StateExpired, nil
	}
	return paymentdomain.EffectiveState(*latest, s.today()), nil
}

func (s *Service) CountExpired(ctx context.Context) (int64, error) {
	return s.repo.CountByState(ctx, s.db, paymentdomain.StateExpired)
}

func (s *Service) audit(ctx context.Context, actorID *snowflake.ID, action string, paymentID snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	// Audit is a passive sink; its failure never fails the operation.
	if err := s.auditSvc.AuditLog(ctx, actorID, action, auditdomain.TargetPayment, paymentID.String(), metadata); err != nil {
		s.log.Warn("audit write failed",
			zap.String("action", action),
			zap.String("payment_id", paymentID.String()),
			zap.Error(err),
		)
	}
}
