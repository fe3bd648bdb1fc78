package service

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/gymledger/internal/clock"
	"github.com/smallbiznis/gymledger/internal/config"
	memberdomain "github.com/smallbiznis/gymledger/internal/member/domain"
	notificationdomain "github.com/smallbiznis/gymledger/internal/notification/domain"
	paymentdomain "github.com/smallbiznis/gymledger/internal/payment/domain"
	"github.com/smallbiznis/gymledger/internal/providers/pdf"
	reportdomain "github.com/smallbiznis/gymledger/internal/report/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrReceiptUnavailable is returned when no PDF provider is wired.
var ErrReceiptUnavailable = errors.New("receipt_unavailable")

// expiringSoonDays bounds the "expiring soon" window.
const expiringSoonDays = 7

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Cfg        config.Config
	Clock      clock.Clock
	Location   *time.Location
	Payments   paymentdomain.Service
	Members    memberdomain.Repository
	Ledger     notificationdomain.Ledger
	PDF        pdf.Provider             `optional:"true"`
	JobsConfig *config.JobsConfigHolder `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	gymName    string
	clock      clock.Clock
	loc        *time.Location
	payments   paymentdomain.Service
	members    memberdomain.Repository
	ledger     notificationdomain.Ledger
	pdf        pdf.Provider
	jobsConfig *config.JobsConfigHolder
}

func NewService(p Params) reportdomain.Service {
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	jobs := p.JobsConfig
	if jobs == nil {
		jobs = config.NewStaticJobsConfigHolder(config.DefaultJobsConfig())
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("report.service"),
		gymName:    p.Cfg.AppName,
		clock:      p.Clock,
		loc:        loc,
		payments:   p.Payments,
		members:    p.Members,
		ledger:     p.Ledger,
		pdf:        p.PDF,
		jobsConfig: jobs,
	}
}

func (s *Service) ExpiringSoon(ctx context.Context) ([]reportdomain.MemberPaymentRow, error) {
	items, err := s.payments.FindExpiringWithin(ctx, expiringSoonDays)
	if err != nil {
		return nil, err
	}
	return s.enrich(ctx, items)
}

func (s *Service) Overdue(ctx context.Context) ([]reportdomain.MemberPaymentRow, error) {
	items, err := s.payments.FindOverdue(ctx)
	if err != nil {
		return nil, err
	}
	return s.enrich(ctx, items)
}

func (s *Service) Cashflow(ctx context.Context, from, to time.Time) (decimal.Decimal, error) {
	return s.payments.CashflowBetween(ctx, from, to)
}

// Dashboard summarizes the current state. The cash-flow figure covers the
// current calendar month up to today.
func (s *Service) Dashboard(ctx context.Context) (reportdomain.DashboardStats, error) {
	var stats reportdomain.DashboardStats

	active, err := s.members.CountActive(ctx, s.db)
	if err != nil {
		return stats, err
	}
	expired, err := s.payments.CountExpired(ctx)
	if err != nil {
		return stats, err
	}
	expiring, err := s.payments.FindExpiringWithin(ctx, expiringSoonDays)
	if err != nil {
		return stats, err
	}
	overdue, err := s.payments.FindOverdue(ctx)
	if err != nil {
		return stats, err
	}

	today := clock.Today(s.clock, s.loc)
	monthStart := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
	cashflow, err := s.payments.CashflowBetween(ctx, monthStart, today)
	if err != nil {
		return stats, err
	}

	stats.ActiveMembers = active
	stats.ExpiredPayments = expired
	stats.ExpiringSoon = len(expiring)
	stats.Overdue = len(overdue)
	stats.MonthCashflow = cashflow
	return stats, nil
}

func (s *Service) PaymentReceipt(ctx context.Context, paymentID snowflake.ID) (io.Reader, error) {
	if s.pdf == nil {
		return nil, ErrReceiptUnavailable
	}
	payment, err := s.payments.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	member, err := s.members.FindByID(ctx, s.db, payment.MemberID)
	if err != nil {
		return nil, err
	}

	layout := s.jobsConfig.Get().Reminder.DateLayout
	data := pdf.ReceiptData{
		GymName:        s.gymName,
		ReceiptNumber:  payment.ID.String(),
		Method:         string(payment.Method),
		PaymentDate:    payment.PaymentDate.Format(layout),
		ExpirationDate: payment.ExpirationDate.Format(layout),
		DurationDays:   payment.DurationDays,
		Amount:         payment.Amount.StringFixed(2),
		Voided:         payment.Voided,
	}
	if member != nil {
		data.MemberName = member.DisplayName()
		data.MemberEmail = member.ContactAddress()
	}
	if payment.VoidReason != nil {
		data.VoidReason = *payment.VoidReason
	}
	return s.pdf.GenerateReceipt(ctx, data)
}

func (s *Service) enrich(ctx context.Context, items []paymentdomain.Payment) ([]reportdomain.MemberPaymentRow, error) {
	if len(items) == 0 {
		return []reportdomain.MemberPaymentRow{}, nil
	}

	memberIDs := make([]snowflake.ID, 0, len(items))
	paymentIDs := make([]snowflake.ID, 0, len(items))
	seen := make(map[snowflake.ID]struct{}, len(items))
	for _, item := range items {
		paymentIDs = append(paymentIDs, item.ID)
		if _, ok := seen[item.MemberID]; ok {
			continue
		}
		seen[item.MemberID] = struct{}{}
		memberIDs = append(memberIDs, item.MemberID)
	}

	members, err := s.members.FindByIDs(ctx, s.db, memberIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[snowflake.ID]memberdomain.Member, len(members))
	for _, m := range members {
		byID[m.ID] = m
	}

	sent, err := s.ledger.SentPaymentIDs(ctx, paymentIDs, notificationdomain.KindExpirationReminder)
	if err != nil {
		return nil, err
	}

	rows := make([]reportdomain.MemberPaymentRow, 0, len(items))
	for _, item := range items {
		row := reportdomain.MemberPaymentRow{
			MemberID:       item.MemberID,
			PaymentID:      item.ID,
			ExpirationDate: item.ExpirationDate,
			ReminderSent:   sent[item.ID],
		}
		if m, ok := byID[item.MemberID]; ok {
			row.FirstName = m.FirstName
			row.LastName = m.LastName
			row.Email = m.Email
			row.Active = m.Active
		} else {
			s.log.Warn("report row without member", zap.String("member_id", item.MemberID.String()))
		}
		rows = append(rows, row)
	}
	return rows, nil
}
