package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/gymledger/internal/audit/domain"
	auditrepo "github.com/smallbiznis/gymledger/internal/audit/repository"
	auditservice "github.com/smallbiznis/gymledger/internal/audit/service"
	"github.com/smallbiznis/gymledger/internal/clock"
	memberrepo "github.com/smallbiznis/gymledger/internal/member/repository"
	paymentdomain "github.com/smallbiznis/gymledger/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/gymledger/internal/payment/repository"
	paymentservice "github.com/smallbiznis/gymledger/internal/payment/service"
	schedtesting "github.com/smallbiznis/gymledger/internal/scheduler/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db    *gorm.DB
	node  *snowflake.Node
	clock *clock.FakeClock
	svc   paymentdomain.Service
	audit auditdomain.Service
}

func newFixture(t *testing.T, today time.Time) *fixture {
	t.Helper()

	db := schedtesting.OpenDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(today.Add(10 * time.Hour))

	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
		Repo:  auditrepo.Provide(),
	})
	svc := paymentservice.NewService(paymentservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    fake,
		Location: time.UTC,
		Repo:     paymentrepo.Provide(),
		Members:  memberrepo.NewDirectory(db, memberrepo.Provide()),
		AuditSvc: auditSvc,
	})
	return &fixture{db: db, node: node, clock: fake, svc: svc, audit: auditSvc}
}

func (f *fixture) register(t *testing.T, memberID snowflake.ID, paymentDate time.Time, days int, amount string) *paymentdomain.Payment {
	t.Helper()
	p, err := f.svc.RegisterPayment(context.Background(), paymentdomain.RegisterPaymentRequest{
		MemberID:     memberID,
		Amount:       decimal.RequireFromString(amount),
		Method:       "cash",
		PaymentDate:  &paymentDate,
		DurationDays: &days,
	})
	require.NoError(t, err)
	return p
}

func intPtr(v int) *int { return &v }

func TestRegisterPaymentComputesExpiration(t *testing.T) {
	f := newFixture(t, schedtesting.Day(2024, time.January, 1))
	memberID := schedtesting.SeedMember(t, f.db, f.node, "ana@example.com", true)

	p := f.register(t, memberID, schedtesting.Day(2024, time.January, 1), 30, "45.00")

	assert.Equal(t, schedtesting.Day(2024, time.January, 31), p.ExpirationDate)
	assert.Equal(t, paymentdomain.StateUpToDate, p.State)
	assert.False(t, p.Voided)

	stored := schedtesting.LoadPayment(t, f.db, p.ID)
	assert.True(t, stored.ExpirationDate.Equal(schedtesting.Day(2024, time.January, 31)))
	assert.True(t, stored.Amount.Equal(decimal.RequireFromString("45")))
	assert.Equal(t, 30, stored.DurationDays)

	logs, err := f.audit.List(context.Background(), auditdomain.ListFilter{Action: auditdomain.ActionCreatePayment})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, p.ID.String(), logs[0].TargetID)
}

func TestRegisterPaymentDefaultsAndMonths(t *testing.T) {
	today := schedtesting.Day(2024, time.March, 10)
	f := newFixture(t, today)
	memberID := schedtesting.SeedMember(t, f.db, f.node, "bo@example.com", true)
	ctx := context.Background()

	p, err := f.svc.RegisterPayment(ctx, paymentdomain.RegisterPaymentRequest{
		MemberID: memberID,
		Amount:   decimal.NewFromInt(30),
		Method:   "debit",
	})
	require.NoError(t, err)
	assert.Equal(t, today, p.PaymentDate)
	assert.Equal(t, paymentdomain.DefaultDurationDays, p.DurationDays)
	assert.Equal(t, schedtesting.Day(2024, time.April, 9), p.ExpirationDate)

	p, err = f.svc.RegisterPayment(ctx, paymentdomain.RegisterPaymentRequest{
		MemberID: memberID,
		Amount:   decimal.NewFromInt(80),
		Method:   "transfer",
		Months:   intPtr(2),
	})
	require.NoError(t, err)
	assert.Equal(t, 60, p.DurationDays)
}

func TestRegisterPaymentRejectsInvalidInput(t *testing.T) {
	today := schedtesting.Day(2024, time.January, 15)
	f := newFixture(t, today)
	active := schedtesting.SeedMember(t, f.db, f.node, "ana@example.com", true)
	inactive := schedtesting.SeedMember(t, f.db, f.node, "old@example.com", false)
	future := today.AddDate(0, 0, 1)

	cases := []struct {
		name string
		req  paymentdomain.RegisterPaymentRequest
	}{
		{name: "zero amount", req: paymentdomain.RegisterPaymentRequest{MemberID: active, Amount: decimal.Zero, Method: "cash"}},
		{name: "negative amount", req: paymentdomain.RegisterPaymentRequest{MemberID: active, Amount: decimal.NewFromInt(-5), Method: "cash"}},
		{name: "sub-cent amount", req: paymentdomain.RegisterPaymentRequest{MemberID: active, Amount: decimal.RequireFromString("0.001"), Method: "cash"}},
		{name: "three decimals", req: paymentdomain.RegisterPaymentRequest{MemberID: active, Amount: decimal.RequireFromString("10.005"), Method: "cash"}},
		{name: "zero duration", req: paymentdomain.RegisterPaymentRequest{MemberID: active, Amount: decimal.NewFromInt(5), Method: "cash", DurationDays: intPtr(0)}},
		{name: "days and months", req: paymentdomain.RegisterPaymentRequest{MemberID: active, Amount: decimal.NewFromInt(5), Method: "cash", DurationDays: intPtr(10), Months: intPtr(1)}},
		{name: "bad method", req: paymentdomain.RegisterPaymentRequest{MemberID: active, Amount: decimal.NewFromInt(5), Method: "cheque"}},
		{name: "future date", req: paymentdomain.RegisterPaymentRequest{MemberID: active, Amount: decimal.NewFromInt(5), Method: "cash", PaymentDate: &future}},
		{name: "missing member", req: paymentdomain.RegisterPaymentRequest{Amount: decimal.NewFromInt(5), Method: "cash"}},
		{name: "unknown member", req: paymentdomain.RegisterPaymentRequest{MemberID: f.node.Generate(), Amount: decimal.NewFromInt(5), Method: "cash"}},
		{name: "inactive member", req: paymentdomain.RegisterPaymentRequest{MemberID: inactive, Amount: decimal.NewFromInt(5), Method: "cash"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.RegisterPayment(context.Background(), tc.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, paymentdomain.ErrValidation)
		})
	}

	var count int64
	require.NoError(t, f.db.Model(&paymentdomain.Payment{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestVoidPaymentIsIdempotent(t *testing.T) {
	f := newFixture(t, schedtesting.Day(2024, time.January, 10))
	memberID := schedtesting.SeedMember(t, f.db, f.node, "ana@example.com", true)
	p := f.register(t, memberID, schedtesting.Day(2024, time.January, 10), 30, "50")
	actor := f.node.Generate()
	ctx := context.Background()

	first, err := f.svc.VoidPayment(ctx, paymentdomain.VoidPaymentRequest{PaymentID: p.ID, Reason: " duplicate ", ActorID: &actor})
	require.NoError(t, err)
	assert.True(t, first.Voided)
	assert.Equal(t, paymentdomain.StateVoided, first.State)
	require.NotNil(t, first.VoidReason)
	assert.Equal(t, "duplicate", *first.VoidReason)
	require.NotNil(t, first.VoidedBy)
	assert.Equal(t, actor, *first.VoidedBy)
	assert.NotNil(t, first.VoidedAt)

	second, err := f.svc.VoidPayment(ctx, paymentdomain.VoidPaymentRequest{PaymentID: p.ID, Reason: "again"})
	require.NoError(t, err)
	assert.True(t, second.Voided)
	assert.Equal(t, "duplicate", *second.VoidReason)

	logs, err := f.audit.List(ctx, auditdomain.ListFilter{Action: auditdomain.ActionVoidPayment})
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestVoidPaymentUnknownID(t *testing.T) {
	f := newFixture(t, schedtesting.Day(2024, time.January, 10))
	_, err := f.svc.VoidPayment(context.Background(), paymentdomain.VoidPaymentRequest{PaymentID: f.node.Generate()})
	assert.ErrorIs(t, err, paymentdomain.ErrNotFound)
}

func TestGetPaymentReportsEffectiveState(t *testing.T) {
	f := newFixture(t, schedtesting.Day(2024, time.January, 1))
	memberID := schedtesting.SeedMember(t, f.db, f.node, "ana@example.com", true)
	p := f.register(t, memberID, schedtesting.Day(2024, time.January, 1), 30, "50")
	ctx := context.Background()

	f.clock.Set(schedtesting.Day(2024, time.January, 31))
	got, err := f.svc.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StateUpToDate, got.State)

	f.clock.Set(schedtesting.Day(2024, time.February, 1))
	got, err = f.svc.GetPayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StateExpired, got.State)

	// The stored marker is untouched until reconciliation runs.
	assert.Equal(t, paymentdomain.StateUpToDate, schedtesting.LoadPayment(t, f.db, p.ID).State)

	_, err = f.svc.GetPayment(ctx, f.node.Generate())
	assert.ErrorIs(t, err, paymentdomain.ErrNotFound)
}

func TestCashflowBetweenExcludesVoided(t *testing.T) {
	f := newFixture(t, schedtesting.Day(2024, time.February, 29))
	memberID := schedtesting.SeedMember(t, f.db, f.node, "ana@example.com", true)
	ctx := context.Background()

	f.register(t, memberID, schedtesting.Day(2024, time.February, 1), 30, "10.10")
	f.register(t, memberID, schedtesting.Day(2024, time.February, 15), 30, "20.25")
	f.register(t, memberID, schedtesting.Day(2024, time.February, 29), 30, "5.00")
	voided := f.register(t, memberID, schedtesting.Day(2024, time.February, 10), 30, "99.99")
	f.register(t, memberID, schedtesting.Day(2024, time.January, 31), 30, "7.00")
	_, err := f.svc.VoidPayment(ctx, paymentdomain.VoidPaymentRequest{PaymentID: voided.ID})
	require.NoError(t, err)

	total, err := f.svc.CashflowBetween(ctx, schedtesting.Day(2024, time.February, 1), schedtesting.Day(2024, time.February, 29))
	require.NoError(t, err)
	assert.True(t, total.Equal(decimal.RequireFromString("35.35")), total.String())

	empty, err := f.svc.CashflowBetween(ctx, schedtesting.Day(2023, time.June, 1), schedtesting.Day(2023, time.June, 30))
	require.NoError(t, err)
	assert.True(t, empty.IsZero())

	_, err = f.svc.CashflowBetween(ctx, schedtesting.Day(2024, time.March, 1), schedtesting.Day(2024, time.February, 1))
	assert.ErrorIs(t, err, paymentdomain.ErrValidation)
}

func TestFindOverdueEvaluatesLatestRecordPerMember(t *testing.T) {
	today := schedtesting.Day(2024, time.February, 1)
	f := newFixture(t, today)
	ctx := context.Background()

	// Voided past record plus a live future one: not overdue.
	renewed := schedtesting.SeedMember(t, f.db, f.node, "renewed@example.com", true)
	schedtesting.SeedPayment(t, f.db, f.node, renewed, schedtesting.Day(2023, time.December, 2), 30, paymentdomain.StateVoided, true)
	schedtesting.SeedPayment(t, f.db, f.node, renewed, schedtesting.Day(2024, time.January, 31), 30, paymentdomain.StateUpToDate, false)

	// Two lapsed records: listed once, with the latest.
	lapsed := schedtesting.SeedMember(t, f.db, f.node, "lapsed@example.com", true)
	schedtesting.SeedPayment(t, f.db, f.node, lapsed, schedtesting.Day(2023, time.November, 1), 30, paymentdomain.StateExpired, false)
	latest := schedtesting.SeedPayment(t, f.db, f.node, lapsed, schedtesting.Day(2023, time.December, 15), 30, paymentdomain.StateUpToDate, false)

	// Inactive members are never reported.
	gone := schedtesting.SeedMember(t, f.db, f.node, "gone@example.com", false)
	schedtesting.SeedPayment(t, f.db, f.node, gone, schedtesting.Day(2023, time.November, 20), 30, paymentdomain.StateUpToDate, false)

	// Expires today: still valid.
	edge := schedtesting.SeedMember(t, f.db, f.node, "edge@example.com", true)
	schedtesting.SeedPayment(t, f.db, f.node, edge, schedtesting.Day(2024, time.January, 2), 30, paymentdomain.StateUpToDate, false)

	overdue, err := f.svc.FindOverdue(ctx)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, lapsed, overdue[0].MemberID)
	assert.Equal(t, latest.ID, overdue[0].ID)
	assert.Equal(t, paymentdomain.StateExpired, overdue[0].State)
}

func TestFindExpiringWithinBoundsAreExclusive(t *testing.T) {
	today := schedtesting.Day(2024, time.May, 1)
	f := newFixture(t, today)
	memberID := schedtesting.SeedMember(t, f.db, f.node, "ana@example.com", true)

	// Expirations relative to today: 0, 1, 6, 7 days out, and one voided at 3.
	schedtesting.SeedPayment(t, f.db, f.node, memberID, today.AddDate(0, 0, -30), 30, paymentdomain.StateUpToDate, false)
	in1 := schedtesting.SeedPayment(t, f.db, f.node, memberID, today.AddDate(0, 0, -29), 30, paymentdomain.StateUpToDate, false)
	in6 := schedtesting.SeedPayment(t, f.db, f.node, memberID, today.AddDate(0, 0, -24), 30, paymentdomain.StateUpToDate, false)
	schedtesting.SeedPayment(t, f.db, f.node, memberID, today.AddDate(0, 0, -23), 30, paymentdomain.StateUpToDate, false)
	schedtesting.SeedPayment(t, f.db, f.node, memberID, today.AddDate(0, 0, -27), 30, paymentdomain.StateVoided, true)

	items, err := f.svc.FindExpiringWithin(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, in1.ID, items[0].ID)
	assert.Equal(t, in6.ID, items[1].ID)
}

func TestFindExpiringWithinRejectsEmptyWindow(t *testing.T) {
	f := newFixture(t, schedtesting.Day(2024, time.May, 1))
	memberID := schedtesting.SeedMember(t, f.db, f.node, "ana@example.com", true)
	schedtesting.SeedPayment(t, f.db, f.node, memberID, schedtesting.Day(2024, time.April, 5), 30, paymentdomain.StateUpToDate, false)

	for _, days := range []int{0, -3} {
		items, err := f.svc.FindExpiringWithin(context.Background(), days)
		assert.ErrorIs(t, err, paymentdomain.ErrValidation)
		assert.Nil(t, items)
	}
}

func TestListPaymentsStateFilter(t *testing.T) {
	today := schedtesting.Day(2024, time.February, 1)
	f := newFixture(t, today)
	memberID := schedtesting.SeedMember(t, f.db, f.node, "ana@example.com", true)
	ctx := context.Background()

	current := schedtesting.SeedPayment(t, f.db, f.node, memberID, schedtesting.Day(2024, time.January, 20), 30, paymentdomain.StateUpToDate, false)
	unreconciled := schedtesting.SeedPayment(t, f.db, f.node, memberID, schedtesting.Day(2023, time.December, 20), 30, paymentdomain.StateUpToDate, false)
	expired := schedtesting.SeedPayment(t, f.db, f.node, memberID, schedtesting.Day(2023, time.November, 1), 30, paymentdomain.StateExpired, false)
	voided := schedtesting.SeedPayment(t, f.db, f.node, memberID, schedtesting.Day(2023, time.October, 1), 30, paymentdomain.StateVoided, true)

	ids := func(items []paymentdomain.Payment) []snowflake.ID {
		out := make([]snowflake.ID, 0, len(items))
		for _, item := range items {
			out = append(out, item.ID)
		}
		return out
	}

	items, err := f.svc.ListPayments(ctx, paymentdomain.ListPaymentsRequest{State: "expired"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []snowflake.ID{unreconciled.ID, expired.ID}, ids(items))
	for _, item := range items {
		assert.Equal(t, paymentdomain.StateExpired, item.State)
	}

	items, err = f.svc.ListPayments(ctx, paymentdomain.ListPaymentsRequest{State: "up-to-date"})
	require.NoError(t, err)
	assert.Equal(t, []snowflake.ID{current.ID}, ids(items))

	items, err = f.svc.ListPayments(ctx, paymentdomain.ListPaymentsRequest{State: "Voided"})
	require.NoError(t, err)
	assert.Equal(t, []snowflake.ID{voided.ID}, ids(items))

	items, err = f.svc.ListPayments(ctx, paymentdomain.ListPaymentsRequest{State: "whatever"})
	require.NoError(t, err)
	assert.Len(t, items, 4)
	assert.Equal(t, current.ID, items[0].ID, "newest payment date first")

	from := schedtesting.Day(2023, time.December, 1)
	items, err = f.svc.ListPayments(ctx, paymentdomain.ListPaymentsRequest{MemberID: memberID, From: &from})
	require.NoError(t, err)
	assert.ElementsMatch(t, []snowflake.ID{current.ID, unreconciled.ID}, ids(items))
}

func TestCurrentMemberState(t *testing.T) {
	today := schedtesting.Day(2024, time.February, 1)
	f := newFixture(t, today)
	ctx := context.Background()

	nobody := schedtesting.SeedMember(t, f.db, f.node, "new@example.com", true)
	state, err := f.svc.CurrentMemberState(ctx, nobody)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StateExpired, state)

	paid := schedtesting.SeedMember(t, f.db, f.node, "paid@example.com", true)
	schedtesting.SeedPayment(t, f.db, f.node, paid, schedtesting.Day(2023, time.December, 1), 30, paymentdomain.StateExpired, false)
	schedtesting.SeedPayment(t, f.db, f.node, paid, schedtesting.Day(2024, time.January, 15), 30, paymentdomain.StateUpToDate, false)
	state, err = f.svc.CurrentMemberState(ctx, paid)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.StateUpToDate, state)

	count, err := f.svc.CountExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
