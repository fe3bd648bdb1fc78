package domain

import (
	"context"
	"io"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// MemberPaymentRow joins one payment with its member for the staff reports.
type MemberPaymentRow struct {
	MemberID       snowflake.ID `json:"member_id"`
	PaymentID      snowflake.ID `json:"payment_id"`
	FirstName      string       `json:"first_name"`
	LastName       string       `json:"last_name"`
	Email          string       `json:"email"`
	Active         bool         `json:"active"`
	ExpirationDate time.Time    `json:"expiration_date"`
	// ReminderSent is true when the ledger holds a SENT expiration reminder
	// for the payment.
	ReminderSent bool `json:"reminder_sent"`
}

type DashboardStats struct {
	ActiveMembers   int64           `json:"active_members"`
	ExpiredPayments int64           `json:"expired_payments"`
	ExpiringSoon    int             `json:"expiring_soon"`
	Overdue         int             `json:"overdue"`
	MonthCashflow   decimal.Decimal `json:"month_cashflow"`
}

type Service interface {
	ExpiringSoon(ctx context.Context) ([]MemberPaymentRow, error)
	Overdue(ctx context.Context) ([]MemberPaymentRow, error)
	Cashflow(ctx context.Context, from, to time.Time) (decimal.Decimal, error)
	Dashboard(ctx context.Context) (DashboardStats, error)
	PaymentReceipt(ctx context.Context, paymentID snowflake.ID) (io.Reader, error)
}
