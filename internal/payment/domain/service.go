package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type RegisterPaymentRequest struct {
	MemberID    snowflake.ID
	Amount      decimal.Decimal
	Method      string
	PaymentDate *time.Time
	// DurationDays and Months are mutually exclusive. With neither set the
	// default period applies.
	DurationDays *int
	Months       *int
	ActorID      *snowflake.ID
}

type VoidPaymentRequest struct {
	PaymentID snowflake.ID
	Reason    string
	ActorID   *snowflake.ID
}

type ListPaymentsRequest struct {
	MemberID snowflake.ID
	From     *time.Time
	To       *time.Time
	// State is raw query input, parsed with ParseStateFilter.
	State string
	Limit int
}

type Service interface {
	RegisterPayment(ctx context.Context, req RegisterPaymentRequest) (*Payment, error)
	VoidPayment(ctx context.Context, req VoidPaymentRequest) (*Payment, error)
	GetPayment(ctx context.Context, id snowflake.ID) (*Payment, error)
	ListPayments(ctx context.Context, req ListPaymentsRequest) ([]Payment, error)
	FindExpiringWithin(ctx context.Context, days int) ([]Payment, error)
	FindOverdue(ctx context.Context) ([]Payment, error)
	CashflowBetween(ctx context.Context, from, to time.Time) (decimal.Decimal, error)
	CurrentMemberState(ctx context.Context, memberID snowflake.ID) (State, error)
	CountExpired(ctx context.Context) (int64, error)
}
