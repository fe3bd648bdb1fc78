package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, p *Payment) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	// MarkVoided flips a live record to VOIDED. It reports false when the
	// record was already voided by someone else.
	MarkVoided(ctx context.Context, db *gorm.DB, id snowflake.ID, reason *string, voidedBy *snowflake.ID, voidedAt time.Time) (bool, error)
	// ExpireLapsed moves every live UP_TO_DATE record whose expiration is
	// before today to EXPIRED in one transaction.
	ExpireLapsed(ctx context.Context, db *gorm.DB, today, now time.Time) (ExpireResult, error)
	// FindExpiringBetween lists live records with after < expiration < before.
	FindExpiringBetween(ctx context.Context, db *gorm.DB, after, before time.Time) ([]Payment, error)
	// FindByExpirationRange lists live records with from <= expiration <= to.
	FindByExpirationRange(ctx context.Context, db *gorm.DB, from, to time.Time) ([]Payment, error)
	// FindLapsedLatest returns, per active member, the latest live record
	// when it expired before today.
	FindLapsedLatest(ctx context.Context, db *gorm.DB, today time.Time) ([]Payment, error)
	FindLatestForMember(ctx context.Context, db *gorm.DB, memberID snowflake.ID) (*Payment, error)
	ListAmountsPaidBetween(ctx context.Context, db *gorm.DB, from, to time.Time) ([]decimal.Decimal, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Payment, error)
	CountByState(ctx context.Context, db *gorm.DB, state State) (int64, error)
}
