// Package testing holds fixtures shared by the lifecycle and scheduler tests.
package testing

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	memberdomain "github.com/smallbiznis/gymledger/internal/member/domain"
	"github.com/smallbiznis/gymledger/internal/migration"
	paymentdomain "github.com/smallbiznis/gymledger/internal/payment/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// OpenDB returns an isolated in-memory database with the full schema.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:gymledger_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := migration.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// Day builds a calendar date at UTC midnight.
func Day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SeedMember inserts a member and returns its id.
func SeedMember(t testing.TB, db *gorm.DB, node *snowflake.Node, email string, active bool) snowflake.ID {
	t.Helper()

	now := time.Now().UTC()
	m := memberdomain.Member{
		ID:        node.Generate(),
		FirstName: "Test",
		LastName:  "Member",
		Email:     email,
		Active:    active,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.Create(&m).Error; err != nil {
		t.Fatalf("seed member: %v", err)
	}
	return m.ID
}

// SeedPayment inserts a payment row directly, bypassing registration rules.
func SeedPayment(t testing.TB, db *gorm.DB, node *snowflake.Node, memberID snowflake.ID, paymentDate time.Time, durationDays int, state paymentdomain.State, voided bool) paymentdomain.Payment {
	t.Helper()

	now := time.Now().UTC()
	p := paymentdomain.Payment{
		ID:             node.Generate(),
		MemberID:       memberID,
		Amount:         decimal.RequireFromString("50.00"),
		Method:         paymentdomain.MethodCash,
		PaymentDate:    paymentDate,
		ExpirationDate: paymentdomain.ComputeExpiration(paymentDate, durationDays),
		DurationDays:   durationDays,
		State:          state,
		Voided:         voided,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := db.Create(&p).Error; err != nil {
		t.Fatalf("seed payment: %v", err)
	}
	return p
}

// TimeAccelerator rewrites stored dates so scenarios can skip ahead.
type TimeAccelerator struct {
	db *gorm.DB
}

func NewTimeAccelerator(db *gorm.DB) *TimeAccelerator {
	return &TimeAccelerator{db: db}
}

// SetExpiration moves a payment's expiration date.
func (ta *TimeAccelerator) SetExpiration(ctx context.Context, paymentID snowflake.ID, expiration time.Time) error {
	return ta.db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET expiration_date = ?, updated_at = ?
		 WHERE id = ?`,
		expiration,
		time.Now().UTC(),
		paymentID,
	).Error
}

// LapseAllLive moves every live UP_TO_DATE expiration to the day before today.
func (ta *TimeAccelerator) LapseAllLive(ctx context.Context, today time.Time) (int64, error) {
	result := ta.db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET expiration_date = ?, updated_at = ?
		 WHERE voided = ? AND state = ? AND expiration_date >= ?`,
		today.AddDate(0, 0, -1),
		time.Now().UTC(),
		false,
		paymentdomain.StateUpToDate,
		today,
	)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// LoadPayment reads a payment back, failing the test when it is missing.
func LoadPayment(t testing.TB, db *gorm.DB, id snowflake.ID) paymentdomain.Payment {
	t.Helper()

	var p paymentdomain.Payment
	if err := db.Where("id = ?", id).First(&p).Error; err != nil {
		t.Fatalf("load payment %s: %v", id, err)
	}
	return p
}
