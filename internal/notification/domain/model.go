package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Kind string

const (
	KindExpirationReminder Kind = "EXPIRATION_REMINDER"
	KindOverdueNotice      Kind = "OVERDUE_NOTICE"
	KindRenewalReminder    Kind = "RENEWAL_REMINDER"
)

type Outcome string

const (
	OutcomeSent   Outcome = "SENT"
	OutcomeFailed Outcome = "FAILED"
)

// LedgerEntry records one dispatch attempt. Entries are append-only.
type LedgerEntry struct {
	ID            snowflake.ID `json:"id" gorm:"primaryKey"`
	PaymentID     snowflake.ID `json:"payment_id" gorm:"not null;index:idx_notification_ledger_payment_kind"`
	Kind          Kind         `json:"kind" gorm:"type:varchar(32);not null;index:idx_notification_ledger_payment_kind"`
	Recipient     string       `json:"recipient" gorm:"type:varchar(255);not null"`
	SentAt        time.Time    `json:"sent_at" gorm:"not null"`
	Outcome       Outcome      `json:"outcome" gorm:"type:varchar(16);not null"`
	LeadDays      int          `json:"lead_days" gorm:"not null"`
	FailureReason *string      `json:"failure_reason,omitempty" gorm:"type:text"`
}

func (LedgerEntry) TableName() string { return "notification_ledger" }

// Claim reserves a (payment, kind) pair for the one attempt allowed to send.
// A claim is dropped again when the attempt fails.
type Claim struct {
	PaymentID snowflake.ID `json:"payment_id" gorm:"primaryKey;autoIncrement:false"`
	Kind      Kind         `json:"kind" gorm:"primaryKey;type:varchar(32)"`
	ClaimedAt time.Time    `json:"claimed_at" gorm:"not null"`
}

func (Claim) TableName() string { return "notification_claims" }

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *LedgerEntry) error
	// CountSent counts SENT entries for the pair. FAILED entries are ignored.
	CountSent(ctx context.Context, db *gorm.DB, paymentID snowflake.ID, kind Kind) (int64, error)
	SentPaymentIDs(ctx context.Context, db *gorm.DB, paymentIDs []snowflake.ID, kind Kind) ([]snowflake.ID, error)
	ListByPayment(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) ([]LedgerEntry, error)
	// InsertClaim reports false when the pair is already claimed.
	InsertClaim(ctx context.Context, db *gorm.DB, claim *Claim) (bool, error)
	DeleteClaim(ctx context.Context, db *gorm.DB, paymentID snowflake.ID, kind Kind) error
}

// Ledger is the dedup log consulted before every send.
type Ledger interface {
	Append(ctx context.Context, entry *LedgerEntry) error
	HasSent(ctx context.Context, paymentID snowflake.ID, kind Kind) (bool, error)
	SentPaymentIDs(ctx context.Context, paymentIDs []snowflake.ID, kind Kind) (map[snowflake.ID]bool, error)
	History(ctx context.Context, paymentID snowflake.ID) ([]LedgerEntry, error)
	// Claim must win before a notice is sent. Concurrent runs racing for the
	// same pair see exactly one true.
	Claim(ctx context.Context, paymentID snowflake.ID, kind Kind, at time.Time) (bool, error)
	Release(ctx context.Context, paymentID snowflake.ID, kind Kind) error
}

// Message carries what a sender needs to render one notice.
type Message struct {
	Kind           Kind
	PaymentID      snowflake.ID
	Recipient      string
	DisplayName    string
	ExpirationDate string
	LeadDays       int
}

// Sender delivers a notice. A nil error means the notice was accepted.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

var ErrNotificationSend = errors.New("notification_send_error")

// NotificationSendError is a per-record delivery failure. It is recorded
// in the ledger and never aborts the batch.
type NotificationSendError struct {
	PaymentID snowflake.ID
	Err       error
}

func (e *NotificationSendError) Error() string {
	return fmt.Sprintf("notification_send_error: payment %s: %v", e.PaymentID, e.Err)
}

func (e *NotificationSendError) Is(target error) bool { return target == ErrNotificationSend }

func (e *NotificationSendError) Unwrap() error { return e.Err }
