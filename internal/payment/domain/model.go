package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// DefaultDurationDays is the membership period applied when a registration
// carries neither a day count nor a month count.
const DefaultDurationDays = 30

// DaysPerMonth converts a month count into a period length.
const DaysPerMonth = 30

type State string

const (
	StatePending  State = "PENDING"
	StateUpToDate State = "UP_TO_DATE"
	StateExpired  State = "EXPIRED"
	StateVoided   State = "VOIDED"
)

type Method string

const (
	MethodCash     Method = "cash"
	MethodDebit    Method = "debit"
	MethodCredit   Method = "credit"
	MethodTransfer Method = "transfer"
	MethodOther    Method = "other"
)

// Payment is one membership period purchased by a member.
// PaymentDate and ExpirationDate are calendar dates held at UTC midnight.
type Payment struct {
	ID             snowflake.ID    `json:"id" gorm:"primaryKey"`
	MemberID       snowflake.ID    `json:"member_id" gorm:"not null;index"`
	Amount         decimal.Decimal `json:"amount" gorm:"type:numeric(12,2);not null"`
	Method         Method          `json:"method" gorm:"type:varchar(16);not null"`
	PaymentDate    time.Time       `json:"payment_date" gorm:"not null;index"`
	ExpirationDate time.Time       `json:"expiration_date" gorm:"not null;index"`
	DurationDays   int             `json:"duration_days" gorm:"not null"`
	State          State           `json:"state" gorm:"type:varchar(16);not null;index"`
	Voided         bool            `json:"voided" gorm:"not null;index"`
	VoidReason     *string         `json:"void_reason,omitempty" gorm:"type:text"`
	VoidedBy       *snowflake.ID   `json:"voided_by,omitempty"`
	VoidedAt       *time.Time      `json:"voided_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt      time.Time       `json:"updated_at" gorm:"not null"`
}

func (Payment) TableName() string { return "payments" }

// ExpireResult reports one bulk expiration write.
type ExpireResult struct {
	IDs     []snowflake.ID
	Updated int64
}

// ListFilter narrows ListPayments. Zero values mean no constraint.
type ListFilter struct {
	MemberID snowflake.ID
	From     *time.Time
	To       *time.Time
	State    *State
	Today    time.Time
	Limit    int
}
