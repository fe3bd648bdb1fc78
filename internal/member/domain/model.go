package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// FallbackDisplayName greets members that have no name on file.
const FallbackDisplayName = "member"

var ErrNotFound = errors.New("member_not_found")

type Member struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	FirstName string       `json:"first_name" gorm:"type:varchar(120);not null"`
	LastName  string       `json:"last_name" gorm:"type:varchar(120);not null"`
	Email     string       `json:"email" gorm:"type:varchar(255)"`
	Active    bool         `json:"active" gorm:"not null"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time    `json:"updated_at" gorm:"not null"`
}

func (Member) TableName() string { return "members" }

// DisplayName joins first and last name, falling back to a generic greeting.
func (m Member) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(m.FirstName) + " " + strings.TrimSpace(m.LastName))
	if name == "" {
		return FallbackDisplayName
	}
	return name
}

// ContactAddress returns the trimmed email, empty when none is usable.
func (m Member) ContactAddress() string {
	email := strings.TrimSpace(m.Email)
	if !strings.Contains(email, "@") {
		return ""
	}
	return email
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, m *Member) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Member, error)
	FindByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]Member, error)
	SetActive(ctx context.Context, db *gorm.DB, id snowflake.ID, active bool, now time.Time) error
	CountActive(ctx context.Context, db *gorm.DB) (int64, error)
}

// Directory answers the membership questions the payment lifecycle needs.
// Unknown members yield ErrNotFound.
type Directory interface {
	IsActive(ctx context.Context, memberID snowflake.ID) (bool, error)
	ContactAddress(ctx context.Context, memberID snowflake.ID) (string, error)
	DisplayName(ctx context.Context, memberID snowflake.ID) (string, error)
}
