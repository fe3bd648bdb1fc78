package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gymledger/internal/member/domain"
	"gorm.io/gorm"
)

type directory struct {
	db   *gorm.DB
	repo domain.Repository
}

// NewDirectory serves member lookups straight from the members table.
func NewDirectory(db *gorm.DB, repo domain.Repository) domain.Directory {
	return &directory{db: db, repo: repo}
}

func (d *directory) IsActive(ctx context.Context, memberID snowflake.ID) (bool, error) {
	m, err := d.load(ctx, memberID)
	if err != nil {
		return false, err
	}
	return m.Active, nil
}

func (d *directory) ContactAddress(ctx context.Context, memberID snowflake.ID) (string, error) {
	m, err := d.load(ctx, memberID)
	if err != nil {
		return "", err
	}
	return m.ContactAddress(), nil
}

func (d *directory) DisplayName(ctx context.Context, memberID snowflake.ID) (string, error) {
	m, err := d.load(ctx, memberID)
	if err != nil {
		return "", err
	}
	return m.DisplayName(), nil
}

func (d *directory) load(ctx context.Context, memberID snowflake.ID) (*domain.Member, error) {
	m, err := d.repo.FindByID(ctx, d.db, memberID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, domain.ErrNotFound
	}
	return m, nil
}
