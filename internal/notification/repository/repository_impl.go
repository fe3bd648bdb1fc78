package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gymledger/internal/notification/domain"
	"github.com/smallbiznis/gymledger/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.LedgerEntry) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO notification_ledger (
			id, payment_id, kind, recipient, sent_at, outcome, lead_days, failure_reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.PaymentID,
		entry.Kind,
		entry.Recipient,
		entry.SentAt,
		entry.Outcome,
		entry.LeadDays,
		entry.FailureReason,
	).Error
}

func (r *repo) CountSent(ctx context.Context, db *gorm.DB, paymentID snowflake.ID, kind domain.Kind) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&domain.LedgerEntry{}).
		Where("payment_id = ? AND kind = ? AND outcome = ?", paymentID, kind, domain.OutcomeSent).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repo) SentPaymentIDs(ctx context.Context, db *gorm.DB, paymentIDs []snowflake.ID, kind domain.Kind) ([]snowflake.ID, error) {
	if len(paymentIDs) == 0 {
		return nil, nil
	}
	var ids []snowflake.ID
	err := db.WithContext(ctx).Model(&domain.LedgerEntry{}).
		Distinct().
		Where("payment_id IN ? AND kind = ? AND outcome = ?", paymentIDs, kind, domain.OutcomeSent).
		Pluck("payment_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) ListByPayment(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) ([]domain.LedgerEntry, error) {
	var items []domain.LedgerEntry
	err := db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("sent_at ASC, id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) InsertClaim(ctx context.Context, conn *gorm.DB, claim *domain.Claim) (bool, error) {
	if claim == nil {
		return false, nil
	}
	err := conn.WithContext(ctx).Exec(
		`INSERT INTO notification_claims (payment_id, kind, claimed_at) VALUES (?, ?, ?)`,
		claim.PaymentID,
		claim.Kind,
		claim.ClaimedAt,
	).Error
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *repo) DeleteClaim(ctx context.Context, conn *gorm.DB, paymentID snowflake.ID, kind domain.Kind) error {
	return conn.WithContext(ctx).
		Where("payment_id = ? AND kind = ?", paymentID, kind).
		Delete(&domain.Claim{}).Error
}
