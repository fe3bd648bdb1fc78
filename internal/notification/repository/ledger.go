package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/gymledger/internal/notification/domain"
	"gorm.io/gorm"
)

type ledger struct {
	db   *gorm.DB
	repo domain.Repository
}

func NewLedger(db *gorm.DB, repo domain.Repository) domain.Ledger {
	return &ledger{db: db, repo: repo}
}

func (l *ledger) Append(ctx context.Context, entry *domain.LedgerEntry) error {
	return l.repo.Insert(ctx, l.db, entry)
}

func (l *ledger) HasSent(ctx context.Context, paymentID snowflake.ID, kind domain.Kind) (bool, error) {
	count, err := l.repo.CountSent(ctx, l.db, paymentID, kind)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (l *ledger) SentPaymentIDs(ctx context.Context, paymentIDs []snowflake.ID, kind domain.Kind) (map[snowflake.ID]bool, error) {
	ids, err := l.repo.SentPaymentIDs(ctx, l.db, paymentIDs, kind)
	if err != nil {
		return nil, err
	}
	sent := make(map[snowflake.ID]bool, len(ids))
	for _, id := range ids {
		sent[id] = true
	}
	return sent, nil
}

func (l *ledger) History(ctx context.Context, paymentID snowflake.ID) ([]domain.LedgerEntry, error) {
	return l.repo.ListByPayment(ctx, l.db, paymentID)
}

func (l *ledger) Claim(ctx context.Context, paymentID snowflake.ID, kind domain.Kind, at time.Time) (bool, error) {
	return l.repo.InsertClaim(ctx, l.db, &domain.Claim{PaymentID: paymentID, Kind: kind, ClaimedAt: at.UTC()})
}

func (l *ledger) Release(ctx context.Context, paymentID snowflake.ID, kind domain.Kind) error {
	return l.repo.DeleteClaim(ctx, l.db, paymentID, kind)
}
