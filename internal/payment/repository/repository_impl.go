package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/gymledger/internal/payment/domain"
	"github.com/smallbiznis/gymledger/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, p *domain.Payment) error {
	if p == nil {
		return nil
	}
	return db.WithContext(ctx).Create(p).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) MarkVoided(ctx context.Context, db *gorm.DB, id snowflake.ID, reason *string, voidedBy *snowflake.ID, voidedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET voided = ?, state = ?, void_reason = ?, voided_by = ?, voided_at = ?, updated_at = ?
		 WHERE id = ? AND voided = ?`,
		true,
		domain.StateVoided,
		reason,
		voidedBy,
		voidedAt,
		voidedAt,
		id,
		false,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ExpireLapsed(ctx context.Context, conn *gorm.DB, today, now time.Time) (domain.ExpireResult, error) {
	var result domain.ExpireResult
	err := conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stmt := tx.Model(&domain.Payment{}).
			Where("voided = ? AND state = ? AND expiration_date < ?", false, domain.StateUpToDate, today).
			Order("id ASC")
		if db.SupportsRowLocking(tx) {
			stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var ids []snowflake.ID
		if err := stmt.Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		// The predicate is repeated so rows flipped by an overlapping run
		// are not counted twice.
		res := tx.Exec(
			`UPDATE payments
			 SET state = ?, updated_at = ?
			 WHERE id IN ? AND voided = ? AND state = ? AND expiration_date < ?`,
			domain.StateExpired,
			now,
			ids,
			false,
			domain.StateUpToDate,
			today,
		)
		if res.Error != nil {
			return res.Error
		}
		result.IDs = ids
		result.Updated = res.RowsAffected
		return nil
	})
	if err != nil {
		return domain.ExpireResult{}, err
	}
	return result, nil
}

func (r *repo) FindExpiringBetween(ctx context.Context, db *gorm.DB, after, before time.Time) ([]domain.Payment, error) {
	var items []domain.Payment
	err := db.WithContext(ctx).
		Where("voided = ? AND expiration_date > ? AND expiration_date < ?", false, after, before).
		Order("expiration_date ASC, id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) FindByExpirationRange(ctx context.Context, db *gorm.DB, from, to time.Time) ([]domain.Payment, error) {
	var items []domain.Payment
	err := db.WithContext(ctx).
		Where("voided = ? AND expiration_date >= ? AND expiration_date <= ?", false, from, to).
		Order("expiration_date ASC, id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) FindLapsedLatest(ctx context.Context, db *gorm.DB, today time.Time) ([]domain.Payment, error) {
	var items []domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT p.*
		 FROM payments p
		 JOIN members m ON m.id = p.member_id
		 WHERE m.active = ?
		   AND p.voided = ?
		   AND p.expiration_date < ?
		   AND p.expiration_date = (
			SELECT MAX(latest.expiration_date)
			FROM payments latest
			WHERE latest.member_id = p.member_id AND latest.voided = ?
		   )
		 ORDER BY p.expiration_date ASC, p.member_id ASC, p.id DESC`,
		true,
		false,
		today,
		false,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}

	// Two records sharing the latest date yield one row per member.
	seen := make(map[snowflake.ID]struct{}, len(items))
	out := items[:0]
	for _, item := range items {
		if _, ok := seen[item.MemberID]; ok {
			continue
		}
		seen[item.MemberID] = struct{}{}
		out = append(out, item)
	}
	return out, nil
}

func (r *repo) FindLatestForMember(ctx context.Context, db *gorm.DB, memberID snowflake.ID) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).
		Where("member_id = ? AND voided = ?", memberID, false).
		Order("expiration_date DESC, id DESC").
		Limit(1).
		Find(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListAmountsPaidBetween(ctx context.Context, db *gorm.DB, from, to time.Time) ([]decimal.Decimal, error) {
	var amounts []decimal.Decimal
	err := db.WithContext(ctx).Model(&domain.Payment{}).
		Where("voided = ? AND payment_date >= ? AND payment_date <= ?", false, from, to).
		Pluck("amount", &amounts).Error
	if err != nil {
		return nil, err
	}
	return amounts, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.Payment, error) {
	stmt := db.WithContext(ctx).Model(&domain.Payment{})
	if filter.MemberID != 0 {
		stmt = stmt.Where("member_id = ?", filter.MemberID)
	}
	if filter.From != nil {
		stmt = stmt.Where("payment_date >= ?", *filter.From)
	}
	if filter.To != nil {
		stmt = stmt.Where("payment_date <= ?", *filter.To)
	}
	if filter.State != nil {
		switch *filter.State {
		case domain.StateVoided:
			stmt = stmt.Where("voided = ?", true)
		case domain.StateExpired:
			stmt = stmt.Where("voided = ? AND (state = ? OR (state = ? AND expiration_date < ?))",
				false, domain.StateExpired, domain.StateUpToDate, filter.Today)
		case domain.StateUpToDate:
			stmt = stmt.Where("voided = ? AND state = ? AND expiration_date >= ?",
				false, domain.StateUpToDate, filter.Today)
		default:
			stmt = stmt.Where("voided = ? AND state = ?", false, *filter.State)
		}
	}

	stmt = stmt.Order("payment_date DESC, id DESC")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}

	var items []domain.Payment
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) CountByState(ctx context.Context, db *gorm.DB, state domain.State) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&domain.Payment{}).
		Where("voided = ? AND state = ?", false, state).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
