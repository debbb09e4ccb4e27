package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/atvirokodosprendimai/tokengate/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/tokengate/internal/core/domain"
)

type rateCounterModel struct {
	TokenID     string    `gorm:"column:token_id;primaryKey"`
	WindowStart time.Time `gorm:"column:window_start;not null"`
	Count       int       `gorm:"column:count;not null"`
	LimitValue  int       `gorm:"column:limit_value;not null"`
	ResetAt     time.Time `gorm:"column:reset_at;not null"`
}

func (rateCounterModel) TableName() string {
	return "rate_limit_counters"
}

type RateCounterRepository struct {
	db *gormsqlite.DB
}

func NewRateCounterRepository(db *gormsqlite.DB) *RateCounterRepository {
	return &RateCounterRepository{db: db}
}

// Admit performs the fixed-window check-and-increment in one write
// transaction. All writes share the single writer connection, so the
// read-check-increment for a token can never interleave with another and the
// count cannot exceed the limit. A cancelled context rolls the transaction
// back, leaving no partial increment.
func (r *RateCounterRepository) Admit(ctx context.Context, tokenID string, limit int, window time.Duration, now time.Time) (domain.RateDecision, error) {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}

	var decision domain.RateDecision
	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		var row rateCounterModel
		err := tx.Where("token_id = ?", tokenID).First(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			row = rateCounterModel{TokenID: tokenID, WindowStart: now, Count: 0, LimitValue: limit, ResetAt: now.Add(window)}
		case err != nil:
			return err
		}

		// Crossing reset_at resets the window in the same transaction that
		// evaluates admission.
		if !now.Before(row.ResetAt) {
			row.WindowStart = now
			row.Count = 0
			row.ResetAt = now.Add(window)
		}
		row.LimitValue = limit

		if row.Count >= limit {
			decision = domain.RateDecision{Admitted: false, Remaining: 0, ResetAt: row.ResetAt}
		} else {
			row.Count++
			decision = domain.RateDecision{Admitted: true, Remaining: limit - row.Count, ResetAt: row.ResetAt}
		}

		return tx.Save(&row).Error
	})
	if err != nil {
		return domain.RateDecision{}, fmt.Errorf("%w: admit %s: %v", domain.ErrStoreUnavailable, tokenID, err)
	}
	return decision, nil
}
