package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/atvirokodosprendimai/tokengate/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/tokengate/internal/core/domain"
)

type decisionModel struct {
	ID             int64     `gorm:"column:id;primaryKey;autoIncrement"`
	DecisionID     string    `gorm:"column:decision_id;not null"`
	TenantID       string    `gorm:"column:tenant_id;not null"`
	DeclaredTenant string    `gorm:"column:declared_tenant;not null"`
	TokenID        string    `gorm:"column:token_id;not null"`
	Valid          bool      `gorm:"column:valid;not null"`
	Reason         string    `gorm:"column:reason;not null"`
	RiskScore      float64   `gorm:"column:risk_score;not null"`
	At             time.Time `gorm:"column:at;not null"`
}

func (decisionModel) TableName() string {
	return "validation_decisions"
}

type DecisionTrailRepository struct {
	db *gormsqlite.DB
}

func NewDecisionTrailRepository(db *gormsqlite.DB) *DecisionTrailRepository {
	return &DecisionTrailRepository{db: db}
}

func (r *DecisionTrailRepository) Record(ctx context.Context, rec domain.DecisionRecord) error {
	model := decisionModel{
		DecisionID:     rec.DecisionID,
		TenantID:       rec.TenantID,
		DeclaredTenant: rec.DeclaredTenant,
		TokenID:        rec.TokenID,
		Valid:          rec.Valid,
		Reason:         string(rec.Reason),
		RiskScore:      rec.RiskScore,
		At:             rec.At,
	}
	if model.At.IsZero() {
		model.At = time.Now().UTC()
	}

	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Create(&model).Error
	})
	if err != nil {
		return fmt.Errorf("insert validation decision: %w", err)
	}
	return nil
}

func (r *DecisionTrailRepository) List(ctx context.Context, filter domain.DecisionFilter) ([]domain.DecisionRecord, error) {
	var rows []decisionModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		query := tx.Model(&decisionModel{}).Where("tenant_id = ?", filter.TenantID)
		if filter.TokenID != "" {
			query = query.Where("token_id = ?", filter.TokenID)
		}
		if filter.Reason != "" {
			query = query.Where("reason = ?", string(filter.Reason))
		}
		if filter.AfterID > 0 {
			query = query.Where("id < ?", filter.AfterID)
		}
		return query.Order("id DESC").Limit(filter.Limit).Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list validation decisions: %w", err)
	}

	result := make([]domain.DecisionRecord, 0, len(rows))
	for _, row := range rows {
		result = append(result, domain.DecisionRecord{
			ID:             row.ID,
			DecisionID:     row.DecisionID,
			TenantID:       row.TenantID,
			DeclaredTenant: row.DeclaredTenant,
			TokenID:        row.TokenID,
			Valid:          row.Valid,
			Reason:         domain.DenialReason(row.Reason),
			RiskScore:      row.RiskScore,
			At:             row.At,
		})
	}
	return result, nil
}
