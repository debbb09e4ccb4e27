package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"github.com/atvirokodosprendimai/tokengate/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/tokengate/internal/core/domain"
)

type tokenModel struct {
	TokenID          string    `gorm:"column:token_id;primaryKey"`
	OwnerTenantID    string    `gorm:"column:owner_tenant_id;not null"`
	TokenHash        string    `gorm:"column:token_hash;not null"`
	TokenType        string    `gorm:"column:token_type;not null"`
	ScopesJSON       string    `gorm:"column:scopes_json;not null"`
	IssuedAt         time.Time `gorm:"column:issued_at;not null"`
	ExpiresAt        time.Time `gorm:"column:expires_at;not null"`
	Revoked          bool      `gorm:"column:revoked;not null"`
	Superseded       bool      `gorm:"column:superseded;not null"`
	PriorRevocations int       `gorm:"column:prior_revocations;not null"`
	CreatedAt        time.Time `gorm:"column:created_at;not null"`
}

func (tokenModel) TableName() string {
	return "tokens"
}

type TokenRepository struct {
	db *gormsqlite.DB
}

func NewTokenRepository(db *gormsqlite.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// FindActiveByHash returns the single active record for a digest. Superseded
// records are filtered in the query, so a legitimate store yields zero or one
// row. Two or more rows is a data-integrity failure and is reported as
// ErrStoreInconsistency rather than silently picking one.
func (r *TokenRepository) FindActiveByHash(ctx context.Context, hash string) (domain.Token, error) {
	var rows []tokenModel
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Where("token_hash = ? AND superseded = ?", hash, false).
			Limit(2).
			Find(&rows).Error
	})
	if err != nil {
		return domain.Token{}, fmt.Errorf("%w: find token by hash: %v", domain.ErrStoreUnavailable, err)
	}

	switch len(rows) {
	case 0:
		return domain.Token{}, domain.ErrTokenNotFound
	case 1:
		return toDomainToken(rows[0])
	default:
		return domain.Token{}, fmt.Errorf("%w: %d active records share one digest", domain.ErrStoreInconsistency, len(rows))
	}
}

// Upsert writes a token record. Used by the bootstrap path and tests; the
// gateway itself never calls it during validation.
func (r *TokenRepository) Upsert(ctx context.Context, token domain.Token) error {
	scopes, err := json.Marshal(token.Scopes)
	if err != nil {
		return fmt.Errorf("marshal scopes: %w", err)
	}

	model := tokenModel{
		TokenID:          token.ID,
		OwnerTenantID:    token.OwnerTenantID,
		TokenHash:        token.Hash,
		TokenType:        string(token.Type),
		ScopesJSON:       string(scopes),
		IssuedAt:         token.IssuedAt,
		ExpiresAt:        token.ExpiresAt,
		Revoked:          token.Revoked,
		Superseded:       token.Superseded,
		PriorRevocations: token.PriorRevocations,
		CreatedAt:        token.CreatedAt,
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}

	err = r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "token_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"owner_tenant_id", "token_hash", "token_type", "scopes_json",
				"issued_at", "expires_at", "revoked", "superseded", "prior_revocations",
			}),
		}).Create(&model).Error
	})
	if err != nil {
		return fmt.Errorf("upsert token: %w", err)
	}
	return nil
}

func toDomainToken(model tokenModel) (domain.Token, error) {
	var scopes []string
	if model.ScopesJSON != "" {
		if err := json.Unmarshal([]byte(model.ScopesJSON), &scopes); err != nil {
			return domain.Token{}, fmt.Errorf("%w: decode scopes for %s: %v", domain.ErrStoreInconsistency, model.TokenID, err)
		}
	}
	return domain.Token{
		ID:               model.TokenID,
		OwnerTenantID:    model.OwnerTenantID,
		Hash:             model.TokenHash,
		Type:             domain.TokenType(model.TokenType),
		Scopes:           scopes,
		IssuedAt:         model.IssuedAt,
		ExpiresAt:        model.ExpiresAt,
		Revoked:          model.Revoked,
		Superseded:       model.Superseded,
		PriorRevocations: model.PriorRevocations,
		CreatedAt:        model.CreatedAt,
	}, nil
}
