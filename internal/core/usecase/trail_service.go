package usecase

import (
	"context"

	"github.com/atvirokodosprendimai/tokengate/internal/core/domain"
	"github.com/atvirokodosprendimai/tokengate/internal/core/ports"
)

type DecisionTrailService struct {
	repo ports.DecisionTrailRepository
}

func NewDecisionTrailService(repo ports.DecisionTrailRepository) *DecisionTrailService {
	return &DecisionTrailService{repo: repo}
}

func (s *DecisionTrailService) List(ctx context.Context, filter domain.DecisionFilter) ([]domain.DecisionRecord, error) {
	if err := domain.ValidateTenantID(filter.TenantID); err != nil {
		return nil, err
	}
	if filter.TokenID != "" {
		if err := domain.ValidateTokenID(filter.TokenID); err != nil {
			return nil, err
		}
	}
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	if filter.Limit > 1000 {
		filter.Limit = 1000
	}
	return s.repo.List(ctx, filter)
}
