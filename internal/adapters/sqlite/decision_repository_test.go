package sqlite

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/atvirokodosprendimai/tokengate/internal/core/domain"
)

func TestDecisionTrailRecordAndList(t *testing.T) {
	db := openTestDB(t)
	repo := NewDecisionTrailRepository(db)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seed := []domain.DecisionRecord{
		{DecisionID: "d-1", TenantID: "tenant-a", DeclaredTenant: "tenant-a", TokenID: "tok-1", Valid: true, At: at},
		{DecisionID: "d-2", TenantID: "tenant-a", DeclaredTenant: "tenant-b", TokenID: "tok-1", Reason: domain.DenialTenantMismatch, At: at},
		{DecisionID: "d-3", TenantID: "tenant-b", DeclaredTenant: "tenant-b", TokenID: "tok-9", Valid: true, At: at},
	}
	for _, rec := range seed {
		if err := repo.Record(ctx, rec); err != nil {
			t.Fatalf("record %s: %v", rec.DecisionID, err)
		}
	}

	records, err := repo.List(ctx, domain.DecisionFilter{TenantID: "tenant-a", Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records for tenant-a, got %d", len(records))
	}
	// Most recent first.
	if records[0].DecisionID != "d-2" || records[1].DecisionID != "d-1" {
		t.Fatalf("unexpected order: %s, %s", records[0].DecisionID, records[1].DecisionID)
	}

	denials, err := repo.List(ctx, domain.DecisionFilter{TenantID: "tenant-a", Reason: domain.DenialTenantMismatch, Limit: 10})
	if err != nil {
		t.Fatalf("list denials: %v", err)
	}
	if len(denials) != 1 || denials[0].DecisionID != "d-2" {
		t.Fatalf("unexpected denial filter result: %+v", denials)
	}
}

func TestDecisionTrailPagination(t *testing.T) {
	db := openTestDB(t)
	repo := NewDecisionTrailRepository(db)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := repo.Record(ctx, domain.DecisionRecord{
			DecisionID: fmt.Sprintf("d-%d", i),
			TenantID:   "tenant-a",
			TokenID:    "tok-1",
			Valid:      true,
		})
		if err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	first, err := repo.List(ctx, domain.DecisionFilter{TenantID: "tenant-a", Limit: 2})
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("expected 2 records, got %d", len(first))
	}

	second, err := repo.List(ctx, domain.DecisionFilter{TenantID: "tenant-a", AfterID: first[1].ID, Limit: 2})
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(second) != 2 || second[0].ID >= first[1].ID {
		t.Fatalf("pagination must continue below the cursor, got %+v", second)
	}
}
