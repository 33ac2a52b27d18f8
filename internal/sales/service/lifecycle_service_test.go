package service

import (
	"context"
	"errors"
	"testing"

	"github.com/bitfantasy/salesync/internal/sales/entity"
	"github.com/bitfantasy/salesync/internal/sales/repository"
	"github.com/bitfantasy/salesync/internal/sales/testutil"
	"gorm.io/gorm"
)

func setupLifecycleTest(t *testing.T) (*gorm.DB, *repository.Repositories, *LifecycleService) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db)
	return db, repos, NewLifecycleService(repos.Sale, testutil.TestLogger())
}

func financeActor() Actor {
	return Actor{ID: "test-finance-001", Roles: []string{"finance"}}
}

func shopperActor() Actor {
	return Actor{ID: "test-shopper-001", Roles: []string{"shopper"}}
}

func TestTransitionTable(t *testing.T) {
	allowed := [][2]string{
		{entity.SaleStatusDraft, entity.SaleStatusInvoiced},
		{entity.SaleStatusDraft, entity.SaleStatusVoided},
		{entity.SaleStatusInvoiced, entity.SaleStatusPaid},
		{entity.SaleStatusInvoiced, entity.SaleStatusVoided},
		{entity.SaleStatusPaid, entity.SaleStatusLocked},
		{entity.SaleStatusPaid, entity.SaleStatusVoided},
		{entity.SaleStatusLocked, entity.SaleStatusCommissionPaid},
	}
	for _, edge := range allowed {
		if !TransitionAllowed(edge[0], edge[1]) {
			t.Errorf("Expected %s -> %s to be allowed", edge[0], edge[1])
		}
	}

	denied := [][2]string{
		{entity.SaleStatusDraft, entity.SaleStatusPaid},
		{entity.SaleStatusDraft, entity.SaleStatusLocked},
		{entity.SaleStatusInvoiced, entity.SaleStatusDraft},
		{entity.SaleStatusPaid, entity.SaleStatusInvoiced},
		{entity.SaleStatusLocked, entity.SaleStatusVoided},
		{entity.SaleStatusCommissionPaid, entity.SaleStatusVoided},
		{entity.SaleStatusVoided, entity.SaleStatusDraft},
		{entity.SaleStatusVoided, entity.SaleStatusInvoiced},
	}
	for _, edge := range denied {
		if TransitionAllowed(edge[0], edge[1]) {
			t.Errorf("Expected %s -> %s to be denied", edge[0], edge[1])
		}
	}
}

func TestTransitionFullLifecycle(t *testing.T) {
	db, _, svc := setupLifecycleTest(t)
	ctx := context.Background()
	fin := financeActor()

	testutil.SeedSale(t, db, &entity.Sale{
		ID: "sale-lc-001", Reference: "SAL-202601-0001",
		Status: entity.SaleStatusDraft, ShopperID: "test-shopper-001",
	})

	sale, err := svc.TransitionStatus(ctx, "sale-lc-001", entity.SaleStatusDraft, entity.SaleStatusInvoiced, fin)
	if err != nil {
		t.Fatalf("draft -> invoiced failed: %v", err)
	}
	if sale.Status != entity.SaleStatusInvoiced {
		t.Fatalf("Expected invoiced, got %s", sale.Status)
	}
	if sale.StatusChangedBy != fin.ID {
		t.Errorf("Expected status_changed_by %s, got %s", fin.ID, sale.StatusChangedBy)
	}

	sale, err = svc.TransitionStatus(ctx, "sale-lc-001", entity.SaleStatusInvoiced, entity.SaleStatusPaid, fin)
	if err != nil {
		t.Fatalf("invoiced -> paid failed: %v", err)
	}
	if sale.PaidDate == nil {
		t.Error("Expected paid_date to be stamped")
	}

	sale, err = svc.TransitionStatus(ctx, "sale-lc-001", entity.SaleStatusPaid, entity.SaleStatusLocked, fin)
	if err != nil {
		t.Fatalf("paid -> locked failed: %v", err)
	}
	if !sale.CommissionLocked || sale.LockedAt == nil || sale.LockedBy != fin.ID {
		t.Error("Expected commission lock fields to be set")
	}

	sale, err = svc.TransitionStatus(ctx, "sale-lc-001", entity.SaleStatusLocked, entity.SaleStatusCommissionPaid, fin)
	if err != nil {
		t.Fatalf("locked -> commission_paid failed: %v", err)
	}
	if !sale.CommissionPaid || sale.CommissionPaidAt == nil {
		t.Error("Expected commission paid fields to be set")
	}
}

func TestTransitionStaleExpectedCurrent(t *testing.T) {
	db, _, svc := setupLifecycleTest(t)
	ctx := context.Background()

	testutil.SeedSale(t, db, &entity.Sale{
		ID: "sale-lc-002", Reference: "SAL-202601-0002",
		Status: entity.SaleStatusPaid,
	})

	// Caller believes the record is still invoiced; another path already
	// advanced it. The write must fail, not overwrite.
	_, err := svc.TransitionStatus(ctx, "sale-lc-002", entity.SaleStatusInvoiced, entity.SaleStatusPaid, financeActor())
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("Expected ErrConflict, got %v", err)
	}
}

func TestTransitionIllegalEdge(t *testing.T) {
	db, _, svc := setupLifecycleTest(t)
	ctx := context.Background()

	testutil.SeedSale(t, db, &entity.Sale{
		ID: "sale-lc-003", Reference: "SAL-202601-0003",
		Status: entity.SaleStatusDraft,
	})

	_, err := svc.TransitionStatus(ctx, "sale-lc-003", entity.SaleStatusDraft, entity.SaleStatusPaid, financeActor())
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("Expected ErrValidation for illegal edge, got %v", err)
	}

	_, err = svc.TransitionStatus(ctx, "sale-lc-003", "bogus", entity.SaleStatusPaid, financeActor())
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("Expected ErrValidation for bogus status, got %v", err)
	}
}

func TestTransitionNotFound(t *testing.T) {
	_, _, svc := setupLifecycleTest(t)
	_, err := svc.TransitionStatus(context.Background(), "nonexistent", entity.SaleStatusDraft, entity.SaleStatusInvoiced, financeActor())
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestTransitionGuards(t *testing.T) {
	db, _, svc := setupLifecycleTest(t)
	ctx := context.Background()
	shopper := shopperActor()

	testutil.SeedSale(t, db, &entity.Sale{
		ID: "sale-lc-004", Reference: "SAL-202601-0004",
		Status: entity.SaleStatusPaid,
	})

	// Locking and voiding need an elevated role
	if _, err := svc.TransitionStatus(ctx, "sale-lc-004", entity.SaleStatusPaid, entity.SaleStatusLocked, shopper); !errors.Is(err, ErrForbidden) {
		t.Errorf("Expected ErrForbidden for shopper lock, got %v", err)
	}
	if _, err := svc.TransitionStatus(ctx, "sale-lc-004", entity.SaleStatusPaid, entity.SaleStatusVoided, shopper); !errors.Is(err, ErrForbidden) {
		t.Errorf("Expected ErrForbidden for shopper void, got %v", err)
	}

	// commission_paid requires the lock flag
	testutil.SeedSale(t, db, &entity.Sale{
		ID: "sale-lc-005", Reference: "SAL-202601-0005",
		Status: entity.SaleStatusLocked, CommissionLocked: false,
	})
	if _, err := svc.TransitionStatus(ctx, "sale-lc-005", entity.SaleStatusLocked, entity.SaleStatusCommissionPaid, financeActor()); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation for unlocked payout, got %v", err)
	}
}

func TestBatchLockAllPaid(t *testing.T) {
	db, _, svc := setupLifecycleTest(t)
	ctx := context.Background()

	for i, status := range []string{entity.SaleStatusPaid, entity.SaleStatusPaid, entity.SaleStatusPaid, entity.SaleStatusInvoiced} {
		testutil.SeedSale(t, db, &entity.Sale{
			ID:        "sale-batch-00" + string(rune('1'+i)),
			Reference: "SAL-202602-000" + string(rune('1'+i)),
			Status:    status,
		})
	}

	result, err := svc.LockAllPaid(ctx, financeActor())
	if err != nil {
		t.Fatalf("LockAllPaid failed: %v", err)
	}
	if result.Total != 3 || result.Done != 3 || result.Failed != 0 {
		t.Errorf("Expected 3/3 locked, got total=%d done=%d failed=%d", result.Total, result.Done, result.Failed)
	}

	// Re-run is a no-op: no paid candidates remain
	again, err := svc.LockAllPaid(ctx, financeActor())
	if err != nil {
		t.Fatalf("Second LockAllPaid failed: %v", err)
	}
	if again.Total != 0 {
		t.Errorf("Expected empty candidate set on re-run, got %d", again.Total)
	}

	// Locked records can now all be paid out
	payout, err := svc.PayAllLocked(ctx, financeActor())
	if err != nil {
		t.Fatalf("PayAllLocked failed: %v", err)
	}
	if payout.Done != 3 {
		t.Errorf("Expected 3 payouts, got %d", payout.Done)
	}
}

func TestBatchRequiresElevatedRole(t *testing.T) {
	_, _, svc := setupLifecycleTest(t)
	if _, err := svc.LockAllPaid(context.Background(), shopperActor()); !errors.Is(err, ErrForbidden) {
		t.Fatalf("Expected ErrForbidden, got %v", err)
	}
}
