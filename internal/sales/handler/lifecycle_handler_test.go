package handler

import (
	"net/http"
	"testing"

	"github.com/bitfantasy/salesync/internal/sales/entity"
	"github.com/bitfantasy/salesync/internal/sales/repository"
	"github.com/bitfantasy/salesync/internal/sales/service"
	"github.com/bitfantasy/salesync/internal/sales/testutil"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func setupLifecycleHandlerTest(t *testing.T) (*gorm.DB, *gin.Engine) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db)
	svc := service.NewLifecycleService(repos.Sale, testutil.TestLogger())
	handler := NewLifecycleHandler(svc)

	router := testutil.SetupRouter()
	api := testutil.AuthGroup(router, "/api/v1")
	api.POST("/sales/:id/transition", handler.Transition)
	api.POST("/sales/lock-paid", handler.LockPaid)
	api.POST("/sales/pay-commissions", handler.PayCommissions)

	return db, router
}

func TestTransitionEndpoint(t *testing.T) {
	db, router := setupLifecycleHandlerTest(t)
	token := testutil.FinanceToken()

	testutil.SeedSale(t, db, &entity.Sale{
		ID: "sale-h-001", Reference: "SAL-202608-0001",
		Status: entity.SaleStatusDraft,
	})

	w := testutil.DoRequest(router, "POST", "/api/v1/sales/sale-h-001/transition",
		map[string]interface{}{
			"expected_current": "draft",
			"next":             "invoiced",
		}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := testutil.ParseResponse(w)
	data := resp["data"].(map[string]interface{})
	if data["status"] != "invoiced" {
		t.Errorf("Expected invoiced, got %v", data["status"])
	}
}

func TestTransitionEndpointConflict(t *testing.T) {
	db, router := setupLifecycleHandlerTest(t)
	token := testutil.FinanceToken()

	testutil.SeedSale(t, db, &entity.Sale{
		ID: "sale-h-002", Reference: "SAL-202608-0002",
		Status: entity.SaleStatusPaid,
	})

	// Stale expected_current maps to 409
	w := testutil.DoRequest(router, "POST", "/api/v1/sales/sale-h-002/transition",
		map[string]interface{}{
			"expected_current": "invoiced",
			"next":             "paid",
		}, token)
	if w.Code != http.StatusConflict {
		t.Fatalf("Expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestTransitionEndpointForbiddenForShopper(t *testing.T) {
	db, router := setupLifecycleHandlerTest(t)
	token := testutil.ShopperToken("test-shopper-001")

	testutil.SeedSale(t, db, &entity.Sale{
		ID: "sale-h-003", Reference: "SAL-202608-0003",
		Status: entity.SaleStatusPaid,
	})

	w := testutil.DoRequest(router, "POST", "/api/v1/sales/sale-h-003/transition",
		map[string]interface{}{
			"expected_current": "paid",
			"next":             "locked",
		}, token)
	if w.Code != http.StatusForbidden {
		t.Fatalf("Expected 403, got %d: %s", w.Code, w.Body.String())
	}
}

func TestTransitionEndpointValidation(t *testing.T) {
	db, router := setupLifecycleHandlerTest(t)
	token := testutil.FinanceToken()

	testutil.SeedSale(t, db, &entity.Sale{
		ID: "sale-h-004", Reference: "SAL-202608-0004",
		Status: entity.SaleStatusDraft,
	})

	// Missing fields
	w := testutil.DoRequest(router, "POST", "/api/v1/sales/sale-h-004/transition",
		map[string]interface{}{"next": "invoiced"}, token)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing expected_current, got %d", w.Code)
	}

	// Illegal edge
	w2 := testutil.DoRequest(router, "POST", "/api/v1/sales/sale-h-004/transition",
		map[string]interface{}{
			"expected_current": "draft",
			"next":             "locked",
		}, token)
	if w2.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for illegal edge, got %d", w2.Code)
	}
}

func TestTransitionEndpointUnauthenticated(t *testing.T) {
	_, router := setupLifecycleHandlerTest(t)
	w := testutil.DoRequest(router, "POST", "/api/v1/sales/any/transition",
		map[string]interface{}{"expected_current": "draft", "next": "invoiced"}, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401 without token, got %d", w.Code)
	}
}

func TestLockPaidEndpoint(t *testing.T) {
	db, router := setupLifecycleHandlerTest(t)
	token := testutil.FinanceToken()

	testutil.SeedSale(t, db, &entity.Sale{
		ID: "sale-h-005", Reference: "SAL-202608-0005",
		Status: entity.SaleStatusPaid,
	})
	testutil.SeedSale(t, db, &entity.Sale{
		ID: "sale-h-006", Reference: "SAL-202608-0006",
		Status: entity.SaleStatusPaid,
	})

	w := testutil.DoRequest(router, "POST", "/api/v1/sales/lock-paid", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := testutil.ParseResponse(w)
	data := resp["data"].(map[string]interface{})
	if data["done"] != float64(2) {
		t.Errorf("Expected 2 done, got %v", data["done"])
	}

	// Shopper role cannot run batch operations
	w2 := testutil.DoRequest(router, "POST", "/api/v1/sales/pay-commissions", nil,
		testutil.ShopperToken("test-shopper-001"))
	if w2.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for shopper, got %d", w2.Code)
	}
}
