package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bitfantasy/salesync/internal/sales/entity"
	"github.com/bitfantasy/salesync/internal/sales/repository"
	"github.com/bitfantasy/salesync/internal/sales/service"
	"github.com/bitfantasy/salesync/internal/sales/testutil"
	"github.com/bitfantasy/salesync/internal/shared/ledger"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const testWebhookKey = "test-webhook-key"

func fakeLedgerServer(t *testing.T, invoices map[string]ledger.Invoice) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/connect/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "t", "expires_in": 3600})
	})
	mux.HandleFunc("/api/v2/invoices/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/api/v2/invoices/")
		inv, ok := invoices[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"invoice": inv})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func setupWebhookTest(t *testing.T, invoices map[string]ledger.Invoice) (*gorm.DB, *repository.Repositories, *gin.Engine) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db)

	srv := fakeLedgerServer(t, invoices)
	client := ledger.NewClient(srv.URL, "test-id", "test-secret")
	services := service.NewServices(repos, client, nil, testutil.TestLogger())

	router := testutil.SetupRouter()
	h := NewWebhookHandler(services.Reconcile, testWebhookKey)
	// Webhook endpoint sits outside JWT auth; the signature is the auth
	router.POST("/api/v1/webhooks/ledger", h.Handle)
	return db, repos, router
}

func postWebhook(router *gin.Engine, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/api/v1/webhooks/ledger", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(ledger.SignatureHeader, signature)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestWebhookInvalidSignature(t *testing.T) {
	_, repos, router := setupWebhookTest(t, nil)

	body := []byte(`{"events":[{"resource_id":"x","event_category":"INVOICE"}]}`)
	w := postWebhook(router, body, "bogus-signature")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401, got %d: %s", w.Code, w.Body.String())
	}

	// Rejection is a security event and must leave an incident behind
	incidents, total, err := repos.Incident.FindAll(context.Background(), 1, 10, repository.IncidentFilter{
		Category: entity.IncidentCategoryWebhookSignature,
	})
	if err != nil {
		t.Fatalf("FindAll failed: %v", err)
	}
	if total != 1 {
		t.Fatalf("Expected 1 signature incident, got %d", total)
	}
	if incidents[0].Severity != entity.IncidentSeverityCritical {
		t.Errorf("Expected critical severity, got %s", incidents[0].Severity)
	}
	meta := incidents[0].Metadata.WebhookSignature
	if meta == nil || !meta.HasHeader {
		t.Error("Expected signature metadata recording the header presence")
	}
}

func TestWebhookMissingSignature(t *testing.T) {
	_, repos, router := setupWebhookTest(t, nil)

	w := postWebhook(router, []byte(`{"events":[]}`), "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401, got %d", w.Code)
	}

	incidents, _, err := repos.Incident.FindAll(context.Background(), 1, 10, repository.IncidentFilter{
		Category: entity.IncidentCategoryWebhookSignature,
	})
	if err != nil || len(incidents) != 1 {
		t.Fatalf("Expected 1 incident, got %d (err=%v)", len(incidents), err)
	}
	if incidents[0].Metadata.WebhookSignature.HasHeader {
		t.Error("Expected has_header=false for missing signature")
	}
}

func TestWebhookHandshake(t *testing.T) {
	_, _, router := setupWebhookTest(t, nil)

	body := []byte(`{"events":[]}`)
	w := postWebhook(router, body, ledger.SignPayload(body, testWebhookKey))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 for handshake, got %d: %s", w.Code, w.Body.String())
	}
	resp := testutil.ParseResponse(w)
	if resp["processed"] != float64(0) || resp["errors"] != float64(0) {
		t.Errorf("Expected zero counts for handshake, got %v", resp)
	}
}

func TestWebhookPaidEvent(t *testing.T) {
	db, repos, router := setupWebhookTest(t, map[string]ledger.Invoice{
		"ext-wh-001": {
			InvoiceID: "ext-wh-001", InvoiceNumber: "INV-7001",
			Type: ledger.InvoiceTypeSales, Status: ledger.InvoiceStatusPaid,
			FullyPaidOn: "/Date(1718409600000)/",
		},
	})

	testutil.SeedSale(t, db, &entity.Sale{
		ID: "sale-wh-001", Reference: "SAL-202607-0001",
		Status: entity.SaleStatusInvoiced, ExternalInvoiceID: "ext-wh-001",
	})

	body, _ := json.Marshal(map[string]interface{}{
		"events": []map[string]string{
			{"resource_id": "ext-wh-001", "event_category": "INVOICE", "event_type": "UPDATE"},
		},
	})
	w := postWebhook(router, body, ledger.SignPayload(body, testWebhookKey))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := testutil.ParseResponse(w)
	if resp["processed"] != float64(1) || resp["errors"] != float64(0) {
		t.Fatalf("Expected 1 processed, got %v", resp)
	}

	sale, err := repos.Sale.FindByID(context.Background(), "sale-wh-001")
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if sale.Status != entity.SaleStatusPaid {
		t.Errorf("Expected paid after webhook, got %s", sale.Status)
	}
	if sale.PaidDate == nil {
		t.Error("Expected paid_date from the invoice")
	}

	// Replay: same body, same signature, still 200, no state churn
	w2 := postWebhook(router, body, ledger.SignPayload(body, testWebhookKey))
	if w2.Code != http.StatusOK {
		t.Fatalf("Expected 200 on replay, got %d", w2.Code)
	}
	after, _ := repos.Sale.FindByID(context.Background(), "sale-wh-001")
	if after.Status != entity.SaleStatusPaid {
		t.Errorf("Expected status stable on replay, got %s", after.Status)
	}
}
