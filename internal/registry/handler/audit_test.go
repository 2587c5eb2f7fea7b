package handler_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/techcorp/docbroker/internal/audit"
	"github.com/techcorp/docbroker/internal/auth"
	"github.com/techcorp/docbroker/internal/registry/handler"
)

func setupAuditRouter(t *testing.T) (*gin.Engine, audit.Ledger) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ledger := audit.New()
	r := gin.New()
	h := handler.NewAuditHandler(ledger, zap.NewNop())
	admin := r.Group("/admin", auth.RequireAdminKey(testAdminKey))
	h.Register(admin)
	return r, ledger
}

func adminHeaders() map[string]string {
	return map[string]string{"X-Admin-Api-Key": testAdminKey}
}

func TestAuditOverview_200(t *testing.T) {
	router, ledger := setupAuditRouter(t)
	if _, err := ledger.Append(context.Background(), "did:prism:doc-1", audit.ActionDocumentRegistered, "admin", nil); err != nil {
		t.Fatalf("append: %v", err)
	}

	w := getJSON(t, router, "/admin/audit", adminHeaders())

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeBody(t, w)
	if int(resp["entries"].(float64)) != 2 { // genesis + one append
		t.Errorf("expected 2 entries, got %v", resp["entries"])
	}
	root, _ := resp["root"].(string)
	if len(root) != 64 {
		t.Errorf("expected a sha-256 root hex, got %q", root)
	}
}

func TestAuditOverview_401_withoutKey(t *testing.T) {
	router, _ := setupAuditRouter(t)

	w := getJSON(t, router, "/admin/audit", nil)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestAuditVerify_valid(t *testing.T) {
	router, ledger := setupAuditRouter(t)
	ledger.Append(context.Background(), "did:prism:doc-1", audit.ActionDocumentRegistered, "admin", nil)
	ledger.Append(context.Background(), "did:prism:doc-1", audit.ActionDownloadCompleted, "carol@techcorp.com", nil)

	w := getJSON(t, router, "/admin/audit/verify", adminHeaders())

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeBody(t, w)
	if resp["valid"] != true {
		t.Errorf("expected valid=true, got %v", resp["valid"])
	}
}

func TestAuditListEntries_paginated(t *testing.T) {
	router, ledger := setupAuditRouter(t)
	for i := 0; i < 5; i++ {
		ledger.Append(context.Background(), "did:prism:doc-1", audit.ActionDownloadCompleted, "carol@techcorp.com", nil)
	}

	w := getJSON(t, router, "/admin/audit/entries?offset=1&limit=3", adminHeaders())

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeBody(t, w)
	if int(resp["count"].(float64)) != 3 {
		t.Errorf("expected 3 entries, got %v", resp["count"])
	}
	entries, _ := resp["entries"].([]any)
	first, _ := entries[0].(map[string]any)
	if int(first["index"].(float64)) != 1 {
		t.Errorf("expected the page to start at index 1, got %v", first["index"])
	}
}

func TestAuditListEntries_400_badLimit(t *testing.T) {
	router, _ := setupAuditRouter(t)

	w := getJSON(t, router, "/admin/audit/entries?limit=0", adminHeaders())

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestAuditGetEntry_200_genesis(t *testing.T) {
	router, _ := setupAuditRouter(t)

	w := getJSON(t, router, "/admin/audit/entries/0", adminHeaders())

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeBody(t, w)
	entry, _ := resp["entry"].(map[string]any)
	if entry["action"] != audit.ActionGenesis {
		t.Errorf("expected the genesis entry, got %v", entry)
	}
}

func TestAuditGetEntry_404(t *testing.T) {
	router, _ := setupAuditRouter(t)

	w := getJSON(t, router, "/admin/audit/entries/999", adminHeaders())

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestAuditGetEntry_400_invalidIdx(t *testing.T) {
	router, _ := setupAuditRouter(t)

	w := getJSON(t, router, "/admin/audit/entries/abc", adminHeaders())

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
