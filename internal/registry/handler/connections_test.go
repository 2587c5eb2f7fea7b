package handler_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/techcorp/docbroker/internal/agent"
	"github.com/techcorp/docbroker/internal/auth"
	"github.com/techcorp/docbroker/internal/classify"
	"github.com/techcorp/docbroker/internal/registry/handler"
)

// ── Stubs ────────────────────────────────────────────────────────────────

type stubConnClient struct {
	conns   []agent.Connection
	listErr error
	delErr  error
	deleted []string
}

func (s *stubConnClient) ListConnections(_ context.Context) ([]agent.Connection, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.conns, nil
}

func (s *stubConnClient) DeleteConnection(_ context.Context, connectionID string) error {
	if s.delErr != nil {
		return s.delErr
	}
	s.deleted = append(s.deleted, connectionID)
	return nil
}

type stubHider struct {
	hidden    map[string]bool
	hideCalls []string
}

func (s *stubHider) HideConnection(_ context.Context, companyID, connectionID string) error {
	s.hideCalls = append(s.hideCalls, companyID+"/"+connectionID)
	s.hidden[connectionID] = true
	return nil
}

func (s *stubHider) ConnectionHidden(_ string, connectionID string) bool {
	return s.hidden[connectionID]
}

func setupConnectionsRouter(t *testing.T, conns *stubConnClient, hider *stubHider) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	sessions := auth.NewSessions(time.Hour)
	r := gin.New()
	h := handler.NewConnectionsHandler(conns, hider, sessions, zap.NewNop())
	h.Register(r.Group(""))
	return r, newSessionToken(t, sessions, classify.Confidential)
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestConnectionsList_filtersHidden(t *testing.T) {
	conns := &stubConnClient{conns: []agent.Connection{
		{ConnectionID: "conn-1", State: "ConnectionResponseSent"},
		{ConnectionID: "conn-2", State: "ConnectionResponseSent"},
		{ConnectionID: "conn-3", State: "InvitationGenerated"},
	}}
	hider := &stubHider{hidden: map[string]bool{"conn-2": true}}
	router, token := setupConnectionsRouter(t, conns, hider)

	w := getJSON(t, router, "/connections", map[string]string{"X-Session-Token": token})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeBody(t, w)
	if int(resp["count"].(float64)) != 2 {
		t.Errorf("expected 2 visible connections, got %v", resp["count"])
	}
	list, _ := resp["connections"].([]any)
	for _, item := range list {
		conn, _ := item.(map[string]any)
		if conn["connectionId"] == "conn-2" {
			t.Error("soft-deleted connection leaked into the listing")
		}
	}
}

func TestConnectionsDelete_hard(t *testing.T) {
	conns := &stubConnClient{}
	hider := &stubHider{hidden: map[string]bool{}}
	router, token := setupConnectionsRouter(t, conns, hider)

	req := httptest.NewRequest(http.MethodDelete, "/connections/conn-1", nil)
	req.Header.Set("X-Session-Token", token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeBody(t, w)
	if resp["softDeleted"] != false {
		t.Errorf("expected a hard delete, got %v", resp)
	}
	if len(conns.deleted) != 1 || conns.deleted[0] != "conn-1" {
		t.Errorf("expected the agent delete call, got %v", conns.deleted)
	}
	if len(hider.hideCalls) != 0 {
		t.Errorf("expected no soft delete, got %v", hider.hideCalls)
	}
}

func TestConnectionsDelete_softFallback(t *testing.T) {
	conns := &stubConnClient{
		delErr: fmt.Errorf("delete connection conn-1: %w", agent.ErrInvalidStateForOperation),
	}
	hider := &stubHider{hidden: map[string]bool{}}
	router, token := setupConnectionsRouter(t, conns, hider)

	req := httptest.NewRequest(http.MethodDelete, "/connections/conn-1", nil)
	req.Header.Set("X-Session-Token", token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeBody(t, w)
	if resp["softDeleted"] != true {
		t.Errorf("expected a soft delete, got %v", resp)
	}
	if len(hider.hideCalls) != 1 || hider.hideCalls[0] != "did:prism:issuer-acme/conn-1" {
		t.Errorf("expected the hide call for the session company, got %v", hider.hideCalls)
	}

	// The connection is now gone from listings and re-deletion reports 404.
	req = httptest.NewRequest(http.MethodDelete, "/connections/conn-1", nil)
	req.Header.Set("X-Session-Token", token)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on re-delete, got %d: %s", w.Code, w.Body.String())
	}
}

func TestConnectionsDelete_upstreamError(t *testing.T) {
	conns := &stubConnClient{delErr: fmt.Errorf("agent unreachable")}
	hider := &stubHider{hidden: map[string]bool{}}
	router, token := setupConnectionsRouter(t, conns, hider)

	req := httptest.NewRequest(http.MethodDelete, "/connections/conn-1", nil)
	req.Header.Set("X-Session-Token", token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeBody(t, w)
	if resp["message"] != "internal error" {
		t.Errorf("expected the untyped error to be withheld, got %v", resp["message"])
	}
}
