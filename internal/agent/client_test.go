package agent_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/techcorp/docbroker/internal/agent"
)

// ── Stub agent ──────────────────────────────────────────────────────────

func stubAgentServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/wallets", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-admin-api-key") == "" {
			http.Error(w, `{"detail":"admin key required"}`, http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": "wallet-1", "name": "alice"})
	})

	mux.HandleFunc("/iam/entities", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": "entity-1", "name": "alice", "walletId": "wallet-1"})
	})

	mux.HandleFunc("/iam/apikey-authentication", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	mux.HandleFunc("/connections", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			if r.Header.Get("apikey") == "" {
				http.Error(w, `{"detail":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{
				"connectionId": "conn-1",
				"state":        "InvitationGenerated",
				"invitation": map[string]string{
					"id":            "inv-1",
					"invitationUrl": "https://agent.example.com/path?_oob=eyJpZCI6Imludi0xIn0",
				},
			})
		case http.MethodGet:
			json.NewEncoder(w).Encode(map[string]any{
				"contents": []map[string]any{
					{"connectionId": "conn-1", "state": "ConnectionResponseSent"},
					{"connectionId": "conn-2", "state": "InvitationGenerated"},
				},
			})
		}
	})

	mux.HandleFunc("/connections/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/connections/")
		if r.Method == http.MethodDelete {
			if id == "conn-stuck" {
				http.Error(w, `{"detail":"InvalidStateForOperation: cannot delete"}`, http.StatusForbidden)
				return
			}
			w.WriteHeader(http.StatusOK)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"connectionId": id, "state": "ConnectionResponseSent"})
	})

	mux.HandleFunc("/present-proof/presentations", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ConnectionID string `json:"connectionId"`
			Options      struct {
				Challenge string `json:"challenge"`
				Domain    string `json:"domain"`
			} `json:"options"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.Options.Challenge == "" || body.Options.Domain == "" {
			http.Error(w, `{"detail":"missing options"}`, http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"presentationId": "pres-1",
			"status":         "RequestPending",
			"connectionId":   body.ConnectionID,
		})
	})

	mux.HandleFunc("/present-proof/presentations/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/present-proof/presentations/")
		json.NewEncoder(w).Encode(map[string]any{
			"presentationId": id,
			"status":         "PresentationVerified",
			"data":           []string{"header.payload.sig"},
		})
	})

	mux.HandleFunc("/schema-registry/schemas", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			http.Error(w, `{"detail":"duplicate schema"}`, http.StatusConflict)
		case http.MethodGet:
			json.NewEncoder(w).Encode(map[string]any{
				"contents": []map[string]string{{"guid": "schema-guid-1", "name": "EmployeeRole"}},
			})
		}
	})

	mux.HandleFunc("/_system/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"version": "1.33.0"})
	})

	return httptest.NewServer(mux)
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestCreateWallet_usesAdminKey(t *testing.T) {
	srv := stubAgentServer(t)
	defer srv.Close()

	c := agent.New(srv.URL, "tenant-key", agent.WithAdminKey("admin-key"))
	w, err := c.CreateWallet(context.Background(), "alice")
	if err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}
	if w.ID != "wallet-1" {
		t.Errorf("wallet id = %q", w.ID)
	}
}

func TestCreateWallet_missingAdminKey(t *testing.T) {
	srv := stubAgentServer(t)
	defer srv.Close()

	c := agent.New(srv.URL, "") // no keys at all
	_, err := c.CreateWallet(context.Background(), "alice")
	if err == nil {
		t.Fatal("expected error without admin key")
	}
	var apiErr *agent.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Errorf("expected APIError 401, got %v", err)
	}
}

func TestCreateConnection_success(t *testing.T) {
	srv := stubAgentServer(t)
	defer srv.Close()

	c := agent.New(srv.URL, "tenant-key")
	conn, err := c.CreateConnection(context.Background(), "TechCorp HR", "onboarding")
	if err != nil {
		t.Fatalf("CreateConnection: %v", err)
	}
	if conn.ConnectionID != "conn-1" {
		t.Errorf("connection id = %q", conn.ConnectionID)
	}
	if got := conn.Invitation.OOB(); got != "eyJpZCI6Imludi0xIn0" {
		t.Errorf("OOB() = %q", got)
	}
}

func TestDeleteConnection_invalidState(t *testing.T) {
	srv := stubAgentServer(t)
	defer srv.Close()

	c := agent.New(srv.URL, "tenant-key")
	err := c.DeleteConnection(context.Background(), "conn-stuck")
	if !errors.Is(err, agent.ErrInvalidStateForOperation) {
		t.Fatalf("expected ErrInvalidStateForOperation, got %v", err)
	}

	if err := c.DeleteConnection(context.Background(), "conn-1"); err != nil {
		t.Fatalf("DeleteConnection(conn-1): %v", err)
	}
}

func TestCreateProofRequest_sendsChallengeAndDomain(t *testing.T) {
	srv := stubAgentServer(t)
	defer srv.Close()

	c := agent.New(srv.URL, "tenant-key")
	pres, err := c.CreateProofRequest(context.Background(), "conn-1", agent.ProofOptions{
		Challenge: "abc123",
		Domain:    "employee-portal.techcorp.com",
	}, "login")
	if err != nil {
		t.Fatalf("CreateProofRequest: %v", err)
	}
	if pres.PresentationID != "pres-1" || pres.Status != agent.PresentationStateRequestPending {
		t.Errorf("unexpected presentation: %+v", pres)
	}
}

func TestGetProofRequest_returnsData(t *testing.T) {
	srv := stubAgentServer(t)
	defer srv.Close()

	c := agent.New(srv.URL, "tenant-key")
	pres, err := c.GetProofRequest(context.Background(), "pres-1")
	if err != nil {
		t.Fatalf("GetProofRequest: %v", err)
	}
	if pres.Status != agent.PresentationStateVerified {
		t.Errorf("status = %q", pres.Status)
	}
	if len(pres.Data) != 1 || pres.Data[0] != "header.payload.sig" {
		t.Errorf("data = %v", pres.Data)
	}
}

func TestEnsureSchema_conflictResolvedByLookup(t *testing.T) {
	srv := stubAgentServer(t)
	defer srv.Close()

	c := agent.New(srv.URL, "tenant-key")
	guid, err := c.EnsureSchema(context.Background(), "EmployeeRole", "1.0.0",
		map[string]any{"role": map[string]string{"type": "string"}}, "did:prism:issuer")
	if err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if guid != "schema-guid-1" {
		t.Errorf("guid = %q", guid)
	}
}

func TestWaitForPublication_immediate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"did":    "did:prism:abc",
			"status": "PUBLISHED",
		})
	}))
	defer srv.Close()

	c := agent.New(srv.URL, "k")
	d, err := c.WaitForPublication(context.Background(), "did:prism:abc", time.Second)
	if err != nil {
		t.Fatalf("WaitForPublication: %v", err)
	}
	if d.Status != agent.DIDStatusPublished {
		t.Errorf("status = %q", d.Status)
	}
}

func TestScoped_swapsAPIKey(t *testing.T) {
	var lastKey atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastKey.Store(r.Header.Get("apikey"))
		json.NewEncoder(w).Encode(map[string]any{"contents": []any{}})
	}))
	defer srv.Close()

	c := agent.New(srv.URL, "company-key")
	if _, err := c.ListConnections(context.Background()); err != nil {
		t.Fatal(err)
	}
	if lastKey.Load() != "company-key" {
		t.Errorf("apikey = %v", lastKey.Load())
	}

	if _, err := c.Scoped("employee-key").ListConnections(context.Background()); err != nil {
		t.Fatal(err)
	}
	if lastKey.Load() != "employee-key" {
		t.Errorf("scoped apikey = %v", lastKey.Load())
	}
}

func TestHealth(t *testing.T) {
	srv := stubAgentServer(t)
	defer srv.Close()

	c := agent.New(srv.URL, "k")
	v, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if v != "1.33.0" {
		t.Errorf("version = %q", v)
	}
}
