package onboard_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/techcorp/docbroker/internal/agent"
	"github.com/techcorp/docbroker/internal/audit"
	"github.com/techcorp/docbroker/internal/auth"
	"github.com/techcorp/docbroker/internal/onboard"
)

var ctx = context.Background()

const employeeDID = "did:prism:emp-b7f3"

// stubTenant plays the multi-tenant agent: wallet admin plus the scoped
// wallet surface. It records the API key registered for the new entity and
// insists that wallet-scoped calls use it.
type stubTenant struct {
	mu            sync.Mutex
	registeredKey string
}

func (s *stubTenant) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/wallets", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-admin-api-key") != "admin-secret" {
			http.Error(w, `{"detail":"admin key required"}`, http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": "wallet-1"})
	})
	mux.HandleFunc("/iam/entities", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": "entity-1", "walletId": "wallet-1"})
	})
	mux.HandleFunc("/iam/apikey-authentication", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			APIKey string `json:"apiKey"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		s.registeredKey = body.APIKey
		s.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})

	requireScoped := func(w http.ResponseWriter, r *http.Request) bool {
		s.mu.Lock()
		key := s.registeredKey
		s.mu.Unlock()
		if key == "" || r.Header.Get("apikey") != key {
			http.Error(w, `{"detail":"wrong wallet key"}`, http.StatusUnauthorized)
			return false
		}
		return true
	}

	mux.HandleFunc("/did-registrar/dids", func(w http.ResponseWriter, r *http.Request) {
		if !requireScoped(w, r) {
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"longFormDid": employeeDID + ":longform"})
	})
	mux.HandleFunc("/did-registrar/dids/", func(w http.ResponseWriter, r *http.Request) {
		if !requireScoped(w, r) {
			return
		}
		if strings.HasSuffix(r.URL.Path, "/publications") {
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(map[string]any{
				"scheduledOperation": map[string]string{"id": "op-1"},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"did":    employeeDID,
			"status": agent.DIDStatusPublished,
		})
	})
	mux.HandleFunc("/connection-invitations", func(w http.ResponseWriter, r *http.Request) {
		if !requireScoped(w, r) {
			return
		}
		var body struct {
			Invitation string `json:"invitation"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if body.Invitation != "eyJpbnYiOiJjb21wYW55In0" {
			http.Error(w, `{"detail":"bad oob token"}`, http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"connectionId": "conn-employee", "state": "ConnectionRequestPending"})
	})
	mux.HandleFunc("/connections/", func(w http.ResponseWriter, r *http.Request) {
		if !requireScoped(w, r) {
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/connections/")
		json.NewEncoder(w).Encode(map[string]string{"connectionId": id, "state": agent.ConnectionStateResponseReceived})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// stubEnterprise plays the company issuer agent.
type stubEnterprise struct {
	mu       sync.Mutex
	offers   []map[string]any
	offerErr bool
}

func (s *stubEnterprise) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/connections", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"connectionId": "conn-company",
			"state":        "InvitationGenerated",
			"invitation": map[string]string{
				"invitationUrl": "https://agent.techcorp.com/invite?_oob=eyJpbnYiOiJjb21wYW55In0",
			},
		})
	})
	mux.HandleFunc("/connections/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/connections/")
		json.NewEncoder(w).Encode(map[string]string{"connectionId": id, "state": agent.ConnectionStateResponseSent})
	})
	mux.HandleFunc("/issue-credentials/credential-offers", func(w http.ResponseWriter, r *http.Request) {
		if s.offerErr {
			http.Error(w, `{"detail":"issuance backend down"}`, http.StatusBadGateway)
			return
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		s.offers = append(s.offers, body)
		s.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"recordId": "offer-1", "protocolState": agent.CredentialStateOfferPending})
	})
	mux.HandleFunc("/issue-credentials/records/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/issue-credentials/records/")
		json.NewEncoder(w).Encode(map[string]string{"recordId": id, "protocolState": agent.CredentialStateCredentialSent})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newProvisioner(t *testing.T, tenant *stubTenant, enterprise *stubEnterprise) (*onboard.Provisioner, *auth.Directory, *audit.MemoryLedger) {
	t.Helper()
	dir, err := auth.NewDirectory(t.TempDir() + "/mappings.json")
	if err != nil {
		t.Fatal(err)
	}
	ledger := audit.New()
	tenantClient := agent.New(tenant.server(t).URL, "tenant-key", agent.WithAdminKey("admin-secret"))
	enterpriseClient := agent.New(enterprise.server(t).URL, "enterprise-key")
	p := onboard.NewProvisioner(tenantClient, enterpriseClient, "did:prism:issuer-techcorp", "TechCorp Agent", dir, ledger, zap.NewNop())
	p.SetBudgets(5*time.Second, 5*time.Second, 5*time.Second)
	return p, dir, ledger
}

var request = onboard.Request{
	EmployeeID: "EMP-042",
	FullName:   "Dana Flores",
	Email:      "dana@techcorp.com",
	Role:       "Engineer",
	Department: "Engineering",
}

func TestOnboard(t *testing.T) {
	tenant := &stubTenant{}
	enterprise := &stubEnterprise{}
	p, dir, ledger := newProvisioner(t, tenant, enterprise)

	before, _ := ledger.Len(ctx)
	res, err := p.Onboard(ctx, request)
	if err != nil {
		t.Fatalf("Onboard: %v", err)
	}

	if res.WalletID != "wallet-1" || res.EntityID != "entity-1" {
		t.Errorf("tenancy = %+v", res)
	}
	if !regexp.MustCompile(`^[0-9a-f]{64}$`).MatchString(res.APIKey) {
		t.Errorf("api key = %q", res.APIKey)
	}
	if res.DID != employeeDID {
		t.Errorf("did = %q", res.DID)
	}
	if res.CompanyConnectionID != "conn-company" || res.EmployeeConnectionID != "conn-employee" {
		t.Errorf("connections = %q / %q", res.CompanyConnectionID, res.EmployeeConnectionID)
	}
	if res.CredentialRecordID != "offer-1" {
		t.Errorf("credential record = %q", res.CredentialRecordID)
	}

	if len(res.Steps) != 12 {
		t.Fatalf("steps = %d", len(res.Steps))
	}
	for _, s := range res.Steps {
		if !s.OK {
			t.Errorf("step %s failed", s.Name)
		}
	}
	if res.Steps[0].Name != onboard.StepCreateWallet || res.Steps[11].Name != onboard.StepRecordMapping {
		t.Errorf("step order = %v", res.Steps)
	}

	// The EmployeeRole offer carries the published DID and the role claims.
	if len(enterprise.offers) != 1 {
		t.Fatalf("offers = %d", len(enterprise.offers))
	}
	claims := enterprise.offers[0]["claims"].(map[string]any)
	if claims["prismDid"] != employeeDID || claims["role"] != "Engineer" || claims["email"] != "dana@techcorp.com" {
		t.Errorf("claims = %v", claims)
	}
	if enterprise.offers[0]["automaticIssuance"] != true {
		t.Error("offer not set to automatic issuance")
	}

	// Login can now resolve the employee to the company-side connection.
	emp, err := dir.Resolve("dana@techcorp.com")
	if err != nil {
		t.Fatalf("Resolve after onboarding: %v", err)
	}
	if emp.ConnectionID != "conn-company" || emp.Department != "Engineering" {
		t.Errorf("mapping = %+v", emp)
	}

	if n, _ := ledger.Len(ctx); n != before+1 {
		t.Error("onboarding not recorded in the audit chain")
	}
}

func TestOnboard_reportsFailingStep(t *testing.T) {
	tenant := &stubTenant{}
	enterprise := &stubEnterprise{offerErr: true}
	p, _, _ := newProvisioner(t, tenant, enterprise)

	res, err := p.Onboard(ctx, request)
	if err == nil {
		t.Fatal("offer failure not reported")
	}
	var stepErr *onboard.StepError
	if !errors.As(err, &stepErr) || stepErr.Step != onboard.StepOfferRole {
		t.Fatalf("err = %v, want StepError at %s", err, onboard.StepOfferRole)
	}

	// The partial result keeps everything provisioned before the failure.
	if res.DID != employeeDID || res.CompanyConnectionID != "conn-company" {
		t.Errorf("partial result = %+v", res)
	}
	last := res.Steps[len(res.Steps)-1]
	if last.Name != onboard.StepOfferRole || last.OK {
		t.Errorf("last step = %+v", last)
	}
}

func TestOfferServiceConfiguration(t *testing.T) {
	tenant := &stubTenant{}
	enterprise := &stubEnterprise{}
	p, _, _ := newProvisioner(t, tenant, enterprise)

	res, err := p.Onboard(ctx, request)
	if err != nil {
		t.Fatal(err)
	}
	rec, err := p.OfferServiceConfiguration(ctx, res)
	if err != nil {
		t.Fatalf("OfferServiceConfiguration: %v", err)
	}
	if rec.RecordID != "offer-1" {
		t.Errorf("record = %+v", rec)
	}

	claims := enterprise.offers[len(enterprise.offers)-1]["claims"].(map[string]any)
	if claims["enterpriseAgentApiKey"] != res.APIKey || claims["enterpriseAgentWalletId"] != "wallet-1" {
		t.Errorf("service configuration claims = %v", claims)
	}
	if claims["enterpriseAgentName"] != "TechCorp Agent" {
		t.Errorf("agent name = %v", claims["enterpriseAgentName"])
	}
	if !strings.HasPrefix(claims["enterpriseAgentUrl"].(string), "http://127.0.0.1") {
		t.Errorf("agent url = %v", claims["enterpriseAgentUrl"])
	}
}
