package service_test

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/techcorp/docbroker/internal/apperr"
	"github.com/techcorp/docbroker/internal/audit"
	"github.com/techcorp/docbroker/internal/classify"
	"github.com/techcorp/docbroker/internal/registry/model"
	"github.com/techcorp/docbroker/internal/registry/repository"
	"github.com/techcorp/docbroker/internal/registry/service"
)

var (
	ctx        = context.Background()
	testSecret = []byte("section-secret-for-tests")
)

// fakeStore keeps the registry in memory and records every save.
type fakeStore struct {
	mu    sync.Mutex
	docs  map[string]*model.Record
	saves int
}

func (f *fakeStore) Save(documents map[string]*model.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = make(map[string]*model.Record, len(documents))
	for k, v := range documents {
		f.docs[k] = v
	}
	f.saves++
	return nil
}

func (f *fakeStore) Load() (map[string]*model.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docs, nil
}

// fakeHidden is an in-memory hiddenStore.
type fakeHidden struct {
	mu  sync.Mutex
	set map[string]map[string]bool
}

func newFakeHidden() *fakeHidden {
	return &fakeHidden{set: make(map[string]map[string]bool)}
}

func (f *fakeHidden) Hide(companyID, connectionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.set[companyID] == nil {
		f.set[companyID] = make(map[string]bool)
	}
	f.set[companyID][connectionID] = true
	return nil
}

func (f *fakeHidden) IsHidden(companyID, connectionID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.set[companyID][connectionID]
}

func (f *fakeHidden) HiddenFor(companyID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id := range f.set[companyID] {
		ids = append(ids, id)
	}
	return ids
}

func newTestService(t *testing.T) (*service.DocumentService, *fakeStore) {
	t.Helper()
	store := &fakeStore{}
	svc, err := service.NewDocumentService(store, newFakeHidden(), testSecret, audit.New(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return svc, store
}

func registerReq(did string, level string, companies ...string) *model.RegisterRequest {
	return &model.RegisterRequest{
		DocumentDID:          did,
		Title:                "Quarterly Report",
		ClassificationLevel:  level,
		ReleasableTo:         companies,
		ContentEncryptionKey: "envelope:file-1",
	}
}

// ── Register ─────────────────────────────────────────────────────────────────

func TestRegister_buildsRecord(t *testing.T) {
	svc, store := newTestService(t)

	rec, err := svc.Register(ctx, registerReq("did:prism:doc1", "CONFIDENTIAL", "did:prism:ACME"))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if rec.OverallClassification != classify.Confidential {
		t.Errorf("classification = %v", rec.OverallClassification)
	}
	if rec.Filter == nil || !rec.Filter.Test("did:prism:ACME") {
		t.Error("releasability filter missing or not seeded")
	}
	if _, ok := rec.EncryptedMetadata["did:prism:ACME"]; !ok {
		t.Error("no encrypted metadata slice for the company")
	}
	if rec.CreatedAt.IsZero() || !rec.CreatedAt.Equal(rec.UpdatedAt) {
		t.Errorf("timestamps: created=%v updated=%v", rec.CreatedAt, rec.UpdatedAt)
	}
	if store.saves != 1 {
		t.Errorf("saves = %d, want 1", store.saves)
	}
}

func TestRegister_duplicate(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.Register(ctx, registerReq("did:prism:doc1", "INTERNAL", "did:prism:ACME")); err != nil {
		t.Fatal(err)
	}
	_, err := svc.Register(ctx, registerReq("did:prism:doc1", "INTERNAL", "did:prism:ACME"))
	if apperr.KindOf(err) != apperr.Conflict {
		t.Fatalf("duplicate register: %v, want Conflict", err)
	}
}

func TestRegister_invalidInput(t *testing.T) {
	svc, store := newTestService(t)

	_, err := svc.Register(ctx, registerReq("did:prism:doc1", "SECRET", "did:prism:ACME"))
	if apperr.KindOf(err) != apperr.InputInvalid {
		t.Fatalf("bad level: %v, want InputInvalid", err)
	}
	if store.saves != 0 {
		t.Error("invalid request must not persist")
	}
}

// ── Discover ─────────────────────────────────────────────────────────────────

func TestDiscover_filtersByCompanyAndClearance(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Register(ctx, registerReq("did:prism:doc1", "CONFIDENTIAL", "did:prism:ACME")); err != nil {
		t.Fatal(err)
	}

	// Wrong company, ample clearance.
	got, err := svc.Discover(ctx, "did:prism:TECHCORP", classify.Restricted)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("foreign company sees %d documents, want 0", len(got))
	}

	// Right company, no clearance credential (treated as INTERNAL).
	got, err = svc.Discover(ctx, "did:prism:ACME", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("unclassified caller sees %d documents, want 0", len(got))
	}

	// Right company, matching clearance.
	got, err = svc.Discover(ctx, "did:prism:ACME", classify.Confidential)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].DocumentID != "did:prism:doc1" {
		t.Fatalf("discover = %+v, want exactly doc1", got)
	}
	if got[0].Metadata["title"] != "Quarterly Report" {
		t.Errorf("decrypted metadata = %v", got[0].Metadata)
	}
	if got[0].Metadata["classification"] != "CONFIDENTIAL" {
		t.Errorf("metadata classification = %v", got[0].Metadata["classification"])
	}
}

func TestDiscover_newestFirst(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Register(ctx, registerReq("did:prism:older", "INTERNAL", "did:prism:ACME")); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := svc.Register(ctx, registerReq("did:prism:newer", "INTERNAL", "did:prism:ACME")); err != nil {
		t.Fatal(err)
	}

	got, err := svc.Discover(ctx, "did:prism:ACME", classify.TopSecret)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].DocumentID != "did:prism:newer" {
		t.Errorf("order = %v", []string{got[0].DocumentID, got[1].DocumentID})
	}
}

// ── Authorize ────────────────────────────────────────────────────────────────

func TestAuthorize(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Register(ctx, registerReq("did:prism:doc1", "RESTRICTED", "did:prism:ACME")); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Authorize("did:prism:doc1", "did:prism:ACME", classify.Restricted); err != nil {
		t.Errorf("authorized caller rejected: %v", err)
	}

	_, err := svc.Authorize("did:prism:doc1", "did:prism:GLOBEX", classify.TopSecret)
	if apperr.KindOf(err) != apperr.AccessDenied {
		t.Errorf("foreign company: %v, want AccessDenied", err)
	}

	_, err = svc.Authorize("did:prism:doc1", "did:prism:ACME", classify.Confidential)
	if apperr.KindOf(err) != apperr.AccessDenied {
		t.Errorf("low clearance: %v, want AccessDenied", err)
	}
	if err != nil && !strings.Contains(err.Error(), "insufficient clearance") {
		t.Errorf("denial message = %q", err)
	}

	_, err = svc.Authorize("did:prism:ghost", "did:prism:ACME", classify.TopSecret)
	if apperr.KindOf(err) != apperr.NotFound {
		t.Errorf("unknown document: %v, want NotFound", err)
	}
}

func TestAuthorize_zeroClearanceIsInternal(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Register(ctx, registerReq("did:prism:memo", "INTERNAL", "did:prism:ACME")); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Authorize("did:prism:memo", "did:prism:ACME", 0); err != nil {
		t.Errorf("INTERNAL document should be readable without a clearance credential: %v", err)
	}
}

// ── Persistence through the real signed store ────────────────────────────────

func TestService_survivesRestartWithSignedStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "document-registry.json")
	key := []byte("signature-key")

	svc, err := service.NewDocumentService(repository.NewSignedStore(path, key), newFakeHidden(), testSecret, nil, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Register(ctx, registerReq("did:prism:doc1", "CONFIDENTIAL", "did:prism:ACME")); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Register(ctx, registerReq("did:prism:doc2", "RESTRICTED", "did:prism:ACME")); err != nil {
		t.Fatal(err)
	}

	restarted, err := service.NewDocumentService(repository.NewSignedStore(path, key), newFakeHidden(), testSecret, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if restarted.Count() != 2 {
		t.Errorf("documents after restart = %d, want 2", restarted.Count())
	}

	got, err := restarted.Discover(ctx, "did:prism:ACME", classify.Restricted)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("discover after restart = %d documents, want 2", len(got))
	}
	if got[0].Metadata["title"] != "Quarterly Report" {
		t.Errorf("metadata after restart = %v", got[0].Metadata)
	}
}

// ── Section metadata updates ─────────────────────────────────────────────────

func TestTouchSectionMetadata(t *testing.T) {
	svc, store := newTestService(t)
	rec, err := svc.Register(ctx, registerReq("did:prism:doc1", "INTERNAL", "did:prism:ACME"))
	if err != nil {
		t.Fatal(err)
	}
	created := rec.CreatedAt

	time.Sleep(5 * time.Millisecond)
	err = svc.TouchSectionMetadata("did:prism:doc1", &model.SectionSummary{
		SectionCount: 3,
		LevelCounts:  map[string]int{"INTERNAL": 3},
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := svc.Get("did:prism:doc1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Metadata.SectionMetadata == nil || got.Metadata.SectionMetadata.SectionCount != 3 {
		t.Errorf("section metadata = %+v", got.Metadata.SectionMetadata)
	}
	if !got.UpdatedAt.After(created) {
		t.Error("UpdatedAt not bumped")
	}
	if store.saves != 2 {
		t.Errorf("saves = %d, want 2", store.saves)
	}

	if err := svc.TouchSectionMetadata("did:prism:ghost", nil); apperr.KindOf(err) != apperr.NotFound {
		t.Errorf("unknown document: %v, want NotFound", err)
	}
}

// ── Soft-deleted connections ─────────────────────────────────────────────────

func TestHideConnection(t *testing.T) {
	svc, _ := newTestService(t)

	if err := svc.HideConnection(ctx, "did:prism:ACME", "conn-1"); err != nil {
		t.Fatal(err)
	}
	if !svc.ConnectionHidden("did:prism:ACME", "conn-1") {
		t.Error("conn-1 should be hidden")
	}
	if svc.ConnectionHidden("did:prism:GLOBEX", "conn-1") {
		t.Error("conn-1 hidden for the wrong company")
	}
	if got := svc.HiddenConnections("did:prism:ACME"); len(got) != 1 {
		t.Errorf("hidden = %v", got)
	}
}
