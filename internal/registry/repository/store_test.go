package repository_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/techcorp/docbroker/internal/apperr"
	"github.com/techcorp/docbroker/internal/classify"
	"github.com/techcorp/docbroker/internal/registry/model"
	"github.com/techcorp/docbroker/internal/registry/repository"
)

var testKey = []byte("registry-signature-key-for-tests")

func testRecord(did, title string) *model.Record {
	companies := []string{"did:prism:ACME"}
	return &model.Record{
		DocumentID:            did,
		Title:                 title,
		OverallClassification: classify.Confidential,
		ReleasableTo:          companies,
		Filter:                model.NewReleasabilityFilter(companies),
		ContentEncryptionKey:  "envelope:file-1",
		Storage:               model.StorageRef{FileID: "file-1"},
	}
}

// ── Save / Load round trip ───────────────────────────────────────────────────

func TestSignedStore_roundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "document-registry.json")
	store := repository.NewSignedStore(path, testKey)

	docs := map[string]*model.Record{
		"did:prism:doc1": testRecord("did:prism:doc1", "Q3 Financials"),
		"did:prism:doc2": testRecord("did:prism:doc2", "Merger Plan"),
	}
	if err := store.Save(docs); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// A fresh store over the same file simulates a process restart.
	reloaded, err := repository.NewSignedStore(path, testKey).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(reloaded) != 2 {
		t.Fatalf("reloaded %d documents, want 2", len(reloaded))
	}
	got := reloaded["did:prism:doc1"]
	if got == nil || got.Title != "Q3 Financials" {
		t.Errorf("doc1 = %+v", got)
	}
	if !reloaded["did:prism:doc2"].ReleasableToCompany("did:prism:ACME") {
		t.Error("releasability filter lost across restart")
	}
}

func TestSignedStore_loadMissingFile(t *testing.T) {
	store := repository.NewSignedStore(filepath.Join(t.TempDir(), "nope.json"), testKey)
	docs, err := store.Load()
	if err != nil {
		t.Fatalf("Load on missing file: %v", err)
	}
	if docs != nil {
		t.Errorf("docs = %v, want nil", docs)
	}
}

// ── Tamper detection ─────────────────────────────────────────────────────────

func TestSignedStore_rejectsModifiedState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "document-registry.json")
	store := repository.NewSignedStore(path, testKey)
	if err := store.Save(map[string]*model.Record{
		"did:prism:doc1": testRecord("did:prism:doc1", "Q3 Financials"),
	}); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	tampered := bytes.Replace(raw, []byte("Q3 Financials"), []byte("Q3 Financialz"), 1)
	if bytes.Equal(raw, tampered) {
		t.Fatal("fixture title not found in file")
	}
	if err := os.WriteFile(path, tampered, 0o600); err != nil {
		t.Fatal(err)
	}

	_, err = store.Load()
	if apperr.KindOf(err) != apperr.IntegrityViolation {
		t.Fatalf("Load after tamper: %v, want IntegrityViolation", err)
	}
}

func TestSignedStore_rejectsTruncatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "document-registry.json")
	store := repository.NewSignedStore(path, testKey)
	if err := store.Save(map[string]*model.Record{
		"did:prism:doc1": testRecord("did:prism:doc1", "Q3 Financials"),
	}); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, raw[:len(raw)/2], 0o600); err != nil {
		t.Fatal(err)
	}

	_, err = store.Load()
	if apperr.KindOf(err) != apperr.IntegrityViolation {
		t.Fatalf("Load after truncation: %v, want IntegrityViolation", err)
	}
}

func TestSignedStore_rejectsWrongKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "document-registry.json")
	if err := repository.NewSignedStore(path, testKey).Save(map[string]*model.Record{
		"did:prism:doc1": testRecord("did:prism:doc1", "Q3 Financials"),
	}); err != nil {
		t.Fatal(err)
	}

	_, err := repository.NewSignedStore(path, []byte("another key")).Load()
	if apperr.KindOf(err) != apperr.IntegrityViolation {
		t.Fatalf("Load with wrong key: %v, want IntegrityViolation", err)
	}
}

func TestSignedStore_fileShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "document-registry.json")
	store := repository.NewSignedStore(path, testKey)
	if err := store.Save(map[string]*model.Record{
		"did:prism:doc1": testRecord("did:prism:doc1", "Q3 Financials"),
	}); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var file struct {
		RegistryState struct {
			Version       int               `json:"version"`
			DocumentCount int               `json:"documentCount"`
			Documents     []json.RawMessage `json:"documents"`
		} `json:"registryState"`
		Signature string `json:"signature"`
		SignedAt  string `json:"signedAt"`
	}
	if err := json.Unmarshal(raw, &file); err != nil {
		t.Fatal(err)
	}
	if file.RegistryState.Version != 1 {
		t.Errorf("version = %d, want 1", file.RegistryState.Version)
	}
	if file.RegistryState.DocumentCount != 1 || len(file.RegistryState.Documents) != 1 {
		t.Errorf("documentCount = %d, documents = %d", file.RegistryState.DocumentCount, len(file.RegistryState.Documents))
	}
	if len(file.Signature) != 64 {
		t.Errorf("signature length = %d, want 64 hex chars", len(file.Signature))
	}
	if file.SignedAt == "" {
		t.Error("signedAt missing")
	}
}

// ── Soft-deleted connections ─────────────────────────────────────────────────

func TestHiddenConnections_persistAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "soft-deleted-connections.json")

	h, err := repository.NewHiddenConnections(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Hide("did:prism:ACME", "conn-1"); err != nil {
		t.Fatal(err)
	}
	if err := h.Hide("did:prism:ACME", "conn-2"); err != nil {
		t.Fatal(err)
	}
	if err := h.Hide("did:prism:GLOBEX", "conn-9"); err != nil {
		t.Fatal(err)
	}

	reopened, err := repository.NewHiddenConnections(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reopened.IsHidden("did:prism:ACME", "conn-1") {
		t.Error("conn-1 not hidden after restart")
	}
	if reopened.IsHidden("did:prism:ACME", "conn-9") {
		t.Error("conn-9 hidden for the wrong company")
	}
	got := reopened.HiddenFor("did:prism:ACME")
	if len(got) != 2 || got[0] != "conn-1" || got[1] != "conn-2" {
		t.Errorf("HiddenFor = %v", got)
	}
	if reopened.HiddenFor("did:prism:NOBODY") != nil {
		t.Error("unknown company should have no hidden connections")
	}
}

func TestHiddenConnections_hideIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "soft-deleted-connections.json")
	h, err := repository.NewHiddenConnections(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := h.Hide("did:prism:ACME", "conn-1"); err != nil {
			t.Fatal(err)
		}
	}
	if got := h.HiddenFor("did:prism:ACME"); len(got) != 1 {
		t.Errorf("HiddenFor = %v, want one entry", got)
	}
}
