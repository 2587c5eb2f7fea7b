package handler_test

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/techcorp/docbroker/internal/apperr"
	"github.com/techcorp/docbroker/internal/auth"
	"github.com/techcorp/docbroker/internal/classify"
	"github.com/techcorp/docbroker/internal/registry/handler"
	"github.com/techcorp/docbroker/internal/registry/model"
	"github.com/techcorp/docbroker/internal/registry/service"
)

const testAdminKey = "admin-key-1"

// ── Stub document service ────────────────────────────────────────────────

type stubDocs struct {
	summaries []model.Summary
	record    *model.Record
	upload    *model.UploadResult
	err       error

	gotIssuer    string
	gotClearance classify.Level
	gotRegister  *model.RegisterRequest
	gotUpload    *service.UploadRequest
}

func (s *stubDocs) Discover(_ context.Context, issuerDID string, clearance classify.Level) ([]model.Summary, error) {
	s.gotIssuer = issuerDID
	s.gotClearance = clearance
	if s.err != nil {
		return nil, s.err
	}
	return s.summaries, nil
}

func (s *stubDocs) Register(_ context.Context, req *model.RegisterRequest) (*model.Record, error) {
	s.gotRegister = req
	if s.err != nil {
		return nil, s.err
	}
	return s.record, nil
}

func (s *stubDocs) Upload(_ context.Context, req *service.UploadRequest) (*model.UploadResult, error) {
	s.gotUpload = req
	if s.err != nil {
		return nil, s.err
	}
	return s.upload, nil
}

func setupDocsRouter(t *testing.T, stub *stubDocs) (*gin.Engine, *auth.Sessions) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	sessions := auth.NewSessions(time.Hour)
	r := gin.New()
	h := handler.NewDocumentsHandler(stub, sessions, zap.NewNop())
	h.Register(r.Group(""))
	h.RegisterAdmin(r.Group("", auth.RequireAdminKey(testAdminKey)))
	return r, sessions
}

// newSessionToken opens a session for tests that exercise guarded routes.
func newSessionToken(t *testing.T, sessions *auth.Sessions, clearance classify.Level) string {
	t.Helper()
	token, err := sessions.Create(&auth.Session{
		ConnectionID: "conn-carol",
		EmployeeDID:  "did:prism:employee-carol",
		EmployeeID:   "EMP-0042",
		FullName:     "Carol Vance",
		Email:        "carol@techcorp.com",
		Role:         "Engineer",
		Department:   "Engineering",
		IssuerDID:    "did:prism:issuer-acme",
		Clearance:    clearance,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return token
}

// multipartUpload builds a multipart body with one file part and the given
// form fields. Repeated values use the same field name.
func multipartUpload(t *testing.T, filename string, content []byte, fields map[string][]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	for name, values := range fields {
		for _, v := range values {
			if err := mw.WriteField(name, v); err != nil {
				t.Fatalf("write field %s: %v", name, err)
			}
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestDiscover_200(t *testing.T) {
	stub := &stubDocs{
		summaries: []model.Summary{
			{DocumentID: "did:prism:doc-1", Title: "Q3 Roadmap", ClassificationLevel: classify.Confidential},
			{DocumentID: "did:prism:doc-2", Title: "Budget", ClassificationLevel: classify.Internal},
		},
	}
	router, sessions := setupDocsRouter(t, stub)
	token := newSessionToken(t, sessions, classify.Confidential)

	w := getJSON(t, router, "/documents/discover", map[string]string{"X-Session-Token": token})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if stub.gotIssuer != "did:prism:issuer-acme" {
		t.Errorf("expected the session issuer, got %q", stub.gotIssuer)
	}
	if stub.gotClearance != classify.Confidential {
		t.Errorf("expected the session clearance, got %v", stub.gotClearance)
	}
	resp := decodeBody(t, w)
	if int(resp["count"].(float64)) != 2 {
		t.Errorf("expected count 2, got %v", resp["count"])
	}
	if resp["clearanceLevel"] != "CONFIDENTIAL" {
		t.Errorf("expected clearanceLevel CONFIDENTIAL, got %v", resp["clearanceLevel"])
	}
	docs, _ := resp["documents"].([]any)
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}
	first, _ := docs[0].(map[string]any)
	if first["classificationLevel"] != "CONFIDENTIAL" {
		t.Errorf("expected the classification label, got %v", first["classificationLevel"])
	}
}

func TestDiscover_401_withoutSession(t *testing.T) {
	router, _ := setupDocsRouter(t, &stubDocs{})

	w := getJSON(t, router, "/documents/discover", nil)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestDiscover_403_foreignIssuer(t *testing.T) {
	router, sessions := setupDocsRouter(t, &stubDocs{})
	token := newSessionToken(t, sessions, classify.Confidential)

	w := getJSON(t, router, "/documents/discover?issuerDID=did:prism:issuer-globex",
		map[string]string{"X-Session-Token": token})

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeBody(t, w)
	if resp["error"] != "FORBIDDEN" {
		t.Errorf("expected FORBIDDEN, got %v", resp["error"])
	}
}

func TestRegisterDocument_201(t *testing.T) {
	stub := &stubDocs{
		record: &model.Record{
			DocumentID:            "did:prism:doc-9",
			Title:                 "Merger Notes",
			OverallClassification: classify.Restricted,
			ReleasableTo:          []string{"did:prism:issuer-acme"},
			CreatedAt:             time.Now().UTC(),
		},
	}
	router, _ := setupDocsRouter(t, stub)

	body := map[string]any{
		"documentDID":          "did:prism:doc-9",
		"title":                "Merger Notes",
		"classificationLevel":  "RESTRICTED",
		"releasableTo":         []string{"did:prism:issuer-acme"},
		"contentEncryptionKey": "a2V5LW1hdGVyaWFs",
	}
	w := postJSON(t, router, "/documents/register", body, map[string]string{"X-Admin-Api-Key": testAdminKey})

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if stub.gotRegister == nil || stub.gotRegister.DocumentDID != "did:prism:doc-9" {
		t.Fatalf("register request not forwarded: %+v", stub.gotRegister)
	}
	resp := decodeBody(t, w)
	if resp["overallClassification"] != "RESTRICTED" {
		t.Errorf("expected RESTRICTED, got %v", resp["overallClassification"])
	}
}

func TestRegisterDocument_401_withoutAdminKey(t *testing.T) {
	router, _ := setupDocsRouter(t, &stubDocs{})

	w := postJSON(t, router, "/documents/register", map[string]any{}, nil)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", w.Code, w.Body.String())
	}
}

func TestUpload_201_multipart(t *testing.T) {
	stub := &stubDocs{
		upload: &model.UploadResult{
			DocumentDID:           "did:prism:doc-up",
			Title:                 "briefing",
			OverallClassification: classify.TopSecret,
			SectionCount:          4,
			ClearanceLevelStats:   map[string]int{"INTERNAL": 1, "TOP-SECRET": 3},
			SourceFormat:          "text",
		},
	}
	router, _ := setupDocsRouter(t, stub)

	content := []byte("[INTERNAL] hello [/INTERNAL][TOP-SECRET] launch codes [/TOP-SECRET]")
	body, contentType := multipartUpload(t, "briefing.txt", content, map[string][]string{
		"releasableTo": {"did:prism:issuer-acme", "did:prism:issuer-globex"},
		"author":       {"carol@techcorp.com"},
	})

	req := httptest.NewRequest(http.MethodPost, "/classified-documents/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Admin-Api-Key", testAdminKey)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if stub.gotUpload == nil {
		t.Fatal("upload request not forwarded")
	}
	if stub.gotUpload.Filename != "briefing.txt" {
		t.Errorf("expected filename briefing.txt, got %q", stub.gotUpload.Filename)
	}
	if !bytes.Equal(stub.gotUpload.File, content) {
		t.Error("file content not forwarded intact")
	}
	if len(stub.gotUpload.ReleasableTo) != 2 {
		t.Errorf("expected 2 releasableTo entries, got %v", stub.gotUpload.ReleasableTo)
	}
	if stub.gotUpload.Author != "carol@techcorp.com" {
		t.Errorf("expected author forwarded, got %q", stub.gotUpload.Author)
	}
	resp := decodeBody(t, w)
	if int(resp["sectionCount"].(float64)) != 4 {
		t.Errorf("expected sectionCount 4, got %v", resp["sectionCount"])
	}
	if resp["overallClassification"] != "TOP-SECRET" {
		t.Errorf("expected TOP-SECRET, got %v", resp["overallClassification"])
	}
}

func TestUpload_releasableToCommaSplit(t *testing.T) {
	stub := &stubDocs{upload: &model.UploadResult{DocumentDID: "did:prism:doc-up"}}
	router, _ := setupDocsRouter(t, stub)

	body, contentType := multipartUpload(t, "a.txt", []byte("[INTERNAL] x [/INTERNAL]"), map[string][]string{
		"releasableTo": {"did:prism:issuer-acme, did:prism:issuer-globex"},
	})

	req := httptest.NewRequest(http.MethodPost, "/classified-documents/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Admin-Api-Key", testAdminKey)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	want := []string{"did:prism:issuer-acme", "did:prism:issuer-globex"}
	if len(stub.gotUpload.ReleasableTo) != 2 ||
		stub.gotUpload.ReleasableTo[0] != want[0] ||
		stub.gotUpload.ReleasableTo[1] != want[1] {
		t.Errorf("expected %v, got %v", want, stub.gotUpload.ReleasableTo)
	}
}

func TestUpload_400_withoutFile(t *testing.T) {
	router, _ := setupDocsRouter(t, &stubDocs{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("releasableTo", "did:prism:issuer-acme")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/classified-documents/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Admin-Api-Key", testAdminKey)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestUpload_400_propagatesParseError(t *testing.T) {
	stub := &stubDocs{err: apperr.New(apperr.InputInvalid, "no classification markers found")}
	router, _ := setupDocsRouter(t, stub)

	body, contentType := multipartUpload(t, "plain.txt", []byte("no markers here"), map[string][]string{
		"releasableTo": {"did:prism:issuer-acme"},
	})

	req := httptest.NewRequest(http.MethodPost, "/classified-documents/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Admin-Api-Key", testAdminKey)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeBody(t, w)
	if resp["message"] != "no classification markers found" {
		t.Errorf("expected the parse error message, got %v", resp["message"])
	}
}
