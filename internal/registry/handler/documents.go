package handler

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/techcorp/docbroker/internal/apperr"
	"github.com/techcorp/docbroker/internal/auth"
	"github.com/techcorp/docbroker/internal/classify"
	"github.com/techcorp/docbroker/internal/registry/model"
	"github.com/techcorp/docbroker/internal/registry/service"
)

// documentSvc is the interface expected by DocumentsHandler, satisfied by
// *service.DocumentService.
type documentSvc interface {
	Discover(ctx context.Context, issuerDID string, clearance classify.Level) ([]model.Summary, error)
	Register(ctx context.Context, req *model.RegisterRequest) (*model.Record, error)
	Upload(ctx context.Context, req *service.UploadRequest) (*model.UploadResult, error)
}

// DocumentsHandler handles registry discovery and the admin ingest paths.
type DocumentsHandler struct {
	docs     documentSvc
	sessions *auth.Sessions
	logger   *zap.Logger
}

// NewDocumentsHandler creates a DocumentsHandler.
func NewDocumentsHandler(docs documentSvc, sessions *auth.Sessions, logger *zap.Logger) *DocumentsHandler {
	return &DocumentsHandler{docs: docs, sessions: sessions, logger: logger}
}

// Register mounts the employee-facing registry routes.
func (h *DocumentsHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/documents/discover", auth.RequireSession(h.sessions), h.Discover)
}

// RegisterAdmin mounts the admin ingest routes. The caller is expected to
// guard rg with the admin-key middleware.
func (h *DocumentsHandler) RegisterAdmin(rg *gin.RouterGroup) {
	rg.POST("/documents/register", h.RegisterDocument)
	rg.POST("/classified-documents/upload", h.Upload)
}

// Discover handles GET /documents/discover — lists the documents the
// session's company released and the session's clearance covers.
func (h *DocumentsHandler) Discover(c *gin.Context) {
	sess := auth.SessionFromCtx(c)

	// The session's company is authoritative. A caller may repeat it in the
	// query but cannot discover on behalf of another issuer.
	if q := c.Query("issuerDID"); q != "" && q != sess.IssuerDID {
		respondError(c, h.logger, apperr.New(apperr.Forbidden,
			"you may only discover documents released to your own company"))
		return
	}

	docs, err := h.docs.Discover(c.Request.Context(), sess.IssuerDID, sess.Clearance)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if docs == nil {
		docs = []model.Summary{}
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"documents":      docs,
		"count":          len(docs),
		"clearanceLevel": sess.ClearanceLabel(),
	})
}

// RegisterDocument handles POST /documents/register — registers a document
// whose sections were encrypted by the publishing company.
func (h *DocumentsHandler) RegisterDocument(c *gin.Context) {
	var req model.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, apperr.New(apperr.InputInvalid, err.Error()))
		return
	}

	rec, err := h.docs.Register(c.Request.Context(), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":               true,
		"documentDID":           rec.DocumentID,
		"title":                 rec.Title,
		"overallClassification": rec.OverallClassification,
		"releasableTo":          len(rec.ReleasableTo),
		"createdAt":             rec.CreatedAt,
	})
}

// Upload handles POST /classified-documents/upload — ingests a tagged
// document (multipart), encrypts it per section, and registers it.
func (h *DocumentsHandler) Upload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		respondError(c, h.logger, apperr.New(apperr.InputInvalid, "a document file is required"))
		return
	}
	if fh.Size > service.MaxUploadBytes {
		respondError(c, h.logger, apperr.Newf(apperr.InputInvalid,
			"file exceeds the %d MB upload limit", service.MaxUploadBytes>>20))
		return
	}

	f, err := fh.Open()
	if err != nil {
		respondError(c, h.logger, apperr.New(apperr.InputInvalid, "unreadable multipart file"))
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		respondError(c, h.logger, apperr.New(apperr.InputInvalid, "unreadable multipart file"))
		return
	}

	releasable := c.PostFormArray("releasableTo")
	if len(releasable) == 1 && strings.Contains(releasable[0], ",") {
		parts := strings.Split(releasable[0], ",")
		releasable = releasable[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				releasable = append(releasable, p)
			}
		}
	}

	res, err := h.docs.Upload(c.Request.Context(), &service.UploadRequest{
		Filename:     fh.Filename,
		File:         data,
		ReleasableTo: releasable,
		Author:       c.PostForm("author"),
		Department:   c.PostForm("department"),
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":               true,
		"documentDID":           res.DocumentDID,
		"title":                 res.Title,
		"overallClassification": res.OverallClassification,
		"sectionCount":          res.SectionCount,
		"clearanceLevelStats":   res.ClearanceLevelStats,
		"sourceFormat":          res.SourceFormat,
	})
}
