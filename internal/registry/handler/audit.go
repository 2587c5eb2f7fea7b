package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/techcorp/docbroker/internal/apperr"
	"github.com/techcorp/docbroker/internal/audit"
)

// AuditHandler exposes read-only endpoints for the audit ledger. The caller
// mounts it on the admin group.
type AuditHandler struct {
	ledger audit.Ledger
	logger *zap.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(ledger audit.Ledger, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{ledger: ledger, logger: logger}
}

// Register mounts the audit routes on the given router group.
func (h *AuditHandler) Register(rg *gin.RouterGroup) {
	a := rg.Group("/audit")
	{
		a.GET("", h.Overview)
		a.GET("/verify", h.Verify)
		a.GET("/entries", h.ListEntries)
		a.GET("/entries/:idx", h.GetEntry)
	}
}

// Overview handles GET /admin/audit — returns the chain length and current
// root hash.
func (h *AuditHandler) Overview(c *gin.Context) {
	ctx := c.Request.Context()

	count, err := h.ledger.Len(ctx)
	if err != nil {
		respondError(c, h.logger, apperr.Wrap(apperr.UpstreamError, "failed to query the audit ledger", err))
		return
	}

	root, err := h.ledger.Root(ctx)
	if err != nil {
		respondError(c, h.logger, apperr.Wrap(apperr.UpstreamError, "failed to query the audit ledger root", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"entries": count,
		"root":    root,
	})
}

// Verify handles GET /admin/audit/verify — walks the full chain and reports
// integrity.
func (h *AuditHandler) Verify(c *gin.Context) {
	if err := h.ledger.Verify(c.Request.Context()); err != nil {
		h.logger.Warn("audit chain integrity check failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"valid":   false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"valid":   true,
	})
}

// ListEntries handles GET /admin/audit/entries — returns a page of entries,
// oldest first.
func (h *AuditHandler) ListEntries(c *gin.Context) {
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		respondError(c, h.logger, apperr.New(apperr.InputInvalid, "offset must be a non-negative integer"))
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 500 {
		respondError(c, h.logger, apperr.New(apperr.InputInvalid, "limit must be between 1 and 500"))
		return
	}

	entries, err := h.ledger.Entries(c.Request.Context(), offset, limit)
	if err != nil {
		respondError(c, h.logger, apperr.Wrap(apperr.UpstreamError, "failed to read the audit ledger", err))
		return
	}
	if entries == nil {
		entries = []*audit.Entry{}
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"entries": entries,
		"offset":  offset,
		"count":   len(entries),
	})
}

// GetEntry handles GET /admin/audit/entries/:idx — returns a single entry.
func (h *AuditHandler) GetEntry(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil || idx < 0 {
		respondError(c, h.logger, apperr.New(apperr.InputInvalid, "idx must be a non-negative integer"))
		return
	}

	entry, err := h.ledger.Get(c.Request.Context(), idx)
	if err != nil {
		respondError(c, h.logger, apperr.Newf(apperr.NotFound, "no audit entry %d", idx))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"entry":   entry,
	})
}
