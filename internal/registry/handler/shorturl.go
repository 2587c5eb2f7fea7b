package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/techcorp/docbroker/internal/apperr"
	"github.com/techcorp/docbroker/internal/auth"
	"github.com/techcorp/docbroker/internal/shorturl"
)

// ShortURLHandler shortens portal URLs (typically wallet invitation links)
// and serves the redirects.
type ShortURLHandler struct {
	store    *shorturl.Store
	sessions *auth.Sessions
	baseURL  string
	logger   *zap.Logger
}

// NewShortURLHandler creates a ShortURLHandler. baseURL is the externally
// reachable portal base, used to compose the short links.
func NewShortURLHandler(store *shorturl.Store, sessions *auth.Sessions, baseURL string, logger *zap.Logger) *ShortURLHandler {
	return &ShortURLHandler{
		store:    store,
		sessions: sessions,
		baseURL:  strings.TrimRight(baseURL, "/"),
		logger:   logger,
	}
}

// Register mounts the short-link routes on the given router group.
func (h *ShortURLHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/api/v1/short-urls", auth.RequireSession(h.sessions), h.Shorten)
	rg.GET("/s/:id", h.Resolve)
}

type shortenRequest struct {
	URL string `json:"url" binding:"required"`
}

// Shorten handles POST /api/v1/short-urls — creates a 24-hour short link.
func (h *ShortURLHandler) Shorten(c *gin.Context) {
	var req shortenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, apperr.New(apperr.InputInvalid, err.Error()))
		return
	}

	entry, err := h.store.Shorten(req.URL)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":   true,
		"shortId":   entry.ShortID,
		"shortUrl":  fmt.Sprintf("%s/s/%s", h.baseURL, entry.ShortID),
		"expiresAt": entry.ExpiresAt,
	})
}

// Resolve handles GET /s/:id — redirects to the target, or serves a small
// terminal page once the link has expired.
func (h *ShortURLHandler) Resolve(c *gin.Context) {
	target, err := h.store.Resolve(c.Param("id"))
	if err != nil {
		if apperr.IsKind(err, apperr.Gone) {
			c.Data(http.StatusGone, "text/html; charset=utf-8", []byte(expiredLinkPage))
			return
		}
		respondError(c, h.logger, err)
		return
	}

	c.Redirect(http.StatusFound, target)
}

const expiredLinkPage = `<!DOCTYPE html>
<html>
<head><title>Link expired</title></head>
<body>
<h1>This link has expired</h1>
<p>Short links are valid for 24 hours. Please request a new one from the portal.</p>
</body>
</html>
`
