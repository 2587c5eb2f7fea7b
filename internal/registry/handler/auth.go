package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/techcorp/docbroker/internal/apperr"
	"github.com/techcorp/docbroker/internal/auth"
)

// loginSvc is the interface expected by AuthHandler, satisfied by
// *auth.LoginService.
type loginSvc interface {
	Initiate(ctx context.Context, identifier string) (*auth.PendingAuth, error)
	Status(ctx context.Context, presentationID string) (string, error)
	Verify(ctx context.Context, presentationID string) (string, *auth.Session, error)
}

// AuthHandler handles the VP-based employee login flow.
type AuthHandler struct {
	login    loginSvc
	sessions *auth.Sessions
	logger   *zap.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(login loginSvc, sessions *auth.Sessions, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{login: login, sessions: sessions, logger: logger}
}

// Register mounts the auth routes on the given router group.
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	a := rg.Group("/auth")
	{
		a.POST("/initiate", h.Initiate)
		a.GET("/status/:presentationId", h.Status)
		a.POST("/verify", h.Verify)
		a.POST("/logout", auth.RequireSession(h.sessions), h.Logout)
	}
	rg.GET("/profile", auth.RequireSession(h.sessions), h.Profile)
}

// ─── Request types ───────────────────────────────────────────────────────────

type initiateLoginRequest struct {
	Identifier string `json:"identifier" binding:"required"`
}

type verifyLoginRequest struct {
	PresentationID string `json:"presentationId" binding:"required"`
}

// ─── Handlers ────────────────────────────────────────────────────────────────

// Initiate handles POST /auth/initiate — opens a proof request against the
// employee's enterprise wallet.
func (h *AuthHandler) Initiate(c *gin.Context) {
	var req initiateLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, apperr.New(apperr.InputInvalid, err.Error()))
		return
	}

	pa, err := h.login.Initiate(c.Request.Context(), req.Identifier)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"presentationId": pa.PresentationID,
		"status":         pa.Status,
	})
}

// Status handles GET /auth/status/:presentationId — polls the proof request.
func (h *AuthHandler) Status(c *gin.Context) {
	status, err := h.login.Status(c.Request.Context(), c.Param("presentationId"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"presentationId": c.Param("presentationId"),
		"status":         status,
	})
}

// Verify handles POST /auth/verify — validates the received presentation and
// opens a session.
func (h *AuthHandler) Verify(c *gin.Context) {
	var req verifyLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, apperr.New(apperr.InputInvalid, err.Error()))
		return
	}

	token, sess, err := h.login.Verify(c.Request.Context(), req.PresentationID)
	RecordLogin(err == nil)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"sessionToken":   token,
		"employee":       sess,
		"clearanceLevel": sess.ClearanceLabel(),
		"training": gin.H{
			"hasTraining":        sess.HasTraining,
			"trainingExpiryDate": sess.TrainingExpiry,
		},
	})
}

// Profile handles GET /profile — returns the authenticated employee.
func (h *AuthHandler) Profile(c *gin.Context) {
	sess := auth.SessionFromCtx(c)

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"employee":       sess,
		"clearanceLevel": sess.ClearanceLabel(),
		"training": gin.H{
			"hasTraining":        sess.HasTraining,
			"trainingExpiryDate": sess.TrainingExpiry,
		},
	})
}

// Logout handles POST /auth/logout — terminates the session.
func (h *AuthHandler) Logout(c *gin.Context) {
	h.sessions.Delete(auth.SessionToken(c))

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "session terminated",
	})
}
