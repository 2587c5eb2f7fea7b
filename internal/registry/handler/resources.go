package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/techcorp/docbroker/internal/apperr"
	"github.com/techcorp/docbroker/internal/resourceauth"
)

// resourceAuthSvc is the interface expected by ResourcesHandler, satisfied by
// *resourceauth.Service.
type resourceAuthSvc interface {
	Initiate(ctx context.Context, resourceID, employeeIdentifier string) (*resourceauth.Authorization, error)
	Status(ctx context.Context, sessionID string) (*resourceauth.Authorization, error)
	RequestClearance(ctx context.Context, sessionID, personalConnectionID string) (*resourceauth.Authorization, error)
	Verify(ctx context.Context, sessionID string) (*resourceauth.Authorization, error)
}

// resourcePolicy lists the protected resources, satisfied by
// *resourceauth.Policy.
type resourcePolicy interface {
	Resources() []resourceauth.Resource
}

// ResourcesHandler handles the dual-VP resource authorization flow. The
// endpoints are wallet-driven and carry no portal session; each authorization
// attempt is keyed by its own short-lived session ID.
type ResourcesHandler struct {
	authz  resourceAuthSvc
	policy resourcePolicy
	logger *zap.Logger
}

// NewResourcesHandler creates a ResourcesHandler.
func NewResourcesHandler(authz resourceAuthSvc, policy resourcePolicy, logger *zap.Logger) *ResourcesHandler {
	return &ResourcesHandler{authz: authz, policy: policy, logger: logger}
}

// Register mounts the resource authorization routes on the given router group.
func (h *ResourcesHandler) Register(rg *gin.RouterGroup) {
	r := rg.Group("/resource/authorize")
	{
		r.POST("/initiate", h.Initiate)
		r.GET("/status/:sessionId", h.Status)
		r.POST("/request-clearance/:sessionId", h.RequestClearance)
		r.POST("/verify/:sessionId", h.Verify)
	}
	rg.GET("/resources", h.ListResources)
}

// ─── Request types ───────────────────────────────────────────────────────────

type initiateAuthorizeRequest struct {
	ResourceID string `json:"resourceId" binding:"required"`
	EmployeeID string `json:"employeeId" binding:"required"`
}

type requestClearanceRequest struct {
	PersonalWalletConnectionID string `json:"personalWalletConnectionId"`
}

// ─── Handlers ────────────────────────────────────────────────────────────────

// ListResources handles GET /resources — lists the protected resources and
// their access requirements.
func (h *ResourcesHandler) ListResources(c *gin.Context) {
	resources := h.policy.Resources()

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"resources": resources,
		"count":     len(resources),
	})
}

// Initiate handles POST /resource/authorize/initiate — opens an
// authorization session and sends the enterprise proof request.
func (h *ResourcesHandler) Initiate(c *gin.Context) {
	var req initiateAuthorizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, apperr.New(apperr.InputInvalid, err.Error()))
		return
	}

	a, err := h.authz.Initiate(c.Request.Context(), req.ResourceID, req.EmployeeID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":                  true,
		"sessionId":                a.SessionID,
		"enterprisePresentationId": a.EnterprisePresentationID,
		"resource":                 a.Resource,
		"status":                   a.Status,
		"expiresAt":                a.ExpiresAt,
	})
}

// Status handles GET /resource/authorize/status/:sessionId — refreshes and
// reports both presentations.
func (h *ResourcesHandler) Status(c *gin.Context) {
	a, err := h.authz.Status(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":              true,
		"sessionId":            a.SessionID,
		"status":               a.Status,
		"enterpriseVpVerified": a.EnterpriseVPVerified,
		"personalVpReceived":   a.PersonalVPReceived,
		"personalVpVerified":   a.PersonalVPVerified,
	})
}

// RequestClearance handles POST /resource/authorize/request-clearance/:sessionId
// — after the enterprise VP verified, sends the clearance proof request to
// the employee's personal wallet under the same challenge.
func (h *ResourcesHandler) RequestClearance(c *gin.Context) {
	// The body is optional: without a connection ID the service falls back
	// to the employee's registered personal wallet connection.
	var req requestClearanceRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, h.logger, apperr.New(apperr.InputInvalid, err.Error()))
			return
		}
	}

	a, err := h.authz.RequestClearance(c.Request.Context(), c.Param("sessionId"), req.PersonalWalletConnectionID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":                true,
		"sessionId":              a.SessionID,
		"personalPresentationId": a.PersonalPresentationID,
		"status":                 a.Status,
	})
}

// Verify handles POST /resource/authorize/verify/:sessionId — refreshes both
// presentations and evaluates the access policy.
func (h *ResourcesHandler) Verify(c *gin.Context) {
	a, err := h.authz.Verify(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"sessionId":  a.SessionID,
		"status":     a.Status,
		"authorized": a.Result.Authorized,
		"result":     a.Result,
	})
}
