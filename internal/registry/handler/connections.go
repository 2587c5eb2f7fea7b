package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/techcorp/docbroker/internal/agent"
	"github.com/techcorp/docbroker/internal/apperr"
	"github.com/techcorp/docbroker/internal/auth"
)

// connectionClient is the slice of the tenant agent API the connections
// handler needs.
type connectionClient interface {
	ListConnections(ctx context.Context) ([]agent.Connection, error)
	DeleteConnection(ctx context.Context, connectionID string) error
}

// connectionHider records soft-deleted connections per company, satisfied by
// *service.DocumentService.
type connectionHider interface {
	HideConnection(ctx context.Context, companyID, connectionID string) error
	ConnectionHidden(companyID, connectionID string) bool
}

// ConnectionsHandler lists and deletes the tenant agent's DIDComm
// connections. Identus refuses to delete an established connection, so those
// are soft-deleted: hidden from listings but kept alive on the agent.
type ConnectionsHandler struct {
	conns    connectionClient
	hider    connectionHider
	sessions *auth.Sessions
	logger   *zap.Logger
}

// NewConnectionsHandler creates a ConnectionsHandler.
func NewConnectionsHandler(conns connectionClient, hider connectionHider, sessions *auth.Sessions, logger *zap.Logger) *ConnectionsHandler {
	return &ConnectionsHandler{conns: conns, hider: hider, sessions: sessions, logger: logger}
}

// Register mounts the connection routes on the given router group.
func (h *ConnectionsHandler) Register(rg *gin.RouterGroup) {
	cg := rg.Group("/connections", auth.RequireSession(h.sessions))
	{
		cg.GET("", h.List)
		cg.DELETE("/:connectionId", h.Delete)
	}
}

// List handles GET /connections — lists the tenant's connections minus any
// the session's company has soft-deleted.
func (h *ConnectionsHandler) List(c *gin.Context) {
	sess := auth.SessionFromCtx(c)

	all, err := h.conns.ListConnections(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	visible := make([]agent.Connection, 0, len(all))
	for _, conn := range all {
		if h.hider.ConnectionHidden(sess.IssuerDID, conn.ConnectionID) {
			continue
		}
		visible = append(visible, conn)
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"connections": visible,
		"count":       len(visible),
	})
}

// Delete handles DELETE /connections/:connectionId — deletes the connection
// on the agent, falling back to a soft delete when the agent refuses.
func (h *ConnectionsHandler) Delete(c *gin.Context) {
	sess := auth.SessionFromCtx(c)
	connectionID := c.Param("connectionId")

	if h.hider.ConnectionHidden(sess.IssuerDID, connectionID) {
		respondError(c, h.logger, apperr.Newf(apperr.NotFound, "no connection %s", connectionID))
		return
	}

	err := h.conns.DeleteConnection(c.Request.Context(), connectionID)
	if err == nil {
		c.JSON(http.StatusOK, gin.H{
			"success":     true,
			"deleted":     true,
			"softDeleted": false,
		})
		return
	}

	if !errors.Is(err, agent.ErrInvalidStateForOperation) {
		respondError(c, h.logger, err)
		return
	}

	if err := h.hider.HideConnection(c.Request.Context(), sess.IssuerDID, connectionID); err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"deleted":     true,
		"softDeleted": true,
		"message":     "the agent keeps established connections; this one is hidden from listings",
	})
}
