package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/techcorp/docbroker/internal/apperr"
	"github.com/techcorp/docbroker/internal/auth"
	"github.com/techcorp/docbroker/internal/delivery"
)

// deliverySvc is the interface expected by DeliveryHandler, satisfied by
// *delivery.Service.
type deliverySvc interface {
	Prepare(ctx context.Context, documentDID string, recipient delivery.Recipient) (*delivery.PrepareResult, error)
	Complete(ctx context.Context, storageID, walletPublicKey, connectionID string) (*delivery.CompleteResult, error)
	Direct(ctx context.Context, documentDID, walletPublicKey string, recipient delivery.Recipient) (*delivery.DirectResult, error)
	Fetch(ctx context.Context, pickupID string) (*delivery.Pickup, error)
}

// DeliveryHandler handles the two download flows: the two-phase wallet
// delivery (prepare, complete, pickup) and the direct in-session download.
type DeliveryHandler struct {
	delivery deliverySvc
	sessions *auth.Sessions
	logger   *zap.Logger
}

// NewDeliveryHandler creates a DeliveryHandler.
func NewDeliveryHandler(svc deliverySvc, sessions *auth.Sessions, logger *zap.Logger) *DeliveryHandler {
	return &DeliveryHandler{delivery: svc, sessions: sessions, logger: logger}
}

// Register mounts the delivery routes on the given router group.
//
// Prepare and the direct download require a session. Complete and pickup are
// called by the employee's wallet, which holds no session; they are keyed by
// the unguessable storage and pickup IDs instead.
func (h *DeliveryHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/documents/prepare-download/:documentDID", auth.RequireSession(h.sessions), h.Prepare)
	rg.POST("/documents/complete-download/:storageId", h.Complete)
	rg.POST("/classified-documents/download", auth.RequireSession(h.sessions), h.Direct)
	rg.GET("/ephemeral-documents/content/:pickupId", h.Pickup)
}

// ─── Request types ───────────────────────────────────────────────────────────

type completeDownloadRequest struct {
	X25519PublicKey string `json:"x25519PublicKey" binding:"required"`
	ConnectionID    string `json:"connectionId"`
}

type directDownloadRequest struct {
	DocumentDID        string `json:"documentDID" binding:"required"`
	RecipientPublicKey string `json:"recipientPublicKey" binding:"required"`
}

// ─── Handlers ────────────────────────────────────────────────────────────────

// Prepare handles POST /documents/prepare-download/:documentDID — authorizes
// the session against the document, projects and stages the redacted copy,
// and anchors an ephemeral DID for it.
func (h *DeliveryHandler) Prepare(c *gin.Context) {
	sess := auth.SessionFromCtx(c)

	res, err := h.delivery.Prepare(c.Request.Context(), c.Param("documentDID"), recipientFrom(sess))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":            true,
		"storageId":          res.StorageID,
		"serviceEndpointUrl": res.ServiceEndpointURL,
		"ephemeralDid":       res.EphemeralDID,
		"didDocument":        res.DIDDocument,
		"expiresAt":          res.ExpiresAt,
	})
}

// Complete handles POST /documents/complete-download/:storageId — encrypts
// the prepared copy to the wallet's key, stages the pickup, and offers the
// DocumentCopy credential.
func (h *DeliveryHandler) Complete(c *gin.Context) {
	var req completeDownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, apperr.New(apperr.InputInvalid, err.Error()))
		return
	}

	res, err := h.delivery.Complete(c.Request.Context(), c.Param("storageId"), req.X25519PublicKey, req.ConnectionID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	RecordDelivery("staged")

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"delivery": gin.H{
			"pickupId":           res.PickupID,
			"serviceEndpointUrl": res.ServiceEndpointURL,
			"ephemeralDid":       res.EphemeralDID,
			"contentHash":        res.ContentHash,
			"expiresAt":          res.ExpiresAt,
		},
		"credentialOffer": res.CredentialOffer,
	})
}

// Direct handles POST /classified-documents/download — the single-call
// variant that returns the encrypted redacted copy inline.
func (h *DeliveryHandler) Direct(c *gin.Context) {
	var req directDownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, apperr.New(apperr.InputInvalid, err.Error()))
		return
	}

	sess := auth.SessionFromCtx(c)

	res, err := h.delivery.Direct(c.Request.Context(), req.DocumentDID, req.RecipientPublicKey, recipientFrom(sess))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	RecordDelivery("direct")

	c.JSON(http.StatusOK, gin.H{
		"success":           true,
		"ephemeralDid":      res.EphemeralDID,
		"didDocument":       res.DIDDocument,
		"encryptedDocument": res.Envelope,
		"encryptionInfo": gin.H{
			"algorithm":       "NaCl box (X25519 + XSalsa20-Poly1305)",
			"serverPublicKey": res.Envelope.ServerPublicKey,
			"nonce":           res.Envelope.Nonce,
		},
		"sectionSummary": gin.H{
			"title":            res.Title,
			"classification":   res.Classification,
			"contentType":      res.ContentType,
			"visibleSections":  res.Visible,
			"redactedSections": res.RedactedCount,
		},
		"expiresAt": res.ExpiresAt,
	})
}

// Pickup handles GET /ephemeral-documents/content/:pickupId — serves a staged
// encrypted copy to the wallet and burns a view.
func (h *DeliveryHandler) Pickup(c *gin.Context) {
	p, err := h.delivery.Fetch(c.Request.Context(), c.Param("pickupId"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	RecordDelivery("pickup")

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"document": p,
	})
}

// recipientFrom projects a session onto the delivery recipient.
func recipientFrom(sess *auth.Session) delivery.Recipient {
	return delivery.Recipient{
		EmployeeDID:  sess.EmployeeDID,
		IssuerDID:    sess.IssuerDID,
		Clearance:    sess.Clearance,
		ConnectionID: sess.ConnectionID,
	}
}
