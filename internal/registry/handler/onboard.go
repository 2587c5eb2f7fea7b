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
	"github.com/techcorp/docbroker/internal/onboard"
)

// onboardSvc is the interface expected by OnboardHandler, satisfied by
// *onboard.Provisioner.
type onboardSvc interface {
	Onboard(ctx context.Context, req onboard.Request) (*onboard.Result, error)
	OfferServiceConfiguration(ctx context.Context, res *onboard.Result) (*agent.CredentialRecord, error)
}

// OnboardHandler exposes the admin onboarding pipeline.
type OnboardHandler struct {
	prov      onboardSvc
	directory *auth.Directory
	logger    *zap.Logger
}

// NewOnboardHandler creates an OnboardHandler.
func NewOnboardHandler(prov onboardSvc, directory *auth.Directory, logger *zap.Logger) *OnboardHandler {
	return &OnboardHandler{prov: prov, directory: directory, logger: logger}
}

// Register mounts the onboarding routes. The caller is expected to guard rg
// with the admin-key middleware.
func (h *OnboardHandler) Register(rg *gin.RouterGroup) {
	e := rg.Group("/employees")
	{
		e.GET("", h.List)
		e.POST("", h.Onboard)
	}
}

type onboardEmployeeRequest struct {
	onboard.Request
	// When set, the employee's fresh wallet also receives a
	// ServiceConfiguration credential carrying its own agent coordinates.
	OfferServiceConfiguration bool `json:"offerServiceConfiguration"`
}

// List handles GET /admin/employees — lists the onboarded identifiers.
func (h *OnboardHandler) List(c *gin.Context) {
	ids := h.directory.Identifiers()

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"employees": ids,
		"count":     len(ids),
	})
}

// Onboard handles POST /admin/employees — runs the 12-step provisioning
// pipeline for one new employee.
func (h *OnboardHandler) Onboard(c *gin.Context) {
	var req onboardEmployeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, h.logger, apperr.New(apperr.InputInvalid, err.Error()))
		return
	}

	res, err := h.prov.Onboard(c.Request.Context(), req.Request)
	if err != nil {
		var step *onboard.StepError
		if errors.As(err, &step) {
			kind := apperr.KindOf(err)
			status := kind.HTTPStatus()
			if status >= http.StatusInternalServerError {
				h.logger.Error("onboarding failed",
					zap.String("employee", req.EmployeeID),
					zap.String("step", step.Step),
					zap.Error(err),
				)
			}
			c.JSON(status, gin.H{
				"success": false,
				"error":   kind.Code(),
				"message": apperr.MessageOf(err),
				"step":    step.Step,
				"partial": res,
			})
			return
		}
		respondError(c, h.logger, err)
		return
	}

	var configOffer *agent.CredentialRecord
	if req.OfferServiceConfiguration {
		configOffer, err = h.prov.OfferServiceConfiguration(c.Request.Context(), res)
		if err != nil {
			// The employee is fully onboarded at this point; a failed
			// configuration offer is reported, not fatal.
			h.logger.Warn("service configuration offer failed",
				zap.String("employee", req.EmployeeID),
				zap.Error(err),
			)
		}
	}

	resp := gin.H{
		"success": true,
		"result":  res,
	}
	if configOffer != nil {
		resp["serviceConfigurationOffer"] = configOffer
	}
	c.JSON(http.StatusCreated, resp)
}
