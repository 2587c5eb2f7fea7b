package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/techcorp/docbroker/internal/apperr"
)

// respondError writes the uniform error envelope for a failed request.
// Typed errors map to their HTTP status and code; anything untyped is a 500
// with the message withheld. 5xx causes are logged with the route.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	kind := apperr.KindOf(err)
	status := kind.HTTPStatus()
	if status >= http.StatusInternalServerError && logger != nil {
		logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
	}
	c.JSON(status, gin.H{
		"success": false,
		"error":   kind.Code(),
		"message": apperr.MessageOf(err),
	})
}
