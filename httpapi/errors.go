package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pitabwire/util"
	"github.com/roma-frontend/fitauth"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, fitauth.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, fitauth.ErrInvalidCredentials), errors.Is(err, fitauth.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, fitauth.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, fitauth.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, fitauth.ErrAuditUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, fitauth.ErrBackendUnavailable), errors.Is(err, fitauth.ErrEngineNotReady):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError responds with the mapped status. Server-side failures are
// logged and reported without detail.
func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		util.Log(c.Request.Context()).WithError(err).WithField("path", c.FullPath()).Error("httpapi: request failed")
		c.JSON(status, gin.H{"error": http.StatusText(status)})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
