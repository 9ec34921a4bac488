package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stowbox/rental-backend/internal/models"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message"`
	Kind    models.ErrorKind       `json:"kind,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// statusFor maps an error kind to its HTTP status
func statusFor(appErr *models.AppError) int {
	switch appErr.Kind {
	case models.KindValidation:
		return http.StatusBadRequest
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindConflict:
		return http.StatusConflict
	case models.KindPaymentPending:
		return http.StatusPaymentRequired
	case models.KindProviderTransient:
		return http.StatusServiceUnavailable
	case models.KindProviderPermanent:
		return http.StatusBadGateway
	case models.KindReconciliation:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes a structured error. Unclassified errors are logged and
// replaced with a generic message so internals never reach the client.
func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	appErr, ok := models.AsAppError(err)
	if !ok {
		logger.WithError(err).WithFields(logrus.Fields{
			"path":   c.Request.URL.Path,
			"method": c.Request.Method,
		}).Error("Unhandled error")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "INTERNAL_ERROR",
			Message: "Something went wrong. Please try again.",
		})
		return
	}

	status := statusFor(appErr)
	entry := logger.WithFields(logrus.Fields{
		"path": c.Request.URL.Path,
		"code": appErr.Code,
		"kind": appErr.Kind,
	})
	if appErr.Err != nil {
		entry = entry.WithError(appErr.Err)
	}
	if status >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Debug("Request rejected")
	}

	c.JSON(status, ErrorResponse{
		Error:   appErr.Code,
		Message: appErr.Message,
		Kind:    appErr.Kind,
		Details: appErr.Details,
	})
}

func badRequest(c *gin.Context, code, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   code,
		Message: message,
		Kind:    models.KindValidation,
	})
}

// parseUUIDParam reads a path parameter as a UUID, answering 400 when it is malformed
func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, models.CodeInvalidRequest, "Invalid "+name+" format")
		return uuid.Nil, false
	}
	return id, true
}

// queryInt reads an optional positive integer query parameter
func queryInt(c *gin.Context, name string, fallback int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		badRequest(c, models.CodeInvalidRequest, name+" must be a positive integer")
		return 0, false
	}
	return v, true
}
