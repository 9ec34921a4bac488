package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// HealthCheck checks one dependency
type HealthCheck func(ctx context.Context) error

// HealthHandler reports the health of the service and its dependencies
type HealthHandler struct {
	version string
	checks  map[string]HealthCheck
	logger  *logrus.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version string, checks map[string]HealthCheck, logger *logrus.Logger) *HealthHandler {
	return &HealthHandler{version: version, checks: checks, logger: logger}
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	components := make(map[string]string, len(h.checks))

	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.WithError(err).WithField("component", name).Error("Health check failed")
			components[name] = "unhealthy"
			status = "unhealthy"
			code = http.StatusServiceUnavailable
			continue
		}
		components[name] = "healthy"
	}

	c.JSON(code, gin.H{
		"status":     status,
		"version":    h.version,
		"components": components,
		"time":       time.Now().UTC().Format(time.RFC3339),
	})
}
