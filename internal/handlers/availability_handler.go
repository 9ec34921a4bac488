package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stowbox/rental-backend/internal/models"
	"github.com/stowbox/rental-backend/internal/services"
	"github.com/stowbox/rental-backend/pkg/interval"
)

// AvailabilityHandler serves the public availability views
type AvailabilityHandler struct {
	availability AvailabilityReader
	clock        services.Clock
	logger       *logrus.Logger
}

// NewAvailabilityHandler creates a new availability handler
func NewAvailabilityHandler(availability AvailabilityReader, clock services.Clock, logger *logrus.Logger) *AvailabilityHandler {
	return &AvailabilityHandler{
		availability: availability,
		clock:        clock,
		logger:       logger,
	}
}

// GetBoxAvailability handles GET /api/v1/boxes/:id/availability
func (h *AvailabilityHandler) GetBoxAvailability(c *gin.Context) {
	boxID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	result, err := h.availability.ForBox(c.Request.Context(), boxID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// CheckBoxAvailability handles GET /api/v1/boxes/:id/availability/check?start=&end=
func (h *AvailabilityHandler) CheckBoxAvailability(c *gin.Context) {
	boxID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	start, ok := h.queryTime(c, "start", time.Time{})
	if !ok {
		return
	}
	end, ok := h.queryTime(c, "end", time.Time{})
	if !ok {
		return
	}
	if start.IsZero() || end.IsZero() {
		badRequest(c, models.CodeInvalidRequest, "start and end are required")
		return
	}

	free, err := h.availability.IsFree(c.Request.Context(), boxID, interval.Interval{Start: start, End: end})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"box_id":    boxID,
		"start":     start,
		"end":       end,
		"available": free,
	})
}

// GetEarliestStart handles GET /api/v1/boxes/:id/earliest-start?days=&from=
func (h *AvailabilityHandler) GetEarliestStart(c *gin.Context) {
	boxID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	days, ok := queryInt(c, "days", 1)
	if !ok {
		return
	}
	from, ok := h.queryTime(c, "from", h.clock.Now())
	if !ok {
		return
	}

	earliest, err := h.availability.EarliestAvailableStart(c.Request.Context(), boxID, from, time.Duration(days)*24*time.Hour)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"box_id":         boxID,
		"days":           days,
		"earliest_start": earliest,
	})
}

// GetModelAvailability handles GET /api/v1/locations/:id/models/:model/availability?days=&from=
func (h *AvailabilityHandler) GetModelAvailability(c *gin.Context) {
	locationID, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	days, ok := queryInt(c, "days", 1)
	if !ok {
		return
	}
	from, ok := h.queryTime(c, "from", h.clock.Now())
	if !ok {
		return
	}

	model := models.BoxModel(c.Param("model"))
	result, err := h.availability.ForLocationModel(c.Request.Context(), locationID, model, from, time.Duration(days)*24*time.Hour)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// queryTime reads an RFC3339 query parameter. Times in the past are clamped to now
// for lookups that start from "from".
func (h *AvailabilityHandler) queryTime(c *gin.Context, name string, fallback time.Time) (time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		badRequest(c, models.CodeInvalidRequest, name+" must be an RFC3339 timestamp")
		return time.Time{}, false
	}
	t = t.UTC()
	if name == "from" {
		if now := h.clock.Now(); t.Before(now) {
			t = now
		}
	}
	return t, true
}
