package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stowbox/rental-backend/internal/middleware"
	"github.com/stowbox/rental-backend/internal/models"
)

// AdminHandler handles operator endpoints: replays, returns, sync and reconciliation
type AdminHandler struct {
	materializer Materializer
	bookings     BookingManager
	syncer       StatusSyncer
	jobs         JobRunner
	gaps         ReconciliationReader
	logger       *logrus.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(
	materializer Materializer,
	bookings BookingManager,
	syncer StatusSyncer,
	jobs JobRunner,
	gaps ReconciliationReader,
	logger *logrus.Logger,
) *AdminHandler {
	return &AdminHandler{
		materializer: materializer,
		bookings:     bookings,
		syncer:       syncer,
		jobs:         jobs,
		gaps:         gaps,
		logger:       logger,
	}
}

// ===================================================================
// PAYMENTS
// ===================================================================

// ReplayMaterialization handles POST /api/v1/admin/payments/:intent_id/materialize
func (h *AdminHandler) ReplayMaterialization(c *gin.Context) {
	intentID := c.Param("intent_id")
	if intentID == "" {
		badRequest(c, models.CodeInvalidRequest, "payment intent id is required")
		return
	}

	actor := middleware.ActorFromContext(c)
	h.logger.WithFields(logrus.Fields{
		"payment_intent_id": intentID,
		"admin_id":          actor.UserID,
	}).Info("Admin replaying materialization")

	result, err := h.materializer.Materialize(c.Request.Context(), intentID, nil, models.PaymentSourceAdminReplay)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetReconciliationGaps handles GET /api/v1/admin/payments/reconciliation?limit=
func (h *AdminHandler) GetReconciliationGaps(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 50)
	if !ok {
		return
	}
	if limit > 500 {
		limit = 500
	}

	gaps, err := h.gaps.GetReconciliationGaps(c.Request.Context(), limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"gaps":  gaps,
		"total": len(gaps),
	})
}

// ===================================================================
// BOOKINGS
// ===================================================================

// RecordReturn handles POST /api/v1/admin/bookings/:id/return (admin or owning distributor)
func (h *AdminHandler) RecordReturn(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	booking, err := h.bookings.RecordReturn(c.Request.Context(), middleware.ActorFromContext(c), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, booking)
}

// SyncBookings handles POST /api/v1/admin/bookings/sync
func (h *AdminHandler) SyncBookings(c *gin.Context) {
	var req models.SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, models.CodeInvalidRequest, "Invalid request: "+err.Error())
		return
	}

	ids := make([]uuid.UUID, 0, len(req.BookingIDs))
	for _, raw := range req.BookingIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			badRequest(c, models.CodeInvalidRequest, "Invalid booking id: "+raw)
			return
		}
		ids = append(ids, id)
	}

	c.JSON(http.StatusOK, h.syncer.SyncMany(c.Request.Context(), ids))
}

// ===================================================================
// SCHEDULER
// ===================================================================

// GetCronStatus handles GET /api/v1/admin/cron/status
func (h *AdminHandler) GetCronStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.jobs.GetJobStatus())
}

// RunStatusSync handles POST /api/v1/admin/cron/status-sync/run
func (h *AdminHandler) RunStatusSync(c *gin.Context) {
	result := h.jobs.RunStatusSyncNow()
	if result == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "SYNC_FAILED",
			Message: "Status sync did not complete; see logs",
		})
		return
	}
	c.JSON(http.StatusOK, result)
}
