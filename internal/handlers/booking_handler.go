package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stowbox/rental-backend/internal/middleware"
	"github.com/stowbox/rental-backend/internal/models"
)

// BookingHandler handles the customer-facing booking lifecycle
type BookingHandler struct {
	bookings     BookingManager
	materializer Materializer
	cancellation CancellationEngine
	extension    ExtensionEngine
	syncer       StatusSyncer
	pins         PINVerifier
	logger       *logrus.Logger
}

// NewBookingHandler creates a new booking handler
func NewBookingHandler(
	bookings BookingManager,
	materializer Materializer,
	cancellation CancellationEngine,
	extension ExtensionEngine,
	syncer StatusSyncer,
	pins PINVerifier,
	logger *logrus.Logger,
) *BookingHandler {
	return &BookingHandler{
		bookings:     bookings,
		materializer: materializer,
		cancellation: cancellation,
		extension:    extension,
		syncer:       syncer,
		pins:         pins,
		logger:       logger,
	}
}

// ============================================================================
// CONFIRMATION
// ============================================================================

// ConfirmBooking handles POST /api/v1/bookings/confirm.
// The client polls this after the payment sheet closes; it races the webhook safely.
func (h *BookingHandler) ConfirmBooking(c *gin.Context) {
	var req models.ConfirmBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, models.CodeInvalidRequest, "Invalid request: "+err.Error())
		return
	}

	result, err := h.materializer.ConfirmWithSecret(c.Request.Context(), req.PaymentIntentID, req.ClientSecret, req.ContactEmail)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	status := http.StatusCreated
	if result.AlreadyProcessed {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

// ============================================================================
// BOOKING DETAILS
// ============================================================================

// GetBooking handles GET /api/v1/bookings/:id
func (h *BookingHandler) GetBooking(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	booking, err := h.bookings.GetBooking(c.Request.Context(), middleware.ActorFromContext(c), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, booking)
}

// ReportProblem handles POST /api/v1/bookings/:id/problems
func (h *BookingHandler) ReportProblem(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req models.ReportProblemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, models.CodeInvalidRequest, "Invalid request: "+err.Error())
		return
	}

	booking, err := h.bookings.ReportProblem(c.Request.Context(), middleware.ActorFromContext(c), id, req.Description)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"booking_id":        booking.ID,
		"reported_problems": booking.ReportedProblems,
	})
}

// VerifyLockPIN handles POST /api/v1/bookings/:id/lock/verify (stand operators)
func (h *BookingHandler) VerifyLockPIN(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req models.VerifyLockPINRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, models.CodeInvalidRequest, "Invalid request: "+err.Error())
		return
	}

	if err := h.pins.Verify(c.Request.Context(), id, req.PIN); err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"booking_id": id, "unlocked": true})
}

// SyncMyBookings handles POST /api/v1/bookings/sync
func (h *BookingHandler) SyncMyBookings(c *gin.Context) {
	actor := middleware.ActorFromContext(c)

	result, err := h.syncer.SyncForUser(c.Request.Context(), actor.UserID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// ============================================================================
// CANCELLATION
// ============================================================================

// PreviewCancellation handles GET /api/v1/bookings/:id/cancellation
func (h *BookingHandler) PreviewCancellation(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	evaluation, err := h.cancellation.CanCancel(c.Request.Context(), middleware.ActorFromContext(c), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, evaluation)
}

// CancelBooking handles POST /api/v1/bookings/:id/cancel
func (h *BookingHandler) CancelBooking(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req models.CancelBookingRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, models.CodeInvalidRequest, "Invalid request: "+err.Error())
			return
		}
	}

	result, err := h.cancellation.Cancel(c.Request.Context(), middleware.ActorFromContext(c), id, req.Reason)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// ============================================================================
// EXTENSION
// ============================================================================

// QuoteExtension handles POST /api/v1/bookings/:id/extension/quote
func (h *BookingHandler) QuoteExtension(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req models.ExtensionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, models.CodeInvalidRequest, "Invalid request: "+err.Error())
		return
	}

	quote, err := h.extension.Calculate(c.Request.Context(), middleware.ActorFromContext(c), id, req.NewEndDate.UTC())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, quote)
}

// StartExtension handles POST /api/v1/bookings/:id/extension
func (h *BookingHandler) StartExtension(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}

	var req models.ExtensionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, models.CodeInvalidRequest, "Invalid request: "+err.Error())
		return
	}

	checkout, err := h.extension.Start(c.Request.Context(), middleware.ActorFromContext(c), id, req.NewEndDate.UTC())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, checkout)
}

// ConfirmExtension handles POST /api/v1/bookings/extension/confirm
func (h *BookingHandler) ConfirmExtension(c *gin.Context) {
	var req models.ConfirmExtensionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, models.CodeInvalidRequest, "Invalid request: "+err.Error())
		return
	}

	result, err := h.extension.Apply(c.Request.Context(), req.PaymentIntentID, models.PaymentSourceClientPoll)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
