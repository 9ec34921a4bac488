package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stowbox/rental-backend/internal/middleware"
	"github.com/stowbox/rental-backend/internal/models"
)

// CheckoutHandler starts the payment for a new booking
type CheckoutHandler struct {
	checkout CheckoutCreator
	logger   *logrus.Logger
}

// NewCheckoutHandler creates a new checkout handler
func NewCheckoutHandler(checkout CheckoutCreator, logger *logrus.Logger) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout, logger: logger}
}

// CreateCheckout handles POST /api/v1/checkout. Guests must pass a contact email.
func (h *CheckoutHandler) CreateCheckout(c *gin.Context) {
	var req models.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, models.CodeInvalidRequest, "Invalid request: "+err.Error())
		return
	}

	actor := middleware.ActorFromContext(c)
	resp, err := h.checkout.CreateCheckout(c.Request.Context(), actor, req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"box_id":            req.BoxID,
		"payment_intent_id": resp.PaymentIntentID,
		"amount":            resp.Amount,
	}).Info("Checkout started")

	c.JSON(http.StatusCreated, resp)
}
