package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stowbox/rental-backend/internal/models"
	"github.com/stowbox/rental-backend/internal/services"
	"github.com/stowbox/rental-backend/internal/utils"
)

// maxWebhookBody matches the provider's documented payload ceiling
const maxWebhookBody = 64 << 10

// WebhookHandler ingests payment provider events
type WebhookHandler struct {
	provider     WebhookParser
	materializer Materializer
	extension    ExtensionApplier
	audit        EventAuditor
	logger       *logrus.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(provider WebhookParser, materializer Materializer, extension ExtensionApplier, audit EventAuditor, logger *logrus.Logger) *WebhookHandler {
	return &WebhookHandler{
		provider:     provider,
		materializer: materializer,
		extension:    extension,
		audit:        audit,
		logger:       logger,
	}
}

// HandleStripeWebhook handles POST /api/v1/payments/webhook.
// Transient failures answer 503 so the provider redelivers; everything else is acknowledged.
func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	started := time.Now()
	ctx := c.Request.Context()

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		badRequest(c, models.CodeInvalidRequest, "Unable to read request body")
		return
	}

	event, err := h.provider.ParseWebhook(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		h.logger.WithError(err).WithField("ip", utils.GetRealIP(c)).Warn("Rejected webhook")
		respondError(c, h.logger, err)
		return
	}

	log := h.logger.WithFields(logrus.Fields{
		"event_id":   event.ID,
		"event_type": event.Type,
	})

	if h.audit.SeenEvent(ctx, event.ID) {
		log.Info("Duplicate webhook delivery ignored")
		c.JSON(http.StatusOK, gin.H{"received": true, "duplicate": true})
		return
	}

	procErr := h.dispatch(ctx, event)
	if models.IsKind(procErr, models.KindProviderTransient) {
		// not recorded as received, so the redelivery is processed again
		log.WithError(procErr).Warn("Webhook processing deferred to redelivery")
		respondError(c, h.logger, procErr)
		return
	}

	entry := models.NewPaymentAudit(models.PaymentEventWebhookReceived, models.PaymentSourceStripeWebhook).
		SetIdempotencyKey(event.ID).
		SetDetail("event_type", event.Type).
		SetClient(utils.GetRealIP(c), utils.GetUserAgent(c), utils.ParseUserAgent(utils.GetUserAgent(c)).ToMap()).
		SetProcessingTime(started)
	if event.Intent != nil {
		entry.SetPaymentIntent(event.Intent.ID).SetProviderStatus(event.Intent.Status)
	}
	if procErr != nil {
		entry.SetError(procErr)
		log.WithError(procErr).Warn("Webhook processed with error")
	} else {
		log.Info("Webhook processed")
	}
	h.audit.Record(ctx, entry)

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// dispatch routes a verified event to the component that owns it
func (h *WebhookHandler) dispatch(ctx context.Context, event *services.WebhookEvent) error {
	switch event.Type {
	case services.EventPaymentIntentSucceeded:
		if event.Intent == nil {
			return models.NewValidationError(models.CodeInvalidRequest, "event carries no payment intent")
		}
		switch models.PaymentKindOf(event.Intent.Metadata) {
		case models.PaymentKindBooking:
			_, err := h.materializer.Materialize(ctx, event.Intent.ID, nil, models.PaymentSourceStripeWebhook)
			return err
		case models.PaymentKindExtension:
			_, err := h.extension.Apply(ctx, event.Intent.ID, models.PaymentSourceStripeWebhook)
			return err
		default:
			return models.NewValidationError(models.CodeInvalidMetadata, "payment intent has no recognised kind")
		}

	case services.EventPaymentIntentFailed:
		if event.Intent != nil {
			h.logger.WithFields(logrus.Fields{
				"payment_intent_id": event.Intent.ID,
				"status":            event.Intent.Status,
			}).Info("Payment failed at provider")
		}
		return nil

	default:
		return nil
	}
}
