package services

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/stowbox/rental-backend/internal/models"
)

// RefundRequest describes one refund leg
type RefundRequest struct {
	Payment        *models.Payment
	Booking        *models.Booking
	ChargeRef      string
	Amount         int64
	IdempotencyKey string
	FullRefund     bool
	Source         models.PaymentEventSource
}

// Refunder issues refunds through the provider and records them in the audit trail
type Refunder struct {
	provider PaymentProvider
	payments PaymentStore
	audit    *AuditService
	logger   *logrus.Logger
}

// NewRefunder creates a new Refunder
func NewRefunder(provider PaymentProvider, payments PaymentStore, audit *AuditService, logger *logrus.Logger) *Refunder {
	return &Refunder{provider: provider, payments: payments, audit: audit, logger: logger}
}

// Refund issues the refund. A failure comes back as a reconciliation warning that is
// already logged and audited; the caller decides whether to surface it.
func (r *Refunder) Refund(ctx context.Context, req RefundRequest) (*Refund, *models.AppError) {
	entry := models.NewPaymentAudit(models.PaymentEventRefundInitiated, req.Source).
		SetCharge(req.ChargeRef).
		SetIdempotencyKey(req.IdempotencyKey).
		SetDetail("amount", req.Amount)
	if req.Payment != nil {
		entry.SetPayment(req.Payment.ID).SetPaymentIntent(req.Payment.PaymentIntentRef)
	}
	if req.Booking != nil {
		entry.SetBooking(req.Booking.ID)
	}

	if req.ChargeRef == "" {
		warning := models.NewReconciliationWarning(models.CodeChargeMissing, "no settled charge to refund", nil).
			WithDetail("amount", req.Amount)
		r.audit.Warn(ctx, warning, entry)
		return nil, warning
	}

	refund, err := r.provider.IssueRefund(ctx, req.ChargeRef, req.Amount, req.IdempotencyKey)
	if err != nil {
		warning := models.NewReconciliationWarning(models.CodeRefundFailed, "refund could not be issued and needs manual follow-up", err).
			WithDetail("charge_ref", req.ChargeRef).
			WithDetail("amount", req.Amount)
		entry.EventType = models.PaymentEventReconciliationMismatch
		r.audit.Warn(ctx, warning, entry)
		return nil, warning
	}

	entry.EventType = models.PaymentEventRefundCompleted
	entry.SetRefund(refund.ID).SetProviderStatus(refund.Status)
	r.audit.Record(ctx, entry)

	if req.FullRefund && req.Payment != nil {
		if err := r.payments.MarkRefunded(ctx, req.Payment.ID); err != nil {
			r.logger.WithError(err).WithField("payment_id", req.Payment.ID).Error("Failed to mark payment refunded")
		}
	}

	r.logger.WithFields(logrus.Fields{
		"refund_ref": refund.ID,
		"charge_ref": req.ChargeRef,
		"amount":     req.Amount,
	}).Info("Refund issued")

	return refund, nil
}
