package services

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/stowbox/rental-backend/internal/models"
)

// AuditService records payment audit events without ever failing the caller
type AuditService struct {
	log    AuditLog
	logger *logrus.Logger
}

// NewAuditService creates a new audit service. A nil log disables persistence.
func NewAuditService(log AuditLog, logger *logrus.Logger) *AuditService {
	return &AuditService{log: log, logger: logger}
}

// Record persists the entry; failures are logged at error level since
// a missing audit row hides money movement from reconciliation
func (s *AuditService) Record(ctx context.Context, audit *models.PaymentAudit) {
	if s == nil || s.log == nil || audit == nil {
		return
	}
	if err := s.log.Log(ctx, audit); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"event_type":         audit.EventType,
			"payment_intent_ref": audit.PaymentIntentRef,
		}).Error("AUDIT ERROR: failed to record payment event")
	}
}

// SeenEvent reports whether a provider event id was already received.
// Lookup failures count as unseen; materialization is idempotent anyway.
func (s *AuditService) SeenEvent(ctx context.Context, eventID string) bool {
	if s == nil || s.log == nil {
		return false
	}
	seen, err := s.log.CheckDuplicate(ctx, models.PaymentEventWebhookReceived, eventID)
	if err != nil {
		s.logger.WithError(err).WithField("event_id", eventID).Warn("Failed to check webhook duplicate")
		return false
	}
	return seen
}

// Warn logs a reconciliation warning and records it in the audit trail
func (s *AuditService) Warn(ctx context.Context, warning *models.AppError, audit *models.PaymentAudit) {
	s.logger.WithError(warning).WithFields(logrus.Fields{
		"code":    warning.Code,
		"details": warning.Details,
	}).Error("Reconciliation warning")

	if audit != nil {
		audit.SetError(warning)
		s.Record(ctx, audit)
	}
}
