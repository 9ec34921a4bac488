package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"github.com/stowbox/rental-backend/internal/models"
)

// PaymentAuditRepository handles payment audit operations
type PaymentAuditRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPaymentAuditRepository creates a new payment audit repository
func NewPaymentAuditRepository(db *sqlx.DB, logger *logrus.Logger) *PaymentAuditRepository {
	return &PaymentAuditRepository{
		db:     db,
		logger: logger,
	}
}

// Log creates a new payment audit entry
func (r *PaymentAuditRepository) Log(ctx context.Context, audit *models.PaymentAudit) error {
	if audit == nil {
		return fmt.Errorf("audit entry cannot be nil")
	}

	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO payment_audits (
			id, booking_id, payment_id, payment_intent_ref, charge_ref,
			event_type, event_source,
			expected_amount, received_amount, currency, amounts_match,
			provider_status, refund_ref,
			details, raw_body,
			error_message, error_code,
			processing_time_ms, is_duplicate, idempotency_key,
			ip_address, user_agent, device,
			created_at, processed_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7,
			$8, $9, $10, $11,
			$12, $13,
			$14, $15,
			$16, $17,
			$18, $19, $20,
			$21, $22, $23,
			$24, $25
		)`

	_, err := r.db.ExecContext(ctx, query,
		audit.ID, audit.BookingID, audit.PaymentID, audit.PaymentIntentRef, audit.ChargeRef,
		audit.EventType, audit.EventSource,
		audit.ExpectedAmount, audit.ReceivedAmount, audit.Currency, audit.AmountsMatch,
		audit.ProviderStatus, audit.RefundRef,
		audit.Details, audit.RawBody,
		audit.ErrorMessage, audit.ErrorCode,
		audit.ProcessingTimeMs, audit.IsDuplicate, audit.IdempotencyKey,
		audit.IPAddress, audit.UserAgent, audit.Device,
		audit.CreatedAt, audit.ProcessedAt,
	)

	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"event_type":         audit.EventType,
			"payment_intent_ref": audit.PaymentIntentRef,
		}).Error("Failed to log payment audit")
		return fmt.Errorf("failed to log payment audit: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"audit_id":   audit.ID,
		"event_type": audit.EventType,
	}).Debug("Payment audit logged")

	return nil
}

// CheckDuplicate reports whether a provider event id was already received
func (r *PaymentAuditRepository) CheckDuplicate(ctx context.Context, eventType models.PaymentEventType, idempotencyKey string) (bool, error) {
	if idempotencyKey == "" {
		return false, nil
	}

	var count int
	query := `
		SELECT COUNT(*) FROM payment_audits
		WHERE event_type = $1
		AND idempotency_key = $2
		AND is_duplicate = FALSE`

	err := r.db.GetContext(ctx, &count, query, eventType, idempotencyKey)
	if err != nil {
		return false, fmt.Errorf("failed to check duplicate: %w", err)
	}

	return count > 0, nil
}

// GetByPaymentIntent retrieves all audit entries for a payment intent
func (r *PaymentAuditRepository) GetByPaymentIntent(ctx context.Context, ref string) ([]*models.PaymentAudit, error) {
	audits := []*models.PaymentAudit{}
	query := `
		SELECT * FROM payment_audits
		WHERE payment_intent_ref = $1
		ORDER BY created_at ASC`

	err := r.db.SelectContext(ctx, &audits, query, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to get audits by payment intent: %w", err)
	}

	return audits, nil
}

// GetReconciliationGaps returns recent audits that need manual attention:
// failed refunds, amount mismatches and conflicts on paid bookings
func (r *PaymentAuditRepository) GetReconciliationGaps(ctx context.Context, limit int) ([]*models.PaymentAudit, error) {
	audits := []*models.PaymentAudit{}
	query := `
		SELECT * FROM payment_audits
		WHERE amounts_match = FALSE
		   OR event_type = ANY($1)
		ORDER BY created_at DESC
		LIMIT $2`

	types := []string{
		string(models.PaymentEventReconciliationMismatch),
		string(models.PaymentEventBoxConflict),
		string(models.PaymentEventExtensionConflict),
	}
	err := r.db.SelectContext(ctx, &audits, query, pq.Array(types), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get reconciliation gaps: %w", err)
	}

	return audits, nil
}
