package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stowbox/rental-backend/internal/models"
)

const paymentColumns = `id, kind, booking_id, payment_intent_ref, charge_ref, amount, currency,
	status, metadata, created_at, settled_at`

// PaymentRepository handles payment rows created at checkout
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository creates a new PaymentRepository
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// CreateUnsettled records a freshly created payment intent.
// Re-recording the same intent is a no-op.
func (r *PaymentRepository) CreateUnsettled(ctx context.Context, payment *models.Payment) error {
	if payment.ID == uuid.Nil {
		payment.ID = uuid.New()
	}
	payment.Status = models.PaymentStatusUnsettled

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payments (id, kind, payment_intent_ref, amount, currency, status, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (payment_intent_ref) DO NOTHING`,
		payment.ID, payment.Kind, payment.PaymentIntentRef, payment.Amount, payment.Currency,
		payment.Status, payment.Metadata, payment.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// GetByID retrieves a payment, returning nil if it does not exist
func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return r.getOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
}

// GetByIntentRef retrieves the payment for a provider intent
func (r *PaymentRepository) GetByIntentRef(ctx context.Context, ref string) (*models.Payment, error) {
	return r.getOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE payment_intent_ref = $1`, ref)
}

// GetByChargeRef retrieves the payment settled by a charge
func (r *PaymentRepository) GetByChargeRef(ctx context.Context, ref string) (*models.Payment, error) {
	return r.getOne(ctx, `SELECT `+paymentColumns+` FROM payments WHERE charge_ref = $1`, ref)
}

// ListSettledByBooking returns the settled charges behind a booking, the original booking
// charge first and extension legs in settlement order
func (r *PaymentRepository) ListSettledByBooking(ctx context.Context, bookingID uuid.UUID) ([]*models.Payment, error) {
	var payments []*models.Payment
	err := r.db.SelectContext(ctx, &payments, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE booking_id = $1 AND status = $2
		ORDER BY CASE WHEN kind = $3 THEN 0 ELSE 1 END, settled_at ASC, created_at ASC`,
		bookingID, models.PaymentStatusSettled, models.PaymentKindBooking,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list booking payments: %w", err)
	}
	return payments, nil
}

// MarkRefunded flags a payment whose charge was refunded
func (r *PaymentRepository) MarkRefunded(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `UPDATE payments SET status = $2 WHERE id = $1`, id, models.PaymentStatusRefunded)
	if err != nil {
		return fmt.Errorf("failed to mark payment refunded: %w", err)
	}
	return nil
}

func (r *PaymentRepository) getOne(ctx context.Context, query string, arg interface{}) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.GetContext(ctx, &payment, query, arg)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &payment, nil
}
