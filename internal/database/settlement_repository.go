package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stowbox/rental-backend/internal/models"
	"github.com/stowbox/rental-backend/pkg/interval"
)

// SettlementInput describes a succeeded payment as reported by the provider
type SettlementInput struct {
	PaymentIntentRef string
	ChargeRef        string
	Amount           int64
	Currency         string
	Metadata         models.PaymentMetadata
	Now              time.Time
}

// MaterializeInput adds the booking fields decided by the caller
type MaterializeInput struct {
	SettlementInput
	ContactEmail  *string
	InitialStatus models.BookingStatus
	LockPINHash   *string
}

// SettlementOutcome is what a settlement transaction produced.
// Conflict is set (and nothing was linked) when the interval was taken in the meantime.
type SettlementOutcome struct {
	Booking          *models.Booking
	Payment          *models.Payment
	AlreadyProcessed bool
	Conflict         *models.Booking
}

// Materialize turns a settled booking payment into exactly one booking.
//
// The payment row is claimed first so that concurrent deliveries for the same intent
// serialize on it; the box row is then locked so that deliveries for different intents
// on the same box serialize their overlap checks.
func (r *BookingRepository) Materialize(ctx context.Context, in MaterializeInput) (*SettlementOutcome, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	payment, err := claimPayment(ctx, tx, in.SettlementInput, models.PaymentKindBooking)
	if err != nil {
		return nil, err
	}

	if payment.IsLinked() {
		return alreadyProcessed(ctx, tx, payment)
	}
	if err := refundedClaim(payment, models.CodeBoxNoLongerAvailable); err != nil {
		return nil, err
	}

	var boxID uuid.UUID
	err = tx.GetContext(ctx, &boxID, `SELECT id FROM boxes WHERE id = $1 FOR UPDATE`, in.Metadata.BoxID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NewNotFoundError(models.CodeBoxNotFound, "box not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock box: %w", err)
	}

	window := interval.Interval{Start: in.Metadata.Start, End: in.Metadata.End}
	conflict, err := findConflict(ctx, tx, boxID, window, nil)
	if err != nil {
		return nil, err
	}
	if conflict != nil {
		// keep the claimed payment row so the refund can be tracked against it
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit payment claim: %w", err)
		}
		return &SettlementOutcome{Payment: payment, Conflict: conflict}, nil
	}

	var booking models.Booking
	err = tx.GetContext(ctx, &booking, `
		INSERT INTO bookings (
			id, box_id, user_id, contact_email, start_date, end_date, status,
			total_amount, currency, payment_id, lock_pin_hash, reported_problems,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, '[]'::jsonb, $12, $12)
		RETURNING `+bookingColumns,
		uuid.New(), boxID, in.Metadata.UserID, in.ContactEmail, window.Start, window.End, in.InitialStatus,
		in.Amount, in.Currency, payment.ID, in.LockPINHash, in.Now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create booking: %w", err)
	}

	if err := settlePayment(ctx, tx, payment, booking.ID, in.ChargeRef, in.Now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit materialization: %w", err)
	}

	return &SettlementOutcome{Booking: &booking, Payment: payment}, nil
}

// ApplyExtension moves a booking's end forward once its extension payment settled.
// check may veto the extension for the locked booking (wrong status, end not later).
func (r *BookingRepository) ApplyExtension(ctx context.Context, in SettlementInput, check func(*models.Booking) error) (*SettlementOutcome, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	payment, err := claimPayment(ctx, tx, in, models.PaymentKindExtension)
	if err != nil {
		return nil, err
	}

	if payment.IsLinked() {
		return alreadyProcessed(ctx, tx, payment)
	}
	if err := refundedClaim(payment, models.CodeExtensionConflict); err != nil {
		return nil, err
	}

	booking, err := lockBooking(ctx, tx, in.Metadata.BookingID)
	if err != nil {
		return nil, err
	}

	if err := check(booking); err != nil {
		return nil, err
	}

	window := interval.Interval{Start: booking.EndDate, End: in.Metadata.NewEnd}
	conflict, err := findConflict(ctx, tx, booking.BoxID, window, &booking.ID)
	if err != nil {
		return nil, err
	}
	if conflict != nil {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit payment claim: %w", err)
		}
		return &SettlementOutcome{Booking: booking, Payment: payment, Conflict: conflict}, nil
	}

	var updated models.Booking
	err = tx.GetContext(ctx, &updated, `
		UPDATE bookings
		SET end_date = $2, total_amount = total_amount + $3, updated_at = $4
		WHERE id = $1
		RETURNING `+bookingColumns,
		booking.ID, in.Metadata.NewEnd, in.Amount, in.Now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to extend booking: %w", err)
	}

	if err := settlePayment(ctx, tx, payment, booking.ID, in.ChargeRef, in.Now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit extension: %w", err)
	}

	return &SettlementOutcome{Booking: &updated, Payment: payment}, nil
}

// claimPayment makes sure a payment row exists for the intent and locks it.
// A concurrent claimant blocks on the unique index until the first one commits.
func claimPayment(ctx context.Context, tx *sqlx.Tx, in SettlementInput, kind models.PaymentKind) (*models.Payment, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO payments (id, kind, payment_intent_ref, amount, currency, status, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (payment_intent_ref) DO NOTHING`,
		uuid.New(), kind, in.PaymentIntentRef, in.Amount, in.Currency,
		models.PaymentStatusUnsettled, in.Metadata.ToJSONB(), in.Now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim payment: %w", err)
	}

	var payment models.Payment
	err = tx.GetContext(ctx, &payment, `SELECT `+paymentColumns+` FROM payments WHERE payment_intent_ref = $1 FOR UPDATE`, in.PaymentIntentRef)
	if err != nil {
		return nil, fmt.Errorf("failed to lock payment: %w", err)
	}

	return &payment, nil
}

// refundedClaim rejects a payment whose charge was already given back after an earlier conflict
func refundedClaim(payment *models.Payment, code string) error {
	if payment.Status != models.PaymentStatusRefunded {
		return nil
	}
	return models.NewConflictError(code, "payment was refunded and can no longer be settled").
		WithDetail("payment_intent_ref", payment.PaymentIntentRef).
		WithDetail("refund_status", models.RefundStatusIssued)
}

func settlePayment(ctx context.Context, tx *sqlx.Tx, payment *models.Payment, bookingID uuid.UUID, chargeRef string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE payments
		SET booking_id = $2, charge_ref = $3, status = $4, settled_at = $5
		WHERE id = $1`,
		payment.ID, bookingID, chargeRef, models.PaymentStatusSettled, now,
	)
	if isUniqueViolation(err) {
		return models.NewConflictError(models.CodeDuplicateSettledCharge, "charge is already linked to another payment").
			WithDetail("charge_ref", chargeRef)
	}
	if err != nil {
		return fmt.Errorf("failed to settle payment: %w", err)
	}

	payment.BookingID = &bookingID
	payment.ChargeRef = &chargeRef
	payment.Status = models.PaymentStatusSettled
	payment.SettledAt = &now
	return nil
}

func alreadyProcessed(ctx context.Context, tx *sqlx.Tx, payment *models.Payment) (*SettlementOutcome, error) {
	var booking models.Booking
	err := tx.GetContext(ctx, &booking, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, *payment.BookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load linked booking: %w", err)
	}
	return &SettlementOutcome{Booking: &booking, Payment: payment, AlreadyProcessed: true}, nil
}
