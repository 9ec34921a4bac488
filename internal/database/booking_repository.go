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

const bookingColumns = `id, box_id, user_id, contact_email, start_date, end_date, status,
	total_amount, currency, payment_id, lock_pin_hash, reported_problems, returned_at,
	cancelled_at, cancellation_reason, refund_percentage, refund_amount, refund_status,
	refund_ref, created_at, updated_at`

// BookingRepository handles booking database operations.
// Every write to an existing booking runs inside a transaction holding its row lock.
type BookingRepository struct {
	db *sqlx.DB
}

// NewBookingRepository creates a new BookingRepository
func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// ============================================================================
// READS
// ============================================================================

// GetBookingByID retrieves a booking, returning nil if it does not exist
func (r *BookingRepository) GetBookingByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	var booking models.Booking
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

	err := r.db.GetContext(ctx, &booking, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}

	return &booking, nil
}

// ListBlockingByBox returns every booking on the box whose status blocks availability
func (r *BookingRepository) ListBlockingByBox(ctx context.Context, boxID uuid.UUID) ([]*models.Booking, error) {
	bookings := []*models.Booking{}
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE box_id = $1 AND status = ANY($2)
		ORDER BY start_date ASC`

	err := r.db.SelectContext(ctx, &bookings, query, boxID, models.StatusArray(models.BlockingStatuses))
	if err != nil {
		return nil, fmt.Errorf("failed to list blocking bookings: %w", err)
	}

	return bookings, nil
}

// ListBlockingByBoxes returns blocking bookings across a set of boxes
func (r *BookingRepository) ListBlockingByBoxes(ctx context.Context, boxIDs []uuid.UUID) ([]*models.Booking, error) {
	bookings := []*models.Booking{}
	if len(boxIDs) == 0 {
		return bookings, nil
	}

	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE box_id = ANY($1) AND status = ANY($2)
		ORDER BY start_date ASC`

	err := r.db.SelectContext(ctx, &bookings, query, models.UUIDArray(boxIDs), models.StatusArray(models.BlockingStatuses))
	if err != nil {
		return nil, fmt.Errorf("failed to list blocking bookings for boxes: %w", err)
	}

	return bookings, nil
}

// FindConflict returns the first blocking booking on the box overlapping window,
// ignoring excludeID. Returns nil when the window is free.
func (r *BookingRepository) FindConflict(ctx context.Context, boxID uuid.UUID, window interval.Interval, excludeID *uuid.UUID) (*models.Booking, error) {
	return findConflict(ctx, r.db, boxID, window, excludeID)
}

// ListSyncCandidates returns ids of bookings whose next transition is already due at now:
// reserved bookings past their start, active bookings past their end, and open bookings with a recorded return.
// ownerID narrows the sweep to one customer.
func (r *BookingRepository) ListSyncCandidates(ctx context.Context, ownerID *uuid.UUID, now time.Time, limit int) ([]uuid.UUID, error) {
	ids := []uuid.UUID{}
	query := `
		SELECT id FROM bookings
		WHERE ($2::uuid IS NULL OR user_id = $2)
		  AND (
		        (status = ANY($1) AND start_date <= $4)
		     OR (status = $5 AND end_date <= $4)
		     OR (status = ANY($6) AND returned_at IS NOT NULL)
		  )
		ORDER BY start_date ASC
		LIMIT $3`

	err := r.db.SelectContext(ctx, &ids, query,
		models.StatusArray(models.ReservedStatuses),
		ownerID,
		limit,
		now,
		models.BookingStatusActive,
		models.StatusArray(models.BlockingStatuses),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync candidates: %w", err)
	}

	return ids, nil
}

// ============================================================================
// LOCKED MUTATIONS
// ============================================================================

// SyncStatus locks the booking, asks next for its target status and persists it only when it differs
func (r *BookingRepository) SyncStatus(ctx context.Context, id uuid.UUID, next func(*models.Booking) models.BookingStatus) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	booking, err := lockBooking(ctx, tx, id)
	if err != nil {
		return false, err
	}

	target := next(booking)
	if target == booking.Status {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE bookings SET status = $2, updated_at = NOW()
		WHERE id = $1`, id, target)
	if err != nil {
		return false, fmt.Errorf("failed to update booking status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit status update: %w", err)
	}

	return true, nil
}

// CancellationDecision is what a cancellation writes onto the locked booking
type CancellationDecision struct {
	RefundPercentage int
	RefundAmount     int64
	RefundStatus     models.RefundStatus
	Reason           *string
	CancelledAt      time.Time
}

// Cancel locks the booking and lets decide accept or reject the cancellation.
// A decide error aborts the transaction untouched.
func (r *BookingRepository) Cancel(ctx context.Context, id uuid.UUID, decide func(*models.Booking) (*CancellationDecision, error)) (*models.Booking, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	booking, err := lockBooking(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	decision, err := decide(booking)
	if err != nil {
		return nil, err
	}

	var updated models.Booking
	err = tx.GetContext(ctx, &updated, `
		UPDATE bookings
		SET status = $2, cancelled_at = $3, cancellation_reason = $4,
		    refund_percentage = $5, refund_amount = $6, refund_status = $7, updated_at = NOW()
		WHERE id = $1
		RETURNING `+bookingColumns,
		id, models.BookingStatusCancelled, decision.CancelledAt, decision.Reason,
		decision.RefundPercentage, decision.RefundAmount, decision.RefundStatus,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel booking: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit cancellation: %w", err)
	}

	return &updated, nil
}

// UpdateRefundOutcome records the result of the refund leg after a committed cancellation
func (r *BookingRepository) UpdateRefundOutcome(ctx context.Context, id uuid.UUID, status models.RefundStatus, refundRef *string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE bookings SET refund_status = $2, refund_ref = $3, updated_at = NOW()
		WHERE id = $1`, id, status, refundRef)
	if err != nil {
		return fmt.Errorf("failed to update refund outcome: %w", err)
	}
	return nil
}

// RecordReturn locks the booking, lets check veto the return, then sets returned_at and completes it
func (r *BookingRepository) RecordReturn(ctx context.Context, id uuid.UUID, returnedAt time.Time, check func(*models.Booking) error) (*models.Booking, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	booking, err := lockBooking(ctx, tx, id)
	if err != nil {
		return nil, err
	}

	if err := check(booking); err != nil {
		return nil, err
	}

	var updated models.Booking
	err = tx.GetContext(ctx, &updated, `
		UPDATE bookings SET returned_at = $2, status = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING `+bookingColumns,
		id, returnedAt, models.BookingStatusCompleted,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record return: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit return: %w", err)
	}

	return &updated, nil
}

// AppendProblemReport adds a report to the booking's reported_problems list
func (r *BookingRepository) AppendProblemReport(ctx context.Context, id uuid.UUID, report models.ProblemReport) (*models.Booking, error) {
	payload, err := models.ProblemReports{report}.Value()
	if err != nil {
		return nil, fmt.Errorf("failed to encode problem report: %w", err)
	}

	var updated models.Booking
	err = r.db.GetContext(ctx, &updated, `
		UPDATE bookings
		SET reported_problems = COALESCE(reported_problems, '[]'::jsonb) || $2::jsonb, updated_at = NOW()
		WHERE id = $1
		RETURNING `+bookingColumns, id, payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to append problem report: %w", err)
	}

	return &updated, nil
}

// ============================================================================
// HELPERS
// ============================================================================

type queryer interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

func lockBooking(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*models.Booking, error) {
	var booking models.Booking
	err := tx.GetContext(ctx, &booking, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NewNotFoundError(models.CodeBookingNotFound, "booking not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock booking: %w", err)
	}
	return &booking, nil
}

func findConflict(ctx context.Context, q queryer, boxID uuid.UUID, window interval.Interval, excludeID *uuid.UUID) (*models.Booking, error) {
	var booking models.Booking
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE box_id = $1
		  AND status = ANY($2)
		  AND start_date < $4 AND end_date > $3
		  AND ($5::uuid IS NULL OR id <> $5)
		ORDER BY start_date ASC
		LIMIT 1`

	err := q.GetContext(ctx, &booking, query, boxID, models.StatusArray(models.BlockingStatuses), window.Start, window.End, excludeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check booking conflicts: %w", err)
	}
	return &booking, nil
}
