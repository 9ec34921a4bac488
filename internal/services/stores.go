package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stowbox/rental-backend/internal/database"
	"github.com/stowbox/rental-backend/internal/models"
	"github.com/stowbox/rental-backend/pkg/interval"
)

// BookingStore is the persistence the booking services need.
// Implemented by *database.BookingRepository.
type BookingStore interface {
	GetBookingByID(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	ListBlockingByBox(ctx context.Context, boxID uuid.UUID) ([]*models.Booking, error)
	ListBlockingByBoxes(ctx context.Context, boxIDs []uuid.UUID) ([]*models.Booking, error)
	FindConflict(ctx context.Context, boxID uuid.UUID, window interval.Interval, excludeID *uuid.UUID) (*models.Booking, error)
	ListSyncCandidates(ctx context.Context, ownerID *uuid.UUID, now time.Time, limit int) ([]uuid.UUID, error)
	SyncStatus(ctx context.Context, id uuid.UUID, next func(*models.Booking) models.BookingStatus) (bool, error)
	Cancel(ctx context.Context, id uuid.UUID, decide func(*models.Booking) (*database.CancellationDecision, error)) (*models.Booking, error)
	UpdateRefundOutcome(ctx context.Context, id uuid.UUID, status models.RefundStatus, refundRef *string) error
	RecordReturn(ctx context.Context, id uuid.UUID, returnedAt time.Time, check func(*models.Booking) error) (*models.Booking, error)
	AppendProblemReport(ctx context.Context, id uuid.UUID, report models.ProblemReport) (*models.Booking, error)
	Materialize(ctx context.Context, in database.MaterializeInput) (*database.SettlementOutcome, error)
	ApplyExtension(ctx context.Context, in database.SettlementInput, check func(*models.Booking) error) (*database.SettlementOutcome, error)
}

// BoxStore reads boxes. Implemented by *database.BoxRepository.
type BoxStore interface {
	GetBoxByID(ctx context.Context, id uuid.UUID) (*models.Box, error)
	ListActiveBoxIDs(ctx context.Context, locationID uuid.UUID, model models.BoxModel) ([]uuid.UUID, error)
}

// PaymentStore persists payment rows. Implemented by *database.PaymentRepository.
type PaymentStore interface {
	CreateUnsettled(ctx context.Context, payment *models.Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	GetByIntentRef(ctx context.Context, ref string) (*models.Payment, error)
	GetByChargeRef(ctx context.Context, ref string) (*models.Payment, error)
	ListSettledByBooking(ctx context.Context, bookingID uuid.UUID) ([]*models.Payment, error)
	MarkRefunded(ctx context.Context, id uuid.UUID) error
}

// AuditLog appends to the payment audit trail. Implemented by *database.PaymentAuditRepository.
type AuditLog interface {
	Log(ctx context.Context, audit *models.PaymentAudit) error
	CheckDuplicate(ctx context.Context, eventType models.PaymentEventType, idempotencyKey string) (bool, error)
}
