package handlers

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stowbox/rental-backend/internal/models"
	"github.com/stowbox/rental-backend/internal/services"
	"github.com/stowbox/rental-backend/pkg/interval"
)

// The handlers depend on these narrow views of the services so they can be
// exercised without a database or a payment provider.

// AvailabilityReader is implemented by *services.AvailabilityService
type AvailabilityReader interface {
	ForBox(ctx context.Context, boxID uuid.UUID) (*services.BoxAvailability, error)
	ForLocationModel(ctx context.Context, locationID uuid.UUID, model models.BoxModel, from time.Time, duration time.Duration) (*services.ModelAvailability, error)
	IsFree(ctx context.Context, boxID uuid.UUID, window interval.Interval) (bool, error)
	EarliestAvailableStart(ctx context.Context, boxID uuid.UUID, from time.Time, duration time.Duration) (*time.Time, error)
}

// CheckoutCreator is implemented by *services.CheckoutService
type CheckoutCreator interface {
	CreateCheckout(ctx context.Context, actor models.Actor, req models.CheckoutRequest) (*models.CheckoutResponse, error)
}

// Materializer is implemented by *services.MaterializerService
type Materializer interface {
	Materialize(ctx context.Context, intentRef string, contactEmail *string, source models.PaymentEventSource) (*models.MaterializeResult, error)
	ConfirmWithSecret(ctx context.Context, intentRef, clientSecret string, contactEmail *string) (*models.MaterializeResult, error)
}

// ExtensionApplier settles paid extensions. Implemented by *services.ExtensionService.
type ExtensionApplier interface {
	Apply(ctx context.Context, intentRef string, source models.PaymentEventSource) (*models.ExtensionResult, error)
}

// ExtensionEngine is implemented by *services.ExtensionService
type ExtensionEngine interface {
	ExtensionApplier
	Calculate(ctx context.Context, actor models.Actor, bookingID uuid.UUID, newEnd time.Time) (*models.ExtensionQuote, error)
	Start(ctx context.Context, actor models.Actor, bookingID uuid.UUID, newEnd time.Time) (*models.ExtensionCheckout, error)
}

// CancellationEngine is implemented by *services.CancellationService
type CancellationEngine interface {
	CanCancel(ctx context.Context, actor models.Actor, bookingID uuid.UUID) (*models.CancellationEvaluation, error)
	Cancel(ctx context.Context, actor models.Actor, bookingID uuid.UUID, reason *string) (*models.CancellationResult, error)
}

// BookingManager is implemented by *services.BookingService
type BookingManager interface {
	GetBooking(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.Booking, error)
	ReportProblem(ctx context.Context, actor models.Actor, id uuid.UUID, description string) (*models.Booking, error)
	RecordReturn(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.Booking, error)
}

// StatusSyncer is implemented by *services.StatusService
type StatusSyncer interface {
	SyncMany(ctx context.Context, ids []uuid.UUID) *models.SyncResult
	SyncForUser(ctx context.Context, userID uuid.UUID) (*models.SyncResult, error)
}

// PINVerifier is implemented by *services.LockPINService
type PINVerifier interface {
	Verify(ctx context.Context, bookingID uuid.UUID, pin string) error
}

// WebhookParser is implemented by *services.StripeProvider
type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (*services.WebhookEvent, error)
}

// EventAuditor is implemented by *services.AuditService
type EventAuditor interface {
	SeenEvent(ctx context.Context, eventID string) bool
	Record(ctx context.Context, audit *models.PaymentAudit)
}

// JobRunner is implemented by *services.CronService
type JobRunner interface {
	RunStatusSyncNow() *models.SyncResult
	GetJobStatus() map[string]interface{}
}

// ReconciliationReader is implemented by *database.PaymentAuditRepository
type ReconciliationReader interface {
	GetReconciliationGaps(ctx context.Context, limit int) ([]*models.PaymentAudit, error)
}
