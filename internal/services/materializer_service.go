package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stowbox/rental-backend/internal/database"
	"github.com/stowbox/rental-backend/internal/models"
)

// MaterializerService turns a settled payment into exactly one booking. It is safe to call
// redundantly from the webhook, the client confirm poll and admin replay.
type MaterializerService struct {
	bookings   BookingStore
	payments   PaymentStore
	provider   PaymentProvider
	locker     ChargeLocker
	pins       *LockPINService
	refunder   *Refunder
	audit      *AuditService
	dispatcher *Dispatcher
	clock      Clock
	logger     *logrus.Logger
}

// NewMaterializerService creates a new MaterializerService
func NewMaterializerService(
	bookings BookingStore,
	payments PaymentStore,
	provider PaymentProvider,
	locker ChargeLocker,
	pins *LockPINService,
	refunder *Refunder,
	audit *AuditService,
	dispatcher *Dispatcher,
	clock Clock,
	logger *logrus.Logger,
) *MaterializerService {
	return &MaterializerService{
		bookings:   bookings,
		payments:   payments,
		provider:   provider,
		locker:     locker,
		pins:       pins,
		refunder:   refunder,
		audit:      audit,
		dispatcher: dispatcher,
		clock:      clock,
		logger:     logger,
	}
}

// Materialize creates the booking paid for by the intent, or returns the one that already exists
func (s *MaterializerService) Materialize(ctx context.Context, intentRef string, contactEmail *string, source models.PaymentEventSource) (*models.MaterializeResult, error) {
	return s.materialize(ctx, intentRef, "", contactEmail, source)
}

// ConfirmWithSecret is the client poll variant of Materialize. Only the holder of the
// intent's client secret gets the booking and lock PIN back.
func (s *MaterializerService) ConfirmWithSecret(ctx context.Context, intentRef, clientSecret string, contactEmail *string) (*models.MaterializeResult, error) {
	if clientSecret == "" {
		return nil, models.NewValidationError(models.CodeInvalidRequest, "client_secret is required")
	}
	return s.materialize(ctx, intentRef, clientSecret, contactEmail, models.PaymentSourceClientPoll)
}

func (s *MaterializerService) materialize(ctx context.Context, intentRef, clientSecret string, contactEmail *string, source models.PaymentEventSource) (*models.MaterializeResult, error) {
	started := time.Now()

	intent, metadata, err := fetchSettledIntent(ctx, s.provider, s.audit, intentRef, clientSecret, source)
	if err != nil {
		return nil, err
	}
	if metadata.Kind != models.PaymentKindBooking {
		return nil, models.NewValidationError(models.CodeInvalidMetadata, "payment is not a booking payment")
	}

	release, err := s.locker.Acquire(ctx, intent.ChargeRef)
	if err != nil {
		return nil, models.NewProviderTransientError("timed out waiting for concurrent confirmation", err)
	}
	defer release()

	now := s.clock.Now()
	initial := models.BookingStatusPending
	if !metadata.Start.After(now) {
		initial = models.BookingStatusActive
	}

	pin, pinHash, err := s.pins.Issue()
	if err != nil {
		return nil, err
	}

	input := database.MaterializeInput{
		SettlementInput: database.SettlementInput{
			PaymentIntentRef: intent.ID,
			ChargeRef:        intent.ChargeRef,
			Amount:           intent.Amount,
			Currency:         intent.Currency,
			Metadata:         metadata,
			Now:              now,
		},
		ContactEmail:  pickContactEmail(contactEmail, metadata.ContactEmail, intent.ReceiptEmail),
		InitialStatus: initial,
		LockPINHash:   &pinHash,
	}

	outcome, err := s.bookings.Materialize(ctx, input)
	if models.IsKind(err, models.KindConflict) {
		if appErr, _ := models.AsAppError(err); appErr.Code == models.CodeDuplicateSettledCharge {
			return s.resolveDuplicateCharge(ctx, intent, source)
		}
	}
	if err != nil {
		s.audit.Record(ctx, models.NewPaymentAudit(models.PaymentEventMaterializeFailed, source).
			SetPaymentIntent(intent.ID).
			SetCharge(intent.ChargeRef).
			SetError(err).
			SetProcessingTime(started))
		return nil, err
	}

	if outcome.AlreadyProcessed {
		s.audit.Record(ctx, models.NewPaymentAudit(models.PaymentEventDuplicateDelivery, source).
			SetPaymentIntent(intent.ID).
			SetCharge(intent.ChargeRef).
			SetBooking(outcome.Booking.ID).
			MarkAsDuplicate())
		return &models.MaterializeResult{
			Booking:          outcome.Booking,
			AlreadyProcessed: true,
			AlreadyConfirmed: outcome.Booking.Status.ReflectsConfirmation(),
		}, nil
	}

	if outcome.Conflict != nil {
		return nil, s.handleConflict(ctx, intent, outcome, metadata, source)
	}

	booking := outcome.Booking
	entry := models.NewPaymentAudit(models.PaymentEventBookingMaterialized, source).
		SetPaymentIntent(intent.ID).
		SetCharge(intent.ChargeRef).
		SetBooking(booking.ID).
		SetPayment(outcome.Payment.ID).
		SetProcessingTime(started)
	if !entry.SetAmounts(metadata.Amount, intent.Amount, intent.Currency) {
		s.logger.WithFields(logrus.Fields{
			"payment_intent_ref": intent.ID,
			"expected":           metadata.Amount,
			"received":           intent.Amount,
		}).Error("Settled amount differs from checkout price")
	}
	s.audit.Record(ctx, entry)

	if err := s.provider.UpdateMetadata(ctx, intent.ID, models.BookingLinkMetadata(booking.ID)); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"booking_id":         booking.ID,
			"payment_intent_ref": intent.ID,
		}).Warn("Failed to link payment intent to booking")
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id":         booking.ID,
		"box_id":             booking.BoxID,
		"payment_intent_ref": intent.ID,
		"status":             booking.Status,
	}).Info("Booking materialized")

	n := NewBookingNotification(NotifyBookingConfirmed, booking)
	n.LockPIN = pin
	s.dispatcher.Dispatch(n)

	return &models.MaterializeResult{Booking: booking, LockPIN: pin}, nil
}

// handleConflict refunds a payment whose interval was taken before it could be booked
func (s *MaterializerService) handleConflict(ctx context.Context, intent *PaymentIntent, outcome *database.SettlementOutcome, metadata models.PaymentMetadata, source models.PaymentEventSource) error {
	s.audit.Record(ctx, models.NewPaymentAudit(models.PaymentEventBoxConflict, source).
		SetPaymentIntent(intent.ID).
		SetCharge(intent.ChargeRef).
		SetPayment(outcome.Payment.ID).
		SetDetail("conflicting_booking_id", outcome.Conflict.ID.String()))

	conflictErr := models.NewConflictError(models.CodeBoxNoLongerAvailable, "box was booked by someone else before this payment settled").
		WithDetail("conflicting_booking_id", outcome.Conflict.ID)

	_, warning := s.refunder.Refund(ctx, RefundRequest{
		Payment:        outcome.Payment,
		ChargeRef:      intent.ChargeRef,
		Amount:         intent.Amount,
		IdempotencyKey: "refund-conflict-" + intent.ChargeRef,
		FullRefund:     true,
		Source:         source,
	})
	if warning != nil {
		conflictErr.WithDetail("refund_status", models.RefundStatusFailed)
		return conflictErr
	}

	conflictErr.WithDetail("refund_status", models.RefundStatusIssued)
	s.dispatcher.Dispatch(Notification{
		Event:        NotifyConflictRefunded,
		UserID:       metadata.UserID,
		ContactEmail: metadata.ContactEmail,
		Data:         map[string]string{"payment_intent_id": intent.ID},
	})
	return conflictErr
}

// resolveDuplicateCharge handles a charge that settled another payment row first
func (s *MaterializerService) resolveDuplicateCharge(ctx context.Context, intent *PaymentIntent, source models.PaymentEventSource) (*models.MaterializeResult, error) {
	payment, err := s.payments.GetByChargeRef(ctx, intent.ChargeRef)
	if err != nil {
		return nil, err
	}
	if payment == nil || !payment.IsLinked() {
		return nil, models.NewConflictError(models.CodeDuplicateSettledCharge, "charge is settled on another payment")
	}

	booking, err := s.bookings.GetBookingByID(ctx, *payment.BookingID)
	if err != nil {
		return nil, err
	}
	if booking == nil {
		return nil, models.NewNotFoundError(models.CodeBookingNotFound, "linked booking not found")
	}

	s.audit.Record(ctx, models.NewPaymentAudit(models.PaymentEventDuplicateDelivery, source).
		SetPaymentIntent(intent.ID).
		SetCharge(intent.ChargeRef).
		SetBooking(booking.ID).
		MarkAsDuplicate())

	return &models.MaterializeResult{
		Booking:          booking,
		AlreadyProcessed: true,
		AlreadyConfirmed: booking.Status.ReflectsConfirmation(),
	}, nil
}

func pickContactEmail(override, fromMetadata *string, receiptEmail string) *string {
	if override != nil && *override != "" {
		return override
	}
	if fromMetadata != nil && *fromMetadata != "" {
		return fromMetadata
	}
	if receiptEmail != "" {
		return &receiptEmail
	}
	return nil
}
