package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stowbox/rental-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateCancellation(t *testing.T) {
	policy := testPolicy()

	tests := []struct {
		name         string
		hoursAhead   float64
		status       models.BookingStatus
		wantEligible bool
		wantPercent  int
		wantRefund   int64
	}{
		{"well ahead", 100, models.BookingStatusPending, true, 100, 9900},
		{"exactly on the 72h boundary", 72, models.BookingStatusConfirmed, true, 100, 9900},
		{"half refund tier", 48, models.BookingStatusUpcoming, true, 50, 4900},
		{"last tier refunds nothing", 10, models.BookingStatusPending, true, 0, 0},
		{"already started", -1, models.BookingStatusPending, false, 0, 0},
		{"active", 10, models.BookingStatusActive, false, 0, 0},
		{"overdue", 10, models.BookingStatusOverdue, false, 0, 0},
		{"cancelled", 100, models.BookingStatusCancelled, false, 0, 0},
		{"completed", 100, models.BookingStatusCompleted, false, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &models.Booking{
				StartDate:   testNow.Add(time.Duration(tt.hoursAhead * float64(time.Hour))),
				EndDate:     testNow.Add(200 * time.Hour),
				Status:      tt.status,
				TotalAmount: 10000,
			}

			eval := EvaluateCancellation(b, testNow, policy)
			assert.Equal(t, tt.wantEligible, eval.Eligible)
			assert.Equal(t, tt.wantPercent, eval.RefundPercentage)
			assert.Equal(t, tt.wantRefund, eval.RefundAmount)
			assert.NotEmpty(t, eval.Reason)
		})
	}
}

func TestEvaluateCancellation_FeeNeverNegative(t *testing.T) {
	policy := testPolicy()
	policy.TransactionFee = 5000
	b := &models.Booking{
		StartDate:   testNow.Add(100 * time.Hour),
		Status:      models.BookingStatusPending,
		TotalAmount: 1000,
	}

	eval := EvaluateCancellation(b, testNow, policy)
	assert.True(t, eval.Eligible)
	assert.Equal(t, int64(0), eval.RefundAmount)
}

func materializedBooking(t *testing.T, e *testEngine, actor models.Actor, start time.Time, chargeRef string) *models.Booking {
	t.Helper()
	box := e.store.addBox(uuid.New(), models.BoxModelClassic, nil)
	ref := e.paidCheckout(t, actor, box.ID, start, start.Add(48*time.Hour), chargeRef)
	result, err := e.materializer.Materialize(context.Background(), ref, nil, models.PaymentSourceClientPoll)
	require.NoError(t, err)
	return result.Booking
}

func TestCancel_FullRefund(t *testing.T) {
	e := newTestEngine(t, testNow)
	actor := customer()
	booking := materializedBooking(t, e, actor, testNow.Add(96*time.Hour), "ch_1")

	preview, err := e.cancellation.CanCancel(context.Background(), actor, booking.ID)
	require.NoError(t, err)
	assert.True(t, preview.Eligible)

	reason := "plans changed"
	result, err := e.cancellation.Cancel(context.Background(), actor, booking.ID, &reason)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Nil(t, result.Warning)
	assert.Equal(t, 100, result.RefundPercentage)
	assert.Equal(t, int64(1900), result.RefundAmount)
	assert.Equal(t, models.RefundStatusIssued, result.RefundStatus)
	assert.Equal(t, models.BookingStatusCancelled, result.Booking.Status)

	refunds := e.provider.refundCalls()
	require.Len(t, refunds, 1)
	assert.Equal(t, "ch_1", refunds[0].ChargeRef)
	assert.Equal(t, "refund-cancel-"+booking.ID.String()+"-"+booking.PaymentID.String(), refunds[0].IdempotencyKey)

	stored, err := e.store.GetBookingByID(context.Background(), booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RefundStatusIssued, *stored.RefundStatus)
	assert.NotNil(t, stored.RefundRef)
	assert.Equal(t, reason, *stored.CancellationReason)

	// cancelled bookings no longer block the box
	free, err := e.availability.IsFree(context.Background(), booking.BoxID, booking.Interval())
	require.NoError(t, err)
	assert.True(t, free)

	_, err = e.cancellation.Cancel(context.Background(), actor, booking.ID, nil)
	appErr, ok := models.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, models.CodeNotCancellable, appErr.Code)
	assert.Len(t, e.provider.refundCalls(), 1)

	e.dispatcher.Wait()
	assert.Equal(t, 1, e.notifier.count(NotifyBookingCancelled))
}

func TestCancel_ExtendedBookingRefundsEveryCharge(t *testing.T) {
	e := newTestEngine(t, testNow)
	actor := customer()
	booking := materializedBooking(t, e, actor, testNow.Add(96*time.Hour), "ch_1")
	ctx := context.Background()

	checkout, err := e.extension.Start(ctx, actor, booking.ID, booking.EndDate.Add(72*time.Hour))
	require.NoError(t, err)
	e.provider.succeed(checkout.PaymentIntentID, "ch_ext")
	extended, err := e.extension.Apply(ctx, checkout.PaymentIntentID, models.PaymentSourceClientPoll)
	require.NoError(t, err)
	require.Equal(t, int64(5000), extended.Booking.TotalAmount)

	result, err := e.cancellation.Cancel(ctx, actor, booking.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, result.Warning)
	assert.Equal(t, int64(4900), result.RefundAmount)
	assert.Equal(t, models.RefundStatusIssued, result.RefundStatus)

	refunds := e.provider.refundCalls()
	require.Len(t, refunds, 2)
	assert.Equal(t, "ch_1", refunds[0].ChargeRef)
	assert.Equal(t, int64(2000), refunds[0].Amount)
	assert.Equal(t, "ch_ext", refunds[1].ChargeRef)
	assert.Equal(t, int64(2900), refunds[1].Amount)
	assert.NotEqual(t, refunds[0].IdempotencyKey, refunds[1].IdempotencyKey)

	original, err := e.store.GetByChargeRef(ctx, "ch_1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRefunded, original.Status)

	leg, err := e.store.GetByChargeRef(ctx, "ch_ext")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSettled, leg.Status)

	assert.Equal(t, 2, e.auditLog.count(models.PaymentEventRefundCompleted))
}

func TestSplitRefund(t *testing.T) {
	ch1, ch2 := "ch_1", "ch_2"
	payments := []*models.Payment{
		{ID: uuid.New(), ChargeRef: &ch1, Amount: 2000},
		{ID: uuid.New(), ChargeRef: nil, Amount: 500},
		{ID: uuid.New(), ChargeRef: &ch2, Amount: 1000},
	}

	legs, uncovered := splitRefund(payments, 1500)
	require.Len(t, legs, 1)
	assert.Equal(t, int64(1500), legs[0].Amount)
	assert.False(t, legs[0].FullRefund)
	assert.Zero(t, uncovered)

	legs, uncovered = splitRefund(payments, 2500)
	require.Len(t, legs, 2)
	assert.True(t, legs[0].FullRefund)
	assert.Equal(t, "ch_2", legs[1].ChargeRef)
	assert.Equal(t, int64(500), legs[1].Amount)
	assert.Zero(t, uncovered)

	_, uncovered = splitRefund(payments, 3500)
	assert.Equal(t, int64(500), uncovered)
}

func TestCancel_NoRefundTier(t *testing.T) {
	e := newTestEngine(t, testNow)
	actor := customer()
	booking := materializedBooking(t, e, actor, testNow.Add(5*time.Hour), "ch_1")

	result, err := e.cancellation.Cancel(context.Background(), actor, booking.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.RefundAmount)
	assert.Equal(t, models.RefundStatusNone, result.RefundStatus)
	assert.Empty(t, e.provider.refundCalls())
}

func TestCancel_RefundFailureKeepsCancellation(t *testing.T) {
	e := newTestEngine(t, testNow)
	actor := customer()
	booking := materializedBooking(t, e, actor, testNow.Add(48*time.Hour), "ch_1")
	e.provider.refundErr = models.NewProviderPermanentError("charge disputed", nil)

	result, err := e.cancellation.Cancel(context.Background(), actor, booking.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, result.Warning)
	assert.Equal(t, models.CodeRefundFailed, result.Warning.Code)
	assert.Equal(t, models.RefundStatusFailed, result.RefundStatus)
	assert.Equal(t, int64(900), result.RefundAmount)

	stored, err := e.store.GetBookingByID(context.Background(), booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusCancelled, stored.Status)
	assert.Equal(t, models.RefundStatusFailed, *stored.RefundStatus)

	e.dispatcher.Wait()
	assert.Equal(t, 1, e.notifier.count(NotifyRefundFailed))
}

func TestCancel_OtherCustomer(t *testing.T) {
	e := newTestEngine(t, testNow)
	booking := materializedBooking(t, e, customer(), testNow.Add(96*time.Hour), "ch_1")

	_, err := e.cancellation.Cancel(context.Background(), customer(), booking.ID, nil)
	appErr, ok := models.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, models.CodeBookingNotFound, appErr.Code)

	stored, err := e.store.GetBookingByID(context.Background(), booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusPending, stored.Status)
}
