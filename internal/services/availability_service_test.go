package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stowbox/rental-backend/internal/models"
	"github.com/stowbox/rental-backend/pkg/interval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func window(start, end time.Time) interval.Interval {
	return interval.Interval{Start: start, End: end}
}

func TestIsFree_HalfOpen(t *testing.T) {
	e := newTestEngine(t, testNow)
	box := e.store.addBox(uuid.New(), models.BoxModelClassic, nil)
	start := testNow.Add(24 * time.Hour)
	end := start.Add(48 * time.Hour)
	e.store.addBooking(box.ID, start, end, models.BookingStatusConfirmed)

	ctx := context.Background()

	free, err := e.availability.IsFree(ctx, box.ID, window(end, end.Add(24*time.Hour)))
	require.NoError(t, err)
	assert.True(t, free, "back-to-back rental must be allowed")

	free, err = e.availability.IsFree(ctx, box.ID, window(start.Add(-24*time.Hour), start))
	require.NoError(t, err)
	assert.True(t, free)

	free, err = e.availability.IsFree(ctx, box.ID, window(end.Add(-time.Minute), end.Add(time.Hour)))
	require.NoError(t, err)
	assert.False(t, free)

	_, err = e.availability.IsFree(ctx, box.ID, window(end, start))
	assert.True(t, models.IsKind(err, models.KindValidation))
}

func TestIsFree_IgnoresFinishedBookings(t *testing.T) {
	e := newTestEngine(t, testNow)
	box := e.store.addBox(uuid.New(), models.BoxModelClassic, nil)
	start := testNow.Add(24 * time.Hour)
	e.store.addBooking(box.ID, start, start.Add(24*time.Hour), models.BookingStatusCancelled)
	e.store.addBooking(box.ID, start, start.Add(24*time.Hour), models.BookingStatusCompleted)

	free, err := e.availability.IsFree(context.Background(), box.ID, window(start, start.Add(time.Hour)))
	require.NoError(t, err)
	assert.True(t, free)
}

func TestIsFree_OverdueHoldsBox(t *testing.T) {
	e := newTestEngine(t, testNow)
	box := e.store.addBox(uuid.New(), models.BoxModelClassic, nil)
	e.store.addBooking(box.ID, testNow.Add(-48*time.Hour), testNow.Add(-2*time.Hour), models.BookingStatusOverdue)

	ctx := context.Background()

	free, err := e.availability.IsFree(ctx, box.ID, window(testNow, testNow.Add(time.Hour)))
	require.NoError(t, err)
	assert.False(t, free, "unreturned box must not be offered right away")

	free, err = e.availability.IsFree(ctx, box.ID, window(testNow.Add(25*time.Hour), testNow.Add(26*time.Hour)))
	require.NoError(t, err)
	assert.True(t, free)
}

func TestEarliestAvailableStart(t *testing.T) {
	e := newTestEngine(t, testNow)
	box := e.store.addBox(uuid.New(), models.BoxModelClassic, nil)
	e.store.addBooking(box.ID, testNow, testNow.Add(24*time.Hour), models.BookingStatusActive)
	e.store.addBooking(box.ID, testNow.Add(36*time.Hour), testNow.Add(48*time.Hour), models.BookingStatusPending)

	ctx := context.Background()

	start, err := e.availability.EarliestAvailableStart(ctx, box.ID, testNow, 12*time.Hour)
	require.NoError(t, err)
	require.NotNil(t, start)
	assert.Equal(t, testNow.Add(24*time.Hour), *start)

	start, err = e.availability.EarliestAvailableStart(ctx, box.ID, testNow, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(48*time.Hour), *start)

	_, err = e.availability.EarliestAvailableStart(ctx, box.ID, testNow, 0)
	assert.True(t, models.IsKind(err, models.KindValidation))
}

func TestAvailability_BoxMustBeOffered(t *testing.T) {
	e := newTestEngine(t, testNow)
	box := e.store.addBox(uuid.New(), models.BoxModelClassic, nil)
	e.store.boxes[box.ID].Status = models.BoxStatusInactive
	ctx := context.Background()
	free := window(testNow.Add(24*time.Hour), testNow.Add(48*time.Hour))

	ok, err := e.availability.IsFree(ctx, box.ID, free)
	require.NoError(t, err)
	assert.False(t, ok)

	start, err := e.availability.EarliestAvailableStart(ctx, box.ID, testNow, 24*time.Hour)
	require.NoError(t, err)
	assert.Nil(t, start)

	_, err = e.availability.IsFree(ctx, uuid.New(), free)
	assert.Equal(t, models.CodeBoxNotFound, mustAppError(t, err).Code)

	_, err = e.availability.EarliestAvailableStart(ctx, uuid.New(), testNow, 24*time.Hour)
	assert.Equal(t, models.CodeBoxNotFound, mustAppError(t, err).Code)
}

func TestForBox_DisplayMergesShortGaps(t *testing.T) {
	e := newTestEngine(t, testNow)
	box := e.store.addBox(uuid.New(), models.BoxModelClassic, nil)
	e.store.addBooking(box.ID, testNow.Add(24*time.Hour), testNow.Add(48*time.Hour), models.BookingStatusPending)
	e.store.addBooking(box.ID, testNow.Add(60*time.Hour), testNow.Add(72*time.Hour), models.BookingStatusPending)

	view, err := e.availability.ForBox(context.Background(), box.ID)
	require.NoError(t, err)
	assert.Len(t, view.Blocked, 2)
	require.Len(t, view.DisplayRanges, 1)
	assert.Equal(t, testNow.Add(24*time.Hour), view.DisplayRanges[0].Start)
	assert.Equal(t, testNow.Add(72*time.Hour), view.DisplayRanges[0].End)

	_, err = e.availability.ForBox(context.Background(), uuid.New())
	assert.True(t, models.IsKind(err, models.KindNotFound))
}

func TestForLocationModel(t *testing.T) {
	e := newTestEngine(t, testNow)
	location := uuid.New()
	boxA := e.store.addBox(location, models.BoxModelPro, nil)
	boxB := e.store.addBox(location, models.BoxModelPro, nil)
	e.store.addBox(location, models.BoxModelClassic, nil)

	e.store.addBooking(boxA.ID, testNow, testNow.Add(48*time.Hour), models.BookingStatusActive)
	e.store.addBooking(boxB.ID, testNow, testNow.Add(24*time.Hour), models.BookingStatusActive)

	view, err := e.availability.ForLocationModel(context.Background(), location, models.BoxModelPro, testNow, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, view.BoxCount)
	require.Len(t, view.BlockedCover, 1)
	assert.Equal(t, testNow.Add(48*time.Hour), view.BlockedCover[0].End)
	require.NotNil(t, view.EarliestStart)
	assert.Equal(t, testNow.Add(24*time.Hour), *view.EarliestStart)
	require.NotNil(t, view.FullyBookedUntil)
	assert.Equal(t, testNow.Add(24*time.Hour), *view.FullyBookedUntil)

	classic, err := e.availability.ForLocationModel(context.Background(), location, models.BoxModelClassic, testNow, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, classic.BoxCount)
	assert.Empty(t, classic.BlockedCover)
	assert.Equal(t, testNow, *classic.EarliestStart)
	assert.Nil(t, classic.FullyBookedUntil)

	_, err = e.availability.ForLocationModel(context.Background(), location, models.BoxModel("xl"), testNow, time.Hour)
	assert.True(t, models.IsKind(err, models.KindValidation))
}
