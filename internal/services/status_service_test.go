package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stowbox/rental-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextStatus(t *testing.T) {
	returned := testNow.Add(-time.Hour)

	tests := []struct {
		name     string
		status   models.BookingStatus
		start    time.Duration
		end      time.Duration
		returned *time.Time
		want     models.BookingStatus
	}{
		{"pending before start", models.BookingStatusPending, time.Hour, 25 * time.Hour, nil, models.BookingStatusPending},
		{"confirmed before start", models.BookingStatusConfirmed, time.Hour, 25 * time.Hour, nil, models.BookingStatusConfirmed},
		{"pending at start", models.BookingStatusPending, 0, 24 * time.Hour, nil, models.BookingStatusActive},
		{"upcoming inside window", models.BookingStatusUpcoming, -time.Hour, time.Hour, nil, models.BookingStatusActive},
		{"active at end", models.BookingStatusActive, -24 * time.Hour, 0, nil, models.BookingStatusOverdue},
		{"pending skipped straight past end", models.BookingStatusPending, -48 * time.Hour, -24 * time.Hour, nil, models.BookingStatusOverdue},
		{"overdue stays overdue", models.BookingStatusOverdue, -48 * time.Hour, -24 * time.Hour, nil, models.BookingStatusOverdue},
		{"returned completes", models.BookingStatusOverdue, -48 * time.Hour, -24 * time.Hour, &returned, models.BookingStatusCompleted},
		{"cancelled never moves", models.BookingStatusCancelled, -48 * time.Hour, -24 * time.Hour, nil, models.BookingStatusCancelled},
		{"completed never moves", models.BookingStatusCompleted, -time.Hour, time.Hour, nil, models.BookingStatusCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &models.Booking{
				Status:     tt.status,
				StartDate:  testNow.Add(tt.start),
				EndDate:    testNow.Add(tt.end),
				ReturnedAt: tt.returned,
			}
			assert.Equal(t, tt.want, NextStatus(b, testNow))
		})
	}
}

func TestNextStatus_MonotonicInTime(t *testing.T) {
	b := &models.Booking{
		Status:    models.BookingStatusPending,
		StartDate: testNow.Add(24 * time.Hour),
		EndDate:   testNow.Add(72 * time.Hour),
	}

	previous := NextStatus(b, testNow).Phase()
	for step := time.Duration(0); step <= 120*time.Hour; step += 30 * time.Minute {
		phase := NextStatus(b, testNow.Add(step)).Phase()
		assert.GreaterOrEqual(t, phase, previous, "phase moved backwards at +%s", step)
		previous = phase
	}
}

func TestSyncAll(t *testing.T) {
	e := newTestEngine(t, testNow)
	box := e.store.addBox(uuid.New(), models.BoxModelClassic, nil)

	started := e.store.addBooking(box.ID, testNow.Add(-time.Hour), testNow.Add(23*time.Hour), models.BookingStatusPending)
	ended := e.store.addBooking(box.ID, testNow.Add(-72*time.Hour), testNow.Add(-48*time.Hour), models.BookingStatusActive)
	future := e.store.addBooking(box.ID, testNow.Add(48*time.Hour), testNow.Add(72*time.Hour), models.BookingStatusPending)
	cancelled := e.store.addBooking(box.ID, testNow.Add(-72*time.Hour), testNow.Add(-48*time.Hour), models.BookingStatusCancelled)

	result, err := e.status.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Examined)
	assert.Equal(t, 2, result.Updated)
	assert.Empty(t, result.Failed)

	expect := map[uuid.UUID]models.BookingStatus{
		started.ID:   models.BookingStatusActive,
		ended.ID:     models.BookingStatusOverdue,
		future.ID:    models.BookingStatusPending,
		cancelled.ID: models.BookingStatusCancelled,
	}
	for id, want := range expect {
		got, err := e.store.GetBookingByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status)
	}

	e.dispatcher.Wait()
	assert.Equal(t, 1, e.notifier.count(NotifyBookingOverdue))

	// a second run finds nothing left to move
	again, err := e.status.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, again.Updated)
}

func TestSyncAll_LongRunningRentalsDoNotFillTheBatch(t *testing.T) {
	e := newTestEngine(t, testNow)
	e.status = NewStatusService(e.store, FixedClock{At: testNow}, e.dispatcher, 2, 2, testLogger())
	box := e.store.addBox(uuid.New(), models.BoxModelClassic, nil)

	for i := 0; i < 3; i++ {
		e.store.addBooking(box.ID, testNow.Add(-time.Duration(i+1)*time.Hour), testNow.Add(30*24*time.Hour), models.BookingStatusActive)
	}
	started := e.store.addBooking(box.ID, testNow.Add(-time.Minute), testNow.Add(24*time.Hour), models.BookingStatusConfirmed)

	result, err := e.status.SyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Examined)
	assert.Equal(t, 1, result.Updated)

	stored, err := e.store.GetBookingByID(context.Background(), started.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusActive, stored.Status)
}

func TestSyncMany_ReportsFailuresIndividually(t *testing.T) {
	e := newTestEngine(t, testNow)
	box := e.store.addBox(uuid.New(), models.BoxModelClassic, nil)

	ok := e.store.addBooking(box.ID, testNow.Add(-time.Hour), testNow.Add(time.Hour), models.BookingStatusConfirmed)
	broken := e.store.addBooking(box.ID, testNow.Add(-time.Hour), testNow.Add(time.Hour), models.BookingStatusConfirmed)
	e.store.syncErr[broken.ID] = errors.New("connection reset")
	missing := uuid.New()

	result := e.status.SyncMany(context.Background(), []uuid.UUID{ok.ID, broken.ID, missing})
	assert.Equal(t, 3, result.Examined)
	assert.Equal(t, 1, result.Updated)
	require.Len(t, result.Failed, 2)

	failed := map[uuid.UUID]bool{}
	for _, f := range result.Failed {
		failed[f.BookingID] = true
		assert.NotEmpty(t, f.Error)
	}
	assert.True(t, failed[broken.ID])
	assert.True(t, failed[missing])
}

func TestSyncForUser_OnlyOwnBookings(t *testing.T) {
	e := newTestEngine(t, testNow)
	actor := customer()
	booking := materializedBooking(t, e, actor, testNow.Add(-time.Hour), "ch_1")
	other := e.store.addBooking(booking.BoxID, testNow.Add(-96*time.Hour), testNow.Add(-72*time.Hour), models.BookingStatusActive)

	result, err := e.status.SyncForUser(context.Background(), actor.UserID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Examined)

	stored, err := e.store.GetBookingByID(context.Background(), other.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusActive, stored.Status)
}
