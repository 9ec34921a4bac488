package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stowbox/rental-backend/internal/models"
	"github.com/stowbox/rental-backend/pkg/interval"
)

// BoxAvailability is the per-box view of blocked time
type BoxAvailability struct {
	BoxID         uuid.UUID           `json:"box_id"`
	Blocked       []interval.Interval `json:"blocked"`
	DisplayRanges []interval.Interval `json:"display_ranges"`
}

// ModelAvailability is the aggregate view over every active box of a model at a location
type ModelAvailability struct {
	LocationID       uuid.UUID           `json:"location_id"`
	Model            models.BoxModel     `json:"model"`
	BoxCount         int                 `json:"box_count"`
	BlockedCover     []interval.Interval `json:"blocked_cover"`
	EarliestStart    *time.Time          `json:"earliest_start,omitempty"`
	FullyBookedUntil *time.Time          `json:"fully_booked_until,omitempty"`
}

// AvailabilityService answers "is this box free" from the blocking bookings
type AvailabilityService struct {
	bookings BookingStore
	boxes    BoxStore
	clock    Clock
	holdback time.Duration
}

// NewAvailabilityService creates a new AvailabilityService.
// holdback is how far past now an overdue booking keeps blocking its box.
func NewAvailabilityService(bookings BookingStore, boxes BoxStore, clock Clock, holdback time.Duration) *AvailabilityService {
	return &AvailabilityService{
		bookings: bookings,
		boxes:    boxes,
		clock:    clock,
		holdback: holdback,
	}
}

// BlockedRanges returns the merged blocked cover of a box with the given adjacency grace
func (s *AvailabilityService) BlockedRanges(ctx context.Context, boxID uuid.UUID, grace time.Duration) ([]interval.Interval, error) {
	bookings, err := s.bookings.ListBlockingByBox(ctx, boxID)
	if err != nil {
		return nil, err
	}
	return interval.MergeAll(s.effectiveIntervals(bookings), grace), nil
}

// IsFree reports whether window overlaps no blocking booking on the box.
// A box that is not offered is never free.
func (s *AvailabilityService) IsFree(ctx context.Context, boxID uuid.UUID, window interval.Interval) (bool, error) {
	if !window.End.After(window.Start) {
		return false, models.NewValidationError(models.CodeInvalidInterval, interval.ErrInvalidInterval.Error())
	}

	offered, err := s.isOffered(ctx, boxID)
	if err != nil || !offered {
		return false, err
	}

	blocked, err := s.BlockedRanges(ctx, boxID, 0)
	if err != nil {
		return false, err
	}
	return interval.OverlapsAny(blocked, window) < 0, nil
}

// EarliestAvailableStart returns the first instant at or after from where the box
// stays free for duration
func (s *AvailabilityService) EarliestAvailableStart(ctx context.Context, boxID uuid.UUID, from time.Time, duration time.Duration) (*time.Time, error) {
	if duration <= 0 {
		return nil, models.NewValidationError(models.CodeInvalidInterval, "duration must be positive")
	}

	offered, err := s.isOffered(ctx, boxID)
	if err != nil || !offered {
		return nil, err
	}

	blocked, err := s.BlockedRanges(ctx, boxID, 0)
	if err != nil {
		return nil, err
	}

	start, ok := interval.EarliestStart(blocked, from, duration)
	if !ok {
		return nil, nil
	}
	return &start, nil
}

// isOffered loads the box, answering BOX_NOT_FOUND when it does not exist
func (s *AvailabilityService) isOffered(ctx context.Context, boxID uuid.UUID) (bool, error) {
	box, err := s.boxes.GetBoxByID(ctx, boxID)
	if err != nil {
		return false, err
	}
	if box == nil {
		return false, models.NewNotFoundError(models.CodeBoxNotFound, "box not found")
	}
	return box.IsOffered(), nil
}

// ForBox returns both the conflict-checking and the display view of a box
func (s *AvailabilityService) ForBox(ctx context.Context, boxID uuid.UUID) (*BoxAvailability, error) {
	box, err := s.boxes.GetBoxByID(ctx, boxID)
	if err != nil {
		return nil, err
	}
	if box == nil {
		return nil, models.NewNotFoundError(models.CodeBoxNotFound, "box not found")
	}

	bookings, err := s.bookings.ListBlockingByBox(ctx, boxID)
	if err != nil {
		return nil, err
	}
	intervals := s.effectiveIntervals(bookings)

	return &BoxAvailability{
		BoxID:         boxID,
		Blocked:       interval.MergeAll(intervals, 0),
		DisplayRanges: interval.MergeAll(intervals, interval.DisplayGrace),
	}, nil
}

// ForLocationModel unions the blocked ranges of every active box of the model at the
// location. EarliestStart is the first start any single box can honor for duration;
// FullyBookedUntil is set when that is later than from.
func (s *AvailabilityService) ForLocationModel(ctx context.Context, locationID uuid.UUID, model models.BoxModel, from time.Time, duration time.Duration) (*ModelAvailability, error) {
	if !model.IsValid() {
		return nil, models.NewValidationError(models.CodeInvalidRequest, "unknown box model")
	}
	if duration <= 0 {
		return nil, models.NewValidationError(models.CodeInvalidInterval, "duration must be positive")
	}

	boxIDs, err := s.boxes.ListActiveBoxIDs(ctx, locationID, model)
	if err != nil {
		return nil, err
	}

	result := &ModelAvailability{
		LocationID:   locationID,
		Model:        model,
		BoxCount:     len(boxIDs),
		BlockedCover: []interval.Interval{},
	}
	if len(boxIDs) == 0 {
		return result, nil
	}

	bookings, err := s.bookings.ListBlockingByBoxes(ctx, boxIDs)
	if err != nil {
		return nil, err
	}

	perBox := make(map[uuid.UUID][]*models.Booking, len(boxIDs))
	for _, b := range bookings {
		perBox[b.BoxID] = append(perBox[b.BoxID], b)
	}

	result.BlockedCover = interval.MergeAll(s.effectiveIntervals(bookings), 0)

	var earliest *time.Time
	for _, id := range boxIDs {
		blocked := interval.MergeAll(s.effectiveIntervals(perBox[id]), 0)
		start, ok := interval.EarliestStart(blocked, from, duration)
		if !ok {
			continue
		}
		if earliest == nil || start.Before(*earliest) {
			candidate := start
			earliest = &candidate
		}
	}

	result.EarliestStart = earliest
	if earliest != nil && earliest.After(from) {
		result.FullyBookedUntil = earliest
	}

	return result, nil
}

// effectiveIntervals maps blocking bookings to the time they actually hold the box.
// An unreturned booking past its end keeps the box until at least now+holdback.
func (s *AvailabilityService) effectiveIntervals(bookings []*models.Booking) []interval.Interval {
	now := s.clock.Now()
	out := make([]interval.Interval, 0, len(bookings))

	for _, b := range bookings {
		if !b.Status.IsBlocking() {
			continue
		}
		iv := b.Interval()
		if !b.HasReturn() && !now.Before(iv.End) && (b.Status == models.BookingStatusOverdue || b.Status == models.BookingStatusActive) {
			held := now.Add(s.holdback)
			if held.After(iv.End) {
				iv.End = held
			}
		}
		out = append(out, iv)
	}

	return out
}
