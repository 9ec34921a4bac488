package interval

import (
	"errors"
	"sort"
	"time"
)

// Day is the unit used for rental durations and the display grace window.
const Day = 24 * time.Hour

// DisplayGrace merges ranges separated by at most one day when rendering a calendar.
// Conflict checks always use a zero grace.
const DisplayGrace = Day

// ErrInvalidInterval is returned when end is not strictly after start
var ErrInvalidInterval = errors.New("interval end must be after start")

// Interval is a half-open time range [Start, End)
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// New builds an interval and validates start < end
func New(start, end time.Time) (Interval, error) {
	if !end.After(start) {
		return Interval{}, ErrInvalidInterval
	}
	return Interval{Start: start, End: end}, nil
}

// Duration returns the length of the interval
func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// Contains reports whether t falls inside [Start, End)
func (i Interval) Contains(t time.Time) bool {
	return !t.Before(i.Start) && t.Before(i.End)
}

// Overlaps reports whether two half-open intervals share at least one instant.
// Back-to-back intervals ([a, b) and [b, c)) do not overlap.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// Gap returns the distance between the nearer edges of a and b, zero when they overlap or touch
func Gap(a, b Interval) time.Duration {
	if Overlaps(a, b) {
		return 0
	}
	if !a.End.After(b.Start) {
		return b.Start.Sub(a.End)
	}
	return a.Start.Sub(b.End)
}

// IsAdjacentOrOverlapping reports whether a and b overlap or sit within grace of each other
func IsAdjacentOrOverlapping(a, b Interval, grace time.Duration) bool {
	if Overlaps(a, b) {
		return true
	}
	return Gap(a, b) <= grace
}

// Merge returns the smallest interval covering both a and b
func Merge(a, b Interval) Interval {
	merged := a
	if b.Start.Before(merged.Start) {
		merged.Start = b.Start
	}
	if b.End.After(merged.End) {
		merged.End = b.End
	}
	return merged
}

// MergeAll sorts by start and sweeps once, folding every interval that is adjacent
// (within grace) or overlapping into the running accumulator.
// The result is sorted and pairwise separated by more than grace.
func MergeAll(list []Interval, grace time.Duration) []Interval {
	if len(list) == 0 {
		return []Interval{}
	}

	sorted := make([]Interval, len(list))
	copy(sorted, list)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	result := make([]Interval, 0, len(sorted))
	acc := sorted[0]
	for _, next := range sorted[1:] {
		if IsAdjacentOrOverlapping(acc, next, grace) {
			acc = Merge(acc, next)
			continue
		}
		result = append(result, acc)
		acc = next
	}
	result = append(result, acc)

	return result
}

// OverlapsAny returns the index of the first interval in list overlapping candidate, or -1
func OverlapsAny(list []Interval, candidate Interval) int {
	for i, blocked := range list {
		if Overlaps(blocked, candidate) {
			return i
		}
	}
	return -1
}

// EarliestStart walks a merged, sorted cover of blocked ranges and returns the first start
// at or after from that leaves a free window of at least duration. The open tail after the
// last blocked range always fits, so ok is false only for a non-positive duration.
func EarliestStart(blocked []Interval, from time.Time, duration time.Duration) (time.Time, bool) {
	if duration <= 0 {
		return time.Time{}, false
	}

	candidate := from
	for _, b := range blocked {
		if !b.End.After(candidate) {
			// Range is entirely behind the candidate
			continue
		}
		if !candidate.Add(duration).After(b.Start) {
			return candidate, true
		}
		candidate = b.End
	}

	return candidate, true
}
