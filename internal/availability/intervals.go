// Package availability keeps per-item free intervals and reserves spans out of them.
package availability

import (
	"errors"
	"sort"

	"gearshare/internal/models"
)

var (
	// ErrNotFree is returned when a span does not lie inside a single free interval.
	ErrNotFree = errors.New("span is not free")
	// ErrOverlap means an update would store overlapping free intervals.
	ErrOverlap = errors.New("free intervals overlap")
)

// Normalize sorts intervals by start and coalesces overlapping or touching ones.
// The input slice is not modified.
func Normalize(in []models.Interval) []models.Interval {
	if len(in) == 0 {
		return []models.Interval{}
	}

	sorted := make([]models.Interval, len(in))
	for i, iv := range in {
		sorted[i] = models.NewInterval(iv.Start, iv.End)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start.Equal(sorted[j].Start) {
			return sorted[i].End.Before(sorted[j].End)
		}
		return sorted[i].Start.Before(sorted[j].Start)
	})

	out := make([]models.Interval, 0, len(sorted))
	cur := sorted[0]
	for _, next := range sorted[1:] {
		if merged, ok := cur.Merge(next); ok {
			cur = merged
			continue
		}
		out = append(out, cur)
		cur = next
	}
	return append(out, cur)
}

// Subtract removes span from the free set. The span has to fit inside one
// free interval, which is split around it.
func Subtract(free []models.Interval, span models.Interval) ([]models.Interval, error) {
	span = models.NewInterval(span.Start, span.End)
	if !span.Valid() {
		return nil, ErrNotFree
	}

	out := make([]models.Interval, 0, len(free)+1)
	found := false
	for _, iv := range free {
		if found || !iv.Contains(span) {
			out = append(out, iv)
			continue
		}
		found = true
		if iv.Start.Before(span.Start) {
			out = append(out, models.Interval{Start: iv.Start, End: span.Start})
		}
		if span.End.Before(iv.End) {
			out = append(out, models.Interval{Start: span.End, End: iv.End})
		}
	}
	if !found {
		return nil, ErrNotFree
	}
	return out, nil
}

// Restore adds span back to the free set. Restoring an already free span is a no-op.
func Restore(free []models.Interval, span models.Interval) []models.Interval {
	all := make([]models.Interval, 0, len(free)+1)
	all = append(all, free...)
	all = append(all, span)
	return Normalize(all)
}

// Disjoint reports whether no two intervals in the sorted slice overlap.
func Disjoint(in []models.Interval) bool {
	for i := 1; i < len(in); i++ {
		if in[i-1].Overlaps(in[i]) || in[i].Start.Before(in[i-1].Start) {
			return false
		}
	}
	return true
}
