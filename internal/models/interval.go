package models

import "time"

// Interval is a half-open time span [Start, End).
type Interval struct {
	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`
}

// NewInterval builds an interval with both bounds in UTC.
func NewInterval(start, end time.Time) Interval {
	return Interval{Start: start.UTC(), End: end.UTC()}
}

func (i Interval) Valid() bool {
	return !i.Start.IsZero() && !i.End.IsZero() && i.End.After(i.Start)
}

func (i Interval) Duration() time.Duration {
	if !i.Valid() {
		return 0
	}
	return i.End.Sub(i.Start)
}

func (i Interval) Overlaps(other Interval) bool {
	return i.Start.Before(other.End) && other.Start.Before(i.End)
}

// Contains reports whether other lies entirely inside i.
func (i Interval) Contains(other Interval) bool {
	return !other.Start.Before(i.Start) && !other.End.After(i.End)
}

func (i Interval) Adjacent(other Interval) bool {
	return i.End.Equal(other.Start) || i.Start.Equal(other.End)
}

// Merge joins two overlapping or touching intervals.
func (i Interval) Merge(other Interval) (Interval, bool) {
	if !i.Overlaps(other) && !i.Adjacent(other) {
		return Interval{}, false
	}
	start := i.Start
	if other.Start.Before(start) {
		start = other.Start
	}
	end := i.End
	if other.End.After(end) {
		end = other.End
	}
	return Interval{Start: start, End: end}, true
}

func (i Interval) Equal(other Interval) bool {
	return i.Start.Equal(other.Start) && i.End.Equal(other.End)
}

func (i Interval) String() string {
	return i.Start.Format(time.RFC3339) + "/" + i.End.Format(time.RFC3339)
}
