package conflict

import "time"

// Interval is a half-open [Start, End) time window.
type Interval struct {
	Start time.Time
	End   time.Time
}

// TemporalOverlap returns the shared window of a and b, or nil when they are
// disjoint. Intervals that only touch at an endpoint do not overlap.
func TemporalOverlap(a, b Interval) *Interval {
	if !(a.Start.Before(b.End) && b.Start.Before(a.End)) {
		return nil
	}
	out := Interval{Start: a.Start, End: a.End}
	if b.Start.After(out.Start) {
		out.Start = b.Start
	}
	if b.End.Before(out.End) {
		out.End = b.End
	}
	return &out
}
