package interval

import (
	"sort"
	"time"
)

// Period is a half-open time interval [Start, End)
type Period struct {
	Start time.Time
	End   time.Time
}

// Duration returns the length of the period
func (p Period) Duration() time.Duration {
	return p.End.Sub(p.Start)
}

// Overlaps reports whether two half-open periods intersect
func (p Period) Overlaps(o Period) bool {
	return p.Start.Before(o.End) && o.Start.Before(p.End)
}

// Contains reports whether o lies entirely within p
func (p Period) Contains(o Period) bool {
	return !o.Start.Before(p.Start) && !o.End.After(p.End)
}

// clamp restricts p to the window, returning ok=false when the
// intersection is empty.
func (p Period) clamp(window Period) (Period, bool) {
	if !p.Overlaps(window) {
		return Period{}, false
	}
	if p.Start.Before(window.Start) {
		p.Start = window.Start
	}
	if p.End.After(window.End) {
		p.End = window.End
	}
	return p, p.End.After(p.Start)
}

// ReservedPeriods computes the coalesced, time-ordered list of intervals
// within window during which the resource is claimed, given the existing
// claims on it. A single concurrent claim saturates the resource
// (capacity one).
//
// Reserved periods separated by a gap shorter than minDuration are merged,
// since no new reservation of at least minDuration could ever use the gap.
// Merging applies only between reserved periods; the gaps at the window
// boundaries stay free. A window shorter than minDuration is wholly
// reserved.
func ReservedPeriods(claims []Period, window Period, minDuration time.Duration) []Period {
	if window.Duration() < minDuration {
		return []Period{window}
	}

	// Sweep line: +1 at each clamped claim start, -1 at each end.
	type boundary struct {
		at    time.Time
		delta int
	}
	var events []boundary
	for _, claim := range claims {
		c, ok := claim.clamp(window)
		if !ok {
			continue
		}
		events = append(events, boundary{c.Start, +1}, boundary{c.End, -1})
	}
	if len(events) == 0 {
		return nil
	}

	sort.Slice(events, func(i, j int) bool {
		if events[i].at.Equal(events[j].at) {
			// Process ends before starts so back-to-back claims close
			// and reopen; the merge pass below joins them.
			return events[i].delta < events[j].delta
		}
		return events[i].at.Before(events[j].at)
	})

	const capacity, quantity = 1, 1
	used := 0
	var periods []Period
	var openAt time.Time
	open := false
	for _, ev := range events {
		used += ev.delta
		if !open && used+quantity > capacity {
			openAt = ev.at
			open = true
		} else if open && used+quantity <= capacity {
			periods = append(periods, Period{openAt, ev.at})
			open = false
		}
	}

	// Merge periods whose separating gap is too short to be usable.
	merged := periods[:0]
	for _, p := range periods {
		if n := len(merged); n > 0 && p.Start.Sub(merged[n-1].End) < minDuration {
			merged[n-1].End = p.End
			continue
		}
		merged = append(merged, p)
	}

	return merged
}

// FreePeriods returns the exact complement of ReservedPeriods within the
// window. Internal gaps shorter than minDuration are already absorbed by
// the reserved-period merge; boundary gaps are reported as they are.
func FreePeriods(claims []Period, window Period, minDuration time.Duration) []Period {
	reserved := ReservedPeriods(claims, window, minDuration)

	var free []Period
	cursor := window.Start
	for _, r := range reserved {
		if r.Start.After(cursor) {
			free = append(free, Period{cursor, r.Start})
		}
		cursor = r.End
	}
	if window.End.After(cursor) {
		free = append(free, Period{cursor, window.End})
	}
	return free
}

// Available reports whether the resource with the given claims is fully
// free for the whole window.
func Available(claims []Period, window Period) bool {
	for _, claim := range claims {
		if claim.Overlaps(window) {
			return false
		}
	}
	return true
}
