/*
Package interval implements the pure time-interval algebra underlying
allocation decisions.

Given the set of existing claims on a resource, ReservedPeriods computes
the coalesced reserved intervals within a query window using a sweep line
of +1/-1 boundary events, and FreePeriods computes the complementary
gaps. A gap between two reserved periods shorter than the requested
minimum duration is folded into them because no reservation could ever
fit it; the gaps at the window edges are left as they are.

The functions here have no side effects and never block; all persistence
and clock concerns belong to the callers.

	window := interval.Period{Start: s, End: e}
	free := interval.FreePeriods(claims, window, time.Hour)

Malformed windows (End before Start) are the caller's responsibility to
reject; the package does not validate them.
*/
package interval
