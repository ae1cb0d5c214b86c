/*
Package metrics exposes Prometheus instrumentation and health endpoints
for the reservation service.

Counters and histograms are package-level collectors registered at init,
updated inline by the scheduler, healer and enforcement chain:

	corral_events_executed_total{type,result}
	corral_poll_cycle_duration_seconds
	corral_healing_reallocations_total
	corral_healing_flagged_total
	corral_enforcement_vetoes_total{filter,action}

Gauges describing the current world (leases by status, reservations by
type, inventory hosts, live allocations) are refreshed every 15 seconds
by a Collector polling the store, so they survive process restarts
without replaying history.

The Timer helper wraps start/observe for histogram timings:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PollCycleDuration)

Health and readiness are plain JSON endpoints backed by a process-wide
component registry. Components report in with RegisterComponent and
UpdateComponent; readiness requires the store, scheduler and healer to
have checked in healthy.
*/
package metrics
