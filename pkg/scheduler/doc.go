/*
Package scheduler turns due lease events into manager calls.

A single poll loop (default every 10s) lists events whose time has
arrived and whose status is undone. Selection is single-threaded, so two
polls never overlap; execution is concurrent within a bucket.

Ordering within one poll is the correctness-relevant part. Events run in
bucket order before_end -> end -> start, so a lease ending at time T has
released its resources before a lease starting at T reaches for them.
The one exception is lease-local: a lease with a due start event gets
its own due before_end/end events deferred past the starts, into a
deferred before_end bucket followed by a deferred end bucket. That keeps
"the new period wins the slot" for immediate prolong-style updates while
still running the lease's before_end action ahead of its end, and it
never places two events of one lease in the same bucket. The deferral is
strictly per lease and is never applied across leases.

Each event resolves to one of three outcomes. Success marks the event
done and emits a lease.event.<type> notification. A lease whose status
does not yet permit the action leaves the event undone and retries next
poll, up to event_max_retries poll intervals of wall clock from the
event's due time. Everything else marks the event error and is logged;
a bad event never takes the poll loop down with it. Leases that are
mid-transition when the poll reaches them are skipped for the round,
which is the guard keeping two events for one lease from ever running
concurrently.
*/
package scheduler
