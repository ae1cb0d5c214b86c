/*
Package manager drives the lease lifecycle.

User-triggered operations (CreateLease, UpdateLease, DeleteLease) and
background event handlers (StartLease, EndLease, BeforeEndLease) are the
only code paths that mutate leases, reservations and events. The
scheduler dispatches due events to the handlers; the REST layer (out of
process) calls the user operations.

# Lifecycle

Creating a lease reserves resources through each reservation's plugin,
runs the enforcement chain, schedules the start/end (and optional
before-end) events, and leaves the lease pending. Any failure after the
lease row is written rolls the whole lease back with a cascade delete;
a half-created lease is never observable.

Updating a lease re-points the lifecycle events at the new dates and
pushes the window/value delta through each plugin. If the lease already
started, plugins apply the change to the live provisioning state
immediately instead of waiting for an event. A capacity or policy
failure restores the lease to the state it was in.

Deleting a lease informs enforcement if the lease ever ran, tears down
every live reservation through its plugin, then cascades the row away.
A failing plugin teardown leaves the lease in error for the operator to
retry; the row survives until cleanup actually succeeded.

# State machines

Lease statuses split into stable (pending, active, terminated, error)
and transitional (creating, starting, updating, terminating, deleting).
Handlers run inside runTransition, which records the transitional
status first, the declared stable status on success, and error on a hard
failure, so a lease never sticks mid-transition. The scheduler skips
leases in a transitional status, which is what keeps two events for the
same lease from running concurrently.

Reservations move pending -> active -> deleted, may drop to error from
pending or active, and error -> deleted is allowed for operator cleanup.
Legality is checked before every status write.

Background handlers act on behalf of the lease owner via the lease's
stored trust credential, never via ambient request state.
*/
package manager
