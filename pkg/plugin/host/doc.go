/*
Package host implements the physical-host resource plugin.

A host reservation asks for between min and max whole hosts matching a
list of capability property filters. The plugin finds qualifying hosts
whose existing claims, padded by the cleaning-time buffer, leave the
lease window fully free; persists one allocation per selected host; and
drives the provisioning backend when the lease starts (pool creation and
membership), shortly before it ends (optional instance snapshots), and
when it ends (instance cleanup and pool teardown).

Updates recompute only the delta: shrinking removes just enough
allocations, moving or widening re-runs the candidate search over the new
window, and active reservations get their live pool membership swapped
synchronously. When the new shape cannot be satisfied the update commits
nothing.

Healing rebinds allocations away from failed hosts one reservation at a
time; a reservation with no replacement capacity is flagged
(missing_resources before start, resources_changed when active) without
blocking the rest of the pass.
*/
package host
