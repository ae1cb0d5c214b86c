/*
Package healer reacts to resource failures by re-running the allocation
search for affected reservations.

Failures arrive two ways: a periodic scan picks up inventory hosts
marked down that still back allocations, and an external monitor can
report failures directly through HostsFailed. Either path hands the
failed unit ids to each registered plugin's HealReservations over a
bounded look-ahead window.

Outcomes are strictly per reservation. A reservation with replacement
capacity is moved (and, if already active, its live provisioning
binding moves with it). A reservation without replacement capacity is
flagged instead (missing_resources before start, resources_changed when
active) and its lease is marked degraded so the owner can react. One
unsatisfiable reservation never aborts healing of the others.
*/
package healer
