/*
Package storage persists Corral's reservation state in BoltDB.

The Store interface exposes CRUD and filtered-query operations for the six
entity kinds (leases, reservations, events, allocations, hosts, and the
host plugin's detail rows). BoltStore implements it with one bucket per
entity and JSON-encoded values:

	leases            lease id        -> types.Lease
	reservations      reservation id  -> types.Reservation
	events            event id        -> types.Event
	allocations       allocation id   -> types.Allocation
	hosts             host id         -> types.Host
	host_reservations detail id       -> types.HostReservation

Each logical write runs inside one bolt Update transaction; cascading
deletes (lease -> reservations -> allocations/detail rows, plus events)
execute within a single transaction so a crash can never leave a lease
partially removed.

Errors carry errdefs kinds: missing rows are NotFound, duplicate ids and
duplicate lease names are Conflict. Messages name entities by their public
identifiers only and never leak storage internals.

The store is the single source of truth; all mutation flows through the
manager, which owns ordering and state-machine legality on top of bolt's
single-writer isolation.
*/
package storage
