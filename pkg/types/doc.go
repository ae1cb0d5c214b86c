/*
Package types defines the core data structures used throughout Corral.

This package contains the persisted entities of the reservation domain
model: leases, reservations, allocations, lifecycle events, and the
inventoried hosts they bind to. These types are used by all other packages
for state management, allocation decisions, and lifecycle orchestration.

# Core Types

Lease lifecycle:
  - Lease: a user's hold on resources for a fixed [start, end) window
  - LeaseStatus: stable (pending/active/terminated/error) and
    transitional (creating/starting/updating/terminating/deleting) states
  - Event: a scheduled start_lease / end_lease / before_end_lease trigger

Claims and bindings:
  - Reservation: one resource-type-specific claim within a lease
  - Allocation: the binding of a reservation to one concrete resource unit
  - HostReservation: the host plugin's per-reservation detail record

Inventory:
  - Host: an externally-inventoried compute unit with static and extra
    capabilities used for property-filter matching

The central correctness invariant of the system lives on Allocation: for
any two allocations referencing the same resource unit, the owning
leases' time windows must never overlap.

All types serialize to JSON for storage and are mutated only through the
manager's operations, never directly by callers.
*/
package types
