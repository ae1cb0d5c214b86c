package types

import (
	"strconv"
	"time"
)

// Lease represents a user's hold on one or more resources for a fixed
// time window. All dates are UTC with minute granularity.
type Lease struct {
	ID            string
	Name          string
	UserID        string
	ProjectID     string
	StartDate     time.Time
	EndDate       time.Time
	BeforeEndDate time.Time // Within [StartDate, EndDate]; zero means none
	TrustID       string    // Delegated credential for background actions
	Status        LeaseStatus
	Degraded      bool // Set by the healer when a reservation lost capacity
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// LeaseStatus represents the lifecycle state of a lease
type LeaseStatus string

const (
	// Stable statuses
	LeaseStatusPending    LeaseStatus = "pending"
	LeaseStatusActive     LeaseStatus = "active"
	LeaseStatusTerminated LeaseStatus = "terminated"
	LeaseStatusError      LeaseStatus = "error"

	// Transitional statuses (an operation is in flight)
	LeaseStatusCreating    LeaseStatus = "creating"
	LeaseStatusStarting    LeaseStatus = "starting"
	LeaseStatusUpdating    LeaseStatus = "updating"
	LeaseStatusTerminating LeaseStatus = "terminating"
	LeaseStatusDeleting    LeaseStatus = "deleting"
)

// Stable reports whether the status is a resting state. The event
// scheduler skips leases in transitional statuses so that two handlers
// never race on the same lease.
func (s LeaseStatus) Stable() bool {
	switch s {
	case LeaseStatusPending, LeaseStatusActive, LeaseStatusTerminated, LeaseStatusError:
		return true
	}
	return false
}

// Reservation is one resource-type-specific claim within a lease
type Reservation struct {
	ID           string
	LeaseID      string
	ResourceType string // Selects the resource plugin
	ResourceID   string // Handle into the plugin's own detail record
	Status       ReservationStatus

	// MissingResources is set when healing could not find replacement
	// capacity for a reservation that has not started yet.
	MissingResources bool

	// ResourcesChanged is set when healing swapped resources under an
	// already-active reservation.
	ResourcesChanged bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ReservationStatus represents the state of a reservation
type ReservationStatus string

const (
	ReservationStatusPending ReservationStatus = "pending"
	ReservationStatusActive  ReservationStatus = "active"
	ReservationStatusDeleted ReservationStatus = "deleted"
	ReservationStatusError   ReservationStatus = "error"
)

// Allocation binds a reservation to one concrete resource unit for the
// reservation's active lifetime. For any two allocations referencing the
// same resource, the owning leases' [start, end) windows must not overlap.
type Allocation struct {
	ID            string
	ReservationID string
	ResourceID    string // Concrete unit (e.g. host ID)
	CreatedAt     time.Time
}

// EventType represents a scheduled lifecycle trigger for a lease
type EventType string

const (
	EventTypeStartLease     EventType = "start_lease"
	EventTypeEndLease       EventType = "end_lease"
	EventTypeBeforeEndLease EventType = "before_end_lease"
)

// EventStatus represents the execution state of an event
type EventStatus string

const (
	EventStatusUndone     EventStatus = "undone"
	EventStatusInProgress EventStatus = "in_progress"
	EventStatusDone       EventStatus = "done"
	EventStatusError      EventStatus = "error"
)

// Event is a scheduled lifecycle trigger (start/end/before-end) for a
// lease. Exactly one start_lease and one end_lease event exist per lease;
// before_end_lease is optional. Events are created and destroyed only as
// part of lease create/update/destroy.
type Event struct {
	ID        string
	LeaseID   string
	Type      EventType
	Time      time.Time
	Status    EventStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HostStatus represents the reachability of an inventoried host
type HostStatus string

const (
	HostStatusUp   HostStatus = "up"
	HostStatusDown HostStatus = "down"
)

// Host is an externally-inventoried compute unit with static and extra
// capabilities used for property-filter matching. Its lifecycle is
// independent of leases.
type Host struct {
	ID         string
	Hostname   string
	VCPUs      int
	MemoryMB   int64
	DiskGB     int64
	Reservable bool
	Status     HostStatus
	Extra      map[string]string // Operator-defined capabilities
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Capabilities flattens the host's static and extra capabilities into the
// key/value form the filter DSL evaluates against. Extra keys never
// shadow the static ones.
func (h *Host) Capabilities() map[string]string {
	caps := map[string]string{
		"id":        h.ID,
		"hostname":  h.Hostname,
		"vcpus":     strconv.Itoa(h.VCPUs),
		"memory_mb": strconv.FormatInt(h.MemoryMB, 10),
		"disk_gb":   strconv.FormatInt(h.DiskGB, 10),
	}
	for k, v := range h.Extra {
		if _, ok := caps[k]; !ok {
			caps[k] = v
		}
	}
	return caps
}

// HostReservation is the host plugin's detail record for one reservation:
// how many hosts, matching which property filters, and what to do right
// before the lease ends.
type HostReservation struct {
	ID             string
	ReservationID  string
	MinHosts       int
	MaxHosts       int
	HostProperties []string // Filter DSL expressions, all must match
	BeforeEnd      BeforeEndAction
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// BeforeEndAction selects the behavior of the before_end_lease event for
// a host reservation.
type BeforeEndAction string

const (
	BeforeEndDefault  BeforeEndAction = "default"
	BeforeEndSnapshot BeforeEndAction = "snapshot"
)
