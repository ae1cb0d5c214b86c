package storage

import (
	"time"

	"github.com/corralproject/corral/pkg/types"
)

// Store defines the interface for reservation state storage.
// This is implemented by BoltDB-backed storage.
type Store interface {
	// Leases
	CreateLease(lease *types.Lease) error
	GetLease(id string) (*types.Lease, error)
	GetLeaseByName(name string) (*types.Lease, error)
	ListLeases() ([]*types.Lease, error)
	UpdateLease(lease *types.Lease) error
	DeleteLease(id string) error // Cascades reservations, allocations, events

	// Reservations
	CreateReservation(reservation *types.Reservation) error
	GetReservation(id string) (*types.Reservation, error)
	ListReservations() ([]*types.Reservation, error)
	ListReservationsByLease(leaseID string) ([]*types.Reservation, error)
	UpdateReservation(reservation *types.Reservation) error
	DeleteReservation(id string) error // Cascades allocations and detail rows

	// Events
	CreateEvent(event *types.Event) error
	GetEvent(id string) (*types.Event, error)
	GetLeaseEvent(leaseID string, eventType types.EventType) (*types.Event, error)
	ListEventsByLease(leaseID string) ([]*types.Event, error)
	ListDueEvents(now time.Time) ([]*types.Event, error)
	UpdateEvent(event *types.Event) error
	DeleteEvent(id string) error

	// Allocations
	CreateAllocation(allocation *types.Allocation) error
	GetAllocation(id string) (*types.Allocation, error)
	ListAllocations() ([]*types.Allocation, error)
	ListAllocationsByReservation(reservationID string) ([]*types.Allocation, error)
	ListAllocationsByResource(resourceID string) ([]*types.Allocation, error)
	UpdateAllocation(allocation *types.Allocation) error
	DeleteAllocation(id string) error

	// Hosts
	CreateHost(host *types.Host) error
	GetHost(id string) (*types.Host, error)
	ListHosts() ([]*types.Host, error)
	UpdateHost(host *types.Host) error
	DeleteHost(id string) error

	// Host reservation detail rows
	CreateHostReservation(detail *types.HostReservation) error
	GetHostReservation(id string) (*types.HostReservation, error)
	GetHostReservationByReservation(reservationID string) (*types.HostReservation, error)
	UpdateHostReservation(detail *types.HostReservation) error

	// Utility
	Close() error
}
