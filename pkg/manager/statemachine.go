package manager

import (
	"github.com/corralproject/corral/pkg/errdefs"
	"github.com/corralproject/corral/pkg/types"
)

// transition describes one guarded lease status change. The lease is
// moved to InProgress before the handler runs, then to OnSuccess or, on
// a hard failure, to OnFailure. A benign failure (validation, veto,
// capacity) restores the status the lease had before the transition and
// still surfaces the error, so the lease never sticks in a transient
// state.
type transition struct {
	From       []types.LeaseStatus
	InProgress types.LeaseStatus
	OnSuccess  types.LeaseStatus
	OnFailure  types.LeaseStatus
}

func (t transition) allows(from types.LeaseStatus) bool {
	for _, s := range t.From {
		if s == from {
			return true
		}
	}
	return false
}

// runTransition executes fn under the transition's status bookkeeping.
// A lease not in one of the From statuses yields ErrInvalidStatus, which
// the event scheduler treats as retryable.
func (m *Manager) runTransition(lease *types.Lease, t transition, benign func(error) bool, fn func() error) error {
	if !t.allows(lease.Status) {
		return errdefs.InvalidStatus("lease %s is %s", lease.ID, lease.Status)
	}
	prev := lease.Status

	lease.Status = t.InProgress
	if err := m.store.UpdateLease(lease); err != nil {
		lease.Status = prev
		return err
	}

	if err := fn(); err != nil {
		if benign != nil && benign(err) {
			lease.Status = prev
		} else {
			lease.Status = t.OnFailure
		}
		if uerr := m.store.UpdateLease(lease); uerr != nil {
			m.logger.Error().Err(uerr).Str("lease_id", lease.ID).Msg("failed to record lease status after error")
		}
		return err
	}

	lease.Status = t.OnSuccess
	return m.store.UpdateLease(lease)
}

// reservationTransitions is the legal reservation status graph:
// pending -> active -> deleted, error reachable from pending and active,
// and error -> deleted so an operator can clean up.
var reservationTransitions = map[types.ReservationStatus][]types.ReservationStatus{
	types.ReservationStatusPending: {
		types.ReservationStatusActive,
		types.ReservationStatusDeleted,
		types.ReservationStatusError,
	},
	types.ReservationStatusActive: {
		types.ReservationStatusDeleted,
		types.ReservationStatusError,
	},
	types.ReservationStatusError: {
		types.ReservationStatusDeleted,
	},
	types.ReservationStatusDeleted: nil,
}

// validReservationTransition reports whether from -> to is legal
func validReservationTransition(from, to types.ReservationStatus) bool {
	for _, s := range reservationTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// setReservationStatus checks transition legality and persists the new
// status. Illegal transitions (e.g. active -> pending) are rejected
// before any mutation.
func (m *Manager) setReservationStatus(res *types.Reservation, to types.ReservationStatus) error {
	if !validReservationTransition(res.Status, to) {
		return errdefs.InvalidStatus("reservation %s: %s -> %s", res.ID, res.Status, to)
	}
	res.Status = to
	return m.store.UpdateReservation(res)
}
