package manager

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/corralproject/corral/pkg/enforcement"
	"github.com/corralproject/corral/pkg/errdefs"
	"github.com/corralproject/corral/pkg/identity"
	"github.com/corralproject/corral/pkg/interval"
	"github.com/corralproject/corral/pkg/log"
	"github.com/corralproject/corral/pkg/notify"
	"github.com/corralproject/corral/pkg/plugin"
	"github.com/corralproject/corral/pkg/storage"
	"github.com/corralproject/corral/pkg/types"
)

// Config holds manager configuration
type Config struct {
	// BeforeEndLead is the default lead time for the before_end_lease
	// event when a lease does not set one explicitly. Zero disables the
	// default event.
	BeforeEndLead time.Duration
}

// Manager owns the lease lifecycle: create/update/delete plus the
// background event handlers the scheduler dispatches. All lease,
// reservation and event mutation goes through it.
type Manager struct {
	store    storage.Store
	registry *plugin.Registry
	chain    *enforcement.Chain
	trusts   identity.TrustProvider
	broker   *notify.Broker
	cfg      Config
	logger   zerolog.Logger
}

// New creates a Manager
func New(store storage.Store, registry *plugin.Registry, chain *enforcement.Chain, trusts identity.TrustProvider, broker *notify.Broker, cfg Config) *Manager {
	return &Manager{
		store:    store,
		registry: registry,
		chain:    chain,
		trusts:   trusts,
		broker:   broker,
		cfg:      cfg,
		logger:   log.WithComponent("manager"),
	}
}

// ReservationSpec describes one requested reservation in a lease create
type ReservationSpec struct {
	ResourceType string
	Values       plugin.Values
}

// CreateLeaseRequest is the input to CreateLease
type CreateLeaseRequest struct {
	Name          string
	StartDate     time.Time
	EndDate       time.Time
	BeforeEndDate time.Time // Optional; zero means use the configured lead
	TrustID       string
	Reservations  []ReservationSpec
}

// normalizeDate brings a date to UTC minute granularity
func normalizeDate(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}

// CreateLease validates the request, reserves resources through each
// plugin, runs enforcement, schedules the lifecycle events and leaves
// the lease pending. Reservations and their allocations are persisted
// before the enforcement check so the filters see the concrete resource
// set, not the requested counts; atomicity comes from rolling the whole
// lease back on any failure after the lease row is written, not from a
// store transaction. Partial creations are never left visible.
func (m *Manager) CreateLease(ctx context.Context, ictx identity.Context, req *CreateLeaseRequest) (*types.Lease, error) {
	if req.Name == "" {
		return nil, errdefs.MissingParameter("lease name is required")
	}
	if len(req.Reservations) == 0 {
		return nil, errdefs.MissingParameter("lease needs at least one reservation")
	}

	now := normalizeDate(time.Now())
	start := normalizeDate(req.StartDate)
	end := normalizeDate(req.EndDate)
	if start.Before(now) {
		return nil, errdefs.InvalidRange("start date %s is in the past", start)
	}
	if !end.After(start) {
		return nil, errdefs.InvalidRange("end date %s is not after start date %s", end, start)
	}

	beforeEnd, err := m.resolveBeforeEnd(req.BeforeEndDate, start, end)
	if err != nil {
		return nil, err
	}

	lease := &types.Lease{
		ID:            uuid.New().String(),
		Name:          req.Name,
		UserID:        ictx.UserID,
		ProjectID:     ictx.ProjectID,
		StartDate:     start,
		EndDate:       end,
		BeforeEndDate: beforeEnd,
		TrustID:       req.TrustID,
		Status:        types.LeaseStatusCreating,
	}
	if err := m.store.CreateLease(lease); err != nil {
		return nil, err
	}

	if err := m.buildLease(ctx, ictx, lease, req.Reservations); err != nil {
		m.rollbackLease(lease.ID)
		return nil, err
	}

	lease.Status = types.LeaseStatusPending
	if err := m.store.UpdateLease(lease); err != nil {
		m.rollbackLease(lease.ID)
		return nil, err
	}

	m.logger.Info().Str("lease_id", lease.ID).Str("name", lease.Name).
		Time("start", lease.StartDate).Time("end", lease.EndDate).Msg("lease created")
	m.broker.Publish(notify.FromLease(notify.LeaseCreated, lease))
	return lease, nil
}

// buildLease creates reservations, runs enforcement and schedules the
// lifecycle events for a freshly written lease row.
func (m *Manager) buildLease(ctx context.Context, ictx identity.Context, lease *types.Lease, specs []ReservationSpec) error {
	for _, spec := range specs {
		p, err := m.registry.Get(spec.ResourceType)
		if err != nil {
			return err
		}

		res := &types.Reservation{
			ID:           uuid.New().String(),
			LeaseID:      lease.ID,
			ResourceType: spec.ResourceType,
			Status:       types.ReservationStatusPending,
		}
		if err := m.store.CreateReservation(res); err != nil {
			return err
		}

		resourceID, err := p.ReserveResource(ctx, res.ID, lease, spec.Values)
		if err != nil {
			return err
		}
		res.ResourceID = resourceID
		if err := m.store.UpdateReservation(res); err != nil {
			return err
		}
	}

	view, err := m.leaseView(lease)
	if err != nil {
		return err
	}
	if err := m.chain.CheckCreate(ctx, ictx, view); err != nil {
		return err
	}

	events := []*types.Event{
		{Type: types.EventTypeStartLease, Time: lease.StartDate},
		{Type: types.EventTypeEndLease, Time: lease.EndDate},
	}
	if !lease.BeforeEndDate.IsZero() {
		events = append(events, &types.Event{Type: types.EventTypeBeforeEndLease, Time: lease.BeforeEndDate})
	}
	for _, ev := range events {
		ev.ID = uuid.New().String()
		ev.LeaseID = lease.ID
		ev.Status = types.EventStatusUndone
		if err := m.store.CreateEvent(ev); err != nil {
			return err
		}
	}
	return nil
}

// rollbackLease removes a partially created lease with its cascade
func (m *Manager) rollbackLease(leaseID string) {
	if err := m.store.DeleteLease(leaseID); err != nil && !errdefs.IsNotFound(err) {
		m.logger.Error().Err(err).Str("lease_id", leaseID).Msg("lease rollback failed")
	}
}

// resolveBeforeEnd applies the configured default lead time and bounds
// the before-end date within the lease window.
func (m *Manager) resolveBeforeEnd(explicit, start, end time.Time) (time.Time, error) {
	if explicit.IsZero() {
		if m.cfg.BeforeEndLead <= 0 {
			return time.Time{}, nil
		}
		beforeEnd := end.Add(-m.cfg.BeforeEndLead)
		if beforeEnd.Before(start) {
			beforeEnd = start
		}
		return beforeEnd, nil
	}
	beforeEnd := normalizeDate(explicit)
	if beforeEnd.Before(start) || beforeEnd.After(end) {
		return time.Time{}, errdefs.InvalidRange("before-end date %s is outside the lease window", beforeEnd)
	}
	return beforeEnd, nil
}

// ReservationUpdate names one reservation and the plugin values to change
type ReservationUpdate struct {
	ID     string
	Values plugin.Values
}

// UpdateLeaseRequest is the input to UpdateLease. Nil date pointers keep
// the current value.
type UpdateLeaseRequest struct {
	Name          string // Empty keeps the current name
	StartDate     *time.Time
	EndDate       *time.Time
	BeforeEndDate *time.Time
	Reservations  []ReservationUpdate
}

// UpdateLease moves the lease window and/or changes reservation
// parameters. Event times are re-pointed to the new dates, and if the
// lease already started each changed reservation is applied live through
// its plugin instead of waiting for an event. A capacity or policy
// failure leaves the lease as it was.
func (m *Manager) UpdateLease(ctx context.Context, ictx identity.Context, leaseID string, req *UpdateLeaseRequest) (*types.Lease, error) {
	lease, err := m.store.GetLease(leaseID)
	if err != nil {
		return nil, err
	}
	if lease.Status != types.LeaseStatusPending && lease.Status != types.LeaseStatusActive {
		return nil, errdefs.InvalidStatus("lease %s is %s and cannot be updated", lease.ID, lease.Status)
	}

	oldView, err := m.leaseView(lease)
	if err != nil {
		return nil, err
	}
	oldWindow := interval.Period{Start: lease.StartDate, End: lease.EndDate}

	newStart, newEnd, newBeforeEnd, err := m.resolveUpdateDates(lease, req)
	if err != nil {
		return nil, err
	}

	updated := *lease
	if req.Name != "" {
		updated.Name = req.Name
	}
	updated.StartDate = newStart
	updated.EndDate = newEnd
	updated.BeforeEndDate = newBeforeEnd

	benign := func(err error) bool {
		return errdefs.IsValidation(err) || errdefs.IsNotAuthorized(err) ||
			errdefs.IsNotEnoughResources(err) || errdefs.IsNotFound(err)
	}
	t := transition{
		From:       []types.LeaseStatus{types.LeaseStatusPending, types.LeaseStatusActive},
		InProgress: types.LeaseStatusUpdating,
		OnSuccess:  lease.Status,
		OnFailure:  types.LeaseStatusError,
	}
	err = m.runTransition(lease, t, benign, func() error {
		newView, err := m.leaseView(&updated)
		if err != nil {
			return err
		}
		if err := m.chain.CheckUpdate(ctx, ictx, oldView, newView); err != nil {
			return err
		}

		if err := m.updateReservations(ctx, &updated, oldWindow, req.Reservations); err != nil {
			return err
		}
		if err := m.syncEventTimes(&updated); err != nil {
			return err
		}

		lease.Name = updated.Name
		lease.StartDate = updated.StartDate
		lease.EndDate = updated.EndDate
		lease.BeforeEndDate = updated.BeforeEndDate
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info().Str("lease_id", lease.ID).Msg("lease updated")
	m.broker.Publish(notify.FromLease(notify.LeaseUpdated, lease))
	return lease, nil
}

// resolveUpdateDates validates the requested window move against the
// lease's current state.
func (m *Manager) resolveUpdateDates(lease *types.Lease, req *UpdateLeaseRequest) (start, end, beforeEnd time.Time, err error) {
	start = lease.StartDate
	end = lease.EndDate

	if req.StartDate != nil {
		if lease.Status == types.LeaseStatusActive {
			return start, end, beforeEnd, errdefs.InvalidInput("cannot move the start date of a started lease")
		}
		start = normalizeDate(*req.StartDate)
		if start.Before(normalizeDate(time.Now())) {
			return start, end, beforeEnd, errdefs.InvalidRange("start date %s is in the past", start)
		}
	}
	if req.EndDate != nil {
		end = normalizeDate(*req.EndDate)
		if lease.Status == types.LeaseStatusActive && end.Before(normalizeDate(time.Now())) {
			return start, end, beforeEnd, errdefs.InvalidRange("end date %s is in the past", end)
		}
	}
	if !end.After(start) {
		return start, end, beforeEnd, errdefs.InvalidRange("end date %s is not after start date %s", end, start)
	}

	explicit := lease.BeforeEndDate
	if req.BeforeEndDate != nil {
		explicit = *req.BeforeEndDate
	} else if !lease.BeforeEndDate.IsZero() && req.EndDate != nil {
		// Keep the original lead when only the end moves
		lead := lease.EndDate.Sub(lease.BeforeEndDate)
		explicit = end.Add(-lead)
	}
	beforeEnd, err = m.resolveBeforeEnd(explicit, start, end)
	return start, end, beforeEnd, err
}

// updateReservations pushes the window/value delta to every reservation
// of the lease. Reservations not named in updates still get the window
// change with empty values.
func (m *Manager) updateReservations(ctx context.Context, lease *types.Lease, oldWindow interval.Period, updates []ReservationUpdate) error {
	values := make(map[string]plugin.Values, len(updates))
	for _, u := range updates {
		values[u.ID] = u.Values
	}

	reservations, err := m.store.ListReservationsByLease(lease.ID)
	if err != nil {
		return err
	}
	for _, u := range updates {
		found := false
		for _, res := range reservations {
			if res.ID == u.ID {
				found = true
				break
			}
		}
		if !found {
			return errdefs.NotFound("reservation %s is not part of lease %s", u.ID, lease.ID)
		}
	}

	newWindow := interval.Period{Start: lease.StartDate, End: lease.EndDate}
	for _, res := range reservations {
		if res.Status == types.ReservationStatusDeleted {
			continue
		}
		p, err := m.registry.Get(res.ResourceType)
		if err != nil {
			return err
		}
		req := plugin.UpdateRequest{
			Values:    values[res.ID],
			OldWindow: oldWindow,
			NewWindow: newWindow,
		}
		if err := p.UpdateReservation(ctx, res.ID, req); err != nil {
			return err
		}
	}
	return nil
}

// syncEventTimes re-points the lifecycle events at the lease's dates.
// A before-end event is created or removed as the date appears or goes.
func (m *Manager) syncEventTimes(lease *types.Lease) error {
	if err := m.repointEvent(lease.ID, types.EventTypeStartLease, lease.StartDate); err != nil {
		return err
	}
	if err := m.repointEvent(lease.ID, types.EventTypeEndLease, lease.EndDate); err != nil {
		return err
	}

	ev, err := m.store.GetLeaseEvent(lease.ID, types.EventTypeBeforeEndLease)
	switch {
	case errdefs.IsNotFound(err):
		if lease.BeforeEndDate.IsZero() {
			return nil
		}
		return m.store.CreateEvent(&types.Event{
			ID:      uuid.New().String(),
			LeaseID: lease.ID,
			Type:    types.EventTypeBeforeEndLease,
			Time:    lease.BeforeEndDate,
			Status:  types.EventStatusUndone,
		})
	case err != nil:
		return err
	case lease.BeforeEndDate.IsZero():
		return m.store.DeleteEvent(ev.ID)
	default:
		ev.Time = lease.BeforeEndDate
		return m.store.UpdateEvent(ev)
	}
}

func (m *Manager) repointEvent(leaseID string, eventType types.EventType, at time.Time) error {
	ev, err := m.store.GetLeaseEvent(leaseID, eventType)
	if err != nil {
		return err
	}
	if ev.Time.Equal(at) {
		return nil
	}
	ev.Time = at
	return m.store.UpdateEvent(ev)
}

// DeleteLease tears a lease down regardless of its point in the
// lifecycle: enforcement is told the lease is leaving if it ever ran,
// every live reservation's plugin cleans up, then the row cascades away.
// A failing plugin teardown aborts the destroy so the operator can
// retry.
func (m *Manager) DeleteLease(ctx context.Context, ictx identity.Context, leaseID string) error {
	lease, err := m.store.GetLease(leaseID)
	if err != nil {
		return err
	}
	if !lease.Status.Stable() {
		return errdefs.InvalidStatus("lease %s is %s", lease.ID, lease.Status)
	}

	started := lease.Status == types.LeaseStatusActive || lease.Status == types.LeaseStatusTerminated
	ended := lease.Status == types.LeaseStatusTerminated

	prev := lease.Status
	lease.Status = types.LeaseStatusDeleting
	if err := m.store.UpdateLease(lease); err != nil {
		lease.Status = prev
		return err
	}

	if started && !ended {
		view, verr := m.leaseView(lease)
		if verr == nil {
			m.chain.OnEnd(ctx, ictx, view)
		}
	}

	if err := m.teardownReservations(ctx, lease); err != nil {
		lease.Status = types.LeaseStatusError
		if uerr := m.store.UpdateLease(lease); uerr != nil {
			m.logger.Error().Err(uerr).Str("lease_id", lease.ID).Msg("failed to record lease status after teardown error")
		}
		return err
	}

	if err := m.store.DeleteLease(lease.ID); err != nil {
		return err
	}

	m.logger.Info().Str("lease_id", lease.ID).Str("name", lease.Name).Msg("lease deleted")
	m.broker.Publish(notify.FromLease(notify.LeaseDeleted, lease))
	return nil
}

// teardownReservations runs plugin on_end for every reservation still
// holding resources.
func (m *Manager) teardownReservations(ctx context.Context, lease *types.Lease) error {
	reservations, err := m.store.ListReservationsByLease(lease.ID)
	if err != nil {
		return err
	}
	for _, res := range reservations {
		if res.Status == types.ReservationStatusDeleted {
			continue
		}
		p, err := m.registry.Get(res.ResourceType)
		if err != nil {
			return err
		}
		if err := p.OnEnd(ctx, res.ResourceID); err != nil {
			return err
		}
		if err := m.setReservationStatus(res, types.ReservationStatusDeleted); err != nil {
			return err
		}
	}
	return nil
}

// GetLease returns one lease
func (m *Manager) GetLease(id string) (*types.Lease, error) {
	return m.store.GetLease(id)
}

// ListLeases returns all leases
func (m *Manager) ListLeases() ([]*types.Lease, error) {
	return m.store.ListLeases()
}

// StartLease is the start_lease event handler: each reservation's plugin
// performs its start action and the reservation goes active, then the
// lease does.
func (m *Manager) StartLease(ctx context.Context, leaseID string) error {
	lease, err := m.store.GetLease(leaseID)
	if err != nil {
		return err
	}
	t := transition{
		From:       []types.LeaseStatus{types.LeaseStatusPending},
		InProgress: types.LeaseStatusStarting,
		OnSuccess:  types.LeaseStatusActive,
		OnFailure:  types.LeaseStatusError,
	}
	return m.runTransition(lease, t, nil, func() error {
		reservations, err := m.store.ListReservationsByLease(lease.ID)
		if err != nil {
			return err
		}
		for _, res := range reservations {
			p, err := m.registry.Get(res.ResourceType)
			if err != nil {
				return err
			}
			if err := p.OnStart(ctx, res.ResourceID); err != nil {
				if serr := m.setReservationStatus(res, types.ReservationStatusError); serr != nil {
					m.logger.Error().Err(serr).Str("reservation_id", res.ID).Msg("failed to record reservation error")
				}
				return err
			}
			if err := m.setReservationStatus(res, types.ReservationStatusActive); err != nil {
				return err
			}
		}
		return nil
	})
}

// EndLease is the end_lease event handler: every live reservation is
// torn down through its plugin and the lease terminates. Reservation
// failures are recorded individually; the first error surfaces after all
// reservations were attempted. Enforcement learns the lease ended.
func (m *Manager) EndLease(ctx context.Context, leaseID string) error {
	lease, err := m.store.GetLease(leaseID)
	if err != nil {
		return err
	}
	t := transition{
		From:       []types.LeaseStatus{types.LeaseStatusPending, types.LeaseStatusActive, types.LeaseStatusError},
		InProgress: types.LeaseStatusTerminating,
		OnSuccess:  types.LeaseStatusTerminated,
		OnFailure:  types.LeaseStatusError,
	}
	return m.runTransition(lease, t, nil, func() error {
		view, verr := m.leaseView(lease)

		reservations, err := m.store.ListReservationsByLease(lease.ID)
		if err != nil {
			return err
		}
		var firstErr error
		for _, res := range reservations {
			if res.Status == types.ReservationStatusDeleted {
				continue
			}
			p, err := m.registry.Get(res.ResourceType)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if err := p.OnEnd(ctx, res.ResourceID); err != nil {
				if serr := m.setReservationStatus(res, types.ReservationStatusError); serr != nil {
					m.logger.Error().Err(serr).Str("reservation_id", res.ID).Msg("failed to record reservation error")
				}
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if err := m.setReservationStatus(res, types.ReservationStatusDeleted); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if firstErr != nil {
			return firstErr
		}

		if verr == nil {
			ictx, terr := m.backgroundIdentity(lease)
			if terr != nil {
				m.logger.Warn().Err(terr).Str("lease_id", lease.ID).Msg("no delegated identity for enforcement on_end")
			} else {
				m.chain.OnEnd(ctx, ictx, view)
			}
		}
		return nil
	})
}

// BeforeEndLease is the before_end_lease event handler. The lease passes
// through a transitional status so no other event for it runs
// concurrently.
func (m *Manager) BeforeEndLease(ctx context.Context, leaseID string) error {
	lease, err := m.store.GetLease(leaseID)
	if err != nil {
		return err
	}
	t := transition{
		From:       []types.LeaseStatus{types.LeaseStatusActive},
		InProgress: types.LeaseStatusUpdating,
		OnSuccess:  types.LeaseStatusActive,
		OnFailure:  types.LeaseStatusError,
	}
	return m.runTransition(lease, t, nil, func() error {
		reservations, err := m.store.ListReservationsByLease(lease.ID)
		if err != nil {
			return err
		}
		for _, res := range reservations {
			if res.Status != types.ReservationStatusActive {
				continue
			}
			p, err := m.registry.Get(res.ResourceType)
			if err != nil {
				return err
			}
			if err := p.BeforeEnd(ctx, res.ResourceID); err != nil {
				return err
			}
		}
		return nil
	})
}

// backgroundIdentity builds the identity a background action runs as
// from the lease's stored trust credential.
func (m *Manager) backgroundIdentity(lease *types.Lease) (identity.Context, error) {
	if lease.TrustID == "" {
		return identity.Context{UserID: lease.UserID, ProjectID: lease.ProjectID}, nil
	}
	return m.trusts.ContextForTrust(lease.TrustID)
}

// leaseView formats a lease with its reservations and concrete
// allocations for the enforcement chain.
func (m *Manager) leaseView(lease *types.Lease) (*enforcement.LeaseView, error) {
	reservations, err := m.store.ListReservationsByLease(lease.ID)
	if err != nil {
		return nil, err
	}
	view := &enforcement.LeaseView{Lease: lease}
	for _, res := range reservations {
		allocations, err := m.store.ListAllocationsByReservation(res.ID)
		if err != nil {
			return nil, err
		}
		view.Reservations = append(view.Reservations, &enforcement.ReservationView{
			Reservation: res,
			Allocations: allocations,
		})
	}
	return view, nil
}

// CreateHost adds a host to the inventory
func (m *Manager) CreateHost(host *types.Host) error {
	if host.Hostname == "" {
		return errdefs.MissingParameter("host hostname is required")
	}
	if host.ID == "" {
		host.ID = uuid.New().String()
	}
	if host.Status == "" {
		host.Status = types.HostStatusUp
	}
	return m.store.CreateHost(host)
}

// GetHost returns one inventory host
func (m *Manager) GetHost(id string) (*types.Host, error) {
	return m.store.GetHost(id)
}

// ListHosts returns the host inventory
func (m *Manager) ListHosts() ([]*types.Host, error) {
	return m.store.ListHosts()
}

// UpdateHost updates a host's capabilities or reservable flag
func (m *Manager) UpdateHost(host *types.Host) error {
	return m.store.UpdateHost(host)
}

// DeleteHost removes a host from the inventory. Hosts still backing
// allocations cannot leave.
func (m *Manager) DeleteHost(id string) error {
	allocations, err := m.store.ListAllocationsByResource(id)
	if err != nil {
		return err
	}
	if len(allocations) > 0 {
		return errdefs.Conflict("host %s has %d allocations", id, len(allocations))
	}
	return m.store.DeleteHost(id)
}
