package manager

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corralproject/corral/pkg/enforcement"
	"github.com/corralproject/corral/pkg/errdefs"
	"github.com/corralproject/corral/pkg/identity"
	"github.com/corralproject/corral/pkg/interval"
	"github.com/corralproject/corral/pkg/notify"
	"github.com/corralproject/corral/pkg/plugin"
	"github.com/corralproject/corral/pkg/storage"
	"github.com/corralproject/corral/pkg/types"
)

// stubPlugin is a minimal plugin with switchable failures
type stubPlugin struct {
	store storage.Store

	reserveErr error
	startErr   error
	endErr     error

	starts     int
	beforeEnds int
	ends       int
}

func (s *stubPlugin) ResourceType() string { return "stub:unit" }

func (s *stubPlugin) ReserveResource(ctx context.Context, reservationID string, lease *types.Lease, values plugin.Values) (string, error) {
	if s.reserveErr != nil {
		return "", s.reserveErr
	}
	// One allocation so enforcement views see concrete resources
	a := &types.Allocation{ID: uuid.New().String(), ReservationID: reservationID, ResourceID: "unit-1"}
	if err := s.store.CreateAllocation(a); err != nil {
		return "", err
	}
	return "detail-" + reservationID, nil
}

func (s *stubPlugin) UpdateReservation(ctx context.Context, reservationID string, req plugin.UpdateRequest) error {
	return nil
}

func (s *stubPlugin) OnStart(ctx context.Context, resourceID string) error {
	s.starts++
	return s.startErr
}

func (s *stubPlugin) BeforeEnd(ctx context.Context, resourceID string) error {
	s.beforeEnds++
	return nil
}

func (s *stubPlugin) OnEnd(ctx context.Context, resourceID string) error {
	s.ends++
	return s.endErr
}

func (s *stubPlugin) HealReservations(ctx context.Context, failedResourceIDs []string, window interval.Period) ([]plugin.HealResult, error) {
	return nil, nil
}

type fixture struct {
	store   *storage.BoltStore
	stub    *stubPlugin
	manager *Manager
}

func newFixture(t *testing.T, filters ...enforcement.Filter) *fixture {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	stub := &stubPlugin{store: store}
	registry := plugin.NewRegistry()
	require.NoError(t, registry.Register(stub))

	broker := notify.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	trusts := &identity.StaticProvider{Region: "dev", Trusts: map[string]identity.Context{
		"trust-1": {UserID: "user-1", ProjectID: "project-1"},
	}}

	mgr := New(store, registry, enforcement.NewChain(filters...), trusts, broker, Config{
		BeforeEndLead: time.Hour,
	})
	return &fixture{store: store, stub: stub, manager: mgr}
}

func futureWindow(d time.Duration) (time.Time, time.Time) {
	start := time.Now().UTC().Add(time.Hour).Truncate(time.Minute)
	return start, start.Add(d)
}

func ictx() identity.Context {
	return identity.Context{UserID: "user-1", ProjectID: "project-1"}
}

func createRequest(name string, d time.Duration) *CreateLeaseRequest {
	start, end := futureWindow(d)
	return &CreateLeaseRequest{
		Name:      name,
		StartDate: start,
		EndDate:   end,
		Reservations: []ReservationSpec{
			{ResourceType: "stub:unit", Values: plugin.Values{}},
		},
	}
}

// TestCreateLease tests the happy path: pending lease, reservation with
// the plugin's detail id, events scheduled at the lease dates
func TestCreateLease(t *testing.T) {
	f := newFixture(t)

	lease, err := f.manager.CreateLease(context.Background(), ictx(), createRequest("exp-1", 4*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, types.LeaseStatusPending, lease.Status)
	assert.Equal(t, "user-1", lease.UserID)
	// Default before-end lead is one hour before the end
	assert.True(t, lease.BeforeEndDate.Equal(lease.EndDate.Add(-time.Hour)))

	reservations, err := f.store.ListReservationsByLease(lease.ID)
	require.NoError(t, err)
	require.Len(t, reservations, 1)
	assert.Equal(t, "detail-"+reservations[0].ID, reservations[0].ResourceID)
	assert.Equal(t, types.ReservationStatusPending, reservations[0].Status)

	startEv, err := f.store.GetLeaseEvent(lease.ID, types.EventTypeStartLease)
	require.NoError(t, err)
	assert.True(t, startEv.Time.Equal(lease.StartDate))
	endEv, err := f.store.GetLeaseEvent(lease.ID, types.EventTypeEndLease)
	require.NoError(t, err)
	assert.True(t, endEv.Time.Equal(lease.EndDate))
	beforeEndEv, err := f.store.GetLeaseEvent(lease.ID, types.EventTypeBeforeEndLease)
	require.NoError(t, err)
	assert.True(t, beforeEndEv.Time.Equal(lease.BeforeEndDate))
}

// TestCreateLeaseValidation tests input rejection before persistence
func TestCreateLeaseValidation(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()

	tests := []struct {
		name    string
		mutate  func(*CreateLeaseRequest)
		wantErr func(error) bool
	}{
		{
			name:    "empty name",
			mutate:  func(r *CreateLeaseRequest) { r.Name = "" },
			wantErr: errdefs.IsMissingParameter,
		},
		{
			name:    "no reservations",
			mutate:  func(r *CreateLeaseRequest) { r.Reservations = nil },
			wantErr: errdefs.IsMissingParameter,
		},
		{
			name:    "start in the past",
			mutate:  func(r *CreateLeaseRequest) { r.StartDate = now.Add(-2 * time.Hour) },
			wantErr: errdefs.IsInvalidRange,
		},
		{
			name: "end before start",
			mutate: func(r *CreateLeaseRequest) {
				r.EndDate = r.StartDate.Add(-time.Hour)
			},
			wantErr: errdefs.IsInvalidRange,
		},
		{
			name: "before-end outside window",
			mutate: func(r *CreateLeaseRequest) {
				r.BeforeEndDate = r.EndDate.Add(time.Hour)
			},
			wantErr: errdefs.IsInvalidRange,
		},
		{
			name: "unknown resource type",
			mutate: func(r *CreateLeaseRequest) {
				r.Reservations[0].ResourceType = "quantum:lattice"
			},
			wantErr: errdefs.IsInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := createRequest("lease-"+tt.name, 2*time.Hour)
			tt.mutate(req)
			_, err := f.manager.CreateLease(context.Background(), ictx(), req)
			require.Error(t, err)
			assert.True(t, tt.wantErr(err))
		})
	}

	leases, err := f.store.ListLeases()
	require.NoError(t, err)
	assert.Empty(t, leases)
}

// TestCreateLeaseAtomicity tests that a reservation failure after the
// lease row is written rolls the whole lease back
func TestCreateLeaseAtomicity(t *testing.T) {
	f := newFixture(t)
	f.stub.reserveErr = errdefs.NotEnoughResources("no units")

	_, err := f.manager.CreateLease(context.Background(), ictx(), createRequest("doomed", 2*time.Hour))
	require.Error(t, err)
	assert.True(t, errdefs.IsNotEnoughResources(err))

	leases, err := f.store.ListLeases()
	require.NoError(t, err)
	assert.Empty(t, leases)
	reservations, err := f.store.ListReservations()
	require.NoError(t, err)
	assert.Empty(t, reservations)
}

// TestCreateLeaseEnforcementVeto tests that a policy veto rolls back too
func TestCreateLeaseEnforcementVeto(t *testing.T) {
	f := newFixture(t, &enforcement.MaxLeaseDuration{Max: time.Hour})

	_, err := f.manager.CreateLease(context.Background(), ictx(), createRequest("too-long", 5*time.Hour))
	require.Error(t, err)
	assert.True(t, errdefs.IsNotAuthorized(err))

	leases, err := f.store.ListLeases()
	require.NoError(t, err)
	assert.Empty(t, leases)
}

// TestStartAndEndLease tests the background handler lifecycle
func TestStartAndEndLease(t *testing.T) {
	f := newFixture(t)

	lease, err := f.manager.CreateLease(context.Background(), ictx(), createRequest("run", 2*time.Hour))
	require.NoError(t, err)

	require.NoError(t, f.manager.StartLease(context.Background(), lease.ID))
	got, err := f.store.GetLease(lease.ID)
	require.NoError(t, err)
	assert.Equal(t, types.LeaseStatusActive, got.Status)
	reservations, err := f.store.ListReservationsByLease(lease.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ReservationStatusActive, reservations[0].Status)
	assert.Equal(t, 1, f.stub.starts)

	// Starting an active lease is an invalid-status error (retryable)
	err = f.manager.StartLease(context.Background(), lease.ID)
	assert.True(t, errdefs.IsInvalidStatus(err))

	require.NoError(t, f.manager.BeforeEndLease(context.Background(), lease.ID))
	assert.Equal(t, 1, f.stub.beforeEnds)

	require.NoError(t, f.manager.EndLease(context.Background(), lease.ID))
	got, err = f.store.GetLease(lease.ID)
	require.NoError(t, err)
	assert.Equal(t, types.LeaseStatusTerminated, got.Status)
	reservations, err = f.store.ListReservationsByLease(lease.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ReservationStatusDeleted, reservations[0].Status)
	assert.Equal(t, 1, f.stub.ends)
}

// TestStartLeaseFailureMarksError tests that a failing start drives the
// lease and reservation to error, never leaving a transitional status
func TestStartLeaseFailureMarksError(t *testing.T) {
	f := newFixture(t)

	lease, err := f.manager.CreateLease(context.Background(), ictx(), createRequest("bad-start", 2*time.Hour))
	require.NoError(t, err)

	f.stub.startErr = errdefs.Unavailable("backend down")
	err = f.manager.StartLease(context.Background(), lease.ID)
	require.Error(t, err)

	got, err := f.store.GetLease(lease.ID)
	require.NoError(t, err)
	assert.Equal(t, types.LeaseStatusError, got.Status)
	reservations, err := f.store.ListReservationsByLease(lease.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ReservationStatusError, reservations[0].Status)
}

// TestReservationTransitionLegality tests the reservation state machine
func TestReservationTransitionLegality(t *testing.T) {
	tests := []struct {
		from    types.ReservationStatus
		to      types.ReservationStatus
		allowed bool
	}{
		{types.ReservationStatusPending, types.ReservationStatusActive, true},
		{types.ReservationStatusActive, types.ReservationStatusDeleted, true},
		{types.ReservationStatusPending, types.ReservationStatusDeleted, true},
		{types.ReservationStatusPending, types.ReservationStatusError, true},
		{types.ReservationStatusActive, types.ReservationStatusError, true},
		{types.ReservationStatusError, types.ReservationStatusDeleted, true},
		{types.ReservationStatusActive, types.ReservationStatusPending, false},
		{types.ReservationStatusDeleted, types.ReservationStatusActive, false},
		{types.ReservationStatusDeleted, types.ReservationStatusPending, false},
		{types.ReservationStatusError, types.ReservationStatusActive, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, validReservationTransition(tt.from, tt.to))
		})
	}
}

// TestSetReservationStatusRejectsIllegal tests the persisted guard
func TestSetReservationStatusRejectsIllegal(t *testing.T) {
	f := newFixture(t)

	res := &types.Reservation{
		ID: "res-1", LeaseID: "lease-1",
		ResourceType: "stub:unit", Status: types.ReservationStatusActive,
	}
	require.NoError(t, f.store.CreateReservation(res))

	err := f.manager.setReservationStatus(res, types.ReservationStatusPending)
	require.Error(t, err)
	assert.True(t, errdefs.IsInvalidStatus(err))

	got, err := f.store.GetReservation("res-1")
	require.NoError(t, err)
	assert.Equal(t, types.ReservationStatusActive, got.Status)
}

// TestUpdateLease tests date moves with event re-pointing
func TestUpdateLease(t *testing.T) {
	f := newFixture(t)

	lease, err := f.manager.CreateLease(context.Background(), ictx(), createRequest("move", 2*time.Hour))
	require.NoError(t, err)

	newEnd := lease.EndDate.Add(3 * time.Hour)
	updated, err := f.manager.UpdateLease(context.Background(), ictx(), lease.ID, &UpdateLeaseRequest{
		EndDate: &newEnd,
	})
	require.NoError(t, err)
	assert.True(t, updated.EndDate.Equal(newEnd))
	assert.Equal(t, types.LeaseStatusPending, updated.Status)

	endEv, err := f.store.GetLeaseEvent(lease.ID, types.EventTypeEndLease)
	require.NoError(t, err)
	assert.True(t, endEv.Time.Equal(newEnd))

	// The before-end event keeps its lead relative to the new end
	beforeEndEv, err := f.store.GetLeaseEvent(lease.ID, types.EventTypeBeforeEndLease)
	require.NoError(t, err)
	assert.True(t, beforeEndEv.Time.Equal(newEnd.Add(-time.Hour)))
}

// TestUpdateLeaseActiveRejectsStartMove tests that a started lease
// cannot move its start date
func TestUpdateLeaseActiveRejectsStartMove(t *testing.T) {
	f := newFixture(t)

	lease, err := f.manager.CreateLease(context.Background(), ictx(), createRequest("started", 2*time.Hour))
	require.NoError(t, err)
	require.NoError(t, f.manager.StartLease(context.Background(), lease.ID))

	newStart := lease.StartDate.Add(time.Hour)
	_, err = f.manager.UpdateLease(context.Background(), ictx(), lease.ID, &UpdateLeaseRequest{
		StartDate: &newStart,
	})
	require.Error(t, err)
	assert.True(t, errdefs.IsInvalidInput(err))
}

// TestUpdateLeaseVetoRestoresStatus tests that a policy veto leaves the
// lease as it was
func TestUpdateLeaseVetoRestoresStatus(t *testing.T) {
	f := newFixture(t, &enforcement.MaxLeaseDuration{Max: 3 * time.Hour})

	lease, err := f.manager.CreateLease(context.Background(), ictx(), createRequest("capped", 2*time.Hour))
	require.NoError(t, err)

	newEnd := lease.EndDate.Add(6 * time.Hour)
	_, err = f.manager.UpdateLease(context.Background(), ictx(), lease.ID, &UpdateLeaseRequest{
		EndDate: &newEnd,
	})
	require.Error(t, err)
	assert.True(t, errdefs.IsNotAuthorized(err))

	got, err := f.store.GetLease(lease.ID)
	require.NoError(t, err)
	assert.Equal(t, types.LeaseStatusPending, got.Status)
	assert.True(t, got.EndDate.Equal(lease.EndDate))
}

// TestDeleteLease tests teardown of a started lease
func TestDeleteLease(t *testing.T) {
	f := newFixture(t)

	lease, err := f.manager.CreateLease(context.Background(), ictx(), createRequest("gone", 2*time.Hour))
	require.NoError(t, err)
	require.NoError(t, f.manager.StartLease(context.Background(), lease.ID))

	require.NoError(t, f.manager.DeleteLease(context.Background(), ictx(), lease.ID))
	assert.Equal(t, 1, f.stub.ends)

	_, err = f.store.GetLease(lease.ID)
	assert.True(t, errdefs.IsNotFound(err))
	reservations, err := f.store.ListReservations()
	require.NoError(t, err)
	assert.Empty(t, reservations)
}

// TestDeleteLeaseBlockedByPluginFailure tests that a failing teardown
// keeps the lease for the operator to retry
func TestDeleteLeaseBlockedByPluginFailure(t *testing.T) {
	f := newFixture(t)

	lease, err := f.manager.CreateLease(context.Background(), ictx(), createRequest("stuck", 2*time.Hour))
	require.NoError(t, err)
	require.NoError(t, f.manager.StartLease(context.Background(), lease.ID))

	f.stub.endErr = errdefs.Unavailable("backend down")
	err = f.manager.DeleteLease(context.Background(), ictx(), lease.ID)
	require.Error(t, err)

	got, err := f.store.GetLease(lease.ID)
	require.NoError(t, err)
	assert.Equal(t, types.LeaseStatusError, got.Status)

	// Retry succeeds once the backend recovers; error is a stable status
	f.stub.endErr = nil
	require.NoError(t, f.manager.DeleteLease(context.Background(), ictx(), lease.ID))
	_, err = f.store.GetLease(lease.ID)
	assert.True(t, errdefs.IsNotFound(err))
}
