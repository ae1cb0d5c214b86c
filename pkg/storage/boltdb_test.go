package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corralproject/corral/pkg/errdefs"
	"github.com/corralproject/corral/pkg/types"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testLease(id, name string) *types.Lease {
	start := time.Date(2030, 6, 1, 9, 0, 0, 0, time.UTC)
	return &types.Lease{
		ID:        id,
		Name:      name,
		UserID:    "user-1",
		ProjectID: "project-1",
		StartDate: start,
		EndDate:   start.Add(2 * time.Hour),
		Status:    types.LeaseStatusPending,
	}
}

// TestLeaseCRUD tests basic lease persistence
func TestLeaseCRUD(t *testing.T) {
	store := newTestStore(t)

	lease := testLease("lease-1", "experiment")
	require.NoError(t, store.CreateLease(lease))

	got, err := store.GetLease("lease-1")
	require.NoError(t, err)
	assert.Equal(t, "experiment", got.Name)
	assert.True(t, got.StartDate.Equal(lease.StartDate))

	byName, err := store.GetLeaseByName("experiment")
	require.NoError(t, err)
	assert.Equal(t, "lease-1", byName.ID)

	got.Status = types.LeaseStatusActive
	require.NoError(t, store.UpdateLease(got))
	got, err = store.GetLease("lease-1")
	require.NoError(t, err)
	assert.Equal(t, types.LeaseStatusActive, got.Status)

	_, err = store.GetLease("missing")
	assert.True(t, errdefs.IsNotFound(err))
}

// TestCreateLeaseDuplicateName tests that duplicate names are conflicts
func TestCreateLeaseDuplicateName(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.CreateLease(testLease("lease-1", "experiment")))

	err := store.CreateLease(testLease("lease-2", "experiment"))
	assert.True(t, errdefs.IsConflict(err))

	err = store.CreateLease(testLease("lease-1", "other"))
	assert.True(t, errdefs.IsConflict(err))
}

// TestDeleteLeaseCascades tests that deleting a lease removes its
// reservations, allocations, detail rows and events
func TestDeleteLeaseCascades(t *testing.T) {
	store := newTestStore(t)

	lease := testLease("lease-1", "experiment")
	require.NoError(t, store.CreateLease(lease))
	require.NoError(t, store.CreateReservation(&types.Reservation{
		ID: "res-1", LeaseID: "lease-1", ResourceType: "physical:host",
		Status: types.ReservationStatusPending,
	}))
	require.NoError(t, store.CreateHostReservation(&types.HostReservation{
		ID: "detail-1", ReservationID: "res-1", MinHosts: 1, MaxHosts: 1,
	}))
	require.NoError(t, store.CreateAllocation(&types.Allocation{
		ID: "alloc-1", ReservationID: "res-1", ResourceID: "host-1",
	}))
	require.NoError(t, store.CreateEvent(&types.Event{
		ID: "ev-1", LeaseID: "lease-1", Type: types.EventTypeStartLease,
		Time: lease.StartDate, Status: types.EventStatusUndone,
	}))

	require.NoError(t, store.DeleteLease("lease-1"))

	_, err := store.GetLease("lease-1")
	assert.True(t, errdefs.IsNotFound(err))
	_, err = store.GetReservation("res-1")
	assert.True(t, errdefs.IsNotFound(err))
	_, err = store.GetAllocation("alloc-1")
	assert.True(t, errdefs.IsNotFound(err))
	_, err = store.GetHostReservation("detail-1")
	assert.True(t, errdefs.IsNotFound(err))
	_, err = store.GetEvent("ev-1")
	assert.True(t, errdefs.IsNotFound(err))

	leases, err := store.ListLeases()
	require.NoError(t, err)
	assert.Empty(t, leases)
}

// TestListDueEvents tests due-event filtering and deterministic order
func TestListDueEvents(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2030, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.CreateLease(testLease("lease-1", "experiment")))
	events := []*types.Event{
		{ID: "ev-b", LeaseID: "lease-1", Type: types.EventTypeEndLease, Time: now.Add(-time.Minute), Status: types.EventStatusUndone},
		{ID: "ev-a", LeaseID: "lease-1", Type: types.EventTypeStartLease, Time: now.Add(-time.Minute), Status: types.EventStatusUndone},
		{ID: "ev-c", LeaseID: "lease-1", Type: types.EventTypeBeforeEndLease, Time: now.Add(-time.Hour), Status: types.EventStatusUndone},
		{ID: "ev-d", LeaseID: "lease-1", Type: types.EventTypeStartLease, Time: now.Add(time.Hour), Status: types.EventStatusUndone},
		{ID: "ev-e", LeaseID: "lease-1", Type: types.EventTypeStartLease, Time: now.Add(-time.Hour), Status: types.EventStatusDone},
	}
	for _, ev := range events {
		require.NoError(t, store.CreateEvent(ev))
	}

	due, err := store.ListDueEvents(now)
	require.NoError(t, err)

	ids := make([]string, len(due))
	for i, ev := range due {
		ids[i] = ev.ID
	}
	// Sorted by time, ties by id; future and done events excluded
	assert.Equal(t, []string{"ev-c", "ev-a", "ev-b"}, ids)
}

// TestGetLeaseEvent tests per-type event lookup
func TestGetLeaseEvent(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.CreateEvent(&types.Event{
		ID: "ev-1", LeaseID: "lease-1", Type: types.EventTypeStartLease,
		Time: time.Now(), Status: types.EventStatusUndone,
	}))

	ev, err := store.GetLeaseEvent("lease-1", types.EventTypeStartLease)
	require.NoError(t, err)
	assert.Equal(t, "ev-1", ev.ID)

	_, err = store.GetLeaseEvent("lease-1", types.EventTypeEndLease)
	assert.True(t, errdefs.IsNotFound(err))
}

// TestAllocationQueries tests the by-reservation and by-resource indexes
func TestAllocationQueries(t *testing.T) {
	store := newTestStore(t)

	allocations := []*types.Allocation{
		{ID: "a1", ReservationID: "res-1", ResourceID: "host-1"},
		{ID: "a2", ReservationID: "res-1", ResourceID: "host-2"},
		{ID: "a3", ReservationID: "res-2", ResourceID: "host-1"},
	}
	for _, a := range allocations {
		require.NoError(t, store.CreateAllocation(a))
	}

	byRes, err := store.ListAllocationsByReservation("res-1")
	require.NoError(t, err)
	assert.Len(t, byRes, 2)

	byHost, err := store.ListAllocationsByResource("host-1")
	require.NoError(t, err)
	assert.Len(t, byHost, 2)

	require.NoError(t, store.DeleteAllocation("a1"))
	byRes, err = store.ListAllocationsByReservation("res-1")
	require.NoError(t, err)
	assert.Len(t, byRes, 1)
}

// TestHostReservationDetail tests detail row lookup by owning reservation
func TestHostReservationDetail(t *testing.T) {
	store := newTestStore(t)

	detail := &types.HostReservation{
		ID: "detail-1", ReservationID: "res-1",
		MinHosts: 1, MaxHosts: 3,
		HostProperties: []string{"memory_mb >= 2048"},
		BeforeEnd:      types.BeforeEndSnapshot,
	}
	require.NoError(t, store.CreateHostReservation(detail))

	got, err := store.GetHostReservationByReservation("res-1")
	require.NoError(t, err)
	assert.Equal(t, "detail-1", got.ID)
	assert.Equal(t, types.BeforeEndSnapshot, got.BeforeEnd)

	got.MaxHosts = 5
	require.NoError(t, store.UpdateHostReservation(got))
	got, err = store.GetHostReservation("detail-1")
	require.NoError(t, err)
	assert.Equal(t, 5, got.MaxHosts)
}
