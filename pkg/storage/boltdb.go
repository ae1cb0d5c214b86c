package storage

import (
	"encoding/json"
	"path/filepath"
	"sort"
	"time"

	"github.com/corralproject/corral/pkg/errdefs"
	"github.com/corralproject/corral/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketLeases           = []byte("leases")
	bucketReservations     = []byte("reservations")
	bucketEvents           = []byte("events")
	bucketAllocations      = []byte("allocations")
	bucketHosts            = []byte("hosts")
	bucketHostReservations = []byte("host_reservations")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "corral.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, errdefs.Unavailable("failed to open database")
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketLeases,
			bucketReservations,
			bucketEvents,
			bucketAllocations,
			bucketHosts,
			bucketHostReservations,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return errdefs.Unavailable("failed to create bucket %s", bucket)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Lease operations

// CreateLease persists a lease, rejecting duplicate ids and names so the
// caller can retry with a different identifier.
func (s *BoltStore) CreateLease(lease *types.Lease) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLeases)
		if b.Get([]byte(lease.ID)) != nil {
			return errdefs.Conflict("lease %s", lease.ID)
		}
		var dup bool
		_ = b.ForEach(func(k, v []byte) error {
			var existing types.Lease
			if err := json.Unmarshal(v, &existing); err != nil {
				return nil
			}
			if existing.Name == lease.Name {
				dup = true
			}
			return nil
		})
		if dup {
			return errdefs.Conflict("lease name %q", lease.Name)
		}
		data, err := json.Marshal(lease)
		if err != nil {
			return err
		}
		return b.Put([]byte(lease.ID), data)
	})
}

func (s *BoltStore) GetLease(id string) (*types.Lease, error) {
	var lease types.Lease
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLeases)
		data := b.Get([]byte(id))
		if data == nil {
			return errdefs.NotFound("lease %s", id)
		}
		return json.Unmarshal(data, &lease)
	})
	if err != nil {
		return nil, err
	}
	return &lease, nil
}

func (s *BoltStore) GetLeaseByName(name string) (*types.Lease, error) {
	var found *types.Lease
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLeases)
		return b.ForEach(func(k, v []byte) error {
			var lease types.Lease
			if err := json.Unmarshal(v, &lease); err != nil {
				return err
			}
			if lease.Name == name {
				found = &lease
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, errdefs.NotFound("lease %q", name)
	}
	return found, nil
}

func (s *BoltStore) ListLeases() ([]*types.Lease, error) {
	var leases []*types.Lease
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLeases)
		return b.ForEach(func(k, v []byte) error {
			var lease types.Lease
			if err := json.Unmarshal(v, &lease); err != nil {
				return err
			}
			leases = append(leases, &lease)
			return nil
		})
	})
	return leases, err
}

func (s *BoltStore) UpdateLease(lease *types.Lease) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLeases)
		if b.Get([]byte(lease.ID)) == nil {
			return errdefs.NotFound("lease %s", lease.ID)
		}
		data, err := json.Marshal(lease)
		if err != nil {
			return err
		}
		return b.Put([]byte(lease.ID), data)
	})
}

// DeleteLease removes the lease and cascades to its reservations (with
// their allocations and detail rows) and events inside one transaction.
func (s *BoltStore) DeleteLease(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		leases := tx.Bucket(bucketLeases)
		if leases.Get([]byte(id)) == nil {
			return errdefs.NotFound("lease %s", id)
		}

		reservations := tx.Bucket(bucketReservations)
		var reservationIDs []string
		err := reservations.ForEach(func(k, v []byte) error {
			var r types.Reservation
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if r.LeaseID == id {
				reservationIDs = append(reservationIDs, r.ID)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, rid := range reservationIDs {
			if err := deleteReservationTx(tx, rid); err != nil {
				return err
			}
		}

		events := tx.Bucket(bucketEvents)
		var eventIDs []string
		err = events.ForEach(func(k, v []byte) error {
			var e types.Event
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if e.LeaseID == id {
				eventIDs = append(eventIDs, e.ID)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, eid := range eventIDs {
			if err := events.Delete([]byte(eid)); err != nil {
				return err
			}
		}

		return leases.Delete([]byte(id))
	})
}

// Reservation operations
func (s *BoltStore) CreateReservation(reservation *types.Reservation) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReservations)
		if b.Get([]byte(reservation.ID)) != nil {
			return errdefs.Conflict("reservation %s", reservation.ID)
		}
		data, err := json.Marshal(reservation)
		if err != nil {
			return err
		}
		return b.Put([]byte(reservation.ID), data)
	})
}

func (s *BoltStore) GetReservation(id string) (*types.Reservation, error) {
	var reservation types.Reservation
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReservations)
		data := b.Get([]byte(id))
		if data == nil {
			return errdefs.NotFound("reservation %s", id)
		}
		return json.Unmarshal(data, &reservation)
	})
	if err != nil {
		return nil, err
	}
	return &reservation, nil
}

func (s *BoltStore) ListReservations() ([]*types.Reservation, error) {
	var reservations []*types.Reservation
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReservations)
		return b.ForEach(func(k, v []byte) error {
			var r types.Reservation
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			reservations = append(reservations, &r)
			return nil
		})
	})
	return reservations, err
}

func (s *BoltStore) ListReservationsByLease(leaseID string) ([]*types.Reservation, error) {
	reservations, err := s.ListReservations()
	if err != nil {
		return nil, err
	}

	var filtered []*types.Reservation
	for _, r := range reservations {
		if r.LeaseID == leaseID {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdateReservation(reservation *types.Reservation) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReservations)
		if b.Get([]byte(reservation.ID)) == nil {
			return errdefs.NotFound("reservation %s", reservation.ID)
		}
		data, err := json.Marshal(reservation)
		if err != nil {
			return err
		}
		return b.Put([]byte(reservation.ID), data)
	})
}

func (s *BoltStore) DeleteReservation(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketReservations).Get([]byte(id)) == nil {
			return errdefs.NotFound("reservation %s", id)
		}
		return deleteReservationTx(tx, id)
	})
}

// deleteReservationTx removes a reservation plus its allocations and host
// detail rows within the surrounding transaction.
func deleteReservationTx(tx *bolt.Tx, id string) error {
	allocations := tx.Bucket(bucketAllocations)
	var allocationIDs []string
	err := allocations.ForEach(func(k, v []byte) error {
		var a types.Allocation
		if err := json.Unmarshal(v, &a); err != nil {
			return err
		}
		if a.ReservationID == id {
			allocationIDs = append(allocationIDs, a.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, aid := range allocationIDs {
		if err := allocations.Delete([]byte(aid)); err != nil {
			return err
		}
	}

	details := tx.Bucket(bucketHostReservations)
	var detailIDs []string
	err = details.ForEach(func(k, v []byte) error {
		var d types.HostReservation
		if err := json.Unmarshal(v, &d); err != nil {
			return err
		}
		if d.ReservationID == id {
			detailIDs = append(detailIDs, d.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, did := range detailIDs {
		if err := details.Delete([]byte(did)); err != nil {
			return err
		}
	}

	return tx.Bucket(bucketReservations).Delete([]byte(id))
}

// Event operations
func (s *BoltStore) CreateEvent(event *types.Event) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		if b.Get([]byte(event.ID)) != nil {
			return errdefs.Conflict("event %s", event.ID)
		}
		data, err := json.Marshal(event)
		if err != nil {
			return err
		}
		return b.Put([]byte(event.ID), data)
	})
}

func (s *BoltStore) GetEvent(id string) (*types.Event, error) {
	var event types.Event
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		data := b.Get([]byte(id))
		if data == nil {
			return errdefs.NotFound("event %s", id)
		}
		return json.Unmarshal(data, &event)
	})
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// GetLeaseEvent returns the lease's event of the given type. Leases own
// exactly one start_lease and one end_lease event.
func (s *BoltStore) GetLeaseEvent(leaseID string, eventType types.EventType) (*types.Event, error) {
	events, err := s.ListEventsByLease(leaseID)
	if err != nil {
		return nil, err
	}
	for _, e := range events {
		if e.Type == eventType {
			return e, nil
		}
	}
	return nil, errdefs.NotFound("event %s for lease %s", eventType, leaseID)
}

func (s *BoltStore) ListEventsByLease(leaseID string) ([]*types.Event, error) {
	var events []*types.Event
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		return b.ForEach(func(k, v []byte) error {
			var e types.Event
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if e.LeaseID == leaseID {
				events = append(events, &e)
			}
			return nil
		})
	})
	return events, err
}

// ListDueEvents returns all UNDONE events whose time has come, ordered
// by time then id so polling is deterministic.
func (s *BoltStore) ListDueEvents(now time.Time) ([]*types.Event, error) {
	var events []*types.Event
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		return b.ForEach(func(k, v []byte) error {
			var e types.Event
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if e.Status == types.EventStatusUndone && !e.Time.After(now) {
				events = append(events, &e)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(events, func(i, j int) bool {
		if events[i].Time.Equal(events[j].Time) {
			return events[i].ID < events[j].ID
		}
		return events[i].Time.Before(events[j].Time)
	})
	return events, nil
}

func (s *BoltStore) UpdateEvent(event *types.Event) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		if b.Get([]byte(event.ID)) == nil {
			return errdefs.NotFound("event %s", event.ID)
		}
		data, err := json.Marshal(event)
		if err != nil {
			return err
		}
		return b.Put([]byte(event.ID), data)
	})
}

func (s *BoltStore) DeleteEvent(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		if b.Get([]byte(id)) == nil {
			return errdefs.NotFound("event %s", id)
		}
		return b.Delete([]byte(id))
	})
}

// Allocation operations
func (s *BoltStore) CreateAllocation(allocation *types.Allocation) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAllocations)
		if b.Get([]byte(allocation.ID)) != nil {
			return errdefs.Conflict("allocation %s", allocation.ID)
		}
		data, err := json.Marshal(allocation)
		if err != nil {
			return err
		}
		return b.Put([]byte(allocation.ID), data)
	})
}

func (s *BoltStore) GetAllocation(id string) (*types.Allocation, error) {
	var allocation types.Allocation
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAllocations)
		data := b.Get([]byte(id))
		if data == nil {
			return errdefs.NotFound("allocation %s", id)
		}
		return json.Unmarshal(data, &allocation)
	})
	if err != nil {
		return nil, err
	}
	return &allocation, nil
}

func (s *BoltStore) ListAllocations() ([]*types.Allocation, error) {
	var allocations []*types.Allocation
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAllocations)
		return b.ForEach(func(k, v []byte) error {
			var a types.Allocation
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			allocations = append(allocations, &a)
			return nil
		})
	})
	return allocations, err
}

func (s *BoltStore) ListAllocationsByReservation(reservationID string) ([]*types.Allocation, error) {
	allocations, err := s.ListAllocations()
	if err != nil {
		return nil, err
	}

	var filtered []*types.Allocation
	for _, a := range allocations {
		if a.ReservationID == reservationID {
			filtered = append(filtered, a)
		}
	}
	return filtered, nil
}

func (s *BoltStore) ListAllocationsByResource(resourceID string) ([]*types.Allocation, error) {
	allocations, err := s.ListAllocations()
	if err != nil {
		return nil, err
	}

	var filtered []*types.Allocation
	for _, a := range allocations {
		if a.ResourceID == resourceID {
			filtered = append(filtered, a)
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdateAllocation(allocation *types.Allocation) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAllocations)
		if b.Get([]byte(allocation.ID)) == nil {
			return errdefs.NotFound("allocation %s", allocation.ID)
		}
		data, err := json.Marshal(allocation)
		if err != nil {
			return err
		}
		return b.Put([]byte(allocation.ID), data)
	})
}

func (s *BoltStore) DeleteAllocation(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAllocations)
		if b.Get([]byte(id)) == nil {
			return errdefs.NotFound("allocation %s", id)
		}
		return b.Delete([]byte(id))
	})
}

// Host operations
func (s *BoltStore) CreateHost(host *types.Host) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHosts)
		if b.Get([]byte(host.ID)) != nil {
			return errdefs.Conflict("host %s", host.ID)
		}
		data, err := json.Marshal(host)
		if err != nil {
			return err
		}
		return b.Put([]byte(host.ID), data)
	})
}

func (s *BoltStore) GetHost(id string) (*types.Host, error) {
	var host types.Host
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHosts)
		data := b.Get([]byte(id))
		if data == nil {
			return errdefs.NotFound("host %s", id)
		}
		return json.Unmarshal(data, &host)
	})
	if err != nil {
		return nil, err
	}
	return &host, nil
}

func (s *BoltStore) ListHosts() ([]*types.Host, error) {
	var hosts []*types.Host
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHosts)
		return b.ForEach(func(k, v []byte) error {
			var h types.Host
			if err := json.Unmarshal(v, &h); err != nil {
				return err
			}
			hosts = append(hosts, &h)
			return nil
		})
	})
	return hosts, err
}

func (s *BoltStore) UpdateHost(host *types.Host) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHosts)
		if b.Get([]byte(host.ID)) == nil {
			return errdefs.NotFound("host %s", host.ID)
		}
		data, err := json.Marshal(host)
		if err != nil {
			return err
		}
		return b.Put([]byte(host.ID), data)
	})
}

func (s *BoltStore) DeleteHost(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHosts)
		if b.Get([]byte(id)) == nil {
			return errdefs.NotFound("host %s", id)
		}
		return b.Delete([]byte(id))
	})
}

// Host reservation detail operations
func (s *BoltStore) CreateHostReservation(detail *types.HostReservation) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHostReservations)
		if b.Get([]byte(detail.ID)) != nil {
			return errdefs.Conflict("host reservation %s", detail.ID)
		}
		data, err := json.Marshal(detail)
		if err != nil {
			return err
		}
		return b.Put([]byte(detail.ID), data)
	})
}

func (s *BoltStore) GetHostReservation(id string) (*types.HostReservation, error) {
	var detail types.HostReservation
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHostReservations)
		data := b.Get([]byte(id))
		if data == nil {
			return errdefs.NotFound("host reservation %s", id)
		}
		return json.Unmarshal(data, &detail)
	})
	if err != nil {
		return nil, err
	}
	return &detail, nil
}

func (s *BoltStore) GetHostReservationByReservation(reservationID string) (*types.HostReservation, error) {
	var found *types.HostReservation
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHostReservations)
		return b.ForEach(func(k, v []byte) error {
			var d types.HostReservation
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			if d.ReservationID == reservationID {
				found = &d
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, errdefs.NotFound("host reservation for reservation %s", reservationID)
	}
	return found, nil
}

func (s *BoltStore) UpdateHostReservation(detail *types.HostReservation) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHostReservations)
		if b.Get([]byte(detail.ID)) == nil {
			return errdefs.NotFound("host reservation %s", detail.ID)
		}
		data, err := json.Marshal(detail)
		if err != nil {
			return err
		}
		return b.Put([]byte(detail.ID), data)
	})
}
