package host

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/corralproject/corral/pkg/errdefs"
	"github.com/corralproject/corral/pkg/filter"
	"github.com/corralproject/corral/pkg/interval"
	"github.com/corralproject/corral/pkg/log"
	"github.com/corralproject/corral/pkg/plugin"
	"github.com/corralproject/corral/pkg/storage"
	"github.com/corralproject/corral/pkg/types"
)

// ResourceType is the tag reservations use to select this plugin
const ResourceType = "physical:host"

// Reservation parameter keys
const (
	keyMinHosts       = "min"
	keyMaxHosts       = "max"
	keyHostProperties = "host_properties"
	keyBeforeEnd      = "before_end"
)

// Config holds host plugin configuration
type Config struct {
	// CleaningTime pads every claim on both sides so a host is never
	// handed to a new lease while the previous one is still tearing down.
	CleaningTime time.Duration

	// RandomizeCandidates shuffles qualifying hosts for load spreading
	// instead of the default deterministic order by host id.
	RandomizeCandidates bool
}

// Plugin reserves whole physical hosts. It owns the host_reservations
// detail rows and the allocations binding reservations to hosts.
type Plugin struct {
	store  storage.Store
	prov   Provisioner
	cfg    Config
	logger zerolog.Logger
}

// New creates the host plugin
func New(store storage.Store, prov Provisioner, cfg Config) *Plugin {
	return &Plugin{
		store:  store,
		prov:   prov,
		cfg:    cfg,
		logger: log.WithComponent("plugin.host"),
	}
}

// ResourceType returns the plugin's resource-type tag
func (p *Plugin) ResourceType() string {
	return ResourceType
}

// params is the parsed, validated form of the plugin's reservation values
type params struct {
	min        int
	max        int
	properties []string
	beforeEnd  types.BeforeEndAction
}

// parseParams validates the reservation values. requireCounts is set on
// create, where min/max are mandatory; updates may omit them.
func parseParams(values plugin.Values, requireCounts bool) (*params, error) {
	out := &params{min: -1, max: -1, beforeEnd: types.BeforeEndDefault}

	min, ok, err := values.Int(keyMinHosts)
	if err != nil {
		return nil, err
	}
	if ok {
		out.min = min
	} else if requireCounts {
		return nil, errdefs.MissingParameter(keyMinHosts)
	}

	max, ok, err := values.Int(keyMaxHosts)
	if err != nil {
		return nil, err
	}
	if ok {
		out.max = max
	} else if requireCounts {
		return nil, errdefs.MissingParameter(keyMaxHosts)
	}

	if out.min != -1 && out.min <= 0 {
		return nil, errdefs.InvalidRange("min must be positive, got %d", out.min)
	}
	if out.max != -1 && out.max <= 0 {
		return nil, errdefs.InvalidRange("max must be positive, got %d", out.max)
	}
	if out.min != -1 && out.max != -1 && out.min > out.max {
		return nil, errdefs.InvalidRange("min %d exceeds max %d", out.min, out.max)
	}

	props, ok, err := values.StringSlice(keyHostProperties)
	if err != nil {
		return nil, err
	}
	if ok {
		// Reject unparseable filters before any allocation work
		if _, err := filter.ParseAll(props); err != nil {
			return nil, err
		}
		out.properties = props
	}

	action, ok, err := values.String(keyBeforeEnd)
	if err != nil {
		return nil, err
	}
	if ok {
		switch types.BeforeEndAction(action) {
		case types.BeforeEndDefault, types.BeforeEndSnapshot:
			out.beforeEnd = types.BeforeEndAction(action)
		default:
			return nil, errdefs.MalformedParameter("before_end action %q", action)
		}
	}

	return out, nil
}

// ReserveResource finds enough qualifying hosts for the lease window and
// persists one allocation per selected host.
func (p *Plugin) ReserveResource(ctx context.Context, reservationID string, lease *types.Lease, values plugin.Values) (string, error) {
	parsed, err := parseParams(values, true)
	if err != nil {
		return "", err
	}

	window := interval.Period{Start: lease.StartDate, End: lease.EndDate}
	candidates, err := p.allocationCandidates(window, parsed.properties, parsed.max, nil, "")
	if err != nil {
		return "", err
	}
	if len(candidates) < parsed.min {
		return "", errdefs.NotEnoughResources("%d of %d hosts for reservation %s", len(candidates), parsed.min, reservationID)
	}

	detail := &types.HostReservation{
		ID:             uuid.New().String(),
		ReservationID:  reservationID,
		MinHosts:       parsed.min,
		MaxHosts:       parsed.max,
		HostProperties: parsed.properties,
		BeforeEnd:      parsed.beforeEnd,
		CreatedAt:      time.Now().UTC(),
	}
	if err := p.store.CreateHostReservation(detail); err != nil {
		return "", err
	}

	for _, hostID := range candidates {
		allocation := &types.Allocation{
			ID:            uuid.New().String(),
			ReservationID: reservationID,
			ResourceID:    hostID,
			CreatedAt:     time.Now().UTC(),
		}
		if err := p.store.CreateAllocation(allocation); err != nil {
			return "", err
		}
	}

	p.logger.Info().
		Str("reservation_id", reservationID).
		Int("hosts", len(candidates)).
		Msg("hosts reserved")
	return detail.ID, nil
}

// allocationCandidates returns the ids of hosts that satisfy the property
// filters and are fully free for the window, up to max entries.
// ignoreReservation excludes that reservation's own claims from the
// availability check (used when moving an existing reservation).
func (p *Plugin) allocationCandidates(window interval.Period, properties []string, max int, exclude map[string]bool, ignoreReservation string) ([]string, error) {
	hosts, err := p.store.ListHosts()
	if err != nil {
		return nil, err
	}

	var qualifying []string
	for _, h := range hosts {
		if !h.Reservable || h.Status != types.HostStatusUp || exclude[h.ID] {
			continue
		}
		ok, err := filter.MatchAll(properties, h.Capabilities())
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		claims, err := p.hostClaims(h.ID, ignoreReservation)
		if err != nil {
			return nil, err
		}
		if interval.Available(claims, window) {
			qualifying = append(qualifying, h.ID)
		}
	}

	if p.cfg.RandomizeCandidates {
		rand.Shuffle(len(qualifying), func(i, j int) {
			qualifying[i], qualifying[j] = qualifying[j], qualifying[i]
		})
	} else {
		sort.Strings(qualifying)
	}

	if len(qualifying) > max {
		qualifying = qualifying[:max]
	}
	return qualifying, nil
}

// hostClaims collects the time windows already claimed on a host, each
// padded by the cleaning-time buffer.
func (p *Plugin) hostClaims(hostID, ignoreReservation string) ([]interval.Period, error) {
	allocations, err := p.store.ListAllocationsByResource(hostID)
	if err != nil {
		return nil, err
	}

	var claims []interval.Period
	for _, a := range allocations {
		if a.ReservationID == ignoreReservation {
			continue
		}
		reservation, err := p.store.GetReservation(a.ReservationID)
		if err != nil {
			if errdefs.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		if reservation.Status == types.ReservationStatusDeleted {
			continue
		}
		lease, err := p.store.GetLease(reservation.LeaseID)
		if err != nil {
			if errdefs.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		claims = append(claims, interval.Period{
			Start: lease.StartDate.Add(-p.cfg.CleaningTime),
			End:   lease.EndDate.Add(p.cfg.CleaningTime),
		})
	}
	return claims, nil
}

// UpdateReservation recomputes allocations for the delta only: shrinking
// destroys just enough allocations, moving or widening re-runs the
// candidate search over the new window, and an active reservation gets
// its live pool membership swapped synchronously. Nothing is committed
// when the new shape cannot be satisfied.
func (p *Plugin) UpdateReservation(ctx context.Context, reservationID string, req plugin.UpdateRequest) error {
	reservation, err := p.store.GetReservation(reservationID)
	if err != nil {
		return err
	}
	detail, err := p.store.GetHostReservationByReservation(reservationID)
	if err != nil {
		return err
	}

	parsed, err := parseParams(req.Values, false)
	if err != nil {
		return err
	}

	newMin, newMax := detail.MinHosts, detail.MaxHosts
	if parsed.min != -1 {
		newMin = parsed.min
	}
	if parsed.max != -1 {
		newMax = parsed.max
	}
	if newMin > newMax {
		return errdefs.InvalidRange("min %d exceeds max %d", newMin, newMax)
	}
	newProperties := detail.HostProperties
	propertiesChanged := false
	if parsed.properties != nil {
		newProperties = parsed.properties
		propertiesChanged = true
	}
	windowChanged := !req.NewWindow.Start.Equal(req.OldWindow.Start) ||
		!req.NewWindow.End.Equal(req.OldWindow.End)

	current, err := p.store.ListAllocationsByReservation(reservationID)
	if err != nil {
		return err
	}

	// Decide which existing allocations stay valid under the new shape.
	var kept, dropped []*types.Allocation
	keptHosts := make(map[string]bool)
	for _, a := range current {
		valid := true
		if propertiesChanged || windowChanged {
			h, err := p.store.GetHost(a.ResourceID)
			if err != nil {
				if !errdefs.IsNotFound(err) {
					return err
				}
				valid = false
			}
			if valid && propertiesChanged {
				ok, err := filter.MatchAll(newProperties, h.Capabilities())
				if err != nil {
					return err
				}
				valid = valid && ok
			}
			if valid && windowChanged {
				claims, err := p.hostClaims(a.ResourceID, reservationID)
				if err != nil {
					return err
				}
				valid = interval.Available(claims, req.NewWindow)
			}
		}
		if valid && len(kept) < newMax {
			kept = append(kept, a)
			keptHosts[a.ResourceID] = true
		} else {
			dropped = append(dropped, a)
		}
	}

	// Fill up to the new max from fresh candidates.
	var added []string
	if len(kept) < newMax {
		exclude := make(map[string]bool, len(keptHosts))
		for id := range keptHosts {
			exclude[id] = true
		}
		added, err = p.allocationCandidates(req.NewWindow, newProperties, newMax-len(kept), exclude, reservationID)
		if err != nil {
			return err
		}
	}
	if len(kept)+len(added) < newMin {
		// Leave the old allocations untouched: no partial commit.
		return errdefs.NotEnoughResources("%d of %d hosts for reservation %s", len(kept)+len(added), newMin, reservationID)
	}

	// Commit: drop invalidated allocations, create the new ones, update
	// the detail row, and swap live pool membership when already active.
	active := reservation.Status == types.ReservationStatusActive
	for _, a := range dropped {
		if err := p.store.DeleteAllocation(a.ID); err != nil {
			return err
		}
		if active {
			if err := ignoreNotFound(p.prov.RemoveFromPool(ctx, reservationID, a.ResourceID)); err != nil {
				return err
			}
		}
	}
	for _, hostID := range added {
		allocation := &types.Allocation{
			ID:            uuid.New().String(),
			ReservationID: reservationID,
			ResourceID:    hostID,
			CreatedAt:     time.Now().UTC(),
		}
		if err := p.store.CreateAllocation(allocation); err != nil {
			return err
		}
		if active {
			if err := p.prov.AddToPool(ctx, reservationID, hostID); err != nil {
				return err
			}
		}
	}

	detail.MinHosts = newMin
	detail.MaxHosts = newMax
	detail.HostProperties = newProperties
	if _, ok := req.Values[keyBeforeEnd]; ok {
		detail.BeforeEnd = parsed.beforeEnd
	}
	detail.UpdatedAt = time.Now().UTC()
	if err := p.store.UpdateHostReservation(detail); err != nil {
		return err
	}

	p.logger.Info().
		Str("reservation_id", reservationID).
		Int("kept", len(kept)).
		Int("added", len(added)).
		Int("dropped", len(dropped)).
		Msg("reservation updated")
	return nil
}

// OnStart creates the reservation's host pool and places every allocated
// host into it.
func (p *Plugin) OnStart(ctx context.Context, resourceID string) error {
	detail, err := p.store.GetHostReservation(resourceID)
	if err != nil {
		return err
	}
	if err := p.prov.CreatePool(ctx, detail.ReservationID); err != nil && !errdefs.IsConflict(err) {
		return err
	}
	allocations, err := p.store.ListAllocationsByReservation(detail.ReservationID)
	if err != nil {
		return err
	}
	for _, a := range allocations {
		if err := p.prov.AddToPool(ctx, detail.ReservationID, a.ResourceID); err != nil {
			return err
		}
	}
	return nil
}

// BeforeEnd runs the reservation's configured lead-time action
func (p *Plugin) BeforeEnd(ctx context.Context, resourceID string) error {
	detail, err := p.store.GetHostReservation(resourceID)
	if err != nil {
		return err
	}
	if detail.BeforeEnd != types.BeforeEndSnapshot {
		return nil
	}
	allocations, err := p.store.ListAllocationsByReservation(detail.ReservationID)
	if err != nil {
		return err
	}
	for _, a := range allocations {
		if err := ignoreNotFound(p.prov.CreateInstanceArtifact(ctx, a.ResourceID)); err != nil {
			return err
		}
	}
	return nil
}

// OnEnd tears down instances and pool membership and releases the
// allocations. A host or pool the backend no longer knows is treated as
// already cleaned up, so calling OnEnd twice is harmless.
func (p *Plugin) OnEnd(ctx context.Context, resourceID string) error {
	detail, err := p.store.GetHostReservation(resourceID)
	if err != nil {
		return err
	}
	allocations, err := p.store.ListAllocationsByReservation(detail.ReservationID)
	if err != nil {
		return err
	}
	for _, a := range allocations {
		if err := ignoreNotFound(p.prov.DeleteInstances(ctx, a.ResourceID)); err != nil {
			return err
		}
		if err := ignoreNotFound(p.prov.RemoveFromPool(ctx, detail.ReservationID, a.ResourceID)); err != nil {
			return err
		}
		if err := p.store.DeleteAllocation(a.ID); err != nil {
			return err
		}
	}
	return ignoreNotFound(p.prov.DeletePool(ctx, detail.ReservationID))
}

// HealReservations reallocates every reservation bound to a failed host
// whose window overlaps the given one. Reservations that cannot be
// reallocated are flagged, never failed: each outcome is independent.
func (p *Plugin) HealReservations(ctx context.Context, failedResourceIDs []string, window interval.Period) ([]plugin.HealResult, error) {
	failed := make(map[string]bool, len(failedResourceIDs))
	for _, id := range failedResourceIDs {
		failed[id] = true
	}

	results := make(map[string]*plugin.HealResult)
	var order []string
	for _, hostID := range failedResourceIDs {
		allocations, err := p.store.ListAllocationsByResource(hostID)
		if err != nil {
			return nil, err
		}
		for _, a := range allocations {
			reservation, err := p.store.GetReservation(a.ReservationID)
			if err != nil {
				p.logger.Warn().Err(err).Str("allocation_id", a.ID).Msg("skipping orphaned allocation")
				continue
			}
			if reservation.Status == types.ReservationStatusDeleted ||
				reservation.Status == types.ReservationStatusError {
				continue
			}
			lease, err := p.store.GetLease(reservation.LeaseID)
			if err != nil {
				p.logger.Warn().Err(err).Str("reservation_id", reservation.ID).Msg("skipping reservation without lease")
				continue
			}
			leaseWindow := interval.Period{Start: lease.StartDate, End: lease.EndDate}
			if !leaseWindow.Overlaps(window) {
				continue
			}

			result, seen := results[reservation.ID]
			if !seen {
				result = &plugin.HealResult{ReservationID: reservation.ID, LeaseID: lease.ID, Healed: true}
				results[reservation.ID] = result
				order = append(order, reservation.ID)
			}

			if err := p.healAllocation(ctx, a, reservation, leaseWindow, failed, result); err != nil {
				p.logger.Error().Err(err).
					Str("reservation_id", reservation.ID).
					Str("host_id", hostID).
					Msg("failed to heal allocation")
				result.Healed = false
			}
		}
	}

	out := make([]plugin.HealResult, 0, len(order))
	for _, id := range order {
		out = append(out, *results[id])
	}
	return out, nil
}

// healAllocation swaps one allocation off a failed host, or flags the
// reservation when no replacement exists.
func (p *Plugin) healAllocation(ctx context.Context, a *types.Allocation, reservation *types.Reservation, window interval.Period, failed map[string]bool, result *plugin.HealResult) error {
	detail, err := p.store.GetHostReservationByReservation(reservation.ID)
	if err != nil {
		return err
	}

	// Exclude failed hosts and hosts the reservation already holds.
	exclude := make(map[string]bool, len(failed))
	for id := range failed {
		exclude[id] = true
	}
	siblings, err := p.store.ListAllocationsByReservation(reservation.ID)
	if err != nil {
		return err
	}
	for _, s := range siblings {
		exclude[s.ResourceID] = true
	}

	candidates, err := p.allocationCandidates(window, detail.HostProperties, 1, exclude, reservation.ID)
	if err != nil {
		return err
	}

	active := reservation.Status == types.ReservationStatusActive
	if len(candidates) == 0 {
		// No replacement capacity: release the dead binding and flag.
		if err := p.store.DeleteAllocation(a.ID); err != nil {
			return err
		}
		result.Healed = false
		if active {
			reservation.ResourcesChanged = true
			result.ResourcesChanged = true
		} else {
			reservation.MissingResources = true
			result.MissingResources = true
		}
		reservation.UpdatedAt = time.Now().UTC()
		return p.store.UpdateReservation(reservation)
	}

	replacement := candidates[0]
	oldHost := a.ResourceID
	a.ResourceID = replacement
	if err := p.store.UpdateAllocation(a); err != nil {
		return err
	}
	if active {
		// Move the live pool binding along with the allocation.
		if err := ignoreNotFound(p.prov.RemoveFromPool(ctx, reservation.ID, oldHost)); err != nil {
			return err
		}
		if err := p.prov.AddToPool(ctx, reservation.ID, replacement); err != nil {
			return err
		}
		reservation.ResourcesChanged = true
		result.ResourcesChanged = true
		reservation.UpdatedAt = time.Now().UTC()
		if err := p.store.UpdateReservation(reservation); err != nil {
			return err
		}
	}

	p.logger.Info().
		Str("reservation_id", reservation.ID).
		Str("from", oldHost).
		Str("to", replacement).
		Msg("allocation healed")
	return nil
}

// ignoreNotFound swallows "already gone" responses from the backend
func ignoreNotFound(err error) error {
	if err == nil || errdefs.IsNotFound(err) {
		return nil
	}
	return err
}
