package healer

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/corralproject/corral/pkg/interval"
	"github.com/corralproject/corral/pkg/log"
	"github.com/corralproject/corral/pkg/metrics"
	"github.com/corralproject/corral/pkg/notify"
	"github.com/corralproject/corral/pkg/plugin"
	"github.com/corralproject/corral/pkg/storage"
	"github.com/corralproject/corral/pkg/types"
)

const (
	defaultCheckInterval = time.Minute
	defaultHealingWindow = 24 * time.Hour
)

// Config holds healer configuration
type Config struct {
	// CheckInterval is how often the inventory is scanned for failed
	// hosts still backing allocations. Default 1m.
	CheckInterval time.Duration

	// HealingWindow bounds how far ahead reservations are healed:
	// only reservations overlapping [now, now+HealingWindow) are
	// considered. Default 24h.
	HealingWindow time.Duration
}

// Healer moves reservations away from failed resource units. It runs a
// periodic scan over the host inventory and also accepts explicit
// failure reports from an external monitor.
type Healer struct {
	store    storage.Store
	registry *plugin.Registry
	broker   *notify.Broker
	cfg      Config
	stopCh   chan struct{}
	logger   zerolog.Logger
}

// NewHealer creates a healer
func NewHealer(store storage.Store, registry *plugin.Registry, broker *notify.Broker, cfg Config) *Healer {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = defaultCheckInterval
	}
	if cfg.HealingWindow <= 0 {
		cfg.HealingWindow = defaultHealingWindow
	}
	return &Healer{
		store:    store,
		registry: registry,
		broker:   broker,
		cfg:      cfg,
		stopCh:   make(chan struct{}),
		logger:   log.WithComponent("healer"),
	}
}

// Start begins the periodic scan
func (h *Healer) Start() {
	go h.run()
}

// Stop stops the healer
func (h *Healer) Stop() {
	close(h.stopCh)
}

func (h *Healer) run() {
	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := h.scan(context.Background()); err != nil {
				h.logger.Error().Err(err).Msg("healing scan failed")
			}
		case <-h.stopCh:
			return
		}
	}
}

// scan finds down hosts that still back allocations and heals them
func (h *Healer) scan(ctx context.Context) error {
	hosts, err := h.store.ListHosts()
	if err != nil {
		return err
	}

	var failed []string
	for _, host := range hosts {
		if host.Status != types.HostStatusDown {
			continue
		}
		allocations, err := h.store.ListAllocationsByResource(host.ID)
		if err != nil {
			return err
		}
		if len(allocations) > 0 {
			failed = append(failed, host.ID)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return h.HostsFailed(ctx, failed)
}

// HostsFailed heals every reservation bound to the given hosts whose
// lease window overlaps the healing horizon. Each reservation's outcome
// is independent: reservations with replacement capacity are moved,
// the rest are flagged and their leases marked degraded. One
// unsatisfiable reservation never blocks healing of the others.
func (h *Healer) HostsFailed(ctx context.Context, hostIDs []string) error {
	now := time.Now().UTC()
	window := interval.Period{Start: now, End: now.Add(h.cfg.HealingWindow)}

	h.logger.Warn().Strs("host_ids", hostIDs).Msg("healing reservations off failed hosts")

	for _, resourceType := range h.registry.ResourceTypes() {
		p, err := h.registry.Get(resourceType)
		if err != nil {
			return err
		}
		results, err := p.HealReservations(ctx, hostIDs, window)
		if err != nil {
			h.logger.Error().Err(err).Str("resource_type", resourceType).Msg("healing pass failed")
			continue
		}
		for _, result := range results {
			h.record(result)
		}
	}
	return nil
}

// record updates metrics and the owning lease for one healing outcome
func (h *Healer) record(result plugin.HealResult) {
	if result.Healed {
		metrics.HealingReallocations.Inc()
		h.logger.Info().Str("reservation_id", result.ReservationID).
			Str("lease_id", result.LeaseID).Msg("reservation healed")
	} else {
		metrics.HealingFlagged.Inc()
		h.logger.Warn().Str("reservation_id", result.ReservationID).
			Str("lease_id", result.LeaseID).
			Bool("missing_resources", result.MissingResources).
			Bool("resources_changed", result.ResourcesChanged).
			Msg("reservation could not be fully healed")
	}

	lease, err := h.store.GetLease(result.LeaseID)
	if err != nil {
		h.logger.Error().Err(err).Str("lease_id", result.LeaseID).Msg("failed to load lease after healing")
		return
	}
	if !result.Healed && !lease.Degraded {
		lease.Degraded = true
		if err := h.store.UpdateLease(lease); err != nil {
			h.logger.Error().Err(err).Str("lease_id", lease.ID).Msg("failed to mark lease degraded")
			return
		}
	}
	h.broker.Publish(notify.FromLease(notify.EventPrefix+"healing", lease))
}
