package metrics

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/corralproject/corral/pkg/log"
	"github.com/corralproject/corral/pkg/storage"
)

// Collector periodically refreshes the gauge metrics from the store
type Collector struct {
	store  storage.Store
	stopCh chan struct{}
	logger zerolog.Logger
}

// NewCollector creates a new metrics collector
func NewCollector(store storage.Store) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
		logger: log.WithComponent("metrics"),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectLeaseMetrics()
	c.collectHostMetrics()
}

func (c *Collector) collectLeaseMetrics() {
	leases, err := c.store.ListLeases()
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to list leases")
		return
	}

	byStatus := make(map[string]float64)
	for _, lease := range leases {
		byStatus[string(lease.Status)]++
	}
	LeasesTotal.Reset()
	for status, n := range byStatus {
		LeasesTotal.WithLabelValues(status).Set(n)
	}

	reservations, err := c.store.ListReservations()
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to list reservations")
		return
	}

	type key struct{ resourceType, status string }
	byKey := make(map[key]float64)
	for _, r := range reservations {
		byKey[key{r.ResourceType, string(r.Status)}]++
	}
	ReservationsTotal.Reset()
	for k, n := range byKey {
		ReservationsTotal.WithLabelValues(k.resourceType, k.status).Set(n)
	}
}

func (c *Collector) collectHostMetrics() {
	hosts, err := c.store.ListHosts()
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to list hosts")
		return
	}

	byReservable := make(map[bool]float64)
	for _, h := range hosts {
		byReservable[h.Reservable]++
	}
	HostsTotal.Reset()
	for reservable, n := range byReservable {
		HostsTotal.WithLabelValues(fmt.Sprintf("%t", reservable)).Set(n)
	}

	allocations, err := c.store.ListAllocations()
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to list allocations")
		return
	}
	AllocationsTotal.Set(float64(len(allocations)))
}
