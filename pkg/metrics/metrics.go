package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Lease metrics
	LeasesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "corral_leases_total",
			Help: "Number of leases by status",
		},
		[]string{"status"},
	)

	ReservationsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "corral_reservations_total",
			Help: "Number of reservations by resource type and status",
		},
		[]string{"resource_type", "status"},
	)

	// Host metrics
	HostsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "corral_hosts_total",
			Help: "Number of inventory hosts by reservable flag",
		},
		[]string{"reservable"},
	)

	AllocationsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "corral_allocations_total",
			Help: "Number of live host allocations",
		},
	)

	// Event scheduler metrics
	EventsExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corral_events_executed_total",
			Help: "Lease events executed by type and result",
		},
		[]string{"type", "result"},
	)

	PollCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "corral_poll_cycle_duration_seconds",
			Help:    "Duration of one event poll cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Healing metrics
	HealingReallocations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corral_healing_reallocations_total",
			Help: "Allocations moved to a replacement host by the healer",
		},
	)

	HealingFlagged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corral_healing_flagged_total",
			Help: "Reservations flagged with missing resources after healing",
		},
	)

	// Enforcement metrics
	EnforcementVetoes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corral_enforcement_vetoes_total",
			Help: "Lease operations vetoed by enforcement filters",
		},
		[]string{"filter", "action"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(LeasesTotal)
	prometheus.MustRegister(ReservationsTotal)
	prometheus.MustRegister(HostsTotal)
	prometheus.MustRegister(AllocationsTotal)
	prometheus.MustRegister(EventsExecuted)
	prometheus.MustRegister(PollCycleDuration)
	prometheus.MustRegister(HealingReallocations)
	prometheus.MustRegister(HealingFlagged)
	prometheus.MustRegister(EnforcementVetoes)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures a duration and records it into a histogram
type Timer struct {
	start time.Time
}

// NewTimer starts a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time into the given histogram
func (t *Timer) ObserveDuration(h prometheus.Histogram) {
	h.Observe(t.Duration().Seconds())
}
