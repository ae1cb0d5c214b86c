package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/corralproject/corral/pkg/errdefs"
	"github.com/corralproject/corral/pkg/log"
	"github.com/corralproject/corral/pkg/manager"
	"github.com/corralproject/corral/pkg/metrics"
	"github.com/corralproject/corral/pkg/notify"
	"github.com/corralproject/corral/pkg/storage"
	"github.com/corralproject/corral/pkg/types"
)

const (
	defaultPollInterval    = 10 * time.Second
	defaultEventMaxRetries = 5
)

// Config holds scheduler configuration
type Config struct {
	// PollInterval is how often due events are looked up. Default 10s.
	PollInterval time.Duration

	// EventMaxRetries bounds how long a retryable event stays eligible:
	// the retry budget is EventMaxRetries * PollInterval of wall clock
	// from the event's due time. Default 5.
	EventMaxRetries int
}

// Scheduler polls for due lease events and dispatches them to the
// manager's handlers. One poll's selection is single-threaded; execution
// within a bucket is concurrent.
type Scheduler struct {
	store   storage.Store
	manager *manager.Manager
	broker  *notify.Broker
	cfg     Config
	stopCh  chan struct{}
	logger  zerolog.Logger
}

// NewScheduler creates a scheduler
func NewScheduler(store storage.Store, mgr *manager.Manager, broker *notify.Broker, cfg Config) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.EventMaxRetries <= 0 {
		cfg.EventMaxRetries = defaultEventMaxRetries
	}
	return &Scheduler{
		store:   store,
		manager: mgr,
		broker:  broker,
		cfg:     cfg,
		stopCh:  make(chan struct{}),
		logger:  log.WithComponent("scheduler"),
	}
}

// Start begins the poll loop
func (s *Scheduler) Start() {
	go s.run()
}

// Stop stops the poll loop
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) run() {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.poll()
		case <-s.stopCh:
			return
		}
	}
}

// poll runs one cycle: find due events, order them, execute each bucket
// concurrently and join before moving to the next. A failing event never
// stops the loop.
func (s *Scheduler) poll() {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PollCycleDuration)

	events, err := s.store.ListDueEvents(time.Now().UTC())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list due events")
		return
	}
	if len(events) == 0 {
		return
	}

	for _, bucket := range selectForExecution(events) {
		var wg sync.WaitGroup
		for _, ev := range bucket {
			wg.Add(1)
			go func(ev *types.Event) {
				defer wg.Done()
				s.execEvent(context.Background(), ev)
			}(ev)
		}
		wg.Wait()
	}
}

// selectForExecution partitions due events into execution buckets:
// before_end first, then end, then start, so an ending lease frees its
// resources before a new lease starts on them. The exception is a lease
// with a due start event: its due before_end/end events are deferred
// past the starts, so the new period wins the slot. Deferred before_end
// events get their own bucket ahead of deferred ends, keeping the
// before_end/end order and never putting two events of one lease in the
// same bucket.
func selectForExecution(events []*types.Event) [][]*types.Event {
	startingLeases := make(map[string]bool)
	for _, ev := range events {
		if ev.Type == types.EventTypeStartLease {
			startingLeases[ev.LeaseID] = true
		}
	}

	var beforeEnd, end, start, deferredBeforeEnd, deferredEnd []*types.Event
	for _, ev := range events {
		switch ev.Type {
		case types.EventTypeStartLease:
			start = append(start, ev)
		case types.EventTypeEndLease:
			if startingLeases[ev.LeaseID] {
				deferredEnd = append(deferredEnd, ev)
			} else {
				end = append(end, ev)
			}
		case types.EventTypeBeforeEndLease:
			if startingLeases[ev.LeaseID] {
				deferredBeforeEnd = append(deferredBeforeEnd, ev)
			} else {
				beforeEnd = append(beforeEnd, ev)
			}
		}
	}
	return [][]*types.Event{beforeEnd, end, start, deferredBeforeEnd, deferredEnd}
}

// outcome classifies one event execution
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeRetryable
	outcomeFatal
)

// execEvent dispatches one event to its handler and records the result.
// A lease mid-transition is skipped and picked up next poll; a lease in
// a state not permitting the action retries within the budget; anything
// else marks the event ERROR without crashing the loop.
func (s *Scheduler) execEvent(ctx context.Context, ev *types.Event) {
	lease, err := s.store.GetLease(ev.LeaseID)
	if err != nil {
		s.logger.Error().Err(err).Str("event_id", ev.ID).Str("lease_id", ev.LeaseID).Msg("event references missing lease")
		s.markEvent(ev, types.EventStatusError)
		metrics.EventsExecuted.WithLabelValues(string(ev.Type), "error").Inc()
		return
	}
	if !lease.Status.Stable() {
		// Another event for this lease is mid-flight; retry next poll
		return
	}

	if !s.markEvent(ev, types.EventStatusInProgress) {
		return
	}

	switch s.classify(s.dispatch(ctx, ev), ev) {
	case outcomeSuccess:
		s.markEvent(ev, types.EventStatusDone)
		metrics.EventsExecuted.WithLabelValues(string(ev.Type), "success").Inc()
		fresh, err := s.store.GetLease(ev.LeaseID)
		if err != nil {
			fresh = lease
		}
		s.broker.Publish(notify.FromLease(notify.EventPrefix+string(ev.Type), fresh))
	case outcomeRetryable:
		s.markEvent(ev, types.EventStatusUndone)
		metrics.EventsExecuted.WithLabelValues(string(ev.Type), "retry").Inc()
	case outcomeFatal:
		s.markEvent(ev, types.EventStatusError)
		metrics.EventsExecuted.WithLabelValues(string(ev.Type), "error").Inc()
	}
}

func (s *Scheduler) dispatch(ctx context.Context, ev *types.Event) error {
	switch ev.Type {
	case types.EventTypeStartLease:
		return s.manager.StartLease(ctx, ev.LeaseID)
	case types.EventTypeEndLease:
		return s.manager.EndLease(ctx, ev.LeaseID)
	case types.EventTypeBeforeEndLease:
		return s.manager.BeforeEndLease(ctx, ev.LeaseID)
	default:
		return errdefs.InvalidInput("unknown event type %q", ev.Type)
	}
}

// classify maps a handler error to an outcome. InvalidStatus is
// retryable while the event is within its retry budget, measured as
// wall clock from the event's due time.
func (s *Scheduler) classify(err error, ev *types.Event) outcome {
	if err == nil {
		return outcomeSuccess
	}
	if errdefs.IsInvalidStatus(err) {
		budget := time.Duration(s.cfg.EventMaxRetries) * s.cfg.PollInterval
		if time.Since(ev.Time) <= budget {
			s.logger.Debug().Err(err).Str("event_id", ev.ID).Msg("event retryable, leaving undone")
			return outcomeRetryable
		}
		s.logger.Warn().Err(err).Str("event_id", ev.ID).Msg("event exhausted its retry budget")
		return outcomeFatal
	}
	s.logger.Error().Err(err).Str("event_id", ev.ID).Str("lease_id", ev.LeaseID).
		Str("type", string(ev.Type)).Msg("event execution failed")
	return outcomeFatal
}

func (s *Scheduler) markEvent(ev *types.Event, status types.EventStatus) bool {
	ev.Status = status
	if err := s.store.UpdateEvent(ev); err != nil {
		s.logger.Error().Err(err).Str("event_id", ev.ID).Msg("failed to update event status")
		return false
	}
	return true
}
