package enforcement

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/corralproject/corral/pkg/identity"
	"github.com/corralproject/corral/pkg/log"
	"github.com/corralproject/corral/pkg/metrics"
	"github.com/corralproject/corral/pkg/types"
)

// ReservationView is a reservation with its concrete allocations, so a
// filter can price actually-assigned resources rather than requested
// counts.
type ReservationView struct {
	Reservation *types.Reservation
	Allocations []*types.Allocation
}

// LeaseView is the formatted lease handed to enforcement filters
type LeaseView struct {
	Lease        *types.Lease
	Reservations []*ReservationView
}

// Filter is one pluggable policy check. A filter vetoes an operation by
// returning a NotAuthorized-kind error.
type Filter interface {
	Name() string
	CheckCreate(ctx context.Context, ictx identity.Context, lease *LeaseView) error
	CheckUpdate(ctx context.Context, ictx identity.Context, oldLease, newLease *LeaseView) error
	OnEnd(ctx context.Context, ictx identity.Context, lease *LeaseView) error
}

// Chain runs filters in registration order. The first veto aborts the
// whole chain; remaining filters are not consulted (fail closed).
type Chain struct {
	filters []Filter
	logger  zerolog.Logger
}

// NewChain creates a filter chain
func NewChain(filters ...Filter) *Chain {
	return &Chain{
		filters: filters,
		logger:  log.WithComponent("enforcement"),
	}
}

// CheckCreate runs every filter's create check, stopping at the first veto
func (c *Chain) CheckCreate(ctx context.Context, ictx identity.Context, lease *LeaseView) error {
	for _, f := range c.filters {
		if err := f.CheckCreate(ctx, ictx, lease); err != nil {
			c.logger.Info().Str("filter", f.Name()).Err(err).Msg("lease create vetoed")
			metrics.EnforcementVetoes.WithLabelValues(f.Name(), "create").Inc()
			return err
		}
	}
	return nil
}

// CheckUpdate runs every filter's update check, stopping at the first veto
func (c *Chain) CheckUpdate(ctx context.Context, ictx identity.Context, oldLease, newLease *LeaseView) error {
	for _, f := range c.filters {
		if err := f.CheckUpdate(ctx, ictx, oldLease, newLease); err != nil {
			c.logger.Info().Str("filter", f.Name()).Err(err).Msg("lease update vetoed")
			metrics.EnforcementVetoes.WithLabelValues(f.Name(), "update").Inc()
			return err
		}
	}
	return nil
}

// OnEnd informs every filter the lease is leaving the system. End
// notifications are best effort: a failing filter is logged and the rest
// still run, since the lease is going away regardless.
func (c *Chain) OnEnd(ctx context.Context, ictx identity.Context, lease *LeaseView) {
	for _, f := range c.filters {
		if err := f.OnEnd(ctx, ictx, lease); err != nil {
			c.logger.Warn().Str("filter", f.Name()).Err(err).Msg("enforcement on_end failed")
		}
	}
}
