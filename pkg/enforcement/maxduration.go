package enforcement

import (
	"context"
	"time"

	"github.com/corralproject/corral/pkg/errdefs"
	"github.com/corralproject/corral/pkg/identity"
)

// MaxLeaseDuration vetoes leases longer than a configured cap. Projects
// on the exemption list are not constrained.
type MaxLeaseDuration struct {
	Max            time.Duration
	ExemptProjects []string
}

// Name returns the filter name
func (f *MaxLeaseDuration) Name() string {
	return "max_lease_duration"
}

func (f *MaxLeaseDuration) exempt(projectID string) bool {
	for _, p := range f.ExemptProjects {
		if p == projectID {
			return true
		}
	}
	return false
}

func (f *MaxLeaseDuration) check(lease *LeaseView) error {
	if f.Max <= 0 || f.exempt(lease.Lease.ProjectID) {
		return nil
	}
	if d := lease.Lease.EndDate.Sub(lease.Lease.StartDate); d > f.Max {
		return errdefs.NotAuthorized("lease duration %s exceeds maximum %s", d, f.Max)
	}
	return nil
}

// CheckCreate vetoes over-long new leases
func (f *MaxLeaseDuration) CheckCreate(ctx context.Context, ictx identity.Context, lease *LeaseView) error {
	return f.check(lease)
}

// CheckUpdate vetoes updates that stretch the lease past the cap
func (f *MaxLeaseDuration) CheckUpdate(ctx context.Context, ictx identity.Context, oldLease, newLease *LeaseView) error {
	return f.check(newLease)
}

// OnEnd is a no-op for this filter
func (f *MaxLeaseDuration) OnEnd(ctx context.Context, ictx identity.Context, lease *LeaseView) error {
	return nil
}
