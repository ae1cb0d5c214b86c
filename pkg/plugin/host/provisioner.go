package host

import (
	"context"

	"github.com/corralproject/corral/pkg/log"
)

// Provisioner is the external provisioning backend the host plugin
// drives: the admin surface of the compute service that owns the actual
// hypervisors. Calls are synchronous. Implementations return a NotFound
// error kind for "already gone" targets; the plugin treats those as
// satisfied, not as failures.
type Provisioner interface {
	// CreatePool creates the reservation's host aggregate
	CreatePool(ctx context.Context, poolID string) error

	// DeletePool removes the reservation's host aggregate
	DeletePool(ctx context.Context, poolID string) error

	// AddToPool places a host into the reservation's aggregate
	AddToPool(ctx context.Context, poolID, hostID string) error

	// RemoveFromPool takes a host out of the reservation's aggregate
	RemoveFromPool(ctx context.Context, poolID, hostID string) error

	// CreateInstanceArtifact snapshots the instances running on a host
	// (the before-end snapshot action)
	CreateInstanceArtifact(ctx context.Context, hostID string) error

	// DeleteInstances removes any instances still running on a host
	DeleteInstances(ctx context.Context, hostID string) error
}

// NopProvisioner logs provisioning actions without driving a backend.
// It serves deployments where pool membership is consumed out of band
// (e.g. an external placement sync reading the allocation table).
type NopProvisioner struct{}

func (NopProvisioner) CreatePool(ctx context.Context, poolID string) error {
	logger := log.WithComponent("provisioner")
	logger.Debug().Str("pool_id", poolID).Msg("create pool")
	return nil
}

func (NopProvisioner) DeletePool(ctx context.Context, poolID string) error {
	logger := log.WithComponent("provisioner")
	logger.Debug().Str("pool_id", poolID).Msg("delete pool")
	return nil
}

func (NopProvisioner) AddToPool(ctx context.Context, poolID, hostID string) error {
	logger := log.WithComponent("provisioner")
	logger.Debug().Str("pool_id", poolID).Str("host_id", hostID).Msg("add host to pool")
	return nil
}

func (NopProvisioner) RemoveFromPool(ctx context.Context, poolID, hostID string) error {
	logger := log.WithComponent("provisioner")
	logger.Debug().Str("pool_id", poolID).Str("host_id", hostID).Msg("remove host from pool")
	return nil
}

func (NopProvisioner) CreateInstanceArtifact(ctx context.Context, hostID string) error {
	logger := log.WithComponent("provisioner")
	logger.Debug().Str("host_id", hostID).Msg("snapshot host instances")
	return nil
}

func (NopProvisioner) DeleteInstances(ctx context.Context, hostID string) error {
	logger := log.WithComponent("provisioner")
	logger.Debug().Str("host_id", hostID).Msg("delete host instances")
	return nil
}
