package host

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestNopProvisioner tests that every provisioning action logs and
// succeeds without a backend
func TestNopProvisioner(t *testing.T) {
	ctx := context.Background()
	var prov Provisioner = NopProvisioner{}

	assert.NoError(t, prov.CreatePool(ctx, "pool-1"))
	assert.NoError(t, prov.AddToPool(ctx, "pool-1", "host-1"))
	assert.NoError(t, prov.CreateInstanceArtifact(ctx, "host-1"))
	assert.NoError(t, prov.DeleteInstances(ctx, "host-1"))
	assert.NoError(t, prov.RemoveFromPool(ctx, "pool-1", "host-1"))
	assert.NoError(t, prov.DeletePool(ctx, "pool-1"))
}
