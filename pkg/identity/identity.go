package identity

import (
	"github.com/corralproject/corral/pkg/errdefs"
)

// Context carries the authenticated identity an operation runs as. It is
// passed explicitly through every call chain; there is no ambient or
// thread-local request state.
type Context struct {
	UserID    string
	ProjectID string
	Region    string
}

// TrustProvider exchanges a stored delegation credential for a context
// usable to act on behalf of the original requester. The manager uses it
// when executing background actions (start/end events) that were not
// triggered by a live user request.
type TrustProvider interface {
	ContextForTrust(trustID string) (Context, error)
}

// StaticProvider resolves every trust id from a fixed table. It serves
// single-tenant deployments and tests; production deployments plug in an
// identity-service-backed provider.
type StaticProvider struct {
	Region string
	Trusts map[string]Context // trust id -> delegated identity
}

// ContextForTrust returns the delegated context for the trust id
func (p *StaticProvider) ContextForTrust(trustID string) (Context, error) {
	ctx, ok := p.Trusts[trustID]
	if !ok {
		return Context{}, errdefs.NotAuthorized("unknown trust %s", trustID)
	}
	if ctx.Region == "" {
		ctx.Region = p.Region
	}
	return ctx, nil
}
