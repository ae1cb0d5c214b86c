/*
Package identity defines how Corral authenticates background work.

A lease stores a trust id: a delegation credential the owner granted at
create time. When the event scheduler later fires start/end actions there
is no live user request, so the manager exchanges the trust id for a
fresh identity.Context through a TrustProvider and passes it explicitly
down the call chain.

StaticProvider is the in-tree implementation backed by a fixed table;
deployments integrating an external identity service supply their own
TrustProvider.
*/
package identity
