/*
Package errdefs defines Corral's error taxonomy.

Every error the core raises carries a stable machine-readable kind, built
by wrapping one of the package sentinels so errors.Is classification works
across package boundaries:

	if errdefs.IsNotEnoughResources(err) {
		// allocation search could not satisfy the reservation
	}

Kinds split into validation (rejected before any side effect), resource
exhaustion, authorization, not-found, conflict, invalid-status (retryable
at the event level), and transient unavailability. HTTPStatus gives the
fixed kind-to-status translation used by the API façade.
*/
package errdefs
