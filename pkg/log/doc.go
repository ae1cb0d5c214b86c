/*
Package log provides structured logging for Corral built on zerolog.

Init configures the global logger once at process startup (console or JSON
output, level from configuration). Components derive child loggers with
WithComponent and the WithLeaseID/WithReservationID/WithEventID/WithHostID
helpers so every line carries the identifiers needed to trace a lease
through its lifecycle.

	log.Init(log.Config{Level: log.InfoLevel})
	logger := log.WithComponent("scheduler")
	logger.Info().Str("event_id", ev.ID).Msg("event dispatched")

Background loops log failures and continue; they never terminate the
process on a single bad item.
*/
package log
