/*
Package notify provides the in-memory notification broker for Corral's
lease lifecycle messages.

The broker fans out a fixed Notification payload (lease id, owner,
project, start/end dates) to subscriber channels after successful
create/update/delete operations and after each lifecycle event executes.
Publishing never blocks the caller: slow subscribers simply miss
notifications once their buffer fills.

	broker := notify.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	broker.Publish(notify.FromLease(notify.LeaseCreated, lease))
*/
package notify
