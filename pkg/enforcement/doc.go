/*
Package enforcement runs pluggable usage-policy checks before lease
operations commit.

A Chain holds independent filters and consults them in registration
order at create, update and end of a lease. Filters see a formatted
lease embedding each reservation's concrete allocations. The first
NotAuthorized veto aborts the operation before anything is persisted;
end notifications are best effort since the lease leaves regardless.

Shipped filters: MaxLeaseDuration (duration cap with project exemptions)
and ExternalService (HTTP delegation to a budget/authorization service).
Both are constructed explicitly and injected into the manager; there is
no global enforcement state.
*/
package enforcement
