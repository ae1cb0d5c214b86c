/*
Package filter implements the capability property-filter grammar used to
match reservations against inventoried resources.

An expression is "<key> <op> <value>" with operators <, <=, >, >=, ==, !=
and in (comma-separated candidate list). Values compare numerically when
both sides parse as numbers, lexically otherwise.

	ok, err := filter.MatchAll(
		[]string{"memory_mb >= 2048", "rack in r1,r2"},
		host.Capabilities(),
	)

Parse failures carry the MalformedParameter error kind so they are
rejected before any allocation work happens.
*/
package filter
