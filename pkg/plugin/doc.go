/*
Package plugin defines the resource-plugin contract and registry.

A Plugin implements allocation search and provisioning actions for one
resource type. The Registry maps resource-type tags to plugins, resolved
once at startup; looking up an unregistered tag yields a stable
"unsupported resource type" error so a reservation can never silently
bind to nothing.

Values is the generic parameter bag a reservation request carries; each
plugin validates its own required keys and value shapes, reporting
MissingParameter / MalformedParameter / InvalidRange kinds before any
allocation work happens.

The in-tree host plugin lives in the host subpackage.
*/
package plugin
