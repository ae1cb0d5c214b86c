package plugin

import (
	"context"
	"sort"
	"time"

	"github.com/corralproject/corral/pkg/errdefs"
	"github.com/corralproject/corral/pkg/interval"
	"github.com/corralproject/corral/pkg/types"
)

// Values carries the resource-type-specific parameters of a reservation
// request (e.g. host count range and property filters for the host
// plugin). Each plugin validates its own required keys.
type Values map[string]any

// UpdateRequest describes a reservation update delta for a plugin. The
// windows come from the owning lease: OldWindow is what the reservation
// currently holds, NewWindow what it should hold after the update. Values
// holds the plugin-specific parameters to change; keys absent from Values
// keep their current setting.
type UpdateRequest struct {
	Values    Values
	OldWindow interval.Period
	NewWindow interval.Period
}

// HealResult reports the outcome of healing one reservation away from a
// failed resource unit. Outcomes are independent per reservation.
type HealResult struct {
	ReservationID    string
	LeaseID          string
	Healed           bool // A replacement unit was found and swapped in
	MissingResources bool // Not started yet and no replacement capacity
	ResourcesChanged bool // Active and its live resource set changed
}

// Plugin is the strategy contract one resource type implements:
// allocation search, reservation lifecycle, and provisioning actions
// against the external backend.
type Plugin interface {
	// ResourceType returns the tag reservations use to select this plugin
	ResourceType() string

	// ReserveResource validates values, finds qualifying resource units
	// for the lease window and persists one allocation per selected unit.
	// It returns the plugin's detail-record id, stored on the reservation
	// as its resource id.
	ReserveResource(ctx context.Context, reservationID string, lease *types.Lease, values Values) (string, error)

	// UpdateReservation recomputes allocations for the delta only. When
	// the new window or parameters cannot be satisfied it returns
	// ErrNotEnoughResources and leaves existing allocations untouched.
	UpdateReservation(ctx context.Context, reservationID string, req UpdateRequest) error

	// OnStart performs the start-of-lease provisioning side effect
	OnStart(ctx context.Context, resourceID string) error

	// BeforeEnd performs the configured lead-time action (e.g. snapshot)
	BeforeEnd(ctx context.Context, resourceID string) error

	// OnEnd tears down provisioning state and releases the allocations.
	// It tolerates repeated calls and "already gone" backend responses.
	OnEnd(ctx context.Context, resourceID string) error

	// HealReservations reallocates reservations bound to the failed
	// units whose windows overlap the given one, flagging reservations
	// that cannot be satisfied instead of failing the pass.
	HealReservations(ctx context.Context, failedResourceIDs []string, window interval.Period) ([]HealResult, error)
}

// Registry maps resource-type tags to loaded plugins. It is populated
// once at startup and read-only afterwards.
type Registry struct {
	plugins map[string]Plugin
}

// NewRegistry creates an empty plugin registry
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Plugin)}
}

// Register adds a plugin, rejecting duplicate resource types
func (r *Registry) Register(p Plugin) error {
	tag := p.ResourceType()
	if _, ok := r.plugins[tag]; ok {
		return errdefs.Conflict("plugin for resource type %q", tag)
	}
	r.plugins[tag] = p
	return nil
}

// Get resolves a resource-type tag to its plugin. Unregistered tags are
// an error: a reservation naming one is invalid.
func (r *Registry) Get(resourceType string) (Plugin, error) {
	p, ok := r.plugins[resourceType]
	if !ok {
		return nil, errdefs.InvalidInput("unsupported resource type %q", resourceType)
	}
	return p, nil
}

// ResourceTypes returns the registered tags in sorted order
func (r *Registry) ResourceTypes() []string {
	tags := make([]string, 0, len(r.plugins))
	for tag := range r.plugins {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Int extracts an integer value. ok is false when the key is absent;
// present values that are not whole numbers are malformed.
func (v Values) Int(key string) (int, bool, error) {
	raw, ok := v[key]
	if !ok {
		return 0, false, nil
	}
	switch n := raw.(type) {
	case int:
		return n, true, nil
	case int64:
		return int(n), true, nil
	case float64:
		if n != float64(int(n)) {
			return 0, true, errdefs.MalformedParameter("%s: %v is not an integer", key, raw)
		}
		return int(n), true, nil
	default:
		return 0, true, errdefs.MalformedParameter("%s: %v is not an integer", key, raw)
	}
}

// String extracts a string value
func (v Values) String(key string) (string, bool, error) {
	raw, ok := v[key]
	if !ok {
		return "", false, nil
	}
	s, isStr := raw.(string)
	if !isStr {
		return "", true, errdefs.MalformedParameter("%s: %v is not a string", key, raw)
	}
	return s, true, nil
}

// StringSlice extracts a list of strings, accepting a bare string as a
// one-element list.
func (v Values) StringSlice(key string) ([]string, bool, error) {
	raw, ok := v[key]
	if !ok {
		return nil, false, nil
	}
	switch list := raw.(type) {
	case string:
		return []string{list}, true, nil
	case []string:
		return list, true, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, isStr := item.(string)
			if !isStr {
				return nil, true, errdefs.MalformedParameter("%s: %v is not a string", key, item)
			}
			out = append(out, s)
		}
		return out, true, nil
	default:
		return nil, true, errdefs.MalformedParameter("%s: %v is not a string list", key, raw)
	}
}

// Duration extracts a duration given in minutes
func (v Values) Duration(key string) (time.Duration, bool, error) {
	n, ok, err := v.Int(key)
	if err != nil || !ok {
		return 0, ok, err
	}
	return time.Duration(n) * time.Minute, true, nil
}
