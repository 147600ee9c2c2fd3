// internal/reader/route.go
//
// Route naming for read endpoints.
//
// Context
// -------
// Read routes are named `<namespace>.<plugin_id>.<action>`, for example
// `piliskor_qr.gps.read`.  Older callers only hand over that name, so the
// plugin id can still be derived by taking the second dot-separated
// segment.  New callers set RouteContext.PluginID explicitly and the name
// is informational.

package reader

import (
	"errors"
	"strings"
)

// Namespace prefixes every read route name.
const Namespace = "piliskor_qr"

// ErrMalformedRoute means the plugin id could not be derived from a route
// name.  It is a client error and is never retried.
var ErrMalformedRoute = errors.New("reader: malformed route name")

// RouteContext describes the matched route.
type RouteContext struct {
	Name     string            // e.g. "piliskor_qr.gps.read"
	PluginID string            // explicit id; wins over Name when set
	Params   map[string]string // URL params such as "run"
}

// RouteName builds the canonical name for plugin and action.
func RouteName(pluginID, action string) string {
	return Namespace + "." + pluginID + "." + action
}

// PluginID extracts the second segment of a dot-separated route name.  The
// name must have at least three segments and a non-empty second one.
func PluginID(routeName string) (string, error) {
	parts := strings.Split(routeName, ".")
	if len(parts) < 3 || parts[1] == "" {
		return "", ErrMalformedRoute
	}
	return parts[1], nil
}

// Plugin returns the explicit plugin id or derives it from Name.
func (rc RouteContext) Plugin() (string, error) {
	if rc.PluginID != "" {
		return rc.PluginID, nil
	}
	return PluginID(rc.Name)
}
