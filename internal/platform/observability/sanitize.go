package observability

import (
	"net/http"
	"unicode"

	"github.com/go-chi/chi/v5"
)

const (
	routeLimit     = 180
	methodLimit    = 10
	actorLimit     = 128
	remoteLimit    = 64
	idLimit        = 128
	unmatchedRoute = "unmatched"
)

// clean drops control characters and caps value at limit runes. Header-derived values pass through
// here before reaching log lines or metric labels.
func clean(value string, limit int) string {
	out := make([]rune, 0, min(len(value), limit))
	for _, r := range value {
		if len(out) == limit {
			break
		}
		if unicode.IsControl(r) {
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

// metricRoute is the route label for request metrics. Paths no route matched share one label so
// arbitrary URLs cannot grow the series count.
func metricRoute(r *http.Request) string {
	if ctx := chi.RouteContext(r.Context()); ctx != nil {
		if pattern := ctx.RoutePattern(); pattern != "" {
			return clean(pattern, routeLimit)
		}
	}
	return unmatchedRoute
}
