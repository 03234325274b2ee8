// Package routing builds request URLs: the route from a consumer's source
// and an endpoint, and query strings from plain Go values.
package routing

import (
	"net/url"
	"strings"

	"github.com/gaborage/restbricks/apierr"
)

const opBuildRoute = "routing.build_route"

// RouteFactory turns a consumer source, an endpoint and a query string into
// the URL of one call.
type RouteFactory interface {
	BuildRoute(resource, endpoint, query string) (*url.URL, error)
}

// DefaultRouteFactory appends the endpoint to the source with a single
// slash and merges the query into any query the endpoint already carries.
// Absolute endpoints replace the source.
type DefaultRouteFactory struct{}

var _ RouteFactory = DefaultRouteFactory{}

// BuildRoute implements RouteFactory.
func (DefaultRouteFactory) BuildRoute(resource, endpoint, query string) (*url.URL, error) {
	endpoint = strings.TrimSpace(endpoint)
	query = strings.TrimPrefix(strings.TrimSpace(query), "?")

	var raw string
	switch {
	case isAbsolute(endpoint):
		raw = endpoint
	case endpoint == "" || strings.HasPrefix(endpoint, "?"):
		raw = resource + endpoint
	default:
		raw = strings.TrimSuffix(resource, "/") + "/" + strings.TrimPrefix(endpoint, "/")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, apierr.NewValidationError(opBuildRoute, "endpoint", "invalid route "+raw+": "+err.Error())
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, apierr.NewValidationError(opBuildRoute, "resource", "route "+raw+" is not absolute")
	}

	if query != "" {
		if u.RawQuery == "" {
			u.RawQuery = query
		} else {
			u.RawQuery += "&" + query
		}
	}
	return u, nil
}

func isAbsolute(endpoint string) bool {
	u, err := url.Parse(endpoint)
	return err == nil && u.Scheme != "" && u.Host != ""
}
