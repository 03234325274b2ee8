package configuration

import (
	"strings"

	"github.com/gaborage/restbricks/apierr"
	"github.com/gaborage/restbricks/config"
	"github.com/gaborage/restbricks/container"
	"github.com/gaborage/restbricks/events"
	"github.com/gaborage/restbricks/logger"
	"github.com/gaborage/restbricks/response"
	"github.com/gaborage/restbricks/retry"
	"github.com/gaborage/restbricks/routing"
	"github.com/gaborage/restbricks/serialization"
	"github.com/gaborage/restbricks/settings"
	"github.com/gaborage/restbricks/transport"
)

// DefaultContainer returns the base container every consumer scope is
// cloned from.
//
// Shared by all scopes (Unbound singletons): the logger, the route and query
// factories and the default retry policy. Owned per scope (Scoped, Bound):
// the serializer, response handler, event relay and transport client
// factory, so each consumer gets its own connection pool and breaker.
func DefaultContainer(log logger.Logger) *container.Container {
	if log == nil {
		log = logger.Nop()
	}
	c := container.New()

	container.RegisterInstance[logger.Logger](c, log)
	container.RegisterInstance[routing.RouteFactory](c, routing.DefaultRouteFactory{})
	container.RegisterInstance[routing.QueryFactory](c, routing.DefaultQueryFactory{})
	container.RegisterInstance[retry.Policy](c, retry.Default{})

	container.Register(c, newSerializer, container.AsScoped())
	container.Register(c, newResponseHandler, container.AsScoped())
	container.Register(c, newRelay, container.AsScoped())
	container.Register(c, newClientFactory, container.AsScoped())
	return c
}

func newSerializer(r container.Resolver) (serialization.Serializer, error) {
	h, err := container.Resolve[*settings.HandlerConfiguration](r)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(h.ContentType) == "" {
		return serialization.JSON{}, nil
	}
	s, err := serialization.ForContentType(h.ContentType)
	if err != nil {
		return nil, apierr.NewConfigurationError("configuration.serializer", config.KeyContentType,
			"no serializer for "+h.ContentType+", register one with WithSerializer", err)
	}
	return s, nil
}

func newResponseHandler(r container.Resolver) (response.Handler, error) {
	s, err := container.Resolve[serialization.Serializer](r)
	if err != nil {
		return nil, err
	}
	return response.NewHandler(s), nil
}

func newRelay(r container.Resolver) (*events.Relay, error) {
	log, err := container.Resolve[logger.Logger](r)
	if err != nil {
		return nil, err
	}
	listeners, _ := container.TryResolve[[]events.Listener](r)
	return events.NewRelay(log, events.DefaultBufferSize, listeners...), nil
}

func newClientFactory(r container.Resolver) (transport.ClientFactory, error) {
	log, err := container.Resolve[logger.Logger](r)
	if err != nil {
		return nil, err
	}
	h, err := container.Resolve[*settings.HandlerConfiguration](r)
	if err != nil {
		return nil, err
	}

	opts := []transport.FactoryOption{transport.WithDefaultHeaders(h.RequestHeaders)}
	contributed, _ := container.TryResolve[[]clientOption](r)
	for _, contribute := range contributed {
		opt, err := contribute(r)
		if err != nil {
			return nil, err
		}
		opts = append(opts, opt)
	}
	return transport.NewHTTPClientFactory(log, opts...), nil
}
