package configuration

import (
	"slices"

	"golang.org/x/time/rate"

	"github.com/gaborage/restbricks/apierr"
	"github.com/gaborage/restbricks/auth"
	"github.com/gaborage/restbricks/config"
	"github.com/gaborage/restbricks/container"
	"github.com/gaborage/restbricks/events"
	"github.com/gaborage/restbricks/logger"
	"github.com/gaborage/restbricks/response"
	"github.com/gaborage/restbricks/retry"
	"github.com/gaborage/restbricks/serialization"
	"github.com/gaborage/restbricks/settings"
	"github.com/gaborage/restbricks/transport"
)

// clientOption contributes a transport option once the scope resolves its
// client factory.
type clientOption func(r container.Resolver) (transport.FactoryOption, error)

// WithConnection registers the consumer's ConnectionSettings. Values not
// given in opts come from the consumer's HandlerConfiguration as it stands
// after all phases ran.
func WithConnection(baseAddress, resource string, opts ...settings.Option) Action {
	return func(c *container.Container) error {
		container.Register(c, func(r container.Resolver) (*settings.ConnectionSettings, error) {
			h, err := container.Resolve[*settings.HandlerConfiguration](r)
			if err != nil {
				return nil, err
			}
			return h.NewConnectionSettings(baseAddress, resource, opts...)
		})
		return nil
	}
}

// WithConnectionSettings registers already built settings.
func WithConnectionSettings(s *settings.ConnectionSettings) Action {
	return func(c *container.Container) error {
		if s == nil {
			return apierr.NewConfigurationError("configuration.with_connection_settings", "ConnectionSettings", "cannot be nil", nil)
		}
		container.RegisterInstance(c, s)
		return nil
	}
}

// WithHandler changes the consumer's HandlerConfiguration.
func WithHandler(fn func(h *settings.HandlerConfiguration)) Action {
	return func(c *container.Container) error {
		h, err := container.Resolve[*settings.HandlerConfiguration](c)
		if err != nil {
			return err
		}
		fn(h)
		return nil
	}
}

// WithBag applies a string-keyed configuration bag to the consumer's
// HandlerConfiguration.
func WithBag(b config.Bag) Action {
	return func(c *container.Container) error {
		h, err := container.Resolve[*settings.HandlerConfiguration](c)
		if err != nil {
			return err
		}
		return h.Apply(b)
	}
}

// WithName renames the consumer in logs, metrics and events.
func WithName(name string) Action {
	return func(c *container.Container) error {
		consumer, err := container.Resolve[Consumer](c)
		if err != nil {
			return err
		}
		if name != "" {
			consumer.Name = name
		}
		container.RegisterInstance(c, consumer)
		return nil
	}
}

// FromConfig configures the consumer from the consumers.<name> section:
// name, handler defaults, connection and, when an auth block is present, a
// client-credentials authorizer.
func FromConfig(cfg *config.Config, name string) Action {
	return func(c *container.Container) error {
		cc, err := cfg.Consumer(name)
		if err != nil {
			return err
		}

		actions := []Action{
			WithName(cc.Name),
			WithBag(cc.Bag()),
			WithConnection(cc.BaseAddress, cc.Resource),
		}
		if cc.Auth != nil {
			actions = append(actions, WithAuthorizer(&auth.ClientCredentials{
				TokenURL:     cc.Auth.TokenURL,
				ClientID:     cc.Auth.ClientID,
				ClientSecret: cc.Auth.ClientSecret,
				Scopes:       cc.Auth.Scopes,
			}, auth.WithAutoRenew(cc.Auth.AutoRenew)))
		}

		for _, action := range actions {
			if err := action(c); err != nil {
				return err
			}
		}
		return nil
	}
}

// WithClientFactory replaces the transport client factory. The caller owns
// f; the scope never closes it.
func WithClientFactory(f transport.ClientFactory) Action {
	return func(c *container.Container) error {
		container.RegisterInstance(c, f)
		return nil
	}
}

// WithSerializer replaces the body serializer.
func WithSerializer(s serialization.Serializer) Action {
	return func(c *container.Container) error {
		container.RegisterInstance(c, s)
		return nil
	}
}

// WithResponseHandler replaces the response handler.
func WithResponseHandler(h response.Handler) Action {
	return func(c *container.Container) error {
		container.RegisterInstance(c, h)
		return nil
	}
}

// WithRetryPolicy replaces the retry policy.
func WithRetryPolicy(p retry.Policy) Action {
	return func(c *container.Container) error {
		container.RegisterInstance(c, p)
		return nil
	}
}

// WithEventListener subscribes l to the consumer's lifecycle events.
func WithEventListener(l events.Listener) Action {
	return func(c *container.Container) error {
		if l != nil {
			appendTo(c, l)
		}
		return nil
	}
}

// WithAuthorizer caches tokens from source and sends them as bearer
// credentials on every request. The authorizer is closed with the scope.
func WithAuthorizer(source auth.TokenSource, opts ...auth.Option) Action {
	return func(c *container.Container) error {
		container.Register(c, func(r container.Resolver) (*auth.Authorizer, error) {
			all := opts
			if log, ok := container.TryResolve[logger.Logger](r); ok {
				all = append([]auth.Option{auth.WithLogger(log)}, opts...)
			}
			return auth.NewAuthorizer(source, all...), nil
		})
		appendTo(c, clientOption(func(r container.Resolver) (transport.FactoryOption, error) {
			a, err := container.Resolve[*auth.Authorizer](r)
			if err != nil {
				return nil, err
			}
			return transport.WithRequestInterceptor(a.Interceptor()), nil
		}))
		return nil
	}
}

// WithCircuitBreaker guards the consumer's transport with a circuit
// breaker. An empty name defaults to the consumer name.
func WithCircuitBreaker(s transport.CircuitBreakerSettings) Action {
	return func(c *container.Container) error {
		appendTo(c, clientOption(func(r container.Resolver) (transport.FactoryOption, error) {
			cs := s
			if cs.Name == "" {
				if consumer, ok := container.TryResolve[Consumer](r); ok {
					cs.Name = consumer.Name
				}
			}
			return transport.WithCircuitBreaker(cs), nil
		}))
		return nil
	}
}

// WithRateLimit caps the consumer's outgoing request rate.
func WithRateLimit(limit rate.Limit, burst int) Action {
	return func(c *container.Container) error {
		return WithClientOption(transport.WithRateLimit(limit, burst))(c)
	}
}

// WithClientOption passes opt to the default client factory.
func WithClientOption(opt transport.FactoryOption) Action {
	return func(c *container.Container) error {
		appendTo(c, clientOption(func(container.Resolver) (transport.FactoryOption, error) {
			return opt, nil
		}))
		return nil
	}
}

// appendTo re-registers the []T collection of c with item appended.
func appendTo[T any](c *container.Container, item T) {
	existing, _ := container.TryResolve[[]T](c)
	items := append(slices.Clip(existing), item)
	container.Register(c, func(container.Resolver) ([]T, error) {
		return items, nil
	}, container.AsTransient(), container.AsUnbound())
}
