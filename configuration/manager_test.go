package configuration

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

type Person struct{}

type Order struct{}

type sharedCloser struct {
	closer
}

type closer struct {
	closed atomic.Int32
}

func (c *closer) Close() error {
	c.closed.Add(1)
	return nil
}

func newManager(t *testing.T, reg *Registry) *Manager {
	t.Helper()
	m, err := NewManager(reg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestBuildApiSettings(t *testing.T) {
	reg := NewRegistry()
	AddPreConfiguration[Person](reg, WithHandler(func(h *settings.HandlerConfiguration) {
		h.ResourcePath = "api/"
	}))
	AddConfiguration[Person](reg, WithConnection("http://test.source.com", "resource"))

	m := newManager(t, reg)
	s, err := BuildApiSettings[Person](m)
	require.NoError(t, err)

	assert.Equal(t, "http://test.source.com/api/resource", s.Connection.Source().String())
	assert.Equal(t, settings.DefaultTimeout, s.Connection.Timeout())
	assert.Equal(t, 0, s.Connection.RetryAttempts())
	assert.Equal(t, "person", s.Consumer.Name)
	assert.Equal(t, container.TypeOf[Person](), s.Consumer.Type)
	assert.NotNil(t, s.Resolver)
}

func TestPhasesRunInOrder(t *testing.T) {
	var order []string
	record := func(name string) Action {
		return func(*container.Container) error {
			order = append(order, name)
			return nil
		}
	}

	reg := NewRegistry()
	AddPostConfiguration[Person](reg, record("post"))
	AddConfiguration[Person](reg, WithConnection("http://h.com", "people"), record("main"))
	AddPreConfiguration[Person](reg, record("pre-1"), record("pre-2"))

	m := newManager(t, reg)
	_, err := BuildApiSettings[Person](m)
	require.NoError(t, err)

	assert.Equal(t, []string{"pre-1", "pre-2", "main", "post"}, order)
}

func TestMissingMainConfigurationFailsAtStartup(t *testing.T) {
	reg := NewRegistry()
	AddPreConfiguration[Person](reg, WithHandler(func(*settings.HandlerConfiguration) {}))

	_, err := NewManager(reg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoMainConfiguration)
	assert.True(t, apierr.IsKind(err, apierr.Configuration))
}

func TestFactoryBuildWithoutMainIsFatal(t *testing.T) {
	f := newFactory(container.TypeOf[Person]())
	_, err := f.Build(DefaultContainer(nil))
	assert.ErrorIs(t, err, ErrNoMainConfiguration)
}

func TestUnknownConsumerIsConfigurationError(t *testing.T) {
	m := newManager(t, NewRegistry())

	_, err := BuildApiSettings[Order](m)
	require.Error(t, err)
	assert.True(t, apierr.IsKind(err, apierr.Configuration))
	assert.Equal(t, 1, m.Stats().BuildErrors)
}

func TestMainWithoutConnectionFailsOnBuild(t *testing.T) {
	reg := NewRegistry()
	AddConfiguration[Person](reg, WithHandler(func(*settings.HandlerConfiguration) {}))

	m := newManager(t, reg)
	_, err := BuildApiSettings[Person](m)
	require.Error(t, err)
	assert.ErrorIs(t, err, container.ErrDependencyNotFound)
}

func TestInvalidSettingsFailOnBuild(t *testing.T) {
	reg := NewRegistry()
	AddConfiguration[Person](reg, WithConnection("http://h.com", "people", settings.WithTimeout(0)))

	m := newManager(t, reg)
	_, err := BuildApiSettings[Person](m)
	require.Error(t, err)
	assert.ErrorIs(t, err, &apierr.Error{Kind: apierr.Validation})
}

func TestUnsupportedContentTypeFailsOnBuild(t *testing.T) {
	reg := NewRegistry()
	AddConfiguration[Person](reg,
		WithConnection("http://h.com", "people"),
		WithHandler(func(h *settings.HandlerConfiguration) { h.ContentType = "application/xml" }),
	)

	m := newManager(t, reg)
	_, err := BuildApiSettings[Person](m)
	require.Error(t, err)
	assert.ErrorIs(t, err, serialization.ErrUnsupportedContentType)
	assert.True(t, apierr.IsKind(err, apierr.Configuration))
	assert.Contains(t, err.Error(), "application/xml")
}

func TestCustomSerializerAcceptsAnyContentType(t *testing.T) {
	reg := NewRegistry()
	AddConfiguration[Person](reg,
		WithConnection("http://h.com", "people"),
		WithHandler(func(h *settings.HandlerConfiguration) { h.ContentType = "application/xml" }),
	)
	AddPostConfiguration[Person](reg, WithSerializer(serialization.CBOR{}))

	m := newManager(t, reg)
	s, err := BuildApiSettings[Person](m)
	require.NoError(t, err)
	assert.Equal(t, "application/xml", s.Handler.ContentType)
}

func TestEmptyContentTypeDefaultsToJSON(t *testing.T) {
	reg := NewRegistry()
	AddConfiguration[Person](reg,
		WithConnection("http://h.com", "people"),
		WithHandler(func(h *settings.HandlerConfiguration) { h.ContentType = "" }),
	)

	m := newManager(t, reg)
	s, err := BuildApiSettings[Person](m)
	require.NoError(t, err)
	ser, err := container.Resolve[serialization.Serializer](s.Resolver)
	require.NoError(t, err)
	assert.Equal(t, serialization.ContentTypeJSON, ser.ContentType())
}

func TestActionErrorAbortsBuild(t *testing.T) {
	boom := errors.New("boom")
	reg := NewRegistry()
	AddConfiguration[Person](reg,
		WithConnection("http://h.com", "people"),
		func(*container.Container) error { return boom },
	)

	m := newManager(t, reg)
	_, err := BuildApiSettings[Person](m)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "main action #2 failed")
}

func TestConcurrentFirstUseBuildsOneScope(t *testing.T) {
	var builds atomic.Int32
	reg := NewRegistry()
	AddConfiguration[Person](reg,
		WithConnection("http://h.com", "people"),
		func(*container.Container) error {
			builds.Add(1)
			time.Sleep(20 * time.Millisecond)
			return nil
		},
	)
	m := newManager(t, reg)

	const callers = 32
	scopes := make([]*Scope, callers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			s, err := ScopeOf[Person](m)
			if assert.NoError(t, err) {
				scopes[i] = s
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), builds.Load())
	for _, s := range scopes {
		assert.Same(t, scopes[0], s)
	}
	assert.Equal(t, 1, m.Stats().Builds)
	assert.Equal(t, 1, m.Stats().ActiveScopes)
}

func TestScopesAreIsolated(t *testing.T) {
	reg := NewRegistry()
	AddConfiguration[Person](reg, WithConnection("http://h.com", "people"))
	AddConfiguration[Order](reg, WithConnection("http://h.com", "orders"))
	m := newManager(t, reg)

	people, err := BuildApiSettings[Person](m)
	require.NoError(t, err)
	orders, err := BuildApiSettings[Order](m)
	require.NoError(t, err)

	pf, err := container.Resolve[transport.ClientFactory](people.Resolver)
	require.NoError(t, err)
	of, err := container.Resolve[transport.ClientFactory](orders.Resolver)
	require.NoError(t, err)
	assert.NotSame(t, pf, of)

	again, err := container.Resolve[transport.ClientFactory](people.Resolver)
	require.NoError(t, err)
	assert.Same(t, pf, again)

	pl, err := container.Resolve[logger.Logger](people.Resolver)
	require.NoError(t, err)
	ol, err := container.Resolve[logger.Logger](orders.Resolver)
	require.NoError(t, err)
	assert.Same(t, pl, ol, "logger is shared")
}

func TestHandlerCopyDoesNotLeakIntoScope(t *testing.T) {
	reg := NewRegistry()
	AddConfiguration[Person](reg, WithConnection("http://h.com", "people"))
	m := newManager(t, reg)

	s, err := BuildApiSettings[Person](m)
	require.NoError(t, err)
	s.Handler.ThrowExceptions = true

	again, err := BuildApiSettings[Person](m)
	require.NoError(t, err)
	assert.False(t, again.Handler.ThrowExceptions)
}

func TestOnScopeInitializedUsesThrowawayScope(t *testing.T) {
	owned := &closer{}
	var initCalls int

	reg := NewRegistry()
	AddConfiguration[Person](reg,
		WithConnection("http://h.com", "people"),
		func(c *container.Container) error {
			container.Register(c, func(container.Resolver) (*closer, error) { return owned, nil }, container.AsScoped())
			return nil
		},
	)
	OnScopeInitialized[Person](reg, func(r container.Resolver) error {
		initCalls++
		_, err := container.Resolve[*closer](r)
		return err
	})
	m := newManager(t, reg)

	_, err := BuildApiSettings[Person](m)
	require.NoError(t, err)
	_, err = BuildApiSettings[Person](m)
	require.NoError(t, err)

	assert.Equal(t, 1, initCalls)
	assert.Equal(t, int32(1), owned.closed.Load(), "child scope closed after the callback")
}

func TestCloseDisposesScopes(t *testing.T) {
	owned := &closer{}
	shared := &sharedCloser{}

	reg := NewRegistry()
	AddConfiguration[Person](reg,
		WithConnection("http://h.com", "people"),
		func(c *container.Container) error {
			container.Register(c, func(container.Resolver) (*closer, error) { return owned, nil })
			container.RegisterInstance(c, shared)
			return nil
		},
	)
	m, err := NewManager(reg)
	require.NoError(t, err)

	scope, err := ScopeOf[Person](m)
	require.NoError(t, err)
	_, err = container.Resolve[*closer](scope.Resolver())
	require.NoError(t, err)
	_, err = container.Resolve[*sharedCloser](scope.Resolver())
	require.NoError(t, err)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	assert.Equal(t, int32(1), owned.closed.Load())
	assert.Equal(t, int32(0), shared.closed.Load())

	_, err = BuildApiSettings[Person](m)
	assert.ErrorIs(t, err, ErrManagerClosed)
	assert.ErrorIs(t, m.AddProvider(ProviderFunc(func(*Registry) error { return nil })), ErrManagerClosed)
}

func TestProvidersAreAppliedOnceAndCanBeAddedLater(t *testing.T) {
	var applied int
	reg := NewRegistry(ProviderFunc(func(r *Registry) error {
		applied++
		AddConfiguration[Person](r, WithConnection("http://h.com", "people"))
		return nil
	}))
	m := newManager(t, reg)
	assert.Equal(t, 1, applied)

	_, err := BuildApiSettings[Order](m)
	require.Error(t, err)

	require.NoError(t, m.AddProvider(ProviderFunc(func(r *Registry) error {
		For[Order](r).Named("orders").Configure(WithConnection("http://h.com", "orders"))
		return nil
	})))
	assert.Equal(t, 1, applied)

	s, err := BuildApiSettings[Order](m)
	require.NoError(t, err)
	assert.Equal(t, "orders", s.Consumer.Name)
	assert.Equal(t, []reflect.Type{container.TypeOf[Order](), container.TypeOf[Person]()}, reg.Consumers())
}

func TestProviderAddingInvalidConsumerFails(t *testing.T) {
	m := newManager(t, NewRegistry())

	err := m.AddProvider(ProviderFunc(func(r *Registry) error {
		For[Order](r)
		return nil
	}))
	assert.ErrorIs(t, err, ErrNoMainConfiguration)
}

func TestFromConfig(t *testing.T) {
	cfg, err := config.Load(config.WithoutEnv(), config.WithYAML([]byte(`
consumers:
  people:
    baseaddress: http://test.source.com
    resource: resource
    resourcepath: api/
    timeout: 5
    retryattempts: 2
    throwexceptions: true
    contenttype: application/cbor
    headers:
      X-Tenant: acme
`)))
	require.NoError(t, err)

	reg := NewRegistry()
	AddConfiguration[Person](reg, FromConfig(cfg, "people"))
	m := newManager(t, reg)

	s, err := BuildApiSettings[Person](m)
	require.NoError(t, err)
	assert.Equal(t, "people", s.Consumer.Name)
	assert.Equal(t, "http://test.source.com/api/resource", s.Connection.Source().String())
	assert.Equal(t, 5*time.Second, s.Connection.Timeout())
	assert.Equal(t, 2, s.Connection.RetryAttempts())
	assert.True(t, s.Handler.ThrowExceptions)
	assert.Equal(t, "acme", s.Handler.RequestHeaders["X-Tenant"])

	ser, err := container.Resolve[serialization.Serializer](s.Resolver)
	require.NoError(t, err)
	assert.Equal(t, serialization.ContentTypeCBOR, ser.ContentType())
}

func TestFromConfigMissingSection(t *testing.T) {
	cfg, err := config.Load(config.WithoutEnv())
	require.NoError(t, err)

	reg := NewRegistry()
	AddConfiguration[Person](reg, FromConfig(cfg, "people"))
	m := newManager(t, reg)

	_, err = BuildApiSettings[Person](m)
	assert.True(t, config.IsNotConfigured(err))
}

type stubHandler struct{ response.Handler }

func TestCollaboratorOverrides(t *testing.T) {
	factory := transport.ClientFactoryFunc(func(context.Context) (transport.Client, error) { return nil, nil })
	handler := stubHandler{}
	policy := retry.Exponential{Base: time.Millisecond}

	reg := NewRegistry()
	AddConfiguration[Person](reg, WithConnection("http://h.com", "people"))
	AddPostConfiguration[Person](reg,
		WithClientFactory(factory),
		WithResponseHandler(handler),
		WithRetryPolicy(policy),
		WithSerializer(serialization.CBOR{}),
	)
	m := newManager(t, reg)
	s, err := BuildApiSettings[Person](m)
	require.NoError(t, err)

	gotFactory, err := container.Resolve[transport.ClientFactory](s.Resolver)
	require.NoError(t, err)
	assert.NotNil(t, gotFactory)
	_, isDefault := gotFactory.(*transport.HTTPClientFactory)
	assert.False(t, isDefault)

	gotHandler, err := container.Resolve[response.Handler](s.Resolver)
	require.NoError(t, err)
	assert.Equal(t, handler, gotHandler)

	gotPolicy, err := container.Resolve[retry.Policy](s.Resolver)
	require.NoError(t, err)
	assert.Equal(t, policy, gotPolicy)

	gotSerializer, err := container.Resolve[serialization.Serializer](s.Resolver)
	require.NoError(t, err)
	assert.Equal(t, serialization.ContentTypeCBOR, gotSerializer.ContentType())
}

func TestEventListenersReachTheRelay(t *testing.T) {
	got := make(chan events.Event, 1)
	reg := NewRegistry()
	AddConfiguration[Person](reg, WithConnection("http://h.com", "people"))
	AddPostConfiguration[Person](reg, WithEventListener(func(e events.Event) { got <- e }))
	m := newManager(t, reg)

	s, err := BuildApiSettings[Person](m)
	require.NoError(t, err)
	relay, err := container.Resolve[*events.Relay](s.Resolver)
	require.NoError(t, err)

	relay.Publish(events.Event{Type: events.RequestStarted, Consumer: "person"})
	select {
	case e := <-got:
		assert.Equal(t, events.RequestStarted, e.Type)
	case <-time.After(time.Second):
		t.Fatal("listener not called")
	}
}

func TestAuthorizerIsBoundToScope(t *testing.T) {
	reg := NewRegistry()
	AddConfiguration[Person](reg, WithConnection("http://h.com", "people"))
	AddPostConfiguration[Person](reg,
		WithAuthorizer(auth.TokenSourceFunc(func(context.Context) (*auth.Token, error) {
			return &auth.Token{AccessToken: "abc", ExpiresIn: time.Hour}, nil
		})),
		WithCircuitBreaker(transport.CircuitBreakerSettings{}),
		WithRateLimit(100, 10),
	)
	m, err := NewManager(reg)
	require.NoError(t, err)

	s, err := BuildApiSettings[Person](m)
	require.NoError(t, err)
	_, err = container.Resolve[transport.ClientFactory](s.Resolver)
	require.NoError(t, err)
	a, err := container.Resolve[*auth.Authorizer](s.Resolver)
	require.NoError(t, err)

	tok, err := a.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", tok.AccessToken)

	require.NoError(t, m.Close())
	_, err = a.Token(context.Background())
	assert.ErrorIs(t, err, auth.ErrAuthorizerClosed)
}
