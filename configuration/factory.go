// Package configuration builds one isolated dependency scope per consumer
// type and caches it for the life of the process.
//
// Each consumer type has a Factory holding ordered pre, main and post
// Actions. Building a scope clones the shared base container, runs pre
// actions (infrastructure defaults), main actions (identity such as the base
// address, at least one is required) and post actions (cross-cutting
// extensions), then runs on-initialization callbacks against a throwaway
// child scope.
//
// Factories live in an explicit Registry handed to NewManager:
//
//	reg := configuration.NewRegistry()
//	configuration.AddConfiguration[People](reg,
//	    configuration.WithConnection("https://api.example.com", "people"),
//	)
//	m, err := configuration.NewManager(reg)
//	s, err := configuration.BuildApiSettings[People](m)
package configuration

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gaborage/restbricks/apierr"
	"github.com/gaborage/restbricks/container"
	"github.com/gaborage/restbricks/serialization"
	"github.com/gaborage/restbricks/settings"
)

// ErrNoMainConfiguration is wrapped by the error returned when a consumer
// type has no main action.
var ErrNoMainConfiguration = errors.New("no main configuration registered")

const opBuild = "configuration.build"

// Action configures the container of one consumer scope while it is built.
type Action func(c *container.Container) error

// InitCallback runs once after a scope is built. r is a child scope that is
// closed as soon as the callback returns; instances resolved through it
// must not be retained.
type InitCallback func(r container.Resolver) error

// Consumer identifies the consumer type a scope belongs to.
type Consumer struct {
	Type reflect.Type
	Name string
}

// Factory holds the configuration of one consumer type. It is safe for
// concurrent use; actions added after the scope is built have no effect on
// the cached scope.
type Factory struct {
	consumer reflect.Type

	mu     sync.Mutex
	name   string
	pre    []Action
	main   []Action
	post   []Action
	onInit []InitCallback
}

func newFactory(t reflect.Type) *Factory {
	return &Factory{consumer: t, name: defaultName(t)}
}

// Consumer returns the consumer type.
func (f *Factory) Consumer() reflect.Type { return f.consumer }

// Named sets the consumer name used in logs, metrics and events.
func (f *Factory) Named(name string) *Factory {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name != "" {
		f.name = name
	}
	return f
}

// Pre appends pre actions.
func (f *Factory) Pre(actions ...Action) *Factory {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pre = appendActions(f.pre, actions)
	return f
}

// Configure appends main actions.
func (f *Factory) Configure(actions ...Action) *Factory {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.main = appendActions(f.main, actions)
	return f
}

// Post appends post actions.
func (f *Factory) Post(actions ...Action) *Factory {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.post = appendActions(f.post, actions)
	return f
}

// OnInitialized appends on-initialization callbacks.
func (f *Factory) OnInitialized(callbacks ...InitCallback) *Factory {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, cb := range callbacks {
		if cb != nil {
			f.onInit = append(f.onInit, cb)
		}
	}
	return f
}

// HasMain reports whether at least one main action is registered.
func (f *Factory) HasMain() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.main) > 0
}

type phase struct {
	name    string
	actions []Action
}

// Build clones base and runs every phase against the clone. The returned
// scope owns the clone.
func (f *Factory) Build(base *container.Container) (*Scope, error) {
	f.mu.Lock()
	consumer := Consumer{Type: f.consumer, Name: f.name}
	phases := []phase{
		{name: "pre", actions: slices.Clone(f.pre)},
		{name: "main", actions: slices.Clone(f.main)},
		{name: "post", actions: slices.Clone(f.post)},
	}
	onInit := slices.Clone(f.onInit)
	f.mu.Unlock()

	typeName := container.TypeName(f.consumer)
	if len(phases[1].actions) == 0 {
		return nil, apierr.NewConfigurationError(opBuild, typeName, "cannot build scope", ErrNoMainConfiguration)
	}

	c := base.Clone()
	container.RegisterInstance(c, consumer)
	container.RegisterInstance(c, settings.DefaultHandlerConfiguration())

	for _, p := range phases {
		for i, action := range p.actions {
			if err := action(c); err != nil {
				_ = c.Close()
				return nil, apierr.NewConfigurationError(opBuild, typeName,
					fmt.Sprintf("%s action #%d failed", p.name, i+1), err)
			}
		}
	}

	// Actions may have renamed the consumer.
	if named, err := container.Resolve[Consumer](c); err == nil {
		consumer = named
	}
	scope := &Scope{consumer: consumer, container: c, builtAt: time.Now()}

	// Surface missing connection settings and invalid values now, not on
	// the first call.
	if _, err := scope.Settings(); err != nil {
		_ = c.Close()
		return nil, err
	}

	// The serializer depends on the configured content type.
	if c.Has(reflect.TypeFor[serialization.Serializer]()) {
		if _, err := container.Resolve[serialization.Serializer](c); err != nil {
			_ = c.Close()
			return nil, err
		}
	}

	for _, cb := range onInit {
		if err := runInit(c, cb); err != nil {
			_ = c.Close()
			return nil, apierr.NewConfigurationError(opBuild, typeName, "initialization callback failed", err)
		}
	}
	return scope, nil
}

func runInit(c *container.Container, cb InitCallback) error {
	child := c.BeginScope()
	defer child.Close()
	return cb(child)
}

func appendActions(dst, actions []Action) []Action {
	for _, a := range actions {
		if a != nil {
			dst = append(dst, a)
		}
	}
	return dst
}

// defaultName lowercases the type name: Person becomes "person".
func defaultName(t reflect.Type) string {
	if t.Name() != "" {
		return strings.ToLower(t.Name())
	}
	return t.String()
}
