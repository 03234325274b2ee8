package configuration

import (
	"cmp"
	"errors"
	"reflect"
	"slices"
	"sync"

	"github.com/gaborage/restbricks/apierr"
	"github.com/gaborage/restbricks/container"
)

// Provider contributes consumer configuration to a Registry. Providers are
// registered explicitly and applied once by the Manager.
type Provider interface {
	Configure(r *Registry) error
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(r *Registry) error

// Configure implements Provider.
func (f ProviderFunc) Configure(r *Registry) error { return f(r) }

// Registry maps consumer types to their factories.
type Registry struct {
	mu        sync.Mutex
	factories map[reflect.Type]*Factory
	pending   []Provider
}

// NewRegistry creates a registry; providers are applied by the Manager.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{factories: make(map[reflect.Type]*Factory)}
	for _, p := range providers {
		r.AddProvider(p)
	}
	return r
}

// AddProvider queues p. It is applied by NewManager or Manager.AddProvider.
func (r *Registry) AddProvider(p Provider) {
	if p == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, p)
}

// Factory returns the factory for t, creating it when missing.
func (r *Registry) Factory(t reflect.Type) *Factory {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.factories[t]
	if !ok {
		f = newFactory(t)
		r.factories[t] = f
	}
	return f
}

// Lookup returns the factory for t if one was registered.
func (r *Registry) Lookup(t reflect.Type) (*Factory, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.factories[t]
	return f, ok
}

// Consumers lists the registered consumer types sorted by name.
func (r *Registry) Consumers() []reflect.Type {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]reflect.Type, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b reflect.Type) int {
		return cmp.Compare(container.TypeName(a), container.TypeName(b))
	})
	return out
}

// Validate reports every consumer type without a main action.
func (r *Registry) Validate() error {
	var errs []error
	for _, t := range r.Consumers() {
		f, _ := r.Lookup(t)
		if !f.HasMain() {
			errs = append(errs, apierr.NewConfigurationError("configuration.validate",
				container.TypeName(t), "consumer cannot be built", ErrNoMainConfiguration))
		}
	}
	return errors.Join(errs...)
}

// applyPending runs the queued providers outside the lock, since providers
// call back into the registry.
func (r *Registry) applyPending() error {
	r.mu.Lock()
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()

	for _, p := range pending {
		if err := p.Configure(r); err != nil {
			return apierr.NewConfigurationError("configuration.provider", "", "provider failed", err)
		}
	}
	return nil
}

// For returns the factory of consumer type T.
func For[T any](r *Registry) *Factory {
	return r.Factory(container.TypeOf[T]())
}

// AddPreConfiguration appends pre actions for T.
func AddPreConfiguration[T any](r *Registry, actions ...Action) *Factory {
	return For[T](r).Pre(actions...)
}

// AddConfiguration appends main actions for T.
func AddConfiguration[T any](r *Registry, actions ...Action) *Factory {
	return For[T](r).Configure(actions...)
}

// AddPostConfiguration appends post actions for T.
func AddPostConfiguration[T any](r *Registry, actions ...Action) *Factory {
	return For[T](r).Post(actions...)
}

// OnScopeInitialized appends on-initialization callbacks for T.
func OnScopeInitialized[T any](r *Registry, callbacks ...InitCallback) *Factory {
	return For[T](r).OnInitialized(callbacks...)
}
