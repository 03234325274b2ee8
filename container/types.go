package container

import (
	"reflect"
	"sync"
	"sync/atomic"
)

// Lifetime controls how long a resolved instance is reused.
type Lifetime int

const (
	// Singleton resolves one instance per container; child scopes share it.
	Singleton Lifetime = iota
	// Scoped resolves one instance per container or per child scope.
	Scoped
	// Transient resolves a fresh instance on every call.
	Transient
)

func (l Lifetime) String() string {
	switch l {
	case Singleton:
		return "Singleton"
	case Scoped:
		return "Scoped"
	case Transient:
		return "Transient"
	default:
		return "Unknown"
	}
}

// Binding controls who owns a resolved instance.
type Binding int

const (
	// Bound instances are owned by the container and closed with it.
	Bound Binding = iota
	// Unbound instances are owned by whoever registered them. Unbound
	// singletons are shared between a container and all of its clones.
	Unbound
)

func (b Binding) String() string {
	if b == Unbound {
		return "Unbound"
	}
	return "Bound"
}

// Resolver resolves a dependency by its type.
type Resolver interface {
	Resolve(t reflect.Type) (any, error)
}

// FactoryFunc builds an instance, resolving its own dependencies through r.
type FactoryFunc func(r Resolver) (any, error)

// Registration describes a registered dependency.
type Registration struct {
	Type     reflect.Type
	Lifetime Lifetime
	Binding  Binding
}

// Option customizes a registration.
type Option func(*registration)

// WithLifetime sets the registration lifetime (default Singleton).
func WithLifetime(l Lifetime) Option {
	return func(r *registration) { r.lifetime = l }
}

// WithBinding sets the registration binding (default Bound).
func WithBinding(b Binding) Option {
	return func(r *registration) { r.binding = b }
}

// AsSingleton is shorthand for WithLifetime(Singleton).
func AsSingleton() Option { return WithLifetime(Singleton) }

// AsScoped is shorthand for WithLifetime(Scoped).
func AsScoped() Option { return WithLifetime(Scoped) }

// AsTransient is shorthand for WithLifetime(Transient).
func AsTransient() Option { return WithLifetime(Transient) }

// AsUnbound is shorthand for WithBinding(Unbound).
func AsUnbound() Option { return WithBinding(Unbound) }

type registration struct {
	typ      reflect.Type
	lifetime Lifetime
	binding  Binding
	factory  FactoryFunc
	// shared holds the instance of an Unbound singleton across clones.
	shared *cell
}

func (r *registration) info() Registration {
	return Registration{Type: r.typ, Lifetime: r.lifetime, Binding: r.binding}
}

// cell memoizes one resolved instance.
type cell struct {
	mu    sync.Mutex
	ready atomic.Bool
	value any
}

// TypeOf returns the reflect.Type used as registry key for T.
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}
