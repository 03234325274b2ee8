// Package container provides the typed dependency registry behind every
// consumer scope.
//
// A Container maps a reflect.Type to one registration carrying a Lifetime
// (Singleton, Scoped, Transient), a Binding (Bound, Unbound) and a factory.
// Containers are cloned once per consumer type by the configuration engine:
// Bound registrations give every clone its own instance, Unbound singletons stay
// shared. Closing a container closes the Bound instances it resolved, exactly
// once, in reverse resolution order.
//
// Example:
//
//	c := container.New()
//	container.Register(c, func(r container.Resolver) (*Store, error) {
//	    return NewStore(), nil
//	})
//	store, err := container.Resolve[*Store](c)
//	defer c.Close()
package container

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"reflect"
	"slices"
	"sync"
)

// Container is a typed dependency registry. It is safe for concurrent use.
type Container struct {
	regMu         sync.RWMutex
	registrations map[reflect.Type]*registration

	store
	closeOnce sync.Once
	closeErr  error
}

// Scope is a short-lived child of a Container. Singletons resolve from the
// parent; Scoped and Transient Bound instances belong to the scope and are
// closed with it.
type Scope struct {
	parent *Container

	store
	closeOnce sync.Once
	closeErr  error
}

var (
	_ Resolver = (*Container)(nil)
	_ Resolver = (*Scope)(nil)
)

// New creates an empty container.
func New() *Container {
	return &Container{
		registrations: make(map[reflect.Type]*registration),
		store:         newStore(),
	}
}

// Register adds or replaces the registration for t.
// Defaults: Singleton lifetime, Bound binding.
func (c *Container) Register(t reflect.Type, factory FactoryFunc, opts ...Option) {
	reg := newRegistration(t, factory, opts)

	c.regMu.Lock()
	defer c.regMu.Unlock()
	c.registrations[t] = reg
}

// RegisterIfAbsent registers t only when no registration exists yet.
// It reports whether the registration was added.
func (c *Container) RegisterIfAbsent(t reflect.Type, factory FactoryFunc, opts ...Option) bool {
	c.regMu.Lock()
	defer c.regMu.Unlock()

	if _, exists := c.registrations[t]; exists {
		return false
	}
	c.registrations[t] = newRegistration(t, factory, opts)
	return true
}

// Has reports whether t is registered.
func (c *Container) Has(t reflect.Type) bool {
	_, ok := c.registration(t)
	return ok
}

// Registrations lists the registered types.
func (c *Container) Registrations() []Registration {
	c.regMu.RLock()
	defer c.regMu.RUnlock()

	out := make([]Registration, 0, len(c.registrations))
	for _, reg := range c.registrations {
		out = append(out, reg.info())
	}
	slices.SortFunc(out, func(a, b Registration) int {
		return cmp.Compare(TypeName(a.Type), TypeName(b.Type))
	})
	return out
}

// Clone returns an independent container with the same registrations.
// Resolved Bound instances are not carried over; Unbound singletons keep
// pointing at the same shared instance.
func (c *Container) Clone() *Container {
	c.regMu.RLock()
	defer c.regMu.RUnlock()

	clone := New()
	for t, reg := range c.registrations {
		cp := *reg
		clone.registrations[t] = &cp
	}
	return clone
}

// BeginScope opens a child scope of c.
func (c *Container) BeginScope() *Scope {
	return &Scope{parent: c, store: newStore()}
}

// Resolve returns the instance registered for t.
func (c *Container) Resolve(t reflect.Type) (any, error) {
	return c.resolve(t, &c.store, nil)
}

// Close closes every Bound instance this container resolved. Unbound
// instances are left alone. Subsequent calls return the first result.
func (c *Container) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.store.close()
	})
	return c.closeErr
}

// Resolve returns the instance registered for t within the scope.
func (s *Scope) Resolve(t reflect.Type) (any, error) {
	return s.parent.resolve(t, &s.store, nil)
}

// Close closes the Scoped and Transient Bound instances resolved through s.
func (s *Scope) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.store.close()
	})
	return s.closeErr
}

func newRegistration(t reflect.Type, factory FactoryFunc, opts []Option) *registration {
	if t == nil {
		panic("container: cannot register a nil type")
	}
	if factory == nil {
		panic(fmt.Sprintf("container: nil factory for %s", TypeName(t)))
	}

	reg := &registration{typ: t, lifetime: Singleton, binding: Bound, factory: factory}
	for _, opt := range opts {
		opt(reg)
	}
	if reg.lifetime == Singleton && reg.binding == Unbound {
		reg.shared = &cell{}
	}
	return reg
}

func (c *Container) registration(t reflect.Type) (*registration, bool) {
	c.regMu.RLock()
	defer c.regMu.RUnlock()
	reg, ok := c.registrations[t]
	return reg, ok
}

// resolve looks t up in c and memoizes per lifetime. local is the store of
// the container or scope the request came from.
func (c *Container) resolve(t reflect.Type, local *store, path []reflect.Type) (any, error) {
	if slices.Contains(path, t) {
		return nil, circular(t, path)
	}
	if local.isClosed() || c.store.isClosed() {
		return nil, closedError(t)
	}

	reg, ok := c.registration(t)
	if !ok {
		return nil, notFound(t)
	}

	next := append(slices.Clip(path), t)

	switch reg.lifetime {
	case Transient:
		v, err := c.build(reg, &resolution{c: c, local: local, path: next})
		if err != nil {
			return nil, err
		}
		if reg.binding == Bound {
			local.track(v)
		}
		return v, nil

	case Scoped:
		cl, err := local.cell(t)
		if err != nil {
			return nil, err
		}
		return c.memoize(cl, reg, &resolution{c: c, local: local, path: next}, local)

	default:
		// Singletons are resolved against the container itself so they never
		// capture an instance owned by a shorter-lived scope.
		cl := reg.shared
		if cl == nil {
			var err error
			if cl, err = c.store.cell(t); err != nil {
				return nil, err
			}
		}
		return c.memoize(cl, reg, &resolution{c: c, local: &c.store, path: next}, &c.store)
	}
}

func (c *Container) memoize(cl *cell, reg *registration, r Resolver, owner *store) (any, error) {
	if cl.ready.Load() {
		return cl.value, nil
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.ready.Load() {
		return cl.value, nil
	}

	v, err := c.build(reg, r)
	if err != nil {
		return nil, err
	}
	cl.value = v
	cl.ready.Store(true)

	if reg.binding == Bound {
		owner.track(v)
	}
	return v, nil
}

func (c *Container) build(reg *registration, r Resolver) (any, error) {
	v, err := reg.factory(r)
	if err != nil {
		return nil, factoryFailed(reg.typ, err)
	}
	if v != nil && !reflect.TypeOf(v).AssignableTo(reg.typ) {
		return nil, factoryFailed(reg.typ, fmt.Errorf("%w: got %T", ErrTypeMismatch, v))
	}
	return v, nil
}

// resolution carries the resolution path so factories resolving their own
// dependencies are checked for cycles.
type resolution struct {
	c     *Container
	local *store
	path  []reflect.Type
}

func (r *resolution) Resolve(t reflect.Type) (any, error) {
	return r.c.resolve(t, r.local, r.path)
}

// store holds memoized cells and the Bound instances to close.
type store struct {
	mu     sync.Mutex
	cells  map[reflect.Type]*cell
	owned  []io.Closer
	seen   map[any]struct{}
	closed bool
}

func newStore() store {
	return store{
		cells: make(map[reflect.Type]*cell),
		seen:  make(map[any]struct{}),
	}
}

func (s *store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *store) cell(t reflect.Type) (*cell, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, closedError(t)
	}
	cl, ok := s.cells[t]
	if !ok {
		cl = &cell{}
		s.cells[t] = cl
	}
	return cl, nil
}

func (s *store) track(v any) {
	closer, ok := v.(io.Closer)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if reflect.TypeOf(v).Kind() == reflect.Pointer {
		if _, dup := s.seen[v]; dup {
			return
		}
		s.seen[v] = struct{}{}
	}
	s.owned = append(s.owned, closer)
}

func (s *store) close() error {
	s.mu.Lock()
	s.closed = true
	owned := s.owned
	s.owned = nil
	s.mu.Unlock()

	var errs []error
	for i := len(owned) - 1; i >= 0; i-- {
		if err := owned[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
