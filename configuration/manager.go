package configuration

import (
	"errors"
	"reflect"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/gaborage/restbricks/apierr"
	"github.com/gaborage/restbricks/container"
	"github.com/gaborage/restbricks/internal/tracking"
	"github.com/gaborage/restbricks/logger"
)

// ErrManagerClosed is returned by a Manager after Close.
var ErrManagerClosed = errors.New("configuration manager closed")

// Manager is the composition root: it builds each consumer scope once and
// caches it until Close.
type Manager struct {
	registry *Registry
	base     *container.Container
	ownsBase bool
	log      logger.Logger

	mu     sync.RWMutex
	scopes map[reflect.Type]*Scope
	sfg    singleflight.Group
	closed bool

	// Statistics
	builds      int
	buildErrors int

	closeOnce         sync.Once
	closeErr          error
	unregisterMetrics func()
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithBaseContainer sets the container every scope is cloned from. The
// caller keeps ownership of it.
func WithBaseContainer(c *container.Container) ManagerOption {
	return func(m *Manager) { m.base = c }
}

// WithLogger sets the manager logger. It also becomes the logger of the
// default base container.
func WithLogger(log logger.Logger) ManagerOption {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// NewManager applies every queued provider and validates eagerly that each
// registered consumer type has main configuration.
func NewManager(registry *Registry, opts ...ManagerOption) (*Manager, error) {
	if registry == nil {
		registry = NewRegistry()
	}
	m := &Manager{
		registry: registry,
		log:      logger.Nop(),
		scopes:   make(map[reflect.Type]*Scope),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.base == nil {
		m.base = DefaultContainer(m.log)
		m.ownsBase = true
	}

	if err := m.syncProviders(); err != nil {
		if m.ownsBase {
			_ = m.base.Close()
		}
		return nil, err
	}

	m.unregisterMetrics = tracking.RegisterManagerMetrics(m.Stats)

	m.log.Info().
		Int("consumers", len(registry.Consumers())).
		Msg("configuration manager initialized")
	return m, nil
}

// AddProvider applies p and validates the registry again.
func (m *Manager) AddProvider(p Provider) error {
	if m.isClosed() {
		return ErrManagerClosed
	}
	m.registry.AddProvider(p)
	return m.syncProviders()
}

// Registry returns the registry the manager reads factories from.
func (m *Manager) Registry() *Registry { return m.registry }

func (m *Manager) syncProviders() error {
	if err := m.registry.applyPending(); err != nil {
		return err
	}
	return m.registry.Validate()
}

// Scope returns the scope of consumer type t, building it on first use.
// Concurrent first calls build exactly one scope.
func (m *Manager) Scope(t reflect.Type) (*Scope, error) {
	// Fast path: scope already built
	if scope, err := m.getExisting(t); scope != nil || err != nil {
		return scope, err
	}

	// Slow path: use singleflight to prevent thundering herd
	result, err, _ := m.sfg.Do(container.TypeName(t), func() (any, error) {
		// Double-check after acquiring singleflight lock
		if scope, err := m.getExisting(t); scope != nil || err != nil {
			return scope, err
		}
		return m.createScope(t)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Scope), nil
}

// Settings returns the ApiSettings of consumer type t.
func (m *Manager) Settings(t reflect.Type) (*ApiSettings, error) {
	scope, err := m.Scope(t)
	if err != nil {
		return nil, err
	}
	return scope.Settings()
}

// BuildApiSettings returns the ApiSettings of consumer type T.
func BuildApiSettings[T any](m *Manager) (*ApiSettings, error) {
	return m.Settings(container.TypeOf[T]())
}

// ScopeOf returns the scope of consumer type T.
func ScopeOf[T any](m *Manager) (*Scope, error) {
	return m.Scope(container.TypeOf[T]())
}

func (m *Manager) getExisting(t reflect.Type) (*Scope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrManagerClosed
	}
	return m.scopes[t], nil
}

func (m *Manager) createScope(t reflect.Type) (*Scope, error) {
	factory, ok := m.registry.Lookup(t)
	if !ok {
		m.recordError()
		return nil, apierr.NewConfigurationError(opBuild, container.TypeName(t),
			"no configuration registered for consumer type", ErrNoMainConfiguration)
	}

	start := time.Now()
	scope, err := factory.Build(m.base)
	if err != nil {
		m.recordError()
		m.log.Error().
			Err(err).
			Str("consumer", container.TypeName(t)).
			Msg("consumer scope build failed")
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = scope.Close()
		return nil, ErrManagerClosed
	}
	m.scopes[t] = scope
	m.builds++
	m.mu.Unlock()

	m.log.Info().
		Str("consumer", scope.Consumer().Name).
		Dur("elapsed", time.Since(start)).
		Msg("consumer scope built")
	return scope, nil
}

func (m *Manager) recordError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buildErrors++
}

func (m *Manager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// Stats returns current manager statistics.
func (m *Manager) Stats() tracking.ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return tracking.ManagerStats{
		ActiveScopes: len(m.scopes),
		Builds:       m.builds,
		BuildErrors:  m.buildErrors,
	}
}

// Close closes every cached scope and, when the manager created it, the
// base container.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		scopes := m.scopes
		m.scopes = make(map[reflect.Type]*Scope)
		m.mu.Unlock()

		var errs []error
		for _, scope := range scopes {
			if err := scope.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if m.ownsBase {
			if err := m.base.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if m.unregisterMetrics != nil {
			m.unregisterMetrics()
		}
		m.closeErr = errors.Join(errs...)

		m.log.Info().Int("scopes", len(scopes)).Msg("configuration manager closed")
	})
	return m.closeErr
}
