package configuration

import (
	"sync"
	"time"

	"github.com/gaborage/restbricks/container"
	"github.com/gaborage/restbricks/settings"
)

// ApiSettings is what an executor needs from a consumer scope.
type ApiSettings struct {
	Consumer   Consumer
	Connection *settings.ConnectionSettings
	// Handler is a copy; changing it does not affect the scope.
	Handler  *settings.HandlerConfiguration
	Resolver container.Resolver
}

// Scope owns the built container of one consumer type.
type Scope struct {
	consumer  Consumer
	container *container.Container
	builtAt   time.Time

	closeOnce sync.Once
	closeErr  error
}

// Consumer returns the consumer this scope was built for.
func (s *Scope) Consumer() Consumer { return s.consumer }

// Resolver returns the scope's container.
func (s *Scope) Resolver() container.Resolver { return s.container }

// BuiltAt returns when the scope was built.
func (s *Scope) BuiltAt() time.Time { return s.builtAt }

// Settings resolves the connection settings and handler defaults.
func (s *Scope) Settings() (*ApiSettings, error) {
	conn, err := container.Resolve[*settings.ConnectionSettings](s.container)
	if err != nil {
		return nil, err
	}
	handler, err := container.Resolve[*settings.HandlerConfiguration](s.container)
	if err != nil {
		return nil, err
	}
	return &ApiSettings{
		Consumer:   s.consumer,
		Connection: conn,
		Handler:    handler.Clone(),
		Resolver:   s.container,
	}, nil
}

// Close closes the scope's container and with it every Bound instance it
// resolved.
func (s *Scope) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.container.Close()
	})
	return s.closeErr
}
