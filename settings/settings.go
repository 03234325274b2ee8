// Package settings holds the connection settings of a consumer and the
// per-consumer defaults they fall back to.
package settings

import (
	"net/url"
	"strings"
	"time"

	"github.com/gaborage/restbricks/apierr"
)

const (
	opNew              = "settings.new"
	opWithTimeout      = "settings.with_timeout"
	opWithRetryAttempt = "settings.with_retry_attempts"
)

// ConnectionSettings describes where a consumer calls and how long and how
// often it tries. Values are immutable; the With* methods return copies.
type ConnectionSettings struct {
	baseAddress   *url.URL
	resource      string
	resourcePath  string
	timeout       time.Duration
	retryAttempts int
	source        *url.URL
}

// Option overrides a value that would otherwise come from the
// HandlerConfiguration.
type Option func(*overrides)

type overrides struct {
	resourcePath  *string
	timeout       *time.Duration
	retryAttempts *int
}

// WithResourcePath sets the path segment between base address and resource.
func WithResourcePath(path string) Option {
	return func(o *overrides) { o.resourcePath = &path }
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *overrides) { o.timeout = &d }
}

// WithRetryAttempts sets how many attempts a timing-out call may make.
func WithRetryAttempts(n int) Option {
	return func(o *overrides) { o.retryAttempts = &n }
}

// New builds ConnectionSettings against DefaultHandlerConfiguration.
func New(baseAddress, resource string, opts ...Option) (*ConnectionSettings, error) {
	return DefaultHandlerConfiguration().NewConnectionSettings(baseAddress, resource, opts...)
}

// NewConnectionSettings builds ConnectionSettings; omitted values fall back
// to h.
func (h *HandlerConfiguration) NewConnectionSettings(baseAddress, resource string, opts ...Option) (*ConnectionSettings, error) {
	o := overrides{}
	for _, opt := range opts {
		opt(&o)
	}

	s := &ConnectionSettings{
		resource:      normalizeResource(resource),
		resourcePath:  h.ResourcePath,
		timeout:       h.Timeout,
		retryAttempts: h.RetryCount,
	}
	if o.resourcePath != nil {
		s.resourcePath = *o.resourcePath
	}
	if o.timeout != nil {
		s.timeout = *o.timeout
	}
	if o.retryAttempts != nil {
		s.retryAttempts = *o.retryAttempts
	}
	s.resourcePath = normalizeResourcePath(s.resourcePath)

	if err := check(opNew, constraints{
		BaseAddress:   baseAddress,
		Timeout:       s.timeout,
		RetryAttempts: s.retryAttempts,
	}); err != nil {
		return nil, err
	}

	base, err := url.Parse(baseAddress)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, apierr.NewValidationError(opNew, "BaseAddress", "must be an absolute url")
	}
	s.baseAddress = base

	if err := s.computeSource(); err != nil {
		return nil, err
	}
	return s, nil
}

// BaseAddress returns a copy of the base address.
func (s *ConnectionSettings) BaseAddress() *url.URL { return cloneURL(s.baseAddress) }

// Resource returns the resource name without surrounding slashes.
func (s *ConnectionSettings) Resource() string { return s.resource }

// ResourcePath returns the slash-terminated resource path, or "".
func (s *ConnectionSettings) ResourcePath() string { return s.resourcePath }

// Timeout returns the per-attempt timeout.
func (s *ConnectionSettings) Timeout() time.Duration { return s.timeout }

// RetryAttempts returns the configured retry attempts.
func (s *ConnectionSettings) RetryAttempts() int { return s.retryAttempts }

// Source returns BaseAddress + ResourcePath + Resource.
func (s *ConnectionSettings) Source() *url.URL { return cloneURL(s.source) }

// String returns Source as a string.
func (s *ConnectionSettings) String() string { return s.source.String() }

// WithTimeout returns a copy with a different timeout. The same validation
// as construction applies.
func (s *ConnectionSettings) WithTimeout(d time.Duration) (*ConnectionSettings, error) {
	if err := check(opWithTimeout, constraints{
		BaseAddress:   s.baseAddress.String(),
		Timeout:       d,
		RetryAttempts: s.retryAttempts,
	}); err != nil {
		return nil, err
	}
	cp := *s
	cp.timeout = d
	return &cp, nil
}

// WithRetryAttempts returns a copy with a different retry count.
func (s *ConnectionSettings) WithRetryAttempts(n int) (*ConnectionSettings, error) {
	if err := check(opWithRetryAttempt, constraints{
		BaseAddress:   s.baseAddress.String(),
		Timeout:       s.timeout,
		RetryAttempts: n,
	}); err != nil {
		return nil, err
	}
	cp := *s
	cp.retryAttempts = n
	return &cp, nil
}

func (s *ConnectionSettings) computeSource() error {
	raw := strings.TrimSuffix(s.baseAddress.String(), "/") + "/" + s.resourcePath + s.resource
	source, err := url.Parse(raw)
	if err != nil {
		return apierr.NewValidationError(opNew, "Resource", "does not form a valid url: "+err.Error())
	}
	s.source = source
	return nil
}

func normalizeResource(resource string) string {
	return strings.Trim(strings.TrimSpace(resource), "/")
}

func normalizeResourcePath(path string) string {
	path = strings.TrimLeft(strings.TrimSpace(path), "/")
	if path == "" || strings.HasSuffix(path, "/") {
		return path
	}
	return path + "/"
}

func cloneURL(u *url.URL) *url.URL {
	if u == nil {
		return nil
	}
	cp := *u
	if u.User != nil {
		user := *u.User
		cp.User = &user
	}
	return &cp
}
