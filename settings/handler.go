package settings

import (
	"maps"
	"time"

	"github.com/gaborage/restbricks/apierr"
	"github.com/gaborage/restbricks/config"
)

const (
	// DefaultTimeout is the per-attempt timeout when none is configured.
	DefaultTimeout = 30 * time.Second

	// DefaultContentType is used for request bodies when none is configured.
	DefaultContentType = "application/json"

	opApply = "settings.apply"
)

// HandlerConfiguration holds the mutable per-consumer defaults consulted
// when ConnectionSettings omit a value.
type HandlerConfiguration struct {
	ResourcePath    string
	Timeout         time.Duration
	RetryCount      int
	ContentType     string
	ThrowExceptions bool
	RequestHeaders  map[string]string
}

// DefaultHandlerConfiguration returns the library defaults.
func DefaultHandlerConfiguration() *HandlerConfiguration {
	return &HandlerConfiguration{
		Timeout:        DefaultTimeout,
		ContentType:    DefaultContentType,
		RequestHeaders: map[string]string{},
	}
}

// Clone returns a deep copy.
func (h *HandlerConfiguration) Clone() *HandlerConfiguration {
	cp := *h
	cp.RequestHeaders = maps.Clone(h.RequestHeaders)
	if cp.RequestHeaders == nil {
		cp.RequestHeaders = map[string]string{}
	}
	return &cp
}

// Apply copies the recognised keys present in b onto h. Timeout is read
// in seconds. Request headers are merged over the existing ones.
func (h *HandlerConfiguration) Apply(b config.Bag) error {
	if v, err := b.String(config.KeyResourcePath); err == nil {
		h.ResourcePath = v
	} else if !config.IsNotConfigured(err) {
		return wrapBagError(config.KeyResourcePath, err)
	}

	if v, err := b.Int(config.KeyTimeout); err == nil {
		if v <= 0 {
			return apierr.NewValidationError(opApply, config.KeyTimeout, "must be greater than 0 seconds")
		}
		h.Timeout = time.Duration(v) * time.Second
	} else if !config.IsNotConfigured(err) {
		return wrapBagError(config.KeyTimeout, err)
	}

	if v, err := b.Int(config.KeyRetryAttempts); err == nil {
		if v < 0 {
			return apierr.NewValidationError(opApply, config.KeyRetryAttempts, "must be at least 0")
		}
		h.RetryCount = v
	} else if !config.IsNotConfigured(err) {
		return wrapBagError(config.KeyRetryAttempts, err)
	}

	if v, err := b.Bool(config.KeyThrowExceptions); err == nil {
		h.ThrowExceptions = v
	} else if !config.IsNotConfigured(err) {
		return wrapBagError(config.KeyThrowExceptions, err)
	}

	if v, err := b.String(config.KeyContentType); err == nil {
		h.ContentType = v
	} else if !config.IsNotConfigured(err) {
		return wrapBagError(config.KeyContentType, err)
	}

	if v, err := b.Headers(config.KeyRequestHeaders); err == nil {
		if h.RequestHeaders == nil {
			h.RequestHeaders = map[string]string{}
		}
		maps.Copy(h.RequestHeaders, v)
	} else if !config.IsNotConfigured(err) {
		return wrapBagError(config.KeyRequestHeaders, err)
	}

	return nil
}

func wrapBagError(key string, err error) error {
	return apierr.NewConfigurationError(opApply, key, "invalid value", err)
}
