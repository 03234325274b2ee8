package config

import (
	"errors"
	"net/url"
	"slices"
	"strings"
)

var validLogLevels = []string{"trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled"}

// Validate checks the loaded configuration. Per-consumer numeric limits
// (timeout, retry attempts) are enforced when settings are built so that
// the same rules apply to code-configured consumers.
func Validate(cfg *Config) error {
	var errs []error

	if level := strings.ToLower(strings.TrimSpace(cfg.Log.Level)); level != "" && !slices.Contains(validLogLevels, level) {
		errs = append(errs, NewInvalidFieldError("log.level", "unknown level '"+cfg.Log.Level+"'", validLogLevels))
	}

	for name := range cfg.Consumers {
		consumer := cfg.Consumers[name]
		if err := validateConsumer(name, &consumer); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func validateConsumer(name string, c *ConsumerConfig) error {
	field := "consumers." + name + ".baseaddress"
	if strings.TrimSpace(c.BaseAddress) == "" {
		envName := DefaultEnvPrefix + "CONSUMERS_" + strings.ToUpper(name) + "_BASEADDRESS"
		return NewMissingFieldError(field, envName, field)
	}

	u, err := url.Parse(c.BaseAddress)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return NewInvalidFieldError(field, "must be an absolute url", nil)
	}

	if c.Auth != nil {
		authField := "consumers." + name + ".auth"
		if c.Auth.TokenURL == "" {
			return NewInvalidFieldError(authField+".tokenurl", "required when auth is configured", nil)
		}
		if c.Auth.ClientID == "" {
			return NewInvalidFieldError(authField+".clientid", "required when auth is configured", nil)
		}
	}
	return nil
}
