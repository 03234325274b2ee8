package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var errNotInitialized = errors.New("configuration not initialized")

// GetString returns the value at key, or the first default when key is absent.
func (c *Config) GetString(key string, defaultVal ...string) string {
	if !c.Exists(key) {
		return first("", defaultVal)
	}
	return c.k.String(key)
}

// GetInt returns the value at key as an int. Absent or unconvertible values
// yield the default.
func (c *Config) GetInt(key string, defaultVal ...int) int {
	return lookup(c, key, toInt, defaultVal)
}

// GetBool is GetInt for booleans.
func (c *Config) GetBool(key string, defaultVal ...bool) bool {
	return lookup(c, key, toBool, defaultVal)
}

// GetDuration accepts duration strings ("1m30s") and bare numbers of seconds.
func (c *Config) GetDuration(key string, defaultVal ...time.Duration) time.Duration {
	return lookup(c, key, toDuration, defaultVal)
}

// GetRequiredString fails when key is absent or blank.
func (c *Config) GetRequiredString(key string) (string, error) {
	if !c.Exists(key) {
		return "", missingKey(key)
	}
	val := strings.TrimSpace(c.k.String(key))
	if val == "" {
		return "", fmt.Errorf("required configuration key '%s' is empty", key)
	}
	return val, nil
}

// GetRequiredInt fails when key is absent or not an integer.
func (c *Config) GetRequiredInt(key string) (int, error) {
	if !c.Exists(key) {
		return 0, missingKey(key)
	}
	n, err := toInt(c.k.Get(key))
	if err != nil {
		return 0, fmt.Errorf("required configuration key '%s' is invalid: %w", key, err)
	}
	return n, nil
}

// Unmarshal decodes the section at key into out.
func (c *Config) Unmarshal(key string, out any) error {
	if c == nil || c.k == nil {
		return errNotInitialized
	}
	return c.k.Unmarshal(key, out)
}

// Exists reports whether key is set.
func (c *Config) Exists(key string) bool {
	return c != nil && c.k != nil && c.k.Exists(key)
}

// Consumer returns the consumers.<name> section. Names match case-insensitively
// because environment variables arrive lowercased.
func (c *Config) Consumer(name string) (*ConsumerConfig, error) {
	if c == nil {
		return nil, errNotInitialized
	}
	for key, consumer := range c.Consumers {
		if strings.EqualFold(key, name) {
			consumer.Name = key
			return &consumer, nil
		}
	}
	envName := DefaultEnvPrefix + "CONSUMERS_" + strings.ToUpper(name) + "_BASEADDRESS"
	return nil, NewNotConfiguredError("consumers."+name, envName, "consumers."+name+".baseaddress")
}

// ConsumerNames lists the configured consumer sections, sorted.
func (c *Config) ConsumerNames() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.Consumers))
	for name := range c.Consumers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookup[T any](c *Config, key string, convert func(any) (T, error), defaults []T) T {
	var zero T
	if !c.Exists(key) {
		return first(zero, defaults)
	}
	v, err := convert(c.k.Get(key))
	if err != nil {
		return first(zero, defaults)
	}
	return v
}

func first[T any](zero T, vals []T) T {
	if len(vals) > 0 {
		return vals[0]
	}
	return zero
}

func missingKey(key string) error {
	return fmt.Errorf("required configuration key '%s' is missing", key)
}
