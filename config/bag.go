package config

import (
	"fmt"
	"strings"
)

// Recognised bag keys. Lookups are case-insensitive.
const (
	KeyResourcePath    = "ResourcePath"
	KeyTimeout         = "Timeout" // seconds
	KeyRetryAttempts   = "RetryAttempts"
	KeyThrowExceptions = "ThrowExceptions"
	KeyContentType     = "ContentType"
	KeyRequestHeaders  = "RequestHeaders"
)

// Bag is a string-keyed configuration surface with case-insensitive keys.
// Absent keys report ErrNotConfigured so callers can fall back to defaults.
type Bag map[string]any

// Set stores value under key, replacing any entry that differs only in case.
func (b Bag) Set(key string, value any) {
	for existing := range b {
		if strings.EqualFold(existing, key) {
			delete(b, existing)
		}
	}
	b[key] = value
}

// Lookup returns the raw value stored under key.
func (b Bag) Lookup(key string) (any, bool) {
	if v, ok := b[key]; ok {
		return v, true
	}
	for existing, v := range b {
		if strings.EqualFold(existing, key) {
			return v, true
		}
	}
	return nil, false
}

// Has reports whether key is present.
func (b Bag) Has(key string) bool {
	_, ok := b.Lookup(key)
	return ok
}

// String returns the value under key as a string.
func (b Bag) String(key string) (string, error) {
	v, ok := b.Lookup(key)
	if !ok {
		return "", notInBag(key)
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case fmt.Stringer:
		return s.String(), nil
	default:
		return "", NewInvalidFieldError(key, fmt.Sprintf("expected string, got %T", v), nil)
	}
}

// Int returns the value under key as an int.
func (b Bag) Int(key string) (int, error) {
	v, ok := b.Lookup(key)
	if !ok {
		return 0, notInBag(key)
	}
	n, err := toInt(v)
	if err != nil {
		return 0, NewInvalidFieldError(key, err.Error(), nil)
	}
	return n, nil
}

// Bool returns the value under key as a bool.
func (b Bag) Bool(key string) (bool, error) {
	v, ok := b.Lookup(key)
	if !ok {
		return false, notInBag(key)
	}
	flag, err := toBool(v)
	if err != nil {
		return false, NewInvalidFieldError(key, err.Error(), nil)
	}
	return flag, nil
}

// Headers returns the value under key as a header map. Both
// map[string]string and map[string]any (as decoded from YAML) are accepted.
func (b Bag) Headers(key string) (map[string]string, error) {
	v, ok := b.Lookup(key)
	if !ok {
		return nil, notInBag(key)
	}
	switch m := v.(type) {
	case map[string]string:
		out := make(map[string]string, len(m))
		for k, val := range m {
			out[k] = val
		}
		return out, nil
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, val := range m {
			out[k] = fmt.Sprint(val)
		}
		return out, nil
	default:
		return nil, NewInvalidFieldError(key, fmt.Sprintf("expected header map, got %T", v), nil)
	}
}

func notInBag(key string) error {
	return fmt.Errorf("%s: %w", key, ErrNotConfigured)
}
