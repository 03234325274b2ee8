package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	envprovider "github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// DefaultEnvPrefix is stripped from environment variables before they are
	// mapped onto configuration keys (RESTBRICKS_LOG_LEVEL -> log.level).
	DefaultEnvPrefix = "RESTBRICKS_"

	// DefaultFile is the optional YAML file read when no file option is given.
	DefaultFile = "restbricks.yaml"
)

type loadOptions struct {
	files     []string
	inline    [][]byte
	defaults  map[string]any
	envPrefix string
	skipEnv   bool
}

// Option customizes Load.
type Option func(*loadOptions)

// WithFile adds a YAML file to the load chain. Files are optional unless
// they exist and fail to parse.
func WithFile(path string) Option {
	return func(o *loadOptions) {
		o.files = append(o.files, path)
	}
}

// WithYAML adds inline YAML, applied after files and before the environment.
func WithYAML(data []byte) Option {
	return func(o *loadOptions) {
		o.inline = append(o.inline, data)
	}
}

// WithDefaults overrides or extends the built-in defaults.
func WithDefaults(values map[string]any) Option {
	return func(o *loadOptions) {
		for k, v := range values {
			o.defaults[k] = v
		}
	}
}

// WithEnvPrefix changes the environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(o *loadOptions) {
		o.envPrefix = prefix
	}
}

// WithoutEnv disables the environment provider.
func WithoutEnv() Option {
	return func(o *loadOptions) {
		o.skipEnv = true
	}
}

// Load loads configuration from multiple sources with priority:
// 1. Environment variables (highest priority)
// 2. Inline YAML
// 3. YAML configuration files
// 4. Default values (lowest priority)
func Load(opts ...Option) (*Config, error) {
	o := &loadOptions{
		defaults:  defaultValues(),
		envPrefix: DefaultEnvPrefix,
	}
	for _, opt := range opts {
		opt(o)
	}
	if len(o.files) == 0 {
		o.files = []string{DefaultFile}
	}

	k := koanf.New(".")

	if err := k.Load(confmap.Provider(o.defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	for _, path := range o.files {
		if err := loadFile(k, path); err != nil {
			return nil, err
		}
	}

	for i, data := range o.inline {
		if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load inline yaml #%d: %w", i, err)
		}
	}

	if !o.skipEnv {
		prefix := o.envPrefix
		if err := k.Load(envprovider.Provider(prefix, ".", func(s string) string {
			// RESTBRICKS_CONSUMERS_PEOPLE_TIMEOUT -> consumers.people.timeout
			return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, prefix)), "_", ".")
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load environment variables: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.k = k

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadFile loads a YAML file, ignoring files that do not exist.
func loadFile(k *koanf.Koanf, path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func defaultValues() map[string]any {
	return map[string]any{
		"app.name":    "restbricks-client",
		"app.version": "v1.0.0",
		"app.env":     EnvDevelopment,

		"log.level":  "info",
		"log.pretty": false,
	}
}
