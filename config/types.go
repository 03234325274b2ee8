package config

import (
	"github.com/knadh/koanf/v2"
)

// Environment names recognised in app.env.
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Config is the loaded configuration tree.
type Config struct {
	App       AppConfig                 `koanf:"app" json:"app" yaml:"app" mapstructure:"app"`
	Log       LogConfig                 `koanf:"log" json:"log" yaml:"log" mapstructure:"log"`
	Consumers map[string]ConsumerConfig `koanf:"consumers" json:"consumers" yaml:"consumers" mapstructure:"consumers"`

	k *koanf.Koanf
}

// AppConfig identifies the application making the calls.
type AppConfig struct {
	Name    string `koanf:"name" json:"name" yaml:"name" mapstructure:"name"`
	Version string `koanf:"version" json:"version" yaml:"version" mapstructure:"version"`
	Env     string `koanf:"env" json:"env" yaml:"env" mapstructure:"env"`
}

// LogConfig configures the zerolog-backed logger.
type LogConfig struct {
	Level  string `koanf:"level" json:"level" yaml:"level" mapstructure:"level"`
	Pretty bool   `koanf:"pretty" json:"pretty" yaml:"pretty" mapstructure:"pretty"`
}

// ConsumerConfig is one entry under consumers.<name>. Pointer fields
// distinguish "not set" from an explicit zero so that an explicit
// timeout of 0 is rejected instead of silently defaulted.
type ConsumerConfig struct {
	Name            string            `koanf:"-" json:"-" yaml:"-" mapstructure:"-"`
	BaseAddress     string            `koanf:"baseaddress" json:"baseaddress" yaml:"baseaddress" mapstructure:"baseaddress"`
	Resource        string            `koanf:"resource" json:"resource" yaml:"resource" mapstructure:"resource"`
	ResourcePath    *string           `koanf:"resourcepath" json:"resourcepath" yaml:"resourcepath" mapstructure:"resourcepath"`
	Timeout         *int              `koanf:"timeout" json:"timeout" yaml:"timeout" mapstructure:"timeout"` // seconds
	RetryAttempts   *int              `koanf:"retryattempts" json:"retryattempts" yaml:"retryattempts" mapstructure:"retryattempts"`
	ThrowExceptions *bool             `koanf:"throwexceptions" json:"throwexceptions" yaml:"throwexceptions" mapstructure:"throwexceptions"`
	ContentType     string            `koanf:"contenttype" json:"contenttype" yaml:"contenttype" mapstructure:"contenttype"`
	Headers         map[string]string `koanf:"headers" json:"headers" yaml:"headers" mapstructure:"headers"`
	Auth            *AuthConfig       `koanf:"auth" json:"auth" yaml:"auth" mapstructure:"auth"`
}

// AuthConfig configures an OAuth2 client-credentials token source.
type AuthConfig struct {
	TokenURL     string   `koanf:"tokenurl" json:"tokenurl" yaml:"tokenurl" mapstructure:"tokenurl"`
	ClientID     string   `koanf:"clientid" json:"clientid" yaml:"clientid" mapstructure:"clientid"`
	ClientSecret string   `koanf:"clientsecret" json:"clientsecret" yaml:"clientsecret" mapstructure:"clientsecret"`
	Scopes       []string `koanf:"scopes" json:"scopes" yaml:"scopes" mapstructure:"scopes"`
	AutoRenew    bool     `koanf:"autorenew" json:"autorenew" yaml:"autorenew" mapstructure:"autorenew"`
}

// Bag converts the consumer section into the string-keyed bag consumed by
// settings.HandlerConfiguration. Only values present in the source are set.
func (c *ConsumerConfig) Bag() Bag {
	b := Bag{}
	if c.ResourcePath != nil {
		b.Set(KeyResourcePath, *c.ResourcePath)
	}
	if c.Timeout != nil {
		b.Set(KeyTimeout, *c.Timeout)
	}
	if c.RetryAttempts != nil {
		b.Set(KeyRetryAttempts, *c.RetryAttempts)
	}
	if c.ThrowExceptions != nil {
		b.Set(KeyThrowExceptions, *c.ThrowExceptions)
	}
	if c.ContentType != "" {
		b.Set(KeyContentType, c.ContentType)
	}
	if len(c.Headers) > 0 {
		b.Set(KeyRequestHeaders, c.Headers)
	}
	return b
}
