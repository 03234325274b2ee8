package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPrefix   = "RBTEST_"
	peopleYAML   = "consumers:\n  people:\n    baseaddress: http://test.source.com\n    resource: resource\n    resourcepath: api/\n    timeout: 30\n    retryattempts: 0\n    headers:\n      Accept: application/json\n"
	peopleSource = "http://test.source.com"
)

func setupTestConfig(t *testing.T, data map[string]any) *Config {
	t.Helper()

	k := koanf.New(".")
	err := k.Load(confmap.Provider(data, "."), nil)
	require.NoError(t, err)

	return &Config{k: k}
}

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(WithEnvPrefix(testPrefix))
	require.NoError(t, err)

	assert.Equal(t, "restbricks-client", cfg.App.Name)
	assert.Equal(t, EnvDevelopment, cfg.App.Env)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Log.Pretty)
	assert.Empty(t, cfg.Consumers)
}

func TestLoadInlineYAML(t *testing.T) {
	cfg, err := Load(WithoutEnv(), WithYAML([]byte(peopleYAML)))
	require.NoError(t, err)

	people, err := cfg.Consumer("People")
	require.NoError(t, err)
	assert.Equal(t, "people", people.Name)
	assert.Equal(t, peopleSource, people.BaseAddress)
	assert.Equal(t, "resource", people.Resource)
	require.NotNil(t, people.ResourcePath)
	assert.Equal(t, "api/", *people.ResourcePath)
	require.NotNil(t, people.Timeout)
	assert.Equal(t, 30, *people.Timeout)
	require.NotNil(t, people.RetryAttempts)
	assert.Equal(t, 0, *people.RetryAttempts)
	assert.Nil(t, people.ThrowExceptions)
	assert.Equal(t, "application/json", people.Headers["Accept"])
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.yaml")
	require.NoError(t, os.WriteFile(path, []byte(peopleYAML), 0o600))

	cfg, err := Load(WithoutEnv(), WithFile(path))
	require.NoError(t, err)
	assert.Equal(t, []string{"people"}, cfg.ConsumerNames())
}

func TestLoadMissingFileIsIgnored(t *testing.T) {
	_, err := Load(WithoutEnv(), WithFile(filepath.Join(t.TempDir(), "absent.yaml")))
	require.NoError(t, err)
}

func TestLoadInvalidYAMLFails(t *testing.T) {
	_, err := Load(WithoutEnv(), WithYAML([]byte("consumers: [")))
	require.Error(t, err)
}

func TestEnvironmentOverridesYAML(t *testing.T) {
	t.Setenv(testPrefix+"CONSUMERS_PEOPLE_TIMEOUT", "5")
	t.Setenv(testPrefix+"CONSUMERS_PEOPLE_THROWEXCEPTIONS", "true")
	t.Setenv(testPrefix+"LOG_LEVEL", "debug")

	cfg, err := Load(WithEnvPrefix(testPrefix), WithYAML([]byte(peopleYAML)))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	people, err := cfg.Consumer("people")
	require.NoError(t, err)
	require.NotNil(t, people.Timeout)
	assert.Equal(t, 5, *people.Timeout)
	require.NotNil(t, people.ThrowExceptions)
	assert.True(t, *people.ThrowExceptions)
}

func TestWithDefaultsOverride(t *testing.T) {
	cfg, err := Load(WithoutEnv(), WithDefaults(map[string]any{"app.name": "people-client"}))
	require.NoError(t, err)
	assert.Equal(t, "people-client", cfg.App.Name)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{name: "missing base address", yaml: "consumers:\n  people:\n    resource: p\n", field: "consumers.people.baseaddress"},
		{name: "relative base address", yaml: "consumers:\n  people:\n    baseaddress: /relative\n", field: "consumers.people.baseaddress"},
		{name: "auth without token url", yaml: "consumers:\n  people:\n    baseaddress: http://h.com\n    auth:\n      clientid: id\n", field: "consumers.people.auth.tokenurl"},
		{name: "unknown log level", yaml: "log:\n  level: loud\n", field: "log.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(WithoutEnv(), WithYAML([]byte(tt.yaml)))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestConsumerNotConfigured(t *testing.T) {
	cfg, err := Load(WithoutEnv())
	require.NoError(t, err)

	_, err = cfg.Consumer("orders")
	require.Error(t, err)
	assert.True(t, IsNotConfigured(err))
	assert.Contains(t, err.Error(), "RESTBRICKS_CONSUMERS_ORDERS_BASEADDRESS")
}

func TestConsumerBag(t *testing.T) {
	cfg, err := Load(WithoutEnv(), WithYAML([]byte(peopleYAML)))
	require.NoError(t, err)
	people, err := cfg.Consumer("people")
	require.NoError(t, err)

	bag := people.Bag()
	path, err := bag.String("resourcePath")
	require.NoError(t, err)
	assert.Equal(t, "api/", path)

	timeout, err := bag.Int("TIMEOUT")
	require.NoError(t, err)
	assert.Equal(t, 30, timeout)

	assert.False(t, bag.Has(KeyThrowExceptions))
	assert.False(t, bag.Has(KeyContentType))
}

func TestGetters(t *testing.T) {
	cfg := setupTestConfig(t, map[string]any{
		"custom.name":    "people",
		"custom.port":    "8080",
		"custom.enabled": "true",
		"custom.wait":    "1m30s",
		"custom.secs":    45,
		"custom.blank":   "  ",
		"custom.bad":     "oops",
	})

	assert.Equal(t, "people", cfg.GetString("custom.name"))
	assert.Equal(t, "fallback", cfg.GetString("custom.missing", "fallback"))
	assert.Equal(t, 8080, cfg.GetInt("custom.port"))
	assert.Equal(t, 7, cfg.GetInt("custom.bad", 7))
	assert.True(t, cfg.GetBool("custom.enabled"))
	assert.Equal(t, 90*time.Second, cfg.GetDuration("custom.wait"))
	assert.Equal(t, 45*time.Second, cfg.GetDuration("custom.secs"))
	assert.Equal(t, time.Second, cfg.GetDuration("custom.missing", time.Second))
	assert.True(t, cfg.Exists("custom.name"))

	v, err := cfg.GetRequiredString("custom.name")
	require.NoError(t, err)
	assert.Equal(t, "people", v)

	_, err = cfg.GetRequiredString("custom.blank")
	assert.ErrorContains(t, err, "is empty")
	_, err = cfg.GetRequiredString("custom.missing")
	assert.ErrorContains(t, err, "is missing")

	n, err := cfg.GetRequiredInt("custom.port")
	require.NoError(t, err)
	assert.Equal(t, 8080, n)
	_, err = cfg.GetRequiredInt("custom.bad")
	assert.ErrorContains(t, err, "is invalid")
}

func TestNilConfigGetters(t *testing.T) {
	var cfg *Config
	assert.Equal(t, "x", cfg.GetString("a", "x"))
	assert.False(t, cfg.Exists("a"))
	assert.Error(t, cfg.Unmarshal("a", &struct{}{}))
	_, err := cfg.Consumer("people")
	assert.Error(t, err)
}
