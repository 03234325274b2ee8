package settings

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/restbricks/apierr"
	"github.com/gaborage/restbricks/config"
)

const testBase = "http://h.com"

func TestSourceCombinesBasePathAndResource(t *testing.T) {
	s, err := New(testBase, "People", WithResourcePath("api/"))
	require.NoError(t, err)

	assert.Equal(t, "http://h.com/api/People", s.String())
	assert.Equal(t, "http://h.com/api/People", s.Source().String())
	assert.Equal(t, "People", s.Resource())
	assert.Equal(t, "api/", s.ResourcePath())
	assert.Equal(t, DefaultTimeout, s.Timeout())
	assert.Equal(t, 0, s.RetryAttempts())
}

func TestNormalization(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		resource string
		path     string
		want     string
	}{
		{name: "resource slashes trimmed", base: testBase, resource: "/People/", path: "api/", want: "http://h.com/api/People"},
		{name: "path gets trailing slash", base: testBase, resource: "People", path: "api", want: "http://h.com/api/People"},
		{name: "path leading slash dropped", base: testBase, resource: "People", path: "/api/v2", want: "http://h.com/api/v2/People"},
		{name: "base trailing slash", base: "http://h.com/", resource: "People", path: "", want: "http://h.com/People"},
		{name: "base with path", base: "http://h.com/root/", resource: "People", path: "api/", want: "http://h.com/root/api/People"},
		{name: "no resource", base: testBase, resource: "", path: "api/", want: "http://h.com/api/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.base, tt.resource, WithResourcePath(tt.path))
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.String())
		})
	}
}

func TestOmittedValuesFallBackToHandlerConfiguration(t *testing.T) {
	h := DefaultHandlerConfiguration()
	h.ResourcePath = "api/"
	h.Timeout = 12 * time.Second
	h.RetryCount = 4

	s, err := h.NewConnectionSettings(testBase, "People")
	require.NoError(t, err)
	assert.Equal(t, "http://h.com/api/People", s.String())
	assert.Equal(t, 12*time.Second, s.Timeout())
	assert.Equal(t, 4, s.RetryAttempts())

	explicit, err := h.NewConnectionSettings(testBase, "People", WithResourcePath("v2/"), WithTimeout(time.Second), WithRetryAttempts(0))
	require.NoError(t, err)
	assert.Equal(t, "http://h.com/v2/People", explicit.String())
	assert.Equal(t, time.Second, explicit.Timeout())
	assert.Equal(t, 0, explicit.RetryAttempts())
}

func TestConstructionValidation(t *testing.T) {
	tests := []struct {
		name  string
		base  string
		opts  []Option
		field string
	}{
		{name: "zero timeout", base: testBase, opts: []Option{WithTimeout(0)}, field: "Timeout"},
		{name: "negative timeout", base: testBase, opts: []Option{WithTimeout(-time.Second)}, field: "Timeout"},
		{name: "negative retries", base: testBase, opts: []Option{WithRetryAttempts(-1)}, field: "RetryAttempts"},
		{name: "empty base", base: "", field: "BaseAddress"},
		{name: "relative base", base: "not a url", field: "BaseAddress"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.base, "People", tt.opts...)
			require.Error(t, err)
			assert.Nil(t, s)
			assert.True(t, apierr.IsKind(err, apierr.Validation))

			var apiErr *apierr.Error
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.field, apiErr.Field)
		})
	}
}

func TestWithMethodsRevalidateAndCopy(t *testing.T) {
	s, err := New(testBase, "People")
	require.NoError(t, err)

	longer, err := s.WithTimeout(time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, longer.Timeout())
	assert.Equal(t, DefaultTimeout, s.Timeout(), "original must not change")

	retried, err := s.WithRetryAttempts(3)
	require.NoError(t, err)
	assert.Equal(t, 3, retried.RetryAttempts())
	assert.Equal(t, 0, s.RetryAttempts())

	_, err = s.WithTimeout(0)
	assert.True(t, apierr.IsKind(err, apierr.Validation))

	_, err = s.WithRetryAttempts(-1)
	assert.True(t, apierr.IsKind(err, apierr.Validation))
}

func TestAccessorsReturnCopies(t *testing.T) {
	s, err := New(testBase, "People")
	require.NoError(t, err)

	s.BaseAddress().Host = "evil.com"
	s.Source().Path = "/changed"
	assert.Equal(t, "http://h.com/People", s.String())
}

func TestHandlerConfigurationApply(t *testing.T) {
	h := DefaultHandlerConfiguration()
	h.RequestHeaders["Accept"] = "application/json"

	err := h.Apply(config.Bag{
		"resourcepath":    "api/",
		"TIMEOUT":         "15",
		"RetryAttempts":   2,
		"ThrowExceptions": true,
		"ContentType":     "application/cbor",
		"RequestHeaders":  map[string]any{"X-Client": "people"},
	})
	require.NoError(t, err)

	assert.Equal(t, "api/", h.ResourcePath)
	assert.Equal(t, 15*time.Second, h.Timeout)
	assert.Equal(t, 2, h.RetryCount)
	assert.True(t, h.ThrowExceptions)
	assert.Equal(t, "application/cbor", h.ContentType)
	assert.Equal(t, map[string]string{"Accept": "application/json", "X-Client": "people"}, h.RequestHeaders)
}

func TestHandlerConfigurationApplyKeepsUnsetValues(t *testing.T) {
	h := DefaultHandlerConfiguration()
	require.NoError(t, h.Apply(config.Bag{}))
	assert.Equal(t, DefaultHandlerConfiguration(), h)
}

func TestHandlerConfigurationApplyRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		bag  config.Bag
		kind apierr.Kind
	}{
		{name: "zero timeout", bag: config.Bag{config.KeyTimeout: 0}, kind: apierr.Validation},
		{name: "negative retries", bag: config.Bag{config.KeyRetryAttempts: -1}, kind: apierr.Validation},
		{name: "timeout not a number", bag: config.Bag{config.KeyTimeout: "soon"}, kind: apierr.Configuration},
		{name: "headers wrong type", bag: config.Bag{config.KeyRequestHeaders: 7}, kind: apierr.Configuration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := DefaultHandlerConfiguration().Apply(tt.bag)
			require.Error(t, err)
			assert.True(t, apierr.IsKind(err, tt.kind))
		})
	}
}

func TestHandlerConfigurationClone(t *testing.T) {
	h := DefaultHandlerConfiguration()
	h.RequestHeaders["A"] = "1"

	cp := h.Clone()
	cp.RequestHeaders["B"] = "2"
	cp.Timeout = time.Second

	assert.NotContains(t, h.RequestHeaders, "B")
	assert.Equal(t, DefaultTimeout, h.Timeout)
}
