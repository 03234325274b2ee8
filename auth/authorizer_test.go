package auth

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	calls    atomic.Int32
	delay    time.Duration
	lifetime time.Duration
	err      error
}

func (s *countingSource) FetchToken(ctx context.Context) (*Token, error) {
	n := s.calls.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return nil, s.err
	}
	return &Token{AccessToken: fmt.Sprintf("token-%d", n), ExpiresIn: s.lifetime}, nil
}

func TestTokenFastPathSkipsFetch(t *testing.T) {
	src := &countingSource{lifetime: time.Hour}
	a := NewAuthorizer(src)
	defer a.Close()

	first, err := a.Token(context.Background())
	require.NoError(t, err)
	second, err := a.Token(context.Background())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, "Bearer", first.TokenType)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestConcurrentCallersRefreshOnce(t *testing.T) {
	src := &countingSource{lifetime: time.Hour, delay: 20 * time.Millisecond}
	a := NewAuthorizer(src)
	defer a.Close()

	var wg sync.WaitGroup
	tokens := make([]string, 16)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := a.Token(context.Background())
			if assert.NoError(t, err) {
				tokens[i] = tok.AccessToken
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), src.calls.Load())
	for _, tok := range tokens {
		assert.Equal(t, "token-1", tok)
	}
}

func TestExpiryFlagsTokenWithoutAutoRenew(t *testing.T) {
	src := &countingSource{lifetime: 40 * time.Millisecond}
	a := NewAuthorizer(src, WithLeeway(0))
	defer a.Close()

	_, err := a.Token(context.Background())
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.expired
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), src.calls.Load(), "no renewal without a caller")

	tok, err := a.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-2", tok.AccessToken)
}

func TestAutoRenewRefreshesInBackground(t *testing.T) {
	src := &countingSource{lifetime: 30 * time.Millisecond}
	a := NewAuthorizer(src, WithLeeway(0), WithAutoRenew(true))
	defer a.Close()

	_, err := a.Token(context.Background())
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return src.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestLeewayShortensLifetime(t *testing.T) {
	src := &countingSource{lifetime: time.Minute}
	a := NewAuthorizer(src)
	defer a.Close()

	_, err := a.Token(context.Background())
	require.NoError(t, err)
	a.mu.Lock()
	expiresAt := a.expiresAt
	a.mu.Unlock()
	assert.WithinDuration(t, time.Now().Add(time.Minute-DefaultLeeway), expiresAt, time.Second)
}

func TestShortLivedTokenIsCached(t *testing.T) {
	src := &countingSource{lifetime: 5 * time.Second}
	a := NewAuthorizer(src)
	defer a.Close()

	for range 5 {
		_, err := a.Token(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), src.calls.Load())

	a.mu.Lock()
	expiresAt := a.expiresAt
	a.mu.Unlock()
	assert.WithinDuration(t, time.Now().Add(2500*time.Millisecond), expiresAt, time.Second)
}

func TestJWTExpiryFallback(t *testing.T) {
	signed := func(exp time.Time) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)})
		s, err := tok.SignedString([]byte("test-key"))
		require.NoError(t, err)
		return s
	}

	valid := signed(time.Now().Add(time.Hour))
	a := NewAuthorizer(TokenSourceFunc(func(context.Context) (*Token, error) {
		return &Token{AccessToken: valid}, nil
	}))
	defer a.Close()

	_, err := a.Token(context.Background())
	require.NoError(t, err)
	a.mu.Lock()
	expiresAt := a.expiresAt
	a.mu.Unlock()
	assert.WithinDuration(t, time.Now().Add(time.Hour-DefaultLeeway), expiresAt, 5*time.Second)

	var fetches atomic.Int32
	stale := signed(time.Now().Add(-time.Minute))
	b := NewAuthorizer(TokenSourceFunc(func(context.Context) (*Token, error) {
		fetches.Add(1)
		return &Token{AccessToken: stale}, nil
	}))
	defer b.Close()

	_, err = b.Token(context.Background())
	require.NoError(t, err)
	_, err = b.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), fetches.Load())
}

func TestOpaqueTokenWithoutLifetimeIsCached(t *testing.T) {
	src := &countingSource{}
	a := NewAuthorizer(src)
	defer a.Close()

	for range 3 {
		_, err := a.Token(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), src.calls.Load())

	a.Invalidate()
	_, err := a.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, a.Fetches())
}

func TestTokenErrors(t *testing.T) {
	boom := errors.New("idp down")
	a := NewAuthorizer(&countingSource{err: boom})
	defer a.Close()

	_, err := a.Token(context.Background())
	assert.ErrorIs(t, err, boom)

	empty := NewAuthorizer(TokenSourceFunc(func(context.Context) (*Token, error) { return &Token{}, nil }))
	defer empty.Close()
	_, err = empty.Token(context.Background())
	assert.ErrorIs(t, err, ErrEmptyToken)
}

func TestCloseStopsAuthorizer(t *testing.T) {
	src := &countingSource{lifetime: 20 * time.Millisecond}
	a := NewAuthorizer(src, WithLeeway(0), WithAutoRenew(true))

	_, err := a.Token(context.Background())
	require.NoError(t, err)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	calls := src.calls.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, calls, src.calls.Load(), "no renewal after Close")

	_, err = a.Token(context.Background())
	assert.ErrorIs(t, err, ErrAuthorizerClosed)
}

func TestInterceptorSetsAuthorizationHeader(t *testing.T) {
	a := NewAuthorizer(&countingSource{lifetime: time.Hour})
	defer a.Close()

	req := httptest.NewRequest(nethttp.MethodGet, "http://h.com/people", nil)
	require.NoError(t, a.Interceptor()(context.Background(), req))
	assert.Equal(t, "Bearer token-1", req.Header.Get("Authorization"))

	require.NoError(t, a.Close())
	assert.ErrorIs(t, a.Interceptor()(context.Background(), req), ErrAuthorizerClosed)
}

func TestClientCredentialsFetchToken(t *testing.T) {
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		assert.Equal(t, nethttp.MethodPost, r.Method)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "people.read people.write", r.PostForm.Get("scope"))
		id, secret, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "client", id)
		assert.Equal(t, "s3cret", secret)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"abc","token_type":"bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	src := &ClientCredentials{
		TokenURL:     srv.URL,
		ClientID:     "client",
		ClientSecret: "s3cret",
		Scopes:       []string{"people.read", "people.write"},
	}
	tok, err := src.FetchToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", tok.AccessToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.Equal(t, time.Hour, tok.ExpiresIn)
}

func TestClientCredentialsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.WriteHeader(nethttp.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := (&ClientCredentials{TokenURL: srv.URL, ClientID: "c"}).FetchToken(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
