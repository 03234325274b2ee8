// Package auth caches bearer credentials for outgoing calls.
//
// An Authorizer holds one token and its expiry (reported lifetime minus a
// leeway so renewal happens early). Token returns the cached value while it
// is fresh; otherwise it fetches a new one. The mutex spans the whole
// check-then-refresh sequence, so concurrent callers of an expired token
// trigger exactly one fetch. A background goroutine, stopped by Close, either
// renews the token at expiry or flags it expired for the next caller.
package auth

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gaborage/restbricks/logger"
	"github.com/gaborage/restbricks/transport"
)

// DefaultLeeway is subtracted from a token's lifetime.
const DefaultLeeway = 10 * time.Second

var (
	ErrAuthorizerClosed = errors.New("authorizer closed")
	ErrEmptyToken       = errors.New("token source returned an empty access token")
)

// Token is a bearer credential.
type Token struct {
	AccessToken string
	TokenType   string // defaults to "Bearer"
	// ExpiresIn is the reported lifetime. When zero the JWT exp claim of
	// AccessToken is used instead.
	ExpiresIn time.Duration
}

// TokenSource fetches a new token.
type TokenSource interface {
	FetchToken(ctx context.Context) (*Token, error)
}

// TokenSourceFunc adapts a function to TokenSource.
type TokenSourceFunc func(ctx context.Context) (*Token, error)

// FetchToken implements TokenSource.
func (f TokenSourceFunc) FetchToken(ctx context.Context) (*Token, error) { return f(ctx) }

// Option configures an Authorizer.
type Option func(*Authorizer)

// WithLeeway overrides DefaultLeeway.
func WithLeeway(d time.Duration) Option {
	return func(a *Authorizer) {
		if d >= 0 {
			a.leeway = d
		}
	}
}

// WithAutoRenew makes the background goroutine fetch a new token at expiry
// instead of only flagging the cached one expired.
func WithAutoRenew(enabled bool) Option {
	return func(a *Authorizer) { a.autoRenew = enabled }
}

// WithLogger sets the logger used for refresh diagnostics.
func WithLogger(log logger.Logger) Option {
	return func(a *Authorizer) {
		if log != nil {
			a.log = log
		}
	}
}

// Authorizer caches a token from a TokenSource.
type Authorizer struct {
	source    TokenSource
	log       logger.Logger
	leeway    time.Duration
	autoRenew bool

	mu        sync.Mutex
	token     *Token
	expiresAt time.Time // zero when the lifetime is unknown
	expired   bool
	closed    bool
	fetches   int

	schedule  chan time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewAuthorizer creates an Authorizer and starts its renewal goroutine.
func NewAuthorizer(source TokenSource, opts ...Option) *Authorizer {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Authorizer{
		source:   source,
		log:      logger.Nop(),
		leeway:   DefaultLeeway,
		schedule: make(chan time.Time, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(a)
	}

	a.wg.Add(1)
	go a.renewLoop()
	return a
}

// Token returns the cached token while it is fresh and fetches a new one
// otherwise.
func (a *Authorizer) Token(ctx context.Context) (*Token, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, ErrAuthorizerClosed
	}
	if a.freshLocked() {
		return a.token, nil
	}
	return a.refreshLocked(ctx)
}

// Invalidate flags the cached token expired, e.g. after a 401.
func (a *Authorizer) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.expired = true
}

// Fetches returns how many tokens were fetched from the source.
func (a *Authorizer) Fetches() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fetches
}

// Interceptor returns a request interceptor that sets the Authorization
// header from the current token.
func (a *Authorizer) Interceptor() transport.RequestInterceptor {
	return func(ctx context.Context, req *nethttp.Request) error {
		tok, err := a.Token(ctx)
		if err != nil {
			return fmt.Errorf("authorizing request: %w", err)
		}
		req.Header.Set("Authorization", tok.TokenType+" "+tok.AccessToken)
		return nil
	}
}

// Close stops the renewal goroutine. Token fails afterwards.
func (a *Authorizer) Close() error {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		a.mu.Unlock()

		a.cancel()
		a.wg.Wait()
	})
	return nil
}

func (a *Authorizer) freshLocked() bool {
	if a.token == nil || a.expired {
		return false
	}
	return a.expiresAt.IsZero() || time.Now().Before(a.expiresAt)
}

func (a *Authorizer) refreshLocked(ctx context.Context) (*Token, error) {
	tok, err := a.source.FetchToken(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("token refresh failed")
		return nil, fmt.Errorf("fetching token: %w", err)
	}
	if tok == nil || tok.AccessToken == "" {
		return nil, ErrEmptyToken
	}

	cp := *tok
	if cp.TokenType == "" {
		cp.TokenType = "Bearer"
	}

	issued := time.Now()
	lifetime, known := cp.ExpiresIn, cp.ExpiresIn > 0
	if !known {
		lifetime, known = jwtLifetime(cp.AccessToken, issued)
	}

	a.token = &cp
	a.expired = false
	a.fetches++
	a.expiresAt = time.Time{}
	if known {
		a.expiresAt = issued.Add(lifetime)
		if lifetime > 0 {
			// Short-lived tokens keep at least half their lifetime.
			a.expiresAt = a.expiresAt.Add(-min(a.leeway, lifetime/2))
			a.reschedule(a.expiresAt)
		}
	}

	a.log.Debug().
		Dur("lifetime", lifetime).
		Bool("auto_renew", a.autoRenew).
		Msg("token refreshed")
	return a.token, nil
}

// reschedule replaces any pending expiry with at.
func (a *Authorizer) reschedule(at time.Time) {
	select {
	case <-a.schedule:
	default:
	}
	a.schedule <- at
}

func (a *Authorizer) renewLoop() {
	defer a.wg.Done()

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-a.ctx.Done():
			return
		case at := <-a.schedule:
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(time.Until(at))
			fire = timer.C
		case <-fire:
			fire = nil
			a.onExpiry()
		}
	}
}

func (a *Authorizer) onExpiry() {
	a.mu.Lock()
	defer a.mu.Unlock()

	// A refresh may have happened after this timer was armed.
	if a.closed || (!a.expiresAt.IsZero() && time.Now().Before(a.expiresAt)) {
		return
	}
	if !a.autoRenew {
		a.expired = true
		return
	}
	if _, err := a.refreshLocked(a.ctx); err != nil {
		a.expired = true
	}
}

// jwtLifetime reads the exp claim without verifying the signature; the
// token is only inspected, never trusted.
func jwtLifetime(raw string, now time.Time) (time.Duration, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return 0, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0, false
	}
	return exp.Sub(now), true
}
