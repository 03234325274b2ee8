// Package retry decides which failed attempts of a call are tried again and
// how long to wait in between.
//
// The executor bounds the number of attempts with the consumer's
// RetryAttempts setting; a Policy only classifies errors and spaces attempts.
//
// Backoff Strategy (Exponential)
//   - delay = Base * 2^attempt, capped at Max (30s when unset)
//   - full jitter: the actual wait is random in [0, delay)
package retry

import (
	"context"
	crand "crypto/rand"
	"math/big"
	"time"

	"github.com/gaborage/restbricks/transport"
)

// DefaultMaxBackoff caps exponential delays.
const DefaultMaxBackoff = 30 * time.Second

// Policy classifies attempt errors and computes the wait before the next
// attempt. attempt is zero-based: Backoff(0) is the wait after the first
// failed attempt.
type Policy interface {
	Retryable(err error) bool
	Backoff(attempt int) time.Duration
}

// Default retries transport timeouts immediately and nothing else.
type Default struct{}

var _ Policy = Default{}

// Retryable reports whether err is an attempt timeout.
func (Default) Retryable(err error) bool {
	return transport.IsTimeout(err)
}

// Backoff is always zero.
func (Default) Backoff(int) time.Duration { return 0 }

// Exponential retries timeouts, and optionally network errors, with
// exponential backoff and full jitter.
type Exponential struct {
	Base time.Duration
	Max  time.Duration
	// RetryNetworkErrors also retries connection-level failures. Breaker
	// and rate-limit rejections are never retried.
	RetryNetworkErrors bool
}

var _ Policy = Exponential{}

// Retryable implements Policy.
func (p Exponential) Retryable(err error) bool {
	if transport.IsTimeout(err) {
		return true
	}
	return p.RetryNetworkErrors && transport.IsErrorType(err, transport.NetworkError)
}

// Backoff returns a random delay in [0, Base*2^attempt).
func (p Exponential) Backoff(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = 50 * time.Millisecond
	}
	maxBackoff := p.Max
	if maxBackoff <= 0 {
		maxBackoff = DefaultMaxBackoff
	}
	// Cap attempt to avoid overflow when computing multiplier
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 20 {
		attempt = 20
	}
	d := base * time.Duration(1<<attempt)
	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}
	n, err := crand.Int(crand.Reader, big.NewInt(int64(d)))
	if err != nil {
		// On RNG failure, fall back to the full delay
		return d
	}
	return time.Duration(n.Int64())
}

// Wait sleeps for d or until ctx is done, whichever comes first.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
