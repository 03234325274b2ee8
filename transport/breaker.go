package transport

import (
	"errors"
	nethttp "net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

// CircuitBreakerSettings configures the per-consumer breaker. The breaker
// opens after ConsecutiveFailures failed attempts; transport errors and 5xx
// responses count as failures.
type CircuitBreakerSettings struct {
	Name                string
	MaxRequests         uint32        // requests allowed while half-open
	ConsecutiveFailures uint32        // failures that trip the breaker
	Interval            time.Duration // closed-state count reset period, 0 keeps counts
	Timeout             time.Duration // open-state duration before half-open
	OnStateChange       func(name string, from, to gobreaker.State)
}

// WithCircuitBreaker guards every attempt with a circuit breaker shared by
// all clients of the factory.
func WithCircuitBreaker(s CircuitBreakerSettings) FactoryOption {
	return func(f *HTTPClientFactory) { f.breaker = newBreaker(s) }
}

type breaker struct {
	cb *gobreaker.CircuitBreaker[*nethttp.Response]
}

// serverFailure carries a 5xx response through the breaker so it is
// counted as a failure but still returned to the caller.
type serverFailure struct {
	resp *nethttp.Response
}

func (e *serverFailure) Error() string { return "server failure: " + e.resp.Status }

func newBreaker(s CircuitBreakerSettings) *breaker {
	threshold := s.ConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}
	name := s.Name
	if name == "" {
		name = "restbricks transport"
	}
	return &breaker{
		cb: gobreaker.NewCircuitBreaker[*nethttp.Response](gobreaker.Settings{
			Name:        name,
			MaxRequests: s.MaxRequests,
			Interval:    s.Interval,
			Timeout:     s.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: s.OnStateChange,
		}),
	}
}

// execute runs do through the breaker; a nil breaker runs do directly.
func (b *breaker) execute(do func() (*nethttp.Response, error)) (*nethttp.Response, error) {
	if b == nil {
		return do()
	}
	resp, err := b.cb.Execute(func() (*nethttp.Response, error) {
		resp, err := do()
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= nethttp.StatusInternalServerError {
			return nil, &serverFailure{resp: resp}
		}
		return resp, nil
	})
	var failure *serverFailure
	if errors.As(err, &failure) {
		return failure.resp, nil
	}
	return resp, err
}

// State reports the breaker state, or StateClosed when none is configured.
func (f *HTTPClientFactory) State() gobreaker.State {
	if f.breaker == nil {
		return gobreaker.StateClosed
	}
	return f.breaker.cb.State()
}

func isGuardRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
