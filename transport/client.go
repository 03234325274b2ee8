package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	nethttp "net/http"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/gaborage/restbricks/logger"
	"github.com/gaborage/restbricks/trace"
)

// HTTPClientFactory is the default ClientFactory. It owns one *http.Client
// (and so one connection pool) per consumer scope and hands out lightweight
// clients per call.
type HTTPClientFactory struct {
	httpClient           *nethttp.Client
	logger               logger.Logger
	defaultHeaders       map[string]string
	basicAuth            *BasicAuth
	requestInterceptors  []RequestInterceptor
	responseInterceptors []ResponseInterceptor
	breaker              *breaker
	limiter              *rate.Limiter
	callCount            atomic.Int64
}

var _ ClientFactory = (*HTTPClientFactory)(nil)

// FactoryOption configures an HTTPClientFactory.
type FactoryOption func(*HTTPClientFactory)

// WithHTTPClient replaces the underlying *http.Client. Its Timeout should be
// zero; per-attempt deadlines come from the request context.
func WithHTTPClient(c *nethttp.Client) FactoryOption {
	return func(f *HTTPClientFactory) { f.httpClient = c }
}

// WithDefaultHeader adds a header sent with every request unless the
// request sets it.
func WithDefaultHeader(key, value string) FactoryOption {
	return func(f *HTTPClientFactory) { f.defaultHeaders[key] = value }
}

// WithDefaultHeaders adds several default headers.
func WithDefaultHeaders(headers map[string]string) FactoryOption {
	return func(f *HTTPClientFactory) {
		for k, v := range headers {
			f.defaultHeaders[k] = v
		}
	}
}

// WithBasicAuth sets basic authentication credentials
func WithBasicAuth(username, password string) FactoryOption {
	return func(f *HTTPClientFactory) {
		f.basicAuth = &BasicAuth{Username: username, Password: password}
	}
}

// WithRequestInterceptor adds a request interceptor
func WithRequestInterceptor(interceptor RequestInterceptor) FactoryOption {
	return func(f *HTTPClientFactory) {
		f.requestInterceptors = append(f.requestInterceptors, interceptor)
	}
}

// WithResponseInterceptor adds a response interceptor
func WithResponseInterceptor(interceptor ResponseInterceptor) FactoryOption {
	return func(f *HTTPClientFactory) {
		f.responseInterceptors = append(f.responseInterceptors, interceptor)
	}
}

// WithRateLimit caps outgoing requests to limit per second with the given
// burst. Callers wait for a token; a cancelled context aborts the wait.
func WithRateLimit(limit rate.Limit, burst int) FactoryOption {
	return func(f *HTTPClientFactory) { f.limiter = rate.NewLimiter(limit, burst) }
}

// NewHTTPClientFactory creates the default factory.
func NewHTTPClientFactory(log logger.Logger, opts ...FactoryOption) *HTTPClientFactory {
	if log == nil {
		log = logger.Nop()
	}
	f := &HTTPClientFactory{
		httpClient:     &nethttp.Client{},
		logger:         log,
		defaultHeaders: make(map[string]string),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// BuildClient implements ClientFactory.
func (f *HTTPClientFactory) BuildClient(_ context.Context) (Client, error) {
	return &client{factory: f}, nil
}

// Close releases idle connections of the shared pool.
func (f *HTTPClientFactory) Close() error {
	f.httpClient.CloseIdleConnections()
	return nil
}

// CallCount returns how many requests were sent through this factory.
func (f *HTTPClientFactory) CallCount() int64 {
	return f.callCount.Load()
}

// client implements the Client interface for one call
type client struct {
	factory *HTTPClientFactory
	closed  atomic.Bool
}

// Send performs one attempt.
func (c *client) Send(ctx context.Context, req *Request) (*RawResponse, error) {
	if c.closed.Load() {
		return nil, NewNetworkError("send", ErrClientClosed)
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	f := c.factory
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil, NewNetworkError("waiting for rate limiter", ctx.Err())
			}
			if _, hasDeadline := ctx.Deadline(); hasDeadline {
				return nil, NewTimeoutError("waiting for rate limiter", 0, context.DeadlineExceeded)
			}
			return nil, &guardError{kind: RateLimitError, wrapped: err}
		}
	}

	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	callCount := f.callCount.Add(1)
	start := time.Now()
	f.logRequest(httpReq, req, callCount)

	httpResp, err := f.breaker.execute(func() (*nethttp.Response, error) {
		return f.httpClient.Do(httpReq)
	})
	if err != nil {
		if isGuardRejection(err) {
			return nil, &guardError{kind: CircuitOpenError, wrapped: err}
		}
		if IsTimeout(err) {
			return nil, NewTimeoutError("request timeout", 0, err)
		}
		return nil, NewNetworkError("request execution failed", err)
	}

	if err := f.runResponseInterceptors(ctx, httpReq, httpResp); err != nil {
		_ = httpResp.Body.Close()
		return nil, NewInterceptorError("response interceptor failed", "response", err)
	}

	f.logResponse(httpResp, time.Since(start), callCount)
	return &RawResponse{
		StatusCode: httpResp.StatusCode,
		Status:     httpResp.Status,
		Headers:    httpResp.Header,
		Body:       httpResp.Body,
	}, nil
}

// Close marks the client unusable. The pooled connections belong to the
// factory.
func (c *client) Close() error {
	c.closed.Store(true)
	return nil
}

func validateRequest(req *Request) error {
	if req == nil {
		return NewValidationError("request cannot be nil", "request")
	}
	if req.URL == nil || req.URL.String() == "" {
		return NewValidationError("URL cannot be empty", "url")
	}
	if req.Method == "" {
		return NewValidationError("method cannot be empty", "method")
	}
	return nil
}

// buildRequest constructs an *http.Request, applies headers/auth, and runs request interceptors.
func (c *client) buildRequest(ctx context.Context, req *Request) (*nethttp.Request, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := nethttp.NewRequestWithContext(ctx, req.Method, req.URL.String(), body)
	if err != nil {
		return nil, NewNetworkError("failed to create HTTP request", err)
	}

	f := c.factory
	for key, value := range f.defaultHeaders {
		httpReq.Header.Set(key, value)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}
	trace.InjectHeaders(ctx, httpReq.Header)

	auth := req.Auth
	if auth == nil {
		auth = f.basicAuth
	}
	if auth != nil {
		httpReq.SetBasicAuth(auth.Username, auth.Password)
	}

	for _, interceptor := range f.requestInterceptors {
		if err := interceptor(ctx, httpReq); err != nil {
			return nil, NewInterceptorError("request interceptor failed", "request", err)
		}
	}
	return httpReq, nil
}

func (f *HTTPClientFactory) runResponseInterceptors(ctx context.Context, req *nethttp.Request, resp *nethttp.Response) error {
	for _, interceptor := range f.responseInterceptors {
		if err := interceptor(ctx, req, resp); err != nil {
			return err
		}
	}
	return nil
}

func (f *HTTPClientFactory) logRequest(httpReq *nethttp.Request, req *Request, callCount int64) {
	f.logger.Debug().
		Str("direction", "outbound").
		Str("method", httpReq.Method).
		Str("url", httpReq.URL.String()).
		Interface("headers", map[string][]string(httpReq.Header)).
		Int("body_bytes", len(req.Body)).
		Int64("call_count", callCount).
		Msg("transport request")
}

func (f *HTTPClientFactory) logResponse(resp *nethttp.Response, elapsed time.Duration, callCount int64) {
	f.logger.Debug().
		Str("direction", "inbound").
		Int("status", resp.StatusCode).
		Dur("elapsed", elapsed).
		Int64("call_count", callCount).
		Msg("transport response")
}
