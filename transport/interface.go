// Package transport is the seam between the request executor and net/http.
// The executor only sees ClientFactory and Client; the default factory wraps
// a shared *http.Client with default headers, basic auth, interceptors and
// optional circuit breaking and rate limiting.
package transport

import (
	"context"
	"io"
	nethttp "net/http"
	"net/url"
	"strconv"
	"strings"
)

// Client sends one request. A client belongs to a single call's attempt
// sequence and is closed when that sequence ends.
type Client interface {
	Send(ctx context.Context, req *Request) (*RawResponse, error)
	Close() error
}

// ClientFactory builds a client per call.
type ClientFactory interface {
	BuildClient(ctx context.Context) (Client, error)
}

// Request is built once per call and may be sent several times.
type Request struct {
	Method  string
	URL     *url.URL
	Headers map[string]string
	Body    []byte
	Auth    *BasicAuth
}

// RawResponse is what came back on the wire. Body must be closed by the
// receiver.
type RawResponse struct {
	StatusCode int
	Status     string // e.g. "500 Internal Server Error"
	Headers    nethttp.Header
	Body       io.ReadCloser
}

// Reason returns the reason phrase of Status without the code prefix,
// e.g. "boom" for "500 boom".
func (r *RawResponse) Reason() string {
	code := strconv.Itoa(r.StatusCode)
	reason := strings.TrimSpace(strings.TrimPrefix(r.Status, code))
	if reason == "" {
		return nethttp.StatusText(r.StatusCode)
	}
	return reason
}

// Close closes the body; safe on nil responses and bodies.
func (r *RawResponse) Close() error {
	if r == nil || r.Body == nil {
		return nil
	}
	return r.Body.Close()
}

// BasicAuth contains basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// RequestInterceptor is called before sending the request
type RequestInterceptor func(ctx context.Context, req *nethttp.Request) error

// ResponseInterceptor is called after receiving the response
type ResponseInterceptor func(ctx context.Context, req *nethttp.Request, resp *nethttp.Response) error

// IsSuccessStatus checks if a status code represents success (2xx)
func IsSuccessStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}

// ClientFactoryFunc adapts a function to ClientFactory.
type ClientFactoryFunc func(ctx context.Context) (Client, error)

// BuildClient implements ClientFactory.
func (f ClientFactoryFunc) BuildClient(ctx context.Context) (Client, error) {
	return f(ctx)
}
