package testutil

import (
	"context"
	"io"
	nethttp "net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gaborage/restbricks/transport"
)

// Step answers one Send of a ScriptedFactory client.
type Step func(ctx context.Context, req *transport.Request) (*transport.RawResponse, error)

// Respond returns a step answering with status, reason phrase and body.
func Respond(status int, reason, body string) Step {
	return func(context.Context, *transport.Request) (*transport.RawResponse, error) {
		return NewRawResponse(status, reason, body), nil
	}
}

// RespondWith returns a step answering with raw.
func RespondWith(raw *transport.RawResponse) Step {
	return func(context.Context, *transport.Request) (*transport.RawResponse, error) {
		return raw, nil
	}
}

// TimeOut returns a step failing immediately with a transport timeout.
func TimeOut() Step {
	return func(context.Context, *transport.Request) (*transport.RawResponse, error) {
		return nil, transport.NewTimeoutError("request timeout", 0, context.DeadlineExceeded)
	}
}

// Block returns a step that waits for the attempt context to end and
// reports it the way the net/http client does.
func Block() Step {
	return func(ctx context.Context, _ *transport.Request) (*transport.RawResponse, error) {
		<-ctx.Done()
		if ctx.Err() == context.DeadlineExceeded {
			return nil, transport.NewTimeoutError("request timeout", 0, ctx.Err())
		}
		return nil, transport.NewNetworkError("request execution failed", ctx.Err())
	}
}

// Fail returns a step failing with err.
func Fail(err error) Step {
	return func(context.Context, *transport.Request) (*transport.RawResponse, error) {
		return nil, err
	}
}

// TrackedBody is a response body that records Close.
type TrackedBody struct {
	io.Reader
	closed atomic.Int32
}

// Close implements io.Closer.
func (b *TrackedBody) Close() error {
	b.closed.Add(1)
	return nil
}

// Closed reports how many times Close was called.
func (b *TrackedBody) Closed() int { return int(b.closed.Load()) }

// NewRawResponse builds a raw response with a TrackedBody.
func NewRawResponse(status int, reason, body string) *transport.RawResponse {
	if reason == "" {
		reason = nethttp.StatusText(status)
	}
	return &transport.RawResponse{
		StatusCode: status,
		Status:     strconv.Itoa(status) + " " + reason,
		Headers:    nethttp.Header{},
		Body:       &TrackedBody{Reader: strings.NewReader(body)},
	}
}

// ScriptedFactory builds clients that answer Sends from a shared script,
// one step per Send. Sends past the end repeat the last step.
type ScriptedFactory struct {
	mu       sync.Mutex
	steps    []Step
	requests []*transport.Request
	next     int

	builds  atomic.Int32
	closes  atomic.Int32
	BuildFn func(ctx context.Context) error
}

var _ transport.ClientFactory = (*ScriptedFactory)(nil)

// NewScriptedFactory creates a factory replaying steps.
func NewScriptedFactory(steps ...Step) *ScriptedFactory {
	return &ScriptedFactory{steps: steps}
}

// BuildClient implements transport.ClientFactory.
func (f *ScriptedFactory) BuildClient(ctx context.Context) (transport.Client, error) {
	if f.BuildFn != nil {
		if err := f.BuildFn(ctx); err != nil {
			return nil, err
		}
	}
	f.builds.Add(1)
	return &scriptedClient{factory: f}, nil
}

// Attempts returns the number of Sends.
func (f *ScriptedFactory) Attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// Requests returns the sent requests in order.
func (f *ScriptedFactory) Requests() []*transport.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*transport.Request(nil), f.requests...)
}

// Builds returns the number of clients built.
func (f *ScriptedFactory) Builds() int { return int(f.builds.Load()) }

// Closes returns the number of clients closed.
func (f *ScriptedFactory) Closes() int { return int(f.closes.Load()) }

func (f *ScriptedFactory) step(req *transport.Request) Step {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)
	if len(f.steps) == 0 {
		return Respond(nethttp.StatusOK, "", "")
	}
	i := min(f.next, len(f.steps)-1)
	f.next++
	return f.steps[i]
}

type scriptedClient struct {
	factory *ScriptedFactory
	closed  atomic.Bool
}

func (c *scriptedClient) Send(ctx context.Context, req *transport.Request) (*transport.RawResponse, error) {
	if c.closed.Load() {
		return nil, transport.NewNetworkError("send", transport.ErrClientClosed)
	}
	return c.factory.step(req)(ctx, req)
}

func (c *scriptedClient) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.factory.closes.Add(1)
	}
	return nil
}
