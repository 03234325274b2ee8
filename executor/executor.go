// Package executor runs calls against a consumer's API using the
// collaborators resolved from its configuration scope.
//
// One call moves through Building, Attempting and then either Succeeded,
// Retrying (back to Attempting) or Exhausted:
//
//   - the request is built and validated before the client factory is touched
//   - every attempt runs under the consumer's Timeout
//   - attempts the retry policy accepts are repeated until RetryAttempts
//     attempts were made (at least one)
//   - transport and processing failures become a failed response.Response
//     unless the consumer sets ThrowExceptions
//
// The client built for a call and every raw response are closed on all
// exit paths.
//
//	exec, err := executor.For[People](manager)
//	res, err := executor.GetAs[[]Person](ctx, exec, "", url.Values{"page": {"1"}})
package executor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.32.0"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/gaborage/restbricks/apierr"
	"github.com/gaborage/restbricks/configuration"
	"github.com/gaborage/restbricks/container"
	"github.com/gaborage/restbricks/events"
	"github.com/gaborage/restbricks/internal/tracking"
	"github.com/gaborage/restbricks/logger"
	"github.com/gaborage/restbricks/response"
	"github.com/gaborage/restbricks/retry"
	"github.com/gaborage/restbricks/routing"
	"github.com/gaborage/restbricks/serialization"
	"github.com/gaborage/restbricks/settings"
	"github.com/gaborage/restbricks/transport"
)

const (
	tracerName = "github.com/gaborage/restbricks/executor"

	opExecute = "executor.execute"

	// MessageTimedOut is the Message of a call whose attempts all timed out.
	MessageTimedOut = "request timed out"
	// MessageTransportError is the Message of a call that failed in transport.
	MessageTransportError = "transport error"
	// MessageProcessingFailed is the Message of a call whose response could
	// not be mapped.
	MessageProcessingFailed = "failed to process response"

	attrConsumer = "restbricks.consumer"
	attrAttempts = "restbricks.attempts"
)

// Executor issues calls for one consumer. It is safe for concurrent use;
// every call gets its own transport client.
type Executor struct {
	consumer   configuration.Consumer
	connection *settings.ConnectionSettings
	handlerCfg *settings.HandlerConfiguration

	clients    transport.ClientFactory
	handler    response.Handler
	serializer serialization.Serializer
	routes     routing.RouteFactory
	queries    routing.QueryFactory
	policy     retry.Policy
	relay      *events.Relay
	log        logger.Logger
}

// New resolves the executor's collaborators from s.
func New(s *configuration.ApiSettings) (*Executor, error) {
	if s == nil || s.Connection == nil || s.Resolver == nil {
		return nil, apierr.NewConfigurationError("executor.new", "ApiSettings", "settings are incomplete", nil)
	}

	e := &Executor{
		consumer:   s.Consumer,
		connection: s.Connection,
		handlerCfg: s.Handler,
	}
	if e.handlerCfg == nil {
		e.handlerCfg = settings.DefaultHandlerConfiguration()
	}

	var err error
	if e.clients, err = container.Resolve[transport.ClientFactory](s.Resolver); err != nil {
		return nil, err
	}
	if e.handler, err = container.Resolve[response.Handler](s.Resolver); err != nil {
		return nil, err
	}
	if e.serializer, err = container.Resolve[serialization.Serializer](s.Resolver); err != nil {
		return nil, err
	}
	if e.routes, err = container.Resolve[routing.RouteFactory](s.Resolver); err != nil {
		return nil, err
	}
	if e.queries, err = container.Resolve[routing.QueryFactory](s.Resolver); err != nil {
		return nil, err
	}

	var ok bool
	if e.policy, ok = container.TryResolve[retry.Policy](s.Resolver); !ok {
		e.policy = retry.Default{}
	}
	e.relay, _ = container.TryResolve[*events.Relay](s.Resolver)
	if e.log, ok = container.TryResolve[logger.Logger](s.Resolver); !ok {
		e.log = logger.Nop()
	}
	e.log = e.log.WithFields(map[string]any{"consumer": e.consumer.Name})
	return e, nil
}

// For builds an executor for consumer type T.
func For[T any](m *configuration.Manager) (*Executor, error) {
	s, err := configuration.BuildApiSettings[T](m)
	if err != nil {
		return nil, err
	}
	return New(s)
}

// Consumer returns the consumer the executor calls for.
func (e *Executor) Consumer() configuration.Consumer { return e.consumer }

// Connection returns the consumer's connection settings.
func (e *Executor) Connection() *settings.ConnectionSettings { return e.connection }

// Execute runs call and returns the untyped result.
func (e *Executor) Execute(ctx context.Context, call Call) (*response.Response, error) {
	return e.run(ctx, call, nil)
}

// Get issues a GET to endpoint with an optional query value.
func (e *Executor) Get(ctx context.Context, endpoint string, query any) (*response.Response, error) {
	return e.Execute(ctx, Call{Method: http.MethodGet, Endpoint: endpoint, Query: query})
}

// Post issues a POST with body.
func (e *Executor) Post(ctx context.Context, endpoint string, body any) (*response.Response, error) {
	return e.Execute(ctx, Call{Method: http.MethodPost, Endpoint: endpoint, Body: body})
}

// Put issues a PUT with body.
func (e *Executor) Put(ctx context.Context, endpoint string, body any) (*response.Response, error) {
	return e.Execute(ctx, Call{Method: http.MethodPut, Endpoint: endpoint, Body: body})
}

// Patch issues a PATCH with body.
func (e *Executor) Patch(ctx context.Context, endpoint string, body any) (*response.Response, error) {
	return e.Execute(ctx, Call{Method: http.MethodPatch, Endpoint: endpoint, Body: body})
}

// Delete issues a DELETE to endpoint with an optional query value.
func (e *Executor) Delete(ctx context.Context, endpoint string, query any) (*response.Response, error) {
	return e.Execute(ctx, Call{Method: http.MethodDelete, Endpoint: endpoint, Query: query})
}

// ExecuteAs runs call and decodes a successful body into T.
func ExecuteAs[T any](ctx context.Context, e *Executor, call Call) (*response.DataResponse[T], error) {
	var data T
	res, err := e.run(ctx, call, &data)
	if err != nil {
		return nil, err
	}
	return response.WithData(res, data), nil
}

// GetAs issues a GET and decodes the body into T.
func GetAs[T any](ctx context.Context, e *Executor, endpoint string, query any) (*response.DataResponse[T], error) {
	return ExecuteAs[T](ctx, e, Call{Method: http.MethodGet, Endpoint: endpoint, Query: query})
}

// PostAs issues a POST and decodes the body into T.
func PostAs[T any](ctx context.Context, e *Executor, endpoint string, body any) (*response.DataResponse[T], error) {
	return ExecuteAs[T](ctx, e, Call{Method: http.MethodPost, Endpoint: endpoint, Body: body})
}

// PutAs issues a PUT and decodes the body into T.
func PutAs[T any](ctx context.Context, e *Executor, endpoint string, body any) (*response.DataResponse[T], error) {
	return ExecuteAs[T](ctx, e, Call{Method: http.MethodPut, Endpoint: endpoint, Body: body})
}

// outcome is what the attempt loop ended with.
type outcome struct {
	res      *response.Response
	err      error
	attempts int
}

func (e *Executor) run(ctx context.Context, call Call, out any) (*response.Response, error) {
	req, err := e.buildRequest(call)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, span := e.startSpan(ctx, req)
	defer span.End()

	e.publish(events.Event{Type: events.RequestStarted, Method: req.Method, URL: req.URL.String()})
	e.log.Debug().
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Msg("consumer call started")

	o := e.attempt(ctx, req, out)
	e.finish(ctx, span, req, o, time.Since(start))
	return o.res, o.err
}

// attempt runs the Attempting/Retrying loop with one client.
func (e *Executor) attempt(ctx context.Context, req *transport.Request, out any) outcome {
	client, err := e.clients.BuildClient(ctx)
	if err != nil {
		return e.transportFailure(err, 0)
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			e.log.Warn().Err(cerr).Msg("closing transport client failed")
		}
	}()

	maxAttempts := max(1, e.connection.RetryAttempts())
	timeout := e.connection.Timeout()

	for attempt := 1; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		raw, err := client.Send(attemptCtx, req)
		if err == nil {
			o := e.process(attemptCtx, req, raw, out)
			cancel()
			o.attempts = attempt
			return o
		}
		cancel()

		// The caller gave up; nothing to retry for.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return outcome{err: callerCancelled(ctxErr, err), attempts: attempt}
		}
		if attempt >= maxAttempts || !e.policy.Retryable(err) {
			return e.transportFailure(err, attempt)
		}

		e.publish(events.Event{
			Type:    events.RetryOccurred,
			Method:  req.Method,
			URL:     req.URL.String(),
			Attempt: attempt,
			Err:     err,
		})
		e.log.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", maxAttempts).
			Msg("attempt failed, retrying")

		if werr := retry.Wait(ctx, e.policy.Backoff(attempt-1)); werr != nil {
			return outcome{err: callerCancelled(werr, err), attempts: attempt}
		}
	}
}

// process maps a raw response. The raw body is always closed.
func (e *Executor) process(ctx context.Context, req *transport.Request, raw *transport.RawResponse, out any) outcome {
	defer func() {
		_ = raw.Close()
	}()

	res, err := e.handler.ProcessInto(ctx, req, raw, out)
	if err == nil && res != nil {
		return outcome{res: res}
	}
	if err == nil {
		err = errors.New("response handler returned no response")
	}
	if !apierr.IsKind(err, apierr.ResponseProcessing) {
		err = apierr.NewProcessingError(opExecute, MessageProcessingFailed, err)
	}
	if e.handlerCfg.ThrowExceptions {
		return outcome{err: err}
	}
	return outcome{res: response.Failure(raw.StatusCode, MessageProcessingFailed, err)}
}

// transportFailure ends the loop after a failed attempt: exhausted
// timeouts become 408, everything else 503.
func (e *Executor) transportFailure(cause error, attempts int) outcome {
	var (
		err     error
		status  int
		message string
	)
	if transport.IsTimeout(cause) {
		err = apierr.NewTimeoutError(opExecute, MessageTimedOut, cause)
		status, message = http.StatusRequestTimeout, MessageTimedOut
	} else {
		err = apierr.NewTransportError(opExecute, MessageTransportError, cause)
		status, message = http.StatusServiceUnavailable, MessageTransportError
	}

	if e.handlerCfg.ThrowExceptions {
		return outcome{err: err, attempts: attempts}
	}
	return outcome{res: response.Failure(status, message, err), attempts: attempts}
}

func callerCancelled(ctxErr, last error) error {
	return apierr.NewTransportError(opExecute, "call cancelled", errors.Join(ctxErr, last))
}

func (e *Executor) startSpan(ctx context.Context, req *transport.Request) (context.Context, oteltrace.Span) {
	return otel.Tracer(tracerName).Start(ctx, req.Method,
		oteltrace.WithSpanKind(oteltrace.SpanKindClient),
		oteltrace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(req.Method),
			semconv.URLFull(req.URL.String()),
			attribute.String(attrConsumer, e.consumer.Name),
		),
	)
}

// finish records the span status, metrics, the ResponseProduced event and
// the completion log line.
func (e *Executor) finish(ctx context.Context, span oteltrace.Span, req *transport.Request, o outcome, elapsed time.Duration) {
	statusCode := 0
	failure := o.err
	successful := false
	if o.res != nil {
		statusCode = o.res.StatusCode
		successful = o.res.WasSuccessful
		if failure == nil {
			failure = o.res.Err
		}
	}

	span.SetAttributes(attribute.Int(attrAttempts, o.attempts))
	if statusCode > 0 {
		span.SetAttributes(semconv.HTTPResponseStatusCode(statusCode))
	}
	switch {
	case failure != nil:
		span.RecordError(failure)
		span.SetStatus(codes.Error, failure.Error())
	case !successful:
		span.SetStatus(codes.Error, http.StatusText(statusCode))
	}

	tracking.RecordCall(ctx, tracking.Call{
		Consumer:   e.consumer.Name,
		Method:     req.Method,
		StatusCode: statusCode,
		Attempts:   o.attempts,
		Duration:   elapsed,
		Err:        failure,
	})

	e.publish(events.Event{
		Type:          events.ResponseProduced,
		Method:        req.Method,
		URL:           req.URL.String(),
		Attempt:       o.attempts,
		StatusCode:    statusCode,
		WasSuccessful: successful,
		Err:           failure,
	})

	ev := e.log.Debug()
	if failure != nil {
		ev = e.log.Warn().Err(failure)
	}
	ev.Str("method", req.Method).
		Str("url", req.URL.String()).
		Int("status", statusCode).
		Int("attempts", o.attempts).
		Dur("elapsed", elapsed).
		Msg("consumer call finished")
}

func (e *Executor) publish(ev events.Event) {
	if e.relay == nil {
		return
	}
	ev.Consumer = e.consumer.Name
	ev.Time = time.Now()
	e.relay.Publish(ev)
}
