// Package response maps raw transport responses into the result values
// returned to consumers. Transport and processing failures are carried on
// the result so callers branch on WasSuccessful instead of on errors.
package response

import (
	nethttp "net/http"
)

// Response is the untyped result of one call.
type Response struct {
	WasSuccessful bool
	StatusCode    int
	// Message is the reason phrase of a non-success status, or a fixed
	// description of a recovered failure. Empty on success.
	Message string
	// Err is the recovered cause of a failed call.
	Err     error
	Headers nethttp.Header
	Body    []byte
}

// DataResponse is a Response with a decoded payload. Data is the zero value
// unless WasSuccessful.
type DataResponse[T any] struct {
	Response
	Data T
}

// Failure builds a failed Response carrying err.
func Failure(statusCode int, message string, err error) *Response {
	return &Response{
		WasSuccessful: false,
		StatusCode:    statusCode,
		Message:       message,
		Err:           err,
	}
}

// WithData attaches data to r. Data is dropped when r is not successful.
func WithData[T any](r *Response, data T) *DataResponse[T] {
	out := &DataResponse[T]{Response: *r}
	if r.WasSuccessful && r.Err == nil {
		out.Data = data
	}
	return out
}

// FailureOf converts a failed untyped response into a typed one.
func FailureOf[T any](r *Response) *DataResponse[T] {
	out := &DataResponse[T]{Response: *r}
	out.WasSuccessful = false
	return out
}

// Header returns the first value of a response header.
func (r *Response) Header(key string) string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get(key)
}
