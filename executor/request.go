package executor

import (
	"net/http"
	"net/url"
	"reflect"
	"strings"

	"github.com/gaborage/restbricks/apierr"
	"github.com/gaborage/restbricks/transport"
)

const opBuildRequest = "executor.build_request"

// Call describes one request to a consumer's API.
type Call struct {
	Method string
	// Endpoint is appended to the consumer source; an absolute URL replaces it.
	Endpoint string
	// Query is a struct, map, url.Values or an already encoded string.
	Query any
	// Body is serialized with the consumer's serializer; []byte is sent as is.
	Body    any
	Headers map[string]string
}

// bodyRule says whether a method must, must not or may carry a body.
type bodyRule int

const (
	bodyOptional bodyRule = iota
	bodyRequired
	bodyForbidden
)

var methodRules = map[string]bodyRule{
	http.MethodPost:    bodyRequired,
	http.MethodPut:     bodyRequired,
	http.MethodPatch:   bodyRequired,
	http.MethodGet:     bodyForbidden,
	http.MethodDelete:  bodyForbidden,
	http.MethodHead:    bodyForbidden,
	http.MethodOptions: bodyForbidden,
}

// buildRequest validates call and turns it into a transport request. Its
// errors are caller defects and are never retried.
func (e *Executor) buildRequest(call Call) (*transport.Request, error) {
	method := strings.ToUpper(strings.TrimSpace(call.Method))
	if method == "" {
		return nil, apierr.NewValidationError(opBuildRequest, "Method", "is required")
	}

	hasBody := !isNilBody(call.Body)
	switch methodRules[method] {
	case bodyRequired:
		if !hasBody {
			return nil, apierr.NewValidationError(opBuildRequest, "Body", method+" requires a body")
		}
	case bodyForbidden:
		if hasBody {
			return nil, apierr.NewValidationError(opBuildRequest, "Body", method+" cannot carry a body")
		}
	}

	query, err := e.buildQuery(call.Query)
	if err != nil {
		return nil, err
	}
	u, err := e.routes.BuildRoute(e.connection.Source().String(), call.Endpoint, query)
	if err != nil {
		return nil, err
	}

	req := &transport.Request{
		Method:  method,
		URL:     u,
		Headers: map[string]string{"Accept": e.serializer.ContentType()},
	}
	if hasBody {
		if req.Body, err = e.encodeBody(call.Body); err != nil {
			return nil, err
		}
		req.Headers["Content-Type"] = e.contentType()
	}
	for k, v := range call.Headers {
		req.Headers[k] = v
	}
	return req, nil
}

func (e *Executor) buildQuery(q any) (string, error) {
	switch v := q.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case url.Values:
		return v.Encode(), nil
	default:
		return e.queries.Build(q)
	}
}

func (e *Executor) encodeBody(body any) ([]byte, error) {
	if b, ok := body.([]byte); ok {
		return b, nil
	}
	data, err := e.serializer.Serialize(body)
	if err != nil {
		return nil, apierr.NewValidationError(opBuildRequest, "Body", "cannot be serialized: "+err.Error())
	}
	return data, nil
}

// contentType prefers the configured value and falls back to the
// serializer's.
func (e *Executor) contentType() string {
	if e.handlerCfg.ContentType != "" {
		return e.handlerCfg.ContentType
	}
	return e.serializer.ContentType()
}

// isNilBody treats nil and typed nil pointers, maps, slices and interfaces
// as no body.
func isNilBody(body any) bool {
	if body == nil {
		return true
	}
	rv := reflect.ValueOf(body)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}
