package response

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"

	"github.com/gaborage/restbricks/apierr"
	"github.com/gaborage/restbricks/serialization"
	"github.com/gaborage/restbricks/transport"
)

// DefaultMaxBodyBytes caps how much of a response body is read.
const DefaultMaxBodyBytes int64 = 10 << 20

// ErrBodyTooLarge is returned when a response body exceeds the limit.
var ErrBodyTooLarge = errors.New("response body too large")

// Handler maps a raw transport response into a Response. Implementations
// must not close raw; the executor owns it.
type Handler interface {
	ProcessResponse(ctx context.Context, req *transport.Request, raw *transport.RawResponse) (*Response, error)
	// ProcessInto also decodes a successful body into out.
	ProcessInto(ctx context.Context, req *transport.Request, raw *transport.RawResponse, out any) (*Response, error)
}

// DefaultHandler reads the body and decodes it with a serializer chosen by
// the response Content-Type, falling back to the configured serializer.
type DefaultHandler struct {
	serializer   serialization.Serializer
	maxBodyBytes int64
}

var _ Handler = (*DefaultHandler)(nil)

// HandlerOption configures a DefaultHandler.
type HandlerOption func(*DefaultHandler)

// WithMaxBodyBytes overrides DefaultMaxBodyBytes.
func WithMaxBodyBytes(n int64) HandlerOption {
	return func(h *DefaultHandler) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

// NewHandler creates a DefaultHandler. A nil serializer means JSON.
func NewHandler(s serialization.Serializer, opts ...HandlerOption) *DefaultHandler {
	if s == nil {
		s = serialization.JSON{}
	}
	h := &DefaultHandler{serializer: s, maxBodyBytes: DefaultMaxBodyBytes}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ProcessResponse implements Handler.
func (h *DefaultHandler) ProcessResponse(ctx context.Context, req *transport.Request, raw *transport.RawResponse) (*Response, error) {
	return h.ProcessInto(ctx, req, raw, nil)
}

// ProcessInto implements Handler. A non-2xx status is a normal unsuccessful
// Response with the reason phrase as Message; out is left untouched. An
// empty body on success leaves out untouched as well.
func (h *DefaultHandler) ProcessInto(_ context.Context, _ *transport.Request, raw *transport.RawResponse, out any) (*Response, error) {
	if raw == nil {
		return nil, apierr.NewProcessingError("response.process", "no response", nil)
	}

	body, err := h.readBody(raw)
	if err != nil {
		return nil, apierr.NewProcessingError("response.read", "reading response body", err)
	}

	resp := &Response{
		WasSuccessful: transport.IsSuccessStatus(raw.StatusCode),
		StatusCode:    raw.StatusCode,
		Headers:       raw.Headers,
		Body:          body,
	}
	if !resp.WasSuccessful {
		resp.Message = raw.Reason()
		return resp, nil
	}

	if out == nil || len(body) == 0 {
		return resp, nil
	}
	if err := h.serializerFor(raw).Deserialize(body, out); err != nil {
		return nil, apierr.NewProcessingError("response.decode", fmt.Sprintf("decoding into %T", out), err)
	}
	return resp, nil
}

func (h *DefaultHandler) readBody(raw *transport.RawResponse) ([]byte, error) {
	if raw.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(raw.Body, h.maxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > h.maxBodyBytes {
		return nil, fmt.Errorf("%w: limit %d bytes", ErrBodyTooLarge, h.maxBodyBytes)
	}
	return body, nil
}

func (h *DefaultHandler) serializerFor(raw *transport.RawResponse) serialization.Serializer {
	if raw.Headers == nil {
		return h.serializer
	}
	mediaType, _, err := mime.ParseMediaType(raw.Headers.Get("Content-Type"))
	if err != nil || mediaType == h.serializer.ContentType() {
		return h.serializer
	}
	if s, err := serialization.ForContentType(mediaType); err == nil {
		return s
	}
	return h.serializer
}
