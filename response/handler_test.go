package response

import (
	"context"
	"errors"
	"io"
	nethttp "net/http"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/restbricks/apierr"
	"github.com/gaborage/restbricks/serialization"
	"github.com/gaborage/restbricks/transport"
)

type person struct {
	ID   int    `json:"id" cbor:"id"`
	Name string `json:"name" cbor:"name"`
}

func raw(status int, statusLine, contentType, body string) *transport.RawResponse {
	h := nethttp.Header{}
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	return &transport.RawResponse{
		StatusCode: status,
		Status:     statusLine,
		Headers:    h,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestProcessResponseSuccessWithEmptyBody(t *testing.T) {
	h := NewHandler(nil)

	resp, err := h.ProcessResponse(context.Background(), nil, raw(200, "200 OK", "", ""))
	require.NoError(t, err)
	assert.True(t, resp.WasSuccessful)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Empty(t, resp.Message)
	assert.NoError(t, resp.Err)
}

func TestProcessResponseNonSuccessCarriesReason(t *testing.T) {
	h := NewHandler(nil)

	resp, err := h.ProcessResponse(context.Background(), nil, raw(500, "500 boom", "text/plain", "stack"))
	require.NoError(t, err)
	assert.False(t, resp.WasSuccessful)
	assert.Equal(t, nethttp.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "boom", resp.Message)
	assert.NoError(t, resp.Err)
	assert.Equal(t, []byte("stack"), resp.Body)
}

func TestProcessIntoDecodesJSON(t *testing.T) {
	h := NewHandler(serialization.JSON{})

	var p person
	resp, err := h.ProcessInto(context.Background(), nil, raw(200, "200 OK", "application/json; charset=utf-8", `{"id":7,"name":"Ada"}`), &p)
	require.NoError(t, err)
	assert.True(t, resp.WasSuccessful)
	assert.Equal(t, person{ID: 7, Name: "Ada"}, p)
	assert.Equal(t, "application/json; charset=utf-8", resp.Header("Content-Type"))
}

func TestProcessIntoPicksSerializerFromContentType(t *testing.T) {
	body, err := cbor.Marshal(person{ID: 3, Name: "Grace"})
	require.NoError(t, err)

	h := NewHandler(serialization.JSON{})
	var p person
	_, err = h.ProcessInto(context.Background(), nil, raw(200, "200 OK", "application/cbor", string(body)), &p)
	require.NoError(t, err)
	assert.Equal(t, person{ID: 3, Name: "Grace"}, p)
}

func TestProcessIntoLeavesDataOnFailure(t *testing.T) {
	h := NewHandler(nil)

	p := person{ID: 1}
	resp, err := h.ProcessInto(context.Background(), nil, raw(404, "404 Not Found", "application/json", `{"id":99}`), &p)
	require.NoError(t, err)
	assert.False(t, resp.WasSuccessful)
	assert.Equal(t, 1, p.ID)
}

func TestProcessIntoDecodeFailureIsProcessingError(t *testing.T) {
	h := NewHandler(nil)

	var p person
	_, err := h.ProcessInto(context.Background(), nil, raw(200, "200 OK", "application/json", `{"id":"x"`), &p)
	require.Error(t, err)
	assert.True(t, apierr.IsKind(err, apierr.ResponseProcessing))
}

func TestProcessResponseBodyLimit(t *testing.T) {
	h := NewHandler(nil, WithMaxBodyBytes(4))

	_, err := h.ProcessResponse(context.Background(), nil, raw(200, "200 OK", "", "12345"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBodyTooLarge))
	assert.True(t, apierr.IsKind(err, apierr.ResponseProcessing))
}

func TestProcessResponseNilRaw(t *testing.T) {
	_, err := NewHandler(nil).ProcessResponse(context.Background(), nil, nil)
	assert.True(t, apierr.IsKind(err, apierr.ResponseProcessing))
}

func TestWithDataDropsDataOnFailure(t *testing.T) {
	ok := WithData(&Response{WasSuccessful: true, StatusCode: 200}, person{ID: 1})
	assert.Equal(t, 1, ok.Data.ID)

	failed := WithData(&Response{WasSuccessful: false, StatusCode: 500}, person{ID: 1})
	assert.Zero(t, failed.Data)

	typed := FailureOf[person](Failure(408, "request timed out", errors.New("deadline")))
	assert.False(t, typed.WasSuccessful)
	assert.Equal(t, 408, typed.StatusCode)
	assert.Error(t, typed.Err)
	assert.Zero(t, typed.Data)
}
