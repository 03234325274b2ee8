// Package serialization provides the body codecs a consumer uses for request
// and response payloads.
package serialization

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"strings"
)

const (
	ContentTypeJSON = "application/json"
	ContentTypeCBOR = "application/cbor"
)

// ErrUnsupportedContentType is returned by ForContentType for unknown media types.
var ErrUnsupportedContentType = errors.New("unsupported content type")

// Serializer encodes request bodies and decodes response bodies.
type Serializer interface {
	Serialize(v any) ([]byte, error)
	Deserialize(data []byte, out any) error
	ContentType() string
}

// ForContentType returns the serializer for a media type. Parameters such
// as charset are ignored and "+json" suffixes map to JSON.
func ForContentType(contentType string) (Serializer, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	switch {
	case mediaType == ContentTypeJSON, strings.HasSuffix(mediaType, "+json"):
		return JSON{}, nil
	case mediaType == ContentTypeCBOR, strings.HasSuffix(mediaType, "+cbor"):
		return CBOR{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedContentType, contentType)
	}
}

// JSON is the default serializer.
type JSON struct {
	// DisallowUnknownFields rejects response fields without a matching struct field.
	DisallowUnknownFields bool
}

var _ Serializer = JSON{}

func (JSON) ContentType() string { return ContentTypeJSON }

// Serialize encodes v as JSON.
func (JSON) Serialize(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json marshal failed: %w", err)
	}
	return data, nil
}

// Deserialize decodes data into out. Empty or whitespace-only bodies leave
// out untouched.
func (j JSON) Deserialize(data []byte, out any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if j.DisallowUnknownFields {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("json unmarshal failed: %w", err)
	}
	return nil
}
