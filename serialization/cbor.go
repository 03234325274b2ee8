package serialization

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// CBOR encoding/decoding options configured for determinism and to bound
// what an untrusted response body can make us allocate.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

//nolint:gochecknoinits // Required for CBOR mode configuration at package load time
func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort: cbor.SortCanonical,
		Time: cbor.TimeRFC3339,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoding mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		MaxArrayElements: 10000,
		MaxMapPairs:      10000,
		MaxNestedLevels:  16,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoding mode: %v", err))
	}
}

// CBOR serializes bodies as RFC 8949 CBOR. Struct tags work as in the cbor
// package:
//
//	type Person struct {
//	    ID   int64  `cbor:"1,keyasint"`
//	    Name string `cbor:"2,keyasint"`
//	}
type CBOR struct{}

var _ Serializer = CBOR{}

func (CBOR) ContentType() string { return ContentTypeCBOR }

// Serialize encodes v with canonical key ordering.
func (CBOR) Serialize(v any) ([]byte, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cbor marshal failed: %w", err)
	}
	return data, nil
}

// Deserialize decodes data into out. An empty body leaves out untouched.
func (CBOR) Deserialize(data []byte, out any) error {
	if len(data) == 0 {
		return nil
	}
	if err := decMode.Unmarshal(data, out); err != nil {
		return fmt.Errorf("cbor unmarshal failed: %w", err)
	}
	return nil
}
