package routing

import (
	"encoding"
	"fmt"
	"net/url"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gaborage/restbricks/apierr"
)

const opBuildQuery = "routing.build_query"

// QueryFactory builds an encoded query string from a value's fields.
type QueryFactory interface {
	Build(v any) (string, error)
	BuildFields(v any, fields ...string) (string, error)
}

// DefaultQueryFactory reads struct fields, map[string]any,
// map[string]string and url.Values. Field names come from the query tag,
// then the json tag, then the Go name. Zero values are skipped when the
// tag carries omitempty, nil pointers are always skipped, and slices
// become repeated keys.
type DefaultQueryFactory struct{}

var _ QueryFactory = DefaultQueryFactory{}

// Build implements QueryFactory.
func (f DefaultQueryFactory) Build(v any) (string, error) {
	return f.BuildFields(v)
}

// BuildFields is Build restricted to the named fields. Names match either
// the Go field name or the query name. No names means all fields.
func (DefaultQueryFactory) BuildFields(v any, fields ...string) (string, error) {
	if v == nil {
		return "", nil
	}

	values := url.Values{}
	include := func(goName, queryName string) bool {
		return len(fields) == 0 || slices.Contains(fields, goName) || slices.Contains(fields, queryName)
	}

	switch m := v.(type) {
	case url.Values:
		for k, vs := range m {
			if include(k, k) {
				values[k] = append(values[k], vs...)
			}
		}
		return values.Encode(), nil
	case map[string]string:
		for k, s := range m {
			if include(k, k) {
				values.Add(k, s)
			}
		}
		return values.Encode(), nil
	case map[string]any:
		for k, item := range m {
			if !include(k, k) {
				continue
			}
			if err := addValue(values, k, reflect.ValueOf(item), false); err != nil {
				return "", err
			}
		}
		return values.Encode(), nil
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return "", nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return "", apierr.NewValidationError(opBuildQuery, "", fmt.Sprintf("cannot build a query from %T", v))
	}

	rt := rv.Type()
	for i := range rt.NumField() {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		name, omitEmpty := queryName(&field)
		if name == "" || !include(field.Name, name) {
			continue
		}
		if err := addValue(values, name, rv.Field(i), omitEmpty); err != nil {
			return "", err
		}
	}
	return values.Encode(), nil
}

// queryName parses the query tag, falling back to json; "" means skip.
func queryName(field *reflect.StructField) (name string, omitEmpty bool) {
	tag, ok := field.Tag.Lookup("query")
	if !ok {
		tag = field.Tag.Get("json")
	}
	parts := strings.Split(tag, ",")
	switch parts[0] {
	case "-":
		return "", false
	case "":
		name = field.Name
	default:
		name = parts[0]
	}
	for _, opt := range parts[1:] {
		if strings.TrimSpace(opt) == "omitempty" {
			omitEmpty = true
		}
	}
	return name, omitEmpty
}

func addValue(values url.Values, name string, rv reflect.Value, omitEmpty bool) error {
	if !rv.IsValid() {
		return nil
	}
	if rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil
		}
		return addValue(values, name, rv.Elem(), omitEmpty)
	}
	if omitEmpty && rv.IsZero() {
		return nil
	}

	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return apierr.NewValidationError(opBuildQuery, name, "byte slices are not supported")
		}
		for i := range rv.Len() {
			if err := addValue(values, name, rv.Index(i), false); err != nil {
				return err
			}
		}
		return nil
	}

	s, err := formatScalar(name, rv)
	if err != nil {
		return err
	}
	values.Add(name, s)
	return nil
}

func formatScalar(name string, rv reflect.Value) (string, error) {
	if rv.CanInterface() {
		switch x := rv.Interface().(type) {
		case time.Time:
			return x.Format(time.RFC3339), nil
		case time.Duration:
			return x.String(), nil
		case encoding.TextMarshaler:
			text, err := x.MarshalText()
			if err != nil {
				return "", apierr.NewValidationError(opBuildQuery, name, err.Error())
			}
			return string(text), nil
		case fmt.Stringer:
			return x.String(), nil
		}
	}

	switch rv.Kind() {
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Float32:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 32), nil
	case reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 64), nil
	default:
		return "", apierr.NewValidationError(opBuildQuery, name, "unsupported kind "+rv.Kind().String())
	}
}
