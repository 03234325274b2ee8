package config

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Values reach the bag from YAML (int, float64), the environment (string)
// and code (anything), so every converter accepts all of them.

var (
	errEmptyString = errors.New("empty string")

	// Largest float64 strictly below 2^63; MaxInt64 itself rounds up.
	maxExactFloat = math.Nextafter(float64(math.MaxInt64), math.Inf(-1))
)

func toInt(value any) (int, error) {
	n, err := toInt64(value)
	if err != nil {
		return 0, err
	}
	if n > math.MaxInt || n < math.MinInt {
		return 0, fmt.Errorf("value %d overflows int", n)
	}
	return int(n), nil
}

func toInt64(value any) (int64, error) {
	if s, ok := value.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, errEmptyString
		}
		return strconv.ParseInt(s, 10, 64)
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, fmt.Errorf("value %d overflows int64", u)
		}
		return int64(u), nil //#nosec G115 -- checked above
	case reflect.Float32, reflect.Float64:
		return floatToInt64(rv.Float())
	default:
		return 0, fmt.Errorf("unsupported type %T", value)
	}
}

func toBool(value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return false, errEmptyString
		}
		return strconv.ParseBool(s)
	}

	switch reflect.ValueOf(value).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := toInt64(value)
		return n != 0, err
	default:
		return false, fmt.Errorf("unsupported type %T", value)
	}
}

// toDuration converts durations, duration strings ("1m30s") and bare
// numbers, which are read as whole seconds.
func toDuration(value any) (time.Duration, error) {
	switch v := value.(type) {
	case time.Duration:
		return v, nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, errEmptyString
		}
		if d, err := time.ParseDuration(s); err == nil {
			return d, nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", v)
		}
		return time.Duration(n) * time.Second, nil
	}

	n, err := toInt64(value)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func floatToInt64(f float64) (int64, error) {
	switch {
	case math.IsNaN(f) || math.IsInf(f, 0):
		return 0, errors.New("invalid float value")
	case math.Trunc(f) != f:
		return 0, fmt.Errorf("value %v is not an integer", f)
	case f > maxExactFloat || f < math.MinInt64:
		return 0, fmt.Errorf("value %v overflows int64", f)
	}
	return int64(f), nil
}
