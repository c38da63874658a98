package snapshot

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"
)

// Normalize converts value into one of the supported kinds: nil, bool,
// int64, float64, string, []any or map[string]any.
func Normalize(value any) (any, error) {
	switch typed := value.(type) {
	case nil:
		return nil, nil
	case bool, string, int64, float64:
		return typed, nil
	case int:
		return int64(typed), nil
	case int8:
		return int64(typed), nil
	case int16:
		return int64(typed), nil
	case int32:
		return int64(typed), nil
	case uint8:
		return int64(typed), nil
	case uint16:
		return int64(typed), nil
	case uint32:
		return int64(typed), nil
	case uint:
		return normalizeUint(uint64(typed))
	case uint64:
		return normalizeUint(typed)
	case float32:
		return float64(typed), nil
	case json.Number:
		if parsed, err := strconv.ParseInt(typed.String(), 10, 64); err == nil {
			return parsed, nil
		}
		parsed, err := typed.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: number %q", ErrUnsupportedValue, typed.String())
		}
		return parsed, nil
	case time.Time:
		return typed.UTC().Format(time.RFC3339Nano), nil
	case time.Duration:
		return typed.String(), nil
	case []any:
		return normalizeSlice(reflect.ValueOf(typed))
	case map[string]any:
		return normalizeMap(reflect.ValueOf(typed))
	}

	reflected := reflect.ValueOf(value)
	switch reflected.Kind() {
	case reflect.Slice, reflect.Array:
		if reflected.Kind() == reflect.Slice && reflected.IsNil() {
			return nil, nil
		}
		return normalizeSlice(reflected)
	case reflect.Map:
		if reflected.IsNil() {
			return nil, nil
		}
		return normalizeMap(reflected)
	case reflect.Pointer:
		if reflected.IsNil() {
			return nil, nil
		}
		return Normalize(reflected.Elem().Interface())
	case reflect.String:
		return reflected.String(), nil
	case reflect.Bool:
		return reflected.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return reflected.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return normalizeUint(reflected.Uint())
	case reflect.Float32, reflect.Float64:
		return reflected.Float(), nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, value)
}

func normalizeUint(value uint64) (any, error) {
	if value > math.MaxInt64 {
		return nil, fmt.Errorf("%w: %d overflows int64", ErrUnsupportedValue, value)
	}
	return int64(value), nil
}

func normalizeSlice(value reflect.Value) (any, error) {
	out := make([]any, value.Len())
	for i := 0; i < value.Len(); i++ {
		item, err := Normalize(value.Index(i).Interface())
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
		out[i] = item
	}
	return out, nil
}

func normalizeMap(value reflect.Value) (any, error) {
	out := make(map[string]any, value.Len())
	iter := value.MapRange()
	for iter.Next() {
		key, ok := mapKey(iter.Key())
		if !ok {
			return nil, fmt.Errorf("%w: map key %v", ErrUnsupportedValue, iter.Key().Interface())
		}
		item, err := Normalize(iter.Value().Interface())
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		if item == nil {
			continue
		}
		out[key] = item
	}
	return out, nil
}

func mapKey(key reflect.Value) (string, bool) {
	if key.Kind() == reflect.Interface {
		key = key.Elem()
	}
	if key.Kind() != reflect.String {
		return "", false
	}
	return key.String(), true
}

// Equal compares two normalized values structurally. Numbers compare by
// exact value across int64 and float64.
func Equal(a, b any) bool {
	switch left := a.(type) {
	case nil:
		return b == nil
	case bool:
		right, ok := b.(bool)
		return ok && left == right
	case string:
		right, ok := b.(string)
		return ok && left == right
	case int64:
		switch right := b.(type) {
		case int64:
			return left == right
		case float64:
			return intEqualsFloat(left, right)
		}
		return false
	case float64:
		switch right := b.(type) {
		case float64:
			return left == right || (math.IsNaN(left) && math.IsNaN(right))
		case int64:
			return intEqualsFloat(right, left)
		}
		return false
	case []any:
		right, ok := b.([]any)
		if !ok || len(left) != len(right) {
			return false
		}
		for i := range left {
			if !Equal(left[i], right[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		right, ok := b.(map[string]any)
		if !ok || len(left) != len(right) {
			return false
		}
		for key, value := range left {
			other, ok := right[key]
			if !ok || !Equal(value, other) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

// intEqualsFloat is exact: f must be a whole number inside the int64 range.
func intEqualsFloat(i int64, f float64) bool {
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return false
	}
	return int64(f) == i
}
