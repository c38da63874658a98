// Package snapshot holds the in-memory property mapping shared by a store,
// plus the value normalization and structural comparison used to diff two
// snapshots.
//
// Values are normalized on the way in so that equality does not depend on
// which codec produced them: integers become int64, floats become float64,
// slices become []any and string-keyed maps become map[string]any.
package snapshot

import (
	"errors"
	"fmt"
	"sort"

	"github.com/mitchellh/mapstructure"
)

var (
	ErrUnsupportedValue = errors.New("unsupported option value")
	ErrInvalidID        = errors.New("option id is required")
)

// Snapshot maps property identifiers to normalized values.
type Snapshot map[string]any

// New returns an empty snapshot.
func New() Snapshot {
	return Snapshot{}
}

// FromMap normalizes every value of raw into a new snapshot.
func FromMap(raw map[string]any) (Snapshot, error) {
	out := make(Snapshot, len(raw))
	for id, value := range raw {
		normalized, err := Normalize(value)
		if err != nil {
			return nil, fmt.Errorf("option %q: %w", id, err)
		}
		if normalized == nil {
			continue
		}
		out[id] = normalized
	}
	return out, nil
}

func (s Snapshot) Get(id string) (any, bool) {
	value, ok := s[id]
	return value, ok
}

func (s Snapshot) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Keys returns the identifiers in sorted order.
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s))
	for key := range s {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy so callers cannot mutate live state.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return New()
	}
	out := make(Snapshot, len(s))
	for key, value := range s {
		out[key] = cloneValue(value)
	}
	return out
}

// Equal reports whether both snapshots hold the same ids with equal values.
func (s Snapshot) Equal(other Snapshot) bool {
	if len(s) != len(other) {
		return false
	}
	for key, value := range s {
		otherValue, ok := other[key]
		if !ok || !Equal(value, otherValue) {
			return false
		}
	}
	return true
}

// Diff returns, sorted, every id present in either snapshot whose value
// differs between them. An id missing on one side counts as changed.
func Diff(previous, next Snapshot) []string {
	ids := make(map[string]struct{}, len(previous)+len(next))
	for id := range previous {
		ids[id] = struct{}{}
	}
	for id := range next {
		ids[id] = struct{}{}
	}

	changed := make([]string, 0)
	for id := range ids {
		before, hadBefore := previous[id]
		after, hasAfter := next[id]
		if hadBefore != hasAfter || !Equal(before, after) {
			changed = append(changed, id)
		}
	}
	sort.Strings(changed)
	return changed
}

// Decode copies the snapshot into a struct or map. Struct fields are
// matched with the `option` tag and fall back to the field name.
func (s Snapshot) Decode(out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "option",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	return decoder.Decode(map[string]any(s))
}

func cloneValue(value any) any {
	switch typed := value.(type) {
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = cloneValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[key] = cloneValue(item)
		}
		return out
	default:
		return value
	}
}
