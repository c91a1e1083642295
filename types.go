// Package prefstore defines the core types used by the preference store.
package prefstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// Kind names the primitive representation a Value holds in physical storage.
type Kind string

// Constants for the primitive kinds every Storage backend supports natively.
const (
	// KindString is a UTF-8 string value.
	KindString Kind = "string"
	// KindBool is a boolean value.
	KindBool Kind = "bool"
	// KindInt is a signed 64-bit integer value.
	KindInt Kind = "int"
	// KindFloat is a 64-bit floating-point value.
	KindFloat Kind = "float"
	// KindStringSet is a sorted set of distinct strings.
	KindStringSet Kind = "string_set"
)

// Valid reports whether k is one of the supported kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindString, KindBool, KindInt, KindFloat, KindStringSet:
		return true
	}
	return false
}

// Value is the untyped form of a preference as held by physical storage.
// Exactly one of the payload fields is meaningful, selected by Kind.
type Value struct {
	Kind  Kind
	Str   string
	Bool  bool
	Int   int64
	Float float64
	Set   []string
}

// StringValue returns a KindString Value.
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }

// BoolValue returns a KindBool Value.
func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// IntValue returns a KindInt Value.
func IntValue(i int64) Value { return Value{Kind: KindInt, Int: i} }

// FloatValue returns a KindFloat Value.
func FloatValue(f float64) Value { return Value{Kind: KindFloat, Float: f} }

// StringSetValue returns a KindStringSet Value. The members are copied, sorted and de-duplicated.
func StringSetValue(members []string) Value {
	set := slices.Clone(members)
	slices.Sort(set)
	set = slices.Compact(set)
	if set == nil {
		set = []string{}
	}
	return Value{Kind: KindStringSet, Set: set}
}

// Interface returns the payload as a plain Go value (string, bool, int64, float64 or []string).
func (v Value) Interface() any {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindBool:
		return v.Bool
	case KindInt:
		return v.Int
	case KindFloat:
		return v.Float
	case KindStringSet:
		return slices.Clone(v.Set)
	}
	return nil
}

// Equal reports whether two values have the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindString:
		return v.Str == o.Str
	case KindBool:
		return v.Bool == o.Bool
	case KindInt:
		return v.Int == o.Int
	case KindFloat:
		return v.Float == o.Float
	case KindStringSet:
		return slices.Equal(v.Set, o.Set)
	}
	return true
}

// String renders the payload for logs and CLI output.
func (v Value) String() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindStringSet:
		return fmt.Sprint(v.Set)
	}
	return ""
}

type valueJSON struct {
	Kind  Kind            `json:"kind"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes the value as {"kind": ..., "value": ...}.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, v.Kind)
	}
	raw, err := json.Marshal(v.Interface())
	if err != nil {
		return nil, err
	}
	return json.Marshal(valueJSON{Kind: v.Kind, Value: raw})
}

// UnmarshalJSON decodes the {"kind": ..., "value": ...} form produced by MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	var wire valueJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	// Integers above 2^53 do not survive a float64.
	decoder := json.NewDecoder(bytes.NewReader(wire.Value))
	decoder.UseNumber()
	var raw any
	if err := decoder.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ParseValue(wire.Kind, raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ParseValue converts a loosely typed value, as produced by JSON, YAML or TOML decoders,
// into a Value of the given kind. Whole floats are accepted for KindInt and integers for KindFloat.
func ParseValue(kind Kind, raw any) (Value, error) {
	switch kind {
	case KindString:
		if s, ok := raw.(string); ok {
			return StringValue(s), nil
		}
	case KindBool:
		if b, ok := raw.(bool); ok {
			return BoolValue(b), nil
		}
	case KindInt:
		switch n := raw.(type) {
		case int:
			return IntValue(int64(n)), nil
		case int32:
			return IntValue(int64(n)), nil
		case int64:
			return IntValue(n), nil
		case uint64:
			if n <= math.MaxInt64 {
				return IntValue(int64(n)), nil
			}
		case float64:
			if n == math.Trunc(n) && n >= math.MinInt64 && n < math.MaxInt64 {
				return IntValue(int64(n)), nil
			}
		case json.Number:
			if i, err := n.Int64(); err == nil {
				return IntValue(i), nil
			}
		}
	case KindFloat:
		switch n := raw.(type) {
		case float64:
			return FloatValue(n), nil
		case float32:
			return FloatValue(float64(n)), nil
		case int:
			return FloatValue(float64(n)), nil
		case int64:
			return FloatValue(float64(n)), nil
		case json.Number:
			if f, err := n.Float64(); err == nil {
				return FloatValue(f), nil
			}
		}
	case KindStringSet:
		switch items := raw.(type) {
		case []string:
			return StringSetValue(items), nil
		case []any:
			members := make([]string, 0, len(items))
			for _, item := range items {
				s, ok := item.(string)
				if !ok {
					return Value{}, fmt.Errorf("%w: string set member %v is %T", ErrInvalidValue, item, item)
				}
				members = append(members, s)
			}
			return StringSetValue(members), nil
		}
	default:
		return Value{}, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	return Value{}, fmt.Errorf("%w: %v (%T) is not a valid %s", ErrInvalidValue, raw, raw, kind)
}

// ParseValueString parses command-line or query-string text into a Value of the given kind.
// String sets are given as comma-separated members.
func ParseValueString(kind Kind, s string) (Value, error) {
	switch kind {
	case KindString:
		return StringValue(s), nil
	case KindBool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return BoolValue(b), nil
	case KindInt:
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return IntValue(i), nil
	case KindFloat:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		return FloatValue(f), nil
	case KindStringSet:
		if s == "" {
			return StringSetValue(nil), nil
		}
		members := strings.Split(s, ",")
		for i := range members {
			members[i] = strings.TrimSpace(members[i])
		}
		return StringSetValue(members), nil
	}
	return Value{}, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
}

// ChangeEvent is a notification raised by a Storage backend.
// Key names the changed key; All is the sentinel meaning any key may have changed;
// Err, when set, reports that the backend became unavailable and no further events follow.
type ChangeEvent struct {
	Key string
	All bool
	Err error

	seq uint64
}

// KeyChanged returns the event raised after a write or delete of key.
func KeyChanged(key string) ChangeEvent { return ChangeEvent{Key: key} }

// AllChanged returns the event raised after a bulk change such as Clear.
func AllChanged() ChangeEvent { return ChangeEvent{All: true} }

// StorageFailed returns the terminal event raised when the backend becomes unavailable.
func StorageFailed(err error) ChangeEvent { return ChangeEvent{Err: err} }

// Matches reports whether the event concerns key.
func (e ChangeEvent) Matches(key string) bool {
	return e.All || e.Key == key
}

// Seq returns the ChangeBus sequence number assigned to the event, or zero if it never passed through a bus.
func (e ChangeEvent) Seq() uint64 { return e.seq }

// Codec maps a typed value to and from its stored Value.
type Codec[T any] struct {
	Encode func(T) (Value, error)
	Decode func(Value) (T, error)
}
