package prefstore

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
)

func kindMismatch(want Kind, got Value) error {
	return fmt.Errorf("%w: expected %s, stored %s", ErrDecode, want, got.Kind)
}

// StringCodec maps string to KindString.
func StringCodec() Codec[string] {
	return Codec[string]{
		Encode: func(s string) (Value, error) { return StringValue(s), nil },
		Decode: func(v Value) (string, error) {
			if v.Kind != KindString {
				return "", kindMismatch(KindString, v)
			}
			return v.Str, nil
		},
	}
}

// BoolCodec maps bool to KindBool.
func BoolCodec() Codec[bool] {
	return Codec[bool]{
		Encode: func(b bool) (Value, error) { return BoolValue(b), nil },
		Decode: func(v Value) (bool, error) {
			if v.Kind != KindBool {
				return false, kindMismatch(KindBool, v)
			}
			return v.Bool, nil
		},
	}
}

// Int64Codec maps int64 to KindInt.
func Int64Codec() Codec[int64] {
	return Codec[int64]{
		Encode: func(i int64) (Value, error) { return IntValue(i), nil },
		Decode: func(v Value) (int64, error) {
			if v.Kind != KindInt {
				return 0, kindMismatch(KindInt, v)
			}
			return v.Int, nil
		},
	}
}

// IntCodec maps int to KindInt, rejecting stored values that overflow int.
func IntCodec() Codec[int] {
	return Codec[int]{
		Encode: func(i int) (Value, error) { return IntValue(int64(i)), nil },
		Decode: func(v Value) (int, error) {
			if v.Kind != KindInt {
				return 0, kindMismatch(KindInt, v)
			}
			if v.Int > math.MaxInt || v.Int < math.MinInt {
				return 0, fmt.Errorf("%w: %d overflows int", ErrDecode, v.Int)
			}
			return int(v.Int), nil
		},
	}
}

// FloatCodec maps float64 to KindFloat.
func FloatCodec() Codec[float64] {
	return Codec[float64]{
		Encode: func(f float64) (Value, error) { return FloatValue(f), nil },
		Decode: func(v Value) (float64, error) {
			if v.Kind != KindFloat {
				return 0, kindMismatch(KindFloat, v)
			}
			return v.Float, nil
		},
	}
}

// StringSetCodec maps []string to KindStringSet. Decoded sets are sorted.
func StringSetCodec() Codec[[]string] {
	return Codec[[]string]{
		Encode: func(set []string) (Value, error) { return StringSetValue(set), nil },
		Decode: func(v Value) ([]string, error) {
			if v.Kind != KindStringSet {
				return nil, kindMismatch(KindStringSet, v)
			}
			return slices.Clone(v.Set), nil
		},
	}
}

// ObjectCodec stores T as a string produced by serialize and read back by deserialize.
func ObjectCodec[T any](serialize func(T) (string, error), deserialize func(string) (T, error)) Codec[T] {
	str := StringCodec()
	return Codec[T]{
		Encode: func(v T) (Value, error) {
			s, err := serialize(v)
			if err != nil {
				return Value{}, err
			}
			return StringValue(s), nil
		},
		Decode: func(v Value) (T, error) {
			s, err := str.Decode(v)
			if err != nil {
				var zero T
				return zero, err
			}
			out, err := deserialize(s)
			if err != nil {
				var zero T
				return zero, fmt.Errorf("%w: %w", ErrDecode, err)
			}
			return out, nil
		},
	}
}

// JSONCodec stores T as its encoding/json representation.
func JSONCodec[T any]() Codec[T] {
	return ObjectCodec(
		func(v T) (string, error) {
			data, err := json.Marshal(v)
			return string(data), err
		},
		func(s string) (T, error) {
			var v T
			err := json.Unmarshal([]byte(s), &v)
			return v, err
		},
	)
}

// Named is satisfied by enumeration types whose String method yields a unique name per value.
type Named interface {
	comparable
	String() string
}

// EnumCodec stores one of values by its name.
func EnumCodec[T Named](values ...T) Codec[T] {
	byName := make(map[string]T, len(values))
	for _, v := range values {
		byName[v.String()] = v
	}
	return ObjectCodec(
		func(v T) (string, error) {
			name := v.String()
			if known, ok := byName[name]; !ok || known != v {
				return "", fmt.Errorf("%w: %q is not one of the enumerated values", ErrInvalidValue, name)
			}
			return name, nil
		},
		func(name string) (T, error) {
			v, ok := byName[name]
			if !ok {
				var zero T
				return zero, fmt.Errorf("unknown name %q", name)
			}
			return v, nil
		},
	)
}

// RawCodec passes Values through unchanged, rejecting stored values of another kind.
func RawCodec(kind Kind) Codec[Value] {
	return Codec[Value]{
		Encode: func(v Value) (Value, error) {
			if v.Kind != kind {
				return Value{}, fmt.Errorf("%w: expected %s, got %s", ErrInvalidValue, kind, v.Kind)
			}
			return v, nil
		},
		Decode: func(v Value) (Value, error) {
			if v.Kind != kind {
				return Value{}, kindMismatch(kind, v)
			}
			return v, nil
		},
	}
}
