package prefstore

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrimitiveCodecs_RejectOtherKinds(t *testing.T) {
	_, err := StringCodec().Decode(IntValue(1))
	assert.ErrorIs(t, err, ErrDecode)
	_, err = BoolCodec().Decode(StringValue("true"))
	assert.ErrorIs(t, err, ErrDecode)
	_, err = IntCodec().Decode(FloatValue(1))
	assert.ErrorIs(t, err, ErrDecode)
	_, err = Int64Codec().Decode(BoolValue(true))
	assert.ErrorIs(t, err, ErrDecode)
	_, err = FloatCodec().Decode(IntValue(1))
	assert.ErrorIs(t, err, ErrDecode)
	_, err = StringSetCodec().Decode(StringValue("a,b"))
	assert.ErrorIs(t, err, ErrDecode)
}

func TestIntCodec_Overflow(t *testing.T) {
	if math.MaxInt == math.MaxInt64 {
		t.Skip("int is 64 bits wide")
	}
	_, err := IntCodec().Decode(IntValue(math.MaxInt64))
	assert.ErrorIs(t, err, ErrDecode)
}

func TestEnumCodec(t *testing.T) {
	codec := EnumCodec(ThemeSystem, ThemeLight, ThemeDark)

	v, err := codec.Encode(ThemeDark)
	require.NoError(t, err)
	assert.Equal(t, StringValue("DARK"), v)

	got, err := codec.Decode(StringValue("LIGHT"))
	require.NoError(t, err)
	assert.Equal(t, ThemeLight, got)

	_, err = codec.Decode(StringValue("PURPLE"))
	assert.ErrorIs(t, err, ErrDecode)
}

func TestJSONCodec(t *testing.T) {
	codec := JSONCodec[map[string]int]()
	v, err := codec.Encode(map[string]int{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, KindString, v.Kind)
	assert.JSONEq(t, `{"a":1}`, v.Str)

	_, err = codec.Decode(StringValue("{not json"))
	assert.ErrorIs(t, err, ErrDecode)
}
