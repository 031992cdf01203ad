package chidb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordPackUnpackRoundTrip(t *testing.T) {
	values := []Value{
		NullValue(),
		IntValue(42),
		IntValue(-1),
		IntValue(70000),
		TextValue("hello world"),
	}

	packed, err := Pack(values)
	require.NoError(t, err)

	unpacked, err := Unpack(packed)
	require.NoError(t, err)
	require.Len(t, unpacked, len(values))

	assert.Equal(t, TypeNull, unpacked[0].Type)
	assert.Equal(t, int32(42), unpacked[1].Int)
	assert.Equal(t, int32(-1), unpacked[2].Int)
	assert.Equal(t, int32(70000), unpacked[3].Int)
	assert.Equal(t, "hello world", unpacked[4].Text)
}

func TestRecordIntValuePicksSmallestSerialType(t *testing.T) {
	assert.Equal(t, TypeInt8, IntValue(100).Type)
	assert.Equal(t, TypeInt16, IntValue(1000).Type)
	assert.Equal(t, TypeInt32, IntValue(100000).Type)
}

func TestRecordSerialCodeForText(t *testing.T) {
	v := TextValue("ab")
	assert.Equal(t, byte(13+2*2), serialCode(v))
}

func TestRecordGetWrongType(t *testing.T) {
	values := []Value{IntValue(5)}
	_, err := Get(values, 0, TypeText)
	assert.Equal(t, ErrWrongType, err)
}

func TestRecordGetColumnOutOfRange(t *testing.T) {
	_, err := Get([]Value{IntValue(1)}, 5, TypeInt32)
	assert.Error(t, err)
}

func TestRecordUnpackRejectsEmptyPayload(t *testing.T) {
	_, err := Unpack(nil)
	assert.Error(t, err)
}
