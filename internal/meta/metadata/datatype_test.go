package metadata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoerce(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		dt   DataType
		in   any
		want any
	}{
		{"string passthrough", String, "abc", "abc"},
		{"bytes to string", String, []byte("abc"), "abc"},
		{"int to string", String, 42, "42"},
		{"int from int64", Int, int64(7), int32(7)},
		{"int from string", Int, " 12 ", int32(12)},
		{"int from integral float", Int, float64(3), int32(3)},
		{"long from int", Long, 5, int64(5)},
		{"short from bytes", Short, []byte("9"), int16(9)},
		{"byte from int", Byte, 1, int8(1)},
		{"float from string", Float, "1.5", float32(1.5)},
		{"double from int64", Double, int64(2), float64(2)},
		{"boolean from int64", Boolean, int64(1), true},
		{"boolean from string", Boolean, "false", false},
		{"date passthrough", Date, ts, ts},
		{"date from sql string", Date, "2024-03-01 10:30:00", ts},
		{"date from rfc3339", Date, "2024-03-01T10:30:00Z", ts},
		{"string array from csv", StringArray, "a, b", []string{"a", "b"}},
		{"properties from map", Properties, map[string]any{"a": 1}, map[string]string{"a": "1"}},
		{"object passthrough", Object, []byte{1, 2}, []byte{1, 2}},
		{"nil stays nil", Long, nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.dt.Coerce(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCoerceErrors(t *testing.T) {
	_, err := Int.Coerce("abc")
	assert.ErrorIs(t, err, ErrInvalidValue)

	_, err = Byte.Coerce(300)
	assert.ErrorIs(t, err, ErrInvalidValue)
	assert.Contains(t, err.Error(), "out of range")

	_, err = Int.Coerce(1.5)
	assert.ErrorIs(t, err, ErrInvalidValue)

	_, err = Date.Coerce("yesterday")
	assert.ErrorIs(t, err, ErrInvalidValue)

	_, err = Boolean.Coerce(struct{}{})
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestDataTypeString(t *testing.T) {
	assert.Equal(t, "long", Long.String())
	assert.Equal(t, "stringArray", StringArray.String())
	assert.True(t, Double.IsNumeric())
	assert.False(t, Date.IsNumeric())
}
