package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", String("hello"), `"hello"`},
		{"empty string", String(""), `""`},
		{"int", Int(42), "42"},
		{"negative int", Int(-100), "-100"},
		{"max int64", Int(9223372036854775807), "9223372036854775807"},
		{"bool true", Bool(true), "true"},
		{"null", Null{}, "null"},
		{"go nil", nil, "null"},
		{"empty array", Array{}, "[]"},
		{"empty object", Object{}, "{}"},
		{"array of ints", Array{Int(1), Int(2), Int(3)}, "[1,2,3]"},
		{"plain go map", map[string]any{"b": 1, "a": "x"}, `{"a":"x","b":1}`},
		{"html not escaped", String("<a&b>"), `"<a&b>"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalNestedSortedKeys(t *testing.T) {
	obj := Object{
		"z": Object{"b": Int(1), "a": Int(2)},
		"a": Int(3),
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"a":3,"z":{"a":2,"b":1}}`, string(result))
}

func TestMarshalCanonicalUTF16KeyOrder(t *testing.T) {
	// U+E000 sorts before U+1F600 in UTF-8 byte order too, but the
	// surrogate pair of U+1F600 (0xD83D) sorts before 0xE000 in UTF-16.
	emoji := string(rune(0x1F600))
	private := string(rune(0xE000))

	result, err := MarshalCanonical(Object{private: Int(1), emoji: Int(2)})
	require.NoError(t, err)
	assert.Equal(t, `{"`+emoji+`":2,"`+private+`":1}`, string(result))
}

func TestMarshalCanonicalNFC(t *testing.T) {
	decomposed := "cafe" + string(rune(0x0301))
	composed := "caf" + string(rune(0x00e9))

	result, err := MarshalCanonical(String(decomposed))
	require.NoError(t, err)
	assert.Equal(t, `"`+composed+`"`, string(result))
}

func TestMarshalCanonicalLineSeparatorsLiteral(t *testing.T) {
	ls := string(rune(0x2028))

	result, err := MarshalCanonical(String("a" + ls + "b"))
	require.NoError(t, err)
	assert.Equal(t, `"a`+ls+`b"`, string(result))

	// A literal backslash followed by the text u2028 stays escaped.
	result, err = MarshalCanonical(String(`\` + "u2028"))
	require.NoError(t, err)
	assert.Equal(t, `"\\u2028"`, string(result))
}

func TestMarshalCanonicalRejectsFloats(t *testing.T) {
	_, err := MarshalCanonical(map[string]any{"x": 1.5})
	assert.Error(t, err)

	result, err := MarshalCanonical(map[string]any{"x": 2.0})
	require.NoError(t, err)
	assert.Equal(t, `{"x":2}`, string(result))
}
