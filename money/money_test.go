package money

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Cents
	}{
		{"0.01", 1},
		{"1", 100},
		{"33.34", 3334},
		{"89.99", 8999},
		{"150.00", 15000},
		{"-0.50", -50},
	}
	for _, test := range tests {
		got, err := Parse(test.in)
		require.NoError(t, err, test.in)
		assert.Equal(t, test.want, got, test.in)
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	for _, in := range []string{"", "abc", "12.345", "1,50", "0.001"} {
		_, err := Parse(in)
		assert.ErrorIs(t, err, ErrBadAmount, in)
	}
}

func TestString(t *testing.T) {
	assert.Equal(t, "33.34", Cents(3334).String())
	assert.Equal(t, "-0.50", Cents(-50).String())
	assert.Equal(t, "0.00", Cents(0).String())
	assert.Equal(t, "150.00", Cents(15000).String())
}

func TestJSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(Cents(8999))
	require.NoError(t, err)
	assert.Equal(t, "89.99", string(data))

	var c Cents
	require.NoError(t, json.Unmarshal([]byte("89.99"), &c))
	assert.Equal(t, Cents(8999), c)

	// Quoted strings are accepted too, for form-ish clients.
	require.NoError(t, json.Unmarshal([]byte(`"42.00"`), &c))
	assert.Equal(t, Cents(4200), c)
}
