package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyspaceArithmeticBeyondInt64(t *testing.T) {
	// 95^12 does not fit in 64 bits
	huge := MustParseKeyspace("540360087662636962890625")
	chunk := NewKeyspace(1_000_000)

	next := huge.Sub(chunk)
	assert.Equal(t, "540360087662636961890625", next.String())
	assert.Equal(t, "540360087662636962890625", huge.String(), "operations do not mutate the receiver")
	assert.Equal(t, 1, huge.Cmp(next))

	_, fits := huge.Int64()
	assert.False(t, fits)
}

func TestKeyspaceZeroValue(t *testing.T) {
	var k Keyspace
	assert.True(t, k.IsZero())
	assert.Equal(t, "0", k.String())
	assert.Equal(t, "5", k.Add(NewKeyspace(5)).String())
	assert.Equal(t, 0.0, NewKeyspace(5).Ratio(k))
}

func TestKeyspaceRatioIsClamped(t *testing.T) {
	total := NewKeyspace(1000)
	assert.Equal(t, 30.0, NewKeyspace(300).Ratio(total))
	assert.Equal(t, 100.0, NewKeyspace(1500).Ratio(total))
	assert.Equal(t, 0.0, NewKeyspace(-5).Ratio(total))
}

func TestParseKeyspace(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "42", want: "42"},
		{in: " 42 ", want: "42"},
		{in: "100.000", want: "100"},
		{in: "", want: "0"},
		{in: "1.5", wantErr: true},
		{in: "lots", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			k, err := ParseKeyspace(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, k.String())
		})
	}
}

func TestKeyspaceJSON(t *testing.T) {
	data, err := json.Marshal(struct {
		Keyspace Keyspace `json:"keyspace"`
	}{MustParseKeyspace("18446744073709551616")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"keyspace":"18446744073709551616"}`, string(data))

	var decoded struct {
		A Keyspace `json:"a"`
		B Keyspace `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"123","b":456}`), &decoded))
	assert.Equal(t, "123", decoded.A.String())
	assert.Equal(t, "456", decoded.B.String())
}

func TestKeyspaceScan(t *testing.T) {
	var k Keyspace
	require.NoError(t, k.Scan([]byte("99999999999999999999")))
	assert.Equal(t, "99999999999999999999", k.String())

	require.NoError(t, k.Scan(int64(7)))
	assert.Equal(t, "7", k.String())

	require.NoError(t, k.Scan(nil))
	assert.True(t, k.IsZero())

	assert.Error(t, k.Scan(3.14))
}
