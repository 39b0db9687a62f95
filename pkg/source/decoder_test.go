package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForFormat(t *testing.T) {
	tests := []struct {
		name     string
		format   string
		expected string
		wantErr  bool
	}{
		{"default", "", FormatArray, false},
		{"array", "array", FormatArray, false},
		{"ndjson upper", "NDJSON", FormatNDJSON, false},
		{"envelope", "envelope", FormatEnvelope, false},
		{"unknown", "xml", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec, err := ForFormat(tt.format)
			if tt.wantErr {
				require.Error(t, err)
				assert.False(t, IsKnown(tt.format))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, dec.Name())
			assert.True(t, IsKnown(tt.format))
		})
	}
}

func TestArray_Decode(t *testing.T) {
	records, err := Array{}.Decode([]byte(` [{"a":1}, {"b":2}, 3] `))
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.JSONEq(t, `{"a":1}`, string(records[0]))
	assert.Equal(t, "3", string(records[2]))

	_, err = Array{}.Decode([]byte(`{"a":1}`))
	assert.Error(t, err)

	_, err = Array{}.Decode([]byte(`[{"a":1}`))
	assert.Error(t, err)

	_, err = Array{}.Decode(nil)
	assert.Error(t, err)
}

func TestNDJSON_Decode(t *testing.T) {
	body := "{\"a\":1}\n\n  {\"b\":2}\nnot json\n"
	records, err := NDJSON{}.Decode([]byte(body))
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, `{"b":2}`, string(records[1]))
	assert.Equal(t, "not json", string(records[2]))
}

func TestEnvelope_Decode(t *testing.T) {
	records, err := Envelope{}.Decode([]byte(`{"events":[{"a":1}],"next":"x"}`))
	require.NoError(t, err)
	assert.Len(t, records, 1)

	records, err = Envelope{}.Decode([]byte(`{"data":[]}`))
	require.NoError(t, err)
	assert.Empty(t, records)

	_, err = Envelope{}.Decode([]byte(`{"other":[]}`))
	assert.Error(t, err)

	_, err = Envelope{}.Decode([]byte(`[]`))
	assert.Error(t, err)
}
