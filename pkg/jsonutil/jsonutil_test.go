package jsonutil

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	data, err := Marshal(sample{Name: "a", Value: 1})
	require.NoError(t, err)

	var got sample
	require.NoError(t, Unmarshal(data, &got))
	require.Equal(t, sample{Name: "a", Value: 1}, got)
}

func TestMarshalIndentProducesIndentedOutput(t *testing.T) {
	data, err := MarshalIndent(sample{Name: "a", Value: 1}, "", "  ")
	require.NoError(t, err)
	require.Contains(t, string(data), "\n  ")
}

func TestValidRejectsMalformedJSON(t *testing.T) {
	require.True(t, Valid([]byte(`{"a":1}`)))
	require.False(t, Valid([]byte(`{"a":`)))
}

func TestStreamEncoderDecoderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewStreamEncoder(&buf)
	require.NoError(t, enc.Encode(sample{Name: "b", Value: 2}))

	dec := NewStreamDecoder(&buf)
	var got sample
	require.NoError(t, dec.Decode(&got))
	require.Equal(t, sample{Name: "b", Value: 2}, got)
}
