package iohelper

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadBodyNilReaderReturnsEmpty(t *testing.T) {
	body, err := ReadBody(nil, 1024)
	require.NoError(t, err)
	require.Empty(t, body)
}

func TestReadBodyRespectsMaxBodyBytes(t *testing.T) {
	reader := strings.NewReader(strings.Repeat("x", 1000))
	body, err := ReadBody(reader, 100)
	require.NoError(t, err)
	require.Len(t, body, 100)
}

func TestReadBodyReadsAllWhenUnderLimit(t *testing.T) {
	reader := strings.NewReader("small page body")
	body, err := ReadBody(reader, 1024)
	require.NoError(t, err)
	require.Equal(t, "small page body", string(body))
}

func TestDrainAndCloseNilReaderIsNoop(t *testing.T) {
	require.NoError(t, DrainAndClose(nil))
}

type mockReadCloser struct {
	*bytes.Reader
	closed bool
}

func (m *mockReadCloser) Close() error {
	m.closed = true
	return nil
}

func TestDrainAndCloseClosesReadCloser(t *testing.T) {
	rc := &mockReadCloser{Reader: bytes.NewReader([]byte("unread remainder"))}
	require.NoError(t, DrainAndClose(rc))
	require.True(t, rc.closed)
}
