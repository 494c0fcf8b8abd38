package corpus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCorpusSizes(t *testing.T) {
	require.Len(t, XSSPayloads, 7)
	require.Len(t, SQLiPayloads, 12)
}

func TestMatchesSQLError(t *testing.T) {
	fp, ok := MatchesSQLError("You have an error in your SQL syntax near line 1")
	require.True(t, ok)
	require.Equal(t, "SQL syntax", fp)

	_, ok = MatchesSQLError("perfectly normal page")
	require.False(t, ok)
}

func TestReflectsPayloadCaseInsensitive(t *testing.T) {
	require.True(t, ReflectsPayload("echo: <SCRIPT>alert(1)</SCRIPT>", "<script>alert(1)</script>"))
	require.False(t, ReflectsPayload("nothing here", "<script>"))
}
