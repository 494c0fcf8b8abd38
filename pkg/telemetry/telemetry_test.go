package telemetry

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewWithoutOTLPEndpointIsNoopTracing(t *testing.T) {
	tel, err := New(context.Background(), Config{Namespace: "test"})
	require.NoError(t, err)
	require.NotNil(t, tel.Tracer())
	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	tel, err := New(context.Background(), DefaultConfig())
	require.NoError(t, err)
	tel.Metrics.PagesScanned.Inc()
	tel.Metrics.VulnerabilitiesFound.WithLabelValues("XSS", "High").Inc()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	tel.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "scanengine_pages_scanned_total 1")
}
