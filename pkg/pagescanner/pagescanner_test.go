package pagescanner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vulnscan/scanengine/pkg/fetcher"
	"github.com/vulnscan/scanengine/pkg/model"
)

func TestScanNoFormsOrParamsOnlyPassive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "nginx")
		w.Write([]byte("<html><body>hello</body></html>"))
	}))
	defer srv.Close()

	page := model.Page{URL: srv.URL + "/"}
	f := fetcher.New(fetcher.DefaultConfig())
	res := Scan(context.Background(), f, page, nil)
	require.Equal(t, 0, res.FormsFound)
	require.Equal(t, 0, res.EndpointsTested)
	require.Len(t, res.Findings, 1) // server header disclosure only
	require.Equal(t, "Server Header Disclosure", res.Findings[0].Name)
}
