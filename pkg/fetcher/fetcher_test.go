package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFetchSetsUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "SecureScan-Worker/1.0"})
	resp, err := f.Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	require.Equal(t, 200, resp.Status)
	require.Equal(t, "SecureScan-Worker/1.0", gotUA)
}

func Test5xxIsFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := New(DefaultConfig())
	_, err := f.Get(context.Background(), srv.URL, nil)
	require.Error(t, err)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, ErrBadStatus, fe.Kind)
}

func Test4xxIsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(DefaultConfig())
	resp, err := f.Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	require.Equal(t, 404, resp.Status)
}

func TestBodyCapTruncates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("a", 100)))
	}))
	defer srv.Close()

	f := New(Config{MaxBodyBytes: 10})
	resp, err := f.Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	require.True(t, resp.Truncated)
	require.Len(t, resp.Body, 10)
}

func TestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Millisecond})
	_, err := f.Get(context.Background(), srv.URL, nil)
	require.Error(t, err)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, ErrTimeout, fe.Kind)
}

func TestRedirectRefusedOutOfScope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/start" {
			http.Redirect(w, r, "https://evil.example/", http.StatusFound)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := New(Config{InScope: func(candidate string) bool {
		return strings.Contains(candidate, srv.Listener.Addr().String())
	}})
	resp, err := f.Get(context.Background(), srv.URL+"/start", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusFound, resp.Status)
	require.Equal(t, "https://evil.example/", resp.RedirectRefused)
}
