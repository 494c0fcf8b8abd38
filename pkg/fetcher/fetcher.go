// Package fetcher implements the scan engine's HTTP Fetcher: a one-shot
// request primitive with a hard timeout, bounded redirects, a body size
// cap, and a plainly-identifying User-Agent. It is the only component that
// issues network requests; the Crawler and the Detectors both go through
// it. It applies no rate limit of its own: the Worker Pool paces task
// dispatch, not the individual requests made here.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vulnscan/scanengine/pkg/defaults"
	"github.com/vulnscan/scanengine/pkg/httpclient"
	"github.com/vulnscan/scanengine/pkg/iohelper"
)

// ErrorKind classifies why a fetch failed.
type ErrorKind string

const (
	ErrNetwork   ErrorKind = "Network"
	ErrTimeout   ErrorKind = "Timeout"
	ErrTooLarge  ErrorKind = "TooLarge"
	ErrBadStatus ErrorKind = "BadStatus"
)

// FetchError is returned for every failure mode the Fetcher surfaces,
// including a URL or request that cannot be built, which is reported with
// Kind Network.
type FetchError struct {
	Kind  ErrorKind
	URL   string
	Cause error
}

func (e *FetchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Cause)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
}

func (e *FetchError) Unwrap() error { return e.Cause }

// Response is the normalized result of a successful fetch. Any 1xx-4xx is
// considered success; only 5xx and transport-level failures become a
// FetchError.
type Response struct {
	Status     int
	Headers    http.Header
	Body       []byte
	FinalURL   string
	Truncated  bool
	// RedirectRefused records the cross-scope location the client refused
	// to follow, if any, for operational diagnostics.
	RedirectRefused string
}

// Config configures a Fetcher.
type Config struct {
	Timeout      time.Duration
	MaxBodyBytes int64
	UserAgent    string
	MaxRedirects int
	// InScope, when non-nil, gates redirect following: a redirect whose
	// Location fails InScope is refused and the prior response returned
	// (matching Crawler-mode scope enforcement in §4.1/§4.3).
	InScope func(candidate string) bool
	// Proxy, when set, routes every request through this HTTP/HTTPS proxy
	// URL. Optional; most deployments scan directly.
	Proxy string
}

// DefaultConfig returns the §6 defaults: 10s timeout, 2MiB body cap, up to
// 5 redirects, and the scanner's default identity.
func DefaultConfig() Config {
	return Config{
		Timeout:      10 * time.Second,
		MaxBodyBytes: 2 * 1024 * 1024,
		UserAgent:    "SecureScan-Worker/1.0",
		MaxRedirects: 5,
	}
}

// Fetcher issues one-shot HTTP requests per Config.
type Fetcher struct {
	cfg    Config
	client *http.Client
}

// New builds a Fetcher with cfg, falling back to DefaultConfig() for any
// zero-valued field the caller did not set explicitly.
func New(cfg Config) *Fetcher {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = def.MaxRedirects
	}

	f := &Fetcher{cfg: cfg}
	hc := httpclient.DefaultConfig()
	hc.Timeout = cfg.Timeout
	hc.Proxy = cfg.Proxy
	hc.CheckRedirect = f.checkRedirect
	f.client = httpclient.New(hc)
	return f
}

func (f *Fetcher) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= f.cfg.MaxRedirects {
		return http.ErrUseLastResponse
	}
	if f.cfg.InScope != nil && !f.cfg.InScope(req.URL.String()) {
		return http.ErrUseLastResponse
	}
	return nil
}

// Fetch issues a single request with the given method. It takes no params
// map: the caller puts parameters into rawURL's query (GET) or into the
// pre-built body (POST) itself — Detectors and the Crawler each know their
// own shape.
func (f *Fetcher) Fetch(ctx context.Context, method, rawURL string, body io.Reader, headers map[string]string) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &FetchError{Kind: ErrNetwork, URL: rawURL, Cause: err}
	}

	reqCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, u.String(), body)
	if err != nil {
		return nil, &FetchError{Kind: ErrNetwork, URL: rawURL, Cause: err}
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		kind := ErrNetwork
		if ctxErr := reqCtx.Err(); ctxErr != nil {
			kind = ErrTimeout
		}
		return nil, &FetchError{Kind: kind, URL: rawURL, Cause: httpclient.Classify(err, f.cfg.Proxy != "")}
	}
	defer iohelper.DrainAndClose(resp.Body)

	raw, readErr := iohelper.ReadBody(resp.Body, f.cfg.MaxBodyBytes+1)
	if readErr != nil {
		return nil, &FetchError{Kind: ErrNetwork, URL: rawURL, Cause: readErr}
	}
	truncated := int64(len(raw)) > f.cfg.MaxBodyBytes
	if truncated {
		raw = raw[:f.cfg.MaxBodyBytes]
	}

	if resp.StatusCode >= 500 {
		return nil, &FetchError{Kind: ErrBadStatus, URL: rawURL, Cause: fmt.Errorf("status %d", resp.StatusCode)}
	}

	out := &Response{
		Status:    resp.StatusCode,
		Headers:   resp.Header,
		Body:      raw,
		FinalURL:  resp.Request.URL.String(),
		Truncated: truncated,
	}
	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		if loc := resp.Header.Get("Location"); loc != "" && f.cfg.InScope != nil {
			abs := resolveAgainst(resp.Request.URL, loc)
			if abs != "" && !f.cfg.InScope(abs) {
				out.RedirectRefused = abs
			}
		}
	}
	return out, nil
}

// Get is a convenience wrapper for the common case.
func (f *Fetcher) Get(ctx context.Context, rawURL string, headers map[string]string) (*Response, error) {
	return f.Fetch(ctx, http.MethodGet, rawURL, nil, headers)
}

// Post is a convenience wrapper that sets the form content type.
func (f *Fetcher) Post(ctx context.Context, rawURL string, formBody string, headers map[string]string) (*Response, error) {
	h := map[string]string{"Content-Type": defaults.ContentTypeForm}
	for k, v := range headers {
		h[k] = v
	}
	return f.Fetch(ctx, http.MethodPost, rawURL, strings.NewReader(formBody), h)
}

func resolveAgainst(base *url.URL, ref string) string {
	r, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return base.ResolveReference(r).String()
}
