// Package scope implements the Scope Policy: a pure predicate deciding
// whether a candidate URL belongs to the same crawl as a seed URL, given
// root-domain matching plus include/exclude/extension rules.
package scope

import (
	"errors"
	"net/url"
	"strings"
)

// ErrInvalidSeed is returned by New when the seed does not parse as an
// absolute http(s) URL.
var ErrInvalidSeed = errors.New("scope: seed is not an absolute http(s) URL")

// DefaultExcludeTokens are substrings that, if present in the lower-cased
// candidate URL, take it out of scope regardless of domain match.
var DefaultExcludeTokens = []string{
	"logout", "signout", "sign-out",
	"facebook.com", "twitter.com", "x.com", "linkedin.com", "instagram.com",
	"youtube.com", "tiktok.com",
	"cdn.", "static.", "assets.",
}

// DefaultExcludeExtensions are static-asset path suffixes that are never
// worth crawling.
var DefaultExcludeExtensions = []string{".css", ".js", ".jpg", ".png", ".gif", ".pdf", ".zip", ".svg", ".ico"}

// Policy holds the rules for one crawl. Zero-value Policy has no include
// tokens and the package defaults for exclude tokens/extensions; build one
// with New to get those defaults explicitly.
type Policy struct {
	Root              string
	ExcludeTokens     []string
	ExcludeExtensions []string
	IncludeTokens     []string
}

// Option configures a Policy at construction time.
type Option func(*Policy)

// WithIncludeTokens sets §4.3 tie-break 5's include-token list. Passing an
// empty slice (the default if this option is omitted) leaves every
// in-domain, non-excluded URL in scope.
func WithIncludeTokens(tokens []string) Option {
	return func(p *Policy) { p.IncludeTokens = tokens }
}

// New derives a Policy from the seed URL, applying the package defaults
// for exclude tokens and extensions.
func New(seed string, opts ...Option) (Policy, error) {
	u, err := url.Parse(seed)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Policy{}, ErrInvalidSeed
	}
	p := Policy{
		Root:              rootDomain(u.Host),
		ExcludeTokens:     DefaultExcludeTokens,
		ExcludeExtensions: DefaultExcludeExtensions,
	}
	for _, o := range opts {
		o(&p)
	}
	return p, nil
}

// InScope decides whether candidate is in scope for this Policy, applying
// the tie-breaks in the fixed order of §4.3:
//  1. must parse as absolute http/https
//  2. host must equal or be a subdomain of the policy's root
//  3. must not contain an exclude token
//  4. path suffix must not be a disallowed extension
//  5. if include tokens are configured, candidate must contain one of them
//     unless its path is "/" or empty
func (p Policy) InScope(candidate string) bool {
	u, err := url.Parse(candidate)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return false
	}

	host := strings.ToLower(u.Hostname())
	if host != p.Root && !strings.HasSuffix(host, "."+p.Root) {
		return false
	}

	lower := strings.ToLower(candidate)
	for _, tok := range p.ExcludeTokens {
		if tok != "" && strings.Contains(lower, tok) {
			return false
		}
	}

	path := strings.ToLower(u.Path)
	for _, ext := range p.ExcludeExtensions {
		if strings.HasSuffix(path, ext) {
			return false
		}
	}

	if len(p.IncludeTokens) > 0 {
		if path == "" || path == "/" {
			return true
		}
		for _, tok := range p.IncludeTokens {
			if strings.Contains(lower, strings.ToLower(tok)) {
				return true
			}
		}
		return false
	}

	return true
}

// rootDomain returns the last two DNS labels of host, or host itself if it
// has two or fewer labels. Port suffixes, if present, are stripped first.
func rootDomain(host string) string {
	host = strings.ToLower(host)
	if i := strings.LastIndex(host, ":"); i >= 0 && !strings.Contains(host[i:], "]") {
		host = host[:i]
	}
	labels := strings.Split(host, ".")
	if len(labels) <= 2 {
		return host
	}
	return strings.Join(labels[len(labels)-2:], ".")
}
