// Package detectors implements the fixed probe catalogue D1-D7: reflected
// XSS (form and URL), error-based SQL injection (form and URL), a passive
// CSRF form heuristic, a passive DOM-XSS sink heuristic, and passive
// information disclosure. Each detector is a function from a Page (plus,
// for active detectors, a Fetcher to probe with) to a stream of Findings.
package detectors

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/vulnscan/scanengine/pkg/corpus"
	"github.com/vulnscan/scanengine/pkg/fetcher"
	"github.com/vulnscan/scanengine/pkg/model"
)

// Context is everything a detector needs: the page under test, the
// initial unmodified fetch of its URL (used by the passive detectors),
// and the shared Fetcher active detectors probe through.
type Context struct {
	Page    model.Page
	Initial *fetcher.Response
	Fetcher *fetcher.Fetcher
}

// taggedFinding carries the dedup key components (§4.5 "Unique Finding
// IDs") alongside the externally visible Finding.
type taggedFinding struct {
	model.Finding
	Kind      string
	InputName string
}

// Outcome is one detector's contribution: its findings plus how many
// payload attempts it actually dispatched (active detectors only).
type Outcome struct {
	findings        []taggedFinding
	EndpointsTested int
}

// RunAll executes every detector in the fixed §4.5 order (D5, D6, D7 —
// no HTTP cost — then D1, D2, then D3, D4) and returns the page's
// deduplicated findings plus the total endpoints tested.
func RunAll(ctx context.Context, dc Context) ([]model.Finding, int) {
	var all []taggedFinding
	total := 0

	for _, run := range []func() Outcome{
		func() Outcome { return D5CSRFForm(dc) },
		func() Outcome { return D6DOMXSSSinks(dc) },
		func() Outcome { return D7InformationDisclosure(dc) },
		func() Outcome { return D1ReflectedXSSForm(ctx, dc) },
		func() Outcome { return D2ReflectedXSSURL(ctx, dc) },
		func() Outcome { return D3SQLInjectionForm(ctx, dc) },
		func() Outcome { return D4SQLInjectionURL(ctx, dc) },
	} {
		o := run()
		all = append(all, o.findings...)
		total += o.EndpointsTested
	}

	return dedup(all), total
}

// D1ReflectedXSSForm fuzzes every non-hidden input of every form with the
// XSS corpus, in order, breaking to the next input at the first reflection.
func D1ReflectedXSSForm(ctx context.Context, dc Context) Outcome {
	var out Outcome
	for _, form := range dc.Page.Forms {
		for _, target := range form.NonHiddenInputs() {
			for _, payload := range corpus.XSSPayloads {
				out.EndpointsTested++
				body := formResponseBody(ctx, dc.Fetcher, form, target.Name, payload, "test")
				if body == "" {
					continue
				}
				if corpus.ReflectsPayload(body, payload) {
					out.findings = append(out.findings, taggedFinding{
						Finding: model.NewFinding(
							"Reflected XSS", model.CategoryXSS, model.SeverityHigh,
							fmt.Sprintf("Input %q reflects attacker-controlled script", target.Name),
							fmt.Sprintf("%s %s", form.Method, form.Action), "Arbitrary script execution in the victim's browser session",
						),
						Kind:      "D1",
						InputName: target.Name,
					})
					break
				}
			}
		}
	}
	return out
}

// D2ReflectedXSSURL replaces each query parameter's value, in turn, with
// the canonical XSS payload and checks for reflection.
func D2ReflectedXSSURL(ctx context.Context, dc Context) Outcome {
	var out Outcome
	u, err := url.Parse(dc.Page.URL)
	if err != nil {
		return out
	}
	q := u.Query()
	for name := range q {
		out.EndpointsTested++
		probeURL := withParam(u, name, corpus.CanonicalXSSPayload)
		resp, ferr := dc.Fetcher.Get(ctx, probeURL, nil)
		if ferr != nil {
			continue
		}
		if corpus.ReflectsPayload(string(resp.Body), corpus.CanonicalXSSPayload) {
			out.findings = append(out.findings, taggedFinding{
				Finding: model.NewFinding(
					"Reflected XSS (URL)", model.CategoryXSS, model.SeverityHigh,
					fmt.Sprintf("Query parameter %q reflects attacker-controlled script", name),
					fmt.Sprintf("GET %s", probeURL), "Arbitrary script execution in the victim's browser session",
				),
				Kind:      "D2",
				InputName: name,
			})
		}
	}
	return out
}

// D3SQLInjectionForm is D1's shape with the SQLi corpus, filling other
// inputs with "1" rather than "test" to favor numeric contexts, and
// signalling on a SQL error fingerprint rather than payload reflection.
func D3SQLInjectionForm(ctx context.Context, dc Context) Outcome {
	var out Outcome
	for _, form := range dc.Page.Forms {
		for _, target := range form.NonHiddenInputs() {
			for _, payload := range corpus.SQLiPayloads {
				out.EndpointsTested++
				body := formResponseBody(ctx, dc.Fetcher, form, target.Name, payload, "1")
				if body == "" {
					continue
				}
				if fp, ok := corpus.MatchesSQLError(body); ok {
					out.findings = append(out.findings, taggedFinding{
						Finding: model.NewFinding(
							"SQL Injection", model.CategorySQLInjection, model.SeverityCritical,
							fmt.Sprintf("Input %q triggers a database error (%s)", target.Name, fp),
							fmt.Sprintf("%s %s", form.Method, form.Action), "Potential unauthorized database access or data exfiltration",
						),
						Kind:      "D3",
						InputName: target.Name,
					})
					break
				}
			}
		}
	}
	return out
}

// D4SQLInjectionURL probes each query parameter with a single quote and
// checks for a SQL error fingerprint.
func D4SQLInjectionURL(ctx context.Context, dc Context) Outcome {
	var out Outcome
	u, err := url.Parse(dc.Page.URL)
	if err != nil {
		return out
	}
	q := u.Query()
	for name := range q {
		out.EndpointsTested++
		probeURL := withParam(u, name, "'")
		resp, ferr := dc.Fetcher.Get(ctx, probeURL, nil)
		if ferr != nil {
			continue
		}
		if fp, ok := corpus.MatchesSQLError(string(resp.Body)); ok {
			out.findings = append(out.findings, taggedFinding{
				Finding: model.NewFinding(
					"SQL Injection (URL)", model.CategorySQLInjection, model.SeverityCritical,
					fmt.Sprintf("Query parameter %q triggers a database error (%s)", name, fp),
					fmt.Sprintf("GET %s", probeURL), "Potential unauthorized database access or data exfiltration",
				),
				Kind:      "D4",
				InputName: name,
			})
		}
	}
	return out
}

// D5CSRFForm flags a POST form carrying a sensitive input and no
// csrf/token-named hidden field. Purely passive: it issues no requests.
func D5CSRFForm(dc Context) Outcome {
	var out Outcome
	for _, form := range dc.Page.Forms {
		if form.Method != "POST" {
			continue
		}
		if !hasSensitiveInput(form) {
			continue
		}
		if form.HiddenInputNamed(func(name string) bool {
			l := strings.ToLower(name)
			return strings.Contains(l, "csrf") || strings.Contains(l, "token")
		}) {
			continue
		}
		out.findings = append(out.findings, taggedFinding{
			Finding: model.NewFinding(
				"Cross-Site Request Forgery (CSRF)", model.CategoryCSRF, model.SeverityMedium,
				"Form accepts state-changing POST requests without a CSRF token",
				fmt.Sprintf("POST %s", form.Action), "Attacker-controlled sites can forge requests on behalf of a victim",
			),
			Kind: "D5",
		})
	}
	return out
}

func hasSensitiveInput(form model.Form) bool {
	for _, in := range form.Inputs {
		if in.Type == "password" {
			return true
		}
		l := strings.ToLower(in.Name)
		if strings.Contains(l, "password") || strings.Contains(l, "email") {
			return true
		}
	}
	return false
}

// D6DOMXSSSinks flags inline <script> elements whose text contains the
// literal substrings "innerHTML" or "document.write". At most one finding
// per sink occurrence.
func D6DOMXSSSinks(dc Context) Outcome {
	var out Outcome
	if dc.Initial == nil {
		return out
	}
	for _, script := range inlineScripts(string(dc.Initial.Body)) {
		if strings.Contains(script, "innerHTML") || strings.Contains(script, "document.write") {
			out.findings = append(out.findings, taggedFinding{
				Finding: model.NewFinding(
					"Potential DOM XSS", model.CategoryXSS, model.SeverityHigh,
					"Inline script writes to a DOM sink that can execute attacker-controlled markup",
					dc.Page.URL, "Client-side script execution if the sink is fed untrusted input",
				),
				Kind: "D6",
			})
		}
	}
	return out
}

// D7InformationDisclosure flags a Server header on the initial response
// and an unmodified-response SQL error fingerprint.
func D7InformationDisclosure(dc Context) Outcome {
	var out Outcome
	if dc.Initial == nil {
		return out
	}
	if server := dc.Initial.Headers.Get("Server"); server != "" {
		out.findings = append(out.findings, taggedFinding{
			Finding: model.NewFinding(
				"Server Header Disclosure", model.CategoryInformationDisclosure, model.SeverityLow,
				fmt.Sprintf("Server header discloses: %s", server),
				"HTTP Headers", "Reveals server software/version, aiding targeted exploitation",
			),
			Kind: "D7-header",
		})
	}
	if fp, ok := corpus.MatchesSQLError(string(dc.Initial.Body)); ok {
		out.findings = append(out.findings, taggedFinding{
			Finding: model.NewFinding(
				"Database Error Disclosure", model.CategoryInformationDisclosure, model.SeverityMedium,
				fmt.Sprintf("Unmodified response contains a database error fingerprint (%s)", fp),
				dc.Page.URL, "Database internals leaked to unauthenticated clients",
			),
			Kind: "D7-dberror",
		})
	}
	return out
}

// formResponseBody submits form with every named input set to filler,
// except target which is set to payload, and returns the response body
// (empty string on fetch failure).
func formResponseBody(ctx context.Context, f *fetcher.Fetcher, form model.Form, target, payload, filler string) string {
	values := url.Values{}
	for _, in := range form.Inputs {
		if in.Name == target {
			values.Set(in.Name, payload)
		} else {
			values.Set(in.Name, filler)
		}
	}

	if form.Method == "POST" {
		resp, err := f.Post(ctx, form.Action, values.Encode(), nil)
		if err != nil {
			return ""
		}
		return string(resp.Body)
	}

	u, err := url.Parse(form.Action)
	if err != nil {
		return ""
	}
	u.RawQuery = values.Encode()
	resp, err := f.Get(ctx, u.String(), nil)
	if err != nil {
		return ""
	}
	return string(resp.Body)
}

func withParam(u *url.URL, name, value string) string {
	clone := *u
	q := clone.Query()
	q.Set(name, value)
	clone.RawQuery = q.Encode()
	return clone.String()
}

// inlineScripts returns the text content of every <script> element with
// no src attribute.
func inlineScripts(body string) []string {
	var scripts []string
	lower := body
	idx := 0
	for {
		start := indexFold(lower[idx:], "<script")
		if start < 0 {
			break
		}
		start += idx
		tagEnd := strings.IndexByte(lower[start:], '>')
		if tagEnd < 0 {
			break
		}
		tagEnd += start
		if strings.Contains(strings.ToLower(lower[start:tagEnd]), "src=") {
			idx = tagEnd + 1
			continue
		}
		end := indexFold(lower[tagEnd+1:], "</script>")
		if end < 0 {
			break
		}
		end += tagEnd + 1
		scripts = append(scripts, body[tagEnd+1:end])
		idx = end + len("</script>")
	}
	return scripts
}

func indexFold(s, substr string) int {
	return strings.Index(strings.ToLower(s), strings.ToLower(substr))
}
