package model

import "fmt"

// InvalidInput is returned when a scan is requested with a malformed seed
// URL, or a URL that is rejected by the Scope Policy before the scan is
// even created. The caller (external HTTP front end) maps this to a 4xx;
// no ScanState is ever constructed for it.
type InvalidInput struct {
	Input  string
	Reason string
}

func (e *InvalidInput) Error() string {
	return fmt.Sprintf("invalid input %q: %s", e.Input, e.Reason)
}

// InternalInvariantViolation marks a counter or state-machine transition
// that should be impossible. It is asserted and logged, not expected to be
// user-visible; callers that see one should treat it as a bug report.
type InternalInvariantViolation struct {
	Invariant string
	Detail    string
}

func (e *InternalInvariantViolation) Error() string {
	return fmt.Sprintf("internal invariant violated (%s): %s", e.Invariant, e.Detail)
}
