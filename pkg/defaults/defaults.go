// Package defaults is the single source of truth for the small set of
// constants shared across components that would otherwise duplicate
// magic strings: content types and the tool's identity. Numeric scan
// defaults (worker count, timeouts, crawl bounds) live in envconfig,
// since those are documented per §6 with their own environment variable
// names and are not shared outside that one loader.
package defaults

const (
	ContentTypeJSON = "application/json"
	ContentTypeForm = "application/x-www-form-urlencoded"
	ContentTypeHTML = "text/html"
)

// ToolName identifies this scanner in its default User-Agent.
const ToolName = "SecureScan-Worker"

// Version is the engine's own version, independent of any embedding
// application's version.
const Version = "1.0.0"
