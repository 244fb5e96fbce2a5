package engine

import "strings"

// Severity categorizes the last error reported by the transfer engine.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityRateLimited
	SeverityServer
	SeverityOther
)

// String returns the label used in logs and metrics.
func (s Severity) String() string {
	switch s {
	case SeverityNone:
		return "none"
	case SeverityRateLimited:
		return "rate_limited"
	case SeverityServer:
		return "server_error"
	default:
		return "other"
	}
}

var (
	rateLimitMarkers = []string{"429", "too many", "rate limit"}
	serverMarkers    = []string{"502", "503", "bad gateway"}
)

// Classify maps the engine's last-error text to a severity. Matching is a
// case-insensitive substring check, first match wins. Anything non-empty
// that matches no known marker is SeverityOther.
func Classify(lastError string) Severity {
	if lastError == "" {
		return SeverityNone
	}

	text := strings.ToLower(lastError)
	for _, marker := range rateLimitMarkers {
		if strings.Contains(text, marker) {
			return SeverityRateLimited
		}
	}
	for _, marker := range serverMarkers {
		if strings.Contains(text, marker) {
			return SeverityServer
		}
	}
	return SeverityOther
}
