// Package abuse classifies request metadata to pick a rate-limit tier.
//
// The classifier is a heuristic, not a security boundary: a suspicious
// verdict only selects a stricter rate-limit policy and never rejects a
// request on its own. False positives degrade service; false negatives are
// accepted.
package abuse

import "strings"

// Agent string length bounds. Anything outside is treated as automated.
const (
	minAgentLength = 10
	maxAgentLength = 500
)

// automationMarkers are substrings (matched case-insensitively) that indicate
// automated clients.
var automationMarkers = []string{
	"bot",
	"crawler",
	"spider",
	"scraper",
	"curl",
	"wget",
	"python",
	"php",
	"java",
	"postman",
	"insomnia",
}

// Suspicious reports whether the declared client agent string looks like
// automated traffic: absent, implausibly short or long, or carrying a known
// automation marker.
func Suspicious(agent string) bool {
	if len(agent) < minAgentLength || len(agent) > maxAgentLength {
		return true
	}

	lower := strings.ToLower(agent)
	for _, marker := range automationMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}

	return false
}
