package client

import "strings"

// Severity buckets a service failure message for the recovery decision.
type Severity int

const (
	// SeverityUnknown covers messages matching no keyword; treated as
	// non-retryable so unclassified failures never trigger reconnect storms.
	SeverityUnknown Severity = iota
	SeverityRetryable
	SeverityFatal
)

// retryableKeywords mark transient service and transport failures.
var retryableKeywords = []string{
	"engine:1022",
	"serverinternalerror",
	"model inference error",
	"timeout",
	"network",
	"connection",
}

// fatalKeywords mark failures that retrying can never fix.
var fatalKeywords = []string{
	"authentication",
	"quota",
	"invalid_parameter",
	"invalid_app_key",
	"invalid_access_key",
}

// Classify buckets a failure message by case-insensitive keyword match.
// Fatal keywords win over retryable ones when both match.
func Classify(message string) Severity {
	lowered := strings.ToLower(message)
	for _, keyword := range fatalKeywords {
		if strings.Contains(lowered, keyword) {
			return SeverityFatal
		}
	}
	for _, keyword := range retryableKeywords {
		if strings.Contains(lowered, keyword) {
			return SeverityRetryable
		}
	}
	return SeverityUnknown
}

// Retryable reports whether automatic recovery should run for a failure message.
func Retryable(message string) bool {
	return Classify(message) == SeverityRetryable
}
