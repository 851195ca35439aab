package logging

import (
	"regexp"
	"strings"
)

// MaskedValue is the string used to replace sensitive values.
const MaskedValue = "[REDACTED]"

// sensitiveFields are matched against lower-cased field names by substring.
var sensitiveFields = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"api_key",
	"apikey",
	"credentials",
	"authorization",
}

// sensitivePatterns match credential-looking fragments inside raw log text.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password|passwd)['":\s]*[=:]\s*['"]?([a-zA-Z0-9_\-\.]+)['"]?`),
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_\-\.]+`),
	regexp.MustCompile(`(?i)basic\s+[a-zA-Z0-9+/=]+`),
}

// IsSensitiveField checks if a field name is sensitive.
func IsSensitiveField(fieldName string) bool {
	lower := strings.ToLower(fieldName)
	for _, s := range sensitiveFields {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// MaskSensitiveValue masks value if fieldName is sensitive.
func MaskSensitiveValue(fieldName, value string) string {
	if value == "" || !IsSensitiveField(fieldName) {
		return value
	}
	return MaskedValue
}

// Redact masks credential-looking substrings of raw log text. Used before
// raw payloads are written to debug logs.
func Redact(raw string) string {
	out := raw
	for _, p := range sensitivePatterns {
		out = p.ReplaceAllString(out, MaskedValue)
	}
	return out
}

// Truncate shortens s to at most n bytes for log output.
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
