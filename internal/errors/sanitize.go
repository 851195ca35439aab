// Package errors turns internal errors into messages that are safe to return
// to HTTP clients.
package errors

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
)

var (
	// Pattern to match file paths (Linux and Windows)
	filePathPattern = regexp.MustCompile(`(/[a-zA-Z0-9_\-./]+)|([A-Z]:\\[a-zA-Z0-9_\-\\ ./]+)`)

	// Pattern to match IPv4 addresses, with an optional port
	ipPattern = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}(?::\d+)?\b`)

	// Pattern to match credentials embedded in messages
	credentialPattern = regexp.MustCompile(`(?i)(password=|secret=|token=|api[_-]?key=|redis://[^ ]*@)`)
)

// Client-facing messages that never carry internal detail.
var clientFacing = []string{
	"validation failed",
	"invalid json",
	"invalid limit",
	"invalid is.blacklisted",
	"request body too large",
	"backpressure",
}

var production atomic.Bool

// SetProductionMode switches sanitizing on or off. Call it once during
// initialization.
func SetProductionMode(on bool) {
	production.Store(on)
}

// IsProduction reports whether sanitizing is on.
func IsProduction() bool {
	return production.Load()
}

// Sanitize strips paths, addresses and credentials from s. It always
// sanitizes, regardless of mode.
func Sanitize(s string) string {
	if credentialPattern.MatchString(s) {
		return "internal error"
	}

	// Keep only the last path element
	s = filePathPattern.ReplaceAllStringFunc(s, func(match string) string {
		return filepath.Base(match)
	})

	// Keep the first two octets for context
	s = ipPattern.ReplaceAllStringFunc(s, func(match string) string {
		host := match
		if i := strings.IndexByte(host, ':'); i >= 0 {
			host = host[:i]
		}
		parts := strings.Split(host, ".")
		return fmt.Sprintf("%s.%s.x.x", parts[0], parts[1])
	})

	if strings.Contains(s, "goroutine") || strings.Count(s, "\n") > 3 {
		return "internal server error - operation failed"
	}

	return s
}

// SafeMessage returns err's message as it may be shown to a client. Outside
// production mode the message is returned unchanged.
func SafeMessage(err error) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	if !IsProduction() {
		return msg
	}

	lower := strings.ToLower(msg)
	for _, prefix := range clientFacing {
		if strings.HasPrefix(lower, prefix) {
			return msg
		}
	}

	return Sanitize(msg)
}
