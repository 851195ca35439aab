// Package catalog holds the classification rules and the username blacklist.
// A Catalog is immutable after construction and safe for concurrent use.
package catalog

import "regexp"

// Markers matched by plain substring tests.
const (
	MarkerSudo          = "sudo"
	MarkerSessionOpened = "session opened"
	MarkerSessionClosed = "session closed"
	MarkerWindowsAudit  = "Microsoft-Windows-Security-Auditing"
	MarkerLoggedOn      = "logged on"
)

var (
	priorityPattern     = regexp.MustCompile(`^<(\d+)>`)
	linuxLoginPattern   = regexp.MustCompile(`session opened for user (\w+).*by (\w+)`)
	linuxLogoutPattern  = regexp.MustCompile(`session closed for user (\w+)`)
	windowsLoginPattern = regexp.MustCompile(`Account Name: (\w+)`)
)

// DefaultBlacklist is the set of usernames flagged on every record.
var DefaultBlacklist = []string{"root", "admin", "hacker"}

// Catalog is the set of patterns the parser classifies with.
type Catalog struct {
	Priority     *regexp.Regexp
	LinuxLogin   *regexp.Regexp
	LinuxLogout  *regexp.Regexp
	WindowsLogin *regexp.Regexp

	blacklist map[string]struct{}
}

// New builds a catalog with the given blacklist.
func New(blacklist []string) *Catalog {
	set := make(map[string]struct{}, len(blacklist))
	for _, u := range blacklist {
		set[u] = struct{}{}
	}
	return &Catalog{
		Priority:     priorityPattern,
		LinuxLogin:   linuxLoginPattern,
		LinuxLogout:  linuxLogoutPattern,
		WindowsLogin: windowsLoginPattern,
		blacklist:    set,
	}
}

// Default returns a catalog with DefaultBlacklist.
func Default() *Catalog {
	return New(DefaultBlacklist)
}

// IsBlacklisted reports whether username is on the blacklist. Matching is
// case-sensitive.
func (c *Catalog) IsBlacklisted(username string) bool {
	_, ok := c.blacklist[username]
	return ok
}

// Blacklist returns a copy of the blacklisted usernames.
func (c *Catalog) Blacklist() []string {
	out := make([]string, 0, len(c.blacklist))
	for u := range c.blacklist {
		out = append(out, u)
	}
	return out
}
