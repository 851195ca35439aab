// Package parser turns raw log text into classified records.
package parser

import (
	"strconv"
	"strings"
	"time"

	"logpipe/internal/catalog"
	"logpipe/internal/schema"
)

// Parser classifies raw log lines against a pattern catalog. It holds no
// mutable state and is safe for concurrent use.
type Parser struct {
	catalog *catalog.Catalog
	now     func() time.Time
}

// Option configures a Parser.
type Option func(*Parser)

// WithClock replaces the wall clock used for the record timestamp.
func WithClock(now func() time.Time) Option {
	return func(p *Parser) {
		p.now = now
	}
}

// New creates a Parser. A nil catalog means catalog.Default().
func New(c *catalog.Catalog, opts ...Option) *Parser {
	if c == nil {
		c = catalog.Default()
	}
	p := &Parser{
		catalog: c,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse classifies raw. It never fails: unrecognized text yields the
// unknown category with no username.
func (p *Parser) Parse(raw string) schema.Record {
	rec := schema.Record{
		Timestamp:  schema.FormatTimestamp(p.now()),
		RawMessage: raw,
		Severity:   schema.SeverityInfo,
	}

	if m := p.catalog.Priority.FindStringSubmatch(raw); m != nil {
		if priority, err := strconv.Atoi(m[1]); err == nil {
			rec.Severity = SeverityFromPriority(priority)
		}
	}

	switch {
	case strings.Contains(raw, catalog.MarkerSudo) || strings.Contains(raw, catalog.MarkerSessionOpened):
		rec.EventCategory = schema.CategoryLinuxLogin
		rec.EventSourceType = schema.SourceLinux
		rec.Username = firstCapture(p.catalog.LinuxLogin.FindStringSubmatch(raw))
	case strings.Contains(raw, catalog.MarkerSessionClosed):
		rec.EventCategory = schema.CategoryLinuxLogout
		rec.EventSourceType = schema.SourceLinux
		rec.Username = firstCapture(p.catalog.LinuxLogout.FindStringSubmatch(raw))
	case strings.Contains(raw, catalog.MarkerWindowsAudit):
		if strings.Contains(raw, catalog.MarkerLoggedOn) {
			rec.EventCategory = schema.CategoryWindowsLogin
		} else {
			rec.EventCategory = schema.CategoryWindowsEvent
		}
		rec.EventSourceType = schema.SourceWindows
		rec.Username = firstCapture(p.catalog.WindowsLogin.FindStringSubmatch(raw))
	default:
		rec.EventCategory = schema.CategoryUnknown
		rec.EventSourceType = schema.SourceUnknown
	}

	// Token 0 is the priority tag.
	if fields := strings.Fields(raw); len(fields) > 1 {
		rec.Hostname = schema.StringPtr(fields[1])
	}

	rec.IsBlacklisted = rec.Username != nil && p.catalog.IsBlacklisted(*rec.Username)

	return rec
}

// SeverityFromPriority maps the low three bits of a syslog priority onto a
// severity level.
func SeverityFromPriority(priority int) string {
	switch priority & 0x7 {
	case 0, 1, 2:
		return schema.SeverityError
	case 3:
		return schema.SeverityWarn
	case 4, 5:
		return schema.SeverityInfo
	default:
		return schema.SeverityDebug
	}
}

func firstCapture(m []string) *string {
	if len(m) < 2 {
		return nil
	}
	return schema.StringPtr(m[1])
}
