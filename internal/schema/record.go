// Package schema defines the structured log record shared by the collector
// and the log server. Field names on the wire keep their dotted form.
package schema

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Protocol identifies the listener a raw line arrived on.
type Protocol string

const (
	ProtocolTCP  Protocol = "TCP"
	ProtocolUDP  Protocol = "UDP"
	ProtocolDTLS Protocol = "DTLS"
)

// RawLine is one unparsed payload as read off the network.
type RawLine struct {
	Protocol   Protocol
	Text       []byte
	ReceivedAt time.Time
}

// Event categories produced by the classifier.
const (
	CategoryLinuxLogin   = "linux_login"
	CategoryLinuxLogout  = "linux_logout"
	CategoryWindowsLogin = "windows_login"
	CategoryWindowsEvent = "windows_event"
	CategoryUnknown      = "unknown"
)

// Event source types.
const (
	SourceLinux   = "linux"
	SourceWindows = "windows"
	SourceUnknown = "unknown"
)

// Severity levels derived from the syslog priority code.
const (
	SeverityError = "ERROR"
	SeverityWarn  = "WARN"
	SeverityInfo  = "INFO"
	SeverityDebug = "DEBUG"
)

// TimestampLayout is a fixed-width UTC layout. Fixed width keeps string order
// equal to chronological order, which the timestamp sort relies on.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z"

// ReceivedAtLayout has second precision.
const ReceivedAtLayout = "2006-01-02T15:04:05Z"

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Record is a classified log line. It is not modified after construction.
type Record struct {
	Timestamp       string  `json:"timestamp,omitempty"`
	EventCategory   string  `json:"event.category" validate:"required,oneof=linux_login linux_logout windows_login windows_event unknown"`
	EventSourceType string  `json:"event.source.type" validate:"required,oneof=linux windows unknown"`
	Username        *string `json:"username"`
	Hostname        *string `json:"hostname"`
	Severity        string  `json:"severity" validate:"required,severity"`
	RawMessage      string  `json:"raw.message" validate:"required,max=65536"`
	IsBlacklisted   bool    `json:"is.blacklisted"`
}

// UsernameValue returns the username or "" when absent.
func (r Record) UsernameValue() string {
	if r.Username == nil {
		return ""
	}
	return *r.Username
}

// HostnameValue returns the hostname or "" when absent.
func (r Record) HostnameValue() string {
	if r.Hostname == nil {
		return ""
	}
	return *r.Hostname
}

// StoredRecord is a Record as held by the log server.
type StoredRecord struct {
	Record

	ID         uuid.UUID `json:"id"`
	Seq        uint64    `json:"seq"`
	ReceivedAt string    `json:"received.at"`
}

// NewStoredRecord stamps rec with a fresh ID and the ingestion time.
func NewStoredRecord(rec Record, now time.Time) *StoredRecord {
	return &StoredRecord{
		Record:     rec,
		ID:         uuid.New(),
		ReceivedAt: now.UTC().Format(ReceivedAtLayout),
	}
}

// MetricsState is a point-in-time view of the store counters.
type MetricsState struct {
	TotalProcessed int64            `json:"totalLogsReceived"`
	ByCategory     map[string]int64 `json:"logsByCategory"`
	BySeverity     map[string]int64 `json:"logsBySeverity"`
}

// IsValidSeverity reports whether s names a known severity, ignoring case.
func IsValidSeverity(s string) bool {
	switch strings.ToUpper(s) {
	case SeverityError, SeverityWarn, SeverityInfo, SeverityDebug:
		return true
	}
	return false
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
