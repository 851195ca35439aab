package schema

import (
	"strings"
	"testing"
	"time"
)

func TestIsValidSeverity(t *testing.T) {
	tests := []struct {
		severity string
		want     bool
	}{
		{"ERROR", true},
		{"warn", true},
		{"Info", true},
		{"DEBUG", true},
		{"", false},
		{"TRACE", false},
		{"critical", false},
	}

	for _, tt := range tests {
		t.Run(tt.severity, func(t *testing.T) {
			if got := IsValidSeverity(tt.severity); got != tt.want {
				t.Errorf("IsValidSeverity(%q) = %v, want %v", tt.severity, got, tt.want)
			}
		})
	}
}

func TestValidator_Validate(t *testing.T) {
	validator := NewValidator()

	validRecord := func() *Record {
		return &Record{
			Timestamp:       FormatTimestamp(time.Now()),
			EventCategory:   CategoryLinuxLogin,
			EventSourceType: SourceLinux,
			Username:        StringPtr("root"),
			Hostname:        StringPtr("aiops9242"),
			Severity:        SeverityDebug,
			RawMessage:      "<86> aiops9242 sudo: session opened for user root(uid=0) by motadata(uid=1000)",
			IsBlacklisted:   true,
		}
	}

	t.Run("valid record", func(t *testing.T) {
		if err := validator.Validate(validRecord()); err != nil {
			t.Errorf("Validate() error = %v, want nil", err)
		}
	})

	t.Run("lowercase severity", func(t *testing.T) {
		rec := validRecord()
		rec.Severity = "debug"
		if err := validator.Validate(rec); err != nil {
			t.Errorf("Validate() error = %v, want nil", err)
		}
	})

	t.Run("optional fields absent", func(t *testing.T) {
		rec := validRecord()
		rec.Username = nil
		rec.Hostname = nil
		rec.Timestamp = ""
		if err := validator.Validate(rec); err != nil {
			t.Errorf("Validate() error = %v, want nil", err)
		}
	})

	tests := []struct {
		name   string
		mutate func(*Record)
	}{
		{"unknown category", func(r *Record) { r.EventCategory = "mainframe_login" }},
		{"missing category", func(r *Record) { r.EventCategory = "" }},
		{"unknown source", func(r *Record) { r.EventSourceType = "bsd" }},
		{"unknown severity", func(r *Record) { r.Severity = "FATAL" }},
		{"missing raw message", func(r *Record) { r.RawMessage = "" }},
		{"raw message too long", func(r *Record) { r.RawMessage = strings.Repeat("a", 65537) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := validRecord()
			tt.mutate(rec)
			if err := validator.Validate(rec); err == nil {
				t.Error("Validate() should fail")
			}
		})
	}

	t.Run("nil record", func(t *testing.T) {
		if err := validator.Validate(nil); err == nil {
			t.Error("Validate(nil) should fail")
		}
	})
}

func TestNewStoredRecord(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 890, time.UTC)
	rec := Record{EventCategory: CategoryUnknown, EventSourceType: SourceUnknown, Severity: SeverityInfo, RawMessage: "x"}

	a := NewStoredRecord(rec, now)
	b := NewStoredRecord(rec, now)

	if a.ReceivedAt != "2026-03-04T05:06:07Z" {
		t.Errorf("ReceivedAt = %q, want second precision", a.ReceivedAt)
	}
	if a.ID == b.ID {
		t.Error("stored records should get distinct IDs")
	}
	if a.RawMessage != "x" {
		t.Errorf("RawMessage = %q, want %q", a.RawMessage, "x")
	}
}

func TestFormatTimestamp_LexicalOrder(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	earlier := FormatTimestamp(base.Add(100 * time.Millisecond))
	later := FormatTimestamp(base.Add(time.Second))

	if len(earlier) != len(later) {
		t.Fatalf("timestamps should be fixed width: %q vs %q", earlier, later)
	}
	if earlier >= later {
		t.Errorf("expected %q < %q", earlier, later)
	}
}
