package styles

import (
	"testing"

	"logpipe/internal/schema"
)

func TestSeverity(t *testing.T) {
	tests := []struct {
		level string
		want  any
	}{
		{schema.SeverityError, Error},
		{schema.SeverityWarn, Warning},
		{schema.SeverityInfo, Secondary},
		{schema.SeverityDebug, DebugColor},
		{"TRACE", MutedColor},
		{"", MutedColor},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			if got := Severity(tt.level).GetForeground(); got != tt.want {
				t.Errorf("Severity(%q) foreground = %v, want %v", tt.level, got, tt.want)
			}
		})
	}
}
