// Package styles holds the lipgloss styles shared by the dashboard scenes.
package styles

import (
	"github.com/charmbracelet/lipgloss"

	"logpipe/internal/schema"
)

var (
	Primary    = lipgloss.Color("#0EA5E9")
	Secondary  = lipgloss.Color("#22C55E")
	Warning    = lipgloss.Color("#F59E0B")
	Error      = lipgloss.Color("#EF4444")
	MutedColor = lipgloss.Color("#6B7280")
	White      = lipgloss.Color("#FFFFFF")
	DebugColor = lipgloss.Color("#A78BFA")

	Muted    = lipgloss.NewStyle().Foreground(MutedColor)
	Title    = lipgloss.NewStyle().Bold(true).Foreground(Primary).MarginBottom(1)
	Subtitle = lipgloss.NewStyle().Foreground(MutedColor).Italic(true)
	Help     = lipgloss.NewStyle().Foreground(MutedColor).MarginTop(1)

	// Server health and fetch errors.
	StatusOK    = lipgloss.NewStyle().Foreground(Secondary).Bold(true)
	StatusError = lipgloss.NewStyle().Foreground(Error).Bold(true)

	TabActive   = lipgloss.NewStyle().Foreground(White).Background(Primary).Padding(0, 2).Bold(true)
	TabInactive = lipgloss.NewStyle().Foreground(MutedColor).Padding(0, 2)
	HeaderRule  = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(MutedColor)

	MetricCard = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(MutedColor).
			Padding(0, 2).
			Width(18).
			Align(lipgloss.Center)
	MetricValue = lipgloss.NewStyle().Bold(true).Foreground(Secondary)
	MetricLabel = lipgloss.NewStyle().Foreground(MutedColor)
	Bar         = lipgloss.NewStyle().Foreground(Primary)

	LogHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(Primary).
			BorderBottom(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(MutedColor)
	SelectedRow     = lipgloss.NewStyle().Background(Primary).Foreground(White)
	BlacklistedUser = lipgloss.NewStyle().Foreground(Error).Bold(true)
)

var severityStyles = map[string]lipgloss.Style{
	schema.SeverityError: lipgloss.NewStyle().Foreground(Error).Bold(true),
	schema.SeverityWarn:  lipgloss.NewStyle().Foreground(Warning).Bold(true),
	schema.SeverityInfo:  lipgloss.NewStyle().Foreground(Secondary),
	schema.SeverityDebug: lipgloss.NewStyle().Foreground(DebugColor),
}

// Severity returns the style for a record severity. Unknown values are muted.
func Severity(level string) lipgloss.Style {
	if s, ok := severityStyles[level]; ok {
		return s
	}
	return Muted
}
