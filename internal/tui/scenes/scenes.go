// Package scenes provides the dashboard's views.
package scenes

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// Scene names carried by TickMsg.
const (
	SceneMetrics = "metrics"
	SceneLogs    = "logs"
)

// DefaultInterval is the poll interval used when none is configured.
const DefaultInterval = 2 * time.Second

// TickMsg is sent on each tick - exported for use by parent model
type TickMsg struct {
	Scene string
	Time  time.Time
}

func tick(scene string, interval time.Duration) tea.Cmd {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return TickMsg{Scene: scene, Time: t}
	})
}

func formatNumber(n int64) string {
	if n >= 1000000 {
		return fmt.Sprintf("%.1fM", float64(n)/1000000)
	}
	if n >= 1000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%d", n)
}

func truncate(s string, maxLen int) string {
	if maxLen <= 3 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
