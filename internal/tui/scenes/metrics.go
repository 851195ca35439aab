package scenes

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"logpipe/internal/schema"
	"logpipe/internal/tui/api"
	"logpipe/internal/tui/styles"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const maxBarWidth = 40

// MetricsScene shows the server's totals and per-category and per-severity counts.
type MetricsScene struct {
	client     *api.Client
	interval   time.Duration
	health     *api.HealthResponse
	metrics    *schema.MetricsState
	err        error
	width      int
	height     int
	lastUpdate time.Time
	loading    bool
}

type metricsMsg struct {
	health  *api.HealthResponse
	metrics *schema.MetricsState
	err     error
}

// NewMetricsScene creates a metrics scene polling every interval.
func NewMetricsScene(client *api.Client, interval time.Duration) *MetricsScene {
	return &MetricsScene{
		client:   client,
		interval: interval,
		loading:  true,
	}
}

// Init fetches the first snapshot.
func (s *MetricsScene) Init() tea.Cmd {
	return s.fetch()
}

func (s *MetricsScene) fetch() tea.Cmd {
	return func() tea.Msg {
		health, err := s.client.GetHealth()
		if err != nil {
			return metricsMsg{err: err}
		}
		m, err := s.client.GetMetrics()
		if err != nil {
			return metricsMsg{health: health, err: err}
		}
		return metricsMsg{health: health, metrics: m}
	}
}

// TickCmd schedules the next poll.
func (s *MetricsScene) TickCmd() tea.Cmd {
	return tick(SceneMetrics, s.interval)
}

// Update handles messages for the metrics scene.
func (s *MetricsScene) Update(msg tea.Msg) (*MetricsScene, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		s.width = msg.Width
		s.height = msg.Height
		return s, nil

	case tea.KeyMsg:
		if msg.String() == "r" {
			return s, s.fetch()
		}
		return s, nil

	case metricsMsg:
		s.loading = false
		s.err = msg.err
		// Keep the last good snapshot on screen while the server is unreachable.
		if msg.health != nil {
			s.health = msg.health
		}
		if msg.metrics != nil {
			s.metrics = msg.metrics
		}
		s.lastUpdate = time.Now()
		return s, nil

	case TickMsg:
		if msg.Scene == SceneMetrics {
			return s, s.fetch()
		}
		return s, nil
	}

	return s, nil
}

// View renders the metrics scene.
func (s *MetricsScene) View() string {
	var b strings.Builder

	b.WriteString(styles.Title.Render("  logpipe metrics"))
	b.WriteString("\n\n")

	if s.loading {
		b.WriteString(styles.Muted.Render("  Loading..."))
		return b.String()
	}

	if s.err != nil {
		b.WriteString(styles.StatusError.Render(fmt.Sprintf("  Error: %v", s.err)))
		b.WriteString("\n\n")
	}

	status := styles.StatusError.Render("● DOWN")
	if s.health != nil && s.health.Healthy() {
		status = styles.StatusOK.Render("● UP")
	}
	fmt.Fprintf(&b, "  %s  %s\n\n", status, styles.Muted.Render(s.client.BaseURL()))

	if s.metrics == nil {
		return b.String()
	}

	stored := 0
	if s.health != nil {
		stored = s.health.TotalLogs
	}
	cards := []string{
		renderMetricCard("Received", formatNumber(s.metrics.TotalProcessed)),
		renderMetricCard("Stored", formatNumber(int64(stored))),
		renderMetricCard("Unclassified", formatNumber(s.metrics.ByCategory[schema.CategoryUnknown])),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, cards...))
	b.WriteString("\n\n")

	b.WriteString(styles.Subtitle.Render("  By category"))
	b.WriteString("\n")
	b.WriteString(renderBars(s.metrics.ByCategory))
	b.WriteString("\n\n")

	b.WriteString(styles.Subtitle.Render("  By severity"))
	b.WriteString("\n")
	b.WriteString(renderBars(s.metrics.BySeverity))
	b.WriteString("\n")

	if !s.lastUpdate.IsZero() {
		b.WriteString("\n")
		b.WriteString(styles.Muted.Render(fmt.Sprintf("  Last updated: %s  [r] Refresh", s.lastUpdate.Format("15:04:05"))))
	}

	return b.String()
}

func renderMetricCard(label, value string) string {
	content := fmt.Sprintf("%s\n%s",
		styles.MetricValue.Render(value),
		styles.MetricLabel.Render(label),
	)
	return styles.MetricCard.Render(content)
}

// renderBars draws one row per key, sorted by name, scaled to the largest count.
func renderBars(counts map[string]int64) string {
	if len(counts) == 0 {
		return styles.Muted.Render("  (none)")
	}

	keys := make([]string, 0, len(counts))
	var peak int64
	for k, v := range counts {
		keys = append(keys, k)
		peak = max(peak, v)
	}
	slices.Sort(keys)

	rows := make([]string, 0, len(keys))
	for _, k := range keys {
		n := counts[k]
		width := 0
		if peak > 0 {
			width = int(n * maxBarWidth / peak)
		}
		if n > 0 && width == 0 {
			width = 1
		}
		bar := styles.Bar.Render(strings.Repeat("█", width))
		rows = append(rows, fmt.Sprintf("  %-16s %s %s", k, bar, formatNumber(n)))
	}
	return strings.Join(rows, "\n")
}
