// Package tui provides a terminal dashboard for the logpipe log server.
package tui

import (
	"fmt"
	"strings"
	"time"

	"logpipe/internal/tui/api"
	"logpipe/internal/tui/scenes"
	"logpipe/internal/tui/styles"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Scene represents the current view
type Scene int

const (
	SceneMetrics Scene = iota
	SceneLogs

	sceneCount
)

// Config controls what the dashboard polls and how often.
type Config struct {
	ServerURL    string
	PollInterval time.Duration
	LogLimit     int
}

// Model is the main TUI model
type Model struct {
	client *api.Client

	scene Scene

	// Only the active scene receives ticks.
	metrics *scenes.MetricsScene
	logs    *scenes.LogsScene

	width  int
	height int

	quitting bool
}

// New creates a new TUI model
func New(cfg Config) *Model {
	client := api.NewClient(cfg.ServerURL)

	return &Model{
		client:  client,
		scene:   SceneMetrics,
		metrics: scenes.NewMetricsScene(client, cfg.PollInterval),
		logs:    scenes.NewLogsScene(client, cfg.PollInterval, cfg.LogLimit),
	}
}

// Scene returns the active scene.
func (m *Model) Scene() Scene {
	return m.scene
}

// Init initializes the TUI
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.metrics.Init(),
		m.activeTickCmd(),
	)
}

func (m *Model) activeTickCmd() tea.Cmd {
	switch m.scene {
	case SceneMetrics:
		return m.metrics.TickCmd()
	case SceneLogs:
		return m.logs.TickCmd()
	default:
		return nil
	}
}

func (m *Model) switchTo(s Scene) tea.Cmd {
	if m.scene == s {
		return nil
	}
	m.scene = s
	switch s {
	case SceneMetrics:
		return tea.Batch(m.metrics.Init(), m.metrics.TickCmd())
	case SceneLogs:
		return tea.Batch(m.logs.Init(), m.logs.TickCmd())
	}
	return nil
}

// Update handles all messages
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "1":
			return m, m.switchTo(SceneMetrics)
		case "2":
			return m, m.switchTo(SceneLogs)
		case "tab":
			return m, m.switchTo((m.scene + 1) % sceneCount)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.metrics, _ = m.metrics.Update(msg)
		m.logs, _ = m.logs.Update(msg)
		return m, nil

	case scenes.TickMsg:
		// Ticks from an inactive scene are dropped.
		var cmd tea.Cmd
		switch m.scene {
		case SceneMetrics:
			if msg.Scene != scenes.SceneMetrics {
				return m, nil
			}
			m.metrics, cmd = m.metrics.Update(msg)
		case SceneLogs:
			if msg.Scene != scenes.SceneLogs {
				return m, nil
			}
			m.logs, cmd = m.logs.Update(msg)
		}
		return m, tea.Batch(cmd, m.activeTickCmd())
	}

	var cmd tea.Cmd
	switch m.scene {
	case SceneMetrics:
		m.metrics, cmd = m.metrics.Update(msg)
	case SceneLogs:
		m.logs, cmd = m.logs.Update(msg)
	}
	return m, cmd
}

// View renders the current view
func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n")

	switch m.scene {
	case SceneMetrics:
		b.WriteString(m.metrics.View())
	case SceneLogs:
		b.WriteString(m.logs.View())
	}

	b.WriteString("\n")
	b.WriteString(m.renderFooter())

	return b.String()
}

func (m *Model) renderHeader() string {
	tabs := []struct {
		name  string
		key   string
		scene Scene
	}{
		{"Metrics", "1", SceneMetrics},
		{"Logs", "2", SceneLogs},
	}

	var tabViews []string
	for _, tab := range tabs {
		label := fmt.Sprintf(" %s %s ", tab.key, tab.name)
		if tab.scene == m.scene {
			tabViews = append(tabViews, styles.TabActive.Render(label))
		} else {
			tabViews = append(tabViews, styles.TabInactive.Render(label))
		}
	}

	tabBar := lipgloss.JoinHorizontal(lipgloss.Top, tabViews...)

	return styles.HeaderRule.Width(m.width).Render(tabBar)
}

func (m *Model) renderFooter() string {
	help := " [1-2] Switch tabs  [Tab] Next tab  [r] Refresh  [q] Quit "
	if m.scene == SceneLogs {
		help = " [1-2] Switch tabs  [Tab] Next tab  [↑↓/jk] Navigate  [b] Blacklisted only  [r] Refresh  [q] Quit "
	}
	return styles.Help.Render(help)
}

// Run starts the TUI application
func Run(cfg Config) error {
	p := tea.NewProgram(New(cfg), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
