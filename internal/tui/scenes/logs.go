package scenes

import (
	"fmt"
	"strings"
	"time"

	"logpipe/internal/schema"
	"logpipe/internal/tui/api"
	"logpipe/internal/tui/styles"

	tea "github.com/charmbracelet/bubbletea"
)

// DefaultLogLimit is the number of records requested when none is configured.
const DefaultLogLimit = 50

// LogsScene lists the most recent stored records.
type LogsScene struct {
	client          *api.Client
	interval        time.Duration
	limit           int
	blacklistedOnly bool
	logs            []schema.StoredRecord
	err             string
	width           int
	height          int
	cursor          int
	offset          int
	loading         bool
	maxRows         int
	lastUpdate      time.Time
}

type logsMsg struct {
	logs []schema.StoredRecord
	err  string
}

// NewLogsScene creates a logs scene requesting up to limit records per poll.
func NewLogsScene(client *api.Client, interval time.Duration, limit int) *LogsScene {
	if limit <= 0 {
		limit = DefaultLogLimit
	}
	return &LogsScene{
		client:   client,
		interval: interval,
		limit:    limit,
		loading:  true,
		maxRows:  10,
	}
}

// BlacklistedOnly reports whether the blacklist filter is active.
func (l *LogsScene) BlacklistedOnly() bool {
	return l.blacklistedOnly
}

// Init fetches the first page.
func (l *LogsScene) Init() tea.Cmd {
	return l.fetch()
}

func (l *LogsScene) fetch() tea.Cmd {
	q := api.LogsQuery{Limit: l.limit, BlacklistedOnly: l.blacklistedOnly}
	return func() tea.Msg {
		logs, err := l.client.GetLogs(q)
		if err != nil {
			return logsMsg{err: err.Error()}
		}
		return logsMsg{logs: logs}
	}
}

// TickCmd schedules the next poll.
func (l *LogsScene) TickCmd() tea.Cmd {
	return tick(SceneLogs, l.interval)
}

// Update handles messages for the logs scene.
func (l *LogsScene) Update(msg tea.Msg) (*LogsScene, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		l.width = msg.Width
		l.height = msg.Height
		l.maxRows = max(5, l.height-12)
		return l, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if l.cursor > 0 {
				l.cursor--
				if l.cursor < l.offset {
					l.offset = l.cursor
				}
			}
		case "down", "j":
			if l.cursor < len(l.logs)-1 {
				l.cursor++
				if l.cursor >= l.offset+l.maxRows {
					l.offset = l.cursor - l.maxRows + 1
				}
			}
		case "b":
			l.blacklistedOnly = !l.blacklistedOnly
			l.cursor, l.offset = 0, 0
			l.loading = true
			return l, l.fetch()
		case "r":
			l.loading = true
			return l, l.fetch()
		}
		return l, nil

	case logsMsg:
		l.loading = false
		l.err = msg.err
		if msg.err == "" {
			l.logs = msg.logs
		}
		l.lastUpdate = time.Now()
		if l.cursor >= len(l.logs) {
			l.cursor = max(0, len(l.logs)-1)
		}
		if l.offset > l.cursor {
			l.offset = l.cursor
		}
		return l, nil

	case TickMsg:
		if msg.Scene == SceneLogs {
			return l, l.fetch()
		}
		return l, nil
	}

	return l, nil
}

// View renders the log table.
func (l *LogsScene) View() string {
	var b strings.Builder

	title := "  Recent logs"
	if l.blacklistedOnly {
		title += " (blacklisted only)"
	}
	b.WriteString(styles.Title.Render(title))
	b.WriteString("\n\n")

	if l.loading && len(l.logs) == 0 && l.err == "" {
		b.WriteString(styles.Muted.Render("  Loading logs..."))
		return b.String()
	}

	if l.err != "" {
		b.WriteString(styles.StatusError.Render(fmt.Sprintf("  Error: %s", l.err)))
		b.WriteString("\n")
		b.WriteString(styles.Muted.Render("  Press [r] to retry."))
		return b.String()
	}

	if len(l.logs) == 0 {
		b.WriteString(styles.Muted.Render("  No logs found."))
		b.WriteString("\n\n")
		b.WriteString(styles.Muted.Render("  Records appear here once the collector forwards them to the server."))
		return b.String()
	}

	count := fmt.Sprintf("  Showing %d records", len(l.logs))
	b.WriteString(styles.Subtitle.Render(count))
	if l.loading {
		b.WriteString(styles.Muted.Render("  (refreshing...)"))
	}
	b.WriteString("\n\n")

	header := fmt.Sprintf("  %-20s %-8s %-15s %-12s %-14s %s",
		"Timestamp", "Severity", "Category", "User", "Host", "Message")
	b.WriteString(styles.LogHeader.Render(header))
	b.WriteString("\n")

	end := min(l.offset+l.maxRows, len(l.logs))
	for i, rec := range l.logs[l.offset:end] {
		b.WriteString(l.renderRow(rec, l.offset+i == l.cursor))
		b.WriteString("\n")
	}

	if len(l.logs) > l.maxRows {
		b.WriteString(styles.Muted.Render(fmt.Sprintf("\n  %d-%d of %d (↑↓ to scroll)",
			l.offset+1, end, len(l.logs))))
	}
	if !l.lastUpdate.IsZero() {
		b.WriteString(styles.Muted.Render(fmt.Sprintf("\n  Updated: %s", l.lastUpdate.Format("15:04:05"))))
	}

	return b.String()
}

func (l *LogsScene) renderRow(rec schema.StoredRecord, selected bool) string {
	ts := rec.Timestamp
	if len(ts) >= 19 {
		ts = strings.Replace(ts[:19], "T", " ", 1)
	}
	user := truncate(rec.UsernameValue(), 12)
	if rec.IsBlacklisted {
		user = styles.BlacklistedUser.Render(fmt.Sprintf("%-12s", user))
	} else {
		user = fmt.Sprintf("%-12s", user)
	}

	row := fmt.Sprintf("  %-20s %s %-15s %s %-14s %s",
		ts,
		styles.Severity(rec.Severity).Render(fmt.Sprintf("%-8s", rec.Severity)),
		truncate(rec.EventCategory, 15),
		user,
		truncate(rec.HostnameValue(), 14),
		truncate(rec.RawMessage, 60),
	)

	if selected {
		return styles.SelectedRow.Render(row)
	}
	return row
}
