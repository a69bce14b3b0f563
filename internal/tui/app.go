// Package tui is an interactive terminal frontend for a tweakforge daemon:
// a project list on top, the live session log underneath.
package tui

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tweakforge/tweakforge/internal/client"
	"github.com/tweakforge/tweakforge/internal/pipeline"
	"github.com/tweakforge/tweakforge/internal/session"
)

const (
	defaultRefreshInterval = 1500 * time.Millisecond
	defaultTriggerTimeout  = 10 * time.Second
	maxLogLines            = 400
)

var (
	outputStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	headerStyle  = lipgloss.NewStyle().Bold(true)
)

type Options struct {
	Client          *client.HTTPClient
	RefreshInterval time.Duration
	TriggerTimeout  time.Duration
	DeviceName      string
}

func Run(ctx context.Context, opts Options) error {
	model, err := newModel(opts)
	if err != nil {
		return err
	}
	p := tea.NewProgram(model, tea.WithContext(ctx), tea.WithAltScreen())
	_, err = p.Run()
	if err == nil {
		return nil
	}
	if errors.Is(err, tea.ErrInterrupted) {
		return nil
	}
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, tea.ErrProgramKilled)) {
		return nil
	}
	return err
}

type refreshTickMsg struct{}

type projectsLoadedMsg struct {
	items []projectRow
	err   error
}

type sessionStartedMsg struct {
	record *session.Record
	err    error
}

type sessionUpdateMsg struct {
	record  *session.Record
	entries []pipeline.LogEntry
	err     error
}

type projectRow struct {
	ID        string
	Name      string
	BundleID  string
	CreatedAt time.Time
}

type model struct {
	client          *client.HTTPClient
	refreshInterval time.Duration
	triggerTimeout  time.Duration
	deviceName      string

	items       []projectRow
	selectedIdx int
	selectedID  string

	watchingID string
	watching   *session.Record
	logLines   []string

	width  int
	height int

	loading bool
	busy    bool
	status  string
	lastErr string
}

func newModel(opts Options) (model, error) {
	if opts.Client == nil {
		return model{}, fmt.Errorf("tui client is required")
	}
	refresh := opts.RefreshInterval
	if refresh <= 0 {
		refresh = defaultRefreshInterval
	}
	trigger := opts.TriggerTimeout
	if trigger <= 0 {
		trigger = defaultTriggerTimeout
	}
	return model{
		client:          opts.Client,
		refreshInterval: refresh,
		triggerTimeout:  trigger,
		deviceName:      strings.TrimSpace(opts.DeviceName),
		loading:         true,
		status:          "loading projects...",
	}, nil
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.fetchProjectsCmd(), m.tickCmd())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		return m, nil
	case refreshTickMsg:
		cmds := []tea.Cmd{m.fetchProjectsCmd(), m.tickCmd()}
		if m.watchingID != "" {
			cmds = append(cmds, m.pollSessionCmd(m.watchingID))
		}
		m.loading = true
		return m, tea.Batch(cmds...)
	case projectsLoadedMsg:
		m.loading = false
		if typed.err != nil {
			m.lastErr = typed.err.Error()
			m.status = "refresh failed"
			return m, nil
		}
		m.lastErr = ""
		m.applyProjects(typed.items)
		if !m.busy {
			m.status = fmt.Sprintf("%d projects", len(m.items))
		}
		return m, nil
	case sessionStartedMsg:
		m.busy = false
		if typed.err != nil {
			m.lastErr = typed.err.Error()
			m.status = "trigger failed"
			return m, nil
		}
		m.lastErr = ""
		m.watchingID = typed.record.ID
		m.watching = typed.record
		m.logLines = nil
		m.status = strings.ToLower(string(typed.record.Kind)) + " started"
		return m, m.pollSessionCmd(typed.record.ID)
	case sessionUpdateMsg:
		if typed.err != nil {
			m.lastErr = typed.err.Error()
			return m, nil
		}
		m.lastErr = ""
		m.watching = typed.record
		m.applyLog(typed.entries)
		if typed.record.Terminal() {
			m.watchingID = ""
			m.status = fmt.Sprintf("%s %s: %s",
				strings.ToLower(string(typed.record.Kind)),
				strings.ToLower(string(typed.record.State)),
				typed.record.Message)
		}
		return m, nil
	case tea.KeyMsg:
		switch typed.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "k", "up":
			m.moveSelection(-1)
			return m, nil
		case "j", "down":
			m.moveSelection(1)
			return m, nil
		case "r":
			m.loading = true
			return m, m.fetchProjectsCmd()
		case "b", "enter":
			return m.trigger(session.KindBuild)
		case "i":
			return m.trigger(session.KindInstall)
		case "x":
			if m.watchingID == "" {
				return m, nil
			}
			return m, m.cancelCmd(m.watchingID)
		}
	}
	return m, nil
}

func (m model) trigger(kind session.Kind) (tea.Model, tea.Cmd) {
	if m.busy || m.watchingID != "" {
		return m, nil
	}
	selected, ok := m.selected()
	if !ok {
		return m, nil
	}
	m.busy = true
	m.lastErr = ""
	m.status = fmt.Sprintf("starting %s of %s ...", strings.ToLower(string(kind)), selected.Name)
	return m, m.startSessionCmd(kind, selected.ID)
}

func (m model) View() string {
	var b strings.Builder
	title := "TweakForge - Projects"
	if m.deviceName != "" {
		title += " @ " + m.deviceName
	}
	b.WriteString(trimToWidth(headerStyle.Render(title), m.width))
	b.WriteByte('\n')
	b.WriteString(trimToWidth("Keys: j/k move  b build  i install  x cancel  r refresh  q quit", m.width))
	b.WriteByte('\n')
	b.WriteString(trimToWidth(m.statusLine(), m.width))
	b.WriteString("\n\n")

	if len(m.items) == 0 {
		if m.loading {
			b.WriteString("Loading...\n")
		} else {
			b.WriteString("No projects yet.\n")
		}
	}
	rows := m.visibleRows()
	for i := rows.start; i < rows.end; i++ {
		row := m.items[i]
		prefix := "  "
		if i == m.selectedIdx {
			prefix = "> "
		}
		created := row.CreatedAt.Local().Format("2006-01-02 15:04")
		line := fmt.Sprintf("%s%-20s  %-32s  %s", prefix, row.Name, row.BundleID, created)
		b.WriteString(trimToWidth(line, m.width))
		b.WriteByte('\n')
	}

	m.writeLogSection(&b)
	return b.String()
}

func (m *model) applyProjects(items []projectRow) {
	sorted := append([]projectRow(nil), items...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].Name < sorted[j].Name
		}
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})
	m.items = sorted
	if len(m.items) == 0 {
		m.selectedIdx = 0
		m.selectedID = ""
		return
	}
	if m.selectedID != "" {
		for i := range m.items {
			if m.items[i].ID == m.selectedID {
				m.selectedIdx = i
				return
			}
		}
	}
	m.selectedIdx = 0
	m.selectedID = m.items[0].ID
}

func (m *model) applyLog(entries []pipeline.LogEntry) {
	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		lines = append(lines, renderEntry(entry))
	}
	if len(lines) > maxLogLines {
		lines = lines[len(lines)-maxLogLines:]
	}
	m.logLines = lines
}

func renderEntry(entry pipeline.LogEntry) string {
	line := entry.At.Local().Format("15:04:05") + "  " + entry.Message
	switch entry.Level {
	case pipeline.LevelOutput:
		return outputStyle.Render(line)
	case pipeline.LevelWarning:
		return warningStyle.Render(line)
	case pipeline.LevelError:
		return errorStyle.Render(line)
	case pipeline.LevelSuccess:
		return successStyle.Render(line)
	default:
		return line
	}
}

func (m *model) moveSelection(delta int) {
	if len(m.items) == 0 || delta == 0 {
		return
	}
	next := m.selectedIdx + delta
	if next < 0 {
		next = 0
	}
	if next >= len(m.items) {
		next = len(m.items) - 1
	}
	m.selectedIdx = next
	m.selectedID = m.items[next].ID
}

func (m model) selected() (projectRow, bool) {
	if len(m.items) == 0 || m.selectedIdx < 0 || m.selectedIdx >= len(m.items) {
		return projectRow{}, false
	}
	return m.items[m.selectedIdx], true
}

type rowWindow struct {
	start int
	end   int
}

func (m model) visibleRows() rowWindow {
	maxRows := m.height - 6 - m.logRowsLimit()
	if maxRows <= 0 {
		maxRows = 1
	}
	if maxRows > len(m.items) {
		maxRows = len(m.items)
	}
	start := 0
	if m.selectedIdx >= maxRows {
		start = m.selectedIdx - maxRows + 1
	}
	end := start + maxRows
	if end > len(m.items) {
		end = len(m.items)
	}
	return rowWindow{start: start, end: end}
}

func (m model) logRowsLimit() int {
	if m.height <= 0 {
		return 20
	}
	minListRows := 5
	available := m.height - 6 - minListRows
	if available < 0 {
		available = 0
	}
	if available > 20 {
		available = 20
	}
	return available
}

func (m model) statusLine() string {
	parts := make([]string, 0, 2)
	if strings.TrimSpace(m.status) != "" {
		parts = append(parts, m.status)
	}
	if strings.TrimSpace(m.lastErr) != "" {
		parts = append(parts, "error: "+m.lastErr)
	}
	return strings.Join(parts, " | ")
}

func (m model) writeLogSection(b *strings.Builder) {
	b.WriteString(trimToWidth(strings.Repeat("-", 120), m.width))
	b.WriteByte('\n')
	header := "Session log"
	if m.watching != nil {
		header = fmt.Sprintf("Session log (%s %s)", strings.ToLower(string(m.watching.Kind)), m.watching.State)
	}
	b.WriteString(trimToWidth(header, m.width))
	b.WriteByte('\n')

	rows := m.logRowsLimit()
	if rows <= 0 {
		return
	}
	if len(m.logLines) == 0 {
		b.WriteString(trimToWidth("(no output yet)", m.width))
		b.WriteByte('\n')
		return
	}
	start := len(m.logLines) - rows
	if start < 0 {
		start = 0
	}
	for i := start; i < len(m.logLines); i++ {
		b.WriteString(trimToWidth(m.logLines[i], m.width))
		b.WriteByte('\n')
	}
}

func (m model) tickCmd() tea.Cmd {
	return tea.Tick(m.refreshInterval, func(time.Time) tea.Msg {
		return refreshTickMsg{}
	})
}

func (m model) fetchProjectsCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.refreshInterval)
		defer cancel()
		projects, err := m.client.ListProjects(ctx)
		if err != nil {
			return projectsLoadedMsg{err: err}
		}
		rows := make([]projectRow, 0, len(projects))
		for _, p := range projects {
			rows = append(rows, projectRow{
				ID:        p.ID,
				Name:      p.Name,
				BundleID:  p.BundleID,
				CreatedAt: p.CreatedAt,
			})
		}
		return projectsLoadedMsg{items: rows}
	}
}

func (m model) startSessionCmd(kind session.Kind, projectID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.triggerTimeout)
		defer cancel()
		var rec *session.Record
		var err error
		if kind == session.KindInstall {
			rec, err = m.client.TriggerInstall(ctx, projectID, "")
		} else {
			rec, err = m.client.TriggerBuild(ctx, projectID)
		}
		return sessionStartedMsg{record: rec, err: err}
	}
}

func (m model) pollSessionCmd(id string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.refreshInterval)
		defer cancel()
		rec, err := m.client.GetSession(ctx, id)
		if err != nil {
			return sessionUpdateMsg{err: err}
		}
		entries, err := m.client.GetSessionLog(ctx, id)
		if err != nil {
			return sessionUpdateMsg{err: err}
		}
		return sessionUpdateMsg{record: rec, entries: entries}
	}
}

func (m model) cancelCmd(id string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), m.triggerTimeout)
		defer cancel()
		if err := m.client.CancelSession(ctx, id); err != nil {
			return sessionUpdateMsg{err: err}
		}
		rec, err := m.client.GetSession(ctx, id)
		return sessionUpdateMsg{record: rec, err: err}
	}
}

func trimToWidth(in string, width int) string {
	if width <= 0 {
		return in
	}
	if len(in) <= width {
		return in
	}
	if width <= 3 {
		return in[:width]
	}
	return in[:width-3] + "..."
}
