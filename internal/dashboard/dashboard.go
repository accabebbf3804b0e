// Package dashboard is the `tb watch` terminal UI: a live list of a
// session's background tasks with the selected task's output, plus keys to
// launch and close tasks.
package dashboard

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/timvw/tmux-bridge/internal/logging"
	"github.com/timvw/tmux-bridge/internal/model"
	"github.com/timvw/tmux-bridge/internal/tasks"
)

var log = logging.ForComponent(logging.CompUI)

// Source is what the dashboard reads and acts on.
type Source interface {
	ListTasks(ctx context.Context, sessionID string) ([]*model.Task, error)
	Launch(ctx context.Context, sessionID, command string) (*model.Task, error)
	Done(ctx context.Context, sessionID, taskID string) (*model.Task, error)
	ReplStatus(ctx context.Context, sessionID string) (*model.ReplState, error)
}

// Dashboard runs the interactive task view for one session.
type Dashboard struct {
	Source          Source
	Session         string
	RefreshInterval time.Duration // 0 disables auto-refresh
	Theme           Theme
}

type viewMode int

const (
	modeList viewMode = iota
	modeLaunch
)

// messages
type refreshMsg struct {
	tasks []*model.Task
	repl  *model.ReplState
	err   error
}

type actionMsg struct {
	text string
	err  error
}

type tickMsg struct{}

type dashModel struct {
	src             Source
	ctx             context.Context
	session         string
	refreshInterval time.Duration
	st              styles

	tasks  []*model.Task
	repl   *model.ReplState
	cursor int
	mode   viewMode
	input  textinput.Model

	width  int
	height int

	refreshing bool
	refreshes  int
	message    string
}

// Run blocks until the user quits.
func (d *Dashboard) Run(ctx context.Context) error {
	m := newModel(ctx, d.Source, d.Session, d.RefreshInterval, d.Theme)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func newModel(ctx context.Context, src Source, session string, interval time.Duration, theme Theme) *dashModel {
	ti := textinput.New()
	ti.Placeholder = "command to launch, e.g. cargo test"
	ti.CharLimit = 1024
	ti.Width = 60
	return &dashModel{
		src:             src,
		ctx:             ctx,
		session:         session,
		refreshInterval: interval,
		st:              newStyles(theme),
		input:           ti,
	}
}

func (m *dashModel) Init() tea.Cmd {
	m.refreshing = true
	return m.doRefresh()
}

// scheduleTick returns nil when auto-refresh is disabled.
func (m *dashModel) scheduleTick() tea.Cmd {
	if m.refreshInterval <= 0 {
		return nil
	}
	return tea.Tick(m.refreshInterval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

func (m *dashModel) doRefresh() tea.Cmd {
	src, ctx, session := m.src, m.ctx, m.session
	return func() tea.Msg {
		list, err := src.ListTasks(ctx, session)
		if err != nil {
			return refreshMsg{err: err}
		}
		st, err := src.ReplStatus(ctx, session)
		return refreshMsg{tasks: list, repl: st, err: err}
	}
}

func (m *dashModel) doDone(id string) tea.Cmd {
	src, ctx, session := m.src, m.ctx, m.session
	return func() tea.Msg {
		if _, err := src.Done(ctx, session, id); err != nil {
			return actionMsg{err: err}
		}
		return actionMsg{text: fmt.Sprintf("Closed task %s.", id)}
	}
}

func (m *dashModel) doLaunch(command string) tea.Cmd {
	src, ctx, session := m.src, m.ctx, m.session
	return func() tea.Msg {
		t, err := src.Launch(ctx, session, command)
		if err != nil {
			return actionMsg{err: err}
		}
		return actionMsg{text: fmt.Sprintf("Task %s started.", t.ID)}
	}
}

func (m *dashModel) selected() *model.Task {
	if m.cursor < 0 || m.cursor >= len(m.tasks) {
		return nil
	}
	return m.tasks[m.cursor]
}

func (m *dashModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.mode == modeLaunch {
			return m.handleLaunchKey(msg)
		}
		return m.handleListKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case refreshMsg:
		m.refreshing = false
		if msg.err != nil {
			m.message = fmt.Sprintf("Refresh error: %v", firstLine(msg.err.Error()))
		} else {
			m.tasks = msg.tasks
			m.repl = msg.repl
			m.refreshes++
			if m.cursor >= len(m.tasks) {
				m.cursor = max(len(m.tasks)-1, 0)
			}
		}
		return m, m.scheduleTick()

	case actionMsg:
		if msg.err != nil {
			m.message = firstLine(msg.err.Error())
			log.Warn("dashboard_action_failed", "error", msg.err.Error())
		} else {
			m.message = msg.text
		}
		m.refreshing = true
		return m, m.doRefresh()

	case tickMsg:
		if m.refreshing || m.mode == modeLaunch {
			return m, m.scheduleTick()
		}
		m.refreshing = true
		return m, m.doRefresh()
	}
	return m, nil
}

func (m *dashModel) handleListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}

	case "down", "j":
		if m.cursor < len(m.tasks)-1 {
			m.cursor++
		}

	case "x", "d":
		t := m.selected()
		if t == nil {
			return m, nil
		}
		m.message = fmt.Sprintf("Closing %s...", t.ID)
		return m, m.doDone(t.ID)

	case "n", "l":
		if len(m.tasks) >= model.MaxTasks {
			m.message = fmt.Sprintf("too many background tasks (max %d).", model.MaxTasks)
			return m, nil
		}
		m.mode = modeLaunch
		m.input.SetValue("")
		return m, m.input.Focus()

	case "r":
		if m.refreshing {
			return m, nil
		}
		m.refreshing = true
		return m, m.doRefresh()
	}
	return m, nil
}

func (m *dashModel) handleLaunchKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.mode = modeList
		m.input.Blur()
		return m, nil
	case tea.KeyEnter:
		command := strings.TrimSpace(m.input.Value())
		m.mode = modeList
		m.input.Blur()
		if command == "" {
			return m, nil
		}
		m.message = "Launching..."
		return m, m.doLaunch(command)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *dashModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}
	var b strings.Builder

	b.WriteString(m.st.title.Render("tb " + m.session))
	b.WriteString("  ")
	b.WriteString(m.st.dim.Render("↑↓=select  n=launch  x=close  r=refresh  q=quit"))
	if m.refreshing {
		b.WriteString("  ")
		b.WriteString(m.st.running.Render("refreshing..."))
	}
	b.WriteString("\n")

	if m.repl != nil {
		b.WriteString(m.st.dim.Render(fmt.Sprintf("  REPL: %s (%d turns)", m.repl.Command, m.repl.Turns)))
		b.WriteString("\n")
	}

	if len(m.tasks) == 0 {
		b.WriteString("  No background tasks.\n")
	}
	for i, t := range m.tasks {
		b.WriteString(m.renderRow(i, t))
		b.WriteString("\n")
	}

	if t := m.selected(); t != nil {
		b.WriteString(m.st.header.Render(strings.Repeat("─", max(m.width, 10))))
		b.WriteString("\n")
		for _, line := range m.outputLines(t) {
			b.WriteString(m.st.text.Render(truncate(line, m.width)))
			b.WriteString("\n")
		}
	}

	if m.mode == modeLaunch {
		b.WriteString("\n  Launch: ")
		b.WriteString(m.input.View())
		b.WriteString("\n")
		b.WriteString(m.st.dim.Render("  Enter=launch  Esc=cancel"))
		b.WriteString("\n")
	}

	summary := fmt.Sprintf("  %d/%d tasks | refresh #%d", len(m.tasks), model.MaxTasks, m.refreshes)
	b.WriteString(m.st.dim.Render(summary))
	b.WriteString("\n")
	if m.message != "" {
		b.WriteString(m.st.dim.Render("  " + m.message))
		b.WriteString("\n")
	}
	return b.String()
}

func (m *dashModel) renderRow(i int, t *model.Task) string {
	cursor := "  "
	if i == m.cursor {
		cursor = "> "
	}
	state := tasks.Describe(t)
	var stateStyled string
	switch {
	case t.State == model.TaskRunning:
		stateStyled = m.st.running.Render(padRight(state, 18))
	case t.State == model.TaskComplete && t.ExitCode == 0:
		stateStyled = m.st.ok.Render(padRight(state, 18))
	default:
		stateStyled = m.st.failed.Render(padRight(state, 18))
	}
	pos := fmt.Sprintf("r%dc%d", t.Row, t.Column)
	cmdWidth := max(m.width-2-4-18-6-2, 10)
	line := fmt.Sprintf("%s%-4s%s %-5s %s", cursor, t.ID, stateStyled, pos, truncate(t.Command, cmdWidth))
	if i == m.cursor {
		return m.st.selected.Render(line)
	}
	return line
}

// outputLines returns the tail of the task's output that fits on screen.
func (m *dashModel) outputLines(t *model.Task) []string {
	if t.Output == "" {
		return []string{m.st.dim.Render("(no output yet)")}
	}
	lines := strings.Split(t.Output, "\n")
	used := len(m.tasks) + 6
	if m.repl != nil {
		used++
	}
	avail := max(m.height-used, 3)
	if len(lines) > avail {
		lines = lines[len(lines)-avail:]
	}
	return lines
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// truncate cuts a string to at most maxLen runes.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// padRight pads a string with spaces to reach the desired width.
func padRight(s string, width int) string {
	if n := len([]rune(s)); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}
