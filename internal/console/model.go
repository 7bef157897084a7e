package console

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	statusStyle = lipgloss.NewStyle().Reverse(true)
	logStyle    = lipgloss.NewStyle().
			Background(lipgloss.Color("#0e162b")).
			Foreground(lipgloss.Color("#d1d5db"))
	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
)

const maxHistory = 100

type outputMsg struct{}

type sessionClosedMsg struct{}

// Model is the full-screen console: a status line, the log pane and a
// single-line command input.
type Model struct {
	session  *Session
	viewport viewport.Model
	input    textinput.Model
	filter   *OutputFilter
	history  []string
	histPos  int
	notice   string
	width    int
	height   int
	closed   bool
}

// NewModel creates the console model for s.
func NewModel(s *Session) *Model {
	input := textinput.New()
	input.Prompt = "> "
	input.Placeholder = "RCON command (:filter <errors|search text|regex expr|none>, :quit)"
	input.CharLimit = maxCommandLength
	input.Focus()

	return &Model{
		session:  s,
		viewport: viewport.New(80, 20),
		input:    input,
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.listenOutput())
}

func (m *Model) listenOutput() tea.Cmd {
	updates := m.session.Updates()
	return func() tea.Msg {
		if _, ok := <-updates; !ok {
			return sessionClosedMsg{}
		}
		return outputMsg{}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			if m.submit() {
				return m, tea.Quit
			}
			return m, nil
		case "up":
			m.recall(-1)
			return m, nil
		case "down":
			m.recall(1)
			return m, nil
		case "pgup":
			m.viewport.SetYOffset(m.viewport.YOffset - m.viewport.Height)
			return m, nil
		case "pgdown":
			m.viewport.SetYOffset(m.viewport.YOffset + m.viewport.Height)
			return m, nil
		case "end":
			m.viewport.GotoBottom()
			return m, nil
		}
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		m.refresh()
	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	case outputMsg:
		m.refresh()
		cmds = append(cmds, m.listenOutput())
	case sessionClosedMsg:
		m.closed = true
		m.notice = "session closed"
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *Model) View() string {
	header := fmt.Sprintf("RCON — %s :%d    (Ctrl-C / Esc to exit)", m.session.Server(), m.session.Port())
	if m.filter.Active() {
		header += "    filter: " + m.filter.String()
	}
	status := statusStyle.Width(max(m.width, lipgloss.Width(header))).Render(header)

	var b strings.Builder
	b.WriteString(status)
	b.WriteString("\n")
	b.WriteString(logStyle.Render(m.viewport.View()))
	b.WriteString("\n")
	if m.notice != "" {
		b.WriteString(noticeStyle.Render(m.notice))
		b.WriteString(" ")
	}
	b.WriteString(m.input.View())
	return b.String()
}

func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = width
	m.viewport.Height = max(1, height-2)
	m.input.Width = max(10, width-4)
}

// refresh re-renders the log pane, staying pinned to the bottom unless the
// user scrolled up.
func (m *Model) refresh() {
	pinned := m.viewport.AtBottom()
	m.viewport.SetContent(strings.Join(m.visibleLines(), "\n"))
	if pinned {
		m.viewport.GotoBottom()
	}
}

func (m *Model) visibleLines() []string {
	text := strings.TrimRight(m.session.Text(), "\n")
	if text == "" {
		return nil
	}
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for i, line := range lines {
		lines[i] = SanitizeLine(line)
	}
	return m.filter.FilterLines(lines)
}

// submit handles the input line and reports whether the console should exit.
func (m *Model) submit() bool {
	line := strings.TrimSpace(m.input.Value())
	m.input.Reset()
	if line == "" {
		return false
	}
	m.remember(line)
	m.notice = ""

	if strings.HasPrefix(line, ":") {
		return m.local(line[1:])
	}
	if err := m.session.Submit(line); err != nil {
		m.notice = err.Error()
	}
	return false
}

func (m *Model) local(line string) bool {
	name, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	switch name {
	case "q", "quit", "exit":
		return true
	case "filter":
		f, err := ParseFilter(arg)
		if err != nil {
			m.notice = err.Error()
			return false
		}
		m.filter = f
		m.refresh()
		m.viewport.GotoBottom()
	default:
		m.notice = fmt.Sprintf("unknown console command :%s", name)
	}
	return false
}

func (m *Model) remember(line string) {
	if n := len(m.history); n == 0 || m.history[n-1] != line {
		m.history = append(m.history, line)
		if len(m.history) > maxHistory {
			m.history = m.history[len(m.history)-maxHistory:]
		}
	}
	m.histPos = len(m.history)
}

func (m *Model) recall(delta int) {
	if len(m.history) == 0 {
		return
	}
	m.histPos = min(max(m.histPos+delta, 0), len(m.history))
	if m.histPos == len(m.history) {
		m.input.SetValue("")
		return
	}
	m.input.SetValue(m.history[m.histPos])
	m.input.CursorEnd()
}

// Run shows the console until the user exits or ctx is cancelled. Background
// tasks are cancelled and awaited before Run returns.
func Run(ctx context.Context, s *Session, opts ...tea.ProgramOption) error {
	parent := ctx
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx)
	}()

	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	_, err := tea.NewProgram(NewModel(s), opts...).Run()
	interrupted := parent.Err() != nil
	cancel()
	sessionErr := <-done

	return errors.Join(programError(err, interrupted), sessionErr)
}

// programError drops the kill error bubbletea reports when the caller's
// context ended the program.
func programError(err error, interrupted bool) error {
	if interrupted && errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}
