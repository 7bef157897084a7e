package console

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func newTestModel(t *testing.T, text string) (*Model, *Session) {
	t.Helper()
	s := NewSession(SessionConfig{Server: "alpha", RCONPort: 25575, RCON: &fakeCommander{}})
	if text != "" {
		s.append(text)
	}
	m := NewModel(s)
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 12})
	return m, s
}

func typeLine(m *Model, line string) tea.Cmd {
	m.input.SetValue(line)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return cmd
}

func TestModelSubmitQueuesCommand(t *testing.T) {
	m, s := newTestModel(t, "")

	typeLine(m, "say hello")
	select {
	case cmd := <-s.commands:
		if cmd != "say hello" {
			t.Fatalf("expected queued command, got %q", cmd)
		}
	default:
		t.Fatal("expected command to be queued")
	}
	if m.input.Value() != "" {
		t.Fatalf("expected input to be cleared, got %q", m.input.Value())
	}
}

func TestModelFilterCommand(t *testing.T) {
	m, _ := newTestModel(t, "[INFO] Done\n[ERROR] Could not bind\n[INFO] Steve joined the game\n")

	if got := len(m.visibleLines()); got != 3 {
		t.Fatalf("expected 3 visible lines, got %d", got)
	}

	typeLine(m, ":filter errors")
	lines := m.visibleLines()
	if len(lines) != 1 || !strings.Contains(lines[0], "Could not bind") {
		t.Fatalf("unexpected filtered lines %v", lines)
	}
	if !strings.Contains(m.View(), "filter: errors") {
		t.Fatalf("expected filter in status line:\n%s", m.View())
	}

	typeLine(m, ":filter none")
	if got := len(m.visibleLines()); got != 3 {
		t.Fatalf("expected filter to be cleared, got %d lines", got)
	}

	typeLine(m, ":filter regex (")
	if m.notice == "" {
		t.Fatal("expected notice for invalid filter")
	}
}

func TestModelQuit(t *testing.T) {
	for _, key := range []tea.KeyMsg{{Type: tea.KeyCtrlC}, {Type: tea.KeyEsc}} {
		m, _ := newTestModel(t, "")
		_, cmd := m.Update(key)
		if cmd == nil {
			t.Fatalf("expected quit command for %s", key)
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Fatalf("expected QuitMsg for %s", key)
		}
	}

	m, _ := newTestModel(t, "")
	cmd := typeLine(m, ":quit")
	if cmd == nil {
		t.Fatal("expected quit command for :quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected QuitMsg for :quit")
	}
}

func TestModelHistoryRecall(t *testing.T) {
	m, _ := newTestModel(t, "")
	typeLine(m, "list")
	typeLine(m, "time query daytime")

	m.Update(tea.KeyMsg{Type: tea.KeyUp})
	if m.input.Value() != "time query daytime" {
		t.Fatalf("expected last command, got %q", m.input.Value())
	}
	m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m.Update(tea.KeyMsg{Type: tea.KeyUp})
	if m.input.Value() != "list" {
		t.Fatalf("expected first command, got %q", m.input.Value())
	}
	m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m.Update(tea.KeyMsg{Type: tea.KeyDown})
	if m.input.Value() != "" {
		t.Fatalf("expected empty input past newest entry, got %q", m.input.Value())
	}
}

func TestModelRejectsInvalidCommand(t *testing.T) {
	m, s := newTestModel(t, "")
	typeLine(m, "/")
	if len(s.commands) != 0 {
		t.Fatal("expected nothing queued")
	}
}

func TestModelOutputRefresh(t *testing.T) {
	m, s := newTestModel(t, "")
	s.append("\x1b[33m[WARN]\x1b[0m Can't keep up!\n")
	m.Update(outputMsg{})

	view := m.View()
	if !strings.Contains(view, "[WARN] Can't keep up!") {
		t.Fatalf("expected sanitized output in view:\n%s", view)
	}
	if !strings.Contains(view, "RCON — alpha :25575") {
		t.Fatalf("expected status line in view:\n%s", view)
	}
}

func TestProgramErrorKeepsUnexpectedKill(t *testing.T) {
	killed := fmt.Errorf("%w: context canceled", tea.ErrProgramKilled)
	other := errors.New("tty gone")
	tests := []struct {
		name        string
		err         error
		interrupted bool
		want        error
	}{
		{"caller cancelled", killed, true, nil},
		{"killed on its own", killed, false, tea.ErrProgramKilled},
		{"other error", other, true, other},
		{"clean exit", nil, false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := programError(tt.err, tt.interrupted)
			if tt.want == nil {
				if got != nil {
					t.Fatalf("expected nil, got %v", got)
				}
				return
			}
			if !errors.Is(got, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
