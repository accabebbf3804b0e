package dashboard

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/timvw/tmux-bridge/internal/model"
)

// stubSource records actions and returns canned tasks.
type stubSource struct {
	tasks    []*model.Task
	repl     *model.ReplState
	listErr  error
	launched []string
	closed   []string
}

func (s *stubSource) ListTasks(context.Context, string) ([]*model.Task, error) {
	return s.tasks, s.listErr
}

func (s *stubSource) Launch(_ context.Context, _ string, command string) (*model.Task, error) {
	s.launched = append(s.launched, command)
	return &model.Task{ID: model.TaskID(len(s.launched) - 1), Command: command, State: model.TaskRunning}, nil
}

func (s *stubSource) Done(_ context.Context, _ string, id string) (*model.Task, error) {
	s.closed = append(s.closed, id)
	return &model.Task{ID: id}, nil
}

func (s *stubSource) ReplStatus(context.Context, string) (*model.ReplState, error) {
	return s.repl, nil
}

func sampleTasks() []*model.Task {
	return []*model.Task{
		{ID: "t1", Command: "cargo build", State: model.TaskRunning, Output: "Compiling foo"},
		{ID: "t2", Command: "make test", State: model.TaskComplete, ExitCode: 2, Output: "FAIL\nexit"},
		{ID: "t3", Command: "true", State: model.TaskComplete, ExitCode: 0, Row: 2},
	}
}

// newTestModel returns a model already populated with tasks.
func newTestModel(src *stubSource) *dashModel {
	m := newModel(context.Background(), src, "abc", 0, DarkTheme())
	m.tasks = src.tasks
	m.width = 120
	m.height = 40
	return m
}

// runCmd executes a command and feeds its message back into the model.
func runCmd(t *testing.T, m *dashModel, cmd tea.Cmd) {
	t.Helper()
	if cmd == nil {
		t.Fatal("expected a command")
	}
	m.Update(cmd())
}

func TestListKey_UpDownNavigation(t *testing.T) {
	m := newTestModel(&stubSource{tasks: sampleTasks()})

	m.handleListKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'j'}})
	m.handleListKey(tea.KeyMsg{Type: tea.KeyDown})
	if m.cursor != 2 {
		t.Errorf("cursor after two downs: got %d, want 2", m.cursor)
	}
	m.handleListKey(tea.KeyMsg{Type: tea.KeyDown})
	if m.cursor != 2 {
		t.Errorf("cursor should stop at last task: got %d", m.cursor)
	}
	m.handleListKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'k'}})
	if m.cursor != 1 {
		t.Errorf("cursor after up: got %d, want 1", m.cursor)
	}
}

func TestListKey_CloseSelectedTask(t *testing.T) {
	src := &stubSource{tasks: sampleTasks()}
	m := newTestModel(src)
	m.cursor = 1

	_, cmd := m.handleListKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'x'}})
	runCmd(t, m, cmd)

	if len(src.closed) != 1 || src.closed[0] != "t2" {
		t.Fatalf("closed: got %v, want [t2]", src.closed)
	}
	if m.message != "Closed task t2." {
		t.Errorf("message: got %q", m.message)
	}
	if !m.refreshing {
		t.Error("expected a refresh after closing a task")
	}
}

func TestListKey_CloseWithoutTasksIsNoop(t *testing.T) {
	src := &stubSource{}
	m := newTestModel(src)

	_, cmd := m.handleListKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'x'}})
	if cmd != nil {
		t.Error("expected no command without a selected task")
	}
}

func TestLaunch_TypeAndSubmit(t *testing.T) {
	src := &stubSource{}
	m := newTestModel(src)

	m.handleListKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'n'}})
	if m.mode != modeLaunch {
		t.Fatal("expected launch mode")
	}
	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("go test ./...")})
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if m.mode != modeList {
		t.Error("expected list mode after submit")
	}
	runCmd(t, m, cmd)

	if len(src.launched) != 1 || src.launched[0] != "go test ./..." {
		t.Fatalf("launched: got %v", src.launched)
	}
	if m.message != "Task t1 started." {
		t.Errorf("message: got %q", m.message)
	}
}

func TestLaunch_EscCancels(t *testing.T) {
	src := &stubSource{}
	m := newTestModel(src)

	m.handleListKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'n'}})
	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("sleep 5")})
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})

	if m.mode != modeList {
		t.Error("expected list mode after Esc")
	}
	if cmd != nil {
		t.Error("expected no command after Esc")
	}
	if len(src.launched) != 0 {
		t.Errorf("nothing should be launched, got %v", src.launched)
	}
}

func TestLaunch_RefusedWhenPoolFull(t *testing.T) {
	full := make([]*model.Task, model.MaxTasks)
	for i := range full {
		full[i] = &model.Task{ID: model.TaskID(i), State: model.TaskRunning}
	}
	m := newTestModel(&stubSource{tasks: full})

	m.handleListKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'n'}})
	if m.mode != modeList {
		t.Error("launch mode should not open with a full pool")
	}
	if !strings.Contains(m.message, "max 6") {
		t.Errorf("message: got %q", m.message)
	}
}

func TestRefresh_ClampsCursor(t *testing.T) {
	src := &stubSource{tasks: sampleTasks()}
	m := newTestModel(src)
	m.cursor = 2

	src.tasks = src.tasks[:1]
	runCmd(t, m, m.doRefresh())

	if m.cursor != 0 {
		t.Errorf("cursor: got %d, want 0", m.cursor)
	}
	if m.refreshes != 1 {
		t.Errorf("refreshes: got %d, want 1", m.refreshes)
	}
}

func TestRefresh_ErrorKeepsTasks(t *testing.T) {
	src := &stubSource{tasks: sampleTasks()}
	m := newTestModel(src)

	src.listErr = errors.New("Session 'abc' not found.\nStart a new session with: tb start")
	runCmd(t, m, m.doRefresh())

	if len(m.tasks) != 3 {
		t.Errorf("tasks should be kept on error, got %d", len(m.tasks))
	}
	if m.message != "Refresh error: Session 'abc' not found." {
		t.Errorf("message: got %q", m.message)
	}
}

func TestTick_SkipsWhileRefreshing(t *testing.T) {
	m := newTestModel(&stubSource{})
	m.refreshInterval = 0
	m.refreshing = true

	_, cmd := m.Update(tickMsg{})
	if cmd != nil {
		t.Error("expected no refresh while one is in flight")
	}
}

func TestView_ShowsTasksAndSelectedOutput(t *testing.T) {
	src := &stubSource{tasks: sampleTasks(), repl: &model.ReplState{Command: "python3", Turns: 4}}
	m := newTestModel(src)
	m.repl = src.repl
	m.cursor = 1

	out := m.View()
	for _, want := range []string{"tb abc", "cargo build", "complete (exit 2)", "FAIL", "REPL: python3 (4 turns)", "3/6 tasks"} {
		if !strings.Contains(out, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestView_EmptyPool(t *testing.T) {
	m := newTestModel(&stubSource{})
	if out := m.View(); !strings.Contains(out, "No background tasks.") {
		t.Errorf("view: got %q", out)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is too long", 10, "this is..."},
		{"abc", 2, "ab"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("truncate(%q, %d): got %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}
