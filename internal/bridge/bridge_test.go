package bridge

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/timvw/tmux-bridge/internal/marker"
	"github.com/timvw/tmux-bridge/internal/model"
	"github.com/timvw/tmux-bridge/internal/mux/muxtest"
	"github.com/timvw/tmux-bridge/internal/poller"
	"github.com/timvw/tmux-bridge/internal/repl"
	"github.com/timvw/tmux-bridge/internal/session"
	"github.com/timvw/tmux-bridge/internal/state"
)

var wrappedRe = regexp.MustCompile(`(?s)^__tb_id=([0-9a-f]+); echo .*?; \{ (.*)\n\}; __tb_rc`)

type shellResult struct {
	out  string
	code int
}

// fakeShell answers wrapped commands typed into any pane of a fake
// multiplexer. Commands in done print and exit; commands in hang print
// and keep running until interrupted.
type fakeShell struct {
	mu      sync.Mutex
	pending map[string]string
	running map[string]string
	done    map[string]shellResult
	hang    map[string]string
	// deaf processes ignore Ctrl-C.
	deaf bool
}

func newFakeShell(f *muxtest.Fake) *fakeShell {
	s := &fakeShell{
		pending: map[string]string{},
		running: map[string]string{},
		done:    map[string]shellResult{},
		hang:    map[string]string{},
	}
	f.OnText = func(_ *muxtest.Fake, target, text string) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.pending[target] += text
	}
	f.OnKeys = func(f *muxtest.Fake, target string, keys []string) {
		for _, k := range keys {
			switch k {
			case "Enter":
				s.enter(f, target)
			case poller.InterruptKey:
				s.interrupt(f, target)
			}
		}
	}
	return s
}

func (s *fakeShell) enter(f *muxtest.Fake, target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text := s.pending[target]
	delete(s.pending, target)
	f.AppendContent(target, "$ "+text+"\n")

	m := wrappedRe.FindStringSubmatch(text)
	if m == nil {
		return
	}
	id, cmd := m[1], m[2]
	f.AppendContent(target, marker.StartToken(id)+"\n")
	if r, ok := s.done[cmd]; ok {
		f.AppendContent(target, r.out+marker.EndToken(id, r.code)+"\n$ ")
		return
	}
	f.AppendContent(target, s.hang[cmd])
	s.running[target] = id
}

func (s *fakeShell) interrupt(f *muxtest.Fake, target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.running[target]
	if !ok || s.deaf {
		return
	}
	delete(s.running, target)
	f.AppendContent(target, "^C\n"+marker.EndToken(id, 130)+"\n$ ")
}

type fixture struct {
	b     *Bridge
	f     *muxtest.Fake
	shell *fakeShell
	clock *poller.FakeClock
	sess  model.Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithBudget(t, nil)
}

func newFixtureWithBudget(t *testing.T, budget *marker.Budget) *fixture {
	t.Helper()
	t.Setenv(session.EnvTestMode, "")
	f := muxtest.New()
	sess := model.Session{ID: "abc", Name: session.TmuxName("abc")}
	f.AddSession(sess.Name)

	clock := poller.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	b := New(f, state.NewStore(t.TempDir()), nil, Options{
		Poll: poller.Config{
			PollInterval:   100 * time.Millisecond,
			IdleTimeout:    time.Second,
			OverallTimeout: 5 * time.Second,
			Grace:          300 * time.Millisecond,
		},
		Budget:   budget,
		LockWait: 100 * time.Millisecond,
		Clock:    clock,
	})
	b.Sessions.Getenv = func(string) string { return "" }
	n := 0
	b.NewID = func() string {
		n++
		return fmt.Sprintf("%032x", n)
	}
	b.Tasks.NewID = b.NewID
	return &fixture{b: b, f: f, shell: newFakeShell(f), clock: clock, sess: sess}
}

func TestRun_ReturnsOutputAndStatus(t *testing.T) {
	fx := newFixture(t)
	fx.shell.done["echo hello"] = shellResult{out: "hello\n"}
	fx.shell.done["false"] = shellResult{code: 1}

	res, err := fx.b.Run(context.Background(), "abc", "echo hello")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Body != "hello" || res.ExitCode != 0 {
		t.Errorf("got body %q exit %d, want %q exit 0", res.Body, res.ExitCode, "hello")
	}

	res, err = fx.b.Run(context.Background(), "abc", "false")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Found || res.ExitCode != 1 || res.Body != "" {
		t.Errorf("got found=%v body %q exit %d, want empty body exit 1", res.Found, res.Body, res.ExitCode)
	}
}

func TestRun_TypesIntoMainPaneNotFocusedTask(t *testing.T) {
	fx := newFixture(t)
	fx.shell.done["make"] = shellResult{}
	fx.shell.done["true"] = shellResult{}
	if err := fx.b.Tasks.TagMain(context.Background(), fx.sess); err != nil {
		t.Fatalf("TagMain: %v", err)
	}
	if _, err := fx.b.Launch(context.Background(), "abc", "make"); err != nil {
		t.Fatalf("Launch: %v", err)
	}

	if _, err := fx.b.Run(context.Background(), "abc", "true"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	texts := fx.f.CallsTo("SendText")
	if last := texts[len(texts)-1]; last.Target != "%0" {
		t.Errorf("run typed into %s, want main pane %%0", last.Target)
	}
}

func TestRun_InterruptedCommandReportsItsStatus(t *testing.T) {
	fx := newFixture(t)
	fx.shell.hang["sleep 30"] = ""

	res, err := fx.b.Run(context.Background(), "abc", "sleep 30")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 130 {
		t.Errorf("exit code: got %d, want 130", res.ExitCode)
	}
	if n := len(fx.f.CallsTo("SendKeys")); n != 2 {
		t.Errorf("SendKeys calls: got %d, want 2 (Enter, C-c)", n)
	}
}

func TestRun_TimeoutKeepsPartialOutput(t *testing.T) {
	fx := newFixture(t)
	fx.shell.deaf = true
	fx.shell.hang["./migrate"] = "step 1\nstep 2\n"

	_, err := fx.b.Run(context.Background(), "abc", "./migrate")
	if !errors.Is(err, model.ErrIdleTimeout) {
		t.Fatalf("expected idle timeout, got %v", err)
	}
	if code := model.ExitCodeOf(err); code != model.TimeoutExitCode {
		t.Errorf("exit code: got %d, want %d", code, model.TimeoutExitCode)
	}
	var merr *model.Error
	if !errors.As(err, &merr) || merr.Partial != "step 1\nstep 2" {
		t.Errorf("partial: got %+v", merr)
	}
	var keys []string
	for _, c := range fx.f.CallsTo("SendKeys") {
		keys = append(keys, c.Args...)
	}
	want := []string{"Enter", poller.InterruptKey, poller.QuitKey}
	if strings.Join(keys, ",") != strings.Join(want, ",") {
		t.Errorf("keys: got %q, want %q", keys, want)
	}
}

func TestRun_MissingSessionSendsNothing(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.b.Run(context.Background(), "zzz", "echo hi")
	if !errors.Is(err, model.ErrNoTarget) {
		t.Fatalf("expected no target, got %v", err)
	}
	if !strings.Contains(err.Error(), "tb start") {
		t.Errorf("message should say how to start a session: %q", err.Error())
	}
	if n := len(fx.f.CallsTo("SendText")); n != 0 {
		t.Errorf("SendText calls: got %d, want 0", n)
	}
}

func TestRun_NoSessionIsUsageError(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.b.Run(context.Background(), "", "echo hi")
	if !errors.Is(err, model.ErrUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestRun_EmptyCommand(t *testing.T) {
	fx := newFixture(t)
	if _, err := fx.b.Run(context.Background(), "abc", "  "); !errors.Is(err, model.ErrUsage) {
		t.Errorf("expected usage error, got %v", err)
	}
}

func TestRun_RejectedWhileReplRuns(t *testing.T) {
	fx := newFixture(t)
	st := &model.ReplState{Session: "abc", Target: "%0", Command: "python3", Prompt: ">>> $", Started: true}
	if err := fx.b.Store.Save(repl.StateKey(fx.sess.Name), st); err != nil {
		t.Fatal(err)
	}
	_, err := fx.b.Run(context.Background(), "abc", "ls")
	if !errors.Is(err, model.ErrSequence) {
		t.Fatalf("expected sequence error, got %v", err)
	}
}

func TestRun_BusyPaneIsRejected(t *testing.T) {
	fx := newFixture(t)
	held, err := session.Acquire(context.Background(), session.LockPath(fx.b.Store.Dir(), fx.sess.Name, "%0"), 0)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer held.Release()

	_, err = fx.b.Run(context.Background(), "abc", "ls")
	if !errors.Is(err, model.ErrSequence) {
		t.Fatalf("expected sequence error, got %v", err)
	}
	if n := len(fx.f.CallsTo("SendText")); n != 0 {
		t.Errorf("SendText calls: got %d, want 0", n)
	}
}

func TestTasks_LaunchCheckDone(t *testing.T) {
	fx := newFixture(t)
	fx.shell.hang["cargo build"] = "   Compiling tb\n"
	ctx := context.Background()

	task, err := fx.b.Launch(ctx, "abc", "cargo build")
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if task.ID != "t1" {
		t.Fatalf("task id: got %q, want t1", task.ID)
	}

	got, err := fx.b.Check(ctx, "abc", "t1")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if got.State != model.TaskRunning || got.Output != "   Compiling tb" {
		t.Errorf("running check: got %q %q", got.State, got.Output)
	}

	fx.f.AppendContent(task.PaneID, "    Finished\n"+marker.EndToken(task.MarkerID, 0)+"\n$ ")
	got, err = fx.b.Check(ctx, "abc", "t1")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if got.State != model.TaskComplete || got.ExitCode != 0 {
		t.Errorf("complete check: got %q exit %d", got.State, got.ExitCode)
	}

	list, err := fx.b.ListTasks(ctx, "abc")
	if err != nil || len(list) != 1 {
		t.Fatalf("ListTasks: got %d tasks, err %v", len(list), err)
	}

	if _, err := fx.b.Done(ctx, "abc", "t1"); err != nil {
		t.Fatalf("Done: %v", err)
	}
	again, err := fx.b.Launch(ctx, "abc", "cargo build")
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	if again.ID != "t1" {
		t.Errorf("relaunch id: got %q, want t1", again.ID)
	}
}

func TestCapture(t *testing.T) {
	fx := newFixture(t)
	fx.f.SetContent("%0", "\x1b[32m$ ls\x1b[0m\nfile\n\n")

	text, err := fx.b.Capture(context.Background(), "abc", "")
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if text != "$ ls\nfile" {
		t.Errorf("capture: got %q", text)
	}

	if _, err := fx.b.Capture(context.Background(), "abc", "t4"); !errors.Is(err, model.ErrTaskNotFound) {
		t.Errorf("capture of missing task: got %v", err)
	}
}

func TestRepl_EvalWithoutStart(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.b.ReplEval(context.Background(), "abc", "", "1+1")
	if !errors.Is(err, model.ErrSequence) {
		t.Fatalf("expected sequence error, got %v", err)
	}
	if _, err := fx.b.ReplClose(context.Background(), "abc"); !errors.Is(err, model.ErrSequence) {
		t.Errorf("close without start: got %v", err)
	}
}

func TestRepl_EvalWhileTurnOutstanding(t *testing.T) {
	fx := newFixture(t)
	st := &model.ReplState{Session: "abc", Target: "%0", Command: "python3", Prompt: ">>> $", Started: true}
	if err := fx.b.Store.Save(repl.StateKey(fx.sess.Name), st); err != nil {
		t.Fatal(err)
	}
	held, err := session.Acquire(context.Background(), session.LockPath(fx.b.Store.Dir(), fx.sess.Name, "%0"), 0)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer held.Release()

	_, err = fx.b.ReplEval(context.Background(), "abc", "", "2+2")
	if !errors.Is(err, model.ErrSequence) {
		t.Fatalf("expected sequence error, got %v", err)
	}
	if !strings.Contains(err.Error(), "previous REPL turn") {
		t.Errorf("message: got %q", err.Error())
	}
}

func TestStartAndClose(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	sess, err := fx.b.Start(ctx, "xyz")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sess.Name != session.TmuxName("xyz") {
		t.Errorf("session name: got %q", sess.Name)
	}
	main := fx.f.SessionPanes(sess.Name)[0]
	if main.Options["@tb_main"] != "1" {
		t.Errorf("main pane not tagged: %v", main.Options)
	}

	if err := fx.b.Store.Save(repl.StateKey(sess.Name), &model.ReplState{Command: "python3"}); err != nil {
		t.Fatal(err)
	}
	if _, err := fx.b.Close(ctx, "xyz"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if st, err := fx.b.ReplStatus(ctx, "abc"); err != nil || st != nil {
		t.Errorf("other session REPL: got %v, %v", st, err)
	}
	var st model.ReplState
	if ok, _ := fx.b.Store.Load(repl.StateKey(sess.Name), &st); ok {
		t.Error("REPL state survived session close")
	}
	if _, err := fx.b.Run(ctx, "xyz", "ls"); !errors.Is(err, model.ErrNoTarget) {
		t.Errorf("run in closed session: got %v", err)
	}
}

func TestRun_ZeroBudgetKeepsOnlyTruncationLine(t *testing.T) {
	fx := newFixtureWithBudget(t, &marker.Budget{})
	var out strings.Builder
	for i := 1; i <= 200; i++ {
		fmt.Fprintf(&out, "%d\n", i)
	}
	fx.shell.done["seq 1 200"] = shellResult{out: out.String()}

	res, err := fx.b.Run(context.Background(), "abc", "seq 1 200")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := marker.TruncationLine(200); res.Body != want {
		t.Errorf("body: got %q, want %q", res.Body, want)
	}
	if !res.Truncated || res.Lines != 200 {
		t.Errorf("got truncated=%v lines=%d, want truncated 200 lines", res.Truncated, res.Lines)
	}
	if fx.b.Tasks.Budget != (marker.Budget{}) || fx.b.Repl.Budget != (marker.Budget{}) {
		t.Errorf("zero budget not passed on: tasks %+v repl %+v", fx.b.Tasks.Budget, fx.b.Repl.Budget)
	}
}

func TestNew_NilBudgetUsesDefault(t *testing.T) {
	fx := newFixture(t)
	if fx.b.Budget != marker.DefaultBudget {
		t.Errorf("budget: got %+v, want %+v", fx.b.Budget, marker.DefaultBudget)
	}
}
