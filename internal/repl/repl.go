// Package repl takes turns with a long-lived interactive process in a
// pane. Instead of injected markers, each turn ends when a caller-supplied
// prompt pattern reappears at the end of the pane text.
//
// State lives in a small file between tb invocations, so start, eval and
// close can each be a separate process.
package repl

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/timvw/tmux-bridge/internal/logging"
	"github.com/timvw/tmux-bridge/internal/marker"
	"github.com/timvw/tmux-bridge/internal/model"
	"github.com/timvw/tmux-bridge/internal/mux"
	"github.com/timvw/tmux-bridge/internal/poller"
	"github.com/timvw/tmux-bridge/internal/state"
)

// EOFKey is sent to leave a REPL when no exit command is configured.
const EOFKey = "C-d"

var log = logging.ForComponent(logging.CompRepl)

// StartOptions configures a REPL launch.
type StartOptions struct {
	// Command launches the REPL (e.g., "python3 -q").
	Command string
	// Prompt is the prompt regular expression.
	Prompt string
	// ExitCommand is typed to leave the REPL. Empty sends EOF.
	ExitCommand string
	// Target is the pane to run in. Empty uses the session's active pane.
	Target string
}

// CloseResult describes how a REPL was closed.
type CloseResult struct {
	// Escalated is set when the REPL had to be interrupted and killed.
	Escalated bool
	// Output is what the REPL printed while exiting.
	Output string
}

// Manager runs REPL turns against sessions.
type Manager struct {
	Mux    mux.Multiplexer
	Store  *state.Store
	Clock  poller.Clock
	Config poller.Config
	Budget marker.Budget
	// OnTransition is passed through to every poller.
	OnTransition func(from, to poller.State)
}

// StateKey returns the store key for a session's REPL state.
func StateKey(sessionName string) string {
	return "repl-" + sessionName + ".json"
}

// Load returns the REPL state of a session, if a REPL is running.
func (m *Manager) Load(sess model.Session) (*model.ReplState, error) {
	var st model.ReplState
	ok, err := m.Store.Load(StateKey(sess.Name), &st)
	if err != nil || !ok {
		return nil, err
	}
	return &st, nil
}

func (m *Manager) mustLoad(sess model.Session, op string) (*model.ReplState, error) {
	st, err := m.Load(sess)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, model.Errorf(model.KindSequence, "No REPL is running in session '%s'; cannot %s.", sess.ID, op).
			WithHint("Start one with: tb repl start --prompt '<regex>' -- <command>")
	}
	return st, nil
}

func (m *Manager) poller(target string) *poller.Poller {
	p := poller.New(m.Mux, target, m.Config)
	if m.Clock != nil {
		p.Clock = m.Clock
	}
	p.OnTransition = m.OnTransition
	return p
}

func (m *Manager) now() time.Time {
	if m.Clock != nil {
		return m.Clock.Now()
	}
	return time.Now()
}

// Start launches a REPL in the session's main pane and waits for its first
// prompt.
func (m *Manager) Start(ctx context.Context, sess model.Session, opts StartOptions) (model.Result, error) {
	if existing, err := m.Load(sess); err != nil {
		return model.Result{}, err
	} else if existing != nil {
		return model.Result{}, model.Errorf(model.KindSequence, "A REPL (%s) is already running in session '%s'.", existing.Command, sess.ID).
			WithHint("Send input with: tb repl eval -- <expr>\nOr close it with: tb repl close")
	}
	if strings.TrimSpace(opts.Command) == "" {
		return model.Result{}, model.Errorf(model.KindUsage, "No REPL command given.")
	}
	prompt, err := CompilePrompt(opts.Prompt)
	if err != nil {
		return model.Result{}, model.Errorf(model.KindUsage, "%v", err)
	}

	target := opts.Target
	if target == "" {
		target = sess.Name
	}
	shell, err := m.Mux.PaneCommand(ctx, target)
	if err != nil {
		return model.Result{}, model.Errorf(model.KindTransport, "reading pane command").Wrap(err)
	}
	before, err := m.Mux.CapturePane(ctx, target)
	if err != nil {
		return model.Result{}, model.Errorf(model.KindTransport, "capturing pane").Wrap(err)
	}
	from := len(Normalize(before))

	if err := m.send(ctx, target, opts.Command); err != nil {
		return model.Result{}, err
	}
	log.Info("repl_start", slog.String("session", sess.ID), slog.String("command", opts.Command))

	st := &model.ReplState{
		Session:     sess.ID,
		Target:      target,
		Prompt:      opts.Prompt,
		Command:     opts.Command,
		ExitCommand: opts.ExitCommand,
		Shell:       shell,
		StartedAt:   m.now(),
	}
	res, err := m.turn(ctx, st, prompt, from, opts.Command)
	if err != nil {
		return res, err
	}
	st.Started = true
	if err := m.Store.Save(StateKey(sess.Name), st); err != nil {
		return res, err
	}
	return res, nil
}

// Eval sends expr to the running REPL and returns what it printed before
// the next prompt. An empty pattern uses the prompt given at start.
func (m *Manager) Eval(ctx context.Context, sess model.Session, pattern, expr string) (model.Result, error) {
	st, err := m.mustLoad(sess, "eval")
	if err != nil {
		return model.Result{}, err
	}
	if pattern == "" {
		pattern = st.Prompt
	}
	prompt, err := CompilePrompt(pattern)
	if err != nil {
		return model.Result{}, model.Errorf(model.KindUsage, "%v", err)
	}

	from := st.Baseline
	if cur, err := m.Mux.CapturePane(ctx, st.Target); err == nil {
		text := Normalize(cur)
		if len(text) < from {
			// Screen cleared or history trimmed; offsets no longer line up.
			log.Warn("repl_baseline_reset", slog.String("session", sess.ID), slog.Int("baseline", from), slog.Int("len", len(text)))
			from = 0
			if _, end, ok := prompt.Find(text, 0); ok {
				from = end
			}
			st.Baseline = from
		}
	}

	if err := m.send(ctx, st.Target, expr); err != nil {
		return model.Result{}, err
	}
	res, turnErr := m.turn(ctx, st, prompt, from, expr)
	st.Turns++
	if err := m.Store.Save(StateKey(sess.Name), st); err != nil && turnErr == nil {
		turnErr = err
	}
	return res, turnErr
}

// turn waits for a prompt starting at or after from and records it as the
// new baseline. The body is the text between from and that prompt, with
// the echoed expression removed.
func (m *Manager) turn(ctx context.Context, st *model.ReplState, prompt *Prompt, from int, expr string) (model.Result, error) {
	var text string
	var start, end int
	detect := func(raw string) (bool, error) {
		text = Normalize(raw)
		var ok bool
		start, end, ok = prompt.Find(text, from)
		return ok, nil
	}

	out, err := m.poller(st.Target).Wait(ctx, detect)
	if err != nil {
		return model.Result{}, err
	}

	if out.State == poller.Found {
		body := removeEcho(text[from:start], expr)
		st.Baseline = end
		res := model.Result{Raw: out.Raw, Stripped: text, Found: true}
		t := marker.Truncate(body, m.Budget.First, m.Budget.Last)
		res.Body, res.Lines, res.Truncated, res.Head, res.Tail = t.Body, t.Lines, t.Truncated, t.Head, t.Tail
		return res, nil
	}

	// Timed out: keep whatever came after from and move the baseline past it
	// so the next turn does not match stale output.
	partial := ""
	if from <= len(text) {
		partial = removeEcho(text[from:], expr)
	}
	st.Baseline = len(text)
	if s, e, ok := prompt.Find(text, from); ok {
		st.Baseline = e
		partial = removeEcho(text[from:s], expr)
	}
	return model.Result{Raw: out.Raw, Stripped: text, Body: partial}, poller.TimeoutError(out.Expired, m.Config, partial)
}

// Close leaves the REPL with its exit command (or EOF), waits for the pane
// to return to the original shell, and falls back to interrupt and quit if
// it does not. The REPL state is removed in every case.
func (m *Manager) Close(ctx context.Context, sess model.Session) (CloseResult, error) {
	st, err := m.mustLoad(sess, "close")
	if err != nil {
		return CloseResult{}, err
	}
	defer func() {
		if err := m.Store.Delete(StateKey(sess.Name)); err != nil {
			log.Warn("repl_state_delete_failed", slog.String("error", err.Error()))
		}
	}()

	if st.ExitCommand != "" {
		err = m.send(ctx, st.Target, st.ExitCommand)
	} else {
		err = m.Mux.SendKeys(ctx, st.Target, EOFKey)
	}
	if err != nil {
		return CloseResult{}, model.Errorf(model.KindTransport, "sending REPL exit").Wrap(err)
	}

	detect := func(string) (bool, error) {
		cmd, err := m.Mux.PaneCommand(ctx, st.Target)
		if err != nil {
			return false, model.Errorf(model.KindTransport, "reading pane command").Wrap(err)
		}
		return st.Shell == "" || cmd == st.Shell, nil
	}
	out, err := m.poller(st.Target).Wait(ctx, detect)
	if err != nil {
		return CloseResult{}, err
	}

	text := Normalize(out.Raw)
	output := ""
	if st.Baseline <= len(text) {
		output = strings.Trim(text[st.Baseline:], "\n")
	}
	log.Info("repl_close", slog.String("session", sess.ID), slog.Bool("escalated", out.Escalated()))
	return CloseResult{Escalated: out.Escalated(), Output: output}, nil
}

// send types text followed by Enter.
func (m *Manager) send(ctx context.Context, target, text string) error {
	if err := m.Mux.SendText(ctx, target, text); err != nil {
		return model.Errorf(model.KindTransport, "sending input").Wrap(err)
	}
	if err := m.Mux.SendKeys(ctx, target, "Enter"); err != nil {
		return model.Errorf(model.KindTransport, "sending Enter").Wrap(err)
	}
	return nil
}

// Describe renders a one-line summary of a REPL state.
func Describe(st *model.ReplState) string {
	return fmt.Sprintf("%s (prompt %q, %d turns)", st.Command, st.Prompt, st.Turns)
}
