// Package bridge is the single entry point the CLI uses: it resolves the
// session, serializes access to its panes, and drives the marker, poller,
// repl and tasks packages. Every operation gets a span, a log line and an
// invocation metric.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/timvw/tmux-bridge/internal/ansi"
	"github.com/timvw/tmux-bridge/internal/logging"
	"github.com/timvw/tmux-bridge/internal/marker"
	"github.com/timvw/tmux-bridge/internal/model"
	"github.com/timvw/tmux-bridge/internal/mux"
	"github.com/timvw/tmux-bridge/internal/otel"
	"github.com/timvw/tmux-bridge/internal/poller"
	"github.com/timvw/tmux-bridge/internal/repl"
	"github.com/timvw/tmux-bridge/internal/session"
	"github.com/timvw/tmux-bridge/internal/state"
	"github.com/timvw/tmux-bridge/internal/tasks"
)

// DefaultLockWait is how long run waits for another invocation on the same
// pane before giving up.
const DefaultLockWait = 5 * time.Second

var log = logging.ForComponent(logging.CompBridge)

// Options tunes a Bridge. Zero values use defaults.
type Options struct {
	Poll poller.Config
	// Budget is the first/last line budget. Nil uses marker.DefaultBudget;
	// a zero budget keeps no body lines.
	Budget     *marker.Budget
	TaskHeight int
	LockWait   time.Duration
	Clock      poller.Clock
}

// Bridge runs commands in bridge sessions.
type Bridge struct {
	Mux       mux.Multiplexer
	Store     *state.Store
	Sessions  *session.Resolver
	Tasks     *tasks.Orchestrator
	Repl      *repl.Manager
	Telemetry *otel.Telemetry

	Clock    poller.Clock
	Poll     poller.Config
	Budget   marker.Budget
	LockWait time.Duration
	// NewID returns marker ids for run. Defaults to marker.NewID.
	NewID func() string
}

// New wires a bridge over m. State files and locks live in store.
func New(m mux.Multiplexer, store *state.Store, tel *otel.Telemetry, opts Options) *Bridge {
	if tel == nil {
		tel = otel.Noop()
	}
	if opts.Clock == nil {
		opts.Clock = poller.RealClock{}
	}
	budget := marker.DefaultBudget
	if opts.Budget != nil {
		budget = *opts.Budget
	}
	if opts.LockWait <= 0 {
		opts.LockWait = DefaultLockWait
	}

	b := &Bridge{
		Mux:       m,
		Store:     store,
		Sessions:  session.NewResolver(m),
		Tasks:     tasks.New(m),
		Telemetry: tel,
		Clock:     opts.Clock,
		Poll:      opts.Poll,
		Budget:    budget,
		LockWait:  opts.LockWait,
	}
	b.Tasks.Budget = budget
	if opts.TaskHeight > 0 {
		b.Tasks.Height = opts.TaskHeight
	}
	b.Repl = &repl.Manager{
		Mux:          m,
		Store:        store,
		Clock:        opts.Clock,
		Config:       opts.Poll,
		Budget:       budget,
		OnTransition: b.onTransition,
	}
	return b
}

func (b *Bridge) newID() string {
	if b.NewID != nil {
		return b.NewID()
	}
	return marker.NewID()
}

func (b *Bridge) onTransition(from, to poller.State) {
	log.Debug("poll_transition", slog.String("from", from.String()), slog.String("to", to.String()))
	switch to {
	case poller.IdleExpired:
		b.Telemetry.Metrics.RecordEscalation(context.Background(), string(model.KindIdleTimeout))
	case poller.OverallExpired:
		b.Telemetry.Metrics.RecordEscalation(context.Background(), string(model.KindOverallTimeout))
	}
}

// op is one instrumented bridge operation.
type op struct {
	b     *Bridge
	name  string
	span  trace.Span
	start time.Time
}

func (b *Bridge) begin(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, *op) {
	ctx, span := b.Telemetry.Tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, &op{b: b, name: name, span: span, start: b.Clock.Now()}
}

// end closes the span and records the invocation. exitCode is the wrapped
// command's status where one exists.
func (o *op) end(ctx context.Context, exitCode int, err error) {
	elapsed := o.b.Clock.Now().Sub(o.start)
	outcome := "ok"
	switch {
	case err != nil:
		outcome = "error"
		var merr *model.Error
		if errors.As(err, &merr) {
			outcome = string(merr.Kind)
		}
		o.span.RecordError(err)
		o.span.SetStatus(codes.Error, outcome)
	case exitCode != 0:
		outcome = "exit_nonzero"
	}
	o.span.SetAttributes(
		attribute.String("tb.outcome", outcome),
		attribute.Int("tb.exit_code", exitCode),
	)
	o.span.End()
	o.b.Telemetry.Metrics.RecordInvocation(ctx, o.name, outcome, elapsed)

	lvl := slog.LevelInfo
	if err != nil {
		lvl = slog.LevelWarn
	}
	log.Log(ctx, lvl, o.name,
		slog.String("outcome", outcome),
		slog.Int("exit_code", exitCode),
		slog.Duration("elapsed", elapsed))
}

// lock takes the per-pane invocation lock. wait == 0 rejects immediately
// when another invocation holds it.
func (b *Bridge) lock(ctx context.Context, sess model.Session, pane string, wait time.Duration) (*session.Lock, error) {
	l, err := session.Acquire(ctx, session.LockPath(b.Store.Dir(), sess.Name, pane), wait)
	if errors.Is(err, session.ErrBusy) {
		return nil, model.Errorf(model.KindSequence, "Another tb command is still running in session '%s'.", sess.ID).
			WithHint("Wait for it to finish, or look at the pane with: tb capture")
	}
	if err != nil {
		return nil, model.Errorf(model.KindTransport, "locking session '%s'", sess.ID).Wrap(err)
	}
	return l, nil
}

func release(l *session.Lock) {
	if err := l.Release(); err != nil {
		log.Warn("lock_release_failed", slog.String("error", err.Error()))
	}
}

// target resolves the session and its main pane.
func (b *Bridge) target(ctx context.Context, sessionID string) (model.Session, model.Pane, error) {
	sess, err := b.Sessions.Resolve(ctx, sessionID)
	if err != nil {
		return sess, model.Pane{}, err
	}
	main, err := b.Tasks.MainPane(ctx, sess)
	return sess, main, err
}

// Start creates a session and tags its main pane.
func (b *Bridge) Start(ctx context.Context, id string) (sess model.Session, err error) {
	ctx, o := b.begin(ctx, "start")
	defer func() { o.end(ctx, 0, err) }()

	sess, err = b.Sessions.Create(ctx, id)
	if err != nil {
		return sess, err
	}
	o.span.SetAttributes(attribute.String("tb.session", sess.ID))
	if err := b.Tasks.TagMain(ctx, sess); err != nil {
		log.Warn("tag_main_failed", slog.String("session", sess.ID), slog.String("error", err.Error()))
	}
	return sess, nil
}

// Attach hands the terminal to the multiplexer client for sess.
func (b *Bridge) Attach(sess model.Session) error {
	return b.Mux.Attach(sess.Name)
}

// Close kills a session and forgets its REPL.
func (b *Bridge) Close(ctx context.Context, sessionID string) (sess model.Session, err error) {
	ctx, o := b.begin(ctx, "close")
	defer func() { o.end(ctx, 0, err) }()

	sess, err = b.Sessions.Close(ctx, sessionID)
	if err != nil {
		return sess, err
	}
	if err := b.Store.Delete(repl.StateKey(sess.Name)); err != nil {
		log.Warn("repl_state_delete_failed", slog.String("session", sess.ID), slog.String("error", err.Error()))
	}
	return sess, nil
}

// List returns the live bridge sessions.
func (b *Bridge) List(ctx context.Context) ([]model.Session, error) {
	return b.Sessions.List(ctx)
}

// Run types command into the session's main pane wrapped in markers and
// waits for its end marker. The result carries the command's exit status.
// On timeout the foreground process is interrupted, then quit, and the
// error carries whatever output was captured.
func (b *Bridge) Run(ctx context.Context, sessionID, command string) (res model.Result, err error) {
	ctx, o := b.begin(ctx, "run")
	defer func() { o.end(ctx, res.ExitCode, err) }()

	if strings.TrimSpace(command) == "" {
		return res, model.Errorf(model.KindUsage, "No command given.").
			WithHint("Usage: tb run -- <command>")
	}
	sess, main, err := b.target(ctx, sessionID)
	if err != nil {
		return res, err
	}
	l, err := b.lock(ctx, sess, main.ID, b.LockWait)
	if err != nil {
		return res, err
	}
	defer release(l)

	if st, err := b.Repl.Load(sess); err != nil {
		return res, err
	} else if st != nil {
		return res, model.Errorf(model.KindSequence, "A REPL (%s) is running in session '%s'.", st.Command, sess.ID).
			WithHint("Send input with: tb repl eval -- <expr>\nOr close it with: tb repl close")
	}

	inv := model.Invocation{
		MarkerID:       b.newID(),
		Command:        command,
		Target:         main.ID,
		SubmittedAt:    b.Clock.Now(),
		IdleTimeout:    b.Poll.IdleTimeout,
		OverallTimeout: b.Poll.OverallTimeout,
	}
	o.span.SetAttributes(
		attribute.String("tb.session", sess.ID),
		attribute.String("tb.pane", main.ID),
		attribute.String("tb.marker", inv.MarkerID),
	)
	if err := b.send(ctx, main.ID, marker.Wrap(inv.MarkerID, command)); err != nil {
		return res, err
	}
	log.Info("run_submitted",
		slog.String("session", sess.ID),
		slog.String("marker", inv.MarkerID),
		slog.String("command", command))

	p := poller.New(b.Mux, main.ID, b.Poll)
	p.Clock = b.Clock
	p.OnTransition = b.onTransition
	out, err := p.Wait(ctx, func(raw string) (bool, error) {
		r, err := marker.Extract(raw, inv.MarkerID, b.Budget)
		return r.Found, err
	})
	if err != nil {
		return res, err
	}
	if out.State == poller.Found {
		return marker.Extract(out.Raw, inv.MarkerID, b.Budget)
	}
	res = marker.Partial(out.Raw, inv.MarkerID, b.Budget)
	return res, poller.TimeoutError(out.Expired, b.Poll, res.Body)
}

func (b *Bridge) send(ctx context.Context, target, text string) error {
	if err := b.Mux.SendText(ctx, target, text); err != nil {
		return model.Errorf(model.KindTransport, "sending command").Wrap(err)
	}
	if err := b.Mux.SendKeys(ctx, target, "Enter"); err != nil {
		return model.Errorf(model.KindTransport, "sending Enter").Wrap(err)
	}
	return nil
}

// Capture returns the stripped text of the main pane, or of a task's pane
// when taskID is set.
func (b *Bridge) Capture(ctx context.Context, sessionID, taskID string) (text string, err error) {
	ctx, o := b.begin(ctx, "capture", attribute.String("tb.task", taskID))
	defer func() { o.end(ctx, 0, err) }()

	sess, err := b.Sessions.Resolve(ctx, sessionID)
	if err != nil {
		return "", err
	}
	pool, err := tasks.Load(ctx, b.Mux, sess)
	if err != nil {
		return "", err
	}
	pane := pool.Main.ID
	if taskID != "" {
		t, err := pool.Get(taskID)
		if err != nil {
			return "", err
		}
		pane = t.PaneID
	}
	raw, err := b.Mux.CapturePane(ctx, pane)
	if err != nil {
		return "", model.Errorf(model.KindTransport, "capturing pane %s", pane).Wrap(err)
	}
	return strings.TrimRight(ansi.Strip(raw), "\n"), nil
}
