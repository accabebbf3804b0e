package bridge

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"github.com/timvw/tmux-bridge/internal/model"
	"github.com/timvw/tmux-bridge/internal/repl"
	"github.com/timvw/tmux-bridge/internal/session"
)

// replLock takes the main pane lock without waiting. A held lock means an
// earlier turn has not been answered yet.
func (b *Bridge) replLock(ctx context.Context, sess model.Session, pane string) (*session.Lock, error) {
	l, err := b.lock(ctx, sess, pane, 0)
	if errors.Is(err, model.ErrSequence) {
		return nil, model.Errorf(model.KindSequence, "The previous REPL turn in session '%s' has not finished.", sess.ID).
			WithHint("Wait for it to return before sending more input.")
	}
	return l, err
}

// ReplStart launches a REPL in the main pane and waits for its first prompt.
func (b *Bridge) ReplStart(ctx context.Context, sessionID string, opts repl.StartOptions) (res model.Result, err error) {
	ctx, o := b.begin(ctx, "repl.start", attribute.String("tb.repl.command", opts.Command))
	defer func() { o.end(ctx, 0, err) }()

	sess, main, err := b.target(ctx, sessionID)
	if err != nil {
		return res, err
	}
	l, err := b.lock(ctx, sess, main.ID, b.LockWait)
	if err != nil {
		return res, err
	}
	defer release(l)

	opts.Target = main.ID
	return b.Repl.Start(ctx, sess, opts)
}

// ReplEval sends expr to the running REPL and returns its answer. An
// empty prompt uses the pattern given at start.
func (b *Bridge) ReplEval(ctx context.Context, sessionID, prompt, expr string) (res model.Result, err error) {
	ctx, o := b.begin(ctx, "repl.eval")
	defer func() { o.end(ctx, 0, err) }()

	sess, main, err := b.target(ctx, sessionID)
	if err != nil {
		return res, err
	}
	l, err := b.replLock(ctx, sess, main.ID)
	if err != nil {
		return res, err
	}
	defer release(l)

	return b.Repl.Eval(ctx, sess, prompt, expr)
}

// ReplClose leaves the REPL and returns the pane to its shell.
func (b *Bridge) ReplClose(ctx context.Context, sessionID string) (res repl.CloseResult, err error) {
	ctx, o := b.begin(ctx, "repl.close")
	defer func() {
		o.span.SetAttributes(attribute.Bool("tb.escalated", res.Escalated))
		o.end(ctx, 0, err)
	}()

	sess, main, err := b.target(ctx, sessionID)
	if err != nil {
		return res, err
	}
	l, err := b.replLock(ctx, sess, main.ID)
	if err != nil {
		return res, err
	}
	defer release(l)

	return b.Repl.Close(ctx, sess)
}

// ReplStatus returns the running REPL of a session, or nil.
func (b *Bridge) ReplStatus(ctx context.Context, sessionID string) (*model.ReplState, error) {
	sess, err := b.Sessions.Resolve(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return b.Repl.Load(sess)
}
