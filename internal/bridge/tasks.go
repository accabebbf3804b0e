package bridge

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/timvw/tmux-bridge/internal/model"
	"github.com/timvw/tmux-bridge/internal/session"
)

// tasksLockName keys the lock that serializes task pool changes.
const tasksLockName = "tasks"

func (b *Bridge) lockTasks(ctx context.Context, sess model.Session) (*session.Lock, error) {
	return b.lock(ctx, sess, tasksLockName, b.LockWait)
}

// Launch starts command in a background task pane and returns at once.
func (b *Bridge) Launch(ctx context.Context, sessionID, command string) (t *model.Task, err error) {
	ctx, o := b.begin(ctx, "launch")
	defer func() { o.end(ctx, 0, err) }()

	if strings.TrimSpace(command) == "" {
		return nil, model.Errorf(model.KindUsage, "No command given.").
			WithHint("Usage: tb launch -- <command>")
	}
	sess, err := b.Sessions.Resolve(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	l, err := b.lockTasks(ctx, sess)
	if err != nil {
		return nil, err
	}
	defer release(l)

	t, err = b.Tasks.Launch(ctx, sess, command)
	if t != nil {
		o.span.SetAttributes(
			attribute.String("tb.session", sess.ID),
			attribute.String("tb.task", t.ID),
			attribute.String("tb.marker", t.MarkerID),
		)
	}
	if err == nil {
		b.Telemetry.Metrics.RecordTask(ctx, "launched")
	}
	return t, err
}

// Check reports a task's state and output without waiting for it.
func (b *Bridge) Check(ctx context.Context, sessionID, taskID string) (t *model.Task, err error) {
	ctx, o := b.begin(ctx, "check", attribute.String("tb.task", taskID))
	defer func() {
		code := 0
		if t != nil && t.State == model.TaskComplete {
			code = t.ExitCode
		}
		o.end(ctx, code, err)
	}()

	sess, err := b.Sessions.Resolve(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	t, err = b.Tasks.Check(ctx, sess, taskID)
	if t != nil {
		o.span.SetAttributes(attribute.String("tb.task.state", string(t.State)))
	}
	return t, err
}

// Done closes a task's pane and frees its id.
func (b *Bridge) Done(ctx context.Context, sessionID, taskID string) (t *model.Task, err error) {
	ctx, o := b.begin(ctx, "done", attribute.String("tb.task", taskID))
	defer func() { o.end(ctx, 0, err) }()

	sess, err := b.Sessions.Resolve(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	l, err := b.lockTasks(ctx, sess)
	if err != nil {
		return nil, err
	}
	defer release(l)

	t, err = b.Tasks.Done(ctx, sess, taskID)
	if err == nil {
		b.Telemetry.Metrics.RecordTask(ctx, "closed")
	}
	return t, err
}

// ListTasks checks every task of the session.
func (b *Bridge) ListTasks(ctx context.Context, sessionID string) (list []*model.Task, err error) {
	ctx, o := b.begin(ctx, "tasks")
	defer func() { o.end(ctx, 0, err) }()

	sess, err := b.Sessions.Resolve(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return b.Tasks.List(ctx, sess)
}
