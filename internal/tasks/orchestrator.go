package tasks

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/timvw/tmux-bridge/internal/marker"
	"github.com/timvw/tmux-bridge/internal/model"
	"github.com/timvw/tmux-bridge/internal/mux"
)

// DefaultHeight is the height in lines of a task row.
const DefaultHeight = 5

// Orchestrator launches, checks and closes background tasks.
type Orchestrator struct {
	Mux    mux.Multiplexer
	Height int
	Budget marker.Budget
	// NewID returns marker ids. Defaults to marker.NewID.
	NewID func() string
}

// New returns an orchestrator with default height and budget.
func New(m mux.Multiplexer) *Orchestrator {
	return &Orchestrator{Mux: m, Height: DefaultHeight, Budget: marker.DefaultBudget}
}

func (o *Orchestrator) height() int {
	if o.Height > 0 {
		return o.Height
	}
	return DefaultHeight
}

func (o *Orchestrator) newID() string {
	if o.NewID != nil {
		return o.NewID()
	}
	return marker.NewID()
}

// TagMain marks the session's main pane so later splits and focus changes
// do not move it.
func (o *Orchestrator) TagMain(ctx context.Context, sess model.Session) error {
	pool, err := Load(ctx, o.Mux, sess)
	if err != nil {
		return err
	}
	if err := o.Mux.SetPaneOption(ctx, pool.Main.ID, OptMain, "1"); err != nil {
		return model.Errorf(model.KindTransport, "tagging main pane").Wrap(err)
	}
	return nil
}

// MainPane returns the session's main pane.
func (o *Orchestrator) MainPane(ctx context.Context, sess model.Session) (model.Pane, error) {
	pool, err := Load(ctx, o.Mux, sess)
	if err != nil {
		return model.Pane{}, err
	}
	return pool.Main, nil
}

// Launch starts command in a new task pane and returns without waiting
// for it. The command is wrapped with markers so Check can later read its
// exit status.
func (o *Orchestrator) Launch(ctx context.Context, sess model.Session, command string) (*model.Task, error) {
	pool, err := Load(ctx, o.Mux, sess)
	if err != nil {
		return nil, err
	}
	slot, err := pool.allocate()
	if err != nil {
		return nil, err
	}

	n := pool.Count() + 1
	inOrder := pool.last(slot)
	target, opts := pool.Main.ID, mux.SplitOptions{Before: true, Size: o.height(), Detached: true}
	if inOrder && n > 3 {
		target, opts = pool.Active()[n-1-3].PaneID, mux.SplitOptions{Horizontal: true, Detached: true}
	}
	paneID, err := o.Mux.SplitPane(ctx, target, opts)
	if err != nil {
		return nil, model.Errorf(model.KindTransport, "Failed to create task pane").Wrap(err)
	}

	t := &model.Task{
		ID:       model.TaskID(slot),
		PaneID:   paneID,
		MarkerID: o.newID(),
		Command:  command,
		State:    model.TaskRunning,
	}
	if err := o.tag(ctx, t); err != nil {
		if kerr := o.Mux.KillPane(ctx, paneID); kerr != nil {
			log.Warn("task_pane_cleanup_failed", slog.String("pane", paneID), slog.String("error", kerr.Error()))
		}
		return nil, err
	}
	pool.Slots[slot] = t

	if !inOrder {
		if err := o.relayout(ctx, pool); err != nil {
			log.Warn("relayout_failed", slog.String("session", sess.ID), slog.String("error", err.Error()))
		}
	}
	pool.assignCoords()

	if err := o.Mux.SendText(ctx, paneID, marker.Wrap(t.MarkerID, command)); err != nil {
		return t, model.Errorf(model.KindTransport, "Failed to send command to task pane").Wrap(err)
	}
	if err := o.Mux.SendKeys(ctx, paneID, "Enter"); err != nil {
		return t, model.Errorf(model.KindTransport, "Failed to send command to task pane").Wrap(err)
	}
	log.Info("task_launched",
		slog.String("session", sess.ID),
		slog.String("task", t.ID),
		slog.String("pane", paneID),
		slog.String("command", command),
		slog.Int("row", t.Row),
		slog.Int("column", t.Column))
	return t, nil
}

func (o *Orchestrator) tag(ctx context.Context, t *model.Task) error {
	opts := [][2]string{{OptTask, t.ID}, {OptMarker, t.MarkerID}, {OptCommand, t.Command}}
	for _, kv := range opts {
		if err := o.Mux.SetPaneOption(ctx, t.PaneID, kv[0], kv[1]); err != nil {
			return model.Errorf(model.KindTransport, "tagging task pane").Wrap(err)
		}
	}
	return nil
}

// Check captures the task's pane once and reports what it shows. It never
// waits for the task to finish.
func (o *Orchestrator) Check(ctx context.Context, sess model.Session, id string) (*model.Task, error) {
	pool, err := Load(ctx, o.Mux, sess)
	if err != nil {
		return nil, err
	}
	t, err := pool.Get(id)
	if err != nil {
		return nil, err
	}
	if err := o.inspect(ctx, t); err != nil {
		return t, err
	}
	return t, nil
}

// inspect updates t from one capture of its pane.
func (o *Orchestrator) inspect(ctx context.Context, t *model.Task) error {
	raw, err := o.Mux.CapturePane(ctx, t.PaneID)
	if err != nil {
		log.Warn("task_unreachable", slog.String("task", t.ID), slog.String("pane", t.PaneID), slog.String("error", err.Error()))
		t.State = model.TaskUnreachable
		return nil
	}
	if t.MarkerID == "" {
		t.State = model.TaskUnreachable
		return nil
	}

	res, err := marker.Extract(raw, t.MarkerID, o.Budget)
	if err != nil {
		return err
	}
	if !res.Found {
		res = marker.Partial(raw, t.MarkerID, o.Budget)
		t.State = model.TaskRunning
	} else {
		t.State = model.TaskComplete
		t.ExitCode = res.ExitCode
	}
	t.Output, t.Truncated = res.Body, res.Truncated
	return nil
}

// List checks every task of the session concurrently.
func (o *Orchestrator) List(ctx context.Context, sess model.Session) ([]*model.Task, error) {
	pool, err := Load(ctx, o.Mux, sess)
	if err != nil {
		return nil, err
	}
	active := pool.Active()
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range active {
		g.Go(func() error {
			return o.inspect(gctx, t)
		})
	}
	if err := g.Wait(); err != nil {
		return active, err
	}
	return active, nil
}

// Done closes the task's pane, whether or not the task finished, and
// frees its id. The remaining tasks are laid out again for the new count.
func (o *Orchestrator) Done(ctx context.Context, sess model.Session, id string) (*model.Task, error) {
	pool, err := Load(ctx, o.Mux, sess)
	if err != nil {
		return nil, err
	}
	t, err := pool.Get(id)
	if err != nil {
		return nil, err
	}
	if err := o.Mux.KillPane(ctx, t.PaneID); err != nil && !errors.Is(err, mux.ErrPaneNotFound) {
		return t, model.Errorf(model.KindTransport, "Failed to close task %s", id).Wrap(err)
	}
	slot := model.TaskSlot(id)
	inOrder := pool.last(slot)
	pool.Slots[slot] = nil

	if inOrder {
		err = o.resizeRows(ctx, pool)
	} else {
		err = o.relayout(ctx, pool)
	}
	if err != nil {
		log.Warn("relayout_failed", slog.String("session", sess.ID), slog.String("error", err.Error()))
	}
	log.Info("task_closed", slog.String("session", sess.ID), slog.String("task", id), slog.Int("remaining", pool.Count()))
	return t, nil
}

// relayout moves every task pane out of the window and joins them back in
// task-id order, so that coordinates match Layout for the current count.
// Processes and scrollback move with their panes.
func (o *Orchestrator) relayout(ctx context.Context, pool *Pool) error {
	active := pool.Active()
	if len(active) == 0 {
		return nil
	}
	for _, t := range active {
		if err := o.Mux.BreakPane(ctx, t.PaneID); err != nil {
			return err
		}
	}
	var rows [3]string
	for k, c := range Layout(len(active)) {
		t := active[k]
		if c.Column == 0 {
			if err := o.Mux.JoinPane(ctx, t.PaneID, pool.Main.ID, mux.SplitOptions{Before: true, Size: o.height()}); err != nil {
				return err
			}
			rows[c.Row] = t.PaneID
			continue
		}
		if err := o.Mux.JoinPane(ctx, t.PaneID, rows[c.Row], mux.SplitOptions{Horizontal: true}); err != nil {
			return err
		}
	}
	pool.assignCoords()
	log.Debug("relayout", slog.String("session", pool.Session.ID), slog.Int("tasks", len(active)))
	return nil
}

// resizeRows restores the fixed row height after a pane was removed.
func (o *Orchestrator) resizeRows(ctx context.Context, pool *Pool) error {
	pool.assignCoords()
	for _, t := range pool.Active() {
		if t.Column != 0 {
			continue
		}
		if err := o.Mux.ResizePane(ctx, t.PaneID, o.height()); err != nil {
			return err
		}
	}
	return nil
}

// Describe renders a task's state for humans.
func Describe(t *model.Task) string {
	switch t.State {
	case model.TaskComplete:
		return "complete (exit " + strconv.Itoa(t.ExitCode) + ")"
	case model.TaskUnreachable:
		return "unreachable"
	default:
		return "running"
	}
}
