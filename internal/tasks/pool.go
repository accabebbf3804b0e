// Package tasks runs background commands in split panes next to a
// session's main pane. Task state lives entirely in tmux pane options, so
// any tb process can find, check or close a task launched by another.
package tasks

import (
	"context"
	"errors"
	"log/slog"

	"github.com/timvw/tmux-bridge/internal/logging"
	"github.com/timvw/tmux-bridge/internal/model"
	"github.com/timvw/tmux-bridge/internal/mux"
)

// Pane options used to tag panes.
const (
	OptMain    = "@tb_main"
	OptTask    = "@tb_task"
	OptMarker  = "@tb_marker"
	OptCommand = "@tb_command"
)

var log = logging.ForComponent(logging.CompTasks)

// Coord is a task pane's place in the split layout. Rows count from the
// top; column 1 only exists once more than three tasks run.
type Coord struct {
	Row    int
	Column int
}

// Layout returns the coordinates of n concurrent tasks in task-id order.
// Up to three tasks stack in one column above the main pane; the fourth to
// sixth open a second column beside rows 0 to 2.
func Layout(n int) []Coord {
	if n <= 0 {
		return nil
	}
	n = min(n, model.MaxTasks)
	out := make([]Coord, n)
	for k := range out {
		if k < 3 {
			out[k] = Coord{Row: k}
		} else {
			out[k] = Coord{Row: k - 3, Column: 1}
		}
	}
	return out
}

// Pool is the set of task slots of one session, read from the panes.
type Pool struct {
	Session model.Session
	Main    model.Pane
	Slots   [model.MaxTasks]*model.Task
}

// Load lists the session's panes and rebuilds the task pool from their
// options. The main pane is the one tagged @tb_main, or the first pane
// that is not a task.
func Load(ctx context.Context, m mux.Multiplexer, sess model.Session) (*Pool, error) {
	panes, err := m.ListPanes(ctx, sess.Name, OptMain, OptTask, OptMarker, OptCommand)
	if err != nil {
		if errors.Is(err, mux.ErrSessionNotFound) || errors.Is(err, mux.ErrNoServer) {
			return nil, model.Errorf(model.KindNoTarget, "Session '%s' not found.", sess.ID).
				WithHint("Start a new session with: tb start")
		}
		return nil, model.Errorf(model.KindTransport, "listing panes of '%s'", sess.ID).Wrap(err)
	}

	p := &Pool{Session: sess}
	var main, fallback *model.Pane
	for i := range panes {
		pane := &panes[i]
		id := pane.Options[OptTask]
		if id == "" {
			if pane.Options[OptMain] != "" && main == nil {
				main = pane
			}
			if fallback == nil {
				fallback = pane
			}
			continue
		}
		slot := model.TaskSlot(id)
		if slot < 0 || p.Slots[slot] != nil {
			log.Warn("task_pane_ignored", slog.String("pane", pane.ID), slog.String("task", id))
			continue
		}
		p.Slots[slot] = &model.Task{
			ID:       id,
			PaneID:   pane.ID,
			MarkerID: pane.Options[OptMarker],
			Command:  pane.Options[OptCommand],
			State:    model.TaskRunning,
		}
	}
	if main == nil {
		main = fallback
	}
	if main == nil {
		return nil, model.Errorf(model.KindNoTarget, "Session '%s' has no main pane.", sess.ID).
			WithHint("Close it with: tb close\nThen start a new one with: tb start")
	}
	p.Main = *main
	p.assignCoords()
	return p, nil
}

// Active returns the running tasks in task-id order.
func (p *Pool) Active() []*model.Task {
	var out []*model.Task
	for _, t := range p.Slots {
		if t != nil {
			out = append(out, t)
		}
	}
	return out
}

// Count returns the number of occupied slots.
func (p *Pool) Count() int {
	return len(p.Active())
}

// Get returns the task with the given id.
func (p *Pool) Get(id string) (*model.Task, error) {
	slot := model.TaskSlot(id)
	if slot < 0 || p.Slots[slot] == nil {
		return nil, model.Errorf(model.KindTaskNotFound, "Task %s not found.", id).
			WithHint("Launch a task with: tb launch -- <command>")
	}
	return p.Slots[slot], nil
}

// allocate returns the lowest free slot.
func (p *Pool) allocate() (int, error) {
	for i, t := range p.Slots {
		if t == nil {
			return i, nil
		}
	}
	return -1, model.Errorf(model.KindCapacity, "too many background tasks (max %d).", model.MaxTasks).
		WithHint("Close a task with: tb done <task>")
}

// last reports whether no task occupies a slot after slot.
func (p *Pool) last(slot int) bool {
	for _, t := range p.Slots[slot+1:] {
		if t != nil {
			return false
		}
	}
	return true
}

// assignCoords recomputes every task's coordinate for the current count.
func (p *Pool) assignCoords() {
	active := p.Active()
	for k, c := range Layout(len(active)) {
		active[k].Row, active[k].Column = c.Row, c.Column
	}
}
