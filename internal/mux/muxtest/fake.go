// Package muxtest provides an in-memory Multiplexer for tests.
package muxtest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/timvw/tmux-bridge/internal/model"
	"github.com/timvw/tmux-bridge/internal/mux"
)

// Call records one Multiplexer method invocation.
type Call struct {
	Method string
	Target string
	Args   []string
}

// Pane is a fake pane.
type Pane struct {
	ID      string
	Session string
	Window  int
	Index   int
	Height  int
	// Content is what CapturePane returns once Script is exhausted.
	Content string
	// Script, if set, is consumed one entry per capture before Content is used.
	Script  []string
	Command string
	Options map[string]string
}

// Fake is a concurrency-safe in-memory multiplexer.
type Fake struct {
	mu         sync.Mutex
	sessions   map[string][]*Pane
	panes      map[string]*Pane
	nextPane   int
	nextWindow int

	// Calls lists every invocation in order.
	Calls []Call
	// OnText runs after SendText, with the fake unlocked.
	OnText func(f *Fake, target, text string)
	// OnKeys runs after SendKeys, with the fake unlocked.
	OnKeys func(f *Fake, target string, keys []string)
	// Err, when set for a method name, is returned by that method.
	Err map[string]error
}

var _ mux.Multiplexer = (*Fake)(nil)

// New returns an empty fake.
func New() *Fake {
	return &Fake{
		sessions: make(map[string][]*Pane),
		panes:    make(map[string]*Pane),
		Err:      make(map[string]error),
	}
}

// AddSession creates a session with one main pane running bash and returns
// the main pane.
func (f *Fake) AddSession(name string) *Pane {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addSessionLocked(name)
}

func (f *Fake) addSessionLocked(name string) *Pane {
	p := f.newPaneLocked(name)
	f.sessions[name] = []*Pane{p}
	return p
}

func (f *Fake) newPaneLocked(session string) *Pane {
	p := &Pane{
		ID:      fmt.Sprintf("%%%d", f.nextPane),
		Session: session,
		Height:  40,
		Command: "bash",
		Options: map[string]string{},
	}
	f.nextPane++
	f.panes[p.ID] = p
	return p
}

// Pane returns the pane with the given id, or nil.
func (f *Fake) Pane(id string) *Pane {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.panes[id]
}

// SessionPanes returns a session's panes in layout order.
func (f *Fake) SessionPanes(name string) []*Pane {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Pane(nil), f.sessions[name]...)
}

// SetContent replaces a pane's content.
func (f *Fake) SetContent(target, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p := f.resolveLocked(target); p != nil {
		p.Content = content
	}
}

// AppendContent appends to a pane's content.
func (f *Fake) AppendContent(target, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p := f.resolveLocked(target); p != nil {
		p.Content += content
	}
}

// SetCommand sets a pane's foreground command.
func (f *Fake) SetCommand(target, command string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p := f.resolveLocked(target); p != nil {
		p.Command = command
	}
}

// CallsTo returns the recorded calls for one method.
func (f *Fake) CallsTo(method string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.Calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// resolveLocked accepts a pane id, "=name", a session name, or
// "name:W.N" and returns the pane. A bare session resolves to the pane
// tagged @tb_main, else the first pane without a task option.
func (f *Fake) resolveLocked(target string) *Pane {
	if p, ok := f.panes[target]; ok {
		return p
	}
	target = strings.TrimPrefix(target, "=")
	if i := strings.LastIndex(target, ":"); i >= 0 {
		var win, idx int
		name := target[:i]
		if _, err := fmt.Sscanf(target[i+1:], "%d.%d", &win, &idx); err == nil {
			for _, p := range f.sessions[name] {
				if p.Window == win && p.Index == idx {
					return p
				}
			}
		}
		return nil
	}
	for _, p := range f.sessions[target] {
		if p.Options["@tb_main"] != "" {
			return p
		}
	}
	for _, p := range f.sessions[target] {
		if p.Options["@tb_task"] == "" {
			return p
		}
	}
	return nil
}

func (f *Fake) record(method, target string, args ...string) error {
	f.Calls = append(f.Calls, Call{Method: method, Target: target, Args: args})
	return f.Err[method]
}

func (f *Fake) reindexLocked(session string) {
	for i, p := range f.sessions[session] {
		p.Index = i
	}
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) HasSession(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("HasSession", name); err != nil {
		return false, err
	}
	_, ok := f.sessions[name]
	return ok, nil
}

func (f *Fake) NewSession(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("NewSession", name); err != nil {
		return err
	}
	if _, ok := f.sessions[name]; ok {
		return mux.ErrSessionExists
	}
	f.addSessionLocked(name)
	return nil
}

func (f *Fake) KillSession(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("KillSession", name); err != nil {
		return err
	}
	panes, ok := f.sessions[name]
	if !ok {
		return mux.ErrSessionNotFound
	}
	for _, p := range panes {
		delete(f.panes, p.ID)
	}
	delete(f.sessions, name)
	return nil
}

func (f *Fake) ListSessions(_ context.Context) ([]model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ListSessions", ""); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(f.sessions))
	for name := range f.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]model.Session, 0, len(names))
	for _, name := range names {
		out = append(out, model.Session{Name: name})
	}
	return out, nil
}

func (f *Fake) Attach(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("Attach", name)
}

func (f *Fake) ListPanes(_ context.Context, session string, options ...string) ([]model.Pane, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session = strings.TrimPrefix(session, "=")
	if err := f.record("ListPanes", session, options...); err != nil {
		return nil, err
	}
	panes, ok := f.sessions[session]
	if !ok {
		return nil, mux.ErrSessionNotFound
	}
	out := make([]model.Pane, 0, len(panes))
	for _, p := range panes {
		mp := model.Pane{
			ID:      p.ID,
			Target:  fmt.Sprintf("%s:%d.%d", session, p.Window, p.Index),
			Session: session,
			Window:  p.Window,
			Pane:    p.Index,
			Command: p.Command,
		}
		if len(options) > 0 {
			mp.Options = make(map[string]string, len(options))
			for _, opt := range options {
				mp.Options[opt] = p.Options[opt]
			}
		}
		out = append(out, mp)
	}
	return out, nil
}

func (f *Fake) CapturePane(_ context.Context, target string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CapturePane", target); err != nil {
		return "", err
	}
	p := f.resolveLocked(target)
	if p == nil {
		return "", mux.ErrPaneNotFound
	}
	if len(p.Script) > 0 {
		out := p.Script[0]
		p.Script = p.Script[1:]
		p.Content = out
		return out, nil
	}
	return p.Content, nil
}

func (f *Fake) SendText(_ context.Context, target, text string) error {
	f.mu.Lock()
	if err := f.record("SendText", target, text); err != nil {
		f.mu.Unlock()
		return err
	}
	if f.resolveLocked(target) == nil {
		f.mu.Unlock()
		return mux.ErrPaneNotFound
	}
	hook := f.OnText
	f.mu.Unlock()
	if hook != nil {
		hook(f, target, text)
	}
	return nil
}

func (f *Fake) SendKeys(_ context.Context, target string, keys ...string) error {
	f.mu.Lock()
	if err := f.record("SendKeys", target, keys...); err != nil {
		f.mu.Unlock()
		return err
	}
	if f.resolveLocked(target) == nil {
		f.mu.Unlock()
		return mux.ErrPaneNotFound
	}
	hook := f.OnKeys
	f.mu.Unlock()
	if hook != nil {
		hook(f, target, keys)
	}
	return nil
}

// SplitPane inserts the new pane before the target when opts.Before is
// set, otherwise after it.
func (f *Fake) SplitPane(_ context.Context, target string, opts mux.SplitOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	args := []string{fmt.Sprintf("horizontal=%v", opts.Horizontal), fmt.Sprintf("before=%v", opts.Before), fmt.Sprintf("size=%d", opts.Size)}
	if err := f.record("SplitPane", target, args...); err != nil {
		return "", err
	}
	src := f.resolveLocked(target)
	if src == nil {
		return "", mux.ErrPaneNotFound
	}
	p := f.newPaneLocked(src.Session)
	p.Window = src.Window
	if opts.Size > 0 && !opts.Horizontal {
		p.Height = opts.Size
	}
	f.insertLocked(p, src, opts.Before)
	return p.ID, nil
}

func (f *Fake) KillPane(_ context.Context, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("KillPane", target); err != nil {
		return err
	}
	p := f.resolveLocked(target)
	if p == nil {
		return mux.ErrPaneNotFound
	}
	delete(f.panes, p.ID)
	f.removeLocked(p)
	f.reindexLocked(p.Session)
	return nil
}

// BreakPane moves the pane into a window of its own. The fake keeps such
// panes in the session list with Window set to a fresh index.
func (f *Fake) BreakPane(_ context.Context, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("BreakPane", target); err != nil {
		return err
	}
	p := f.resolveLocked(target)
	if p == nil {
		return mux.ErrPaneNotFound
	}
	f.nextWindow++
	p.Window = f.nextWindow
	f.removeLocked(p)
	f.sessions[p.Session] = append(f.sessions[p.Session], p)
	f.reindexLocked(p.Session)
	return nil
}

// JoinPane moves src into dst's window, before or after dst.
func (f *Fake) JoinPane(_ context.Context, src, dst string, opts mux.SplitOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	args := []string{dst, fmt.Sprintf("horizontal=%v", opts.Horizontal), fmt.Sprintf("before=%v", opts.Before), fmt.Sprintf("size=%d", opts.Size)}
	if err := f.record("JoinPane", src, args...); err != nil {
		return err
	}
	sp, dp := f.resolveLocked(src), f.resolveLocked(dst)
	if sp == nil || dp == nil {
		return mux.ErrPaneNotFound
	}
	f.removeLocked(sp)
	sp.Window = dp.Window
	if opts.Size > 0 && !opts.Horizontal {
		sp.Height = opts.Size
	}
	f.insertLocked(sp, dp, opts.Before)
	return nil
}

func (f *Fake) removeLocked(p *Pane) {
	panes := f.sessions[p.Session]
	for i, q := range panes {
		if q == p {
			f.sessions[p.Session] = append(panes[:i:i], panes[i+1:]...)
			return
		}
	}
}

func (f *Fake) insertLocked(p, at *Pane, before bool) {
	panes := f.sessions[at.Session]
	idx := len(panes)
	for i, q := range panes {
		if q == at {
			idx = i
			if !before {
				idx++
			}
			break
		}
	}
	panes = append(panes, nil)
	copy(panes[idx+1:], panes[idx:])
	panes[idx] = p
	f.sessions[at.Session] = panes
	f.reindexLocked(at.Session)
}

func (f *Fake) ResizePane(_ context.Context, target string, height int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ResizePane", target, fmt.Sprint(height)); err != nil {
		return err
	}
	p := f.resolveLocked(target)
	if p == nil {
		return mux.ErrPaneNotFound
	}
	p.Height = height
	return nil
}

func (f *Fake) SetPaneOption(_ context.Context, target, name, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SetPaneOption", target, name, value); err != nil {
		return err
	}
	p := f.resolveLocked(target)
	if p == nil {
		return mux.ErrPaneNotFound
	}
	p.Options[name] = value
	return nil
}

func (f *Fake) PaneCommand(_ context.Context, target string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("PaneCommand", target); err != nil {
		return "", err
	}
	p := f.resolveLocked(target)
	if p == nil {
		return "", mux.ErrPaneNotFound
	}
	return p.Command, nil
}
