// Package mux provides an abstraction over terminal multiplexers.
//
// This package is pure transport: it sends keystrokes, captures pane text
// and manages panes and sessions. It never interprets pane content; marker
// and prompt detection live in the packages that call it.
package mux

import (
	"context"
	"errors"

	"github.com/timvw/tmux-bridge/internal/model"
)

// Common errors, mapped from multiplexer stderr.
var (
	ErrNoServer        = errors.New("no tmux server running")
	ErrSessionExists   = errors.New("session already exists")
	ErrSessionNotFound = errors.New("session not found")
	ErrPaneNotFound    = errors.New("pane not found")
)

// SplitOptions controls how a new pane is split off an existing one.
type SplitOptions struct {
	// Horizontal splits side by side instead of stacking.
	Horizontal bool
	// Before places the new pane above (or left of) the target.
	Before bool
	// Size is the new pane's height (or width) in cells. Zero splits evenly.
	Size int
	// Detached keeps focus on the current pane.
	Detached bool
}

// Multiplexer abstracts terminal multiplexer operations.
type Multiplexer interface {
	// Name returns the multiplexer name (e.g., "tmux").
	Name() string

	// HasSession reports whether a session with exactly this name exists.
	HasSession(ctx context.Context, name string) (bool, error)
	// NewSession creates a detached session.
	NewSession(ctx context.Context, name string) error
	// KillSession destroys a session and all its panes.
	KillSession(ctx context.Context, name string) error
	// ListSessions returns all sessions. No server means no sessions.
	ListSessions(ctx context.Context) ([]model.Session, error)
	// Attach replaces the current process with a client attached to name.
	Attach(name string) error

	// ListPanes returns the panes of a session with the requested user
	// options (e.g., "@tb_task") filled into Pane.Options.
	ListPanes(ctx context.Context, session string, options ...string) ([]model.Pane, error)
	// CapturePane captures the pane's scrollback and visible content, with
	// wrapped lines joined.
	CapturePane(ctx context.Context, target string) (string, error)
	// SendText types text literally into the pane.
	SendText(ctx context.Context, target, text string) error
	// SendKeys sends named keys (e.g., "Enter", "C-c", "C-\\").
	SendKeys(ctx context.Context, target string, keys ...string) error
	// SplitPane splits target and returns the new pane's id.
	SplitPane(ctx context.Context, target string, opts SplitOptions) (string, error)
	// KillPane closes a pane.
	KillPane(ctx context.Context, target string) error
	// BreakPane moves a pane into a window of its own without selecting it.
	// The pane's process and history are kept.
	BreakPane(ctx context.Context, target string) error
	// JoinPane moves src next to dst as if dst had been split with opts.
	JoinPane(ctx context.Context, src, dst string, opts SplitOptions) error
	// ResizePane sets a pane's height in cells.
	ResizePane(ctx context.Context, target string, height int) error
	// SetPaneOption sets a user option on a pane.
	SetPaneOption(ctx context.Context, target, name, value string) error
	// PaneCommand returns the pane's current foreground command.
	PaneCommand(ctx context.Context, target string) (string, error)
}
