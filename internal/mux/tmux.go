package mux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/timvw/tmux-bridge/internal/model"
)

// scrollbackLines is how far back capture-pane reaches.
const scrollbackLines = 32768

// Runner executes one tmux invocation and returns its stdout and stderr.
type Runner func(ctx context.Context, args ...string) (stdout, stderr string, err error)

// Tmux implements the Multiplexer interface for tmux.
type Tmux struct {
	// Socket, when set, selects an isolated server (tmux -L).
	Socket string
	// Runner executes tmux. Defaults to exec'ing the tmux binary.
	Runner Runner
}

// NewTmux creates a new tmux multiplexer on the default server.
func NewTmux() *Tmux {
	return &Tmux{}
}

// NewTmuxWithSocket creates a tmux multiplexer on a named server socket.
func NewTmuxWithSocket(socket string) *Tmux {
	return &Tmux{Socket: socket}
}

// Name returns "tmux".
func (t *Tmux) Name() string {
	return "tmux"
}

// HasSession reports whether a session named exactly name exists.
func (t *Tmux) HasSession(ctx context.Context, name string) (bool, error) {
	_, err := t.run(ctx, "has-session", "-t", "="+name)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrNoServer) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// NewSession creates a detached session.
func (t *Tmux) NewSession(ctx context.Context, name string) error {
	if _, err := t.run(ctx, "new-session", "-d", "-s", name); err != nil {
		return fmt.Errorf("creating session %q: %w", name, err)
	}
	return nil
}

// KillSession destroys a session.
func (t *Tmux) KillSession(ctx context.Context, name string) error {
	if _, err := t.run(ctx, "kill-session", "-t", "="+name); err != nil {
		return fmt.Errorf("killing session %q: %w", name, err)
	}
	return nil
}

// ListSessions returns all sessions on the server.
func (t *Tmux) ListSessions(ctx context.Context) ([]model.Session, error) {
	out, err := t.run(ctx, "list-sessions", "-F", "#{session_name}\t#{session_created}\t#{session_attached}")
	if err != nil {
		if errors.Is(err, ErrNoServer) {
			return nil, nil
		}
		return nil, fmt.Errorf("tmux list-sessions: %w", err)
	}

	var sessions []model.Session
	for _, line := range splitLines(out) {
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 {
			continue
		}
		s := model.Session{Name: parts[0]}
		if created, err := strconv.ParseInt(parts[1], 10, 64); err == nil {
			s.CreatedAt = time.Unix(created, 0)
		}
		if n, err := strconv.Atoi(parts[2]); err == nil {
			s.Attached = n > 0
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// Attach replaces the current process with tmux attach-session.
func (t *Tmux) Attach(name string) error {
	bin, err := exec.LookPath("tmux")
	if err != nil {
		return fmt.Errorf("tmux not found in PATH: %w", err)
	}
	argv := append([]string{"tmux"}, t.globalArgs()...)
	argv = append(argv, "attach-session", "-t", "="+name)
	if err := syscall.Exec(bin, argv, os.Environ()); err != nil {
		return fmt.Errorf("attaching to session %q: %w", name, err)
	}
	return nil
}

// ListPanes returns the panes of a session. Each requested user option is
// read with #{name} and stored in Pane.Options.
func (t *Tmux) ListPanes(ctx context.Context, session string, options ...string) ([]model.Pane, error) {
	fields := []string{
		"#{pane_id}",
		"#{session_name}:#{window_index}.#{pane_index}",
		"#{pane_pid}",
		"#{pane_current_command}",
	}
	for _, opt := range options {
		fields = append(fields, "#{"+opt+"}")
	}
	out, err := t.run(ctx, "list-panes", "-s", "-t", "="+session, "-F", strings.Join(fields, "\t"))
	if err != nil {
		return nil, fmt.Errorf("tmux list-panes: %w", err)
	}

	var panes []model.Pane
	for _, line := range splitLines(out) {
		parts := strings.Split(line, "\t")
		if len(parts) != len(fields) {
			continue
		}
		pane, err := parseTarget(parts[1])
		if err != nil {
			continue
		}
		pane.ID = parts[0]
		pane.PID, _ = strconv.Atoi(parts[2])
		pane.Command = parts[3]
		if len(options) > 0 {
			pane.Options = make(map[string]string, len(options))
			for i, opt := range options {
				pane.Options[opt] = parts[4+i]
			}
		}
		panes = append(panes, pane)
	}
	return panes, nil
}

// CapturePane captures a pane including its scrollback.
// Uses -p (stdout) and -J (joined, unwraps lines).
func (t *Tmux) CapturePane(ctx context.Context, target string) (string, error) {
	out, err := t.run(ctx, "capture-pane", "-t", target, "-p", "-J", "-S", "-"+strconv.Itoa(scrollbackLines))
	if err != nil {
		return "", fmt.Errorf("tmux capture-pane -t %s: %w", target, err)
	}
	return out, nil
}

// SendText types text into the pane in literal mode. Embedded newlines
// reach the pane as Enter presses, exactly as if pasted by the human.
func (t *Tmux) SendText(ctx context.Context, target, text string) error {
	if _, err := t.run(ctx, "send-keys", "-t", target, "-l", "--", text); err != nil {
		return fmt.Errorf("tmux send-keys -l -t %s: %w", target, err)
	}
	return nil
}

// SendKeys sends named keys such as "Enter" or "C-c".
func (t *Tmux) SendKeys(ctx context.Context, target string, keys ...string) error {
	args := append([]string{"send-keys", "-t", target}, keys...)
	if _, err := t.run(ctx, args...); err != nil {
		return fmt.Errorf("tmux send-keys -t %s %s: %w", target, strings.Join(keys, " "), err)
	}
	return nil
}

// splitArgs renders the placement flags shared by split-window and join-pane.
func splitArgs(opts SplitOptions) []string {
	var args []string
	if opts.Horizontal {
		args = append(args, "-h")
	} else {
		args = append(args, "-v")
	}
	if opts.Before {
		args = append(args, "-b")
	}
	if opts.Size > 0 {
		args = append(args, "-l", strconv.Itoa(opts.Size))
	}
	if opts.Detached {
		args = append(args, "-d")
	}
	return args
}

// SplitPane splits target and returns the new pane id.
func (t *Tmux) SplitPane(ctx context.Context, target string, opts SplitOptions) (string, error) {
	args := append([]string{"split-window", "-t", target, "-P", "-F", "#{pane_id}"}, splitArgs(opts)...)
	out, err := t.run(ctx, args...)
	if err != nil {
		return "", fmt.Errorf("tmux split-window -t %s: %w", target, err)
	}
	id := strings.TrimSpace(out)
	if id == "" {
		return "", fmt.Errorf("tmux split-window -t %s: no pane id returned", target)
	}
	return id, nil
}

// KillPane closes a pane.
func (t *Tmux) KillPane(ctx context.Context, target string) error {
	if _, err := t.run(ctx, "kill-pane", "-t", target); err != nil {
		return fmt.Errorf("tmux kill-pane -t %s: %w", target, err)
	}
	return nil
}

// BreakPane moves a pane to its own window, keeping focus where it is.
func (t *Tmux) BreakPane(ctx context.Context, target string) error {
	if _, err := t.run(ctx, "break-pane", "-d", "-s", target); err != nil {
		return fmt.Errorf("tmux break-pane -s %s: %w", target, err)
	}
	return nil
}

// JoinPane moves src into dst's window, placed like a split of dst.
func (t *Tmux) JoinPane(ctx context.Context, src, dst string, opts SplitOptions) error {
	opts.Detached = true
	args := append([]string{"join-pane", "-s", src, "-t", dst}, splitArgs(opts)...)
	if _, err := t.run(ctx, args...); err != nil {
		return fmt.Errorf("tmux join-pane -s %s -t %s: %w", src, dst, err)
	}
	return nil
}

// ResizePane sets a pane's height.
func (t *Tmux) ResizePane(ctx context.Context, target string, height int) error {
	if _, err := t.run(ctx, "resize-pane", "-t", target, "-y", strconv.Itoa(height)); err != nil {
		return fmt.Errorf("tmux resize-pane -t %s: %w", target, err)
	}
	return nil
}

// SetPaneOption sets a pane-scoped user option.
func (t *Tmux) SetPaneOption(ctx context.Context, target, name, value string) error {
	if _, err := t.run(ctx, "set-option", "-p", "-t", target, name, value); err != nil {
		return fmt.Errorf("tmux set-option -p -t %s %s: %w", target, name, err)
	}
	return nil
}

// PaneCommand returns the current foreground command of a pane.
func (t *Tmux) PaneCommand(ctx context.Context, target string) (string, error) {
	out, err := t.run(ctx, "display-message", "-p", "-t", target, "#{pane_current_command}")
	if err != nil {
		return "", fmt.Errorf("tmux display-message -t %s: %w", target, err)
	}
	return strings.TrimSpace(out), nil
}

func (t *Tmux) globalArgs() []string {
	if t.Socket != "" {
		return []string{"-L", t.Socket}
	}
	return nil
}

// run executes a tmux command and returns its stdout.
func (t *Tmux) run(ctx context.Context, args ...string) (string, error) {
	runner := t.Runner
	if runner == nil {
		runner = execRunner
	}
	all := append(t.globalArgs(), args...)
	stdout, stderr, err := runner(ctx, all...)
	if err != nil {
		return "", wrapError(err, stderr)
	}
	return stdout, nil
}

func execRunner(ctx context.Context, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, "tmux", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// wrapError maps tmux stderr onto the package's sentinel errors.
func wrapError(err error, stderr string) error {
	stderr = strings.TrimSpace(stderr)
	switch {
	case strings.Contains(stderr, "no server running"),
		strings.Contains(stderr, "error connecting to"),
		strings.Contains(stderr, "server exited unexpectedly"):
		return fmt.Errorf("%w: %s", ErrNoServer, stderr)
	case strings.Contains(stderr, "duplicate session"):
		return fmt.Errorf("%w: %s", ErrSessionExists, stderr)
	case strings.Contains(stderr, "can't find session"),
		strings.Contains(stderr, "session not found"):
		return fmt.Errorf("%w: %s", ErrSessionNotFound, stderr)
	case strings.Contains(stderr, "can't find pane"):
		return fmt.Errorf("%w: %s", ErrPaneNotFound, stderr)
	}
	if stderr != "" {
		return fmt.Errorf("%w: %s", err, stderr)
	}
	return err
}

// splitLines splits tmux output into non-empty lines. Tabs are kept since
// empty trailing fields are significant.
func splitLines(out string) []string {
	var lines []string
	for _, line := range strings.Split(strings.TrimRight(out, "\r\n"), "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// parseTarget parses a tmux target string "session:window.pane" into a Pane.
func parseTarget(target string) (model.Pane, error) {
	colonIdx := strings.LastIndex(target, ":")
	if colonIdx < 0 {
		return model.Pane{}, fmt.Errorf("invalid target %q: missing ':'", target)
	}

	session := target[:colonIdx]
	rest := target[colonIdx+1:]

	dotIdx := strings.LastIndex(rest, ".")
	if dotIdx < 0 {
		return model.Pane{}, fmt.Errorf("invalid target %q: missing '.'", target)
	}

	window, err := strconv.Atoi(rest[:dotIdx])
	if err != nil {
		return model.Pane{}, fmt.Errorf("invalid window index in %q: %w", target, err)
	}

	pane, err := strconv.Atoi(rest[dotIdx+1:])
	if err != nil {
		return model.Pane{}, fmt.Errorf("invalid pane index in %q: %w", target, err)
	}

	return model.Pane{
		Target:  target,
		Session: session,
		Window:  window,
		Pane:    pane,
	}, nil
}
