package mux

import (
	"fmt"
	"os"
	"os/exec"
)

// SocketEnv names an isolated tmux server socket (tmux -L). Tests and
// sandboxes set it so bridge sessions never touch the user's default server.
const SocketEnv = "TB_TMUX_SOCKET"

// Detect returns the multiplexer to use. Only tmux is supported; bridge
// sessions are created by tb itself, so a running server is not required.
func Detect() (Multiplexer, error) {
	if _, err := exec.LookPath("tmux"); err != nil {
		return nil, fmt.Errorf("tmux not found in PATH: %w", err)
	}
	return NewTmuxWithSocket(os.Getenv(SocketEnv)), nil
}

// FromName creates a Multiplexer by name.
func FromName(name string) (Multiplexer, error) {
	switch name {
	case "tmux":
		return NewTmuxWithSocket(os.Getenv(SocketEnv)), nil
	case "zellij":
		return nil, fmt.Errorf("zellij support is not yet implemented")
	default:
		return nil, fmt.Errorf("unknown multiplexer: %q (supported: tmux)", name)
	}
}
