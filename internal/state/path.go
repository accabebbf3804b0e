// Package state keeps small per-session files (REPL state, lock files)
// that must survive between tb invocations.
package state

import (
	"fmt"
	"os"
	"path/filepath"
)

// DirEnv overrides the runtime directory.
const DirEnv = "TB_STATE_DIR"

// DefaultDir returns the runtime directory for bridge state:
// $TB_STATE_DIR, else $XDG_RUNTIME_DIR/tmux-bridge, else a per-user
// directory under the system temp dir.
func DefaultDir() string {
	if dir := os.Getenv(DirEnv); dir != "" {
		return dir
	}
	if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
		return filepath.Join(runtimeDir, "tmux-bridge")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("tmux-bridge-%d", os.Getuid()))
}
