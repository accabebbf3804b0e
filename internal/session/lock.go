package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
)

// ErrBusy is returned when another invocation holds the target's lock.
var ErrBusy = errors.New("another tb invocation is using this pane")

const lockRetryDelay = 50 * time.Millisecond

// Lock serializes invocations against one pane across processes.
type Lock struct {
	f *flock.Flock
}

// LockPath returns the lock file for a pane of a session.
func LockPath(dir, sessionName, pane string) string {
	pane = strings.NewReplacer("%", "p", "/", "_", ":", "_").Replace(pane)
	return filepath.Join(dir, fmt.Sprintf("%s.%s.lock", sessionName, pane))
}

// Acquire takes the lock at path. With wait == 0 it fails immediately with
// ErrBusy if the lock is held; otherwise it retries for up to wait.
func Acquire(ctx context.Context, path string, wait time.Duration) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	f := flock.New(path)

	if wait <= 0 {
		ok, err := f.TryLock()
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", path, err)
		}
		if !ok {
			return nil, ErrBusy
		}
		return &Lock{f: f}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	ok, err := f.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrBusy
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return nil, ErrBusy
	}
	return &Lock{f: f}, nil
}

// Release unlocks. The lock file is left in place for reuse.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	return l.f.Unlock()
}
