// Package fsutil serializes writers of the shared panel files across
// processes and replaces files atomically.
package fsutil

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// Unlock releases a lock returned by Lock.
type Unlock func()

const lockPoll = 20 * time.Millisecond

// Lock takes an advisory flock(2) on path, creating it if needed.
// Every call opens its own descriptor, so goroutines in one process
// exclude each other just like separate processes do.
func Lock(ctx context.Context, path string, exclusive bool) (Unlock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock %s: %w", path, err)
	}

	how := unix.LOCK_SH
	if exclusive {
		how = unix.LOCK_EX
	}
	for {
		err = unix.Flock(int(f.Fd()), how|unix.LOCK_NB)
		if err == nil {
			break
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EINTR) {
			f.Close()
			return nil, fmt.Errorf("flock %s: %w", path, err)
		}
		select {
		case <-ctx.Done():
			f.Close()
			return nil, ctx.Err()
		case <-time.After(lockPoll):
		}
	}

	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
	}, nil
}

// LockPath is the sidecar lock file guarding path.
func LockPath(path string) string {
	return path + ".lock"
}
