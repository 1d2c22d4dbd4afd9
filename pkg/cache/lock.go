// Package cache serializes one-time filesystem work across processes with
// PID lock files.
package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

const (
	pollAlive  = 200 * time.Millisecond
	pollRetry  = 100 * time.Millisecond
	lockSuffix = ".lock"
)

// Lock takes the lock for target by creating target.lock holding our PID.
// A lock whose owner is no longer running is removed and retaken. While a
// live process holds it, Lock polls until ctx is done.
func Lock(ctx context.Context, target string) (func() error, error) {
	lockFile := target + lockSuffix

	if err := os.MkdirAll(filepath.Dir(lockFile), 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent dir for lock: %w", err)
	}

	for {
		ok, err := tryCreate(lockFile)
		if err != nil {
			return nil, err
		}
		if ok {
			return func() error { return os.Remove(lockFile) }, nil
		}

		wait := pollRetry
		switch pid, err := readOwner(lockFile); {
		case errors.Is(err, os.ErrNotExist):
			continue
		case err != nil:
			// Unreadable or corrupt; treat as abandoned.
			os.Remove(lockFile)
			continue
		case pidAlive(pid):
			wait = pollAlive
		default:
			os.Remove(lockFile)
			continue
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func tryCreate(lockFile string) (bool, error) {
	f, err := os.OpenFile(lockFile, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	content := fmt.Sprintf("%s %d", time.Now().Format(time.RFC3339), os.Getpid())
	_, werr := f.WriteString(content)
	cerr := f.Close()
	if werr != nil || cerr != nil {
		os.Remove(lockFile)
		return false, fmt.Errorf("failed to write to lock file: %w", errors.Join(werr, cerr))
	}
	return true, nil
}

// readOwner returns the PID recorded in a lock file ("<timestamp> <pid>").
func readOwner(lockFile string) (int, error) {
	content, err := os.ReadFile(lockFile)
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(content))
	if len(fields) < 2 {
		return 0, fmt.Errorf("malformed lock file %s", lockFile)
	}
	return strconv.Atoi(fields[len(fields)-1])
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	// EPERM means it exists but belongs to someone else.
	return err == nil || errors.Is(err, unix.EPERM)
}
