package cache

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

func present(target string) bool {
	_, err := os.Lstat(target)
	return err == nil
}

// Ensure runs fn only if target does not exist yet, holding target's lock
// so concurrent callers (in this or another process) run it at most once.
func Ensure(ctx context.Context, target string, fn func() error) error {
	if present(target) {
		return nil
	}

	unlock, err := Lock(ctx, target)
	if err != nil {
		return fmt.Errorf("locking %s: %w", target, err)
	}
	defer unlock()

	// Someone may have finished while we waited.
	if present(target) {
		slog.Debug("Created by another holder", "target", target)
		return nil
	}
	return fn()
}
