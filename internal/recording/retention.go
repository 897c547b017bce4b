// Package recording enforces the retention period of captured recordings.
package recording

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"time"
)

// Expirer deletes recordings created before a cutoff and returns the audio
// files they referenced. database.RecordingRepository implements it.
type Expirer interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) ([]string, error)
}

// Sweep removes recordings older than maxAge along with their WAV files and
// returns how many were removed. Files already gone are not an error.
func Sweep(ctx context.Context, repo Expirer, maxAge time.Duration, logger *slog.Logger) (int, error) {
	paths, err := repo.DeleteBefore(ctx, time.Now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("failed to remove recording file", "path", p, "error", err)
		}
	}
	return len(paths), nil
}

// StartRetention sweeps expired recordings every interval until ctx is
// cancelled. A maxAge of zero or less keeps recordings forever and starts
// nothing.
func StartRetention(ctx context.Context, repo Expirer, maxAge, interval time.Duration, logger *slog.Logger) {
	if maxAge <= 0 {
		return
	}
	logger = logger.With("component", "retention")

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := Sweep(ctx, repo, maxAge, logger)
				if err != nil {
					if ctx.Err() == nil {
						logger.Error("recording retention sweep failed", "error", err)
					}
					continue
				}
				if n > 0 {
					logger.Info("recording retention sweep", "deleted", n, "max_age", maxAge)
				}
			}
		}
	}()
}
