package db

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

// staleAge is how old an unlocked working directory must be before it is
// considered abandoned.
const staleAge = time.Minute

// SweepStaleDirectories removes working directories under baseDir left behind
// by processes that died without closing their server. A directory is stale
// when it is older than a minute and nobody holds its lock. It returns the
// number of directories removed; failures are logged and skipped.
func SweepStaleDirectories(baseDir string, logger *zap.Logger) int {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		logger.Debug("Skipping stale directory sweep", zap.String("base_dir", baseDir), zap.Error(err))
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), DirPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || time.Since(info.ModTime()) < staleAge {
			continue
		}

		dir := filepath.Join(baseDir, entry.Name())
		lock := flock.New(filepath.Join(dir, lockFileName))
		locked, err := lock.TryLock()
		if err != nil || !locked {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn("Failed to remove stale working directory", zap.String("path", dir), zap.Error(err))
		} else {
			logger.Info("Removed stale working directory", zap.String("path", dir))
			removed++
		}
		_ = lock.Unlock()
	}
	return removed
}
