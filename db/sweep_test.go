package db

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func makeWorkingDir(t *testing.T, baseDir, name string, age time.Duration) string {
	t.Helper()
	dir := filepath.Join(baseDir, name)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, dataDirName), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, lockFileName), nil, 0o600))
	when := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(dir, when, when))
	return dir
}

func TestSweepStaleDirectories(t *testing.T) {
	baseDir := t.TempDir()
	logger := zaptest.NewLogger(t)

	stale := makeWorkingDir(t, baseDir, DirPrefix+"stale", 2*time.Minute)
	fresh := makeWorkingDir(t, baseDir, DirPrefix+"fresh", 0)
	held := makeWorkingDir(t, baseDir, DirPrefix+"held", 2*time.Minute)
	unrelated := makeWorkingDir(t, baseDir, "something-else", 2*time.Minute)

	lock := flock.New(filepath.Join(held, lockFileName))
	locked, err := lock.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	t.Cleanup(func() { _ = lock.Unlock() })
	// Taking the lock may have touched the directory.
	when := time.Now().Add(-2 * time.Minute)
	require.NoError(t, os.Chtimes(held, when, when))

	removed := SweepStaleDirectories(baseDir, logger)
	assert.Equal(t, 1, removed)

	assert.NoDirExists(t, stale)
	assert.DirExists(t, fresh)
	assert.DirExists(t, held, "directories locked by a live owner are kept")
	assert.DirExists(t, unrelated)
}

func TestSweepStaleDirectories_MissingBaseDir(t *testing.T) {
	removed := SweepStaleDirectories(filepath.Join(t.TempDir(), "missing"), zaptest.NewLogger(t))
	assert.Zero(t, removed)
}
