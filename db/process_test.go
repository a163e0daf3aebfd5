package db

import (
	"bytes"
	"os/exec"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a bytes.Buffer safe for the drain goroutine and the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func requireShell(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not found in PATH")
	}
	return sh
}

func TestProcess_DrainsCombinedOutput(t *testing.T) {
	sh := requireShell(t)
	out := &syncBuffer{}

	p, err := startProcess(sh, []string{"-c", "echo to-stdout; echo to-stderr >&2; exit 5"}, t.TempDir(), out)
	require.NoError(t, err)

	select {
	case <-p.exited:
	case <-time.After(10 * time.Second):
		t.Fatal("process did not exit")
	}
	p.release(time.Second)

	assert.True(t, p.hasExited())
	assert.Equal(t, 5, p.exitCode())
	assert.Contains(t, out.String(), "to-stdout")
	assert.Contains(t, out.String(), "to-stderr")
}

func TestProcess_Terminate(t *testing.T) {
	sh := requireShell(t)

	p, err := startProcess(sh, []string{"-c", "exec sleep 60"}, t.TempDir(), &syncBuffer{})
	require.NoError(t, err)
	assert.False(t, p.hasExited())
	assert.Equal(t, -1, p.exitCode())

	gone, err := p.terminate(5 * time.Second)
	require.NoError(t, err)
	assert.True(t, gone)
	assert.True(t, p.hasExited())
	p.release(time.Second)

	// Killing an already reaped process is not an error.
	gone, err = p.terminate(time.Second)
	assert.NoError(t, err)
	assert.True(t, gone)
}

func TestStartProcess_MissingBinary(t *testing.T) {
	_, err := startProcess("/nonexistent/mysqld", nil, t.TempDir(), &syncBuffer{})
	assert.Error(t, err)
}
