package db

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

// drainWait bounds how long shutdown waits for the output drain to finish on
// its own before the read end of the pipe is closed under it.
const drainWait = time.Second

// process is a running mysqld with its output pipe. Stdout and stderr share a
// single pipe whose write end is only held by the child, so the drain ends by
// itself once the child and anything it spawned are gone.
type process struct {
	cmd     *exec.Cmd
	pr      *os.File
	exited  chan struct{} // closed by the reaper after Wait returns
	drained chan struct{} // closed when the drain goroutine returns
	waitErr error
}

// startProcess starts path and begins draining its combined output into out.
func startProcess(path string, args []string, dir string, out io.Writer) (*process, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create output pipe: %w", err)
	}

	cmd := exec.Command(path, args...)
	cmd.Dir = dir
	cmd.Stdout = pw
	cmd.Stderr = pw
	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("failed to start %s: %w", path, err)
	}
	// The child has its own copy now.
	pw.Close()

	p := &process{
		cmd:     cmd,
		pr:      pr,
		exited:  make(chan struct{}),
		drained: make(chan struct{}),
	}
	go func() {
		defer close(p.drained)
		_, _ = io.Copy(out, pr)
	}()
	go func() {
		p.waitErr = cmd.Wait()
		close(p.exited)
	}()
	return p, nil
}

func (p *process) pid() int {
	return p.cmd.Process.Pid
}

// hasExited reports whether the reaper has collected the process.
func (p *process) hasExited() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

// exitCode returns the exit status, or -1 while running or when killed by a
// signal.
func (p *process) exitCode() int {
	if !p.hasExited() {
		return -1
	}
	return p.cmd.ProcessState.ExitCode()
}

// terminate kills the process and waits up to wait for the reaper. It reports
// whether the process is gone, plus any kill failure other than the process
// having already finished.
func (p *process) terminate(wait time.Duration) (bool, error) {
	killErr := p.cmd.Process.Kill()
	if errors.Is(killErr, os.ErrProcessDone) {
		killErr = nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-p.exited:
		return true, killErr
	case <-timer.C:
		return false, killErr
	}
}

// release waits for the drain to finish, bounded by wait, and then closes the
// read end of the pipe. Once release returns the drain goroutine no longer
// writes to its output.
func (p *process) release(wait time.Duration) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-p.drained:
	case <-timer.C:
	}
	_ = p.pr.Close()
	select {
	case <-p.drained:
	case <-time.After(wait):
	}
}
