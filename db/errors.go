package db

import (
	"fmt"
	"strings"
	"time"
)

// PayloadNotFoundError means the payload file system has no archive for the
// current platform. It is never retried.
type PayloadNotFoundError struct {
	Platform string
	Archive  string
}

func (e *PayloadNotFoundError) Error() string {
	return fmt.Sprintf("no embedded mysql payload for platform %s: %s not found", e.Platform, e.Archive)
}

// InitializationError reports a failed unpack or initialize step. Output holds
// the combined stdout/stderr of the failed command.
type InitializationError struct {
	Step   string // "unpack" or "initialize"
	Output string
	Err    error
}

func (e *InitializationError) Error() string {
	msg := fmt.Sprintf("failed to %s embedded mysql: %v", e.Step, e.Err)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += "\n" + out
	}
	return msg
}

func (e *InitializationError) Unwrap() error { return e.Err }

// StartupError reports that mysqld never became ready. Exited distinguishes a
// process that died during startup from one that outlived the wait budget.
type StartupError struct {
	Exited   bool
	ExitCode int
	Wait     time.Duration
	Err      error // last readiness failure
}

func (e *StartupError) Error() string {
	var msg string
	if e.Exited {
		msg = fmt.Sprintf("mysqld exited during startup (exit code %d)", e.ExitCode)
	} else {
		msg = fmt.Sprintf("mysqld failed to start after %s", e.Wait)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StartupError) Unwrap() error { return e.Err }
