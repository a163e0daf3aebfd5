// Package db runs a throwaway mysqld: it unpacks the platform payload into a
// private working directory, initializes a data directory, supervises the
// server process and tears everything down again.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/veiloq/mysqlkit/config"
	"github.com/veiloq/mysqlkit/connection"
	"go.uber.org/zap"
	"go.uber.org/zap/zapio"
)

const (
	// DirPrefix starts the name of every working directory.
	DirPrefix = "testing-mysql-server-"

	lockFileName   = ".lock"
	socketFileName = "mysql.sock"
	dataDirName    = "data"

	// readinessInterval is the pause between readiness probes.
	readinessInterval = 10 * time.Millisecond

	// readinessQuery must return a single row holding readinessValue.
	readinessQuery = "SELECT 42"
	readinessValue = 42
)

// isRoot reports whether mysqld must be told it may run as root.
var isRoot = func() bool { return os.Geteuid() == 0 }

// EmbeddedServer is a running mysqld bound to localhost on the port reserved in
// its ServerOptions. It owns its working directory and process exclusively.
type EmbeddedServer struct {
	opts   config.ServerOptions
	logger *zap.Logger
	id     string
	dir    string
	lock   *flock.Flock
	proc   *process
	output io.Writer
	sink   io.Closer // non-nil when output is the logger adapter
	closed atomic.Bool
}

// NewEmbeddedServer unpacks, initializes and starts mysqld, returning once it
// answers queries. Any failure tears down whatever was set up before the error
// is returned: *PayloadNotFoundError, *InitializationError or *StartupError.
// Cancelling ctx aborts the startup wait.
func NewEmbeddedServer(ctx context.Context, opts config.ServerOptions, logger *zap.Logger) (_ *EmbeddedServer, err error) {
	if opts.Port() == 0 {
		return nil, &config.ConfigurationError{Field: "Port", Msg: "server options must be created with config.Builder"}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	id := uuid.NewString()
	s := &EmbeddedServer{
		opts:   opts,
		id:     id,
		logger: logger.With(zap.String("server", id), zap.Int("port", opts.Port())),
	}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	SweepStaleDirectories(opts.BaseDir(), s.logger)

	if err = s.createDirectory(); err != nil {
		return nil, err
	}
	if err = s.unpack(ctx); err != nil {
		return nil, err
	}
	if err = s.initialize(ctx); err != nil {
		return nil, err
	}
	if err = s.spawn(); err != nil {
		return nil, err
	}
	if err = s.waitReady(ctx); err != nil {
		return nil, err
	}

	s.logger.Info("Embedded mysql server started", zap.String("dir", s.dir))
	return s, nil
}

func (s *EmbeddedServer) createDirectory() error {
	if err := os.MkdirAll(s.opts.BaseDir(), 0o750); err != nil {
		return fmt.Errorf("failed to create base directory %q: %w", s.opts.BaseDir(), err)
	}
	dir := filepath.Join(s.opts.BaseDir(), DirPrefix+s.id)
	if err := os.Mkdir(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create working directory %q: %w", dir, err)
	}
	s.dir = dir

	lock := flock.New(filepath.Join(dir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock working directory %q: %w", dir, err)
	}
	if !locked {
		return fmt.Errorf("working directory %q is locked by another process", dir)
	}
	s.lock = lock
	s.logger.Debug("Created working directory", zap.String("dir", dir))
	return nil
}

func (s *EmbeddedServer) mysqldPath() string {
	return filepath.Join(s.dir, "bin", "mysqld")
}

func (s *EmbeddedServer) dataDir() string {
	return filepath.Join(s.dir, dataDirName)
}

func (s *EmbeddedServer) initialize(ctx context.Context) error {
	args := []string{
		"--no-defaults",
		"--initialize-insecure",
		"--innodb-flush-method=nosync",
		"--datadir", s.dataDir(),
	}
	if isRoot() {
		args = append(args, "--user=root")
	}
	s.logger.Debug("Initializing data directory", zap.String("datadir", s.dataDir()))
	return s.runCommand(ctx, "initialize", s.mysqldPath(), args...)
}

func (s *EmbeddedServer) serverArgs() []string {
	args := []string{
		"--no-defaults",
		"--skip-ssl",
		"--skip-mysqlx",
		"--default-time-zone=+00:00",
		"--innodb-flush-method=nosync",
		"--innodb-flush-log-at-trx-commit=0",
		"--innodb-doublewrite=0",
		"--bind-address=localhost",
		"--lc_messages_dir", filepath.Join(s.dir, "share"),
		"--socket", filepath.Join(s.dir, socketFileName),
		"--port", fmt.Sprint(s.opts.Port()),
		"--datadir", s.dataDir(),
	}
	if isRoot() {
		args = append(args, "--user=root")
	}
	return args
}

func (s *EmbeddedServer) spawn() error {
	s.output = s.opts.Output()
	if s.output == nil {
		w := &zapio.Writer{Log: s.logger.Named("mysqld"), Level: zap.DebugLevel}
		s.output, s.sink = w, w
	}

	proc, err := startProcess(s.mysqldPath(), s.serverArgs(), s.dir, s.output)
	if err != nil {
		return &StartupError{Wait: s.opts.StartupWait(), Err: err}
	}
	s.proc = proc
	s.logger.Debug("Spawned mysqld", zap.Int("pid", proc.pid()))
	return nil
}

// waitReady probes the server until it answers, the process dies, the startup
// wait elapses or ctx is cancelled, whichever happens first.
func (s *EmbeddedServer) waitReady(ctx context.Context) error {
	wait := s.opts.StartupWait()
	readyCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	var lastCause error
	probe := func() error {
		err := s.CheckReady(readyCtx)
		if err == nil {
			return nil
		}
		lastCause = readinessCause(readyCtx, lastCause, err)
		if s.proc.hasExited() {
			return backoff.Permanent(&StartupError{Exited: true, ExitCode: s.proc.exitCode(), Wait: wait, Err: err})
		}
		return err
	}

	err := backoff.Retry(probe, backoff.WithContext(backoff.NewConstantBackOff(readinessInterval), readyCtx))
	if err == nil {
		return nil
	}
	var startupErr *StartupError
	if errors.As(err, &startupErr) {
		return startupErr
	}
	if ctx.Err() != nil {
		return fmt.Errorf("waiting for mysqld to start: %w", ctx.Err())
	}
	if lastCause == nil {
		lastCause = err
	}
	return &StartupError{Wait: wait, Err: lastCause}
}

// readinessCause picks the error a failed startup reports. An attempt cut short
// by the expiring wait only says the deadline passed, so an earlier failure wins.
func readinessCause(ctx context.Context, last, err error) error {
	if last != nil && ctx.Err() != nil {
		return last
	}
	return err
}

// CheckReady runs the readiness query as root. It returns nil when the server
// answers with exactly one row holding 42, and may be called any number of
// times.
func (s *EmbeddedServer) CheckReady(ctx context.Context) error {
	connector, err := mysql.NewConnector(s.opts.RootMySQLConfig())
	if err != nil {
		return err
	}
	db := sql.OpenDB(connector)
	defer db.Close()

	rows, err := db.QueryContext(ctx, readinessQuery)
	if err != nil {
		return err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	if len(cols) != 1 {
		return fmt.Errorf("readiness query returned %d columns", len(cols))
	}

	var n int
	var value int64
	for rows.Next() {
		n++
		if err := rows.Scan(&value); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if n != 1 || value != readinessValue {
		return fmt.Errorf("readiness query returned %d rows (value %d)", n, value)
	}
	return nil
}

// Admin opens a root connection pool with no default schema. The caller
// closes it.
func (s *EmbeddedServer) Admin(ctx context.Context) (*sql.DB, error) {
	return connection.Open(ctx, s.opts.RootDSN(), s.logger)
}

// ServerDirectory returns the working directory. It no longer exists after Close.
func (s *EmbeddedServer) ServerDirectory() string { return s.dir }

func (s *EmbeddedServer) Port() int { return s.opts.Port() }

func (s *EmbeddedServer) Options() config.ServerOptions { return s.opts }

func (s *EmbeddedServer) String() string {
	return fmt.Sprintf("mysqld(port=%d, dir=%s)", s.opts.Port(), s.dir)
}

// Close kills mysqld and deletes the working directory. Only the first call
// does anything; problems are logged, never returned.
func (s *EmbeddedServer) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	if s.proc != nil {
		gone, err := s.proc.terminate(s.opts.ShutdownWait())
		if err != nil {
			s.logger.Warn("Failed to kill mysqld", zap.Int("pid", s.proc.pid()), zap.Error(err))
		}
		if !gone {
			s.logger.Warn("mysqld is still running", zap.Int("pid", s.proc.pid()), zap.Duration("waited", s.opts.ShutdownWait()))
		}
		s.proc.release(drainWait)
	}
	if s.sink != nil {
		_ = s.sink.Close()
	}

	if s.lock != nil {
		if err := s.lock.Unlock(); err != nil {
			s.logger.Warn("Failed to release working directory lock", zap.Error(err))
		}
	}
	if s.dir != "" {
		if err := os.RemoveAll(s.dir); err != nil {
			s.logger.Error("Failed to remove working directory", zap.String("dir", s.dir), zap.Error(err))
			return
		}
		s.logger.Debug("Removed working directory", zap.String("dir", s.dir))
	}
}
