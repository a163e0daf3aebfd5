package mysqlkit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"

	_ "github.com/go-sql-driver/mysql" // registers the "mysql" database/sql driver
	"github.com/veiloq/mysqlkit/config"
	"github.com/veiloq/mysqlkit/connection"
	"github.com/veiloq/mysqlkit/db"
	"github.com/veiloq/mysqlkit/internal/cleanup"
	"github.com/veiloq/mysqlkit/internal/logger"
	"go.uber.org/zap"
)

const versionQuery = "SELECT VERSION()"

// ErrClosed is returned by methods called on a closed TestingServer.
var ErrClosed = errors.New("mysqlkit: server is closed")

// TestingServer is an embedded mysqld with the configured login and databases
// provisioned. It satisfies Server.
type TestingServer struct {
	server   *db.EmbeddedServer
	opts     config.ServerOptions
	settings *config.Settings
	version  string
	logger   *zap.Logger
	cleanup  *cleanup.Manager
	closed   atomic.Bool

	mu    sync.Mutex
	pools map[string]*sql.DB
}

var _ Server = (*TestingServer)(nil)

// --- Accessors ---

func (ts *TestingServer) Version() string               { return ts.version }
func (ts *TestingServer) ServerDirectory() string       { return ts.server.ServerDirectory() }
func (ts *TestingServer) Port() int                     { return ts.opts.Port() }
func (ts *TestingServer) Options() config.ServerOptions { return ts.opts }

func (ts *TestingServer) DSN(database string) string { return ts.opts.DSN(database) }
func (ts *TestingServer) RootDSN() string            { return ts.opts.RootDSN() }

func (ts *TestingServer) ConnectionString(database string) string {
	return ts.opts.ConnectionString(database)
}

func (ts *TestingServer) CheckReady(ctx context.Context) error {
	if ts.closed.Load() {
		return ErrClosed
	}
	return ts.server.CheckReady(ctx)
}

// DB returns the cached pool for database, opening it on first use as the
// provisioned login. Only provisioned databases are accepted.
func (ts *TestingServer) DB(ctx context.Context, database string) (*sql.DB, error) {
	if !slices.Contains(ts.opts.DatabaseNames(), database) {
		return nil, fmt.Errorf("mysqlkit: database %q was not provisioned", database)
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.closed.Load() {
		return nil, ErrClosed
	}
	if pool, ok := ts.pools[database]; ok {
		return pool, nil
	}

	dsn := ts.opts.DSN(database)
	pool, err := connection.Open(ctx, dsn, ts.logger)
	if err != nil {
		return nil, err
	}
	ts.pools[database] = pool
	ts.cleanup.Add(func() error {
		ts.mu.Lock()
		defer ts.mu.Unlock()
		p := ts.pools[database]
		delete(ts.pools, database)
		return connection.CloseDB(&p, dsn, ts.logger)()
	})
	return pool, nil
}

// Close closes every pool handed out by DB, stops mysqld and removes its
// working directory. Later calls return nil without doing anything.
func (ts *TestingServer) Close() error {
	// Taken under mu so a concurrent DB call either sees the server closed or
	// has registered its pool before cleanup starts.
	ts.mu.Lock()
	first := ts.closed.CompareAndSwap(false, true)
	ts.mu.Unlock()
	if !first {
		return nil
	}
	return ts.cleanup.Execute()
}

// --- Transaction Runner ---

func executeTestFn(ctx context.Context, fn TxFunc, tx *sql.Tx) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("test panicked: %v", r)
		}
	}()
	return fn(ctx, tx)
}

// RunSQLTx runs fn inside a transaction on database as the provisioned login
// and always rolls the transaction back, so the database is left as it was.
// The error returned by fn (or a recovered panic) is logged and returned; it
// does not fail t.
func (ts *TestingServer) RunSQLTx(ctx context.Context, t testing.TB, database string, fn TxFunc) error {
	t.Helper()

	pool, err := ts.DB(ctx, database)
	if err != nil {
		t.Fatalf("Failed to open database %q: %v", database, err)
	}
	tx, err := pool.BeginTx(ctx, ts.settings.SQLTxOptions())
	if err != nil {
		t.Fatalf("Failed to begin transaction: %v", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			t.Logf("Warning: failed to rollback transaction: %v", rollbackErr)
		}
	}()

	testErr := executeTestFn(ctx, fn, tx)
	if testErr != nil {
		t.Logf("Test function returned error: %v", testErr)
	}
	return testErr
}

// --- Constructor ---

// New starts an embedded mysqld for opts, creates the configured login and
// databases, applies the configured migrator to each database and returns the
// provisioned server.
//
// With a non-nil t, logs go to the test log and Close is registered with
// t.Cleanup. Without one the caller must Close the server.
//
// On failure everything acquired so far is released before the error is
// returned. Errors are *db.PayloadNotFoundError, *db.InitializationError,
// *db.StartupError, *ProvisioningError or a wrapped migrator/hook failure.
func New(ctx context.Context, t testing.TB, opts config.ServerOptions, options ...config.Option) (_ *TestingServer, err error) {
	settings := config.ApplyOptions(options...)

	log, _, err := logger.InitLogger(t, settings)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	ts := &TestingServer{
		opts:     opts,
		settings: settings,
		logger:   log,
		cleanup:  cleanup.NewManager(log),
		pools:    make(map[string]*sql.DB),
	}
	defer func() {
		if err != nil {
			if cleanupErr := ts.Close(); cleanupErr != nil {
				ts.logger.Error("Error during cleanup after setup failure", zap.Error(cleanupErr))
			}
		}
	}()

	// 1. Start the server. Registered first so it is torn down last.
	ts.server, err = db.NewEmbeddedServer(ctx, opts, log)
	if err != nil {
		return nil, err
	}
	server := ts.server
	ts.cleanup.Add(func() error {
		server.Close()
		return nil
	})

	// 2. Create the login and the databases.
	if err = ts.provision(ctx); err != nil {
		return nil, err
	}

	// 3. Migrate and run the hook per database.
	for _, name := range opts.DatabaseNames() {
		if err = ts.prepareDatabase(ctx, name); err != nil {
			return nil, err
		}
	}

	// 4. Automatic cleanup.
	if t != nil {
		t.Cleanup(func() {
			if cleanupErr := ts.Close(); cleanupErr != nil {
				t.Errorf("Error during automatic mysqlkit cleanup: %v", cleanupErr)
			}
		})
	} else {
		ts.logger.Warn("testing.TB was nil; caller MUST call Close() manually (e.g., using defer)")
	}

	ts.logger.Info("mysqlkit initialization successful",
		zap.String("version", ts.version),
		zap.Strings("databases", opts.DatabaseNames()),
		zap.String("dsn", connection.MaskDSN(opts.RootDSN())),
	)
	return ts, nil
}

type provisioningStatement struct {
	sql     string
	display string
}

func (ts *TestingServer) provisioningStatements() []provisioningStatement {
	user, password, plugin := ts.opts.Username(), ts.opts.Password(), ts.opts.AuthPlugin()
	stmts := []provisioningStatement{
		{
			sql:     db.CreateUserStatement(user, password, plugin),
			display: db.CreateUserStatement(user, db.RedactedPassword, plugin),
		},
		{sql: db.GrantAllStatement(user)},
	}
	for _, name := range ts.opts.DatabaseNames() {
		stmts = append(stmts, provisioningStatement{sql: db.CreateDatabaseStatement(name)})
	}
	return stmts
}

// provision runs every provisioning statement as root on a single connection.
func (ts *TestingServer) provision(ctx context.Context) error {
	admin, err := ts.server.Admin(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to embedded mysql as root: %w", err)
	}
	defer admin.Close()

	conn, err := admin.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire root connection: %w", err)
	}
	defer conn.Close()

	if err := conn.QueryRowContext(ctx, versionQuery).Scan(&ts.version); err != nil {
		return &ProvisioningError{Statement: versionQuery, Err: err}
	}
	ts.logger.Debug("Connected to embedded mysql", zap.String("version", ts.version))

	for _, stmt := range ts.provisioningStatements() {
		display := stmt.display
		if display == "" {
			display = stmt.sql
		}
		ts.logger.Debug("Provisioning", zap.String("statement", display))
		if _, err := conn.ExecContext(ctx, stmt.sql); err != nil {
			return &ProvisioningError{Statement: display, Err: err}
		}
	}
	return nil
}

func (ts *TestingServer) prepareDatabase(ctx context.Context, name string) error {
	pool, err := ts.DB(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to connect to database %q: %w", name, err)
	}

	ts.logger.Debug("Applying migrations via configured migrator...", zap.String("database", name))
	if err := ts.settings.Migrator().Apply(ctx, name, pool, ts.logger); err != nil {
		return fmt.Errorf("failed to apply migrations to %q: %w", name, err)
	}

	if hook := ts.settings.AfterProvisionHook(); hook != nil {
		ts.logger.Debug("Running afterProvisionHook...", zap.String("database", name))
		if err := hook(ctx, name, pool, ts.logger); err != nil {
			return fmt.Errorf("afterProvisionHook failed for %q: %w", name, err)
		}
	}
	return nil
}
