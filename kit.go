package mysqlkit

import (
	"context"
	"database/sql"
	"io"
	"testing"

	"github.com/veiloq/mysqlkit/config"
)

// TxFunc is a test body run inside a transaction that is always rolled back.
type TxFunc func(ctx context.Context, tx *sql.Tx) error

// Server is a running, provisioned MySQL instance dedicated to one test run.
type Server interface {
	// Close stops mysqld and removes every file it wrote. It is safe to call
	// more than once.
	io.Closer
	// Version returns the engine version string reported by SELECT VERSION().
	Version() string
	// ServerDirectory returns the working directory holding the binaries and data.
	ServerDirectory() string
	// Port returns the TCP port mysqld listens on.
	Port() int
	// Options returns the options the server was built with.
	Options() config.ServerOptions
	// DSN returns a go-sql-driver DSN for database using the provisioned login.
	DSN(database string) string
	// RootDSN returns a go-sql-driver DSN for the root superuser.
	RootDSN() string
	// ConnectionString expands the configured connection template for database.
	ConnectionString(database string) string
	// CheckReady reports whether the server still answers queries.
	CheckReady(ctx context.Context) error
	// DB returns a pool connected to database. Pools are cached and closed by Close.
	DB(ctx context.Context, database string) (*sql.DB, error)
	// RunSQLTx runs fn in a transaction on database and rolls it back afterwards.
	RunSQLTx(ctx context.Context, t testing.TB, database string, fn TxFunc) error
}
