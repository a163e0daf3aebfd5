package config

import (
	"io"
	"io/fs"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

const (
	DefaultUsername       = "root"
	DefaultPassword       = ""
	DefaultStartupWait    = 10 * time.Second
	DefaultShutdownWait   = 10 * time.Second
	DefaultCommandTimeout = 30 * time.Second
	DefaultAuthPlugin     = "mysql_native_password"
	DefaultPayloadDir     = "testdata/mysql"

	// Host is the only interface the embedded server binds to.
	Host = "localhost"

	// RootUsername is the superuser created by mysqld --initialize-insecure (no password).
	RootUsername = "root"

	// DefaultConnectionTemplate is expanded by ServerOptions.ConnectionString.
	// Placeholders: {port}, {database}, {user}, {password}.
	DefaultConnectionTemplate = "mysql://localhost:{port}/{database}?user={user}&password={password}" +
		"&tls=false&allowNativePasswords=true&multiStatements=true&parseTime=true"
)

// ServerOptions is the validated, immutable configuration of one embedded MySQL
// server. Obtain one with NewBuilder(...).Build(); the zero value is not usable.
type ServerOptions struct {
	username           string
	password           string
	port               int
	databaseNames      []string
	startupWait        time.Duration
	shutdownWait       time.Duration
	commandTimeout     time.Duration
	connectionTemplate string
	authPlugin         string
	baseDir            string
	payload            fs.FS
	output             io.Writer
}

// Username returns the login provisioned for the test databases.
func (o ServerOptions) Username() string { return o.username }

// Password returns the password of the provisioned login.
func (o ServerOptions) Password() string { return o.password }

// Port returns the TCP port reserved for the server when the options were built.
func (o ServerOptions) Port() int { return o.port }

// DatabaseNames returns a sorted copy of the requested database names.
func (o ServerOptions) DatabaseNames() []string {
	names := make([]string, len(o.databaseNames))
	copy(names, o.databaseNames)
	return names
}

func (o ServerOptions) StartupWait() time.Duration    { return o.startupWait }
func (o ServerOptions) ShutdownWait() time.Duration   { return o.shutdownWait }
func (o ServerOptions) CommandTimeout() time.Duration { return o.commandTimeout }
func (o ServerOptions) ConnectionTemplate() string    { return o.connectionTemplate }

// AuthPlugin returns the authentication plugin used in CREATE USER. Empty means
// the server default.
func (o ServerOptions) AuthPlugin() string { return o.authPlugin }

// BaseDir returns the directory under which working directories are created.
func (o ServerOptions) BaseDir() string { return o.baseDir }

// Payload returns the file system holding the mysql-{platform}.tar.gz archives.
func (o ServerOptions) Payload() fs.FS { return o.payload }

// Output returns the writer receiving raw mysqld output, or nil when the output
// should go to the logger.
func (o ServerOptions) Output() io.Writer { return o.output }

// ConnectionString expands the connection template for database using the
// configured login.
func (o ServerOptions) ConnectionString(database string) string {
	return o.expand(database, o.username, o.password)
}

// RootConnectionString expands the connection template with no database and the
// root superuser. It is what the readiness check and provisioning connect with.
func (o ServerOptions) RootConnectionString() string {
	return o.expand("", RootUsername, "")
}

func (o ServerOptions) expand(database, user, password string) string {
	r := strings.NewReplacer(
		"{port}", strconv.Itoa(o.port),
		"{database}", url.PathEscape(database),
		"{user}", url.QueryEscape(user),
		"{password}", url.QueryEscape(password),
	)
	return r.Replace(o.connectionTemplate)
}

// MySQLConfig returns a go-sql-driver configuration for database using the
// configured login.
func (o ServerOptions) MySQLConfig(database string) *mysql.Config {
	return o.mysqlConfig(database, o.username, o.password)
}

// RootMySQLConfig returns a go-sql-driver configuration for the root superuser
// with no database selected.
func (o ServerOptions) RootMySQLConfig() *mysql.Config {
	return o.mysqlConfig("", RootUsername, "")
}

// DSN returns the go-sql-driver data source name for database.
func (o ServerOptions) DSN(database string) string {
	return o.MySQLConfig(database).FormatDSN()
}

// RootDSN returns the go-sql-driver data source name for the root superuser.
func (o ServerOptions) RootDSN() string {
	return o.RootMySQLConfig().FormatDSN()
}

func (o ServerOptions) mysqlConfig(database, user, password string) *mysql.Config {
	cfg := mysql.NewConfig()
	cfg.User = user
	cfg.Passwd = password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(Host, strconv.Itoa(o.port))
	cfg.DBName = database
	cfg.TLSConfig = "false"
	cfg.AllowNativePasswords = true
	cfg.MultiStatements = true
	cfg.ParseTime = true
	return cfg
}
