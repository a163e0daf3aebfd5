package config

import (
	"context"
	"database/sql"

	"github.com/veiloq/mysqlkit/migration"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultAtlasHCLPath is where WithAtlas looks for its configuration unless
// WithAtlasHCLPath says otherwise.
const DefaultAtlasHCLPath = "atlas.hcl"

// AfterProvisionHook runs once per provisioned database, after the migrator, with
// a pool connected as the provisioned login.
type AfterProvisionHook func(ctx context.Context, database string, db *sql.DB, logger *zap.Logger) error

// Settings holds kit behaviour configured via functional options. Unlike
// ServerOptions it does not describe the server itself.
type Settings struct {
	atlasHCLPath       string
	migrator           migration.Migrator
	sqlTxOptions       *sql.TxOptions
	zapOptions         []zap.Option
	zapTestLevel       *zap.AtomicLevel
	afterProvisionHook AfterProvisionHook
}

// --- Getters ---

func (sts *Settings) AtlasHCLPath() string {
	return sts.atlasHCLPath
}

func (sts *Settings) Migrator() migration.Migrator {
	return sts.migrator
}

func (sts *Settings) SQLTxOptions() *sql.TxOptions {
	return sts.sqlTxOptions
}

func (sts *Settings) ZapOptions() []zap.Option {
	return sts.zapOptions
}

func (sts *Settings) ZapTestLevel() *zap.AtomicLevel {
	return sts.zapTestLevel
}

func (sts *Settings) AfterProvisionHook() AfterProvisionHook {
	return sts.afterProvisionHook
}

// --- Setters ---

func (sts *Settings) SetMigrator(m migration.Migrator) {
	sts.migrator = m
}

// Option configures a TestingServer.
type Option func(*Settings)

// WithAtlasHCLPath specifies the path to the atlas.hcl configuration file.
// Must precede atlas.WithAtlas in the option list.
func WithAtlasHCLPath(path string) Option {
	return func(sts *Settings) { sts.atlasHCLPath = path }
}

// WithMigrator applies m to every provisioned database.
func WithMigrator(m migration.Migrator) Option {
	return func(sts *Settings) { sts.migrator = m }
}

// WithSQLTxOptions provides custom transaction options for RunSQLTx.
func WithSQLTxOptions(txOpts *sql.TxOptions) Option {
	return func(sts *Settings) { sts.sqlTxOptions = txOpts }
}

// WithZapOptions provides additional options for the zap logger.
func WithZapOptions(zapOpts ...zap.Option) Option {
	return func(sts *Settings) { sts.zapOptions = append(sts.zapOptions, zapOpts...) }
}

// WithZapTestLevel sets the minimum log level of the zaptest logger.
func WithZapTestLevel(level zapcore.Level) Option {
	return func(sts *Settings) {
		atomicLevel := zap.NewAtomicLevelAt(level)
		sts.zapTestLevel = &atomicLevel
	}
}

// WithAfterProvisionHook registers a function to run for each database after it
// has been created and migrated.
func WithAfterProvisionHook(hook AfterProvisionHook) Option {
	return func(sts *Settings) { sts.afterProvisionHook = hook }
}

// ApplyOptions returns Settings with defaults overridden by options in order.
func ApplyOptions(options ...Option) *Settings {
	settings := &Settings{
		atlasHCLPath: DefaultAtlasHCLPath,
		migrator:     &migration.NoOpMigrator{},
		zapOptions:   make([]zap.Option, 0),
	}
	for _, opt := range options {
		if opt != nil {
			opt(settings)
		}
	}
	return settings
}
