// Package migration defines how mysqlkit brings freshly provisioned databases
// to a known schema. Implementations (Atlas, hand-written scripts) plug in via
// config.WithMigrator or atlas.WithAtlas.
package migration

import (
	"context"
	"database/sql"

	"go.uber.org/zap"
)

// Migrator applies schema migrations to one database.
type Migrator interface {
	// Apply migrates database, reachable through db (a pool whose default
	// schema is database). Implementations respect ctx for cancellation and
	// log through logger.
	Apply(ctx context.Context, database string, db *sql.DB, logger *zap.Logger) error
}

// NoOpMigrator leaves databases empty. It is the default.
type NoOpMigrator struct{}

func (m *NoOpMigrator) Apply(ctx context.Context, database string, db *sql.DB, logger *zap.Logger) error {
	logger.Debug("Migration skipped (NoOpMigrator).", zap.String("database", database))
	return nil
}

// Func adapts an ordinary function to Migrator.
type Func func(ctx context.Context, database string, db *sql.DB, logger *zap.Logger) error

func (f Func) Apply(ctx context.Context, database string, db *sql.DB, logger *zap.Logger) error {
	return f(ctx, database, db, logger)
}
