// Package connection opens, verifies and closes the database/sql pools
// mysqlkit hands out, and reserves the ephemeral port the server listens on.
package connection

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/veiloq/mysqlkit/internal/cleanup"
	"go.uber.org/zap"
)

// DriverName is the database/sql driver every pool is opened with.
const DriverName = "mysql"

// PingTimeout bounds the connectivity check performed by Open.
const PingTimeout = 5 * time.Second

// Open opens a pool for dsn and pings it. On ping failure the pool is closed
// before returning.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*sql.DB, error) {
	dbName := GetDBNameFromDSN(dsn)
	logger.Debug("Connecting to database", zap.String("database", dbName), zap.String("dsn", MaskDSN(dsn)))

	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection to database %q: %w", dbName, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, PingTimeout)
	defer cancel()
	if err = db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database %q: %w", dbName, err)
	}
	logger.Debug("Connected to database", zap.String("database", dbName))
	return db, nil
}

// CloseDB returns a cleanup function closing *dbPtr. The pointer is cleared on
// success so a second run is a no-op. dsn is only used for log context.
func CloseDB(dbPtr **sql.DB, dsn string, logger *zap.Logger) cleanup.Func {
	return func() error {
		db := *dbPtr
		if db == nil {
			logger.Debug("sql.DB already closed or never opened.")
			return nil
		}
		dbName := GetDBNameFromDSN(dsn)
		logger.Debug("Closing sql.DB", zap.String("database", dbName))
		if err := db.Close(); err != nil {
			logger.Error("Error closing sql.DB", zap.String("database", dbName), zap.Error(err))
			return fmt.Errorf("error closing sql.DB (%s): %w", dbName, err)
		}
		*dbPtr = nil
		return nil
	}
}

// GetDBNameFromDSN extracts the schema name from a go-sql-driver DSN such as
// "user:pass@tcp(localhost:3306)/dbname?parseTime=true". It returns "unknown"
// for unparseable DSNs and "" when no schema is selected.
func GetDBNameFromDSN(dsn string) string {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "unknown"
	}
	return cfg.DBName
}

// MaskDSN returns dsn with its password replaced, for logging.
func MaskDSN(dsn string) string {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "***"
	}
	if cfg.Passwd != "" {
		cfg.Passwd = "****"
	}
	return cfg.FormatDSN()
}
