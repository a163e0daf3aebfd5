package atlas

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"ariga.io/atlas/sql/migrate"
	"ariga.io/atlas/sql/mysql"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"go.uber.org/zap"
)

// applyTimeout bounds driver setup plus execution for one database.
const applyTimeout = 90 * time.Second

// AtlasMigrator applies a local Atlas migration directory to MySQL databases.
// The directory is resolved from atlas.hcl once, on first use.
type AtlasMigrator struct {
	hclPath    string
	logger     *zap.Logger
	initOnce   sync.Once
	migrateDir migrate.Dir
	dirPath    string
	dirURL     string
	initErr    error // first critical initialization error
}

// NewAtlasMigrator creates a migrator reading hclPath. Nothing is read until
// Apply is called.
func NewAtlasMigrator(hclPath string, logger *zap.Logger) *AtlasMigrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AtlasMigrator{
		hclPath: hclPath,
		logger:  logger.With(zap.String("migrator", "atlas")),
	}
}

func (am *AtlasMigrator) init() {
	am.initOnce.Do(func() {
		am.migrateDir, am.dirPath, am.dirURL = am.initializeMigrator()
		switch {
		case am.initErr != nil:
			am.logger.Warn("Atlas migrator initialization failed. Apply will be skipped.", zap.Error(am.initErr))
		case am.migrateDir == nil:
			am.logger.Info("Atlas migrator found no migration directory. Apply will be skipped.")
		default:
			am.logger.Info("Atlas migrator initialized.", zap.String("migration_dir", am.dirPath), zap.String("migration_url", am.dirURL))
		}
	})
}

// Apply executes all pending migrations against database through db. A
// missing atlas.hcl or migration directory is not an error; migrations are
// simply skipped.
func (am *AtlasMigrator) Apply(ctx context.Context, database string, db *sql.DB, logger *zap.Logger) error {
	am.init()
	if am.initErr != nil {
		logger.Warn("Migrations skipped due to Atlas initialization error.", zap.Error(am.initErr))
		return nil
	}
	if am.migrateDir == nil {
		logger.Warn("Migrations skipped: Atlas migration directory is missing or could not be resolved.")
		return nil
	}

	logger.Info("Applying Atlas migrations...", zap.String("database", database), zap.String("source_dir", am.dirPath))

	applyCtx, cancel := context.WithTimeout(ctx, applyTimeout)
	defer cancel()

	drv, err := mysql.Open(db)
	if err != nil {
		logger.Error("Failed to open Atlas driver", zap.String("database", database), zap.Error(err))
		return fmt.Errorf("failed to open atlas mysql driver for %q: %w", database, err)
	}

	if err := am.executeMigrations(applyCtx, drv, database, logger); err != nil {
		return fmt.Errorf("failed to apply Atlas migrations to database %q from %q: %w", database, am.dirPath, err)
	}
	return nil
}

// recordInitError logs err and keeps it as initErr if it is the first one.
func (am *AtlasMigrator) recordInitError(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf(format+": %w", append(args, err)...)
	am.logger.Error("Atlas initialization error", zap.Error(wrapped))
	if am.initErr == nil {
		am.initErr = wrapped
	}
	return wrapped
}

// initializeMigrator parses atlas.hcl and opens the migration directory it
// names.
func (am *AtlasMigrator) initializeMigrator() (migrate.Dir, string, string) {
	absHCLPath, err := filepath.Abs(am.hclPath)
	if am.recordInitError(err, "failed to determine absolute path for atlas HCL file %q", am.hclPath) != nil {
		return nil, "", ""
	}

	if _, statErr := os.Stat(absHCLPath); statErr != nil {
		if os.IsNotExist(statErr) {
			am.logger.Info("Atlas HCL file not found, skipping Atlas migrations.", zap.String("path", absHCLPath))
			return nil, "", ""
		}
		_ = am.recordInitError(statErr, "failed to stat atlas HCL file %q", absHCLPath)
		return nil, "", ""
	}

	var atlasConf atlasConfigHCL
	err = hclsimple.DecodeFile(absHCLPath, nil, &atlasConf)
	if am.recordInitError(err, "failed to decode atlas HCL file %q", absHCLPath) != nil {
		return nil, "", ""
	}

	migrationDirRel, found := findMigrationDirInHCL(&atlasConf, absHCLPath, am.logger)
	if !found {
		return nil, "", ""
	}

	hclDir := filepath.Dir(absHCLPath)
	relativePath := strings.TrimPrefix(migrationDirRel, "file://")
	absMigrationDir := relativePath
	if !filepath.IsAbs(relativePath) {
		absMigrationDir = filepath.Join(hclDir, relativePath)
	}

	dir, err := migrate.NewLocalDir(absMigrationDir)
	if am.recordInitError(err, "failed to open migration dir %q", absMigrationDir) != nil {
		return nil, absMigrationDir, ""
	}

	migrationURL := "file://" + filepath.ToSlash(absMigrationDir)
	return dir, absMigrationDir, migrationURL
}

// findMigrationDirInHCL prefers the "local" env and falls back to the first.
func findMigrationDirInHCL(atlasConf *atlasConfigHCL, hclPath string, logger *zap.Logger) (string, bool) {
	for _, env := range atlasConf.Envs {
		if env.Name == "local" && env.Migration != nil && env.Migration.Dir != "" {
			return env.Migration.Dir, true
		}
	}
	if len(atlasConf.Envs) > 0 && atlasConf.Envs[0].Migration != nil && atlasConf.Envs[0].Migration.Dir != "" {
		env := atlasConf.Envs[0]
		logger.Warn("Atlas 'local' env not found or missing migration dir. Falling back to first env.",
			zap.String("hcl_path", hclPath),
			zap.String("fallback_env", env.Name),
			zap.String("dir", env.Migration.Dir))
		return env.Migration.Dir, true
	}

	logger.Warn("Could not find migration directory definition (env.migration.dir) in atlas config", zap.String("hcl_path", hclPath))
	return "", false
}

func (am *AtlasMigrator) executeMigrations(ctx context.Context, drv migrate.Driver, database string, logger *zap.Logger) error {
	log := logger.With(zap.String("database", database))
	exec, err := migrate.NewExecutor(drv, am.migrateDir, migrate.NopRevisionReadWriter{}, migrate.WithLogger(&zapMigrateLogger{logger: log}))
	if err != nil {
		return fmt.Errorf("failed to create atlas executor: %w", err)
	}

	// n=0 executes every pending file.
	if err := exec.ExecuteN(ctx, 0); err != nil {
		if errors.Is(err, migrate.ErrNoPendingFiles) {
			log.Info("No pending Atlas migrations to apply.")
			return nil
		}
		log.Error("Failed to apply Atlas migrations", zap.String("source_dir", am.dirPath), zap.Error(err))
		return err
	}

	log.Info("Successfully applied Atlas migrations")
	return nil
}

// --- HCL Parsing Structs ---

// atlasConfigHCL is the subset of atlas.hcl this package understands. Other
// attributes are kept in Remain so real project files decode.
type atlasConfigHCL struct {
	Envs   []*atlasEnvHCL `hcl:"env,block"`
	Remain hcl.Body       `hcl:",remain"`
}

type atlasEnvHCL struct {
	Name      string             `hcl:"name,label"`
	Migration *atlasMigrationHCL `hcl:"migration,block"`
	Remain    hcl.Body           `hcl:",remain"`
}

type atlasMigrationHCL struct {
	Dir    string   `hcl:"dir"`
	Remain hcl.Body `hcl:",remain"`
}

// zapMigrateLogger adapts a *zap.Logger to migrate.Logger.
type zapMigrateLogger struct {
	logger *zap.Logger
}

func (l *zapMigrateLogger) Log(entry migrate.LogEntry) {
	switch e := entry.(type) {
	case migrate.LogExecution:
		l.logger.Info("Atlas migration execution starting",
			zap.String("from_version", e.From),
			zap.String("to_version", e.To),
			zap.Int("num_files", len(e.Files)),
		)
	case migrate.LogFile:
		l.logger.Info("Applying migration file", zap.String("file", e.File.Name()), zap.Int("skip_stmts", e.Skip))
	case migrate.LogStmt:
		l.logger.Debug("Executing statement", zap.String("sql", e.SQL))
	case migrate.LogError:
		l.logger.Error("Atlas migration error", zap.String("sql", e.SQL), zap.Error(e.Error))
	case migrate.LogDone:
		l.logger.Info("Atlas migration execution finished")
	default:
		l.logger.Debug("Atlas log entry", zap.Any("entry", entry))
	}
}
