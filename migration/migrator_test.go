package migration_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/veiloq/mysqlkit/migration"
)

func TestNoOpMigrator(t *testing.T) {
	var m migration.Migrator = &migration.NoOpMigrator{}
	assert.NoError(t, m.Apply(context.Background(), "db1", nil, zaptest.NewLogger(t)))
}

func TestFunc(t *testing.T) {
	boom := errors.New("boom")
	var got string
	var m migration.Migrator = migration.Func(func(ctx context.Context, database string, db *sql.DB, logger *zap.Logger) error {
		got = database
		return boom
	})

	err := m.Apply(context.Background(), "orders", nil, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "orders", got)
}
