package config_test

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veiloq/mysqlkit/config"
)

func TestFromEnv_Overlay(t *testing.T) {
	payloadDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(payloadDir, "mysql-test.tar.gz"), []byte("x"), 0o600))
	baseDir := t.TempDir()

	t.Setenv("MYSQLKIT_PAYLOAD_DIR", payloadDir)
	t.Setenv("MYSQLKIT_BASE_DIR", baseDir)
	t.Setenv("MYSQLKIT_STARTUP_WAIT", "45s")
	t.Setenv("MYSQLKIT_SHUTDOWN_WAIT", "2s")
	t.Setenv("MYSQLKIT_COMMAND_TIMEOUT", "1m")

	opts, err := config.NewBuilder("db").FromEnv().Build()
	require.NoError(t, err)

	assert.Equal(t, baseDir, opts.BaseDir())
	assert.Equal(t, 45*time.Second, opts.StartupWait())
	assert.Equal(t, 2*time.Second, opts.ShutdownWait())
	assert.Equal(t, time.Minute, opts.CommandTimeout())

	_, err = fs.Stat(opts.Payload(), "mysql-test.tar.gz")
	assert.NoError(t, err, "payload FS should point at MYSQLKIT_PAYLOAD_DIR")
}

func TestFromEnv_UnsetKeepsBuilderValues(t *testing.T) {
	t.Setenv("MYSQLKIT_STARTUP_WAIT", "")

	opts, err := config.NewBuilder("db").StartupWait(3 * time.Second).FromEnv().Build()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, opts.StartupWait())
}

func TestFromEnv_LaterSettersWin(t *testing.T) {
	t.Setenv("MYSQLKIT_SHUTDOWN_WAIT", "7s")

	opts, err := config.NewBuilder("db").FromEnv().ShutdownWait(time.Second).Build()
	require.NoError(t, err)
	assert.Equal(t, time.Second, opts.ShutdownWait())
}

func TestFromEnv_InvalidDuration(t *testing.T) {
	t.Setenv("MYSQLKIT_STARTUP_WAIT", "soon")

	_, err := config.NewBuilder("db").FromEnv().Build()
	require.Error(t, err)

	var cfgErr *config.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "MYSQLKIT_STARTUP_WAIT", cfgErr.Field)
	assert.Contains(t, err.Error(), `"soon"`)
}

func TestFromEnv_AuthPlugin(t *testing.T) {
	t.Setenv("MYSQLKIT_AUTH_PLUGIN", "caching_sha2_password")
	opts, err := config.NewBuilder("db").FromEnv().Build()
	require.NoError(t, err)
	assert.Equal(t, "caching_sha2_password", opts.AuthPlugin())

	t.Setenv("MYSQLKIT_AUTH_PLUGIN", "")
	opts, err = config.NewBuilder("db").FromEnv().Build()
	require.NoError(t, err)
	assert.Equal(t, "", opts.AuthPlugin(), "an empty value leaves the plugin to the server")
}

func TestFromEnv_AuthPluginRejectsStatements(t *testing.T) {
	t.Setenv("MYSQLKIT_AUTH_PLUGIN", "sha256_password; DROP DATABASE mysql")

	_, err := config.NewBuilder("db").FromEnv().Build()
	var cfgErr *config.ConfigurationError
	require.True(t, errors.As(err, &cfgErr), "expected *ConfigurationError, got %v", err)
	assert.Equal(t, "AuthPlugin", cfgErr.Field)
}

func TestFromEnv_AuthPluginUnset(t *testing.T) {
	t.Setenv("MYSQLKIT_AUTH_PLUGIN", "restored-after-test")
	require.NoError(t, os.Unsetenv("MYSQLKIT_AUTH_PLUGIN"))

	opts, err := config.NewBuilder("db").FromEnv().Build()
	require.NoError(t, err)
	assert.Equal(t, config.DefaultAuthPlugin, opts.AuthPlugin())
}
