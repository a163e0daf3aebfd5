package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of the environment variables read by Builder.FromEnv.
const EnvPrefix = "MYSQLKIT"

// Keys understood by FromEnv, e.g. MYSQLKIT_PAYLOAD_DIR.
const (
	envPayloadDir     = "payload_dir"
	envBaseDir        = "base_dir"
	envStartupWait    = "startup_wait"
	envShutdownWait   = "shutdown_wait"
	envCommandTimeout = "command_timeout"
	envAuthPlugin     = "auth_plugin"
)

// FromEnv overlays settings from MYSQLKIT_* environment variables onto the
// builder. CI systems use it to point every test package at the same payload
// directory or to stretch timeouts on slow runners without code changes.
// Unparseable durations surface as a *ConfigurationError from Build.
func (b *Builder) FromEnv() *Builder {
	return b.fromViper(newEnvViper())
}

func newEnvViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	// MYSQLKIT_AUTH_PLUGIN="" is meaningful: it drops the IDENTIFIED WITH clause.
	v.AllowEmptyEnv(true)
	for _, key := range []string{envPayloadDir, envBaseDir, envStartupWait, envShutdownWait, envCommandTimeout, envAuthPlugin} {
		_ = v.BindEnv(key)
	}
	return v
}

func (b *Builder) fromViper(v *viper.Viper) *Builder {
	if dir := v.GetString(envPayloadDir); dir != "" {
		b.PayloadDir(dir)
	}
	if dir := v.GetString(envBaseDir); dir != "" {
		b.BaseDir(dir)
	}
	if v.IsSet(envAuthPlugin) {
		b.AuthPlugin(v.GetString(envAuthPlugin))
	}
	b.envDuration(v, envStartupWait, &b.startupWait)
	b.envDuration(v, envShutdownWait, &b.shutdownWait)
	b.envDuration(v, envCommandTimeout, &b.commandTimeout)
	return b
}

func (b *Builder) envDuration(v *viper.Viper, key string, dst *time.Duration) {
	raw := v.GetString(key)
	if raw == "" {
		return
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		if b.err == nil {
			name := EnvPrefix + "_" + strings.ToUpper(key)
			b.err = &ConfigurationError{Field: name, Msg: fmt.Sprintf("%s is not a duration: %q", name, raw)}
		}
		return
	}
	*dst = d
}
